// Copyright (c) 2026 Loop Server. All rights reserved.

package kvstore

import (
	"context"
	"fmt"
	"reflect"
	"sync"
)

// memoryDoc is one stored record plus the bookkeeping the contract needs.
type memoryDoc struct {
	raw    []byte
	fields map[string]any
	unique []string
}

// Memory is the in-process [Store] engine.
//
// It exists for tests and local development: a mutex around a slice gives the
// same per-record atomicity the real engines provide through conditional
// writes. Insertion order is preserved for Find.
type Memory[T any] struct {
	mu         sync.RWMutex
	collection string
	docs       []*memoryDoc
}

// NewMemory creates an empty in-memory collection.
func NewMemory[T any](collection string) *Memory[T] {
	return &Memory[T]{collection: collection}
}

// EnsureSchema is a no-op: the collection is ready the moment it exists.
func (s *Memory[T]) EnsureSchema(ctx context.Context) error {
	return nil
}

// Add implements [Store].
func (s *Memory[T]) Add(ctx context.Context, record T, uniqueFields ...string) error {
	raw, fields, err := encodeDocument(record)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, field := range uniqueFields {
		value, present := fields[field]
		if !present {
			continue
		}
		for _, doc := range s.docs {
			stored, hasField := doc.fields[field]
			if hasField && deepEqualJSON(stored, value) {
				return fmt.Errorf("%w: %s.%s", ErrDuplicateKey, s.collection, field)
			}
		}
	}

	s.docs = append(s.docs, &memoryDoc{raw: raw, fields: fields, unique: uniqueFields})
	return nil
}

// Update implements [Store].
func (s *Memory[T]) Update(ctx context.Context, match Query, record T) (int, error) {
	raw, fields, err := encodeDocument(record)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.replaceMatching(match, raw, fields)
}

// UpdateOrCreate implements [Store].
func (s *Memory[T]) UpdateOrCreate(ctx context.Context, match Query, record T) error {
	raw, fields, err := encodeDocument(record)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	updated, err := s.replaceMatching(match, raw, fields)
	if err != nil {
		return err
	}
	if updated == 0 {
		s.docs = append(s.docs, &memoryDoc{raw: raw, fields: fields})
	}
	return nil
}

// replaceMatching evaluates the whole match set before touching any record,
// so a predicate error leaves the collection unchanged. Caller holds mu.
func (s *Memory[T]) replaceMatching(match Query, raw []byte, fields map[string]any) (int, error) {
	matched := make([]*memoryDoc, 0)
	for _, doc := range s.docs {
		ok, err := matches(doc.fields, match)
		if err != nil {
			return 0, err
		}
		if ok {
			matched = append(matched, doc)
		}
	}
	for _, doc := range matched {
		doc.raw, doc.fields = raw, fields
	}
	return len(matched), nil
}

// Find implements [Store].
func (s *Memory[T]) Find(ctx context.Context, query Query) ([]T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]T, 0)
	for _, doc := range s.docs {
		ok, err := matches(doc.fields, query)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		record, err := decodeDocument[T](doc.raw)
		if err != nil {
			return nil, err
		}
		results = append(results, record)
	}
	return results, nil
}

// FindOne implements [Store].
func (s *Memory[T]) FindOne(ctx context.Context, query Query) (*T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, doc := range s.docs {
		ok, err := matches(doc.fields, query)
		if err != nil {
			return nil, err
		}
		if ok {
			record, err := decodeDocument[T](doc.raw)
			if err != nil {
				return nil, err
			}
			return &record, nil
		}
	}
	return nil, nil
}

// Delete implements [Store].
func (s *Memory[T]) Delete(ctx context.Context, query Query) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Evaluate the whole match set first; a predicate error must not leave
	// the collection half filtered.
	doomed := make([]bool, len(s.docs))
	removed := 0
	for i, doc := range s.docs {
		ok, err := matches(doc.fields, query)
		if err != nil {
			return 0, err
		}
		if ok {
			doomed[i] = true
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}

	kept := make([]*memoryDoc, 0, len(s.docs)-removed)
	for i, doc := range s.docs {
		if !doomed[i] {
			kept = append(kept, doc)
		}
	}
	s.docs = kept
	return removed, nil
}

// Drop implements [Store].
func (s *Memory[T]) Drop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = nil
	return nil
}

// deepEqualJSON compares two already-JSON-normalized values.
func deepEqualJSON(a, b any) bool {
	normalizedA, errA := normalizeValue(a)
	normalizedB, errB := normalizeValue(b)
	if errA != nil || errB != nil {
		return false
	}
	return reflect.DeepEqual(normalizedA, normalizedB)
}
