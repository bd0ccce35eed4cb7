// Copyright (c) 2026 Loop Server. All rights reserved.

package kvstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// addTxRetries bounds the optimistic-transaction retry loop in Add. WATCH
// aborts when a concurrent writer touches a watched uniqueness key; a few
// retries are enough because the contention window is a single MULTI/EXEC.
const addTxRetries = 3

// redisEnvelope is the stored form of one record: the document itself plus
// the uniqueness index keys created for it, so Delete and Drop can clean the
// indexes without knowing the constraint declaration.
type redisEnvelope struct {
	Doc  json.RawMessage   `json:"doc"`
	Uniq map[string]string `json:"uniq,omitempty"`
}

// Redis is the go-redis [Store] engine.
//
// Layout per collection, under the "loop:<collection>" prefix:
//
//	:seq          INCR counter assigning record ids
//	:ids          SET of live record ids
//	:rec:<id>     JSON envelope of one record
//	:uniq:<f>:<h> uniqueness index entry (field name + value hash -> id)
//
// Add resolves the check-and-insert race with WATCH on the uniqueness keys:
// the MULTI/EXEC aborts if a concurrent writer claims one of them first.
type Redis[T any] struct {
	client *redis.Client
	prefix string
}

// NewRedis creates the engine for one collection.
func NewRedis[T any](client *redis.Client, collection string) *Redis[T] {
	return &Redis[T]{client: client, prefix: "loop:" + collection}
}

func (s *Redis[T]) seqKey() string          { return s.prefix + ":seq" }
func (s *Redis[T]) idsKey() string          { return s.prefix + ":ids" }
func (s *Redis[T]) recKey(id int64) string  { return s.prefix + ":rec:" + strconv.FormatInt(id, 10) }
func (s *Redis[T]) uniqKey(field string, value any) (string, error) {
	valueJSON, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("kvstore: unique field %s not serializable: %w", field, err)
	}
	sum := sha256.Sum256(valueJSON)
	return s.prefix + ":uniq:" + field + ":" + hex.EncodeToString(sum[:8]), nil
}

// EnsureSchema verifies the backend is reachable. Redis collections need no
// provisioning beyond that.
func (s *Redis[T]) EnsureSchema(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSchema, s.prefix, err)
	}
	return nil
}

// Add implements [Store].
func (s *Redis[T]) Add(ctx context.Context, record T, uniqueFields ...string) error {
	raw, fields, err := encodeDocument(record)
	if err != nil {
		return err
	}

	uniqKeys := map[string]string{}
	watched := make([]string, 0, len(uniqueFields))
	for _, field := range uniqueFields {
		value, present := fields[field]
		if !present {
			continue
		}
		key, err := s.uniqKey(field, value)
		if err != nil {
			return err
		}
		uniqKeys[field] = key
		watched = append(watched, key)
	}

	envelope, err := json.Marshal(redisEnvelope{Doc: raw, Uniq: uniqKeys})
	if err != nil {
		return fmt.Errorf("kvstore: envelope not serializable: %w", err)
	}

	transaction := func(tx *redis.Tx) error {
		if len(watched) > 0 {
			taken, err := tx.Exists(ctx, watched...).Result()
			if err != nil {
				return err
			}
			if taken > 0 {
				return fmt.Errorf("%w: %s", ErrDuplicateKey, s.prefix)
			}
		}

		id, err := tx.Incr(ctx, s.seqKey()).Result()
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.recKey(id), envelope, 0)
			pipe.SAdd(ctx, s.idsKey(), id)
			for _, key := range uniqKeys {
				pipe.Set(ctx, key, id, 0)
			}
			return nil
		})
		return err
	}

	for attempt := 0; attempt < addTxRetries; attempt++ {
		err := s.client.Watch(ctx, transaction, watched...)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrDuplicateKey) {
			return err
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	// A watched key changed on every attempt; treat it as lost to the
	// concurrent claimant.
	return fmt.Errorf("%w: %s", ErrDuplicateKey, s.prefix)
}

// Update implements [Store].
func (s *Redis[T]) Update(ctx context.Context, match Query, record T) (int, error) {
	raw, _, err := encodeDocument(record)
	if err != nil {
		return 0, err
	}
	return s.updateMatching(ctx, match, raw)
}

// UpdateOrCreate implements [Store].
func (s *Redis[T]) UpdateOrCreate(ctx context.Context, match Query, record T) error {
	raw, _, err := encodeDocument(record)
	if err != nil {
		return err
	}

	updated, err := s.updateMatching(ctx, match, raw)
	if err != nil {
		return err
	}
	if updated > 0 {
		return nil
	}
	return s.Add(ctx, record)
}

// updateMatching replaces every matching record inside one optimistic
// transaction and reports how many matched. Watching the id set makes the
// EXEC abort when a concurrent Delete lands between the read and the write,
// because Delete always removes from that set; the retry then re-reads and
// sees the record gone instead of writing it back.
func (s *Redis[T]) updateMatching(ctx context.Context, match Query, raw json.RawMessage) (int, error) {
	type write struct {
		id       int64
		envelope []byte
	}

	count := 0
	transaction := func(tx *redis.Tx) error {
		stored, err := s.load(ctx, tx)
		if err != nil {
			return err
		}

		writes := make([]write, 0)
		for _, entry := range stored {
			ok, err := matches(entry.fields, match)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			envelope, err := json.Marshal(redisEnvelope{Doc: raw, Uniq: entry.envelope.Uniq})
			if err != nil {
				return err
			}
			writes = append(writes, write{id: entry.id, envelope: envelope})
		}

		count = len(writes)
		if count == 0 {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, w := range writes {
				pipe.Set(ctx, s.recKey(w.id), w.envelope, 0)
			}
			return nil
		})
		return err
	}

	for attempt := 0; attempt < addTxRetries; attempt++ {
		err := s.client.Watch(ctx, transaction, s.idsKey())
		if err == nil {
			return count, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, ErrUnavailable) {
			return 0, err
		}
		return 0, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return 0, fmt.Errorf("%w: %s: transaction retries exhausted", ErrUnavailable, s.prefix)
}

// Find implements [Store].
func (s *Redis[T]) Find(ctx context.Context, query Query) ([]T, error) {
	stored, err := s.load(ctx, s.client)
	if err != nil {
		return nil, err
	}

	results := make([]T, 0)
	for _, entry := range stored {
		ok, err := matches(entry.fields, query)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		record, err := decodeDocument[T](entry.envelope.Doc)
		if err != nil {
			return nil, err
		}
		results = append(results, record)
	}
	return results, nil
}

// FindOne implements [Store].
func (s *Redis[T]) FindOne(ctx context.Context, query Query) (*T, error) {
	records, err := s.Find(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

// Delete implements [Store].
func (s *Redis[T]) Delete(ctx context.Context, query Query) (int, error) {
	stored, err := s.load(ctx, s.client)
	if err != nil {
		return 0, err
	}

	removed := 0
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, entry := range stored {
			ok, err := matches(entry.fields, query)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			pipe.Del(ctx, s.recKey(entry.id))
			pipe.SRem(ctx, s.idsKey(), entry.id)
			for _, key := range entry.envelope.Uniq {
				pipe.Del(ctx, key)
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return removed, nil
}

// Drop implements [Store].
func (s *Redis[T]) Drop(ctx context.Context) error {
	stored, err := s.load(ctx, s.client)
	if err != nil {
		return err
	}

	keys := []string{s.idsKey(), s.seqKey()}
	for _, entry := range stored {
		keys = append(keys, s.recKey(entry.id))
		for _, key := range entry.envelope.Uniq {
			keys = append(keys, key)
		}
	}

	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

// redisEntry is one loaded record with its decoded field map.
type redisEntry struct {
	id       int64
	envelope redisEnvelope
	fields   map[string]any
}

// load fetches every live record in insertion (id) order. It reads through
// client so callers inside a WATCH transaction see transaction-scoped reads.
func (s *Redis[T]) load(ctx context.Context, client redis.Cmdable) ([]redisEntry, error) {
	members, err := client.SMembers(ctx, s.idsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	ids := make([]int64, 0, len(members))
	for _, member := range members {
		id, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("kvstore: corrupt id set entry %q", member)
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.recKey(id)
	}

	values, err := client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	entries := make([]redisEntry, 0, len(values))
	for i, value := range values {
		text, ok := value.(string)
		if !ok {
			// Record expired or deleted between SMEMBERS and MGET.
			continue
		}
		var envelope redisEnvelope
		if err := json.Unmarshal([]byte(text), &envelope); err != nil {
			return nil, fmt.Errorf("kvstore: corrupt envelope at %s: %w", keys[i], err)
		}
		fields := map[string]any{}
		if err := json.Unmarshal(envelope.Doc, &fields); err != nil {
			return nil, fmt.Errorf("kvstore: corrupt document at %s: %w", keys[i], err)
		}
		entries = append(entries, redisEntry{id: ids[i], envelope: envelope, fields: fields})
	}

	return entries, nil
}
