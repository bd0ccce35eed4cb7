// Copyright (c) 2026 Loop Server. All rights reserved.

package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// collectionNameRe restricts collection names to identifier-safe characters,
// since they are interpolated into DDL.
var collectionNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Postgres is the jsonb-document [Store] engine.
//
// Each collection lives in its own table:
//
//	CREATE TABLE loop_<collection> (
//	    id   BIGSERIAL PRIMARY KEY,
//	    doc  JSONB NOT NULL,
//	    uniq TEXT[] NOT NULL DEFAULT '{}'
//	)
//
// Equality queries run server-side via jsonb containment (doc @> query).
// Uniqueness is enforced by serializing Add and UpdateOrCreate per collection
// with a transaction-scoped advisory lock, which makes the check-and-insert
// pair atomic without an application-level mutex.
type Postgres[T any] struct {
	pool     *pgxpool.Pool
	table    string
	attempts int
	backoff  time.Duration
}

// NewPostgres creates the engine for one collection.
//
// attempts and backoff bound the EnsureSchema readiness loop; zero values
// fall back to 8 × 50ms.
func NewPostgres[T any](pool *pgxpool.Pool, collection string, attempts int, backoff time.Duration) *Postgres[T] {
	if !collectionNameRe.MatchString(collection) {
		panic("kvstore: invalid collection name: " + collection)
	}
	if attempts <= 0 {
		attempts = 8
	}
	if backoff <= 0 {
		backoff = 50 * time.Millisecond
	}
	return &Postgres[T]{
		pool:     pool,
		table:    "loop_" + collection,
		attempts: attempts,
		backoff:  backoff,
	}
}

// EnsureSchema provisions the collection table and waits until it is ready.
//
// # Retry State Machine
//
// Each attempt issues the idempotent DDL and then probes readiness with
// to_regclass. A failed attempt sleeps the fixed backoff and tries again;
// exhausting the attempt budget terminates with [ErrSchema].
func (s *Postgres[T]) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (
			id   BIGSERIAL PRIMARY KEY,
			doc  JSONB NOT NULL,
			uniq TEXT[] NOT NULL DEFAULT '{}'
		)`, s.table)

	var lastErr error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(s.backoff):
			case <-ctx.Done():
				return fmt.Errorf("%w: %s: %w", ErrSchema, s.table, ctx.Err())
			}
		}

		if _, err := s.pool.Exec(ctx, ddl); err != nil {
			lastErr = err
			continue
		}

		var ready *string
		if err := s.pool.QueryRow(ctx, `SELECT to_regclass($1)::text`, s.table).Scan(&ready); err != nil {
			lastErr = err
			continue
		}
		if ready == nil {
			lastErr = fmt.Errorf("table %s not visible yet", s.table)
			continue
		}

		return nil
	}

	return fmt.Errorf("%w: %s after %d attempts: %w", ErrSchema, s.table, s.attempts, lastErr)
}

// Add implements [Store].
func (s *Postgres[T]) Add(ctx context.Context, record T, uniqueFields ...string) error {
	raw, fields, err := encodeDocument(record)
	if err != nil {
		return err
	}

	return s.withCollectionLock(ctx, func(tx pgx.Tx) error {
		for _, field := range uniqueFields {
			value, present := fields[field]
			if !present {
				continue
			}
			valueJSON, err := json.Marshal(value)
			if err != nil {
				return fmt.Errorf("kvstore: unique field %s not serializable: %w", field, err)
			}

			var exists bool
			probe := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE doc->$1 = $2::jsonb)`, s.table)
			if err := tx.QueryRow(ctx, probe, field, string(valueJSON)).Scan(&exists); err != nil {
				return fmt.Errorf("%w: %w", ErrUnavailable, err)
			}
			if exists {
				return fmt.Errorf("%w: %s.%s", ErrDuplicateKey, s.table, field)
			}
		}

		insert := fmt.Sprintf(`INSERT INTO %s (doc, uniq) VALUES ($1::jsonb, $2)`, s.table)
		if _, err := tx.Exec(ctx, insert, string(raw), uniqueFields); err != nil {
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return nil
	})
}

// Update implements [Store].
func (s *Postgres[T]) Update(ctx context.Context, match Query, record T) (int, error) {
	raw, _, err := encodeDocument(record)
	if err != nil {
		return 0, err
	}
	matchJSON, err := json.Marshal(match)
	if err != nil {
		return 0, fmt.Errorf("kvstore: match predicate not serializable: %w", err)
	}

	count := 0
	err = s.withCollectionLock(ctx, func(tx pgx.Tx) error {
		update := fmt.Sprintf(`UPDATE %s SET doc = $1::jsonb WHERE doc @> $2::jsonb`, s.table)
		tag, err := tx.Exec(ctx, update, string(raw), string(matchJSON))
		if err != nil {
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		count = int(tag.RowsAffected())
		return nil
	})
	return count, err
}

// UpdateOrCreate implements [Store].
func (s *Postgres[T]) UpdateOrCreate(ctx context.Context, match Query, record T) error {
	raw, _, err := encodeDocument(record)
	if err != nil {
		return err
	}
	matchJSON, err := json.Marshal(match)
	if err != nil {
		return fmt.Errorf("kvstore: match predicate not serializable: %w", err)
	}

	return s.withCollectionLock(ctx, func(tx pgx.Tx) error {
		update := fmt.Sprintf(`UPDATE %s SET doc = $1::jsonb WHERE doc @> $2::jsonb`, s.table)
		tag, err := tx.Exec(ctx, update, string(raw), string(matchJSON))
		if err != nil {
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		if tag.RowsAffected() > 0 {
			return nil
		}

		insert := fmt.Sprintf(`INSERT INTO %s (doc) VALUES ($1::jsonb)`, s.table)
		if _, err := tx.Exec(ctx, insert, string(raw)); err != nil {
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return nil
	})
}

// Find implements [Store].
func (s *Postgres[T]) Find(ctx context.Context, query Query) ([]T, error) {
	queryJSON, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("kvstore: query not serializable: %w", err)
	}

	sql := fmt.Sprintf(`SELECT doc FROM %s WHERE doc @> $1::jsonb ORDER BY id`, s.table)
	rows, err := s.pool.Query(ctx, sql, string(queryJSON))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer rows.Close()

	results := make([]T, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		record, err := decodeDocument[T](raw)
		if err != nil {
			return nil, err
		}
		results = append(results, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	return results, nil
}

// FindOne implements [Store].
func (s *Postgres[T]) FindOne(ctx context.Context, query Query) (*T, error) {
	queryJSON, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("kvstore: query not serializable: %w", err)
	}

	sql := fmt.Sprintf(`SELECT doc FROM %s WHERE doc @> $1::jsonb ORDER BY id LIMIT 1`, s.table)
	var raw []byte
	if err := s.pool.QueryRow(ctx, sql, string(queryJSON)).Scan(&raw); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	record, err := decodeDocument[T](raw)
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// Delete implements [Store].
func (s *Postgres[T]) Delete(ctx context.Context, query Query) (int, error) {
	queryJSON, err := json.Marshal(query)
	if err != nil {
		return 0, fmt.Errorf("kvstore: query not serializable: %w", err)
	}

	sql := fmt.Sprintf(`DELETE FROM %s WHERE doc @> $1::jsonb`, s.table)
	tag, err := s.pool.Exec(ctx, sql, string(queryJSON))
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return int(tag.RowsAffected()), nil
}

// Drop implements [Store].
func (s *Postgres[T]) Drop(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, s.table)); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

// withCollectionLock runs fn inside a transaction holding the per-collection
// advisory lock. The lock serializes every conditional write on this
// collection and releases automatically at commit or rollback.
func (s *Postgres[T]) withCollectionLock(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, s.table); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}
