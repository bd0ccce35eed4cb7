// Copyright (c) 2026 Loop Server. All rights reserved.

/*
Package kvstore implements the generic collection storage the signaling core
is built on.

Every higher-level component treats storage as a flat typed table keyed by one
or more attributes with optional uniqueness constraints — deliberately the
minimal relational surface the rest of the system needs, so any backing engine
can satisfy the contract:

  - memory: mutex-guarded in-process maps (tests, development).
  - postgres: one jsonb-document table per collection (pgx), with the
    check-and-insert race resolved by a transaction-scoped advisory lock.
  - redis: one hash-of-documents per collection (go-redis), with the
    check-and-insert race resolved by WATCH/MULTI optimistic transactions.

Records are anything that round-trips through encoding/json; queries are
equality-only over top-level JSON fields.
*/
package kvstore

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Contract violation and availability errors. Engines wrap driver-level
// failures with %w so callers can classify without importing driver packages.
var (
	// ErrDuplicateKey is returned by Add when a declared-unique field value
	// already exists in the collection. The write is not performed.
	ErrDuplicateKey = errors.New("kvstore: unique constraint violated")

	// ErrSchema is returned by EnsureSchema when the backing table could not
	// be provisioned within the bounded retry budget. Fatal at startup.
	ErrSchema = errors.New("kvstore: schema provisioning failed")

	// ErrUnavailable wraps transient backend faults on regular operations.
	ErrUnavailable = errors.New("kvstore: storage backend unavailable")
)

// Query selects records whose top-level JSON fields equal every given value.
// An empty Query matches everything.
type Query map[string]any

// Store is the generic collection contract shared by all engines.
//
// All methods honor context cancellation. Find returns an empty slice, not
// an error, when nothing matches; FindOne returns (nil, nil).
type Store[T any] interface {
	// EnsureSchema idempotently provisions the backing table and blocks,
	// with bounded retries, until it reports ready.
	EnsureSchema(ctx context.Context) error

	// Add inserts record. If any field named in uniqueFields already holds
	// the same value in a stored record, Add fails with [ErrDuplicateKey]
	// and writes nothing. The check and the insert are atomic.
	Add(ctx context.Context, record T, uniqueFields ...string) error

	// Update replaces every record matching match with record and reports
	// how many matched. Unlike UpdateOrCreate it never inserts: zero
	// matches is a zero count, not a create. The match and the write are
	// atomic, so a record deleted concurrently cannot be written back.
	Update(ctx context.Context, match Query, record T) (int, error)

	// UpdateOrCreate replaces every record matching match with record, or
	// inserts record if none match.
	UpdateOrCreate(ctx context.Context, match Query, record T) error

	// Find returns all records matching query, in insertion order.
	Find(ctx context.Context, query Query) ([]T, error)

	// FindOne returns the first record matching query, or nil.
	FindOne(ctx context.Context, query Query) (*T, error)

	// Delete removes every record matching query and reports how many.
	Delete(ctx context.Context, query Query) (int, error)

	// Drop deletes the entire backing collection. Idempotent when already absent.
	Drop(ctx context.Context) error
}

// # Engine Selection

// Engines bundles the live connections a deployment provides. Exactly one of
// the connection handles is consulted, picked by Engine.
type Engines struct {
	// Engine is one of config.EngineMemory, EnginePostgres, EngineRedis.
	Engine string

	// Pool is the pgx connection pool (postgres engine).
	Pool *pgxpool.Pool

	// Redis is the go-redis client (redis engine).
	Redis *redis.Client

	// SchemaAttempts bounds EnsureSchema retries (postgres engine).
	SchemaAttempts int

	// SchemaBackoff is the fixed delay between EnsureSchema retries.
	SchemaBackoff time.Duration
}

// Open constructs a [Store] for one collection on the selected engine.
//
// Unknown engine names fall back to memory: config validation rejects them
// before this point, so the fallback only matters for tests.
func Open[T any](engines Engines, collection string) Store[T] {
	switch engines.Engine {
	case "postgres":
		return NewPostgres[T](engines.Pool, collection, engines.SchemaAttempts, engines.SchemaBackoff)
	case "redis":
		return NewRedis[T](engines.Redis, collection)
	default:
		return NewMemory[T](collection)
	}
}
