// Copyright (c) 2026 Loop Server. All rights reserved.

package kvstore

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// encodeDocument renders a record as raw JSON plus its decoded top-level
// field map. Engines store the raw form and match queries against the map so
// every engine sees identical field names and value types.
func encodeDocument[T any](record T) (raw []byte, fields map[string]any, err error) {
	raw, err = json.Marshal(record)
	if err != nil {
		return nil, nil, fmt.Errorf("kvstore: record not serializable: %w", err)
	}

	fields = map[string]any{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, nil, fmt.Errorf("kvstore: record is not a JSON object: %w", err)
	}

	return raw, fields, nil
}

// decodeDocument restores a record from its stored JSON form.
func decodeDocument[T any](raw []byte) (T, error) {
	var record T
	if err := json.Unmarshal(raw, &record); err != nil {
		return record, fmt.Errorf("kvstore: stored document corrupt: %w", err)
	}
	return record, nil
}

// normalizeValue pushes an arbitrary Go value through a JSON round-trip so it
// compares cleanly against decoded document fields (ints become float64,
// time.Time becomes its RFC 3339 string, and so on).
func normalizeValue(value any) (any, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("kvstore: query value not serializable: %w", err)
	}
	var normalized any
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return nil, err
	}
	return normalized, nil
}

// matches reports whether a decoded document satisfies every equality in the
// query. A field absent from the document never matches.
func matches(fields map[string]any, query Query) (bool, error) {
	for name, want := range query {
		got, present := fields[name]
		if !present {
			return false, nil
		}
		normalized, err := normalizeValue(want)
		if err != nil {
			return false, err
		}
		if !reflect.DeepEqual(got, normalized) {
			return false, nil
		}
	}
	return true, nil
}
