// Copyright (c) 2026 Loop Server. All rights reserved.

package validate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frsela/loop-server/internal/platform/apperr"
	"github.com/frsela/loop-server/internal/platform/validate"
)

/*
TestValidator_Required tests the mandatory field validation logic.
*/
func TestValidator_Required(t *testing.T) {
	tests := []struct {
		name     string
		field    string
		value    string
		hasError bool
	}{
		{"valid_string", "callee_friendly_name", "Alice", false},
		{"empty_string", "callee_friendly_name", "", true},
		{"whitespace_only", "callee_friendly_name", "   ", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := &validate.Validator{}
			v.Required(tt.field, tt.value)

			if tt.hasError {
				assert.True(t, v.HasErrors())
				err := v.Err()
				require.NotNil(t, err)

				ae := apperr.As(err)
				require.NotNil(t, ae)
				assert.Equal(t, "VALIDATION_ERROR", ae.Code)
				assert.Equal(t, tt.field, ae.Details[0].Field)
			} else {
				assert.False(t, v.HasErrors())
				assert.Nil(t, v.Err())
			}
		})
	}
}

/*
TestValidator_Range checks the inclusive bounds rule used for token lifetimes.
*/
func TestValidator_Range(t *testing.T) {
	tests := []struct {
		name    string
		value   int
		isValid bool
	}{
		{"lower_bound", 0, true},
		{"upper_bound", 744, true},
		{"middle", 24, true},
		{"negative", -1, false},
		{"above_max", 745, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := &validate.Validator{}
			v.Range("expires_in", tt.value, 0, 744)

			assert.Equal(t, !tt.isValid, v.HasErrors())
		})
	}
}

/*
TestValidator_OneOf checks the enumerated-value rule used for call types.
*/
func TestValidator_OneOf(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		isValid bool
	}{
		{"audio", "audio", true},
		{"audio_video", "audio-video", true},
		{"unknown", "video", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := &validate.Validator{}
			v.OneOf("call_type", tt.value, "audio", "audio-video")

			assert.Equal(t, !tt.isValid, v.HasErrors())
		})
	}
}

/*
TestValidator_HTTPSUrl checks the push endpoint URL rule.
*/
func TestValidator_HTTPSUrl(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		isValid bool
	}{
		{"https", "https://push.example.com/ch/1", true},
		{"http", "http://push.example.com/ch/1", true},
		{"relative", "/ch/1", false},
		{"no_host", "https://", false},
		{"wrong_scheme", "ftp://push.example.com/ch/1", false},
		{"garbage", "::not-a-url::", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := &validate.Validator{}
			v.HTTPSUrl("simple_push_url", tt.value)

			assert.Equal(t, !tt.isValid, v.HasErrors())
		})
	}
}

/*
TestValidator_MaxLen verifies that the limit counts Unicode characters,
not bytes.
*/
func TestValidator_MaxLen(t *testing.T) {
	v := &validate.Validator{}
	// 5 characters, 15 bytes in UTF-8
	v.MaxLen("callee_friendly_name", "ありがとう", 5)
	assert.False(t, v.HasErrors())

	v2 := &validate.Validator{}
	v2.MaxLen("callee_friendly_name", "ありがとう", 4)
	assert.True(t, v2.HasErrors())
}

/*
TestValidator_Chain tests error accumulation across a fluent chain.
*/
func TestValidator_Chain(t *testing.T) {
	v := &validate.Validator{}

	err := v.
		Required("callee_friendly_name", "").                // Fails
		Range("expires_in", -2, 0, 744).                     // Fails
		OneOf("call_type", "video", "audio", "audio-video"). // Fails
		Err()

	require.Error(t, err)
	ae := apperr.As(err)
	require.NotNil(t, ae)

	// Should accumulate all 3 errors
	assert.Len(t, ae.Details, 3)
}
