// Copyright (c) 2026 Loop Server. All rights reserved.

package call

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/frsela/loop-server/internal/platform/constants"
	"github.com/frsela/loop-server/internal/platform/sec"
)

// ProviderSession is the pair of values the external media-session provider
// returns: a session identifier and one token per endpoint role.
type ProviderSession struct {
	SessionID   string `json:"sessionId"`
	CalleeToken string `json:"calleeToken"`
	CallerToken string `json:"callerToken"`
}

// SessionProvider is the contract with the external media-session provider.
//
// AllocateSession failures are hard dependency failures: surfaced to the
// caller, never retried here.
type SessionProvider interface {
	AllocateSession(ctx context.Context) (*ProviderSession, error)
	CheckHealth(ctx context.Context) error
	APIKey() string
}

// # HTTP Provider

// HTTPProvider talks to a real media-session provider over HTTP.
type HTTPProvider struct {
	baseURL       string
	apiKey        string
	apiSecret     string
	healthTimeout time.Duration
	client        *http.Client
}

// NewHTTPProvider constructs the provider client.
func NewHTTPProvider(baseURL, apiKey, apiSecret string, healthTimeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		baseURL:       baseURL,
		apiKey:        apiKey,
		apiSecret:     apiSecret,
		healthTimeout: healthTimeout,
		client:        &http.Client{Timeout: 10 * time.Second},
	}
}

// AllocateSession requests a fresh provider session with per-role tokens.
func (p *HTTPProvider) AllocateSession(ctx context.Context) (*ProviderSession, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/sessions", nil)
	if err != nil {
		return nil, fmt.Errorf("provider: building request: %w", err)
	}
	request.SetBasicAuth(p.apiKey, p.apiSecret)

	response, err := p.client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("provider: session allocation failed: %w", err)
	}
	defer func() { _ = response.Body.Close() }()

	if response.StatusCode != http.StatusOK && response.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("provider: session allocation returned %d", response.StatusCode)
	}

	var session ProviderSession
	if err := json.NewDecoder(response.Body).Decode(&session); err != nil {
		return nil, fmt.Errorf("provider: malformed session response: %w", err)
	}
	if session.SessionID == "" || session.CalleeToken == "" || session.CallerToken == "" {
		return nil, fmt.Errorf("provider: incomplete session response")
	}

	return &session, nil
}

// CheckHealth probes the provider's health endpoint within the configured
// timeout. The server only self-reports healthy while this succeeds.
func (p *HTTPProvider) CheckHealth(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, p.healthTimeout)
	defer cancel()

	request, err := http.NewRequestWithContext(probeCtx, http.MethodGet, p.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("provider: building health probe: %w", err)
	}

	response, err := p.client.Do(request)
	if err != nil {
		return fmt.Errorf("provider: health probe failed: %w", err)
	}
	defer func() { _ = response.Body.Close() }()

	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("provider: health probe returned %d", response.StatusCode)
	}
	return nil
}

// APIKey returns the static configured key echoed back to clients.
func (p *HTTPProvider) APIKey() string { return p.apiKey }

// # Local Provider

// LocalProvider mints provider sessions in-process. Used in development and
// tests, where no external media provider is configured.
type LocalProvider struct {
	apiKey string
}

// NewLocalProvider constructs the in-process provider.
func NewLocalProvider(apiKey string) *LocalProvider {
	return &LocalProvider{apiKey: apiKey}
}

// AllocateSession returns a randomly generated session.
func (p *LocalProvider) AllocateSession(ctx context.Context) (*ProviderSession, error) {
	return &ProviderSession{
		SessionID:   sec.NewHexToken(constants.ChannelTokenBytes),
		CalleeToken: sec.NewHexToken(constants.ChannelTokenBytes),
		CallerToken: sec.NewHexToken(constants.ChannelTokenBytes),
	}, nil
}

// CheckHealth always succeeds.
func (p *LocalProvider) CheckHealth(ctx context.Context) error { return nil }

// APIKey returns the static configured key.
func (p *LocalProvider) APIKey() string { return p.apiKey }
