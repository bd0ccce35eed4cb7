// Copyright (c) 2026 Loop Server. All rights reserved.

package call

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Notifier delivers version bumps to registered push endpoints.
//
// Delivery is best-effort: no confirmation is consumed and failures are
// absorbed, never escalated to the call flow.
type Notifier interface {
	Notify(ctx context.Context, endpoint string, version int64)
}

// HTTPNotifier implements the push transport: a PUT of version=<n> to the
// endpoint URL, bounded by a per-dispatch timeout.
type HTTPNotifier struct {
	timeout time.Duration
	client  *http.Client
	logger  *slog.Logger
}

// NewHTTPNotifier constructs the notifier.
func NewHTTPNotifier(timeout time.Duration, logger *slog.Logger) *HTTPNotifier {
	return &HTTPNotifier{
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Notify delivers one version bump. Errors are logged and dropped.
func (n *HTTPNotifier) Notify(ctx context.Context, endpoint string, version int64) {
	dispatchCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	body := url.Values{"version": []string{strconv.FormatInt(version, 10)}}
	request, err := http.NewRequestWithContext(dispatchCtx, http.MethodPut, endpoint, strings.NewReader(body.Encode()))
	if err != nil {
		n.logger.WarnContext(ctx, "notify_request_build_failed", slog.Any("error", err))
		return
	}
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	response, err := n.client.Do(request)
	if err != nil {
		n.logger.WarnContext(ctx, "notify_dispatch_failed", slog.Any("error", err))
		return
	}
	_ = response.Body.Close()

	if response.StatusCode >= 300 {
		n.logger.WarnContext(ctx, "notify_dispatch_rejected", slog.Int("status", response.StatusCode))
	}
}

// fanOut dispatches one version bump to every endpoint concurrently and
// waits for the batch. Each dispatch carries its own timeout, so a slow
// endpoint delays the response by at most that bound and a failed one is
// simply dropped.
func fanOut(ctx context.Context, notifier Notifier, endpoints []string, version int64) {
	var wg sync.WaitGroup
	for _, endpoint := range endpoints {
		wg.Add(1)
		go func(endpoint string) {
			defer wg.Done()
			notifier.Notify(ctx, endpoint, version)
		}(endpoint)
	}
	wg.Wait()
}
