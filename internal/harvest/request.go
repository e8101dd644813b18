package harvest

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

const (
	defaultTimeout     = 15 * time.Second
	defaultBackoffBase = 500 * time.Millisecond
)

// Requester is the bounded request primitive shared by fetch units. Each
// request retries up to MaxRetries times with linear backoff
// (base * attempt); exhausting the budget yields a FetchError. Throttle
// sleeps the configured interval plus jitter between requests.
type Requester struct {
	client     *http.Client
	unit       string
	headers    map[string]string
	maxRetries int
	backoff    time.Duration
	throttle   time.Duration
	logger     *zap.Logger
}

// NewRequester builds a Requester from a unit's config.
func NewRequester(unit string, cfg FetchUnitConfig, logger *zap.Logger) (*Requester, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	backoff := cfg.RetryBackoffBase
	if backoff <= 0 {
		backoff = defaultBackoffBase
	}
	transport := http.DefaultTransport
	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
	}
	return &Requester{
		client:     &http.Client{Timeout: timeout, Transport: transport},
		unit:       unit,
		headers:    cfg.Headers,
		maxRetries: cfg.MaxRetries,
		backoff:    backoff,
		throttle:   cfg.ThrottleInterval,
		logger:     logger,
	}, nil
}

// Get fetches target with the bounded retry budget and returns the body.
func (r *Requester) Get(ctx context.Context, target string) ([]byte, error) {
	return r.Do(ctx, http.MethodGet, target, nil)
}

// Do performs one logical request: up to 1+MaxRetries attempts, backing
// off base*attempt between failures. Non-2xx statuses count as failures.
func (r *Requester) Do(ctx context.Context, method, target string, body io.Reader) ([]byte, error) {
	var lastErr error
	attempts := r.maxRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		data, err := r.attempt(ctx, method, target, body)
		if err == nil {
			return data, nil
		}
		lastErr = err
		r.logger.Warn("request attempt failed",
			zap.String("url", target),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Error(err),
		)
		if ctx.Err() != nil {
			break
		}
		if attempt < attempts {
			pause(ctx, r.backoff*time.Duration(attempt))
		}
	}
	return nil, &FetchError{Unit: r.unit, URL: target, Attempts: attempts, Err: lastErr}
}

// Throttle sleeps the configured interval plus jitter to reduce
// detection and rate-limit risk between consecutive requests.
func (r *Requester) Throttle(ctx context.Context) {
	if r.throttle <= 0 {
		return
	}
	pause(ctx, r.throttle+randomJitter(r.throttle/2))
}

func (r *Requester) attempt(ctx context.Context, method, target string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return data, nil
}

func pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
