package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"insight-backend/internal/shared/metrics"
	"insight-backend/internal/shared/telemetry"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultMaxRetries  = 3
	defaultBaseBackoff = time.Second
)

// Operation is a remote call bound to a per-attempt context. Implementations
// must honor cancellation so the hard timeout can abort the network attempt.
type Operation func(ctx context.Context) (json.RawMessage, error)

// Options controls attempt timeout, retry count and backoff for one call.
// Zero values fall back to the defaults.
type Options struct {
	Timeout     time.Duration
	MaxRetries  int
	BaseBackoff time.Duration
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = defaultMaxRetries
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = defaultBaseBackoff
	}
	return o
}

type flight struct {
	done   chan struct{}
	result json.RawMessage
	err    error
}

// Orchestrator executes remote operations with per-key deduplication,
// per-attempt hard timeouts and bounded exponential-backoff retries.
// Instances are constructor-injected; each carries its own pending table.
type Orchestrator struct {
	mu      sync.Mutex
	pending map[string]*flight
	sleep   func(ctx context.Context, d time.Duration) error
}

// New constructs an Orchestrator with an empty pending table.
func New() *Orchestrator {
	return &Orchestrator{
		pending: make(map[string]*flight),
		sleep:   sleepCtx,
	}
}

// Call runs op under key. While a call for key is in flight, concurrent
// callers await its outcome instead of issuing a duplicate remote call. The
// pending entry is removed before any caller returns, so a later call with
// the same key issues fresh work.
func (o *Orchestrator) Call(ctx context.Context, key string, op Operation, opts Options) (json.RawMessage, error) {
	o.mu.Lock()
	if inflight, ok := o.pending[key]; ok {
		o.mu.Unlock()
		metrics.IncOrchestratorDedupJoin()
		select {
		case <-inflight.done:
			return inflight.result, inflight.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f := &flight{done: make(chan struct{})}
	o.pending[key] = f
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		delete(o.pending, key)
		o.mu.Unlock()
		close(f.done)
	}()

	f.result, f.err = o.run(ctx, key, op, opts.withDefaults())
	return f.result, f.err
}

// InFlight reports whether a call for key is currently pending.
func (o *Orchestrator) InFlight(key string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.pending[key]
	return ok
}

func (o *Orchestrator) run(ctx context.Context, key string, op Operation, opts Options) (json.RawMessage, error) {
	var lastErr error
	var lastKind errorKind

	for attempt := 0; attempt < opts.MaxRetries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
		result, err := op(attemptCtx)
		cancel()

		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		kind, retriable := classify(err)
		lastErr = err
		lastKind = kind
		if !retriable {
			return nil, &FatalAPIError{Key: key, StatusCode: statusOf(err), Err: err}
		}

		telemetry.Info("orchestrator.retry", map[string]any{
			"key":     key,
			"attempt": attempt + 1,
			"error":   err.Error(),
		})
		metrics.IncOrchestratorRetry()

		backoff := opts.BaseBackoff * (1 << attempt)
		if err := o.sleep(ctx, backoff); err != nil {
			return nil, err
		}
	}

	switch lastKind {
	case kindTimeout:
		return nil, &TimeoutError{Key: key, Attempts: opts.MaxRetries, Err: lastErr}
	default:
		return nil, &NetworkError{Key: key, Attempts: opts.MaxRetries, Err: lastErr}
	}
}

func statusOf(err error) int {
	var statusErr httpStatusError
	if errors.As(err, &statusErr) {
		return statusErr.HTTPStatus()
	}
	return 0
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
