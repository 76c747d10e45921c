package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fastSleep records requested backoffs without waiting.
func fastSleep(recorded *[]time.Duration) func(ctx context.Context, d time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*recorded = append(*recorded, d)
		return ctx.Err()
	}
}

type statusErr struct {
	status int
}

func (e statusErr) Error() string   { return fmt.Sprintf("http status %d", e.status) }
func (e statusErr) HTTPStatus() int { return e.status }

func TestConcurrentCallsShareOneInvocation(t *testing.T) {
	o := New()
	var invocations atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})

	op := func(ctx context.Context) (json.RawMessage, error) {
		invocations.Add(1)
		close(started)
		<-release
		return json.RawMessage(`{"ok":true}`), nil
	}

	var wg sync.WaitGroup
	results := make([]string, 3)
	wg.Add(1)
	go func() {
		defer wg.Done()
		raw, err := o.Call(context.Background(), "k1", op, Options{})
		if err != nil {
			t.Errorf("leader Call: %v", err)
			return
		}
		results[0] = string(raw)
	}()

	<-started
	for i := 1; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			raw, err := o.Call(context.Background(), "k1", func(ctx context.Context) (json.RawMessage, error) {
				invocations.Add(1)
				return nil, errors.New("duplicate invocation")
			}, Options{})
			if err != nil {
				t.Errorf("follower Call: %v", err)
				return
			}
			results[i] = string(raw)
		}(i)
	}

	// Give the followers a moment to register against the pending entry.
	deadline := time.Now().Add(time.Second)
	for !o.InFlight("k1") && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	close(release)
	wg.Wait()

	if got := invocations.Load(); got != 1 {
		t.Fatalf("expected exactly 1 invocation, got %d", got)
	}
	for i, r := range results {
		if r != `{"ok":true}` {
			t.Fatalf("caller %d got %q", i, r)
		}
	}
	if o.InFlight("k1") {
		t.Fatal("pending entry not cleaned up")
	}
}

func TestRetriesAreBoundedWithExponentialBackoff(t *testing.T) {
	o := New()
	var backoffs []time.Duration
	o.sleep = fastSleep(&backoffs)

	var attempts int
	op := func(ctx context.Context) (json.RawMessage, error) {
		attempts++
		return nil, context.DeadlineExceeded
	}

	_, err := o.Call(context.Background(), "k", op, Options{
		Timeout:     50 * time.Millisecond,
		MaxRetries:  3,
		BaseBackoff: time.Second,
	})

	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	if len(backoffs) != len(want) {
		t.Fatalf("expected %d backoffs, got %v", len(want), backoffs)
	}
	for i := range want {
		if backoffs[i] != want[i] {
			t.Fatalf("backoff %d: expected %v got %v", i, want[i], backoffs[i])
		}
	}
	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if timeoutErr.Attempts != 3 {
		t.Fatalf("expected Attempts=3, got %d", timeoutErr.Attempts)
	}
}

func TestFatalErrorAbortsImmediately(t *testing.T) {
	o := New()
	var backoffs []time.Duration
	o.sleep = fastSleep(&backoffs)

	var attempts int
	op := func(ctx context.Context) (json.RawMessage, error) {
		attempts++
		return nil, statusErr{status: 401}
	}

	_, err := o.Call(context.Background(), "k", op, Options{MaxRetries: 5})

	if attempts != 1 {
		t.Fatalf("expected 1 attempt for fatal error, got %d", attempts)
	}
	var fatal *FatalAPIError
	if !errors.As(err, &fatal) {
		t.Fatalf("expected FatalAPIError, got %v", err)
	}
	if fatal.StatusCode != 401 {
		t.Fatalf("expected status 401, got %d", fatal.StatusCode)
	}
}

func TestRetriableStatusesAreRetried(t *testing.T) {
	for _, status := range []int{408, 429, 500, 503, 504} {
		t.Run(fmt.Sprintf("status_%d", status), func(t *testing.T) {
			o := New()
			var backoffs []time.Duration
			o.sleep = fastSleep(&backoffs)

			var attempts int
			op := func(ctx context.Context) (json.RawMessage, error) {
				attempts++
				if attempts < 2 {
					return nil, statusErr{status: status}
				}
				return json.RawMessage(`{}`), nil
			}

			raw, err := o.Call(context.Background(), "k", op, Options{MaxRetries: 3})
			if err != nil {
				t.Fatalf("Call: %v", err)
			}
			if string(raw) != `{}` {
				t.Fatalf("unexpected payload: %s", raw)
			}
			if attempts != 2 {
				t.Fatalf("expected recovery on attempt 2, got %d attempts", attempts)
			}
		})
	}
}

func TestExhaustedNetworkRetriesReturnNetworkError(t *testing.T) {
	o := New()
	var backoffs []time.Duration
	o.sleep = fastSleep(&backoffs)

	op := func(ctx context.Context) (json.RawMessage, error) {
		return nil, errors.New("connection reset by peer")
	}

	_, err := o.Call(context.Background(), "k", op, Options{MaxRetries: 2})
	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("expected NetworkError, got %v", err)
	}
	if netErr.Attempts != 2 {
		t.Fatalf("expected Attempts=2, got %d", netErr.Attempts)
	}
}

func TestCallerCancellationStopsRetrying(t *testing.T) {
	o := New()
	ctx, cancel := context.WithCancel(context.Background())

	var attempts int
	op := func(ctx context.Context) (json.RawMessage, error) {
		attempts++
		cancel()
		return nil, errors.New("connection refused")
	}

	_, err := o.Call(ctx, "k", op, Options{MaxRetries: 5})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected no retry after cancellation, got %d attempts", attempts)
	}
}

func TestFreshCallAfterCompletionRunsAgain(t *testing.T) {
	o := New()
	var invocations int
	op := func(ctx context.Context) (json.RawMessage, error) {
		invocations++
		return json.RawMessage(`{}`), nil
	}

	for i := 0; i < 2; i++ {
		if _, err := o.Call(context.Background(), "k", op, Options{}); err != nil {
			t.Fatalf("Call %d: %v", i, err)
		}
	}
	if invocations != 2 {
		t.Fatalf("expected sequential calls to run fresh work, got %d invocations", invocations)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		kind      errorKind
		retriable bool
	}{
		{"deadline", context.DeadlineExceeded, kindTimeout, true},
		{"retriable status", statusErr{status: 503}, kindNetwork, true},
		{"fatal status", statusErr{status: 400}, kindFatal, false},
		{"reset message", errors.New("read: connection reset"), kindNetwork, true},
		{"timeout message", errors.New("client.timeout exceeded"), kindTimeout, true},
		{"unknown", errors.New("invalid payload"), kindFatal, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			kind, retriable := classify(tc.err)
			if kind != tc.kind || retriable != tc.retriable {
				t.Fatalf("classify(%v) = (%v,%v), want (%v,%v)", tc.err, kind, retriable, tc.kind, tc.retriable)
			}
		})
	}
}
