package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"insight-backend/internal/kv"
)

const runsKeyPrefix = "analysis_runs_"

// maxRunsPerProject bounds the run history kept for polling; older runs
// roll off.
const maxRunsPerProject = 20

// RunStatus is a run's lifecycle state: idle → requesting →
// (succeeded | fallback | failed). The set is closed.
type RunStatus string

const (
	RunIdle       RunStatus = "idle"
	RunRequesting RunStatus = "requesting"
	RunSucceeded  RunStatus = "succeeded"
	RunFallback   RunStatus = "fallback"
	RunFailed     RunStatus = "failed"
)

// Valid reports whether s is a known run status.
func (s RunStatus) Valid() bool {
	switch s {
	case RunIdle, RunRequesting, RunSucceeded, RunFallback, RunFailed:
		return true
	}
	return false
}

// UnmarshalJSON rejects unknown statuses at the decode boundary.
func (s *RunStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	candidate := RunStatus(raw)
	if !candidate.Valid() {
		return errors.New("unknown analysis run status " + raw)
	}
	*s = candidate
	return nil
}

// Terminal reports whether the run has finished.
func (s RunStatus) Terminal() bool {
	return s == RunSucceeded || s == RunFallback || s == RunFailed
}

// Run is one analysis execution, persisted for UI polling.
type Run struct {
	ID            string     `json:"id"`
	ProjectID     string     `json:"projectId"`
	Status        RunStatus  `json:"status"`
	Progress      int        `json:"progress"`
	Message       string     `json:"message,omitempty"`
	Source        string     `json:"source"`
	UsingFallback bool       `json:"usingFallback,omitempty"`
	InsightCount  int        `json:"insightCount,omitempty"`
	Error         string     `json:"error,omitempty"`
	StartedAt     time.Time  `json:"startedAt"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
}

type runEnvelope struct {
	Runs []Run `json:"runs"`
}

// runStore persists run records in the key-value store. Updates after the
// soft timeout arrive from a background goroutine, so writes are serialized
// with a mutex.
type runStore struct {
	mu sync.Mutex
	kv kv.Store
}

func newRunStore(store kv.Store) *runStore {
	return &runStore{kv: store}
}

func (r *runStore) get(ctx context.Context, projectID, runID string) (Run, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	runs, err := r.loadLocked(ctx, projectID)
	if err != nil {
		return Run{}, false, err
	}
	for _, run := range runs {
		if run.ID == runID {
			return run, true, nil
		}
	}
	return Run{}, false, nil
}

func (r *runStore) put(ctx context.Context, run Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	runs, err := r.loadLocked(ctx, run.ProjectID)
	if err != nil {
		return err
	}
	replaced := false
	for i := range runs {
		if runs[i].ID == run.ID {
			runs[i] = run
			replaced = true
			break
		}
	}
	if !replaced {
		runs = append(runs, run)
		if len(runs) > maxRunsPerProject {
			runs = runs[len(runs)-maxRunsPerProject:]
		}
	}
	return r.saveLocked(ctx, run.ProjectID, runs)
}

func (r *runStore) loadLocked(ctx context.Context, projectID string) ([]Run, error) {
	raw, err := r.kv.Get(ctx, runsKeyPrefix+projectID)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var env runEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, kv.NewStorageError("decode", runsKeyPrefix+projectID, err)
	}
	return env.Runs, nil
}

func (r *runStore) saveLocked(ctx context.Context, projectID string, runs []Run) error {
	raw, err := json.Marshal(runEnvelope{Runs: runs})
	if err != nil {
		return kv.NewStorageError("encode", runsKeyPrefix+projectID, err)
	}
	return r.kv.Set(ctx, runsKeyPrefix+projectID, raw)
}
