package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"insight-backend/internal/fallback"
	"insight-backend/internal/insights"
	"insight-backend/internal/kv"
	"insight-backend/internal/llm"
	"insight-backend/internal/orchestrator"
	"insight-backend/internal/shared/metrics"
	"insight-backend/internal/shared/telemetry"
	"insight-backend/internal/shared/util"
)

const defaultSoftTimeout = 45 * time.Second

// Input describes one analysis request.
type Input struct {
	Source      insights.Source
	Industry    string
	WebsiteURL  string
	DocumentIDs []string
	Documents   []llm.DocumentInput
}

// Config tunes a Coordinator. Zero values select the defaults.
type Config struct {
	SoftTimeout   time.Duration
	Orchestration orchestrator.Options
}

// Coordinator drives an analysis run end to end: it pushes the remote call
// through the orchestrator, races it against a soft timeout, and guarantees
// a displayable result lands in the insight store on every terminal path.
type Coordinator struct {
	orch     *orchestrator.Orchestrator
	client   llm.Client
	fallback *fallback.Generator
	insights *insights.Service
	runs     *runStore
	cfg      Config
	now      func() time.Time

	background sync.WaitGroup
}

// NewCoordinator constructs a Coordinator.
func NewCoordinator(orch *orchestrator.Orchestrator, client llm.Client, gen *fallback.Generator, store *insights.Service, runKV kv.Store, cfg Config) *Coordinator {
	if cfg.SoftTimeout <= 0 {
		cfg.SoftTimeout = defaultSoftTimeout
	}
	return &Coordinator{
		orch:     orch,
		client:   client,
		fallback: gen,
		insights: store,
		runs:     newRunStore(runKV),
		cfg:      cfg,
		now:      time.Now,
	}
}

// Wait blocks until all background completions have drained. Called during
// shutdown and by tests.
func (c *Coordinator) Wait() {
	c.background.Wait()
}

// GetRun returns a persisted run record for polling.
func (c *Coordinator) GetRun(ctx context.Context, projectID, runID string) (Run, bool, error) {
	return c.runs.get(ctx, projectID, runID)
}

// Start begins an analysis run and returns immediately; the run record is
// updated in the background and observed via GetRun.
func (c *Coordinator) Start(ctx context.Context, projectID string, in Input) (Run, error) {
	run, in, err := c.begin(ctx, projectID, in)
	if err != nil {
		return Run{}, err
	}
	c.background.Add(1)
	go func() {
		defer c.background.Done()
		c.execute(context.WithoutCancel(ctx), run, in)
	}()
	return run, nil
}

// Run executes an analysis synchronously and returns its terminal record.
// A soft timeout returns a fallback-marked record while the real call keeps
// running; a later real result supersedes the fallback insights.
func (c *Coordinator) Run(ctx context.Context, projectID string, in Input) (Run, error) {
	run, in, err := c.begin(ctx, projectID, in)
	if err != nil {
		return Run{}, err
	}
	return c.execute(ctx, run, in)
}

func (c *Coordinator) begin(ctx context.Context, projectID string, in Input) (Run, Input, error) {
	if projectID == "" {
		return Run{}, in, fmt.Errorf("project id is required")
	}
	if in.Source == "" {
		in.Source = insights.SourceDocument
	}
	if !in.Source.Valid() {
		return Run{}, in, fmt.Errorf("unknown analysis source %q", in.Source)
	}
	if in.Source == insights.SourceWebsite && strings.TrimSpace(in.WebsiteURL) == "" {
		return Run{}, in, fmt.Errorf("website analysis requires a url")
	}

	run := Run{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Status:    RunRequesting,
		Progress:  10,
		Message:   "Analysis in progress",
		Source:    string(in.Source),
		StartedAt: c.now().UTC(),
	}
	if err := c.runs.put(ctx, run); err != nil {
		return Run{}, in, err
	}
	metrics.IncAnalysisStarted()
	c.logStatus(run)
	return run, in, nil
}

type outcome struct {
	batch []insights.Insight
	err   error
}

func (c *Coordinator) execute(ctx context.Context, run Run, in Input) (Run, error) {
	started := c.now()
	key := requestKey(run.ProjectID, in)

	ch := make(chan outcome, 1)
	// The orchestrated call is detached from the caller's context so a soft
	// timeout (or the caller going away) never cancels the network attempt.
	callCtx := context.WithoutCancel(ctx)
	go func() {
		raw, err := c.orch.Call(callCtx, key, func(attemptCtx context.Context) (json.RawMessage, error) {
			return c.client.GenerateInsights(attemptCtx, c.generateInput(run.ProjectID, in))
		}, c.cfg.Orchestration)
		if err != nil {
			ch <- outcome{err: err}
			return
		}
		batch, err := parseProviderPayload(raw, in.Source)
		ch <- outcome{batch: batch, err: err}
	}()

	soft := time.NewTimer(c.cfg.SoftTimeout)
	defer soft.Stop()

	select {
	case out := <-ch:
		if out.err == nil {
			return c.completeReal(ctx, run, in, out.batch, started)
		}
		return c.completeFallback(ctx, run, in, out.err, started)

	case <-soft.C:
		run = c.softTimeoutFallback(ctx, run, in)
		c.background.Add(1)
		go func() {
			defer c.background.Done()
			out := <-ch
			bg := context.WithoutCancel(ctx)
			if out.err != nil {
				telemetry.Info("analysis.late_result", map[string]any{
					"project_id": run.ProjectID,
					"run_id":     run.ID,
					"error":      out.err.Error(),
				})
				return
			}
			if _, err := c.completeReal(bg, run, in, out.batch, started); err != nil {
				telemetry.Error("analysis.late_result", map[string]any{
					"project_id": run.ProjectID,
					"run_id":     run.ID,
					"error":      err.Error(),
				})
			}
		}()
		return run, nil

	case <-ctx.Done():
		run.Status = RunFailed
		run.Error = ctx.Err().Error()
		run.Message = "Analysis cancelled"
		c.finish(context.WithoutCancel(ctx), &run)
		metrics.IncAnalysisFailed()
		return run, ctx.Err()
	}
}

// completeReal persists a validated provider batch; it supersedes any
// fallback insights previously written for the same source.
func (c *Coordinator) completeReal(ctx context.Context, run Run, in Input, batch []insights.Insight, started time.Time) (Run, error) {
	// A superseded fallback run already carries a CompletedAt; the record
	// must report when the real results landed, not the soft-timeout time.
	run.CompletedAt = nil
	if _, err := c.insights.ReplaceBySource(ctx, run.ProjectID, in.Source, batch, false); err != nil {
		run.Status = RunFailed
		run.Error = err.Error()
		run.Message = "Failed to save analysis results"
		c.finish(ctx, &run)
		metrics.IncAnalysisFailed()
		return run, err
	}

	run.Status = RunSucceeded
	run.Progress = 100
	run.Message = "Analysis complete"
	run.UsingFallback = false
	run.Error = ""
	run.InsightCount = len(batch)
	c.finish(ctx, &run)
	metrics.IncAnalysisCompleted()
	metrics.ObserveAnalysisDurationMs(float64(c.now().Sub(started)) / float64(time.Millisecond))
	return run, nil
}

// completeFallback handles a hard failure: the orchestrator gave up before
// the soft timeout fired, so substitute insights are generated immediately.
func (c *Coordinator) completeFallback(ctx context.Context, run Run, in Input, cause error, started time.Time) (Run, error) {
	batch := c.fallback.Generate(fallback.Input{
		ProjectID:         run.ProjectID,
		Industry:          in.Industry,
		Source:            in.Source,
		SourceDocumentIDs: in.DocumentIDs,
	})
	applied, err := c.insights.ReplaceBySource(ctx, run.ProjectID, in.Source, batch, true)
	if err != nil {
		run.Status = RunFailed
		run.Error = err.Error()
		run.Message = "Analysis failed"
		c.finish(ctx, &run)
		metrics.IncAnalysisFailed()
		return run, err
	}

	run.Status = RunFallback
	run.Progress = 100
	run.UsingFallback = true
	run.Error = cause.Error()
	run.InsightCount = len(batch)
	if applied {
		run.Message = "Analysis unavailable; showing preliminary insights"
	} else {
		run.Message = "Analysis unavailable; existing insights retained"
	}
	c.finish(ctx, &run)
	metrics.IncAnalysisFallback()
	metrics.ObserveAnalysisDurationMs(float64(c.now().Sub(started)) / float64(time.Millisecond))
	return run, nil
}

// softTimeoutFallback writes substitute insights without cancelling the
// in-flight call.
func (c *Coordinator) softTimeoutFallback(ctx context.Context, run Run, in Input) Run {
	batch := c.fallback.Generate(fallback.Input{
		ProjectID:         run.ProjectID,
		Industry:          in.Industry,
		Source:            in.Source,
		SourceDocumentIDs: in.DocumentIDs,
	})
	applied, err := c.insights.ReplaceBySource(ctx, run.ProjectID, in.Source, batch, true)
	if err != nil {
		telemetry.Error("analysis.soft_timeout", map[string]any{
			"project_id": run.ProjectID,
			"run_id":     run.ID,
			"error":      err.Error(),
		})
	}

	run.Status = RunFallback
	run.Progress = 100
	run.UsingFallback = true
	run.InsightCount = len(batch)
	if applied {
		run.Message = "Analysis is taking longer than expected; showing preliminary insights"
	} else {
		run.Message = "Analysis is taking longer than expected; existing insights retained"
	}
	c.finish(ctx, &run)
	metrics.IncAnalysisFallback()
	return run
}

func (c *Coordinator) finish(ctx context.Context, run *Run) {
	if run.Status.Terminal() && run.CompletedAt == nil {
		done := c.now().UTC()
		run.CompletedAt = &done
	}
	if err := c.runs.put(ctx, *run); err != nil {
		telemetry.Error("analysis.run_persist", map[string]any{
			"project_id": run.ProjectID,
			"run_id":     run.ID,
			"error":      err.Error(),
		})
	}
	c.logStatus(*run)
}

func (c *Coordinator) logStatus(run Run) {
	telemetry.Info("analysis.status", map[string]any{
		"project_id":     run.ProjectID,
		"run_id":         run.ID,
		"status":         string(run.Status),
		"progress":       run.Progress,
		"using_fallback": run.UsingFallback,
	})
}

func (c *Coordinator) generateInput(projectID string, in Input) llm.GenerateInput {
	return llm.GenerateInput{
		ProjectID:       projectID,
		DocumentIDs:     in.DocumentIDs,
		IndustryContext: in.Industry,
		Source:          string(in.Source),
		WebsiteURL:      in.WebsiteURL,
		Documents:       in.Documents,
	}
}

// requestKey derives the dedup key from the project and a canonical form of
// the inputs, so identical concurrent requests share one remote call.
func requestKey(projectID string, in Input) string {
	ids := append([]string(nil), in.DocumentIDs...)
	sort.Strings(ids)
	return util.HashRequestKey(projectID, string(in.Source), in.Industry, in.WebsiteURL, strings.Join(ids, ","))
}
