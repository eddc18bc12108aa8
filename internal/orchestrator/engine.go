package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mpataki/quill/internal/config"
	"github.com/mpataki/quill/internal/events"
	"github.com/mpataki/quill/internal/models"
	"github.com/mpataki/quill/internal/telemetry"
	"github.com/mpataki/quill/internal/worker"
	"github.com/mpataki/quill/internal/workspace"
)

// Recorder persists runs as they progress. Failures are logged, never
// fatal to the run.
type Recorder interface {
	CreateRun(ctx context.Context, run *models.Run) error
	UpdateRun(ctx context.Context, run *models.Run) error
	AppendResult(ctx context.Context, runID string, seq int, result models.TaskResult) error
}

type Publisher interface {
	Publish(ctx context.Context, e events.Event) error
}

// Engine runs validated plans one step at a time.
type Engine struct {
	registry     *worker.Registry
	recorder     Recorder
	publisher    Publisher
	workspaceDir string
	stepTimeout  time.Duration
	tracer       trace.Tracer
	logger       *slog.Logger

	cancelled atomic.Bool
}

type Option func(*Engine)

func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithWorkspaceDir gives every run a workspace under dir and every task a
// scratch directory inside it.
func WithWorkspaceDir(dir string) Option {
	return func(e *Engine) { e.workspaceDir = dir }
}

func WithStepTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.stepTimeout = d
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

func NewEngine(registry *worker.Registry, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		registry:    registry,
		stepTimeout: config.DefaultStepTimeout,
		tracer:      telemetry.Tracer(),
		logger:      logger.With("component", "engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Cancel stops the current run before its next dispatch. A call already in
// flight finishes and its result is discarded. A cancel that arrives before
// Execute stops that run before its first dispatch.
func (e *Engine) Cancel() {
	e.cancelled.Store(true)
}

func (e *Engine) cancelRequested() bool {
	return e.cancelled.Load()
}

func (e *Engine) clearCancel() {
	e.cancelled.Store(false)
}

// runState is the engine's private bookkeeping for one run.
type runState struct {
	run     *models.Run
	ws      *workspace.Workspace
	outputs map[string]models.Payload
	span    trace.Span
}

// Execute validates plan and runs it. The returned run is always terminal
// and shares no maps with what workers returned or the recorder was given.
// The error is nil when the run completed and otherwise explains why it
// failed: *InvalidPlanError, *BindingError, *WorkerExecutionError,
// *TimeoutError or ErrCancelled.
func (e *Engine) Execute(ctx context.Context, cmd models.Command, plan models.ExecutionPlan) (*models.Run, error) {
	defer e.clearCancel()

	run := &models.Run{
		ID:        uuid.NewString(),
		Command:   cmd,
		Plan:      plan,
		Status:    models.RunStatusPending,
		CreatedAt: time.Now(),
	}
	rs := &runState{run: run, outputs: make(map[string]models.Payload, len(plan.Steps))}

	ctx, rs.span = telemetry.StartSpan(ctx, e.tracer, "quill.run",
		attribute.String(telemetry.RunIDKey, run.ID),
		attribute.String(telemetry.CommandKey, cmd.Text),
		attribute.Int(telemetry.PlanSizeKey, len(plan.Steps)),
	)
	defer rs.span.End()

	logger := e.logger.With("run_id", run.ID)
	logger.InfoContext(ctx, "run started", "command", cmd.Text, "plan", plan.String())

	e.record(ctx, func(r Recorder) error { return r.CreateRun(ctx, run) })
	e.publish(ctx, events.Event{Type: events.RunStarted, RunID: run.ID, Total: len(plan.Steps), Detail: cmd.Text})

	e.transition(ctx, rs, models.RunStatusValidating)
	if err := e.Validate(plan); err != nil {
		return e.fail(ctx, rs, err)
	}

	if e.workspaceDir != "" {
		ws, err := workspace.Create(e.workspaceDir, run.ID)
		if err != nil {
			return e.fail(ctx, rs, fmt.Errorf("failed to create workspace: %w", err))
		}
		rs.ws = ws
	}

	e.transition(ctx, rs, models.RunStatusRunning)

	for i, step := range plan.Steps {
		if e.stopped(ctx) {
			return e.fail(ctx, rs, ErrCancelled)
		}

		input, err := bindInputs(step, rs.outputs)
		if err != nil {
			return e.fail(ctx, rs, err)
		}

		res, err := e.runStep(ctx, rs, i, step, input)
		// A timed out or cancelled call never answered; nothing is recorded
		// for it.
		var timeout *TimeoutError
		if errors.Is(err, ErrCancelled) || errors.As(err, &timeout) {
			return e.fail(ctx, rs, err)
		}

		run.Results = append(run.Results, res)
		e.record(ctx, func(r Recorder) error { return r.AppendResult(ctx, run.ID, i, res) })
		if rs.ws != nil {
			if werr := rs.ws.WriteResult(res); werr != nil {
				logger.WarnContext(ctx, "failed to write step result", "step", step.Name, "error", werr)
			}
		}

		if err != nil {
			return e.fail(ctx, rs, err)
		}
		rs.outputs[step.Name] = res.Output
	}

	now := time.Now()
	run.Payload = aggregate(run.Results)
	run.Status = models.RunStatusCompleted
	run.CompletedAt = &now
	e.finish(ctx, rs)

	logger.InfoContext(ctx, "run completed", "steps", len(run.Results), "duration", now.Sub(run.CreatedAt))
	return run.Clone(), nil
}

// runStep dispatches one step and keeps the worker's status current. The
// error is non-nil exactly when the step did not succeed.
func (e *Engine) runStep(ctx context.Context, rs *runState, i int, step models.PlanStep, input models.Payload) (models.TaskResult, error) {
	w, err := e.registry.Resolve(step.Worker)
	if err != nil {
		// Validate already resolved every worker; membership is fixed.
		res := models.TaskResult{
			WorkerID:    step.Worker,
			Step:        step.Name,
			Status:      models.TaskStatusFailure,
			Error:       err.Error(),
			CompletedAt: time.Now(),
		}
		return res, &InvalidPlanError{Step: step.Name, Reason: "unresolvable worker", Err: err}
	}

	task := models.Task{
		ID:        uuid.NewString(),
		RunID:     rs.run.ID,
		WorkerID:  step.Worker,
		Step:      step.Name,
		Input:     input,
		CreatedAt: time.Now(),
	}
	if rs.ws != nil {
		dir, err := rs.ws.CreateScratchDir(step.Name)
		if err != nil {
			return models.Failure(task, err.Error()), &WorkerExecutionError{
				Step: step.Name, WorkerID: step.Worker, TaskID: task.ID, Detail: err.Error(), Err: err,
			}
		}
		task.ScratchDir = dir
		e.writeMetadata(ctx, rs, step.Name)
	}

	stepCtx, span := telemetry.StartSpan(ctx, e.tracer, "quill.step",
		attribute.String(telemetry.RunIDKey, rs.run.ID),
		attribute.String(telemetry.StepKey, step.Name),
		attribute.String(telemetry.WorkerKey, step.Worker),
		attribute.String(telemetry.TaskIDKey, task.ID),
	)
	defer span.End()

	logger := e.logger.With("run_id", rs.run.ID, "step", step.Name, "worker", step.Worker)
	total := len(rs.run.Plan.Steps)

	e.setStatus(step.Worker, models.WorkerStateRunning, task.ID, "")
	e.publish(ctx, events.Event{Type: events.StepStarted, RunID: rs.run.ID, Step: step.Name, Worker: step.Worker, Index: i, Total: total})
	logger.DebugContext(stepCtx, "dispatching task", "task_id", task.ID)

	res, err := e.dispatch(stepCtx, w, task)

	if err != nil {
		e.setStatus(step.Worker, models.WorkerStateFailed, task.ID, err.Error())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		e.setStatus(step.Worker, models.WorkerStateCompleted, task.ID, "")
	}

	if e.stopped(ctx) {
		logger.InfoContext(ctx, "discarding result of cancelled run")
		return res, ErrCancelled
	}

	e.publish(ctx, events.Event{
		Type: events.StepFinished, RunID: rs.run.ID, Step: step.Name, Worker: step.Worker,
		Index: i, Total: total, Status: string(res.Status), Detail: res.Error,
	})

	if err != nil {
		logger.ErrorContext(ctx, "step failed", "error", err)
	} else {
		logger.InfoContext(ctx, "step completed", "keys", len(res.Output))
	}
	return res, err
}

// dispatch calls the worker with the step timeout. Panics become failure
// results; a result arriving after the timeout is dropped.
func (e *Engine) dispatch(ctx context.Context, w worker.Worker, task models.Task) (models.TaskResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.stepTimeout)
	defer cancel()

	done := make(chan models.TaskResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- models.Failure(task, fmt.Sprintf("worker panicked: %v", r))
			}
		}()
		done <- w.Execute(callCtx, task)
	}()

	var res models.TaskResult
	select {
	case res = <-done:
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return models.Failure(task, "cancelled"), ErrCancelled
		}
		terr := &TimeoutError{Step: task.Step, WorkerID: task.WorkerID, TaskID: task.ID, Timeout: e.stepTimeout}
		return models.Failure(task, terr.Error()), terr
	}

	// The engine owns identity fields; workers cannot misreport them.
	res.TaskID = task.ID
	res.WorkerID = task.WorkerID
	res.Step = task.Step
	if res.CompletedAt.IsZero() {
		res.CompletedAt = time.Now()
	}

	switch res.Status {
	case models.TaskStatusSuccess:
		if res.Output == nil {
			res.Output = models.Payload{}
		}
		res.Error = ""
		return res, nil
	case models.TaskStatusFailure:
		if res.Error == "" {
			res.Error = "worker reported failure without detail"
		}
		res.Output = nil
	default:
		res = models.Failure(task, fmt.Sprintf("worker returned unknown status %q", res.Status))
	}

	return res, &WorkerExecutionError{Step: task.Step, WorkerID: task.WorkerID, TaskID: task.ID, Detail: res.Error}
}

func (e *Engine) stopped(ctx context.Context) bool {
	return e.cancelled.Load() || ctx.Err() != nil
}

func (e *Engine) transition(ctx context.Context, rs *runState, status models.RunStatus) {
	rs.run.Status = status
	e.record(ctx, func(r Recorder) error { return r.UpdateRun(ctx, rs.run) })
	e.writeMetadata(ctx, rs, "")
}

func (e *Engine) fail(ctx context.Context, rs *runState, cause error) (*models.Run, error) {
	now := time.Now()
	rs.run.Status = models.RunStatusFailed
	rs.run.CompletedAt = &now
	if errors.Is(cause, ErrCancelled) {
		rs.run.Reason = ErrCancelled.Error()
	} else {
		rs.run.Reason = cause.Error()
	}

	rs.span.RecordError(cause)
	rs.span.SetStatus(codes.Error, rs.run.Reason)
	e.finish(ctx, rs)

	e.logger.WarnContext(ctx, "run failed", "run_id", rs.run.ID, "reason", rs.run.Reason, "results", len(rs.run.Results))
	return rs.run.Clone(), cause
}

func (e *Engine) finish(ctx context.Context, rs *runState) {
	// Persisting the outcome must happen even if the caller gave up.
	bg := context.WithoutCancel(ctx)

	e.record(bg, func(r Recorder) error { return r.UpdateRun(bg, rs.run) })
	e.writeMetadata(bg, rs, "")
	e.publish(bg, events.Event{
		Type: events.RunFinished, RunID: rs.run.ID, Index: len(rs.run.Results), Total: len(rs.run.Plan.Steps),
		Status: string(rs.run.Status), Detail: rs.run.Reason,
	})
}

func (e *Engine) writeMetadata(ctx context.Context, rs *runState, current string) {
	if rs.ws == nil {
		return
	}

	meta := &workspace.RunMetadata{
		RunID:       rs.run.ID,
		Command:     rs.run.Command.Text,
		Plan:        rs.run.Plan.String(),
		Status:      rs.run.Status,
		Reason:      rs.run.Reason,
		CurrentStep: current,
	}
	for _, res := range rs.run.Results {
		meta.Completed = append(meta.Completed, res.Step)
	}
	if err := rs.ws.WriteRunMetadata(meta); err != nil {
		e.logger.WarnContext(ctx, "failed to write run metadata", "run_id", rs.run.ID, "error", err)
	}
}

func (e *Engine) setStatus(workerID string, state models.WorkerState, taskID, lastError string) {
	if err := e.registry.SetStatus(workerID, state, taskID, lastError); err != nil {
		e.logger.Warn("failed to update worker status", "worker", workerID, "error", err)
	}
}

func (e *Engine) record(ctx context.Context, fn func(Recorder) error) {
	if e.recorder == nil {
		return
	}
	if err := fn(e.recorder); err != nil {
		e.logger.WarnContext(ctx, "failed to record run", "error", err)
	}
}

func (e *Engine) publish(ctx context.Context, ev events.Event) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.Publish(ctx, ev); err != nil {
		e.logger.WarnContext(ctx, "failed to publish event", "type", ev.Type, "error", err)
	}
}
