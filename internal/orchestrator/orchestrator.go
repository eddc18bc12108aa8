// Package orchestrator plans and executes user commands. The Engine runs
// one plan; the Orchestrator ties planning, execution and session history
// together and admits one command at a time.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mpataki/quill/internal/models"
	"github.com/mpataki/quill/internal/session"
	"github.com/mpataki/quill/internal/workspace"
)

type Planner interface {
	Plan(ctx context.Context, cmd models.Command) (models.ExecutionPlan, error)
}

// RunStore reads back recorded runs.
type RunStore interface {
	ListRuns(ctx context.Context, limit int) ([]models.RunSummary, error)
	GetRun(ctx context.Context, id string) (*models.Run, error)
	DeleteRun(ctx context.Context, id string) error
	ResolveID(ctx context.Context, prefix string) (string, error)
}

type Orchestrator struct {
	planner      Planner
	engine       *Engine
	session      *session.State
	store        RunStore
	workspaceDir string
	logger       *slog.Logger

	// running is held for the whole of Submit.
	running sync.Mutex

	mu           sync.Mutex
	stopPlanning context.CancelFunc
}

func New(planner Planner, engine *Engine, state *session.State, store RunStore, workspaceDir string, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		planner:      planner,
		engine:       engine,
		session:      state,
		store:        store,
		workspaceDir: workspaceDir,
		logger:       logger.With("component", "orchestrator"),
	}
}

// Submit plans and runs one command. It fails with ErrBusy while another
// command is in progress. A planning failure returns a nil run and a
// *planner.PlanningError; every other outcome returns the terminal run,
// which is also appended to the session history. Cancel during planning
// returns a nil run and ErrCancelled, or, when the plan was already made,
// a failed run that dispatched nothing.
func (o *Orchestrator) Submit(ctx context.Context, text string) (*models.Run, error) {
	if !o.running.TryLock() {
		return nil, ErrBusy
	}
	defer o.running.Unlock()

	o.engine.clearCancel()
	cmd := models.NewCommand(text)

	plan, err := o.plan(ctx, cmd)
	if err != nil {
		if o.engine.cancelRequested() {
			o.engine.clearCancel()
			o.logger.InfoContext(ctx, "planning cancelled", "command", cmd.Text)
			return nil, ErrCancelled
		}
		o.logger.InfoContext(ctx, "planning failed", "command", cmd.Text, "error", err)
		return nil, err
	}

	run, err := o.engine.Execute(ctx, cmd, plan)
	o.session.RecordRun(run)
	return run, err
}

// plan runs the planner under a context that Cancel can stop.
func (o *Orchestrator) plan(ctx context.Context, cmd models.Command) (models.ExecutionPlan, error) {
	planCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.stopPlanning = cancel
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.stopPlanning = nil
		o.mu.Unlock()
		cancel()
	}()

	return o.planner.Plan(planCtx, cmd)
}

// Cancel stops the command in progress, if any. An oracle call still
// planning is interrupted; a planned run stops before its next dispatch.
func (o *Orchestrator) Cancel() {
	o.engine.Cancel()

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopPlanning != nil {
		o.stopPlanning()
	}
}

// Busy reports whether a command is running.
func (o *Orchestrator) Busy() bool {
	if o.running.TryLock() {
		o.running.Unlock()
		return false
	}
	return true
}

func (o *Orchestrator) Session() *session.State {
	return o.session
}

// Read methods for the CLI

func (o *Orchestrator) ListRuns(ctx context.Context, limit int) ([]models.RunSummary, error) {
	return o.store.ListRuns(ctx, limit)
}

func (o *Orchestrator) GetRun(ctx context.Context, id string) (*models.Run, error) {
	return o.store.GetRun(ctx, id)
}

// DeleteRun removes a recorded run and its workspace.
func (o *Orchestrator) DeleteRun(ctx context.Context, id string) error {
	fullID, err := o.store.ResolveID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to find run: %w", err)
	}

	if o.workspaceDir != "" {
		if err := workspace.Remove(o.workspaceDir, fullID); err != nil {
			return fmt.Errorf("failed to remove workspace: %w", err)
		}
	}

	return o.store.DeleteRun(ctx, fullID)
}
