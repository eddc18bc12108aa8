package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpataki/quill/internal/logging"
	"github.com/mpataki/quill/internal/models"
	"github.com/mpataki/quill/internal/planner"
	"github.com/mpataki/quill/internal/session"
	"github.com/mpataki/quill/internal/storage"
	"github.com/mpataki/quill/internal/worker"
	"github.com/mpataki/quill/internal/workspace"
)

type testRig struct {
	orch      *Orchestrator
	state     *session.State
	store     *storage.Storage
	wsDir     string
	extractor *fakeWorker
	uploader  *fakeWorker
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()

	extractor, uploader := uploadWorkers()
	reg := newRegistry(t, map[string]*fakeWorker{worker.Extractor: extractor, worker.Uploader: uploader})

	store, err := storage.New(filepath.Join(t.TempDir(), "quill.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	wsDir := t.TempDir()
	state := session.New(reg)
	engine := NewEngine(reg, logging.Discard(), WithRecorder(store), WithWorkspaceDir(wsDir))
	p := planner.New(nil, nil, logging.Discard())

	return &testRig{
		orch:      New(p, engine, state, store, wsDir, logging.Discard()),
		state:     state,
		store:     store,
		wsDir:     wsDir,
		extractor: extractor,
		uploader:  uploader,
	}
}

func TestSubmit_RecordsHistoryAndStore(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	run, err := rig.orch.Submit(ctx, "  upload posts/sample-post.md ")
	require.NoError(t, err)
	assert.Equal(t, "upload posts/sample-post.md", run.Command.Text)

	history := rig.state.History()
	require.Len(t, history, 1)
	assert.Equal(t, run.ID, history[0].ID)
	assert.Equal(t, models.RunStatusCompleted, history[0].Status)

	stored, err := rig.orch.GetRun(ctx, run.ID[:8])
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, stored.Status)
	assert.Len(t, stored.Results, 2)
	assert.Equal(t, "Sample Post", stored.Payload["title"])

	runs, err := rig.orch.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 2, runs[0].Succeeded)
}

func TestSubmit_PlanningErrorCreatesNoRun(t *testing.T) {
	rig := newTestRig(t)

	run, err := rig.orch.Submit(context.Background(), "please tidy my drafts")
	assert.Nil(t, run)

	var perr *planner.PlanningError
	require.True(t, errors.As(err, &perr))
	assert.ErrorIs(t, err, planner.ErrNoOracle)
	assert.Empty(t, rig.state.History())
	assert.Zero(t, rig.extractor.calls.Load())
	assert.False(t, rig.orch.Busy())
}

func TestSubmit_FailedRunIsStillRecorded(t *testing.T) {
	rig := newTestRig(t)
	rig.uploader.fn = failing("Thumbnail image is required")

	run, err := rig.orch.Submit(context.Background(), "upload posts/no-thumb.md")
	require.Error(t, err)
	assert.Equal(t, models.RunStatusFailed, run.Status)

	history := rig.state.History()
	require.Len(t, history, 1)
	assert.Equal(t, models.RunStatusFailed, history[0].Status)
	assert.Equal(t, 1, history[0].Succeeded)
}

func TestSubmit_RejectsConcurrentCommand(t *testing.T) {
	rig := newTestRig(t)

	started := make(chan struct{})
	release := make(chan struct{})
	rig.extractor.fn = func(_ context.Context, task models.Task) models.TaskResult {
		close(started)
		<-release
		return models.Success(task, models.Payload{"title": "t"})
	}

	done := make(chan error)
	go func() {
		_, err := rig.orch.Submit(context.Background(), "upload a.md")
		done <- err
	}()

	<-started
	assert.True(t, rig.orch.Busy())
	_, err := rig.orch.Submit(context.Background(), "upload b.md")
	assert.ErrorIs(t, err, ErrBusy)

	close(release)
	require.NoError(t, <-done)
	assert.False(t, rig.orch.Busy())
	assert.Len(t, rig.state.History(), 1)
}

func TestDeleteRun(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	run, err := rig.orch.Submit(ctx, "upload posts/sample-post.md")
	require.NoError(t, err)

	_, err = workspace.Open(rig.wsDir, run.ID)
	require.NoError(t, err)

	require.NoError(t, rig.orch.DeleteRun(ctx, run.ID))

	_, err = workspace.Open(rig.wsDir, run.ID)
	assert.Error(t, err)
	_, err = rig.orch.GetRun(ctx, run.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.ErrorIs(t, rig.orch.DeleteRun(ctx, run.ID), storage.ErrNotFound)
}

func TestSubmit_CancelWhilePlanningDispatchesNothing(t *testing.T) {
	rig := newTestRig(t)
	rig.orch.planner = planner.New(planner.OracleFunc(func(_ context.Context, _ string) ([]byte, error) {
		rig.orch.Cancel()
		return []byte(`{"steps":[{"name":"a","worker":"extractor","inputs":{"path":"posts/a.md"}}]}`), nil
	}), nil, logging.Discard())

	run, err := rig.orch.Submit(context.Background(), "publish my latest draft")
	assert.ErrorIs(t, err, ErrCancelled)
	require.NotNil(t, run)
	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.Equal(t, "cancelled", run.Reason)
	assert.Empty(t, run.Results)
	assert.Zero(t, rig.extractor.calls.Load())

	// The next command runs normally.
	run, err = rig.orch.Submit(context.Background(), "upload posts/sample-post.md")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
}

func TestSubmit_CancelInterruptsOracle(t *testing.T) {
	rig := newTestRig(t)
	waiting := make(chan struct{})
	rig.orch.planner = planner.New(planner.OracleFunc(func(ctx context.Context, _ string) ([]byte, error) {
		close(waiting)
		<-ctx.Done()
		return nil, ctx.Err()
	}), nil, logging.Discard())

	done := make(chan error)
	go func() {
		run, err := rig.orch.Submit(context.Background(), "publish my latest draft")
		assert.Nil(t, run)
		done <- err
	}()

	<-waiting
	rig.orch.Cancel()

	assert.ErrorIs(t, <-done, ErrCancelled)
	assert.Zero(t, rig.extractor.calls.Load())
	assert.Empty(t, rig.state.History())
	assert.False(t, rig.orch.Busy())
}

func TestSubmit_CancelWhileIdleDoesNotLeak(t *testing.T) {
	rig := newTestRig(t)
	rig.orch.Cancel()

	run, err := rig.orch.Submit(context.Background(), "upload posts/sample-post.md")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
}
