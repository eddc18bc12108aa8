package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/mpataki/quill/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubWorker struct{}

func (stubWorker) Execute(_ context.Context, task models.Task) models.TaskResult {
	return models.Success(task, models.Payload{})
}

func (stubWorker) OutputKeys() []string { return nil }

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("scanner", stubWorker{}))

	err := r.Register("scanner", stubWorker{})
	var dup *DuplicateWorkerError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, "scanner", dup.WorkerID)

	assert.Error(t, r.Register("", stubWorker{}))
	assert.Error(t, r.Register("nil", nil))
}

func TestRegistry_Resolve(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("extractor", stubWorker{}))

	w, err := r.Resolve("extractor")
	require.NoError(t, err)
	assert.NotNil(t, w)

	_, err = r.Resolve("missing")
	var unknown *UnknownWorkerError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "missing", unknown.WorkerID)
}

func TestRegistry_Require(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("a", stubWorker{}))

	assert.NoError(t, r.Require("a"))
	err := r.Require("a", "b")
	var unknown *UnknownWorkerError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "b", unknown.WorkerID)
}

func TestRegistry_StatusLifecycle(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("image", stubWorker{}))
	require.NoError(t, r.Register("logger", stubWorker{}))

	st, err := r.Status("image")
	require.NoError(t, err)
	assert.Equal(t, models.WorkerStateIdle, st.State)

	require.NoError(t, r.SetStatus("image", models.WorkerStateRunning, "t1", ""))
	require.NoError(t, r.SetStatus("image", models.WorkerStateFailed, "t1", "boom"))

	st, err = r.Status("image")
	require.NoError(t, err)
	assert.Equal(t, models.WorkerStateFailed, st.State)
	assert.Equal(t, "boom", st.LastError)

	all := r.AllStatuses()
	assert.Len(t, all, 2)
	assert.Equal(t, []string{"image", "logger"}, r.IDs())

	assert.Error(t, r.SetStatus("ghost", models.WorkerStateRunning, "", ""))
	_, err = r.Status("ghost")
	assert.Error(t, err)
}

func TestRegistry_AllStatusesIsACopy(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("uploader", stubWorker{}))

	snap := r.AllStatuses()
	require.NoError(t, r.SetStatus("uploader", models.WorkerStateRunning, "t9", ""))

	assert.Equal(t, models.WorkerStateIdle, snap["uploader"].State)
}
