package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpataki/quill/internal/models"
	"github.com/mpataki/quill/internal/worker"
)

type nopWorker struct{}

func (nopWorker) Execute(_ context.Context, task models.Task) models.TaskResult {
	return models.Success(task, nil)
}
func (nopWorker) OutputKeys() []string { return nil }

func terminalRun(id string, status models.RunStatus) *models.Run {
	done := time.Now()
	return &models.Run{
		ID:          id,
		Command:     models.NewCommand("analyze posts"),
		Status:      status,
		CreatedAt:   done.Add(-time.Second),
		CompletedAt: &done,
		Plan:        models.ExecutionPlan{Steps: []models.PlanStep{{Name: "scan"}, {Name: "log"}}},
		Results: []models.TaskResult{
			{Step: "scan", Status: models.TaskStatusSuccess},
		},
	}
}

func TestRecordRunAndHistory(t *testing.T) {
	s := New(worker.NewRegistry())

	_, ok := s.LastRun()
	assert.False(t, ok)

	s.RecordRun(terminalRun("r1", models.RunStatusCompleted))
	s.RecordRun(&models.Run{ID: "r-pending", Status: models.RunStatusRunning})
	s.RecordRun(nil)
	s.RecordRun(terminalRun("r2", models.RunStatusFailed))

	history := s.History()
	require.Len(t, history, 2)
	assert.Equal(t, "r1", history[0].ID)
	assert.Equal(t, 2, history[0].Steps)
	assert.Equal(t, 1, history[0].Succeeded)
	assert.Equal(t, time.Second, history[0].Duration())

	last, ok := s.LastRun()
	require.True(t, ok)
	assert.Equal(t, models.RunStatusFailed, last.Status)

	history[0].ID = "mutated"
	assert.Equal(t, "r1", s.History()[0].ID)
}

func TestSnapshotStatusesIsStable(t *testing.T) {
	reg := worker.NewRegistry()
	require.NoError(t, reg.Register("scanner", nopWorker{}))
	s := New(reg)

	snap := s.SnapshotStatuses()
	require.NoError(t, reg.SetStatus("scanner", models.WorkerStateRunning, "t1", ""))
	require.NoError(t, reg.SetStatus("scanner", models.WorkerStateCompleted, "t1", ""))

	assert.Equal(t, models.WorkerStateIdle, snap["scanner"].State)
	assert.Equal(t, models.WorkerStateCompleted, s.SnapshotStatuses()["scanner"].State)
}
