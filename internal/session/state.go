// Package session holds what quill remembers for the life of one process:
// the history of runs and a view of worker statuses.
package session

import (
	"sync"

	"github.com/mpataki/quill/internal/models"
	"github.com/mpataki/quill/internal/worker"
)

type State struct {
	mu       sync.RWMutex
	registry *worker.Registry
	history  []models.RunSummary
}

func New(registry *worker.Registry) *State {
	return &State{registry: registry}
}

// RecordRun appends a terminal run to the history. Non-terminal runs are
// ignored.
func (s *State) RecordRun(run *models.Run) {
	if run == nil || !run.Status.Terminal() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, run.Summary())
}

// History returns a copy of every recorded run, oldest first.
func (s *State) History() []models.RunSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.RunSummary(nil), s.history...)
}

func (s *State) LastRun() (models.RunSummary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.history) == 0 {
		return models.RunSummary{}, false
	}
	return s.history[len(s.history)-1], true
}

// SnapshotStatuses returns a point-in-time copy of every worker's status.
func (s *State) SnapshotStatuses() map[string]models.WorkerStatus {
	return s.registry.AllStatuses()
}
