package worker

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mpataki/quill/internal/models"
)

// Registry maps worker ids to implementations and keeps the last known
// status of each. Membership is fixed once startup finishes.
type Registry struct {
	mu       sync.RWMutex
	workers  map[string]Worker
	order    []string
	statuses map[string]models.WorkerStatus
}

func NewRegistry() *Registry {
	return &Registry{
		workers:  make(map[string]Worker),
		statuses: make(map[string]models.WorkerStatus),
	}
}

func (r *Registry) Register(id string, w Worker) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("worker id is required")
	}
	if w == nil {
		return fmt.Errorf("worker %q is nil", id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.workers[id]; ok {
		return &DuplicateWorkerError{WorkerID: id}
	}
	r.workers[id] = w
	r.order = append(r.order, id)
	r.statuses[id] = models.WorkerStatus{
		WorkerID:  id,
		State:     models.WorkerStateIdle,
		UpdatedAt: time.Now(),
	}
	return nil
}

func (r *Registry) Resolve(id string) (Worker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, ok := r.workers[id]
	if !ok {
		return nil, &UnknownWorkerError{WorkerID: id}
	}
	return w, nil
}

// Require fails with the first missing id.
func (r *Registry) Require(ids ...string) error {
	for _, id := range ids {
		if _, err := r.Resolve(id); err != nil {
			return err
		}
	}
	return nil
}

// IDs returns worker ids in registration order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

func (r *Registry) Status(id string) (models.WorkerStatus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st, ok := r.statuses[id]
	if !ok {
		return models.WorkerStatus{}, &UnknownWorkerError{WorkerID: id}
	}
	return st, nil
}

// AllStatuses returns a copy of every worker's status.
func (r *Registry) AllStatuses() map[string]models.WorkerStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]models.WorkerStatus, len(r.statuses))
	for id, st := range r.statuses {
		out[id] = st
	}
	return out
}

// SetStatus overwrites the status of one worker. Only the execution engine
// calls this.
func (r *Registry) SetStatus(id string, state models.WorkerState, taskID, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.workers[id]; !ok {
		return &UnknownWorkerError{WorkerID: id}
	}
	r.statuses[id] = models.WorkerStatus{
		WorkerID:  id,
		State:     state,
		TaskID:    taskID,
		LastError: lastError,
		UpdatedAt: time.Now(),
	}
	return nil
}
