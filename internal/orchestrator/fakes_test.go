package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/mpataki/quill/internal/events"
	"github.com/mpataki/quill/internal/models"
)

// fakeWorker counts calls and delegates to fn, or succeeds with out.
type fakeWorker struct {
	keys  []string
	out   models.Payload
	fn    func(ctx context.Context, task models.Task) models.TaskResult
	calls atomic.Int32

	mu     sync.Mutex
	inputs []models.Payload
}

func (w *fakeWorker) Execute(ctx context.Context, task models.Task) models.TaskResult {
	w.calls.Add(1)
	w.mu.Lock()
	w.inputs = append(w.inputs, task.Input)
	w.mu.Unlock()

	if w.fn != nil {
		return w.fn(ctx, task)
	}
	return models.Success(task, w.out.Clone())
}

func (w *fakeWorker) OutputKeys() []string { return w.keys }

func (w *fakeWorker) lastInput() models.Payload {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.inputs) == 0 {
		return nil
	}
	return w.inputs[len(w.inputs)-1]
}

func failing(detail string) func(context.Context, models.Task) models.TaskResult {
	return func(_ context.Context, task models.Task) models.TaskResult {
		return models.Failure(task, detail)
	}
}

type memRecorder struct {
	mu      sync.Mutex
	created []string
	updates []models.RunStatus
	results map[string][]models.TaskResult
}

func newMemRecorder() *memRecorder {
	return &memRecorder{results: make(map[string][]models.TaskResult)}
}

func (r *memRecorder) CreateRun(_ context.Context, run *models.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, run.ID)
	return nil
}

func (r *memRecorder) UpdateRun(_ context.Context, run *models.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, run.Status)
	return nil
}

func (r *memRecorder) AppendResult(_ context.Context, runID string, _ int, res models.TaskResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[runID] = append(r.results[runID], res)
	return nil
}

type memPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *memPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *memPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}
