package models

import "time"

type TaskStatus string

const (
	TaskStatusSuccess TaskStatus = "success"
	TaskStatusFailure TaskStatus = "failure"
)

// Task is one unit dispatched to a worker. IDs are minted by the engine.
type Task struct {
	ID         string    `json:"task_id"`
	RunID      string    `json:"run_id"`
	WorkerID   string    `json:"worker_id"`
	Step       string    `json:"step"`
	Input      Payload   `json:"input"`
	ScratchDir string    `json:"scratch_dir,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// TaskResult is the single response to a dispatched Task. Output is set on
// success, Error on failure.
type TaskResult struct {
	TaskID      string     `json:"task_id"`
	WorkerID    string     `json:"worker_id"`
	Step        string     `json:"step"`
	Status      TaskStatus `json:"status"`
	Output      Payload    `json:"output,omitempty"`
	Error       string     `json:"error,omitempty"`
	CompletedAt time.Time  `json:"completed_at"`
}

func (r TaskResult) Succeeded() bool {
	return r.Status == TaskStatusSuccess
}

// Success builds a success result for task.
func Success(task Task, output Payload) TaskResult {
	return TaskResult{
		TaskID:      task.ID,
		WorkerID:    task.WorkerID,
		Step:        task.Step,
		Status:      TaskStatusSuccess,
		Output:      output,
		CompletedAt: time.Now(),
	}
}

// Failure builds a failure result for task.
func Failure(task Task, detail string) TaskResult {
	return TaskResult{
		TaskID:      task.ID,
		WorkerID:    task.WorkerID,
		Step:        task.Step,
		Status:      TaskStatusFailure,
		Error:       detail,
		CompletedAt: time.Now(),
	}
}
