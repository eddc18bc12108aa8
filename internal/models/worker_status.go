package models

import "time"

type WorkerState string

const (
	WorkerStateIdle      WorkerState = "idle"
	WorkerStateRunning   WorkerState = "running"
	WorkerStateCompleted WorkerState = "completed"
	WorkerStateFailed    WorkerState = "failed"
)

type WorkerStatus struct {
	WorkerID  string      `json:"worker_id"`
	State     WorkerState `json:"state"`
	TaskID    string      `json:"task_id,omitempty"`
	LastError string      `json:"last_error,omitempty"`
	UpdatedAt time.Time   `json:"updated_at"`
}
