package worker

import "fmt"

type UnknownWorkerError struct {
	WorkerID string
}

func (e *UnknownWorkerError) Error() string {
	return fmt.Sprintf("unknown worker %q", e.WorkerID)
}

type DuplicateWorkerError struct {
	WorkerID string
}

func (e *DuplicateWorkerError) Error() string {
	return fmt.Sprintf("worker %q already registered", e.WorkerID)
}
