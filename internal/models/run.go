package models

import "time"

type RunStatus string

const (
	RunStatusPending    RunStatus = "pending"
	RunStatusValidating RunStatus = "validating"
	RunStatusRunning    RunStatus = "running"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusFailed     RunStatus = "failed"
)

func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// Run is the lifecycle of one Command. Only the engine mutates it, and only
// until Status is terminal.
type Run struct {
	ID          string        `json:"run_id"`
	Command     Command       `json:"command"`
	Plan        ExecutionPlan `json:"plan"`
	Results     []TaskResult  `json:"results"`
	Status      RunStatus     `json:"status"`
	Reason      string        `json:"reason,omitempty"`
	Payload     Payload       `json:"payload,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// Clone returns a copy that shares no slices or maps with r.
func (r *Run) Clone() *Run {
	out := *r
	out.Plan.Steps = append([]PlanStep(nil), r.Plan.Steps...)
	out.Results = make([]TaskResult, len(r.Results))
	for i, res := range r.Results {
		res.Output = res.Output.Clone()
		out.Results[i] = res
	}
	out.Payload = r.Payload.Clone()
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}

func (r *Run) Summary() RunSummary {
	s := RunSummary{
		ID:          r.ID,
		Command:     r.Command.Text,
		Status:      r.Status,
		Reason:      r.Reason,
		Steps:       len(r.Plan.Steps),
		CreatedAt:   r.CreatedAt,
		CompletedAt: r.CompletedAt,
	}
	for _, res := range r.Results {
		if res.Succeeded() {
			s.Succeeded++
		}
	}
	return s
}

// RunSummary is the entry kept in session history.
type RunSummary struct {
	ID          string     `json:"run_id"`
	Command     string     `json:"command"`
	Status      RunStatus  `json:"status"`
	Reason      string     `json:"reason,omitempty"`
	Steps       int        `json:"steps"`
	Succeeded   int        `json:"succeeded"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (s RunSummary) Duration() time.Duration {
	if s.CompletedAt == nil {
		return 0
	}
	return s.CompletedAt.Sub(s.CreatedAt)
}
