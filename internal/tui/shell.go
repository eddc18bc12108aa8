package tui

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mpataki/quill/internal/models"
	"github.com/mpataki/quill/internal/session"
)

// Backend is what the console drives. *orchestrator.Orchestrator
// satisfies it.
type Backend interface {
	Submit(ctx context.Context, text string) (*models.Run, error)
	Cancel()
	Busy() bool
	Session() *session.State
}

// Agent describes a registered worker for the agents listing.
type Agent struct {
	ID          string
	Description string
	OutputKeys  []string
}

// Shell answers system commands. Anything else is a command for the
// backend.
type Shell struct {
	backend Backend
	agents  []Agent
	verbs   []string
}

func NewShell(backend Backend, agents []Agent, verbs []string) *Shell {
	return &Shell{backend: backend, agents: agents, verbs: verbs}
}

// System handles line when it is a system command. exit reports that the
// session should end.
func (s *Shell) System(line string) (out string, exit bool, ok bool) {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "status":
		last, hasLast := s.backend.Session().LastRun()
		return renderStatus(s.backend.Session().SnapshotStatuses(), last, hasLast, s.backend.Busy()), false, true
	case "agents":
		return renderAgents(s.agents, s.backend.Session().SnapshotStatuses()), false, true
	case "history":
		return renderHistory(s.backend.Session().History()), false, true
	case "help", "?":
		return renderHelp(s.verbs), false, true
	case "exit", "quit":
		return "", true, true
	}
	return "", false, false
}

func renderStatus(statuses map[string]models.WorkerStatus, last models.RunSummary, hasLast, busy bool) string {
	var b strings.Builder

	state := "idle"
	if busy {
		state = statusRunning.Render("running a command")
	}
	fmt.Fprintf(&b, "%s %s\n\n", titleStyle.Render("quill"), state)

	for _, id := range sortedIDs(statuses) {
		st := statuses[id]
		line := fmt.Sprintf("  %-10s %s", id, formatWorkerState(st.State))
		if st.LastError != "" {
			line += "  " + dimStyle.Render(truncate(st.LastError, 60))
		}
		b.WriteString(line + "\n")
	}

	if hasLast {
		fmt.Fprintf(&b, "\n%s%s %s %s\n", labelStyle.Render("Last run: "),
			shortID(last.ID), formatRunStatus(last.Status), truncate(last.Command, 40))
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderAgents(agents []Agent, statuses map[string]models.WorkerStatus) string {
	if len(agents) == 0 {
		return "No agents registered."
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Agents") + "\n")
	for _, a := range agents {
		fmt.Fprintf(&b, "\n%s  %s\n", a.ID, formatWorkerState(statuses[a.ID].State))
		if a.Description != "" {
			b.WriteString("  " + a.Description + "\n")
		}
		if len(a.OutputKeys) > 0 {
			b.WriteString("  " + dimStyle.Render("outputs: "+strings.Join(a.OutputKeys, ", ")) + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderHistory(history []models.RunSummary) string {
	if len(history) == 0 {
		return "No commands yet this session."
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("History") + "\n")
	for i, h := range history {
		line := fmt.Sprintf("%2d. %s %s %s  %d/%d steps  %s",
			i+1, shortID(h.ID), formatRunStatus(h.Status), truncate(h.Command, 36),
			h.Succeeded, h.Steps, formatDuration(h.Duration()))
		if h.Reason != "" {
			line += "\n    " + dimStyle.Render(truncate(h.Reason, 70))
		}
		b.WriteString(line + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderHelp(verbs []string) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Commands") + "\n\n")
	for _, v := range verbs {
		fmt.Fprintf(&b, "  %-10s <path>\n", v)
	}
	b.WriteString("  anything else is planned by the configured oracle\n\n")
	b.WriteString(labelStyle.Render("System") + "\n")
	b.WriteString("  status     worker states and the last run\n")
	b.WriteString("  agents     registered workers\n")
	b.WriteString("  history    commands run this session\n")
	b.WriteString("  help       this list\n")
	b.WriteString("  exit       leave quill")
	return b.String()
}

// summaryFields are pulled from a completed run's payload, in order.
var summaryFields = []string{
	"title", "slug", "article_id", "categories", "tags", "image_count", "published_url",
	"count", "output_path",
}

// RenderRun formats the outcome of a command.
func RenderRun(run *models.Run, err error) string {
	if run == nil {
		if err != nil {
			return errorStyle.Render("✗ " + err.Error())
		}
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s  %s\n", formatRunStatus(run.Status), shortID(run.ID), dimStyle.Render(run.Plan.String()))

	for _, res := range run.Results {
		mark := statusComplete.Render("✓")
		if !res.Succeeded() {
			mark = statusFailed.Render("✗")
		}
		fmt.Fprintf(&b, "  %s %s (%s)\n", mark, res.Step, res.WorkerID)
	}

	if run.Status == models.RunStatusFailed {
		b.WriteString(errorStyle.Render("  "+run.Reason) + "\n")
		return strings.TrimRight(b.String(), "\n")
	}

	for _, k := range summaryFields {
		v, ok := run.Payload[k]
		if !ok || v == nil {
			continue
		}
		fmt.Fprintf(&b, "  %s %s\n", labelStyle.Render(fmt.Sprintf("%-14s", k)), formatValue(v))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatValue(v any) string {
	switch x := v.(type) {
	case []string:
		return strings.Join(x, ", ")
	case []any:
		parts := make([]string, 0, len(x))
		for _, item := range x {
			if s, ok := item.(string); ok {
				parts = append(parts, s)
			}
		}
		if len(parts) == len(x) {
			return strings.Join(parts, ", ")
		}
		return fmt.Sprintf("%d items", len(x))
	}
	return fmt.Sprint(v)
}

func formatWorkerState(s models.WorkerState) string {
	switch s {
	case models.WorkerStateRunning:
		return statusRunning.Render("● running")
	case models.WorkerStateCompleted:
		return statusComplete.Render("✓ completed")
	case models.WorkerStateFailed:
		return statusFailed.Render("✗ failed")
	default:
		return statusPending.Render("○ idle")
	}
}

func formatRunStatus(status models.RunStatus) string {
	switch status {
	case models.RunStatusRunning, models.RunStatusValidating:
		return statusRunning.Render("● " + string(status))
	case models.RunStatusCompleted:
		return statusComplete.Render("✓ completed")
	case models.RunStatusFailed:
		return statusFailed.Render("✗ failed")
	default:
		return statusPending.Render(string(status))
	}
}

func sortedIDs(m map[string]models.WorkerStatus) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", h, m)
}
