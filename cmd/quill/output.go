package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/mpataki/quill/internal/models"
	"github.com/mpataki/quill/internal/storage"
	"github.com/mpataki/quill/internal/tui"
)

var (
	bold    = color.New(color.Bold).SprintFunc()
	faint   = color.New(color.Faint).SprintFunc()
	green   = color.New(color.FgGreen).SprintFunc()
	red     = color.New(color.FgRed).SprintFunc()
	yellow  = color.New(color.FgYellow).SprintFunc()
	magenta = color.New(color.FgMagenta, color.Bold).SprintFunc()
)

func statusText(status models.RunStatus) string {
	switch status {
	case models.RunStatusCompleted:
		return green("✓ completed")
	case models.RunStatusFailed:
		return red("✗ failed")
	case models.RunStatusRunning, models.RunStatusValidating:
		return yellow("● " + string(status))
	default:
		return faint(string(status))
	}
}

func workerStateText(state models.WorkerState) string {
	switch state {
	case models.WorkerStateRunning:
		return yellow("● running")
	case models.WorkerStateCompleted:
		return green("✓ completed")
	case models.WorkerStateFailed:
		return red("✗ failed")
	default:
		return faint("○ idle")
	}
}

// printRun reports the outcome of one command.
func printRun(w io.Writer, run *models.Run, err error) {
	if run == nil {
		if err != nil {
			fmt.Fprintln(w, red("✗ "+err.Error()))
		}
		return
	}

	fmt.Fprintf(w, "%s %s  %s\n", statusText(run.Status), bold(shortID(run.ID)), faint(run.Plan.String()))
	for _, res := range run.Results {
		mark := green("✓")
		if !res.Succeeded() {
			mark = red("✗")
		}
		fmt.Fprintf(w, "  %s %s (%s)\n", mark, res.Step, res.WorkerID)
	}

	if run.Status == models.RunStatusFailed {
		fmt.Fprintln(w, red("  "+run.Reason))
		return
	}
	printPayload(w, run.Payload)
}

func printPayload(w io.Writer, p models.Payload) {
	keys := make([]string, 0, len(p))
	for k := range p {
		switch k {
		case "content", "content_html", "upload_payload":
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		fmt.Fprintf(w, "  %s %s\n", faint(fmt.Sprintf("%-16s", k)), formatValue(p[k]))
	}
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "-"
	case string:
		return x
	case []string:
		return strings.Join(x, ", ")
	case []any, map[string]any:
		data, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return truncate(string(data), 120)
	}
	return fmt.Sprint(v)
}

func printStatus(w io.Writer, statuses map[string]models.WorkerStatus, recent []models.RunSummary) {
	fmt.Fprintln(w, magenta("quill"))

	ids := make([]string, 0, len(statuses))
	for id := range statuses {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(w, "  %-10s %s\n", id, workerStateText(statuses[id].State))
	}

	if len(recent) > 0 {
		r := recent[0]
		fmt.Fprintf(w, "\nLast run: %s %s %s  %s\n", bold(shortID(r.ID)), statusText(r.Status),
			r.Command, faint(storage.FormatTimeAgo(r.CreatedAt)))
	}
}

func printAgents(w io.Writer, agents []tui.Agent, verbs []string) {
	for _, a := range agents {
		fmt.Fprintf(w, "%s\n", bold(a.ID))
		if a.Description != "" {
			fmt.Fprintf(w, "  %s\n", a.Description)
		}
		if len(a.OutputKeys) > 0 {
			fmt.Fprintf(w, "  %s\n", faint("outputs: "+strings.Join(a.OutputKeys, ", ")))
		}
	}
	fmt.Fprintf(w, "\nVerbs: %s\n", strings.Join(verbs, ", "))
}

func printRuns(w io.Writer, runs []models.RunSummary) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs found.")
		return
	}

	for _, r := range runs {
		fmt.Fprintf(w, "%s %s %-40s %d/%d steps  %s\n",
			bold(shortID(r.ID)), statusText(r.Status), truncate(r.Command, 40),
			r.Succeeded, r.Steps, faint(storage.FormatTimeAgo(r.CreatedAt)))
	}
}

func printRunDetail(w io.Writer, run *models.Run) {
	fmt.Fprintf(w, "%s %s\n", magenta("Run "+run.ID), statusText(run.Status))
	fmt.Fprintf(w, "Command:  %s\n", run.Command.Text)
	fmt.Fprintf(w, "Planned:  %s (%s)\n", run.Plan.String(), run.Plan.Source)
	fmt.Fprintf(w, "Created:  %s\n", run.CreatedAt.Format("2006-01-02 15:04:05"))
	if run.CompletedAt != nil {
		fmt.Fprintf(w, "Duration: %s\n", run.CompletedAt.Sub(run.CreatedAt).Round(time.Millisecond))
	}
	if run.Reason != "" {
		fmt.Fprintf(w, "Reason:   %s\n", red(run.Reason))
	}

	if len(run.Results) > 0 {
		fmt.Fprintln(w, "\nResults:")
		for i, res := range run.Results {
			mark := green("✓")
			detail := ""
			if !res.Succeeded() {
				mark = red("✗")
				detail = "  " + red(res.Error)
			}
			fmt.Fprintf(w, "  %d. %s %s (%s)%s\n", i+1, mark, res.Step, res.WorkerID, detail)
		}
	}

	if len(run.Payload) > 0 {
		fmt.Fprintln(w, "\nPayload:")
		printPayload(w, run.Payload)
	}
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
