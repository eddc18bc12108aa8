package workspace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mpataki/quill/internal/models"
)

// Workspace is the on-disk directory of one run. Workers get a scratch
// directory per step; every step result is written next to it so a run can
// be inspected after the process exits.
type Workspace struct {
	Path string
}

type RunMetadata struct {
	RunID       string           `json:"run_id"`
	Command     string           `json:"command"`
	Plan        string           `json:"plan"`
	Status      models.RunStatus `json:"status"`
	Reason      string           `json:"reason,omitempty"`
	CurrentStep string           `json:"current_step,omitempty"`
	Completed   []string         `json:"completed_steps"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

func dirFor(baseDir, runID string) string {
	return filepath.Join(baseDir, "run-"+runID)
}

func Create(baseDir, runID string) (*Workspace, error) {
	if runID == "" || strings.ContainsAny(runID, `/\`) {
		return nil, fmt.Errorf("invalid run id %q", runID)
	}

	w := &Workspace{Path: dirFor(baseDir, runID)}

	dirs := []string{
		filepath.Join(w.Path, "scratch"),
		filepath.Join(w.Path, "results"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return w, nil
}

func Open(baseDir, runID string) (*Workspace, error) {
	path := dirFor(baseDir, runID)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("workspace for run %s does not exist", runID)
	}

	return &Workspace{Path: path}, nil
}

// Remove deletes a run's workspace. A missing workspace is not an error.
func Remove(baseDir, runID string) error {
	if runID == "" {
		return fmt.Errorf("run id is required")
	}
	return os.RemoveAll(dirFor(baseDir, runID))
}

func (w *Workspace) WriteRunMetadata(meta *RunMetadata) error {
	path := filepath.Join(w.Path, "run.json")

	meta.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run metadata: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write run.json: %w", err)
	}

	return nil
}

func (w *Workspace) ReadRunMetadata() (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(w.Path, "run.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to read run.json: %w", err)
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse run.json: %w", err)
	}
	return &meta, nil
}

// CreateScratchDir returns a fresh private directory for one step.
func (w *Workspace) CreateScratchDir(step string) (string, error) {
	path := filepath.Join(w.Path, "scratch", step)
	if err := os.MkdirAll(path, 0755); err != nil {
		return "", fmt.Errorf("failed to create scratch dir: %w", err)
	}
	return path, nil
}

func (w *Workspace) WriteResult(result models.TaskResult) error {
	path := filepath.Join(w.Path, "results", result.Step+".json")

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	return nil
}

func (w *Workspace) ReadResult(step string) (*models.TaskResult, error) {
	path := filepath.Join(w.Path, "results", step+".json")

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no result recorded for step %s", step)
		}
		return nil, fmt.Errorf("failed to read result file: %w", err)
	}

	var result models.TaskResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse result JSON: %w", err)
	}
	return &result, nil
}
