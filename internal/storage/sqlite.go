// Package storage keeps the audit log of runs and their task results in
// sqlite.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mpataki/quill/internal/models"
)

var (
	ErrNotFound  = errors.New("run not found")
	ErrAmbiguous = errors.New("run id prefix matches more than one run")
)

type Storage struct {
	db *sql.DB
}

func New(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite", dbPath+"?_time_format=sqlite")
	if err != nil {
		return nil, err
	}
	// sqlite allows one writer; a single connection also keeps :memory:
	// databases alive across calls.
	db.SetMaxOpenConns(1)

	s := &Storage{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		created_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP,
		command TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		reason TEXT,
		plan TEXT,
		payload TEXT
	);

	CREATE TABLE IF NOT EXISTS task_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES runs(id),
		seq INTEGER NOT NULL,
		task_id TEXT NOT NULL,
		step TEXT NOT NULL,
		worker_id TEXT NOT NULL,
		status TEXT NOT NULL,
		output TEXT,
		error TEXT,
		completed_at TIMESTAMP NOT NULL,
		UNIQUE(run_id, seq)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
	CREATE INDEX IF NOT EXISTS idx_task_results_run ON task_results(run_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *Storage) CreateRun(ctx context.Context, run *models.Run) error {
	plan, err := json.Marshal(run.Plan)
	if err != nil {
		return fmt.Errorf("failed to encode plan: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, created_at, command, status, reason, plan)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.CreatedAt, run.Command.Text, run.Status, run.Reason, string(plan),
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

func (s *Storage) UpdateRun(ctx context.Context, run *models.Run) error {
	plan, err := json.Marshal(run.Plan)
	if err != nil {
		return fmt.Errorf("failed to encode plan: %w", err)
	}
	payload, err := encodePayload(run.Payload)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE runs SET completed_at = ?, status = ?, reason = ?, plan = ?, payload = ? WHERE id = ?`,
		run.CompletedAt, run.Status, run.Reason, string(plan), payload, run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	return nil
}

// AppendResult stores the seq-th result of a run. Results are write-once.
func (s *Storage) AppendResult(ctx context.Context, runID string, seq int, result models.TaskResult) error {
	output, err := encodePayload(result.Output)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO task_results (run_id, seq, task_id, step, worker_id, status, output, error, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, seq, result.TaskID, result.Step, result.WorkerID, result.Status, output, result.Error, result.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append result: %w", err)
	}
	return nil
}

// GetRun loads a run with its results. id may be a unique prefix.
func (s *Storage) GetRun(ctx context.Context, id string) (*models.Run, error) {
	fullID, err := s.resolveID(ctx, id)
	if err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, completed_at, command, status, reason, plan, payload
		 FROM runs WHERE id = ?`, fullID,
	)
	run, err := scanRun(row)
	if err != nil {
		return nil, err
	}

	results, err := s.getResults(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	run.Results = results

	return run, nil
}

func (s *Storage) getResults(ctx context.Context, runID string) ([]models.TaskResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT task_id, step, worker_id, status, output, error, completed_at
		 FROM task_results WHERE run_id = ? ORDER BY seq`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []models.TaskResult
	for rows.Next() {
		var res models.TaskResult
		var output, errText sql.NullString

		err := rows.Scan(&res.TaskID, &res.Step, &res.WorkerID, &res.Status, &output, &errText, &res.CompletedAt)
		if err != nil {
			return nil, err
		}

		if errText.Valid {
			res.Error = errText.String
		}
		if output.Valid && output.String != "" {
			if err := json.Unmarshal([]byte(output.String), &res.Output); err != nil {
				return nil, fmt.Errorf("failed to decode result output: %w", err)
			}
		}

		results = append(results, res)
	}

	return results, rows.Err()
}

// ListRuns returns summaries of the newest runs first.
func (s *Storage) ListRuns(ctx context.Context, limit int) ([]models.RunSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id, r.created_at, r.completed_at, r.command, r.status, r.reason, r.plan, r.payload,
		        (SELECT COUNT(*) FROM task_results t WHERE t.run_id = r.id AND t.status = 'success')
		 FROM runs r ORDER BY r.created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []models.RunSummary
	for rows.Next() {
		var succeeded int
		run, err := scanRun(rows, &succeeded)
		if err != nil {
			return nil, err
		}

		summary := run.Summary()
		summary.Succeeded = succeeded
		summaries = append(summaries, summary)
	}

	return summaries, rows.Err()
}

func (s *Storage) DeleteRun(ctx context.Context, id string) error {
	fullID, err := s.resolveID(ctx, id)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM task_results WHERE run_id = ?`, fullID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, fullID); err != nil {
		return err
	}

	return tx.Commit()
}

// ResolveID expands a unique id prefix to the full run id.
func (s *Storage) ResolveID(ctx context.Context, prefix string) (string, error) {
	return s.resolveID(ctx, prefix)
}

func (s *Storage) resolveID(ctx context.Context, prefix string) (string, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "", ErrNotFound
	}

	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM runs WHERE id LIKE ? ESCAPE '\' LIMIT 2`, escaped+"%",
	)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	switch len(ids) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrNotFound, prefix)
	case 1:
		return ids[0], nil
	default:
		for _, id := range ids {
			if id == prefix {
				return id, nil
			}
		}
		return "", fmt.Errorf("%w: %s", ErrAmbiguous, prefix)
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner, extra ...any) (*models.Run, error) {
	var run models.Run
	var completedAt sql.NullTime
	var reason, plan, payload sql.NullString

	dest := append([]any{
		&run.ID, &run.CreatedAt, &completedAt, &run.Command.Text,
		&run.Status, &reason, &plan, &payload,
	}, extra...)

	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	run.Command.ReceivedAt = run.CreatedAt
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	if reason.Valid {
		run.Reason = reason.String
	}
	if plan.Valid && plan.String != "" {
		if err := json.Unmarshal([]byte(plan.String), &run.Plan); err != nil {
			return nil, fmt.Errorf("failed to decode plan: %w", err)
		}
	}
	if payload.Valid && payload.String != "" {
		if err := json.Unmarshal([]byte(payload.String), &run.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode payload: %w", err)
		}
	}

	return &run, nil
}

func encodePayload(p models.Payload) (*string, error) {
	if p == nil {
		return nil, nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	str := string(data)
	return &str, nil
}

// FormatTimeAgo renders t relative to now for listings.
func FormatTimeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return t.Format("Jan 2")
	}
}
