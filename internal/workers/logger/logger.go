// Package logger records a structured log entry as a plan step, usually the
// last one of a run.
package logger

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/mpataki/quill/internal/models"
)

var outputKeys = []string{"logged_at", "level"}

// summaryKeys are surfaced first when present.
var summaryKeys = []string{
	"title", "slug", "article_id", "categories", "tags", "image_count", "published_url",
}

type Logger struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Logger {
	return &Logger{logger: logger.With("component", "logger")}
}

func (l *Logger) OutputKeys() []string { return outputKeys }

func (l *Logger) Description() string {
	return "Writes one structured log record. Input: message, optional level (debug|info|warn|error), any extra fields."
}

func (l *Logger) Execute(ctx context.Context, task models.Task) models.TaskResult {
	levelName := strings.ToLower(task.Input.GetString("level"))
	if levelName == "" {
		levelName = "info"
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(levelName)); err != nil {
		return models.Failure(task, "unknown level "+levelName)
	}

	message := task.Input.GetString("message")
	if message == "" {
		message = "run summary"
	}

	l.logger.LogAttrs(ctx, level, message, attrs(task)...)

	return models.Success(task, models.Payload{
		"logged_at": time.Now().UTC().Format(time.RFC3339),
		"level":     strings.ToLower(level.String()),
	})
}

// attrs flattens the input into log attributes, summary keys first, the
// rest sorted. Bulky fields are reduced to their size.
func attrs(task models.Task) []slog.Attr {
	out := []slog.Attr{slog.String("run_id", task.RunID)}
	seen := map[string]bool{"message": true, "level": true}

	for _, k := range summaryKeys {
		if v, ok := task.Input[k]; ok {
			out = append(out, slog.Any(k, v))
			seen[k] = true
		}
	}

	rest := make([]string, 0, len(task.Input))
	for k := range task.Input {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)

	for _, k := range rest {
		switch v := task.Input[k].(type) {
		case string:
			if len(v) > 200 {
				out = append(out, slog.Int(k+"_len", len(v)))
				continue
			}
			out = append(out, slog.String(k, v))
		case []any:
			out = append(out, slog.Int(k+"_count", len(v)))
		case map[string]any:
			out = append(out, slog.Int(k+"_fields", len(v)))
		default:
			out = append(out, slog.Any(k, v))
		}
	}
	return out
}
