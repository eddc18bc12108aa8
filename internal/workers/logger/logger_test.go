package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpataki/quill/internal/models"
)

func newCapture() (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	h := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return New(slog.New(h)), &buf
}

func TestLogsOneRecord(t *testing.T) {
	l, buf := newCapture()

	res := l.Execute(context.Background(), models.Task{
		RunID: "run-1",
		Input: models.Payload{
			"message":       "upload complete",
			"published_url": "http://blog/@jane/hello",
			"slug":          "hello",
			"content":       strings.Repeat("x", 500),
			"images":        []any{1, 2},
			"extra":         7,
		},
	})
	require.True(t, res.Succeeded(), res.Error)
	assert.Equal(t, "info", res.Output["level"])
	assert.NotEmpty(t, res.Output["logged_at"])

	line := buf.String()
	assert.Equal(t, 1, strings.Count(line, "\n"))
	assert.Contains(t, line, `msg="upload complete"`)
	assert.Contains(t, line, "run_id=run-1")
	assert.Contains(t, line, "published_url=http://blog/@jane/hello")
	assert.Contains(t, line, "content_len=500")
	assert.Contains(t, line, "images_count=2")
	assert.Contains(t, line, "extra=7")
	assert.Less(t, strings.Index(line, "slug="), strings.Index(line, "content_len="), "summary keys first")
}

func TestLevels(t *testing.T) {
	l, buf := newCapture()

	res := l.Execute(context.Background(), models.Task{Input: models.Payload{"level": "WARN"}})
	require.True(t, res.Succeeded())
	assert.Equal(t, "warn", res.Output["level"])
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), `msg="run summary"`)

	res = l.Execute(context.Background(), models.Task{Input: models.Payload{"level": "loud"}})
	assert.Equal(t, models.TaskStatusFailure, res.Status)
	assert.Contains(t, res.Error, "unknown level loud")
}
