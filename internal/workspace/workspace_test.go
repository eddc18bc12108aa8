package workspace

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpataki/quill/internal/models"
)

func TestWorkspaceLifecycle(t *testing.T) {
	base := t.TempDir()

	w, err := Create(base, "abc123")
	require.NoError(t, err)

	opened, err := Open(base, "abc123")
	require.NoError(t, err)
	assert.Equal(t, w.Path, opened.Path)

	meta := &RunMetadata{RunID: "abc123", Command: "upload a.md", Status: models.RunStatusRunning, CurrentStep: "extract"}
	require.NoError(t, w.WriteRunMetadata(meta))

	got, err := w.ReadRunMetadata()
	require.NoError(t, err)
	assert.Equal(t, "upload a.md", got.Command)
	assert.Equal(t, "extract", got.CurrentStep)
	assert.False(t, got.UpdatedAt.IsZero())

	scratch, err := w.CreateScratchDir("upload")
	require.NoError(t, err)
	info, err := os.Stat(scratch)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	res := models.TaskResult{TaskID: "t1", Step: "extract", Status: models.TaskStatusSuccess, Output: models.Payload{"slug": "a"}}
	require.NoError(t, w.WriteResult(res))
	read, err := w.ReadResult("extract")
	require.NoError(t, err)
	assert.Equal(t, "a", read.Output["slug"])

	_, err = w.ReadResult("upload")
	assert.ErrorContains(t, err, "no result recorded")

	require.NoError(t, Remove(base, "abc123"))
	_, err = Open(base, "abc123")
	assert.Error(t, err)
	assert.NoError(t, Remove(base, "abc123"))
}

func TestCreate_RejectsBadIDs(t *testing.T) {
	base := t.TempDir()
	for _, id := range []string{"", "../escape", `a\b`} {
		_, err := Create(base, id)
		assert.Error(t, err, id)
	}
}
