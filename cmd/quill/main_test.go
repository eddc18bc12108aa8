package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpataki/quill/internal/config"
	"github.com/mpataki/quill/internal/logging"
	"github.com/mpataki/quill/internal/lua"
	"github.com/mpataki/quill/internal/models"
	"github.com/mpataki/quill/internal/publish"
	"github.com/mpataki/quill/internal/worker"
	"github.com/mpataki/quill/internal/workers/uploader"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("QUILL_DATA_DIR", t.TempDir())
	cfg, err := config.New()
	require.NoError(t, err)
	return cfg
}

func TestBuildRegistryRegistersRequiredWorkers(t *testing.T) {
	cfg := testConfig(t)

	posts, err := publish.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "posts.db"), logging.Discard())
	require.NoError(t, err)
	defer posts.Close()

	reg, err := buildRegistry(cfg, uploader.NewFileStore(cfg.AssetsDir(), cfg.Publish.CDNBaseURL), posts, logging.Discard())
	require.NoError(t, err)
	assert.Equal(t, worker.Required, reg.IDs())

	for _, id := range reg.IDs() {
		w, err := reg.Resolve(id)
		require.NoError(t, err)
		_, ok := w.(worker.Describer)
		assert.True(t, ok, "%s describes itself", id)
		assert.NotEmpty(t, w.OutputKeys(), id)
	}
}

func TestNewOracle(t *testing.T) {
	reg := worker.NewRegistry()

	o, err := newOracle(config.PlannerConfig{Provider: "none"}, reg, logging.Discard())
	require.NoError(t, err)
	assert.Nil(t, o)

	_, err = newOracle(config.PlannerConfig{Provider: "lua"}, reg, logging.Discard())
	assert.ErrorContains(t, err, "lua_script")

	_, err = newOracle(config.PlannerConfig{Provider: "lua", LuaScript: filepath.Join(t.TempDir(), "missing.lua")}, reg, logging.Discard())
	assert.ErrorContains(t, err, "lua planner script")

	script := filepath.Join(t.TempDir(), "plan.lua")
	require.NoError(t, os.WriteFile(script, []byte(`function plan(c) decline("no") end`), 0o644))
	o, err = newOracle(config.PlannerConfig{Provider: "lua", LuaScript: script}, reg, logging.Discard())
	require.NoError(t, err)
	assert.IsType(t, &lua.Oracle{}, o)
}

func TestSetupWiresEverything(t *testing.T) {
	testConfig(t)

	rt, err := setup(context.Background(), setupOptions{lock: true, logFile: true})
	require.NoError(t, err)
	defer rt.Close()

	assert.Len(t, rt.agents(), len(worker.Required))
	assert.Contains(t, rt.planner.Verbs(), "upload")
	assert.FileExists(t, filepath.Join(rt.cfg.DataDir, "quill.log"))

	_, err = setup(context.Background(), setupOptions{lock: true})
	assert.ErrorContains(t, err, "another quill process")
}

func TestPrintRun(t *testing.T) {
	color.NoColor = true
	done := time.Now()

	run := &models.Run{
		ID:     "abcdef0123456789",
		Status: models.RunStatusCompleted,
		Plan: models.ExecutionPlan{Steps: []models.PlanStep{
			{Name: "extract", Worker: "extractor"},
			{Name: "upload", Worker: "uploader"},
		}},
		Results: []models.TaskResult{
			{Step: "extract", WorkerID: "extractor", Status: models.TaskStatusSuccess},
			{Step: "upload", WorkerID: "uploader", Status: models.TaskStatusSuccess},
		},
		Payload: models.Payload{
			"published_url": "http://blog/@jane/hello",
			"content":       "long markdown",
			"tags":          []string{"go", "blog"},
		},
		CreatedAt:   done.Add(-time.Second),
		CompletedAt: &done,
	}

	var buf bytes.Buffer
	printRun(&buf, run, nil)
	out := buf.String()
	assert.Contains(t, out, "✓ completed abcdef01")
	assert.Contains(t, out, "✓ upload (uploader)")
	assert.Contains(t, out, "http://blog/@jane/hello")
	assert.Contains(t, out, "go, blog")
	assert.NotContains(t, out, "long markdown")

	buf.Reset()
	printRun(&buf, nil, errors.New("cannot plan \"hello\": not a known command"))
	assert.Contains(t, buf.String(), "✗ cannot plan")

	buf.Reset()
	printRunDetail(&buf, run)
	assert.Contains(t, buf.String(), "Run abcdef0123456789")
	assert.Contains(t, buf.String(), "2. ✓ upload (uploader)")
}
