package lua

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpataki/quill/internal/logging"
	"github.com/mpataki/quill/internal/models"
	"github.com/mpataki/quill/internal/planner"
	"github.com/mpataki/quill/internal/worker"
)

type keyedWorker struct{ keys []string }

func (w keyedWorker) Execute(_ context.Context, task models.Task) models.TaskResult {
	return models.Success(task, models.Payload{})
}
func (w keyedWorker) OutputKeys() []string { return w.keys }

const publishScript = `
function plan(command)
  local path = command:match("^publish%s+(%S+)$")
  if not path then
    decline("only publish is supported")
  end
  log("planning " .. path)
  return { steps = {
    { name = "extract", worker = "extractor", inputs = { path = path, word_limit = 800 } },
    { name = "upload", worker = "uploader", spread = { "extract" } },
  } }
end
`

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "planner.lua")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestOracle_PlanNormalizes(t *testing.T) {
	o := NewOracle(writeScript(t, publishScript), nil, logging.Discard())

	raw, err := o.Plan(context.Background(), "publish posts/hello.md")
	require.NoError(t, err)

	plan, err := planner.Normalize(raw)
	require.NoError(t, err)
	require.Len(t, plan.Steps, 2)
	assert.Equal(t, "extractor", plan.Steps[0].Worker)
	assert.Contains(t, plan.Steps[0].Inputs, models.Literal("path", "posts/hello.md"))
	assert.Contains(t, plan.Steps[0].Inputs, models.Literal("word_limit", float64(800)))
	assert.Equal(t, []models.Binding{models.Spread("extract")}, plan.Steps[1].Inputs)
}

func TestOracle_Decline(t *testing.T) {
	o := NewOracle(writeScript(t, publishScript), nil, logging.Discard())

	_, err := o.Plan(context.Background(), "delete everything")
	var declined *DeclinedError
	require.True(t, errors.As(err, &declined))
	assert.Equal(t, "only publish is supported", declined.Reason)
}

func TestOracle_Sandbox(t *testing.T) {
	tests := []struct {
		name   string
		script string
	}{
		{"dofile", `function plan(c) dofile("/etc/passwd") end`},
		{"load", `function plan(c) load("return 1")() end`},
		{"print", `function plan(c) print("hi") end`},
		{"os", `function plan(c) os.execute("true") end`},
		{"io", `function plan(c) io.open("/tmp/x", "w") end`},
		{"random", `function plan(c) return { steps = { { worker = tostring(math.random()) } } } end`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewOracle(writeScript(t, tt.script), nil, logging.Discard())
			_, err := o.Plan(context.Background(), "anything")
			assert.Error(t, err)
		})
	}
}

func TestOracle_ScriptErrors(t *testing.T) {
	tests := []struct {
		name    string
		script  string
		wantErr string
	}{
		{"no plan function", `x = 1`, "must define a 'plan' function"},
		{"syntax error", `function plan(`, "failed to load script"},
		{"non table return", `function plan(c) return "extract" end`, "must return a table"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewOracle(writeScript(t, tt.script), nil, logging.Discard())
			_, err := o.Plan(context.Background(), "x")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	_, err := NewOracle("/does/not/exist.lua", nil, logging.Discard()).Plan(context.Background(), "x")
	assert.ErrorContains(t, err, "failed to read script")
}

func TestOracle_WorkersAPI(t *testing.T) {
	reg := worker.NewRegistry()
	require.NoError(t, reg.Register("scanner", keyedWorker{keys: []string{"root", "count"}}))

	script := `
function plan(c)
  local keys = workers()["scanner"]
  return { steps = { { worker = "logger", inputs = { message = keys[2] } } } }
end`
	o := NewOracle(writeScript(t, script), reg, logging.Discard())

	raw, err := o.Plan(context.Background(), "x")
	require.NoError(t, err)
	assert.JSONEq(t, `{"steps":[{"worker":"logger","inputs":{"message":"count"}}]}`, string(raw))
}

func TestOracle_ContextCancelStopsLoop(t *testing.T) {
	o := NewOracle(writeScript(t, `function plan(c) while true do end end`), nil, logging.Discard())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := o.Plan(ctx, "x")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestOracle_EmptyTablesBecomeLists(t *testing.T) {
	o := NewOracle(writeScript(t, `
function plan(command)
  if command == "nothing" then
    return { steps = {} }
  end
  return { steps = { { name = "scan", worker = "scanner", inputs = { path = "posts" }, spread = {} } } }
end
`), nil, logging.Discard())

	raw, err := o.Plan(context.Background(), "nothing")
	require.NoError(t, err)
	assert.JSONEq(t, `{"steps":[]}`, string(raw))

	plan, err := planner.Normalize(raw)
	require.NoError(t, err)
	assert.Empty(t, plan.Steps)

	raw, err = o.Plan(context.Background(), "scan")
	require.NoError(t, err)
	plan, err = planner.Normalize(raw)
	require.NoError(t, err)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, []models.Binding{models.Literal("path", "posts")}, plan.Steps[0].Inputs)
}
