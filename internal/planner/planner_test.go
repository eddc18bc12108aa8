package planner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpataki/quill/internal/logging"
	"github.com/mpataki/quill/internal/models"
	"github.com/mpataki/quill/internal/recipe"
)

type countingOracle struct {
	calls int
	out   []byte
	err   error
}

func (o *countingOracle) Plan(_ context.Context, _ string) ([]byte, error) {
	o.calls++
	return o.out, o.err
}

func TestPlan_StructuredVerbs(t *testing.T) {
	oracle := &countingOracle{}
	p := New(oracle, nil, logging.Discard())
	ctx := context.Background()

	tests := []struct {
		command string
		want    string
	}{
		{"upload posts/hello.md", "[extract:extractor(path = posts/hello.md) → upload:uploader(extract.*)]"},
		{"process posts/hello.md", "[extract:extractor(path = posts/hello.md) → image:image(local_path ← extract.thumbnail_path)]"},
		{"analyze posts", "[scan:scanner(path = posts) → log:logger(scan.*, message = analysis complete)]"},
		{"Upload  posts/a.md", "[extract:extractor(path = posts/a.md) → upload:uploader(extract.*)]"},
	}

	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			plan, err := p.Plan(ctx, models.NewCommand(tt.command))
			require.NoError(t, err)
			assert.Equal(t, models.PlanSourceStructured, plan.Source)
			assert.Equal(t, tt.want, plan.String())
		})
	}

	assert.Zero(t, oracle.calls, "structured commands must not reach the oracle")
}

func TestPlan_RecipeVerb(t *testing.T) {
	oracle := &countingOracle{}
	recipes := map[string]*recipe.Recipe{
		"inspect": {
			Verb: "inspect",
			Steps: []recipe.Step{
				{Name: "scan", Worker: "scanner", Inputs: map[string]any{"path": "$path"}},
			},
		},
	}
	p := New(oracle, recipes, logging.Discard())

	plan, err := p.Plan(context.Background(), models.NewCommand("inspect drafts/2024"))
	require.NoError(t, err)
	assert.Equal(t, models.PlanSourceRecipe, plan.Source)
	assert.Equal(t, []models.Binding{models.Literal("path", "drafts/2024")}, plan.Steps[0].Inputs)
	assert.Zero(t, oracle.calls)
	assert.Equal(t, []string{"upload", "process", "analyze", "inspect"}, p.Verbs())
}

func TestPlan_OracleFallback(t *testing.T) {
	oracle := &countingOracle{out: []byte("Sure!\n```json\n" +
		`{"steps":[{"name":"scan","worker":"scanner","inputs":{"path":"posts"}},{"worker":"logger","spread":["scan"],"refs":{"message":"scan.count"}}]}` +
		"\n```")}
	p := New(oracle, nil, logging.Discard())

	plan, err := p.Plan(context.Background(), models.NewCommand("how many posts do I have?"))
	require.NoError(t, err)
	assert.Equal(t, 1, oracle.calls)
	assert.Equal(t, models.PlanSourceOracle, plan.Source)
	require.Len(t, plan.Steps, 2)
	assert.Equal(t, "logger-2", plan.Steps[1].Name)
	assert.Equal(t, []models.Binding{
		models.Spread("scan"),
		models.Ref("message", "scan", "count"),
	}, plan.Steps[1].Inputs)
}

func TestPlan_Failures(t *testing.T) {
	boom := errors.New("connection refused")

	tests := []struct {
		name   string
		oracle Oracle
		reason string
		is     error
	}{
		{name: "no oracle", oracle: nil, reason: "not a known command", is: ErrNoOracle},
		{name: "oracle error", oracle: &countingOracle{err: boom}, reason: "oracle unavailable", is: boom},
		{name: "oracle timeout", oracle: &countingOracle{err: context.DeadlineExceeded}, reason: "oracle timed out", is: context.DeadlineExceeded},
		{name: "prose only", oracle: &countingOracle{out: []byte("I cannot help with that")}, reason: "unusable oracle output"},
		{name: "broken json", oracle: &countingOracle{out: []byte(`{"steps": [`)}, reason: "unusable oracle output"},
		{name: "schema mismatch", oracle: &countingOracle{out: []byte(`{"steps":[{"name":"x"}]}`)}, reason: "unusable oracle output"},
		{name: "unknown field", oracle: &countingOracle{out: []byte(`{"steps":[{"worker":"scanner","shell":"rm -rf /"}]}`)}, reason: "unusable oracle output"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.oracle, nil, logging.Discard())
			_, err := p.Plan(context.Background(), models.NewCommand("tidy up my blog"))

			var perr *PlanningError
			require.True(t, errors.As(err, &perr), "got %v", err)
			assert.Equal(t, tt.reason, perr.Reason)
			assert.Equal(t, "tidy up my blog", perr.Command)
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
		})
	}
}

func TestPlan_EmptyCommand(t *testing.T) {
	p := New(nil, nil, logging.Discard())
	_, err := p.Plan(context.Background(), models.NewCommand("   "))

	var perr *PlanningError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "empty command", perr.Reason)
}

func TestNormalize_EmptyStepsIsLeftToValidation(t *testing.T) {
	plan, err := Normalize([]byte(`{"steps": []}`))
	require.NoError(t, err)
	assert.Empty(t, plan.Steps)
}

func TestExtractJSON(t *testing.T) {
	assert.Equal(t, `{"a":1}`, string(extractJSON([]byte("```json\n{\"a\":1}\n```"))))
	assert.Equal(t, `{"a":1}`, string(extractJSON([]byte("```\n{\"a\":1}```"))))
	assert.Equal(t, `{"a":{"b":2}}`, string(extractJSON([]byte(`plan: {"a":{"b":2}} done`))))
	assert.Nil(t, extractJSON([]byte("no braces here")))
	assert.Nil(t, extractJSON([]byte("```")))
}
