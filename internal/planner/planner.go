// Package planner turns a user command into an ExecutionPlan.
//
// Built-in verbs and recipe verbs are matched first and produce fixed plans.
// Anything else goes to an Oracle, whose output is untrusted and validated
// before use.
package planner

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mpataki/quill/internal/models"
	"github.com/mpataki/quill/internal/recipe"
)

type Planner struct {
	oracle  Oracle
	recipes map[string]*recipe.Recipe
	logger  *slog.Logger
}

// New builds a planner. oracle may be nil, in which case free text commands
// fail with a PlanningError wrapping ErrNoOracle.
func New(oracle Oracle, recipes map[string]*recipe.Recipe, logger *slog.Logger) *Planner {
	if recipes == nil {
		recipes = map[string]*recipe.Recipe{}
	}
	return &Planner{
		oracle:  oracle,
		recipes: recipes,
		logger:  logger.With("component", "planner"),
	}
}

func (p *Planner) Plan(ctx context.Context, cmd models.Command) (models.ExecutionPlan, error) {
	if cmd.Text == "" {
		return models.ExecutionPlan{}, &PlanningError{Command: cmd.Text, Reason: "empty command"}
	}

	if plan, ok := matchStructured(cmd.Text, p.recipes); ok {
		p.logger.DebugContext(ctx, "structured match", "command", cmd.Text, "source", plan.Source)
		return plan, nil
	}

	if p.oracle == nil {
		return models.ExecutionPlan{}, &PlanningError{
			Command: cmd.Text,
			Reason:  "not a known command",
			Err:     ErrNoOracle,
		}
	}

	raw, err := p.oracle.Plan(ctx, cmd.Text)
	if err != nil {
		reason := "oracle unavailable"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "oracle timed out"
		}
		p.logger.WarnContext(ctx, "oracle failed", "command", cmd.Text, "error", err)
		return models.ExecutionPlan{}, &PlanningError{Command: cmd.Text, Reason: reason, Err: err}
	}

	plan, err := Normalize(raw)
	if err != nil {
		p.logger.WarnContext(ctx, "oracle output rejected", "command", cmd.Text, "error", err)
		return models.ExecutionPlan{}, &PlanningError{Command: cmd.Text, Reason: "unusable oracle output", Err: err}
	}

	p.logger.InfoContext(ctx, "oracle plan", "command", cmd.Text, "steps", len(plan.Steps))
	return plan, nil
}

// Verbs lists recipe verbs in addition to the built-ins.
func (p *Planner) Verbs() []string {
	verbs := []string{"upload", "process", "analyze"}
	return append(verbs, sortedKeys(p.recipes)...)
}
