package orchestrator

import (
	"fmt"
	"slices"

	"github.com/mpataki/quill/internal/models"
	"github.com/mpataki/quill/internal/worker"
)

// Validate checks a plan without running anything. It is pure: the same
// plan against the same registry always gives the same answer.
func (e *Engine) Validate(plan models.ExecutionPlan) error {
	return validatePlan(plan, e.registry)
}

func validatePlan(plan models.ExecutionPlan, registry *worker.Registry) error {
	if len(plan.Steps) == 0 {
		return &InvalidPlanError{Reason: "plan has no steps"}
	}

	// step name -> output keys of its worker
	earlier := make(map[string][]string, len(plan.Steps))

	for i, step := range plan.Steps {
		if step.Name == "" {
			return &InvalidPlanError{Reason: fmt.Sprintf("step %d has no name", i+1)}
		}
		if _, dup := earlier[step.Name]; dup {
			return &InvalidPlanError{Step: step.Name, Reason: "duplicate step name"}
		}

		w, err := registry.Resolve(step.Worker)
		if err != nil {
			return &InvalidPlanError{Step: step.Name, Reason: "unresolvable worker", Err: err}
		}

		for _, b := range step.Inputs {
			if !b.IsRef() {
				if b.Target == "" {
					return &InvalidPlanError{Step: step.Name, Reason: "literal input has no target"}
				}
				continue
			}

			keys, ok := earlier[b.Step]
			if !ok {
				if b.Step == step.Name {
					return &InvalidPlanError{Step: step.Name, Reason: "input references its own step"}
				}
				return &InvalidPlanError{Step: step.Name, Reason: fmt.Sprintf("input references step %q, which does not run before it", b.Step)}
			}
			if b.IsSpread() {
				continue
			}
			if b.Target == "" {
				return &InvalidPlanError{Step: step.Name, Reason: fmt.Sprintf("reference to %s.%s has no target", b.Step, b.Key)}
			}
			if !slices.Contains(keys, b.Key) {
				return &InvalidPlanError{Step: step.Name, Reason: fmt.Sprintf("step %q does not output key %q", b.Step, b.Key)}
			}
		}

		earlier[step.Name] = w.OutputKeys()
	}

	return nil
}

// bindInputs builds a step's input from literals and earlier outputs,
// applying bindings in order so later bindings win.
func bindInputs(step models.PlanStep, outputs map[string]models.Payload) (models.Payload, error) {
	input := models.Payload{}

	for _, b := range step.Inputs {
		switch {
		case b.IsSpread():
			out, ok := outputs[b.Step]
			if !ok {
				return nil, &BindingError{Step: step.Name, From: b.Step}
			}
			input.Merge(out)
		case b.IsRef():
			out := outputs[b.Step]
			if !out.Has(b.Key) {
				return nil, &BindingError{Step: step.Name, Target: b.Target, From: b.Step, Key: b.Key}
			}
			input[b.Target] = out[b.Key]
		default:
			input[b.Target] = b.Value
		}
	}

	return input, nil
}

// aggregate merges step outputs in plan order; later steps overwrite
// earlier keys.
func aggregate(results []models.TaskResult) models.Payload {
	out := models.Payload{}
	for _, res := range results {
		if res.Succeeded() {
			out.Merge(res.Output)
		}
	}
	return out
}
