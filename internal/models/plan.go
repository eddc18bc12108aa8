package models

import (
	"fmt"
	"strings"
)

type PlanSource string

const (
	PlanSourceStructured PlanSource = "structured"
	PlanSourceRecipe     PlanSource = "recipe"
	PlanSourceOracle     PlanSource = "oracle"
)

// ExecutionPlan is an ordered list of worker invocations. A step may only
// reference outputs of steps that come before it.
type ExecutionPlan struct {
	Source PlanSource `json:"source"`
	Steps  []PlanStep `json:"steps"`
}

type PlanStep struct {
	Name   string    `json:"name"`
	Worker string    `json:"worker"`
	Inputs []Binding `json:"inputs,omitempty"`
}

// Binding fills one input of a step. With Step empty it is a literal; with
// Step set and Key set it copies one output key of that step into Target;
// with Step set and Key empty it spreads every output key of that step into
// the input.
type Binding struct {
	Target string `json:"target,omitempty"`
	Value  any    `json:"value"`
	Step   string `json:"step,omitempty"`
	Key    string `json:"key,omitempty"`
}

func Literal(target string, value any) Binding {
	return Binding{Target: target, Value: value}
}

func Ref(target, step, key string) Binding {
	return Binding{Target: target, Step: step, Key: key}
}

func Spread(step string) Binding {
	return Binding{Step: step}
}

func (b Binding) IsRef() bool {
	return b.Step != ""
}

func (b Binding) IsSpread() bool {
	return b.Step != "" && b.Key == ""
}

func (b Binding) String() string {
	switch {
	case b.IsSpread():
		return b.Step + ".*"
	case b.IsRef():
		return fmt.Sprintf("%s ← %s.%s", b.Target, b.Step, b.Key)
	default:
		return fmt.Sprintf("%s = %v", b.Target, b.Value)
	}
}

func (s PlanStep) String() string {
	parts := make([]string, len(s.Inputs))
	for i, in := range s.Inputs {
		parts[i] = in.String()
	}
	return fmt.Sprintf("%s:%s(%s)", s.Name, s.Worker, strings.Join(parts, ", "))
}

func (p ExecutionPlan) String() string {
	parts := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		parts[i] = s.String()
	}
	return "[" + strings.Join(parts, " → ") + "]"
}
