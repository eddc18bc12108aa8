package planner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"

	"github.com/mpataki/quill/internal/worker"
)

// LLMOracle asks a language model for a plan. The model sees the registered
// workers, their output keys and the plan schema.
type LLMOracle struct {
	model    llms.Model
	registry *worker.Registry
	logger   *slog.Logger
}

func NewLLMOracle(model llms.Model, registry *worker.Registry, logger *slog.Logger) *LLMOracle {
	return &LLMOracle{
		model:    model,
		registry: registry,
		logger:   logger.With("component", "llm_oracle"),
	}
}

func (o *LLMOracle) Plan(ctx context.Context, command string) ([]byte, error) {
	messages := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, o.systemPrompt()),
		llms.TextParts(schema.ChatMessageTypeHuman, command),
	}

	o.logger.DebugContext(ctx, "requesting plan", "command", command)
	resp, err := o.model.GenerateContent(ctx, messages, llms.WithTemperature(0))
	if err != nil {
		return nil, fmt.Errorf("model call failed: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, fmt.Errorf("model returned no choices")
	}

	return []byte(resp.Choices[0].Content), nil
}

func (o *LLMOracle) systemPrompt() string {
	var b strings.Builder

	b.WriteString("You plan work for quill, a markdown blog publishing tool.\n")
	b.WriteString("Turn the user's request into an ordered list of worker steps.\n\n")
	b.WriteString("Available workers:\n")
	for _, id := range o.registry.IDs() {
		w, err := o.registry.Resolve(id)
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "- %s", id)
		if d, ok := w.(worker.Describer); ok {
			fmt.Fprintf(&b, ": %s", d.Description())
		}
		fmt.Fprintf(&b, " (outputs: %s)\n", strings.Join(w.OutputKeys(), ", "))
	}

	b.WriteString("\nRules:\n")
	b.WriteString("- \"inputs\" holds literal values.\n")
	b.WriteString("- \"refs\" maps an input name to \"<earlier step>.<output key>\".\n")
	b.WriteString("- \"spread\" lists earlier steps whose whole output becomes input.\n")
	b.WriteString("- Only reference steps that come earlier and only keys listed above.\n\n")
	b.WriteString("Respond with a single JSON object matching this schema and nothing else:\n")
	b.WriteString(PlanSchema)
	b.WriteString("\n")

	return b.String()
}
