package planner

import (
	"regexp"
	"strings"

	"github.com/mpataki/quill/internal/models"
	"github.com/mpataki/quill/internal/recipe"
	"github.com/mpataki/quill/internal/worker"
)

var structuredPattern = regexp.MustCompile(`(?i)^(upload|process|analyze)\s+(\S+)$`)

// builtinPlan returns the fixed plan for the three built-in verbs.
func builtinPlan(verb, path string) models.ExecutionPlan {
	var steps []models.PlanStep

	switch verb {
	case "upload":
		steps = []models.PlanStep{
			{Name: "extract", Worker: worker.Extractor, Inputs: []models.Binding{models.Literal("path", path)}},
			{Name: "upload", Worker: worker.Uploader, Inputs: []models.Binding{models.Spread("extract")}},
		}
	case "process":
		steps = []models.PlanStep{
			{Name: "extract", Worker: worker.Extractor, Inputs: []models.Binding{models.Literal("path", path)}},
			{Name: "image", Worker: worker.Image, Inputs: []models.Binding{models.Ref("local_path", "extract", "thumbnail_path")}},
		}
	case "analyze":
		steps = []models.PlanStep{
			{Name: "scan", Worker: worker.Scanner, Inputs: []models.Binding{models.Literal("path", path)}},
			{Name: "log", Worker: worker.Logger, Inputs: []models.Binding{
				models.Spread("scan"),
				models.Literal("message", "analysis complete"),
			}},
		}
	}

	return models.ExecutionPlan{Source: models.PlanSourceStructured, Steps: steps}
}

// matchStructured recognises built-in verbs and recipe verbs. It never
// consults the oracle.
func matchStructured(text string, recipes map[string]*recipe.Recipe) (models.ExecutionPlan, bool) {
	if m := structuredPattern.FindStringSubmatch(text); m != nil {
		return builtinPlan(strings.ToLower(m[1]), m[2]), true
	}

	fields := strings.Fields(text)
	if len(fields) == 0 {
		return models.ExecutionPlan{}, false
	}
	if r, ok := recipes[strings.ToLower(fields[0])]; ok {
		arg := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(text), fields[0]))
		return r.Plan(arg), true
	}

	return models.ExecutionPlan{}, false
}
