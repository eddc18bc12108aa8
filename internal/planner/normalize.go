package planner

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/mpataki/quill/internal/models"
)

// PlanSchema is the JSON document an oracle must produce.
//
//	{"steps": [
//	  {"name": "extract", "worker": "extractor", "inputs": {"path": "posts/a.md"}},
//	  {"name": "upload", "worker": "uploader", "spread": ["extract"]},
//	  {"name": "log", "worker": "logger", "refs": {"message": "upload.published_url"}}
//	]}
const PlanSchema = `{
  "type": "object",
  "required": ["steps"],
  "properties": {
    "steps": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["worker"],
        "additionalProperties": false,
        "properties": {
          "name": {"type": "string"},
          "worker": {"type": "string", "minLength": 1},
          "inputs": {"type": "object"},
          "refs": {
            "type": "object",
            "additionalProperties": {"type": "string", "pattern": "^[^.\\s]+\\.[^\\s]+$"}
          },
          "spread": {"type": "array", "items": {"type": "string", "minLength": 1}}
        }
      }
    }
  }
}`

var planSchemaLoader = gojsonschema.NewStringLoader(PlanSchema)

type rawPlan struct {
	Steps []rawStep `json:"steps"`
}

type rawStep struct {
	Name   string            `json:"name"`
	Worker string            `json:"worker"`
	Inputs map[string]any    `json:"inputs"`
	Refs   map[string]string `json:"refs"`
	Spread []string          `json:"spread"`
}

// Normalize turns raw oracle output into an ExecutionPlan. It strips
// markdown code fences and surrounding prose, validates the document
// against PlanSchema and converts it. Whether the plan can actually run is
// decided later by the engine.
func Normalize(raw []byte) (models.ExecutionPlan, error) {
	doc := extractJSON(raw)
	if len(doc) == 0 {
		return models.ExecutionPlan{}, fmt.Errorf("oracle returned no JSON object")
	}

	result, err := gojsonschema.Validate(planSchemaLoader, gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return models.ExecutionPlan{}, fmt.Errorf("oracle output is not valid JSON: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return models.ExecutionPlan{}, fmt.Errorf("oracle output does not match plan schema: %s", strings.Join(msgs, "; "))
	}

	var rp rawPlan
	if err := json.Unmarshal(doc, &rp); err != nil {
		return models.ExecutionPlan{}, fmt.Errorf("failed to decode oracle plan: %w", err)
	}

	plan := models.ExecutionPlan{Source: models.PlanSourceOracle}
	for i, rs := range rp.Steps {
		name := rs.Name
		if name == "" {
			name = fmt.Sprintf("%s-%d", rs.Worker, i+1)
		}

		step := models.PlanStep{Name: name, Worker: rs.Worker}
		for _, from := range rs.Spread {
			step.Inputs = append(step.Inputs, models.Spread(from))
		}
		for _, target := range sortedKeys(rs.Refs) {
			from, key, _ := strings.Cut(rs.Refs[target], ".")
			step.Inputs = append(step.Inputs, models.Ref(target, from, key))
		}
		for _, target := range sortedKeys(rs.Inputs) {
			step.Inputs = append(step.Inputs, models.Literal(target, rs.Inputs[target]))
		}
		plan.Steps = append(plan.Steps, step)
	}

	return plan, nil
}

// extractJSON strips code fences and anything outside the outermost
// braces.
func extractJSON(raw []byte) []byte {
	doc := bytes.TrimSpace(raw)
	if bytes.HasPrefix(doc, []byte("```")) {
		if nl := bytes.IndexByte(doc, '\n'); nl >= 0 {
			doc = doc[nl+1:]
		} else {
			doc = nil
		}
		doc = bytes.TrimSpace(bytes.TrimSuffix(bytes.TrimSpace(doc), []byte("```")))
	}

	start := bytes.IndexByte(doc, '{')
	end := bytes.LastIndexByte(doc, '}')
	if start < 0 || end < start {
		return nil
	}
	return doc[start : end+1]
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
