// Package recipe loads user-defined command verbs from YAML files.
//
// A recipe maps a verb such as "publish" to a fixed list of worker steps.
// Input values are interpreted when the recipe is expanded:
//
//	$path        the command argument
//	step.key     one output key of an earlier step
//	step.*       every output key of an earlier step
//
// Anything else is passed through as a literal.
package recipe

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mpataki/quill/internal/models"
)

const (
	ArgPlaceholder = "$path"
	spreadKey      = "*"
)

// Reserved verbs cannot be redefined by a recipe.
var Reserved = map[string]bool{
	"upload":  true,
	"process": true,
	"analyze": true,
	"status":  true,
	"agents":  true,
	"history": true,
	"help":    true,
	"exit":    true,
	"quit":    true,
}

var verbPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

type Recipe struct {
	Verb        string `yaml:"verb"`
	Description string `yaml:"description"`
	Steps       []Step `yaml:"steps"`

	// Path is the file the recipe was loaded from.
	Path string `yaml:"-"`
}

type Step struct {
	Name   string         `yaml:"name"`
	Worker string         `yaml:"worker"`
	Inputs map[string]any `yaml:"inputs"`
}

func Parse(path string) (*Recipe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read recipe file: %w", err)
	}

	var r Recipe
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse recipe YAML: %w", err)
	}
	r.Path = path

	if r.Verb == "" {
		base := filepath.Base(path)
		r.Verb = strings.TrimSuffix(strings.TrimSuffix(base, ".yaml"), ".yml")
	}
	r.Verb = strings.ToLower(r.Verb)

	for i := range r.Steps {
		if r.Steps[i].Name == "" {
			r.Steps[i].Name = r.Steps[i].Worker
		}
	}

	return &r, nil
}

// LoadAll reads every recipe in dirs. Later directories override earlier
// ones, so project recipes win over user recipes.
func LoadAll(dirs []string) (map[string]*Recipe, error) {
	recipes := make(map[string]*Recipe)

	for _, dir := range dirs {
		if err := loadFromDir(dir, recipes); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
	}

	return recipes, nil
}

func loadFromDir(dir string, recipes map[string]*Recipe) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		path := filepath.Join(dir, name)
		r, err := Parse(path)
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
		if err := Validate(r); err != nil {
			return fmt.Errorf("invalid recipe %s: %w", path, err)
		}

		recipes[r.Verb] = r
	}

	return nil
}

// Validate checks the recipe's shape. Whether workers exist is left to plan
// validation in the engine.
func Validate(r *Recipe) error {
	if !verbPattern.MatchString(r.Verb) {
		return fmt.Errorf("recipe verb %q must be a single lowercase word", r.Verb)
	}
	if Reserved[r.Verb] {
		return fmt.Errorf("recipe verb %q is reserved", r.Verb)
	}
	if len(r.Steps) == 0 {
		return fmt.Errorf("recipe %q must define at least one step", r.Verb)
	}

	seen := make(map[string]bool, len(r.Steps))
	for _, step := range r.Steps {
		if step.Worker == "" {
			return fmt.Errorf("step %q must name a worker", step.Name)
		}
		if seen[step.Name] {
			return fmt.Errorf("duplicate step name %q", step.Name)
		}

		for target, value := range step.Inputs {
			ref, ok := value.(string)
			if !ok {
				continue
			}
			from, _, isRef := splitRef(ref)
			if !isRef {
				continue
			}
			if !seen[from] {
				if from == step.Name {
					return fmt.Errorf("step %q input %q references itself", step.Name, target)
				}
				// Only treat it as a reference when it names a step at all.
				if r.hasStep(from) {
					return fmt.Errorf("step %q input %q references later step %q", step.Name, target, from)
				}
			}
		}

		seen[step.Name] = true
	}

	return nil
}

func (r *Recipe) hasStep(name string) bool {
	for _, s := range r.Steps {
		if s.Name == name {
			return true
		}
	}
	return false
}

// Plan expands the recipe for one command argument.
func (r *Recipe) Plan(arg string) models.ExecutionPlan {
	plan := models.ExecutionPlan{Source: models.PlanSourceRecipe}
	earlier := make(map[string]bool, len(r.Steps))

	for _, s := range r.Steps {
		step := models.PlanStep{Name: s.Name, Worker: s.Worker}

		targets := make([]string, 0, len(s.Inputs))
		for target := range s.Inputs {
			targets = append(targets, target)
		}
		sort.Strings(targets)

		var spreads, refs, literals []models.Binding
		for _, target := range targets {
			value := s.Inputs[target]
			str, isString := value.(string)
			if !isString {
				literals = append(literals, models.Literal(target, value))
				continue
			}
			if str == ArgPlaceholder {
				literals = append(literals, models.Literal(target, arg))
				continue
			}
			if from, key, ok := splitRef(str); ok && earlier[from] {
				if key == spreadKey {
					spreads = append(spreads, models.Spread(from))
				} else {
					refs = append(refs, models.Ref(target, from, key))
				}
				continue
			}
			literals = append(literals, models.Literal(target, str))
		}

		// Spreads first so explicit inputs override spread keys.
		step.Inputs = append(append(spreads, refs...), literals...)
		plan.Steps = append(plan.Steps, step)
		earlier[s.Name] = true
	}

	return plan
}

func splitRef(s string) (step, key string, ok bool) {
	step, key, ok = strings.Cut(s, ".")
	if !ok || step == "" || key == "" || strings.ContainsAny(step, "/ ") {
		return "", "", false
	}
	return step, key, true
}
