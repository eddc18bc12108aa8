package extractor

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

type frontMatter struct {
	Title       string     `yaml:"title"`
	Slug        string     `yaml:"slug"`
	Description string     `yaml:"description"`
	Summary     string     `yaml:"summary"`
	Tags        stringList `yaml:"tags"`
	Categories  stringList `yaml:"categories"`
	Category    string     `yaml:"category"`
	Date        string     `yaml:"date"`
	Author      string     `yaml:"author"`
	Username    string     `yaml:"username"`
	UserID      int64      `yaml:"user_id"`
	Status      string     `yaml:"status"`
	Thumbnail   string     `yaml:"thumbnail"`
}

// stringList accepts either a YAML sequence or a comma separated scalar.
type stringList []string

func (l *stringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var out []string
		for _, part := range strings.Split(node.Value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		*l = out
		return nil
	case yaml.SequenceNode:
		var raw []string
		if err := node.Decode(&raw); err != nil {
			return err
		}
		out := make([]string, 0, len(raw))
		for _, s := range raw {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		*l = out
		return nil
	}
	return fmt.Errorf("line %d: expected a list or a comma separated string", node.Line)
}

// splitFrontMatter separates a leading --- delimited YAML block from the
// markdown body. Content without a closed block is returned unchanged.
func splitFrontMatter(content []byte) (body, front []byte) {
	lines := bytes.Split(content, []byte("\n"))
	if len(lines) < 2 || !bytes.Equal(bytes.TrimSpace(lines[0]), []byte("---")) {
		return content, nil
	}

	for i := 1; i < len(lines); i++ {
		if bytes.Equal(bytes.TrimSpace(lines[i]), []byte("---")) {
			return bytes.Join(lines[i+1:], []byte("\n")), bytes.Join(lines[1:i], []byte("\n"))
		}
	}
	return content, nil
}

func parseFrontMatter(front []byte) (frontMatter, error) {
	var fm frontMatter
	if len(bytes.TrimSpace(front)) == 0 {
		return fm, nil
	}
	if err := yaml.Unmarshal(front, &fm); err != nil {
		return fm, fmt.Errorf("invalid frontmatter: %w", err)
	}
	return fm, nil
}
