// Package scanner finds markdown posts on disk.
package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mpataki/quill/internal/models"
)

var outputKeys = []string{"root", "files", "count", "total_bytes"}

type Scanner struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Scanner {
	return &Scanner{logger: logger.With("component", "scanner")}
}

func (s *Scanner) OutputKeys() []string { return outputKeys }

func (s *Scanner) Description() string {
	return "Finds markdown posts under a file or directory. Input: path."
}

func (s *Scanner) Execute(ctx context.Context, task models.Task) models.TaskResult {
	path := task.Input.GetString("path")
	if path == "" {
		return models.Failure(task, "path is required")
	}

	root, err := filepath.Abs(path)
	if err != nil {
		return models.Failure(task, fmt.Sprintf("invalid path %q: %v", path, err))
	}

	info, err := os.Stat(root)
	if err != nil {
		return models.Failure(task, fmt.Sprintf("cannot read %s: %v", path, err))
	}

	var (
		files []string
		total int64
	)

	if !info.IsDir() {
		if !isMarkdown(root) {
			return models.Failure(task, fmt.Sprintf("%s is not a markdown file", path))
		}
		files = []string{root}
		total = info.Size()
	} else {
		err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if d.IsDir() {
				if p != root && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if !isMarkdown(p) {
				return nil
			}
			fi, err := d.Info()
			if err != nil {
				return err
			}
			files = append(files, p)
			total += fi.Size()
			return nil
		})
		if err != nil {
			return models.Failure(task, fmt.Sprintf("scan of %s failed: %v", path, err))
		}
		sort.Strings(files)
	}

	s.logger.InfoContext(ctx, "scan complete", "root", root, "files", len(files), "bytes", total)

	if files == nil {
		files = []string{}
	}
	return models.Success(task, models.Payload{
		"root":        root,
		"files":       files,
		"count":       len(files),
		"total_bytes": total,
	})
}

func isMarkdown(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return true
	}
	return false
}
