// Package image resizes post images for social previews.
package image

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/mpataki/quill/internal/models"
)

var outputKeys = []string{"output_path", "target_size", "original_size"}

type Worker struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Worker {
	return &Worker{logger: logger.With("component", "image")}
}

func (w *Worker) OutputKeys() []string { return outputKeys }

func (w *Worker) Description() string {
	return "Letterboxes an image onto a transparent PNG canvas (default 1200x630). Input: local_path, optional output_path, width, height."
}

func (w *Worker) Execute(ctx context.Context, task models.Task) models.TaskResult {
	src := task.Input.GetString("local_path")
	if src == "" {
		return models.Failure(task, "local_path is required")
	}
	if err := ctx.Err(); err != nil {
		return models.Failure(task, err.Error())
	}

	width, _ := task.Input.GetInt("width")
	height, _ := task.Input.GetInt("height")
	if width < 0 || height < 0 {
		return models.Failure(task, "width and height must be positive")
	}
	r := NewResizer(int(width), int(height))

	dst := task.Input.GetString("output_path")
	if dst == "" {
		dst = defaultOutput(src, task.ScratchDir, r)
	}

	res, err := r.Resize(src, dst)
	if err != nil {
		return models.Failure(task, err.Error())
	}

	w.logger.InfoContext(ctx, "image resized",
		"source", src, "output", res.Path,
		"from", fmt.Sprintf("%dx%d", res.SourceWidth, res.SourceHeight),
		"to", fmt.Sprintf("%dx%d", res.Width, res.Height))

	return models.Success(task, models.Payload{
		"output_path":   res.Path,
		"target_size":   []int{res.Width, res.Height},
		"original_size": []int{res.SourceWidth, res.SourceHeight},
	})
}

// defaultOutput writes into the task scratch dir when there is one, else
// next to the source as <name>_og.png.
func defaultOutput(src, scratch string, r *Resizer) string {
	name := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	suffix := "_og"
	if r.Width != OGWidth || r.Height != OGHeight {
		suffix = fmt.Sprintf("_%dx%d", r.Width, r.Height)
	}
	dir := scratch
	if dir == "" {
		dir = filepath.Dir(src)
	}
	return filepath.Join(dir, name+suffix+".png")
}
