// Package worker defines the contract every quill worker implements and the
// registry the engine resolves workers from.
package worker

import (
	"context"

	"github.com/mpataki/quill/internal/models"
)

// Worker executes one task. Execute must not panic or return a Go error:
// every failure is reported as a failure TaskResult with a readable detail.
//
// OutputKeys lists the keys a successful result is guaranteed to carry.
// Plans may only bind to these keys.
type Worker interface {
	Execute(ctx context.Context, task models.Task) models.TaskResult
	OutputKeys() []string
}

// Describer is implemented by workers that can explain themselves to a
// planner oracle.
type Describer interface {
	Description() string
}

// Standard worker identifiers.
const (
	Scanner   = "scanner"
	Extractor = "extractor"
	Uploader  = "uploader"
	Image     = "image"
	Logger    = "logger"
)

// Required lists the workers quill refuses to start without.
var Required = []string{Scanner, Extractor, Uploader, Image, Logger}
