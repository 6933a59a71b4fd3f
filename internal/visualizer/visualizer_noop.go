//go:build !viz

// Package visualizer's default (non-viz) build: DrawFrame is always a
// no-op, so callers can wire a Visualizer unconditionally and only pay for
// actual PNG rendering when built with `-tags viz`.
package visualizer

import (
	"image"

	"github.com/rs/zerolog"

	"github.com/simonll4/worker-ai-core/internal/tracker"
)

// Config mirrors the viz-tagged Config so call sites compile identically
// either way.
type Config struct {
	Enabled    bool
	WindowName string
	OutputDir  string
	Logger     zerolog.Logger
}

// Visualizer is a no-op stand-in when built without the viz tag.
type Visualizer struct{}

// New returns a Visualizer whose DrawFrame never writes anything.
func New(cfg Config) *Visualizer { return &Visualizer{} }

// DrawFrame is a no-op in the default build.
func (v *Visualizer) DrawFrame(sessionID string, img *image.RGBA, tracks []*tracker.Track) error {
	return nil
}
