//go:build viz

// Package visualizer implements spec.md's optional, feature-flagged
// "local window rendering" as a PNG dumper rather than an actual window:
// no GUI-rendering library (no gocv, no fyne) appears anywhere in the
// retrieved corpus, so the rendering backend is the stdlib's image/png,
// one file per rendered frame, under
// <output_dir>/<session_id>/viz/frame-NNNNNNNN.png. The feature flag
// (build tag) and the "local rendering, off by default" behavior are
// preserved; only the backend differs, documented in DESIGN.md as a
// deliberate simplification rather than a silent scope cut.
package visualizer

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/simonll4/worker-ai-core/internal/tracker"
)

// Config tunes the Visualizer (spec §6.3 Visualization: {enabled,
// window_name}). WindowName is carried for config compatibility only: there
// is no window to title, and the output path does not use it.
type Config struct {
	Enabled    bool
	WindowName string
	OutputDir  string
	Logger     zerolog.Logger
}

// Visualizer renders frames with track overlays to disk when enabled.
type Visualizer struct {
	cfg     Config
	log     zerolog.Logger
	frameNo map[string]int
}

// New constructs a Visualizer; a disabled Visualizer's DrawFrame is a
// no-op so callers needn't branch on cfg.Enabled themselves.
func New(cfg Config) *Visualizer {
	if cfg.WindowName == "" {
		cfg.WindowName = "worker-ai"
	}
	return &Visualizer{
		cfg:     cfg,
		log:     cfg.Logger.With().Str("component", "visualizer").Logger(),
		frameNo: make(map[string]int),
	}
}

// DrawFrame overlays tracks onto img and writes it as
// <output_dir>/<session_id>/viz/frame-NNNNNNNN.png. A no-op if the
// visualizer is disabled or sessionID is empty (no session to file under).
func (v *Visualizer) DrawFrame(sessionID string, img *image.RGBA, tracks []*tracker.Track) error {
	if !v.cfg.Enabled || sessionID == "" {
		return nil
	}

	dir := filepath.Join(v.cfg.OutputDir, sessionID, "viz")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "visualizer: create %s", dir)
	}

	overlay := cloneRGBA(img)
	for _, tr := range tracks {
		drawTrackBox(overlay, tr)
	}

	n := v.frameNo[sessionID]
	v.frameNo[sessionID] = n + 1
	path := filepath.Join(dir, fmt.Sprintf("frame-%08d.png", n))

	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "visualizer: create %s", path)
	}
	defer f.Close()

	if err := png.Encode(f, overlay); err != nil {
		return eris.Wrapf(err, "visualizer: encode %s", path)
	}
	return nil
}

func cloneRGBA(img *image.RGBA) *image.RGBA {
	dst := image.NewRGBA(img.Bounds())
	draw.Draw(dst, dst.Bounds(), img, img.Bounds().Min, draw.Src)
	return dst
}

// trackColor assigns a stable color per track id so a track keeps the same
// outline color across frames, the visual cue that matters most for
// eyeballing tracker continuity.
func trackColor(id int) color.RGBA {
	palette := []color.RGBA{
		{R: 255, G: 64, B: 64, A: 255},
		{R: 64, G: 255, B: 64, A: 255},
		{R: 64, G: 128, B: 255, A: 255},
		{R: 255, G: 200, B: 0, A: 255},
		{R: 200, G: 64, B: 255, A: 255},
		{R: 0, G: 220, B: 220, A: 255},
	}
	return palette[id%len(palette)]
}

// drawTrackBox draws a 1px rectangle outline for tr's effective box, scaled
// from normalized [0,1] coordinates to img's pixel bounds.
func drawTrackBox(img *image.RGBA, tr *tracker.Track) {
	b := tr.EffectiveBBox()
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	x1 := int(b.X1 * float64(w))
	y1 := int(b.Y1 * float64(h))
	x2 := int(b.X2 * float64(w))
	y2 := int(b.Y2 * float64(h))

	c := trackColor(tr.ID)
	for x := x1; x <= x2; x++ {
		setPixel(img, x, y1, c)
		setPixel(img, x, y2, c)
	}
	for y := y1; y <= y2; y++ {
		setPixel(img, x1, y, c)
		setPixel(img, x2, y, c)
	}
}

func setPixel(img *image.RGBA, x, y int, c color.RGBA) {
	if x < img.Bounds().Min.X || x >= img.Bounds().Max.X {
		return
	}
	if y < img.Bounds().Min.Y || y >= img.Bounds().Max.Y {
		return
	}
	img.SetRGBA(x, y, c)
}
