package inference

import (
	"context"
	"image"
	"time"

	"github.com/rotisserie/eris"

	"github.com/simonll4/worker-ai-core/internal/wire"
)

// Model is a loaded, ready-to-run detector. The Model Pool hands the same
// Model to every connection and does not serialize Run calls, so an
// implementation must make concurrent Run calls safe itself; onnxModel
// does so by holding its own mutex around each Run (spec §5).
type Model interface {
	// Name and Version identify the model for Result.model_name/model_version.
	Name() string
	Version() string
	// InputSize is the model's square input dimension (e.g. 640).
	InputSize() int
	// Convention reports which output layout this model produces, detected
	// once at load time.
	Convention() Convention
	// Run executes one inference pass on an already-letterboxed,
	// already-normalized CHW tensor and returns the raw output tensor.
	Run(ctx context.Context, tensor []float32) (RawOutput, error)
	// Close releases runtime resources.
	Close() error
}

// ErrInvalidOutputShape is INTERNAL per spec §4.4: "invalid output shape →
// INTERNAL".
var ErrInvalidOutputShape = eris.New("inference: invalid model output shape")

// Pipeline runs the full decode-independent part of spec §4.4 steps 1-6
// for one already-decoded RGB frame against a loaded Model.
type Pipeline struct {
	Model Model
}

// Infer runs letterbox → tensor → model.Run → postprocess → NMS and
// returns normalized detections plus stage latencies.
func (p *Pipeline) Infer(ctx context.Context, img *image.RGBA, params PostprocessParams) ([]wire.Detection, wire.Latency, error) {
	t0 := time.Now()
	size := p.Model.InputSize()
	letterboxed, lb := Letterbox(img, size)
	tensor := ToCHWTensor(letterboxed, size)
	preMs := msSince(t0)

	t1 := time.Now()
	raw, err := p.Model.Run(ctx, tensor)
	if err != nil {
		return nil, wire.Latency{}, eris.Wrap(err, "inference: model run")
	}
	inferMs := msSince(t1)

	if len(raw.Shape) < 2 {
		return nil, wire.Latency{}, ErrInvalidOutputShape
	}

	t2 := time.Now()
	dets, err := Postprocess(raw, p.Model.Convention(), lb, params)
	if err != nil {
		return nil, wire.Latency{}, err
	}
	postMs := msSince(t2)

	total := preMs + inferMs + postMs
	return dets, wire.Latency{PreMs: preMs, InferMs: inferMs, PostMs: postMs, TotalMs: total}, nil
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000.0
}
