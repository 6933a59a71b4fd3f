package inference

import (
	"context"
	"path/filepath"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/rotisserie/eris"
)

// onnxEnvOnce guards onnxruntime_go's process-wide environment, which may
// only be initialized once per process (mirrors the teacher's use of
// sync.Once-style guarded globals for process-wide state).
var onnxEnvOnce sync.Once
var onnxEnvErr error

func ensureONNXEnvironment(sharedLibPath string) error {
	onnxEnvOnce.Do(func() {
		if sharedLibPath != "" {
			ort.SetSharedLibraryPath(sharedLibPath)
		}
		onnxEnvErr = ort.InitializeEnvironment()
	})
	return onnxEnvErr
}

// onnxModel is the Model implementation backed by github.com/yalue/onnxruntime_go.
type onnxModel struct {
	path       string
	version    string
	session    *ort.DynamicAdvancedSession
	inputName  string
	outputName string
	inputSize  int64
	outputDims []int64
	convention Convention

	mu sync.Mutex // serializes Run when the runtime session isn't safe for concurrent use
}

// LoadONNXModel loads path as an ONNX Runtime session, inspects its single
// input/output tensor shapes to pick the square input size and the output
// convention (spec §4.4's two conventions; recovered from
// original_source/services/worker-ai/src/inference/yolo11.py, which
// branches postprocess on the loaded output shape rather than a config
// flag), and returns a ready-to-run Model.
func LoadONNXModel(sharedLibPath, path string) (Model, error) {
	if err := ensureONNXEnvironment(sharedLibPath); err != nil {
		return nil, eris.Wrap(err, "inference: initialize onnxruntime environment")
	}

	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, eris.Wrapf(err, "inference: inspect model %s", path)
	}
	if len(inputs) != 1 || len(outputs) != 1 {
		return nil, eris.Errorf("inference: model %s must have exactly one input and one output, got %d/%d", path, len(inputs), len(outputs))
	}

	inputDims := []int64(inputs[0].Dimensions)
	inputSize := int64(640)
	if n := len(inputDims); n >= 1 && inputDims[n-1] > 0 {
		inputSize = inputDims[n-1]
	}

	outputDims := []int64(outputs[0].Dimensions)
	convention := detectConvention(outputDims)

	session, err := ort.NewDynamicAdvancedSession(path, []string{inputs[0].Name}, []string{outputs[0].Name}, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "inference: create session for %s", path)
	}

	return &onnxModel{
		path:       path,
		version:    fileVersionHint(path),
		session:    session,
		inputName:  inputs[0].Name,
		outputName: outputs[0].Name,
		inputSize:  inputSize,
		outputDims: resolveOutputDims(outputDims),
		convention: convention,
	}, nil
}

// detectConvention distinguishes (1,N,6) from (1,4+C,K)/(1,K,4+C): the
// embedded-NMS convention's last dimension is exactly 6.
func detectConvention(dims []int64) Convention {
	if len(dims) >= 1 && dims[len(dims)-1] == 6 {
		return ConventionEmbeddedNMS
	}
	return ConventionRaw
}

// resolveOutputDims fills any dynamic (<=0) dimensions with a permissive
// placeholder; the actual runtime output tensor reports its real shape
// after Run, which is what callers consult.
func resolveOutputDims(dims []int64) []int64 {
	out := make([]int64, len(dims))
	copy(out, dims)
	for i, d := range out {
		if d <= 0 {
			out[i] = 1
		}
	}
	return out
}

func fileVersionHint(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return base
}

func (m *onnxModel) Name() string       { return fileVersionHint(m.path) }
func (m *onnxModel) Version() string    { return m.version }
func (m *onnxModel) InputSize() int     { return int(m.inputSize) }
func (m *onnxModel) Convention() Convention { return m.convention }

func (m *onnxModel) Run(ctx context.Context, tensor []float32) (RawOutput, error) {
	select {
	case <-ctx.Done():
		return RawOutput{}, ctx.Err()
	default:
	}

	inputShape := ort.NewShape(1, 3, m.inputSize, m.inputSize)
	inputTensor, err := ort.NewTensor(inputShape, tensor)
	if err != nil {
		return RawOutput{}, eris.Wrap(err, "inference: build input tensor")
	}
	defer inputTensor.Destroy()

	outputShape := ort.NewShape(m.outputDims...)
	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		return RawOutput{}, eris.Wrap(err, "inference: allocate output tensor")
	}
	defer outputTensor.Destroy()

	m.mu.Lock()
	err = m.session.Run([]ort.Value{inputTensor}, []ort.Value{outputTensor})
	m.mu.Unlock()
	if err != nil {
		return RawOutput{}, eris.Wrap(err, "inference: session run")
	}

	shape := outputTensor.GetShape()
	data := outputTensor.GetData()
	outCopy := make([]float32, len(data))
	copy(outCopy, data)

	return RawOutput{Data: outCopy, Shape: []int64(shape)}, nil
}

func (m *onnxModel) Close() error {
	if err := m.session.Destroy(); err != nil {
		return eris.Wrapf(err, "inference: destroy session for %s", m.path)
	}
	return nil
}
