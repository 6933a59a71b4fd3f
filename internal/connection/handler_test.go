package connection

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simonll4/worker-ai-core/internal/decode"
	"github.com/simonll4/worker-ai-core/internal/inference"
	"github.com/simonll4/worker-ai-core/internal/modelpool"
	"github.com/simonll4/worker-ai-core/internal/session"
	"github.com/simonll4/worker-ai-core/internal/wire"
)

type stubModel struct{}

func (stubModel) Name() string                    { return "stub" }
func (stubModel) Version() string                 { return "v1" }
func (stubModel) InputSize() int                   { return 8 }
func (stubModel) Convention() inference.Convention { return inference.ConventionEmbeddedNMS }
func (stubModel) Run(ctx context.Context, tensor []float32) (inference.RawOutput, error) {
	// One embedded-NMS detection: [x1,y1,x2,y2,conf,cls] in the model's own
	// input_size-pixel coordinate space (8x8 here).
	return inference.RawOutput{
		Data:  []float32{1, 1, 6, 6, 0.9, 0},
		Shape: []int64{1, 1, 6},
	}, nil
}
func (stubModel) Close() error { return nil }

type stubCatalog struct{}

func (stubCatalog) Resolve(names []string) (map[int]bool, []string) {
	ids := map[int]bool{}
	var unknown []string
	for _, n := range names {
		if n == "car" {
			ids[0] = true
		} else {
			unknown = append(unknown, n)
		}
	}
	return ids, unknown
}

func newTestHandler(t *testing.T) (*Handler, *modelpool.Pool) {
	t.Helper()
	pool, err := modelpool.New(context.Background(), modelpool.Config{
		Loader: func(path string) (inference.Model, error) { return stubModel{}, nil },
	})
	require.NoError(t, err)

	sessions := session.NewManager(session.Config{OutputDir: t.TempDir(), DefaultFPS: 10, SegmentDurationS: 10})

	h := New(Deps{
		Pool:                 pool,
		Decoder:              decode.NewRegistry(),
		Sessions:             sessions,
		Catalog:              stubCatalog{},
		Logger:               zerolog.Nop(),
		DefaultConfThreshold: 0.1,
		DefaultNMSIoU:        0.45,
		MaxFrameBytes:        1 << 20,
		InitialWindowSize:    4,
	}, "127.0.0.1:0")
	return h, pool
}

func drain(t *testing.T, ch <-chan *wire.Envelope, timeout time.Duration) []*wire.Envelope {
	t.Helper()
	var out []*wire.Envelope
	deadline := time.After(timeout)
	for {
		select {
		case env, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, env)
		case <-deadline:
			t.Fatal("timed out draining channel")
		}
	}
}

func rgb8Frame(frameID uint64, width, height int) *wire.FrameRequest {
	return &wire.FrameRequest{
		FrameID:     frameID,
		PixelFormat: wire.PixelRGB8,
		Codec:       wire.CodecNone,
		Width:       width,
		Height:      height,
		Data:        make([]byte, width*height*3),
	}
}

func TestHandler_RejectsNonInitAsFirstMessage(t *testing.T) {
	h, _ := newTestHandler(t)
	env := &wire.Envelope{MsgType: wire.MsgFrame, Request: &wire.Request{Frame: rgb8Frame(1, 8, 8)}}

	out := drain(t, h.Dispatch(context.Background(), env), time.Second)
	require.Len(t, out, 1)
	require.NotNil(t, out[0].Response)
	require.NotNil(t, out[0].Response.Error)
	assert.Equal(t, wire.ErrBadSequence, out[0].Response.Error.Code)
	assert.Equal(t, StateClosing, h.State())
}

func TestHandler_InitLoadsModelAndTransitionsToReady(t *testing.T) {
	h, _ := newTestHandler(t)
	env := &wire.Envelope{MsgType: wire.MsgInit, Request: &wire.Request{Init: &wire.InitRequest{ModelPath: "/models/a.onnx"}}}

	out := drain(t, h.Dispatch(context.Background(), env), time.Second)
	require.NotEmpty(t, out)
	last := out[len(out)-1]
	require.NotNil(t, last.Response)
	require.NotNil(t, last.Response.InitOk)
	assert.Equal(t, StateReady, h.State())
}

func TestHandler_InitReusesSamePathWithoutReload(t *testing.T) {
	h, _ := newTestHandler(t)
	init := &wire.Envelope{MsgType: wire.MsgInit, Request: &wire.Request{Init: &wire.InitRequest{ModelPath: "/models/a.onnx"}}}
	drain(t, h.Dispatch(context.Background(), init), time.Second)

	out := drain(t, h.Dispatch(context.Background(), init), time.Second)
	require.Len(t, out, 1, "reuse path sends exactly one InitOk, no heartbeats")
	assert.NotNil(t, out[0].Response.InitOk)
}

func TestHandler_FrameBeforeReadyIsModelNotReady(t *testing.T) {
	h, _ := newTestHandler(t)
	h.setState(StateLoading) // simulate mid-load, bypassing AWAITING_INIT's BAD_SEQUENCE gate

	resp := h.handleFrame(context.Background(), rgb8Frame(1, 8, 8))
	require.NotNil(t, resp.Response)
	require.NotNil(t, resp.Response.Error)
	assert.Equal(t, wire.ErrModelNotReady, resp.Response.Error.Code)
}

func TestHandler_FrameProducesResultWithTrackedDetection(t *testing.T) {
	h, _ := newTestHandler(t)
	init := &wire.Envelope{MsgType: wire.MsgInit, Request: &wire.Request{Init: &wire.InitRequest{ModelPath: "/models/a.onnx"}}}
	drain(t, h.Dispatch(context.Background(), init), time.Second)

	frameEnv := &wire.Envelope{MsgType: wire.MsgFrame, Request: &wire.Request{Frame: rgb8Frame(1, 8, 8)}}
	out := drain(t, h.Dispatch(context.Background(), frameEnv), time.Second)
	require.Len(t, out, 1)
	require.NotNil(t, out[0].Response.Result)
	assert.Equal(t, uint64(1), out[0].Response.Result.FrameID)
	require.Len(t, out[0].Response.Result.Detections, 1)
	assert.Equal(t, "1", out[0].Response.Result.Detections[0].TrackID)
}

func TestHandler_FrameWithSessionIDChangeFinalizesPrevious(t *testing.T) {
	outputDir := t.TempDir()
	pool, err := modelpool.New(context.Background(), modelpool.Config{
		Loader: func(path string) (inference.Model, error) { return stubModel{}, nil },
	})
	require.NoError(t, err)
	sessions := session.NewManager(session.Config{OutputDir: outputDir, DefaultFPS: 10, SegmentDurationS: 10})

	h := New(Deps{
		Pool:                 pool,
		Decoder:              decode.NewRegistry(),
		Sessions:             sessions,
		Catalog:              stubCatalog{},
		Logger:               zerolog.Nop(),
		DefaultConfThreshold: 0.1,
		DefaultNMSIoU:        0.45,
		MaxFrameBytes:        1 << 20,
		InitialWindowSize:    4,
	}, "127.0.0.1:0")

	init := &wire.Envelope{MsgType: wire.MsgInit, Request: &wire.Request{Init: &wire.InitRequest{ModelPath: "/models/a.onnx"}}}
	drain(t, h.Dispatch(context.Background(), init), time.Second)

	frame1 := rgb8Frame(1, 8, 8)
	frame1.SessionID = "sess-a"
	env1 := &wire.Envelope{MsgType: wire.MsgFrame, Request: &wire.Request{Frame: frame1}}
	drain(t, h.Dispatch(context.Background(), env1), time.Second)

	frame2 := rgb8Frame(2, 8, 8)
	frame2.SessionID = "sess-b"
	env2 := &wire.Envelope{MsgType: wire.MsgFrame, Request: &wire.Request{Frame: frame2}}
	drain(t, h.Dispatch(context.Background(), env2), time.Second)

	idxPath := filepath.Join(outputDir, "sess-a", "index.json")
	data, err := os.ReadFile(idxPath)
	require.NoError(t, err)
	var idx session.Index
	require.NoError(t, json.Unmarshal(data, &idx))
	require.NotEmpty(t, idx.Segments)
	assert.True(t, idx.Segments[0].Closed, "prior session's segment should be closed once a different session_id arrives")

	metaPath := filepath.Join(outputDir, "sess-a", "meta.json")
	metaData, err := os.ReadFile(metaPath)
	require.NoError(t, err)
	var meta session.Meta
	require.NoError(t, json.Unmarshal(metaData, &meta))
	assert.NotEmpty(t, meta.EndTime, "prior session's meta.json should record an end_time once finalized")
}

func TestHandler_HeartbeatEchoesCounters(t *testing.T) {
	h, _ := newTestHandler(t)
	init := &wire.Envelope{MsgType: wire.MsgInit, Request: &wire.Request{Init: &wire.InitRequest{ModelPath: "/models/a.onnx"}}}
	drain(t, h.Dispatch(context.Background(), init), time.Second)

	hbEnv := &wire.Envelope{MsgType: wire.MsgHeartbeat, Heartbeat: &wire.Heartbeat{}}
	out := drain(t, h.Dispatch(context.Background(), hbEnv), time.Second)
	require.Len(t, out, 1)
	require.NotNil(t, out[0].Heartbeat)
}

func TestHandler_EndWithNoActiveSessionIsNoop(t *testing.T) {
	h, _ := newTestHandler(t)
	init := &wire.Envelope{MsgType: wire.MsgInit, Request: &wire.Request{Init: &wire.InitRequest{ModelPath: "/models/a.onnx"}}}
	drain(t, h.Dispatch(context.Background(), init), time.Second)

	endEnv := &wire.Envelope{MsgType: wire.MsgEnd, Request: &wire.Request{End: &wire.EndRequest{}}}
	out := drain(t, h.Dispatch(context.Background(), endEnv), time.Second)
	assert.Empty(t, out)
}

func TestWindowController_DecreasesOnHighLatency(t *testing.T) {
	w := newWindowController(4)
	var lastChanged bool
	for i := 0; i < latencyWindowFrames; i++ {
		_, changed := w.Observe(150)
		lastChanged = lastChanged || changed
	}
	assert.True(t, lastChanged)
	assert.Less(t, w.Size(), 4)
}

func TestWindowController_IncreasesOnLowLatency(t *testing.T) {
	w := newWindowController(4)
	var lastChanged bool
	for i := 0; i < latencyWindowFrames; i++ {
		_, changed := w.Observe(10)
		lastChanged = lastChanged || changed
	}
	assert.True(t, lastChanged)
	assert.Greater(t, w.Size(), 4)
}

func TestWindowController_BoundsAreRespected(t *testing.T) {
	w := newWindowController(2)
	for i := 0; i < 200; i++ {
		w.Observe(500)
	}
	assert.GreaterOrEqual(t, w.Size(), minWindowSize)

	w2 := newWindowController(16)
	for i := 0; i < 200; i++ {
		w2.Observe(1)
	}
	assert.LessOrEqual(t, w2.Size(), maxWindowSize)
}

func TestWindowController_CreditsConsumedAndReleased(t *testing.T) {
	w := newWindowController(2)
	assert.True(t, w.TryConsume())
	assert.True(t, w.TryConsume())
	assert.False(t, w.TryConsume(), "exhausted credits should refuse")
	w.Release()
	assert.True(t, w.TryConsume())
}
