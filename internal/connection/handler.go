// Package connection implements the per-TCP-connection protocol state
// machine, spec §4.7. Grounded on the teacher's v3/mux/session.go, whose
// writeLoop/readLoop/keepAliveLoop three-goroutine shape is generalized
// here from stream multiplexing to a single-stream protocol dispatcher:
// one connection runs one Handler, which a server-level read loop feeds
// decoded envelopes and drains response envelopes from.
package connection

import (
	"context"
	"image"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/simonll4/worker-ai-core/internal/decode"
	"github.com/simonll4/worker-ai-core/internal/inference"
	"github.com/simonll4/worker-ai-core/internal/modelpool"
	"github.com/simonll4/worker-ai-core/internal/session"
	"github.com/simonll4/worker-ai-core/internal/tracker"
	"github.com/simonll4/worker-ai-core/internal/wire"
)

// FrameVisualizer optionally renders a decoded frame plus its tracked
// detections (spec §4.9 "shared ... (optionally) visualizer"). Satisfied
// by *visualizer.Visualizer without an import cycle.
type FrameVisualizer interface {
	DrawFrame(sessionID string, img *image.RGBA, tracks []*tracker.Track) error
}

// ClassResolver resolves class names from Init.caps.classes_filter against
// a class catalog (spec §4.7 "Classes filter"; §6.3 catalog loading).
// Unknown names are returned separately so the caller can log a warning.
type ClassResolver interface {
	Resolve(names []string) (ids map[int]bool, unknown []string)
}

// Deps bundles a Handler's shared collaborators.
type Deps struct {
	Pool       *modelpool.Pool
	Decoder    *decode.Registry
	Sessions   *session.Manager
	Catalog    ClassResolver
	Visualizer FrameVisualizer
	Logger     zerolog.Logger

	DefaultConfThreshold float64
	DefaultNMSIoU        float64
	MaxFrameBytes        uint32
	InitialWindowSize    int
}

// Handler runs the protocol state machine for one connection. Not safe for
// concurrent Dispatch calls from multiple goroutines — a connection has
// exactly one reader, matching the wire protocol's strictly sequential
// request/response shape.
type Handler struct {
	deps Deps
	log  zerolog.Logger

	mu    sync.Mutex
	state State

	modelPath  string
	model      inference.Model
	confThresh float64
	nmsIoU     float64
	classes    map[int]bool // nil/empty = accept all

	window              *windowController
	pendingWindowUpdate bool
	trk                 *tracker.Tracker

	framesRx    atomic.Uint64
	framesTx    atomic.Uint64
	lastFrameID atomic.Uint64

	currentSessionID string
	sessionWriter    *session.Writer

	loadCancel context.CancelFunc
}

// New constructs a Handler in StateAwaitingInit.
func New(deps Deps, remoteAddr string) *Handler {
	if deps.DefaultConfThreshold <= 0 {
		deps.DefaultConfThreshold = 0.25
	}
	if deps.DefaultNMSIoU <= 0 {
		deps.DefaultNMSIoU = 0.6
	}
	if deps.InitialWindowSize <= 0 {
		deps.InitialWindowSize = 4
	}
	return &Handler{
		deps:  deps,
		log:   deps.Logger.With().Str("component", "connection").Str("remote_addr", remoteAddr).Logger(),
		state: StateAwaitingInit,
	}
}

// State returns the handler's current state.
func (h *Handler) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *Handler) setState(s State) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

// Dispatch routes one received envelope and returns a channel of zero or
// more response envelopes. For a plain request/response message the
// channel carries exactly one item; for an Init that must load a model it
// carries periodic Heartbeats followed by a final InitOk or Error (spec
// §4.7 LOADING keep-alive).
func (h *Handler) Dispatch(ctx context.Context, env *wire.Envelope) <-chan *wire.Envelope {
	h.framesRx.Add(1)

	if err := h.checkSequence(env); err != nil {
		return single(wire.NewErrorEnvelope(wire.ErrBadSequence, err.Error()), func() { h.setState(StateClosing) })
	}

	switch {
	case env.Request != nil && env.Request.Init != nil:
		return h.handleInit(ctx, env.Request.Init)
	case env.Request != nil && env.Request.Frame != nil:
		return single(h.handleFrame(ctx, env.Request.Frame), nil)
	case env.Request != nil && env.Request.End != nil:
		resp := h.handleEnd()
		if resp == nil {
			out := make(chan *wire.Envelope)
			close(out)
			return out
		}
		return single(resp, nil)
	case env.Heartbeat != nil:
		return single(h.handleHeartbeat(*env.Heartbeat), nil)
	default:
		return single(wire.NewErrorEnvelope(wire.ErrBadMessage, "envelope carries no recognized payload"), func() { h.setState(StateClosing) })
	}
}

func single(env *wire.Envelope, after func()) <-chan *wire.Envelope {
	out := make(chan *wire.Envelope, 1)
	out <- env
	close(out)
	if after != nil {
		after()
	}
	return out
}

// checkSequence enforces spec §4.7: "In AWAITING_INIT, the first message
// must be Request.Init; otherwise emit BAD_SEQUENCE and close."
func (h *Handler) checkSequence(env *wire.Envelope) error {
	if h.State() != StateAwaitingInit {
		return nil
	}
	if env.Request != nil && env.Request.Init != nil {
		return nil
	}
	return eris.New("connection: first message must be Init")
}

// handleInit implements spec §4.7's Init handling, including the
// equal-path reuse fast path and the LOADING keep-alive.
func (h *Handler) handleInit(ctx context.Context, req *wire.InitRequest) <-chan *wire.Envelope {
	h.mu.Lock()
	samePath := h.state == StateReady && h.modelPath == req.ModelPath
	h.mu.Unlock()

	if samePath {
		return single(h.initOkEnvelope(), nil)
	}

	out := make(chan *wire.Envelope, 2)
	h.setState(StateLoading)

	loadCtx, cancel := context.WithCancel(ctx)
	h.mu.Lock()
	if h.loadCancel != nil {
		h.loadCancel()
	}
	h.loadCancel = cancel
	h.mu.Unlock()

	keepAliveCtx, stopKeepAlive := context.WithCancel(loadCtx)
	go runLoadKeepAlive(keepAliveCtx, out, h.framesRx.Load, h.framesTx.Load)

	go func() {
		defer close(out)
		defer stopKeepAlive()

		model, err := h.deps.Pool.Load(loadCtx, req.ModelPath)
		if err != nil {
			h.log.Error().Err(err).Str("model_path", req.ModelPath).Msg("model load failed")
			out <- wire.NewErrorEnvelope(wire.ErrInternal, "model load failed")
			h.setState(StateClosing)
			return
		}

		classes, unknown := map[int]bool{}, []string(nil)
		if h.deps.Catalog != nil && len(req.Caps.ClassesFilter) > 0 {
			classes, unknown = h.deps.Catalog.Resolve(req.Caps.ClassesFilter)
			for _, name := range unknown {
				h.log.Warn().Str("class_name", name).Msg("unknown class in classes_filter, ignoring")
			}
		}

		conf := h.deps.DefaultConfThreshold
		if req.Caps.ConfidenceThreshold != nil {
			conf = *req.Caps.ConfidenceThreshold
		}

		h.mu.Lock()
		h.modelPath = req.ModelPath
		h.model = model
		h.classes = classes
		h.confThresh = conf
		h.nmsIoU = h.deps.DefaultNMSIoU
		h.window = newWindowController(h.deps.InitialWindowSize)
		h.trk = tracker.New(tracker.DefaultConfig())
		h.state = StateReady
		h.mu.Unlock()

		out <- h.initOkEnvelope()
	}()

	return out
}

func (h *Handler) initOkEnvelope() *wire.Envelope {
	h.mu.Lock()
	windowSize := h.deps.InitialWindowSize
	if h.window != nil {
		windowSize = h.window.Size()
	}
	h.mu.Unlock()

	chosen := wire.ChosenFormat{
		PixelFormat:    wire.PixelRGB8,
		Codec:          wire.CodecNone,
		InitialCredits: windowSize,
		Policy:         wire.PolicyLatestWins,
	}
	return wire.NewInitOkEnvelope(chosen, h.deps.MaxFrameBytes)
}

// handleFrame implements spec §4.7's per-Frame credit consumption and
// inference dispatch.
func (h *Handler) handleFrame(ctx context.Context, req *wire.FrameRequest) *wire.Envelope {
	h.mu.Lock()
	state := h.state
	h.mu.Unlock()

	if state == StateLoading || state == StateAwaitingInit {
		return wire.NewErrorEnvelope(wire.ErrModelNotReady, "frame received before model load completed")
	}

	var sessionID string
	if req.SessionID != "" {
		normalized, err := session.Normalize(req.SessionID)
		if err != nil {
			return wire.NewErrorEnvelope(wire.ErrBadMessage, err.Error())
		}
		sessionID = normalized
	}

	h.mu.Lock()
	if !h.window.TryConsume() {
		h.mu.Unlock()
		return wire.NewErrorEnvelope(wire.ErrBackpressureTimeout, "no credits available")
	}
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		h.window.Release()
		h.mu.Unlock()
	}()

	h.lastFrameID.Store(req.FrameID)

	img, err := h.deps.Decoder.Decode(req.PixelFormat, req.Codec, req.Data, req.Width, req.Height)
	if err != nil {
		if eris.Is(err, decode.ErrUnsupportedFormat) {
			return wire.NewErrorEnvelope(wire.ErrUnsupportedFormat, err.Error())
		}
		return wire.NewErrorEnvelope(wire.ErrInvalidFrame, err.Error())
	}

	h.mu.Lock()
	model := h.model
	params := inference.PostprocessParams{ConfThreshold: h.confThresh, NMSIoU: h.nmsIoU, ClassesFilter: h.classes}
	h.mu.Unlock()

	pipeline := inference.Pipeline{Model: model}
	dets, latency, err := pipeline.Infer(ctx, img, params)
	if err != nil {
		h.log.Error().Err(err).Msg("inference failed")
		return wire.NewErrorEnvelope(wire.ErrInternal, "inference failed")
	}

	trackDets := make([]tracker.Detection, len(dets))
	for i, d := range dets {
		trackDets[i] = tracker.Detection{ClassID: d.ClassID, ClassName: d.ClassName, Confidence: d.Confidence, BBox: tracker.BBox{X1: d.X1, Y1: d.Y1, X2: d.X2, Y2: d.Y2}}
	}

	h.mu.Lock()
	if sessionID != "" && sessionID != h.currentSessionID {
		h.trk.Reset()
	}
	tracks := h.trk.Update(trackDets)
	h.mu.Unlock()

	if req.SessionID != "" {
		h.writeSessionFrame(req, tracks)
	}

	if h.deps.Visualizer != nil {
		if err := h.deps.Visualizer.DrawFrame(req.SessionID, img, tracks); err != nil {
			h.log.Warn().Err(err).Msg("visualizer draw failed")
		}
	}

	wireDets := make([]wire.Detection, len(tracks))
	for i, tr := range tracks {
		box := tr.EffectiveBBox()
		wireDets[i] = wire.Detection{
			X1: box.X1, Y1: box.Y1, X2: box.X2, Y2: box.Y2,
			Confidence: tr.Confidence,
			ClassID:    tr.ClassID,
			ClassName:  tr.ClassName,
			TrackID:    strconv.Itoa(tr.ID),
		}
	}

	h.framesTx.Add(1)

	resp := wire.NewResultEnvelope(wire.ResultResponse{
		FrameID:      req.FrameID,
		FrameRef:     wire.FrameRef{SessionID: req.SessionID, TsMonoNs: req.TsMonoNs, TsUtcNs: req.TsUtcNs},
		ModelName:    model.Name(),
		ModelVersion: model.Version(),
		Latency:      latency,
		Detections:   wireDets,
	})

	if newSize, changed := h.observeLatencyAndMaybeResize(latency.TotalMs); changed {
		_ = newSize // surfaced via a WindowUpdate the caller should send after Result; see WindowUpdateIfChanged
	}

	return resp
}

// WindowUpdateIfChanged returns a WindowUpdate envelope if the last
// handleFrame call caused the credit window to resize, else nil. The
// server loop calls this immediately after sending a Result (spec §4.7:
// "Changes emit a WindowUpdate with the new size").
func (h *Handler) WindowUpdateIfChanged() *wire.Envelope {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pendingWindowUpdate {
		h.pendingWindowUpdate = false
		return wire.NewWindowUpdateEnvelope(h.window.Size())
	}
	return nil
}

func (h *Handler) observeLatencyAndMaybeResize(latencyMs float64) (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	newSize, changed := h.window.Observe(latencyMs)
	if changed {
		h.pendingWindowUpdate = true
	}
	return newSize, changed
}

func (h *Handler) writeSessionFrame(req *wire.FrameRequest, tracks []*tracker.Track) {
	normalized, err := session.Normalize(req.SessionID)
	if err != nil {
		h.log.Warn().Err(err).Str("session_id", req.SessionID).Msg("invalid session id, skipping persistence")
		return
	}

	h.mu.Lock()
	writer := h.sessionWriter
	prevSessionID := h.currentSessionID
	sameSession := prevSessionID == normalized && writer != nil
	h.mu.Unlock()

	if !sameSession {
		// spec §3 lifecycle: a session is finalized when its connection
		// switches to a different session_id, not only when End arrives.
		if prevSessionID != "" && prevSessionID != normalized {
			if err := h.deps.Sessions.End(prevSessionID); err != nil {
				h.log.Error().Err(err).Str("session_id", prevSessionID).Msg("finalize previous session failed")
			}
		}

		writer, err = h.deps.Sessions.Start(normalized, 0)
		if err != nil {
			h.log.Error().Err(err).Str("session_id", normalized).Msg("start session writer failed")
			return
		}
		h.mu.Lock()
		h.currentSessionID = normalized
		h.sessionWriter = writer
		h.mu.Unlock()
	}

	var tsMono, tsUTC *int64
	if req.TsMonoNs != nil {
		v := int64(*req.TsMonoNs)
		tsMono = &v
	}
	if req.TsUtcNs != nil {
		v := int64(*req.TsUtcNs)
		tsUTC = &v
	}

	frame := session.TrackFrame{
		FrameID:     int(req.FrameID),
		FrameWidth:  req.Width,
		FrameHeight: req.Height,
		TSMonoNs:    tsMono,
		TSUTCNs:     tsUTC,
		Tracks:      tracks,
	}
	if err := writer.WriteFrame(frame); err != nil {
		h.log.Error().Err(err).Str("session_id", normalized).Msg("write session frame failed")
	}
}

// handleEnd finalizes any active session but leaves the connection open
// (spec §4.7: "End finalizes the session ... but leaves the connection
// open for subsequent sessions or further Init").
func (h *Handler) handleEnd() *wire.Envelope {
	h.mu.Lock()
	id := h.currentSessionID
	h.currentSessionID = ""
	h.sessionWriter = nil
	h.mu.Unlock()

	if id == "" {
		return nil
	}
	if err := h.deps.Sessions.End(id); err != nil {
		h.log.Error().Err(err).Str("session_id", id).Msg("finalize session failed")
	}
	return nil
}

// handleHeartbeat echoes back the handler's tx/rx counters and last frame
// id (spec §4.7: "Heartbeat messages are echoed with the handler's
// last_frame_id and tx/rx counters").
func (h *Handler) handleHeartbeat(_ wire.Heartbeat) *wire.Envelope {
	return wire.NewHeartbeatEnvelope(wire.Heartbeat{
		LastFrameID: h.lastFrameID.Load(),
		FramesRx:    h.framesRx.Load(),
		FramesTx:    h.framesTx.Load(),
	})
}

// Close releases resources when the connection ends: cancels any
// in-flight load and finalizes any active session (spec §4.7 close path;
// spec §5 "Model load is cancellable").
func (h *Handler) Close() {
	h.mu.Lock()
	if h.loadCancel != nil {
		h.loadCancel()
	}
	id := h.currentSessionID
	h.currentSessionID = ""
	h.sessionWriter = nil
	h.state = StateClosing
	h.mu.Unlock()

	if id != "" {
		_ = h.deps.Sessions.End(id)
	}
}

