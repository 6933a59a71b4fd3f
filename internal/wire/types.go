package wire

// Envelope is the outermost wire object. Exactly one of Request, Response,
// Heartbeat is non-nil; which one is determined by MsgType and must agree
// with it (spec §3 invariant).
type Envelope struct {
	ProtocolVersion uint32
	MsgType         MsgType
	StreamID        string

	Request   *Request
	Response  *Response
	Heartbeat *Heartbeat
}

// Plane describes one slice of a Frame's raw payload (e.g. the Y plane of
// I420), used only for multi-plane pixel formats where offsets matter to a
// caller inspecting the payload without a full decode.
type Plane struct {
	Offset uint32
	Size   uint32
}

// Capabilities are the negotiation parameters an edge client proposes in
// Init.
type Capabilities struct {
	MaxWidth             int
	MaxHeight            int
	ConfidenceThreshold  *float64
	ClassesFilter        []string
}

// Request is the oneof of client-originated message bodies.
type Request struct {
	Init  *InitRequest
	Frame *FrameRequest
	End   *EndRequest
}

type InitRequest struct {
	ModelPath string
	Caps      Capabilities
}

type FrameRequest struct {
	FrameID     uint64
	SessionID   string
	PixelFormat PixelFormat
	Codec       Codec
	Width       int
	Height      int
	TsMonoNs    *uint64
	TsUtcNs     *uint64
	Planes      []Plane
	Data        []byte
}

// EndRequest carries no fields; its presence is the signal.
type EndRequest struct{}

// Response is the oneof of worker-originated message bodies.
type Response struct {
	InitOk        *InitOkResponse
	Result        *ResultResponse
	WindowUpdate  *WindowUpdateResponse
	Error         *ErrorResponse
}

type ChosenFormat struct {
	PixelFormat    PixelFormat
	Codec          Codec
	Width          int
	Height         int
	FpsTarget      float64
	Policy         Policy
	InitialCredits int
	ColorSpace     string
	ColorRange     string
}

type InitOkResponse struct {
	Chosen        ChosenFormat
	MaxFrameBytes uint32
}

type FrameRef struct {
	SessionID string
	TsMonoNs  *uint64
	TsUtcNs   *uint64
}

type Latency struct {
	PreMs    float64
	InferMs  float64
	PostMs   float64
	TotalMs  float64
}

// Detection is shared between the wire Result payload and internal
// inference/tracker state: a normalized bbox plus class/confidence and an
// optional track identity.
type Detection struct {
	X1, Y1, X2, Y2 float64 // normalized to [0,1], X1<X2, Y1<Y2
	Confidence     float64
	ClassID        int
	ClassName      string
	TrackID        string // empty if untracked
}

type ResultResponse struct {
	FrameID      uint64
	FrameRef     FrameRef
	ModelName    string
	ModelVersion string
	Latency      Latency
	Detections   []Detection
}

type WindowUpdateResponse struct {
	NewWindowSize int
}

type ErrorResponse struct {
	Code    ErrorCode
	Message string
}

// Heartbeat is symmetric: either side may send it, and the handler echoes
// its counters back (spec §4.7).
type Heartbeat struct {
	LastFrameID uint64
	FramesRx    uint64
	FramesTx    uint64
}
