package wire

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/rotisserie/eris"
)

// Codec decodes and encodes envelopes for a single connection. It is
// stateful only in the one way spec §4.2 requires: it remembers the
// stream_id carried by the first envelope it has seen and stamps every
// outbound envelope with it, exactly as the teacher's mux.session caches
// connection-level state (window size, ping data) alongside otherwise
// stateless frame encode/decode.
type Codec struct {
	streamID string
	cached   bool
}

// NewCodec returns a Codec with no cached stream_id yet.
func NewCodec() *Codec {
	return &Codec{}
}

// StreamID returns the cached stream_id, or "" if none has been observed.
func (c *Codec) StreamID() string {
	return c.streamID
}

const (
	oneofNone      = 0
	oneofRequest   = 1
	oneofResponse  = 2
	oneofHeartbeat = 3

	reqInit  = 1
	reqFrame = 2
	reqEnd   = 3

	respInitOk       = 1
	respResult       = 2
	respWindowUpdate = 3
	respError        = 4
)

// Decode reads one envelope body (the payload already extracted by the
// framing layer) and validates protocol_version / msg_type↔variant
// agreement per spec §4.2. On the first call it caches stream_id; on
// subsequent calls stream_id is parsed but not required to match (spec is
// silent on rejecting a changed stream_id mid-connection, so we simply
// keep the first one cached for outbound use).
func (c *Codec) Decode(payload []byte) (*Envelope, error) {
	r := &byteReader{b: payload}

	version, err := r.u32()
	if err != nil {
		return nil, eris.Wrap(err, "decode envelope: protocol_version")
	}
	msgTypeRaw, err := r.u8()
	if err != nil {
		return nil, eris.Wrap(err, "decode envelope: msg_type")
	}
	streamID, err := r.str()
	if err != nil {
		return nil, eris.Wrap(err, "decode envelope: stream_id")
	}

	env := &Envelope{
		ProtocolVersion: version,
		MsgType:         MsgType(msgTypeRaw),
		StreamID:        streamID,
	}

	if version != ProtocolVersion {
		// Still return the parsed envelope: the handler needs MsgType/etc.
		// to decide whether to answer at all, but callers must check this
		// error first and respond VERSION_UNSUPPORTED.
		return env, errVersionUnsupported
	}

	if !c.cached {
		c.streamID = streamID
		c.cached = true
	}

	oneof, err := r.u8()
	if err != nil {
		return nil, eris.Wrap(err, "decode envelope: oneof tag")
	}

	switch oneof {
	case oneofRequest:
		req, err := decodeRequest(r)
		if err != nil {
			return nil, eris.Wrap(err, "decode envelope: request")
		}
		env.Request = req
		if !requestMatchesMsgType(env.MsgType, req) {
			return env, errBadMessage
		}
	case oneofResponse:
		resp, err := decodeResponse(r)
		if err != nil {
			return nil, eris.Wrap(err, "decode envelope: response")
		}
		env.Response = resp
		if !responseMatchesMsgType(env.MsgType, resp) {
			return env, errBadMessage
		}
	case oneofHeartbeat:
		hb, err := decodeHeartbeat(r)
		if err != nil {
			return nil, eris.Wrap(err, "decode envelope: heartbeat")
		}
		env.Heartbeat = hb
		if env.MsgType != MsgHeartbeat {
			return env, errBadMessage
		}
	default:
		return env, errBadMessage
	}

	return env, nil
}

// Encode serializes env, stamping protocol_version=1 and the cached
// stream_id (spec §4.2: "all outbound envelopes carry ... the cached
// stream_id"). When nothing is cached yet, env.StreamID is cached and sent;
// afterwards the caller's env.StreamID is ignored in favor of the cache.
func (c *Codec) Encode(w io.Writer, env *Envelope) error {
	b := &byteWriter{}
	b.u32(ProtocolVersion)
	b.u8(uint8(env.MsgType))
	if !c.cached {
		c.streamID = env.StreamID
		c.cached = true
	}
	b.str(c.streamID)

	switch {
	case env.Request != nil:
		b.u8(oneofRequest)
		encodeRequest(b, env.Request)
	case env.Response != nil:
		b.u8(oneofResponse)
		encodeResponse(b, env.Response)
	case env.Heartbeat != nil:
		b.u8(oneofHeartbeat)
		encodeHeartbeat(b, env.Heartbeat)
	default:
		b.u8(oneofNone)
	}

	_, err := w.Write(b.bytes())
	if err != nil {
		return eris.Wrap(err, "encode envelope")
	}
	return nil
}

func requestMatchesMsgType(t MsgType, r *Request) bool {
	switch t {
	case MsgInit:
		return r.Init != nil
	case MsgFrame:
		return r.Frame != nil
	case MsgEnd:
		return r.End != nil
	default:
		return false
	}
}

func responseMatchesMsgType(t MsgType, r *Response) bool {
	switch t {
	case MsgInitOk:
		return r.InitOk != nil
	case MsgResult:
		return r.Result != nil
	case MsgWindowUpdate:
		return r.WindowUpdate != nil
	case MsgError:
		return r.Error != nil
	default:
		return false
	}
}

func decodeRequest(r *byteReader) (*Request, error) {
	variant, err := r.u8()
	if err != nil {
		return nil, err
	}
	req := &Request{}
	switch variant {
	case reqInit:
		modelPath, err := r.str()
		if err != nil {
			return nil, err
		}
		maxW, err := r.i32()
		if err != nil {
			return nil, err
		}
		maxH, err := r.i32()
		if err != nil {
			return nil, err
		}
		hasConf, err := r.u8()
		if err != nil {
			return nil, err
		}
		var conf *float64
		if hasConf == 1 {
			v, err := r.f64()
			if err != nil {
				return nil, err
			}
			conf = &v
		}
		n, err := r.u16()
		if err != nil {
			return nil, err
		}
		var classes []string
		for i := uint16(0); i < n; i++ {
			s, err := r.str()
			if err != nil {
				return nil, err
			}
			classes = append(classes, s)
		}
		req.Init = &InitRequest{
			ModelPath: modelPath,
			Caps: Capabilities{
				MaxWidth:            int(maxW),
				MaxHeight:           int(maxH),
				ConfidenceThreshold: conf,
				ClassesFilter:       classes,
			},
		}
	case reqFrame:
		f := &FrameRequest{}
		id, err := r.u64()
		if err != nil {
			return nil, err
		}
		f.FrameID = id
		if f.SessionID, err = r.str(); err != nil {
			return nil, err
		}
		pf, err := r.u8()
		if err != nil {
			return nil, err
		}
		f.PixelFormat = PixelFormat(pf)
		cd, err := r.u8()
		if err != nil {
			return nil, err
		}
		f.Codec = Codec(cd)
		w32, err := r.i32()
		if err != nil {
			return nil, err
		}
		f.Width = int(w32)
		h32, err := r.i32()
		if err != nil {
			return nil, err
		}
		f.Height = int(h32)
		f.TsMonoNs, err = r.optU64()
		if err != nil {
			return nil, err
		}
		f.TsUtcNs, err = r.optU64()
		if err != nil {
			return nil, err
		}
		np, err := r.u16()
		if err != nil {
			return nil, err
		}
		for i := uint16(0); i < np; i++ {
			off, err := r.u32()
			if err != nil {
				return nil, err
			}
			size, err := r.u32()
			if err != nil {
				return nil, err
			}
			f.Planes = append(f.Planes, Plane{Offset: off, Size: size})
		}
		data, err := r.bytesField()
		if err != nil {
			return nil, err
		}
		f.Data = data
		req.Frame = f
	case reqEnd:
		req.End = &EndRequest{}
	default:
		return nil, eris.Errorf("unknown request variant %d", variant)
	}
	return req, nil
}

func encodeRequest(b *byteWriter, r *Request) {
	switch {
	case r.Init != nil:
		b.u8(reqInit)
		b.str(r.Init.ModelPath)
		b.i32(int32(r.Init.Caps.MaxWidth))
		b.i32(int32(r.Init.Caps.MaxHeight))
		if r.Init.Caps.ConfidenceThreshold != nil {
			b.u8(1)
			b.f64(*r.Init.Caps.ConfidenceThreshold)
		} else {
			b.u8(0)
		}
		b.u16(uint16(len(r.Init.Caps.ClassesFilter)))
		for _, c := range r.Init.Caps.ClassesFilter {
			b.str(c)
		}
	case r.Frame != nil:
		b.u8(reqFrame)
		f := r.Frame
		b.u64(f.FrameID)
		b.str(f.SessionID)
		b.u8(uint8(f.PixelFormat))
		b.u8(uint8(f.Codec))
		b.i32(int32(f.Width))
		b.i32(int32(f.Height))
		b.optU64(f.TsMonoNs)
		b.optU64(f.TsUtcNs)
		b.u16(uint16(len(f.Planes)))
		for _, p := range f.Planes {
			b.u32(p.Offset)
			b.u32(p.Size)
		}
		b.bytesField(f.Data)
	case r.End != nil:
		b.u8(reqEnd)
	}
}

func decodeResponse(r *byteReader) (*Response, error) {
	variant, err := r.u8()
	if err != nil {
		return nil, err
	}
	resp := &Response{}
	switch variant {
	case respInitOk:
		chosen := ChosenFormat{}
		pf, err := r.u8()
		if err != nil {
			return nil, err
		}
		chosen.PixelFormat = PixelFormat(pf)
		cd, err := r.u8()
		if err != nil {
			return nil, err
		}
		chosen.Codec = Codec(cd)
		w32, err := r.i32()
		if err != nil {
			return nil, err
		}
		chosen.Width = int(w32)
		h32, err := r.i32()
		if err != nil {
			return nil, err
		}
		chosen.Height = int(h32)
		if chosen.FpsTarget, err = r.f64(); err != nil {
			return nil, err
		}
		pol, err := r.u8()
		if err != nil {
			return nil, err
		}
		chosen.Policy = Policy(pol)
		credits, err := r.i32()
		if err != nil {
			return nil, err
		}
		chosen.InitialCredits = int(credits)
		if chosen.ColorSpace, err = r.str(); err != nil {
			return nil, err
		}
		if chosen.ColorRange, err = r.str(); err != nil {
			return nil, err
		}
		maxBytes, err := r.u32()
		if err != nil {
			return nil, err
		}
		resp.InitOk = &InitOkResponse{Chosen: chosen, MaxFrameBytes: maxBytes}
	case respResult:
		res := &ResultResponse{}
		id, err := r.u64()
		if err != nil {
			return nil, err
		}
		res.FrameID = id
		if res.FrameRef.SessionID, err = r.str(); err != nil {
			return nil, err
		}
		if res.FrameRef.TsMonoNs, err = r.optU64(); err != nil {
			return nil, err
		}
		if res.FrameRef.TsUtcNs, err = r.optU64(); err != nil {
			return nil, err
		}
		if res.ModelName, err = r.str(); err != nil {
			return nil, err
		}
		if res.ModelVersion, err = r.str(); err != nil {
			return nil, err
		}
		if res.Latency.PreMs, err = r.f64(); err != nil {
			return nil, err
		}
		if res.Latency.InferMs, err = r.f64(); err != nil {
			return nil, err
		}
		if res.Latency.PostMs, err = r.f64(); err != nil {
			return nil, err
		}
		if res.Latency.TotalMs, err = r.f64(); err != nil {
			return nil, err
		}
		n, err := r.u16()
		if err != nil {
			return nil, err
		}
		for i := uint16(0); i < n; i++ {
			d, err := decodeDetection(r)
			if err != nil {
				return nil, err
			}
			res.Detections = append(res.Detections, d)
		}
		resp.Result = res
	case respWindowUpdate:
		n, err := r.i32()
		if err != nil {
			return nil, err
		}
		resp.WindowUpdate = &WindowUpdateResponse{NewWindowSize: int(n)}
	case respError:
		code, err := r.u8()
		if err != nil {
			return nil, err
		}
		msg, err := r.str()
		if err != nil {
			return nil, err
		}
		resp.Error = &ErrorResponse{Code: ErrorCode(code), Message: msg}
	default:
		return nil, eris.Errorf("unknown response variant %d", variant)
	}
	return resp, nil
}

func encodeResponse(b *byteWriter, r *Response) {
	switch {
	case r.InitOk != nil:
		b.u8(respInitOk)
		c := r.InitOk.Chosen
		b.u8(uint8(c.PixelFormat))
		b.u8(uint8(c.Codec))
		b.i32(int32(c.Width))
		b.i32(int32(c.Height))
		b.f64(c.FpsTarget)
		b.u8(uint8(c.Policy))
		b.i32(int32(c.InitialCredits))
		b.str(c.ColorSpace)
		b.str(c.ColorRange)
		b.u32(r.InitOk.MaxFrameBytes)
	case r.Result != nil:
		b.u8(respResult)
		res := r.Result
		b.u64(res.FrameID)
		b.str(res.FrameRef.SessionID)
		b.optU64(res.FrameRef.TsMonoNs)
		b.optU64(res.FrameRef.TsUtcNs)
		b.str(res.ModelName)
		b.str(res.ModelVersion)
		b.f64(res.Latency.PreMs)
		b.f64(res.Latency.InferMs)
		b.f64(res.Latency.PostMs)
		b.f64(res.Latency.TotalMs)
		b.u16(uint16(len(res.Detections)))
		for _, d := range res.Detections {
			encodeDetection(b, d)
		}
	case r.WindowUpdate != nil:
		b.u8(respWindowUpdate)
		b.i32(int32(r.WindowUpdate.NewWindowSize))
	case r.Error != nil:
		b.u8(respError)
		b.u8(uint8(r.Error.Code))
		b.str(r.Error.Message)
	}
}

func decodeDetection(r *byteReader) (Detection, error) {
	var d Detection
	var err error
	if d.X1, err = r.f64(); err != nil {
		return d, err
	}
	if d.Y1, err = r.f64(); err != nil {
		return d, err
	}
	if d.X2, err = r.f64(); err != nil {
		return d, err
	}
	if d.Y2, err = r.f64(); err != nil {
		return d, err
	}
	if d.Confidence, err = r.f64(); err != nil {
		return d, err
	}
	cid, err := r.i32()
	if err != nil {
		return d, err
	}
	d.ClassID = int(cid)
	if d.ClassName, err = r.str(); err != nil {
		return d, err
	}
	if d.TrackID, err = r.str(); err != nil {
		return d, err
	}
	return d, nil
}

func encodeDetection(b *byteWriter, d Detection) {
	b.f64(d.X1)
	b.f64(d.Y1)
	b.f64(d.X2)
	b.f64(d.Y2)
	b.f64(d.Confidence)
	b.i32(int32(d.ClassID))
	b.str(d.ClassName)
	b.str(d.TrackID)
}

func decodeHeartbeat(r *byteReader) (*Heartbeat, error) {
	hb := &Heartbeat{}
	var err error
	if hb.LastFrameID, err = r.u64(); err != nil {
		return nil, err
	}
	if hb.FramesRx, err = r.u64(); err != nil {
		return nil, err
	}
	if hb.FramesTx, err = r.u64(); err != nil {
		return nil, err
	}
	return hb, nil
}

func encodeHeartbeat(b *byteWriter, hb *Heartbeat) {
	b.u64(hb.LastFrameID)
	b.u64(hb.FramesRx)
	b.u64(hb.FramesTx)
}

// --- primitive (de)serialization helpers, in the teacher's manual binary
// packing idiom (v3/mux/frame.go uses the same direct-byte-slice style). ---

type byteWriter struct {
	buf []byte
}

func (w *byteWriter) bytes() []byte { return w.buf }

func (w *byteWriter) u8(v uint8) { w.buf = append(w.buf, v) }

func (w *byteWriter) u16(v uint16) {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
}

func (w *byteWriter) u32(v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
}

func (w *byteWriter) i32(v int32) { w.u32(uint32(v)) }

func (w *byteWriter) u64(v uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
}

func (w *byteWriter) f64(v float64) { w.u64(math.Float64bits(v)) }

func (w *byteWriter) optU64(v *uint64) {
	if v == nil {
		w.u8(0)
		return
	}
	w.u8(1)
	w.u64(*v)
}

func (w *byteWriter) str(s string) { w.bytesField([]byte(s)) }

func (w *byteWriter) bytesField(b []byte) {
	w.u32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

type byteReader struct {
	b   []byte
	pos int
}

func (r *byteReader) need(n int) error {
	if len(r.b)-r.pos < n {
		return eris.New("unexpected end of envelope payload")
	}
	return nil
}

func (r *byteReader) u8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.b[r.pos]
	r.pos++
	return v, nil
}

func (r *byteReader) u16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(r.b[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *byteReader) u32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.b[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *byteReader) i32() (int32, error) {
	v, err := r.u32()
	return int32(v), err
}

func (r *byteReader) u64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(r.b[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *byteReader) f64() (float64, error) {
	v, err := r.u64()
	return math.Float64frombits(v), err
}

func (r *byteReader) optU64() (*uint64, error) {
	present, err := r.u8()
	if err != nil {
		return nil, err
	}
	if present == 0 {
		return nil, nil
	}
	v, err := r.u64()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *byteReader) str() (string, error) {
	b, err := r.bytesField()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *byteReader) bytesField() ([]byte, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	if err := r.need(int(n)); err != nil {
		return nil, err
	}
	b := r.b[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return b, nil
}
