package wire

import (
	"bytes"
	"reflect"
	"testing"
)

func TestCodec_RoundTrip(t *testing.T) {
	conf := 0.5
	tsMono := uint64(123456789)

	tests := []struct {
		name string
		env  *Envelope
	}{
		{
			name: "init request",
			env: &Envelope{
				MsgType:  MsgInit,
				StreamID: "stream-1",
				Request: &Request{
					Init: &InitRequest{
						ModelPath: "models/yolo11s.onnx",
						Caps: Capabilities{
							MaxWidth:            1920,
							MaxHeight:           1080,
							ConfidenceThreshold: &conf,
							ClassesFilter:       []string{"person", "car"},
						},
					},
				},
			},
		},
		{
			name: "frame request",
			env: &Envelope{
				MsgType:  MsgFrame,
				StreamID: "stream-1",
				Request: &Request{
					Frame: &FrameRequest{
						FrameID:     42,
						SessionID:   "sess-a",
						PixelFormat: PixelNV12,
						Codec:       CodecNone,
						Width:       640,
						Height:      480,
						TsMonoNs:    &tsMono,
						Data:        bytes.Repeat([]byte{1, 2, 3}, 10),
					},
				},
			},
		},
		{
			name: "end request",
			env: &Envelope{
				MsgType:  MsgEnd,
				StreamID: "stream-1",
				Request:  &Request{End: &EndRequest{}},
			},
		},
		{
			name: "result response with detections",
			env: &Envelope{
				MsgType:  MsgResult,
				StreamID: "stream-1",
				Response: &Response{
					Result: &ResultResponse{
						FrameID: 7,
						FrameRef: FrameRef{
							SessionID: "sess-a",
							TsMonoNs:  &tsMono,
						},
						ModelName:    "yolo11s",
						ModelVersion: "1",
						Latency:      Latency{PreMs: 1, InferMs: 2, PostMs: 3, TotalMs: 6},
						Detections: []Detection{
							{X1: 0.1, Y1: 0.1, X2: 0.4, Y2: 0.5, Confidence: 0.9, ClassID: 0, ClassName: "person", TrackID: "1"},
						},
					},
				},
			},
		},
		{
			name: "error response",
			env: &Envelope{
				MsgType:  MsgError,
				StreamID: "stream-1",
				Response: &Response{Error: &ErrorResponse{Code: ErrBadSequence, Message: "frame before init"}},
			},
		},
		{
			name: "heartbeat",
			env: &Envelope{
				MsgType:   MsgHeartbeat,
				StreamID:  "stream-1",
				Heartbeat: &Heartbeat{LastFrameID: 5, FramesRx: 5, FramesTx: 4},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc := NewCodec()
			var buf bytes.Buffer
			tt.env.ProtocolVersion = ProtocolVersion
			if err := enc.Encode(&buf, tt.env); err != nil {
				t.Fatalf("encode: %v", err)
			}

			dec := NewCodec()
			got, err := dec.Decode(buf.Bytes())
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !reflect.DeepEqual(got, tt.env) {
				t.Fatalf("round trip mismatch:\n got=%+v\nwant=%+v", got, tt.env)
			}
		})
	}
}

func TestCodec_VersionMismatch(t *testing.T) {
	b := &byteWriter{}
	b.u32(2) // unsupported version
	b.u8(uint8(MsgInit))
	b.str("s")
	b.u8(oneofRequest)
	b.u8(reqEnd)

	dec := NewCodec()
	_, err := dec.Decode(b.bytes())
	if !IsVersionUnsupported(err) {
		t.Fatalf("expected version unsupported, got %v", err)
	}
}

func TestCodec_MsgTypeVariantMismatch(t *testing.T) {
	b := &byteWriter{}
	b.u32(ProtocolVersion)
	b.u8(uint8(MsgInit)) // claims INIT
	b.str("s")
	b.u8(oneofRequest)
	b.u8(reqEnd) // but carries End

	dec := NewCodec()
	_, err := dec.Decode(b.bytes())
	if !IsBadMessage(err) {
		t.Fatalf("expected bad message, got %v", err)
	}
}

func TestCodec_CachesStreamIDFromFirstEnvelope(t *testing.T) {
	enc := NewCodec()
	first := &Envelope{ProtocolVersion: ProtocolVersion, MsgType: MsgEnd, StreamID: "abc", Request: &Request{End: &EndRequest{}}}
	var buf bytes.Buffer
	_ = enc.Encode(&buf, first)

	second := &Envelope{ProtocolVersion: ProtocolVersion, MsgType: MsgEnd, StreamID: "ignored-because-cached-on-encode-side", Request: &Request{End: &EndRequest{}}}
	buf.Reset()
	if err := enc.Encode(&buf, second); err != nil {
		t.Fatalf("encode: %v", err)
	}

	dec := NewCodec()
	got, err := dec.Decode(buf.Bytes())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.StreamID != "abc" {
		t.Fatalf("expected the encoder's cached stream id abc on the wire, got %q", got.StreamID)
	}
	if dec.StreamID() != "abc" {
		t.Fatalf("expected decoder to cache stream id abc, got %q", dec.StreamID())
	}
}
