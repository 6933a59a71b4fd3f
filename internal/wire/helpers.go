package wire

// NewErrorEnvelope builds an ERROR response envelope. The caller is
// responsible for stamping StreamID through the Codec on encode.
func NewErrorEnvelope(code ErrorCode, message string) *Envelope {
	return &Envelope{
		MsgType: MsgError,
		Response: &Response{
			Error: &ErrorResponse{Code: code, Message: message},
		},
	}
}

// NewHeartbeatEnvelope builds a HEARTBEAT envelope.
func NewHeartbeatEnvelope(hb Heartbeat) *Envelope {
	return &Envelope{MsgType: MsgHeartbeat, Heartbeat: &hb}
}

// NewInitOkEnvelope builds an INIT_OK response envelope.
func NewInitOkEnvelope(chosen ChosenFormat, maxFrameBytes uint32) *Envelope {
	return &Envelope{
		MsgType: MsgInitOk,
		Response: &Response{
			InitOk: &InitOkResponse{Chosen: chosen, MaxFrameBytes: maxFrameBytes},
		},
	}
}

// NewResultEnvelope builds a RESULT response envelope.
func NewResultEnvelope(r ResultResponse) *Envelope {
	return &Envelope{MsgType: MsgResult, Response: &Response{Result: &r}}
}

// NewWindowUpdateEnvelope builds a WINDOW_UPDATE response envelope.
func NewWindowUpdateEnvelope(newSize int) *Envelope {
	return &Envelope{
		MsgType: MsgWindowUpdate,
		Response: &Response{
			WindowUpdate: &WindowUpdateResponse{NewWindowSize: newSize},
		},
	}
}
