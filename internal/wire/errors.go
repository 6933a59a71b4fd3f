package wire

import "github.com/rotisserie/eris"

// Sentinel decode errors the connection handler distinguishes from generic
// malformed-payload errors so it can choose the right ErrorCode (spec §4.2,
// §7).
var (
	errVersionUnsupported = eris.New("protocol_version mismatch")
	errBadMessage         = eris.New("msg_type does not match carried variant")
)

// IsVersionUnsupported reports whether err (or its cause chain) is the
// protocol-version mismatch sentinel.
func IsVersionUnsupported(err error) bool {
	return eris.Is(err, errVersionUnsupported)
}

// IsBadMessage reports whether err (or its cause chain) is the
// variant-mismatch sentinel.
func IsBadMessage(err error) bool {
	return eris.Is(err, errBadMessage)
}
