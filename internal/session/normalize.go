// Package session implements segmented append-only JSONL persistence of
// per-frame track records, one writer per active session (spec §4.6).
package session

import (
	"strings"

	"github.com/rotisserie/eris"
)

// ErrInvalidSessionID is returned by Normalize for an empty, ".", "..", or
// path-separator-containing session id (spec §4.6: "failure ⇒ BAD_MESSAGE").
var ErrInvalidSessionID = eris.New("session: invalid session id")

// Normalize trims and validates a session id, grounded on
// original_source/services/worker-ai/src/session/manager.py's
// normalize_session_id.
func Normalize(id string) (string, error) {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return "", ErrInvalidSessionID
	}
	if trimmed == "." || trimmed == ".." {
		return "", ErrInvalidSessionID
	}
	if strings.ContainsAny(trimmed, "/\\") {
		return "", ErrInvalidSessionID
	}
	return trimmed, nil
}
