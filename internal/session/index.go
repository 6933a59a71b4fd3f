package session

import (
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
)

// Segment describes one tracks/seg-%04d.jsonl file (spec §4.6).
type Segment struct {
	Index  int     `json:"i"`
	T0     float64 `json:"t0"`
	T1     float64 `json:"t1"`
	URL    string  `json:"url"`
	Count  int     `json:"count"`
	Closed bool    `json:"closed"`
}

// Index is the persisted index.json contract.
type Index struct {
	SegmentDurationS float64   `json:"segment_duration_s"`
	Segments         []Segment `json:"segments"`
	FPS              float64   `json:"fps"`
	DurationS        float64   `json:"duration_s"`
}

// ClassEntry is one {id,name} pair seen during the session.
type ClassEntry struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// VideoInfo is meta.json's "video" sub-object.
type VideoInfo struct {
	Width         int    `json:"width,omitempty"`
	Height        int    `json:"height,omitempty"`
	FPS           float64 `json:"fps"`
	StartTSUTCNs  string `json:"start_ts_utc_ns,omitempty"`
	EndTSUTCNs    string `json:"end_ts_utc_ns,omitempty"`
}

// Meta is the persisted meta.json contract.
type Meta struct {
	SessionID  string       `json:"session_id"`
	DeviceID   string       `json:"device_id"`
	StartTime  string       `json:"start_time"`
	EndTime    string       `json:"end_time,omitempty"`
	FrameCount int          `json:"frame_count"`
	FPS        float64      `json:"fps"`
	Video      VideoInfo    `json:"video"`
	Classes    []ClassEntry `json:"classes"`
}

// atomicWriteJSON marshals payload and writes it to path via a temp sibling
// file, fsync, then rename-over, per spec §4.6: "write a *.tmp sibling,
// fsync if available, then rename over the destination." Grounded on
// original_source/services/worker-ai/src/session/manager.py's
// _atomic_json_dump; no atomic-file-replace library (e.g. renameio) appears
// anywhere in the retrieved corpus, so this uses stdlib os directly.
func atomicWriteJSON(path string, payload interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "session: create directory for %s", path)
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return eris.Wrapf(err, "session: marshal %s", path)
	}

	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return eris.Wrapf(err, "session: open temp file for %s", path)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		return eris.Wrapf(err, "session: write temp file for %s", path)
	}
	if err := f.Sync(); err != nil {
		// Best-effort: not all filesystems support fsync (spec §4.6
		// "fsync if available"); a failure here does not block the rename.
		_ = err
	}
	if err := f.Close(); err != nil {
		return eris.Wrapf(err, "session: close temp file for %s", path)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return eris.Wrapf(err, "session: rename into place %s", path)
	}
	return nil
}
