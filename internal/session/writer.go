package session

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"

	"github.com/simonll4/worker-ai-core/internal/tracker"
)

// Config tunes a session Writer (spec §6.3 Sessions options).
type Config struct {
	OutputDir        string
	DefaultFPS       float64
	SegmentDurationS float64
}

// segmentState is the in-memory mirror of one Segment entry plus its open
// file handle while active.
type segmentState struct {
	Segment
	file *os.File
}

// Writer persists tracked-object records for one session to segmented
// JSONL files plus atomically-maintained index.json/meta.json, grounded on
// original_source/services/worker-ai/src/session/manager.py's SessionWriter.
type Writer struct {
	sessionID        string
	sessionDir       string
	segmentsDir      string
	fps              float64
	segmentDurationS float64

	segments       map[int]*segmentState
	currentSegment int
	hasCurrent     bool

	classesSeen map[int]string

	frameCount    int
	latestFrameID int

	startTime string
	endTime   string

	startMonoNs *int64
	startUTCNs  *int64
	latestMonoNs *int64
	latestUTCNs  *int64

	videoWidth  int
	videoHeight int

	deviceID string

	fpsEst fpsEstimator
}

// NewWriter opens (creating directories and placeholder files) a session
// writer for id, which must already be normalized via Normalize.
func NewWriter(id string, cfg Config) (*Writer, error) {
	fps := cfg.DefaultFPS
	if fps <= 0 {
		fps = 10.0
	}
	segDur := cfg.SegmentDurationS
	if segDur <= 0 {
		segDur = 10.0
	}

	sessionDir := filepath.Join(cfg.OutputDir, id)
	segmentsDir := filepath.Join(sessionDir, "tracks")
	if err := os.MkdirAll(segmentsDir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "session: create session directory for %s", id)
	}

	w := &Writer{
		sessionID:        id,
		sessionDir:       sessionDir,
		segmentsDir:      segmentsDir,
		fps:              fps,
		segmentDurationS: segDur,
		segments:         make(map[int]*segmentState),
		currentSegment:   -1,
		classesSeen:      make(map[int]string),
		latestFrameID:    -1,
		startTime:        nowUTCISO(),
		deviceID:         deviceIDFromSessionID(id),
	}

	if err := w.writeMeta(); err != nil {
		return nil, err
	}
	if err := w.writeIndex(); err != nil {
		return nil, err
	}
	return w, nil
}

// TrackFrame is one frame's worth of tracked-object rows plus optional
// wall-clock metadata, the unit WriteFrame persists (spec §4.6 per-frame
// record).
type TrackFrame struct {
	FrameID     int
	FrameWidth  int
	FrameHeight int
	TSMonoNs    *int64
	TSUTCNs     *int64
	Tracks      []*tracker.Track
}

// WriteFrame appends one record to the appropriate segment (spec §4.6:
// "writes are triggered only for frames with at least one active track").
// No-op if frame.Tracks is empty.
func (w *Writer) WriteFrame(frame TrackFrame) error {
	if len(frame.Tracks) == 0 {
		return nil
	}

	if frame.TSMonoNs != nil && w.startMonoNs == nil {
		w.startMonoNs = frame.TSMonoNs
	}
	if frame.TSUTCNs != nil && w.startUTCNs == nil {
		w.startUTCNs = frame.TSUTCNs
		w.startTime = nsToUTCISO(*frame.TSUTCNs)
	}
	if frame.TSMonoNs != nil {
		w.latestMonoNs = frame.TSMonoNs
	}
	if frame.TSUTCNs != nil {
		w.latestUTCNs = frame.TSUTCNs
	}
	w.fpsEst.Observe(frame.TSMonoNs, frame.TSUTCNs)

	tRel := w.relativeTime(frame)
	segIndex := int(tRel / w.segmentDurationS)

	seg, err := w.ensureSegment(segIndex)
	if err != nil {
		return err
	}

	w.frameCount++
	if frame.FrameID > w.latestFrameID {
		w.latestFrameID = frame.FrameID
	}
	if frame.FrameWidth > 0 {
		w.videoWidth = frame.FrameWidth
	}
	if frame.FrameHeight > 0 {
		w.videoHeight = frame.FrameHeight
	}

	objs := make([]trackRecord, 0, len(frame.Tracks))
	for _, tr := range frame.Tracks {
		w.classesSeen[tr.ClassID] = tr.ClassName
		objs = append(objs, buildTrackRecord(tr))
	}

	rec := frameRecord{
		TRelS:    round3(tRel),
		Frame:    frame.FrameID,
		TSMonoNs: frame.TSMonoNs,
		TSUTCNs:  frame.TSUTCNs,
		Objs:     objs,
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "session: marshal frame record")
	}
	if _, err := seg.file.Write(append(line, '\n')); err != nil {
		return eris.Wrap(err, "session: write segment line")
	}
	if err := seg.file.Sync(); err != nil {
		_ = err
	}

	seg.Count++

	if err := w.writeIndex(); err != nil {
		return err
	}
	return w.writeMeta()
}

// Finalize closes the current segment and rewrites index/meta one last
// time. It is idempotent and tolerates a writer that was never opened on
// disk (spec §4.6 "finalization must be idempotent and tolerant of missing
// directories").
func (w *Writer) Finalize() error {
	if w.latestUTCNs != nil {
		w.endTime = nsToUTCISO(*w.latestUTCNs)
	} else {
		w.endTime = nowUTCISO()
	}
	w.closeCurrentSegment()

	if err := w.writeIndex(); err != nil {
		return err
	}
	return w.writeMeta()
}

func (w *Writer) relativeTime(frame TrackFrame) float64 {
	var tRel float64
	switch {
	case frame.TSMonoNs != nil && w.startMonoNs != nil:
		tRel = float64(*frame.TSMonoNs-*w.startMonoNs) / 1e9
	case frame.TSUTCNs != nil && w.startUTCNs != nil:
		tRel = float64(*frame.TSUTCNs-*w.startUTCNs) / 1e9
	default:
		fps := w.fps
		if est := w.fpsEst.Estimate(); est > 0 {
			fps = est
		}
		if fps <= 0 {
			fps = 1
		}
		tRel = float64(frame.FrameID) / fps
	}
	if tRel < 0 {
		tRel = 0
	}
	return tRel
}

func (w *Writer) ensureSegment(index int) (*segmentState, error) {
	if w.hasCurrent && w.currentSegment == index {
		return w.segments[index], nil
	}
	w.closeCurrentSegment()

	seg, ok := w.segments[index]
	if !ok {
		t0 := float64(index) * w.segmentDurationS
		t1 := float64(index+1) * w.segmentDurationS
		seg = &segmentState{Segment: Segment{
			Index: index,
			T0:    round3(t0),
			T1:    round3(t1),
			URL:   fmt.Sprintf("tracks/seg-%04d.jsonl", index),
		}}
		w.segments[index] = seg
	}
	seg.Closed = false

	path := filepath.Join(w.segmentsDir, fmt.Sprintf("seg-%04d.jsonl", index))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, eris.Wrapf(err, "session: open segment file %s", path)
	}
	seg.file = f
	w.currentSegment = index
	w.hasCurrent = true
	return seg, nil
}

func (w *Writer) closeCurrentSegment() {
	if w.hasCurrent {
		if seg, ok := w.segments[w.currentSegment]; ok {
			if seg.file != nil {
				seg.file.Sync()
				seg.file.Close()
				seg.file = nil
			}
			seg.Closed = true
		}
	}
	w.hasCurrent = false
	w.currentSegment = -1
}

func (w *Writer) writeIndex() error {
	segments := make([]Segment, 0, len(w.segments))
	for _, s := range w.segments {
		segments = append(segments, s.Segment)
	}
	sortSegments(segments)

	var durationS float64
	switch {
	case w.startMonoNs != nil && w.latestMonoNs != nil && *w.latestMonoNs >= *w.startMonoNs:
		durationS = round3(float64(*w.latestMonoNs-*w.startMonoNs) / 1e9)
	case w.latestFrameID >= 0 && w.fps > 0:
		durationS = round3(float64(w.latestFrameID+1) / w.fps)
	}

	idx := Index{
		SegmentDurationS: w.segmentDurationS,
		Segments:         segments,
		FPS:              w.fps,
		DurationS:        durationS,
	}
	return atomicWriteJSON(filepath.Join(w.sessionDir, "index.json"), idx)
}

func (w *Writer) writeMeta() error {
	video := VideoInfo{Width: w.videoWidth, Height: w.videoHeight, FPS: w.fps}
	if w.startUTCNs != nil {
		video.StartTSUTCNs = fmt.Sprintf("%d", *w.startUTCNs)
	}
	if w.latestUTCNs != nil {
		video.EndTSUTCNs = fmt.Sprintf("%d", *w.latestUTCNs)
	}

	classes := make([]ClassEntry, 0, len(w.classesSeen))
	for id, name := range w.classesSeen {
		classes = append(classes, ClassEntry{ID: id, Name: name})
	}
	sortClasses(classes)

	meta := Meta{
		SessionID:  w.sessionID,
		DeviceID:   w.deviceID,
		StartTime:  w.startTime,
		EndTime:    w.endTime,
		FrameCount: w.frameCount,
		FPS:        w.fps,
		Video:      video,
		Classes:    classes,
	}
	return atomicWriteJSON(filepath.Join(w.sessionDir, "meta.json"), meta)
}

func deviceIDFromSessionID(id string) string {
	parts := splitN(id, "_", 3)
	if len(parts) >= 2 {
		return parts[1]
	}
	return "unknown"
}

func splitN(s, sep string, n int) []string {
	var out []string
	for i := 0; i < n-1; i++ {
		idx := indexOf(s, sep)
		if idx < 0 {
			break
		}
		out = append(out, s[:idx])
		s = s[idx+len(sep):]
	}
	out = append(out, s)
	return out
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func nowUTCISO() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}

func nsToUTCISO(ns int64) string {
	return time.Unix(0, ns).UTC().Format("2006-01-02T15:04:05.000Z")
}

func round3(v float64) float64 { return math.Round(v*1e3) / 1e3 }
func round4(v float64) float64 { return math.Round(v*1e4) / 1e4 }
