package session

import (
	"sort"

	"github.com/simonll4/worker-ai-core/internal/tracker"
)

// frameRecord is the per-line JSONL shape (spec §4.6): "{t_rel_s, frame,
// ts_mono_ns?, ts_utc_ns?, objs:[...]}".
type frameRecord struct {
	TRelS    float64       `json:"t_rel_s"`
	Frame    int           `json:"frame"`
	TSMonoNs *int64        `json:"ts_mono_ns,omitempty"`
	TSUTCNs  *int64        `json:"ts_utc_ns,omitempty"`
	Objs     []trackRecord `json:"objs"`
}

type kfState struct {
	BBoxSmooth []float64 `json:"bbox_smooth,omitempty"`
	BBoxPred   []float64 `json:"bbox_pred,omitempty"`
	Velocity   []float64 `json:"velocity,omitempty"`
}

type trackMeta struct {
	Age             int    `json:"age"`
	Hits            int    `json:"hits"`
	HitStreak       int    `json:"hit_streak"`
	TimeSinceUpdate int    `json:"time_since_update"`
	State           string `json:"state"`
}

// trackRecord is one `obj` entry: "at minimum {track_id, cls, cls_name,
// conf, bbox_xyxy}" plus optional kf_state/track_meta (spec §4.6).
type trackRecord struct {
	TrackID   int        `json:"track_id"`
	Cls       int        `json:"cls"`
	ClsName   string     `json:"cls_name"`
	Conf      float64    `json:"conf"`
	BBoxXYXY  [4]float64 `json:"bbox_xyxy"`
	KFState   *kfState   `json:"kf_state,omitempty"`
	TrackMeta *trackMeta `json:"track_meta,omitempty"`
}

func buildTrackRecord(tr *tracker.Track) trackRecord {
	rec := trackRecord{
		TrackID: tr.ID,
		Cls:     tr.ClassID,
		ClsName: tr.ClassName,
		Conf:    round4(tr.Confidence),
		BBoxXYXY: [4]float64{
			round4(tr.BBox.X1), round4(tr.BBox.Y1),
			round4(tr.BBox.X2), round4(tr.BBox.Y2),
		},
	}

	if tr.Kalman.Active {
		kf := &kfState{
			BBoxSmooth: bboxSlice(tr.Kalman.Smoothed),
			BBoxPred:   bboxSlice(tr.Kalman.Predicted),
			Velocity:   []float64{round4(tr.Kalman.Velocity[0]), round4(tr.Kalman.Velocity[1])},
		}
		rec.KFState = kf
	}

	if tr.Age > 0 || tr.Hits > 0 {
		rec.TrackMeta = &trackMeta{
			Age:             tr.Age,
			Hits:            tr.Hits,
			HitStreak:       tr.HitStreak,
			TimeSinceUpdate: tr.TimeSinceUpdate,
			State:           tr.State.String(),
		}
	}

	return rec
}

func bboxSlice(b tracker.BBox) []float64 {
	return []float64{round4(b.X1), round4(b.Y1), round4(b.X2), round4(b.Y2)}
}

func sortSegments(segs []Segment) {
	sort.Slice(segs, func(i, j int) bool { return segs[i].Index < segs[j].Index })
}

func sortClasses(classes []ClassEntry) {
	sort.Slice(classes, func(i, j int) bool { return classes[i].ID < classes[j].ID })
}
