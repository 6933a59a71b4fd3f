// Package config loads worker-ai-core's YAML configuration (spec §6.3) and
// provides a file Watcher that cmd/worker-ai uses to hot-reload the class
// catalog file (spec §9 "Class catalog loading — parse once at startup,
// then share a read-only table", generalized here to also cover live edits
// during a long-running server the way the teacher's settings-sync daemon
// watches its config directory). The tracker section and the tracker
// params file are parsed here but are neither watched nor applied:
// connection handlers build their trackers from tracker.DefaultConfig().
package config

import (
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// ServerConfig is spec §6.3's "Server: {bind_host, bind_port,
// idle_timeout_sec}".
type ServerConfig struct {
	BindHost       string `yaml:"bind_host"`
	BindPort       int    `yaml:"bind_port"`
	IdleTimeoutSec int    `yaml:"idle_timeout_sec"`
}

// ModelConfig is spec §6.3's "Model: {conf_threshold, nms_iou, classes[],
// class_catalog[] or class_catalog_path}".
type ModelConfig struct {
	ConfThreshold    float64  `yaml:"conf_threshold"`
	NMSIoU           float64  `yaml:"nms_iou"`
	Classes          []string `yaml:"classes"`
	ClassCatalog     []string `yaml:"class_catalog"`
	ClassCatalogPath string   `yaml:"class_catalog_path"`
}

// TrackerConfig is spec §6.3's "Tracker: {enabled, type, config_path,
// use_kalman}".
type TrackerConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Type       string `yaml:"type"`
	ConfigPath string `yaml:"config_path"`
	UseKalman  bool   `yaml:"use_kalman"`
}

// TrackerParams is the type-specific file TrackerConfig.ConfigPath may
// point at: "{match_thresh, max_age, min_hits}".
type TrackerParams struct {
	MatchThresh *float64 `yaml:"match_thresh"`
	MaxAge      *int     `yaml:"max_age"`
	MinHits     *int     `yaml:"min_hits"`
}

// SessionsConfig is spec §6.3's "Sessions: {output_dir, default_fps,
// segment_duration_s}".
type SessionsConfig struct {
	OutputDir        string  `yaml:"output_dir"`
	DefaultFPS       float64 `yaml:"default_fps"`
	SegmentDurationS int     `yaml:"segment_duration_s"`
}

// VisualizationConfig is spec §6.3's "Visualization: {enabled,
// window_name}".
type VisualizationConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WindowName string `yaml:"window_name"`
}

// ModelPoolConfig is the domain-stack extension beyond spec.md's explicit
// §6.3 options: the model pool's cache size and idle-eviction timeout
// (spec §4.8).
type ModelPoolConfig struct {
	MaxCachedModels int `yaml:"max_cached_models"`
	IdleTimeoutSec  int `yaml:"idle_timeout_sec"`
}

// Config is the top-level YAML document.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Model         ModelConfig         `yaml:"model"`
	Tracker       TrackerConfig       `yaml:"tracker"`
	Sessions      SessionsConfig      `yaml:"sessions"`
	Visualization VisualizationConfig `yaml:"visualization"`
	ModelPool     ModelPoolConfig     `yaml:"model_pool"`
}

// Default returns a Config with every field set to the defaults named
// across spec §4–§6.
func Default() Config {
	return Config{
		Server:  ServerConfig{BindHost: "0.0.0.0", BindPort: 7777, IdleTimeoutSec: 60},
		Model:   ModelConfig{ConfThreshold: 0.25, NMSIoU: 0.6},
		Tracker: TrackerConfig{Enabled: true, Type: "iou", UseKalman: true},
		Sessions: SessionsConfig{
			OutputDir:        "./sessions",
			DefaultFPS:       15,
			SegmentDurationS: 60,
		},
		Visualization: VisualizationConfig{Enabled: false, WindowName: "worker-ai"},
		ModelPool:     ModelPoolConfig{MaxCachedModels: 4, IdleTimeoutSec: 300},
	}
}

// Load reads and parses a YAML config file, filling unset fields from
// Default().
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, eris.Wrapf(err, "config: read %s", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, eris.Wrapf(err, "config: parse %s", path)
	}
	return cfg, nil
}

// LoadTrackerParams reads the tracker type-specific file named by
// TrackerConfig.ConfigPath, if set.
func LoadTrackerParams(path string) (TrackerParams, error) {
	var p TrackerParams
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return p, eris.Wrapf(err, "config: read tracker params %s", path)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, eris.Wrapf(err, "config: parse tracker params %s", path)
	}
	return p, nil
}

// Watcher watches a set of files with fsnotify and invokes onChange
// whenever one of them is written, letting the class catalog hot-reload
// without a server restart (spec §9's "share a
// read-only table" generalized to "swap a read-only table on write").
// Grounded on the teacher's desktop.ClaudeJSONLWatcher, which wraps
// fsnotify.Watcher with its own lifecycle (ctx/cancel) and a callback
// invoked per relevant event.
type Watcher struct {
	fsw *fsnotify.Watcher
	log zerolog.Logger

	mu      sync.Mutex
	onPath  map[string]func()
	closeCh chan struct{}
}

// NewWatcher creates a Watcher with no files registered yet.
func NewWatcher(log zerolog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, eris.Wrap(err, "config: create fsnotify watcher")
	}
	return &Watcher{
		fsw:     fsw,
		log:     log.With().Str("component", "config_watcher").Logger(),
		onPath:  make(map[string]func()),
		closeCh: make(chan struct{}),
	}, nil
}

// Watch registers path and calls onChange whenever it is written to or
// created (covers editors that write-then-rename). A no-op if path is
// empty, since optional config files (e.g. no tracker config_path) should
// not be watched.
func (w *Watcher) Watch(path string, onChange func()) error {
	if path == "" {
		return nil
	}
	if err := w.fsw.Add(path); err != nil {
		return eris.Wrapf(err, "config: watch %s", path)
	}
	w.mu.Lock()
	w.onPath[path] = onChange
	w.mu.Unlock()
	return nil
}

// Run dispatches fsnotify events to registered callbacks until Close is
// called. Intended to run in its own goroutine.
func (w *Watcher) Run() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.mu.Lock()
			cb := w.onPath[ev.Name]
			w.mu.Unlock()
			if cb != nil {
				cb()
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("config watch error")
		case <-w.closeCh:
			return
		}
	}
}

// Close stops Run and releases the underlying inotify/kqueue handle.
func (w *Watcher) Close() error {
	close(w.closeCh)
	return w.fsw.Close()
}
