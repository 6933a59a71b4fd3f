package session

import (
	"sync"

	"github.com/rotisserie/eris"
)

// Manager tracks the currently-active session Writers keyed by normalized
// session id, grounded on
// original_source/services/worker-ai/src/session/manager.py's
// SessionManager.
type Manager struct {
	cfg Config

	mu     sync.Mutex
	active map[string]*Writer
}

// NewManager constructs a Manager rooted at cfg.OutputDir.
func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg, active: make(map[string]*Writer)}
}

// Start opens (or reopens, finalizing any prior instance first) a session
// writer for id, per spec §4.6: "a session is opened once; reopening the
// same id while active first finalizes the prior writer."
func (m *Manager) Start(id string, fpsOverride float64) (*Writer, error) {
	normalized, err := Normalize(id)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if prior, ok := m.active[normalized]; ok {
		delete(m.active, normalized)
		_ = prior.Finalize()
	}

	cfg := m.cfg
	if fpsOverride > 0 {
		cfg.DefaultFPS = fpsOverride
	}
	w, err := NewWriter(normalized, cfg)
	if err != nil {
		return nil, eris.Wrapf(err, "session: start %s", normalized)
	}
	m.active[normalized] = w
	return w, nil
}

// End finalizes and removes the writer for id, if any.
func (m *Manager) End(id string) error {
	m.mu.Lock()
	w, ok := m.active[id]
	if ok {
		delete(m.active, id)
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}
	return w.Finalize()
}

// EndAll finalizes every active session, for graceful server shutdown
// (spec §4.9).
func (m *Manager) EndAll() {
	m.mu.Lock()
	writers := make([]*Writer, 0, len(m.active))
	for id, w := range m.active {
		writers = append(writers, w)
		delete(m.active, id)
	}
	m.mu.Unlock()

	for _, w := range writers {
		_ = w.Finalize()
	}
}
