package session

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sweeney/tapdial-bridge/internal/logic"
)

// Config configures a Manager.
type Config struct {
	// Debounce is the per-device deduplication window.
	Debounce time.Duration
	// Sink receives events from every session.
	Sink logic.Sink
	// Observer, if set, is told the outcome of every record.
	Observer Observer
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// Clock defaults to time.Now.
	Clock Clock
}

// Manager owns the sessions of all provisioned devices. Devices are
// independent and may be handled concurrently.
type Manager struct {
	cfg Config

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates an empty Manager.
func NewManager(cfg Config) *Manager {
	if cfg.Debounce <= 0 {
		cfg.Debounce = logic.DefaultDebounce
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Manager{
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}
}

// Provision creates a session for id. It returns false if one already exists;
// the existing session and its button state are kept.
func (m *Manager) Provision(id, name string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[id]; ok {
		return s, false
	}
	if name == "" {
		name = id
	}
	s := &Session{
		id:       id,
		name:     name,
		sink:     m.cfg.Sink,
		observer: m.cfg.Observer,
		logger:   m.cfg.Logger.With("device", id),
		clock:    m.cfg.Clock,
		started:  m.cfg.Clock(),
		device:   logic.NewDevice(m.cfg.Debounce),
	}
	m.sessions[id] = s
	m.cfg.Logger.Info("device provisioned", "device", id, "name", name)
	return s, true
}

// Deprovision drops the session for id, discarding its button state.
func (m *Manager) Deprovision(id string) bool {
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if ok {
		m.cfg.Logger.Info("device deprovisioned", "device", id)
	}
	return ok
}

// Get returns the session for id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Handle routes a payload to the session for id.
func (m *Manager) Handle(id string, payload []byte) (logic.Result, error) {
	s, ok := m.Get(id)
	if !ok {
		return logic.Result{}, fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	return s.Handle(payload)
}

// Devices returns the provisioned device IDs in sorted order.
func (m *Manager) Devices() []string {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Snapshots returns a snapshot of every session, sorted by ID.
func (m *Manager) Snapshots() []Snapshot {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	out := make([]Snapshot, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Close drops every session.
func (m *Manager) Close() {
	m.mu.Lock()
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
}
