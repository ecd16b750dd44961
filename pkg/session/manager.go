package session

import (
	"context"
	"sort"
	"sync"

	"github.com/jingkaihe/skillgate/pkg/logger"
	"github.com/jingkaihe/skillgate/pkg/mode"
	"github.com/jingkaihe/skillgate/pkg/skills"
	"github.com/pkg/errors"
)

// ErrSessionNotFound is returned for unknown session identifiers.
var ErrSessionNotFound = errors.New("session not found")

// ErrSessionExists is returned when creating a session under an identifier in use.
var ErrSessionExists = errors.New("session already exists")

type hosted struct {
	mu sync.Mutex
	c  *Controller
}

// Manager hosts independent sessions. Turns of one session run one at a time;
// different sessions never wait for each other.
type Manager struct {
	mu       sync.RWMutex
	reg      *skills.Registry
	cfg      Config
	opts     []Option
	sessions map[string]*hosted
}

// NewManager creates a manager whose sessions share reg and use cfg and opts.
func NewManager(reg *skills.Registry, cfg Config, opts ...Option) *Manager {
	return &Manager{
		reg:      reg,
		cfg:      cfg,
		opts:     opts,
		sessions: make(map[string]*hosted),
	}
}

// SetRegistry replaces the catalog used by sessions created afterwards.
// Existing sessions keep the registry they started with.
func (m *Manager) SetRegistry(reg *skills.Registry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reg = reg
}

// Registry returns the catalog new sessions start with.
func (m *Manager) Registry() *skills.Registry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reg
}

// Create starts a new session. Extra options apply after the manager's own.
func (m *Manager) Create(ctx context.Context, opts ...Option) (*Controller, error) {
	m.mu.RLock()
	reg, cfg := m.reg, m.cfg
	all := append(append([]Option(nil), m.opts...), opts...)
	m.mu.RUnlock()

	c, err := New(ctx, reg, cfg, all...)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[c.ID()]; exists {
		return nil, errors.Wrapf(ErrSessionExists, "%q", c.ID())
	}
	m.sessions[c.ID()] = &hosted{c: c}
	return c, nil
}

func (m *Manager) lookup(id string) (*hosted, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.sessions[id]
	if !ok {
		return nil, errors.Wrapf(ErrSessionNotFound, "%q", id)
	}
	return h, nil
}

// Handle runs one turn of session id.
func (m *Manager) Handle(ctx context.Context, id string, turn Turn) (*Decision, error) {
	h, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.c.Handle(ctx, turn)
}

// Transition changes the mode of session id.
func (m *Manager) Transition(ctx context.Context, id string, to mode.Mode, reason string) (mode.TransitionRecord, error) {
	h, err := m.lookup(id)
	if err != nil {
		return mode.TransitionRecord{}, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.c.Transition(ctx, to, reason)
}

// Snapshot returns the state of session id.
func (m *Manager) Snapshot(id string) (State, error) {
	h, err := m.lookup(id)
	if err != nil {
		return State{}, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.c.Snapshot(), nil
}

// Close ends session id.
func (m *Manager) Close(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return errors.Wrapf(ErrSessionNotFound, "%q", id)
	}
	delete(m.sessions, id)
	logger.G(ctx).WithField(logger.FieldSession, id).Info("session closed")
	return nil
}

// IDs returns the open session identifiers in sorted order.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
