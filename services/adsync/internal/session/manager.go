package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/ads-platform/internal/platform/analytics"
	"github.com/example/ads-platform/internal/platform/signing"
	"github.com/example/ads-platform/services/adsync/internal/adengine"
)

// Deps are the shared collaborators every session is built from.
type Deps struct {
	Log          *zap.Logger
	Client       *adengine.Client
	Signer       *signing.Signer
	Events       *analytics.Publisher
	CreativeTTL  time.Duration
	PollInterval time.Duration
}

// Manager owns the live sessions.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	deps     Deps
}

func NewManager(deps Deps) *Manager {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.PollInterval <= 0 {
		deps.PollInterval = 500 * time.Millisecond
	}
	return &Manager{sessions: make(map[string]*Session), deps: deps}
}

// Create starts a new session and issues its ad request.
func (m *Manager) Create(owner, adTagURL string) *Session {
	s := newSession(uuid.NewString(), owner, adTagURL, m.deps)
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s
}

func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Release tears the session down and forgets it. Reports whether the
// session existed.
func (m *Manager) Release(id string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		s.Release()
	}
	return ok
}

// Shutdown releases every live session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	live := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		live = append(live, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	for _, s := range live {
		s.Release()
	}
}

// Len reports the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
