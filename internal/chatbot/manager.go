package chatbot

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type sessionEntry struct {
	session  *Session
	lastUsed time.Time
}

// Manager hands out per-tenant sessions. Sessions idle past the TTL are
// evicted lazily on the next lookup; when the map is still over the cap the
// least recently used entry goes. Eviction loses only the in-process index
// cache, the conversation log itself is durable.
//
// The per-tenant locks live in their own registry and survive eviction: a
// session recreated while an evicted instance is still mid-query shares its
// mutex, so queries for one tenant never interleave.
type Manager struct {
	deps Deps

	mu       sync.Mutex
	sessions map[string]*sessionEntry
	locks    map[string]*sync.Mutex

	now func() time.Time
}

// NewManager creates a session manager over the given collaborators.
func NewManager(deps Deps) *Manager {
	deps.Config.applyDefaults()
	return &Manager{
		deps:     deps,
		sessions: make(map[string]*sessionEntry),
		locks:    make(map[string]*sync.Mutex),
		now:      time.Now,
	}
}

// Session returns the tenant's session, creating it on first use.
func (m *Manager) Session(tenantID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.sessions[tenantID]
	if !ok {
		m.evict()
		e = &sessionEntry{session: newSession(m.deps, tenantID, m.lock(tenantID))}
		m.sessions[tenantID] = e
	}
	e.lastUsed = m.now()
	return e.session
}

// lock returns the tenant's mutex, allocating it on first use. Caller holds
// m.mu. Entries are never removed; the registry grows with the number of
// distinct tenants, not with session churn.
func (m *Manager) lock(tenantID string) *sync.Mutex {
	l, ok := m.locks[tenantID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[tenantID] = l
	}
	return l
}

// ProcessQuery routes one message through the tenant's session.
func (m *Manager) ProcessQuery(ctx context.Context, tenantID, message string) string {
	return m.Session(tenantID).ProcessQuery(ctx, message)
}

// Len reports the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// evict drops expired sessions, then trims the oldest entries until a new
// session fits under the cap. Caller holds the lock.
func (m *Manager) evict() {
	now := m.now()
	for id, e := range m.sessions {
		if now.Sub(e.lastUsed) > m.deps.Config.SessionTTL {
			delete(m.sessions, id)
			slog.Debug("session expired", "tenant", id)
		}
	}
	for len(m.sessions) >= m.deps.Config.MaxSessions {
		var oldestID string
		var oldest time.Time
		for id, e := range m.sessions {
			if oldestID == "" || e.lastUsed.Before(oldest) {
				oldestID = id
				oldest = e.lastUsed
			}
		}
		delete(m.sessions, oldestID)
		slog.Debug("session evicted", "tenant", oldestID)
	}
}
