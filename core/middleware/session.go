package middleware

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/searchktools/coroserve/core/coro"
	"github.com/searchktools/coroserve/core/http"
)

// SessionKey is the storage key of the request's *Session.
const SessionKey = "session"

// DefaultSessionTTL is how long an idle session lives in a MemoryStore.
const DefaultSessionTTL = 30 * time.Minute

// Session is per-client state identified by a cookie. It is safe for
// concurrent use.
type Session struct {
	id string

	mu        sync.RWMutex
	values    map[string]any
	isNew     bool
	destroyed bool
}

func newSession(id string) *Session {
	return &Session{id: id, values: make(map[string]any), isNew: true}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// IsNew reports whether the session was created by this request.
func (s *Session) IsNew() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isNew
}

func (s *Session) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *Session) Set(key string, v any) {
	s.mu.Lock()
	s.values[key] = v
	s.mu.Unlock()
}

func (s *Session) Delete(key string) {
	s.mu.Lock()
	delete(s.values, key)
	s.mu.Unlock()
}

// Values returns a copy of all values.
func (s *Session) Values() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.values)
}

// Destroy ends the session; the middleware removes it from the store and
// expires the cookie.
func (s *Session) Destroy() {
	s.mu.Lock()
	s.destroyed = true
	s.mu.Unlock()
}

func (s *Session) isDestroyed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.destroyed
}

// SessionStore keeps sessions between requests.
type SessionStore interface {
	// Get returns a live session.
	Get(id string) (*Session, bool)
	// New creates and registers a session with a fresh ID.
	New() (*Session, error)
	// Save persists s and extends its lifetime.
	Save(s *Session) error
	// Remove drops a session.
	Remove(id string) error
}

type storedSession struct {
	session *Session
	expires time.Time
}

// MemoryStore is an in-process SessionStore with idle expiry.
type MemoryStore struct {
	ttl   time.Duration
	newID IDGenerator
	now   func() time.Time

	mu       sync.Mutex
	sessions map[string]storedSession
}

// NewMemoryStore creates a store whose sessions expire after ttl without
// use. gen produces session IDs; nil means random UUIDs.
func NewMemoryStore(ttl time.Duration, gen IDGenerator) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if gen == nil {
		gen = UUIDGenerator()
	}
	return &MemoryStore{
		ttl:      ttl,
		newID:    gen,
		now:      time.Now,
		sessions: make(map[string]storedSession),
	}
}

func (m *MemoryStore) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	if !m.now().Before(e.expires) {
		delete(m.sessions, id)
		return nil, false
	}
	return e.session, true
}

func (m *MemoryStore) New() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.newID()
	for _, taken := m.sessions[id]; taken; _, taken = m.sessions[id] {
		id = m.newID()
	}
	s := newSession(id)
	m.sessions[id] = storedSession{session: s, expires: m.now().Add(m.ttl)}
	return s, nil
}

func (m *MemoryStore) Save(s *Session) error {
	m.mu.Lock()
	m.sessions[s.id] = storedSession{session: s, expires: m.now().Add(m.ttl)}
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Remove(id string) error {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	return nil
}

// Len returns the number of stored sessions, expired ones included until
// the next sweep.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep drops expired sessions and returns how many it dropped.
func (m *MemoryStore) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	n := 0
	for id, e := range m.sessions {
		if !now.Before(e.expires) {
			delete(m.sessions, id)
			n++
		}
	}
	return n
}

// Run sweeps every interval until ctx is done.
func (m *MemoryStore) Run(ctx context.Context, interval time.Duration) error {
	ticker := coro.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, _, err := ticker.C.Receive(ctx, coro.Never); err != nil {
			return err
		}
		m.Sweep()
	}
}

// DefaultSessionCookie is the cookie template Sessions uses when given a
// template without a name.
func DefaultSessionCookie() http.SetCookie {
	return http.SetCookie{
		Name:     "session",
		Path:     "/",
		HTTPOnly: true,
		SameSite: http.SameSiteLax,
	}
}

// Sessions attaches a *Session to every request under SessionKey. An
// unknown or missing cookie starts a new session, whose cookie is set on
// the response. Sessions are saved after next succeeds.
func Sessions(store SessionStore, cookie http.SetCookie) Middleware {
	if cookie.Name == "" {
		cookie = DefaultSessionCookie()
	}
	return Func(func(req *http.Request, next Handler) (*http.Response, error) {
		var s *Session
		if id, ok := req.Cookie(cookie.Name); ok && id != "" {
			s, _ = store.Get(id)
		}
		fresh := s == nil
		if fresh {
			var err error
			if s, err = store.New(); err != nil {
				return nil, err
			}
		}
		req.SetValue(SessionKey, s)

		res, err := next(req)
		if err != nil || res == nil {
			// no cookie goes out, so a new session is unreachable
			if fresh {
				_ = store.Remove(s.ID())
			}
			return res, err
		}

		c := cookie
		c.Value = s.ID()
		if s.isDestroyed() {
			if err := store.Remove(s.ID()); err != nil {
				return nil, err
			}
			c.Value = ""
			c.MaxAge = -1
			res.SetCookie(c)
			return res, nil
		}
		if err := store.Save(s); err != nil {
			return nil, err
		}
		s.mu.Lock()
		created := s.isNew
		s.isNew = false
		s.mu.Unlock()
		if created {
			res.SetCookie(c)
		}
		return res, nil
	})
}

// SessionFrom returns the session Sessions attached to req.
func SessionFrom(req *http.Request) (*Session, bool) {
	v, ok := req.Value(SessionKey)
	if !ok {
		return nil, false
	}
	s, ok := v.(*Session)
	return s, ok
}
