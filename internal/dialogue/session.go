package dialogue

import (
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

const DefaultSessionTTL = 30 * time.Minute

// SessionKey scopes a conversation to one database within a client session.
type SessionKey struct {
	SessionID  string
	DatabaseID string
}

// Session is the dialogue state of one SessionKey. Callers hold mu for the
// whole of a ProcessQuery call so a session handles one utterance at a time.
type Session struct {
	mu           sync.Mutex
	state        State
	conversation Conversation
}

func newSession() *Session {
	return &Session{state: Idle{}}
}

// SessionStore keeps sessions in memory and drops them after ttl without
// access. An abandoned clarification round expires with its session.
type SessionStore struct {
	cache *ttlcache.Cache[SessionKey, *Session]
}

func NewSessionStore(ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionStore{
		cache: ttlcache.New(ttlcache.WithTTL[SessionKey, *Session](ttl)),
	}
}

// Start runs the expiry loop until Stop is called.
func (s *SessionStore) Start() { go s.cache.Start() }

func (s *SessionStore) Stop() { s.cache.Stop() }

func (s *SessionStore) getOrCreate(key SessionKey) *Session {
	item, _ := s.cache.GetOrSet(key, newSession())
	return item.Value()
}

func (s *SessionStore) lookup(key SessionKey) (*Session, bool) {
	item := s.cache.Get(key)
	if item == nil {
		return nil, false
	}
	return item.Value(), true
}

func (s *SessionStore) Len() int { return s.cache.Len() }
