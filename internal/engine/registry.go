package engine

import (
	"sync"
	"time"

	"github.com/anacrolix/torrent"
)

// session tracks one live engine torrent plus the byte counters needed
// to derive transfer rates between consecutive status polls.
type session struct {
	torrent *torrent.Torrent
	saveDir string

	mu          sync.Mutex
	prioritized bool
	lastPoll    time.Time
	lastRead    int64
	lastWritten int64
	downRate    int64
	upRate      int64
}

// sessionRegistry is a concurrency-safe map of content id to session
// with per-key start locks. The per-key lock makes "at most one live
// session per content id" an enforced invariant rather than an accident
// of call ordering.
type sessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*session
	keyLocks map[string]*keyLock
}

// keyLock is a per-key mutex with a holder count so idle entries can be
// dropped from the map.
type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{
		sessions: make(map[string]*session),
		keyLocks: make(map[string]*keyLock),
	}
}

// lockKey serializes mutating operations for one content id. Returns
// the unlock function. Operations on distinct ids never contend, and a
// key's entry lives only while held or waited on.
func (r *sessionRegistry) lockKey(contentID string) func() {
	r.mu.Lock()
	l, ok := r.keyLocks[contentID]
	if !ok {
		l = &keyLock{}
		r.keyLocks[contentID] = l
	}
	l.refs++
	r.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		r.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.keyLocks, contentID)
		}
		r.mu.Unlock()
	}
}

func (r *sessionRegistry) get(contentID string) (*session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[contentID]

	return s, ok
}

func (r *sessionRegistry) set(contentID string, s *session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[contentID] = s
}

func (r *sessionRegistry) delete(contentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, contentID)
}

func (r *sessionRegistry) all() map[string]*session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]*session, len(r.sessions))
	for id, s := range r.sessions {
		out[id] = s
	}

	return out
}
