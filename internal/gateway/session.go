package gateway

import (
	"crypto/rand"
	"encoding/hex"
	"sync"

	"github.com/nocturnechat/nocturne-gateway/internal/protocol"
	"github.com/nocturnechat/nocturne-gateway/internal/snowflake"
)

// maxSessionIDAttempts bounds how many times Create retries session_id generation on collision
// before giving up (§4.1 step 5: total failure closes the connection with 4009).
const maxSessionIDAttempts = 20

// replayEntry is one payload recorded in a Session's event ring, keyed by the seq it was
// dispatched with.
type replayEntry struct {
	seq     int64
	event   protocol.DispatchEvent
	payload any
}

// Session is server-side, resumable connection state. It outlives the websocket it was created
// for: a dropped connection leaves its Session in the registry until RESUME reclaims it or the
// registry GCs it on explicit invalidation.
type Session struct {
	mu sync.Mutex

	ID       string
	UserID   snowflake.ID
	Token    string
	ShardID  int
	ShardN   int
	Compress bool
	Atomic   bool

	sentSeq int64
	ring    []replayEntry
	cap     int
}

func newSession(id string, userID snowflake.ID, token string, shardID, shardN int, compress bool, ringCap int) *Session {
	return &Session{
		ID:       id,
		UserID:   userID,
		Token:    token,
		ShardID:  shardID,
		ShardN:   shardN,
		Compress: compress,
		cap:      ringCap,
	}
}

// SentSeq returns the last sequence number this session emitted.
func (s *Session) SentSeq() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sentSeq
}

// record assigns the next sequence number to event/payload, appends it to the bounded ring
// (evicting the oldest entry past capacity), and returns the assigned seq. Only non-ephemeral
// events reach here; see Client.enqueueDispatch.
func (s *Session) record(event protocol.DispatchEvent, payload any) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sentSeq++
	seq := s.sentSeq
	s.ring = append(s.ring, replayEntry{seq: seq, event: event, payload: payload})
	if len(s.ring) > s.cap {
		s.ring = s.ring[len(s.ring)-s.cap:]
	}
	return seq
}

// replayFrom returns every recorded entry with seq in (afterSeq, sentSeq], in order. ok is false
// when afterSeq falls outside the ring's retained window and the caller must invalidate instead
// of replaying.
func (s *Session) replayFrom(afterSeq int64) (entries []replayEntry, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if afterSeq > s.sentSeq {
		return nil, false
	}
	if s.sentSeq-afterSeq > int64(s.cap) {
		return nil, false
	}
	out := make([]replayEntry, 0, len(s.ring))
	for _, e := range s.ring {
		if e.seq > afterSeq {
			out = append(out, e)
		}
	}
	return out, true
}

// SessionRegistry is the process-wide session_id -> *Session map (§4.2), guarded by a single
// mutex since fan-out stays single-process.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ringCap  int
}

// NewSessionRegistry returns an empty registry whose sessions retain at most ringCap replayable
// events each.
func NewSessionRegistry(ringCap int) *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]*Session), ringCap: ringCap}
}

// Create mints a fresh session id (retried on collision up to maxSessionIDAttempts times) and
// registers a new Session under it. ok is false if a unique id could not be minted.
func (r *SessionRegistry) Create(userID snowflake.ID, token string, shardID, shardN int, compress bool) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := 0; i < maxSessionIDAttempts; i++ {
		id, err := newSessionID()
		if err != nil {
			continue
		}
		if _, exists := r.sessions[id]; exists {
			continue
		}
		s := newSession(id, userID, token, shardID, shardN, compress, r.ringCap)
		r.sessions[id] = s
		return s, true
	}
	return nil, false
}

// Lookup returns the session registered under sessionID, if any.
func (r *SessionRegistry) Lookup(sessionID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	return s, ok
}

// Remove deletes a session from the registry, as happens on explicit non-resumable invalidation.
func (r *SessionRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
}

// newSessionID generates an opaque 32-character hex session id.
func newSessionID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
