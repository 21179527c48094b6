package session

import (
	"sync"
	"time"

	"github.com/trosyn/lansync/internal/common"
)

// Session is one established, keyed channel to a peer. Send and receive
// sequence counters are tracked independently; a received frame whose
// sequence does not strictly increase is a replay.
type Session struct {
	ID        string
	PeerID    string
	PeerName  string
	CreatedAt time.Time
	ExpiresAt time.Time

	mu      sync.Mutex
	key     []byte
	sendSeq uint64
	recvSeq uint64
	closed  bool
}

// Expired reports whether the session has passed its TTL.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Seal encrypts payload into the next outbound frame.
func (s *Session) Seal(payload any) (*Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, common.ErrSessionExpired
	}
	if time.Now().After(s.ExpiresAt) {
		return nil, common.ErrSessionExpired
	}

	s.sendSeq++
	return seal(s.key, s.ID, s.sendSeq, payload)
}

// Open authenticates and decrypts an inbound frame into v. The frame must
// belong to this session and carry a strictly increasing sequence number;
// an equal or lower sequence is rejected as a replay without advancing the
// counter.
func (s *Session) Open(f *Frame, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return common.ErrSessionExpired
	}
	if time.Now().After(s.ExpiresAt) {
		return common.ErrSessionExpired
	}
	if f.SessionID != s.ID {
		return common.ErrBadFrame
	}
	if f.Seq <= s.recvSeq {
		return common.ErrReplay
	}

	if err := open(s.key, f, v); err != nil {
		return err
	}

	// advance only after authentication, so a forged frame cannot burn
	// sequence numbers
	s.recvSeq = f.Seq
	return nil
}

// Close wipes the session key. A closed session seals and opens nothing.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	common.WipeByteArray(s.key)
}
