package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trosyn/lansync/internal/common"
	"github.com/trosyn/lansync/internal/identity"
	"github.com/trosyn/lansync/internal/logging"
)

// HandshakeReply is the responder's half of the handshake: its own signed
// challenge plus the session id and bearer ticket for the channel just
// established.
type HandshakeReply struct {
	Challenge
	SessionID string `json:"session_id"`
	Ticket    string `json:"ticket"`
}

// Manager owns the set of live sessions on a node, on both the initiating
// and responding sides.
type Manager struct {
	id     *identity.Identity
	ttl    time.Duration
	max    int
	logger logging.Logger

	nonces *Window

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager builds a session manager. ttl bounds session lifetime, max the
// number of concurrent sessions.
func NewManager(id *identity.Identity, ttl time.Duration, max int, l logging.Logger) *Manager {
	return &Manager{
		id:       id,
		ttl:      ttl,
		max:      max,
		logger:   l.With("module", "session"),
		nonces:   NewWindow(challengeTTL),
		sessions: make(map[string]*Session),
	}
}

// NodeID returns the local node's identifier.
func (m *Manager) NodeID() string {
	return m.id.NodeID
}

// NewChallenge builds this node's opening handshake message.
func (m *Manager) NewChallenge() (*Challenge, error) {
	return NewChallenge(m.id.NodeID, m.id.Secret)
}

// HandleHandshake processes an inbound handshake as the responder. On
// success it establishes a session and returns the reply to send back.
//
// Verification failures come back as common.ErrUnauthorized with no further
// detail; the reason is logged locally. A full session table returns
// common.ErrCapacity, which is safe to distinguish: it leaks load, not
// secrets.
func (m *Manager) HandleHandshake(ctx context.Context, ch *Challenge) (*HandshakeReply, error) {
	now := time.Now()

	if err := ch.Verify(m.id.Secret, now); err != nil {
		m.logger.Warn(ctx, "handshake rejected: bad challenge", "from", ch.NodeID)
		return nil, common.ErrUnauthorized
	}
	if ch.NodeID == m.id.NodeID {
		m.logger.Warn(ctx, "handshake rejected: own node id")
		return nil, common.ErrUnauthorized
	}
	if !m.nonces.Remember(ch.Nonce) {
		m.logger.Warn(ctx, "handshake rejected: replayed nonce", "from", ch.NodeID)
		return nil, common.ErrUnauthorized
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.sweepLocked(now)
	if len(m.sessions) >= m.max {
		m.logger.Warn(ctx, "handshake rejected: at capacity", "from", ch.NodeID, "sessions", len(m.sessions))
		return nil, common.ErrCapacity
	}

	resp, err := NewChallenge(m.id.NodeID, m.id.Secret)
	if err != nil {
		return nil, err
	}
	m.nonces.Remember(resp.Nonce)

	// initiator nonce first on both sides
	key, err := DeriveKey(m.id.Secret, ch.Nonce, resp.Nonce)
	if err != nil {
		return nil, err
	}

	s := &Session{
		ID:        uuid.NewString(),
		PeerID:    ch.NodeID,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
		key:       key,
	}

	ticket, err := IssueTicket(key, s.ID, m.ttl)
	if err != nil {
		common.WipeByteArray(key)
		return nil, fmt.Errorf("issuing session ticket: %w", err)
	}

	m.sessions[s.ID] = s
	m.logger.Info(ctx, "session established", "session", s.ID, "peer", s.PeerID)

	return &HandshakeReply{Challenge: *resp, SessionID: s.ID, Ticket: ticket}, nil
}

// Establish completes the handshake on the initiating side: it verifies the
// responder's challenge and ticket, derives the same session key, and
// registers the session locally. localNonce is the nonce from the challenge
// this node sent first.
func (m *Manager) Establish(ctx context.Context, reply *HandshakeReply, localNonce string) (*Session, error) {
	now := time.Now()

	if err := reply.Verify(m.id.Secret, now); err != nil {
		m.logger.Warn(ctx, "handshake reply rejected: bad challenge", "from", reply.NodeID)
		return nil, common.ErrUnauthorized
	}
	if reply.NodeID == m.id.NodeID || reply.SessionID == "" {
		return nil, common.ErrUnauthorized
	}
	if !m.nonces.Remember(reply.Nonce) {
		m.logger.Warn(ctx, "handshake reply rejected: replayed nonce", "from", reply.NodeID)
		return nil, common.ErrUnauthorized
	}

	key, err := DeriveKey(m.id.Secret, localNonce, reply.Nonce)
	if err != nil {
		return nil, err
	}

	// the ticket must verify under the derived key and name this session;
	// otherwise the responder is not holding the same secret we are
	claims, err := ParseTicket(reply.Ticket, func(sid string) ([]byte, error) {
		if sid != reply.SessionID {
			return nil, common.ErrInvalidTicket
		}
		return key, nil
	})
	if err != nil {
		common.WipeByteArray(key)
		m.logger.Warn(ctx, "handshake reply rejected: bad ticket", "from", reply.NodeID)
		return nil, common.ErrUnauthorized
	}

	s := &Session{
		ID:        claims.SessionID,
		PeerID:    reply.NodeID,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
		key:       key,
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.logger.Info(ctx, "session established", "session", s.ID, "peer", s.PeerID)
	return s, nil
}

// Get returns the live session with the given id.
func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, common.ErrSessionExpired
	}
	if s.Expired(time.Now()) {
		return nil, common.ErrSessionExpired
	}
	return s, nil
}

// Resolve validates a bearer ticket and returns the session it names.
func (m *Manager) Resolve(ticket string) (*Session, error) {
	var resolved *Session
	_, err := ParseTicket(ticket, func(sid string) ([]byte, error) {
		s, err := m.Get(sid)
		if err != nil {
			return nil, err
		}
		resolved = s
		return s.key, nil
	})
	if err != nil {
		return nil, err
	}
	return resolved, nil
}

// Close terminates the session, wiping its key.
func (m *Manager) Close(ctx context.Context, sessionID string) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	if ok {
		s.Close()
		m.logger.Info(ctx, "session closed", "session", sessionID, "peer", s.PeerID)
	}
}

// Sweep drops expired sessions. Returns how many were removed.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sweepLocked(time.Now())
}

func (m *Manager) sweepLocked(now time.Time) int {
	removed := 0
	for id, s := range m.sessions {
		if s.Expired(now) {
			s.Close()
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

// Count reports the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
