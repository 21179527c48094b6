package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/trosyn/lansync/internal/common"
	"github.com/trosyn/lansync/internal/identity"
	"github.com/trosyn/lansync/internal/logging"
	"github.com/trosyn/lansync/internal/models"
)

func newTestManager(t *testing.T, nodeID string, secret []byte, max int) *Manager {
	t.Helper()
	id := &identity.Identity{NodeID: nodeID, DisplayName: nodeID, Role: models.RolePeer, Secret: secret}
	return NewManager(id, 5*time.Minute, max, logging.Nop())
}

func TestManager_HandshakeEndToEnd(t *testing.T) {
	ctx := context.Background()
	a := newTestManager(t, "node-a", testSecret, 8)
	b := newTestManager(t, "node-b", testSecret, 8)

	ch, err := a.NewChallenge()
	require.NoError(t, err)

	reply, err := b.HandleHandshake(ctx, ch)
	require.NoError(t, err)
	require.Equal(t, "node-b", reply.NodeID)
	require.NotEmpty(t, reply.SessionID)
	require.NotEmpty(t, reply.Ticket)

	sa, err := a.Establish(ctx, reply, ch.Nonce)
	require.NoError(t, err)
	require.Equal(t, reply.SessionID, sa.ID)

	sb, err := b.Get(reply.SessionID)
	require.NoError(t, err)

	// both sides hold the same key: frames seal on one end and open on the other
	f, err := sa.Seal(testPayload{Text: "manifest"})
	require.NoError(t, err)

	var got testPayload
	require.NoError(t, sb.Open(f, &got))
	require.Equal(t, "manifest", got.Text)

	f, err = sb.Seal(testPayload{Text: "ack"})
	require.NoError(t, err)
	require.NoError(t, sa.Open(f, &got))
	require.Equal(t, "ack", got.Text)
}

func TestManager_RejectsWrongSecret(t *testing.T) {
	ctx := context.Background()
	a := newTestManager(t, "node-a", []byte("wrong-secret"), 8)
	b := newTestManager(t, "node-b", testSecret, 8)

	ch, err := a.NewChallenge()
	require.NoError(t, err)

	_, err = b.HandleHandshake(ctx, ch)
	require.ErrorIs(t, err, common.ErrUnauthorized)
	require.Zero(t, b.Count())
}

func TestManager_RejectsReplayedHandshake(t *testing.T) {
	ctx := context.Background()
	a := newTestManager(t, "node-a", testSecret, 8)
	b := newTestManager(t, "node-b", testSecret, 8)

	ch, err := a.NewChallenge()
	require.NoError(t, err)

	_, err = b.HandleHandshake(ctx, ch)
	require.NoError(t, err)

	// a captured handshake replayed inside the freshness window
	_, err = b.HandleHandshake(ctx, ch)
	require.ErrorIs(t, err, common.ErrUnauthorized)
}

func TestManager_CapacityExhausted(t *testing.T) {
	ctx := context.Background()
	b := newTestManager(t, "node-b", testSecret, 1)

	a1 := newTestManager(t, "node-a1", testSecret, 8)
	ch, err := a1.NewChallenge()
	require.NoError(t, err)
	_, err = b.HandleHandshake(ctx, ch)
	require.NoError(t, err)

	a2 := newTestManager(t, "node-a2", testSecret, 8)
	ch, err = a2.NewChallenge()
	require.NoError(t, err)
	_, err = b.HandleHandshake(ctx, ch)
	require.ErrorIs(t, err, common.ErrCapacity)
}

func TestManager_ResolveTicket(t *testing.T) {
	ctx := context.Background()
	a := newTestManager(t, "node-a", testSecret, 8)
	b := newTestManager(t, "node-b", testSecret, 8)

	ch, err := a.NewChallenge()
	require.NoError(t, err)
	reply, err := b.HandleHandshake(ctx, ch)
	require.NoError(t, err)

	s, err := b.Resolve(reply.Ticket)
	require.NoError(t, err)
	require.Equal(t, reply.SessionID, s.ID)
	require.Equal(t, "node-a", s.PeerID)

	_, err = b.Resolve("not-a-ticket")
	require.ErrorIs(t, err, common.ErrInvalidTicket)

	// a structurally valid ticket naming an unknown session
	key, err := DeriveKey(testSecret, "aa", "bb")
	require.NoError(t, err)
	forged, err := IssueTicket(key, "no-such-session", time.Minute)
	require.NoError(t, err)
	_, err = b.Resolve(forged)
	require.Error(t, err)
}

func TestManager_CloseWipesSession(t *testing.T) {
	ctx := context.Background()
	a := newTestManager(t, "node-a", testSecret, 8)
	b := newTestManager(t, "node-b", testSecret, 8)

	ch, err := a.NewChallenge()
	require.NoError(t, err)
	reply, err := b.HandleHandshake(ctx, ch)
	require.NoError(t, err)

	b.Close(ctx, reply.SessionID)
	require.Zero(t, b.Count())

	_, err = b.Get(reply.SessionID)
	require.ErrorIs(t, err, common.ErrSessionExpired)
}

func TestManager_SweepDropsExpired(t *testing.T) {
	ctx := context.Background()
	b := newTestManager(t, "node-b", testSecret, 8)
	b.ttl = time.Millisecond

	a := newTestManager(t, "node-a", testSecret, 8)
	ch, err := a.NewChallenge()
	require.NoError(t, err)
	_, err = b.HandleHandshake(ctx, ch)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	require.Equal(t, 1, b.Sweep())
	require.Zero(t, b.Count())
}
