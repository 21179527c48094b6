package session

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/trosyn/lansync/internal/common"
)

var testSecret = []byte("office-shared-secret")

func TestChallenge_VerifyRoundtrip(t *testing.T) {
	ch, err := NewChallenge("node-a", testSecret)
	require.NoError(t, err)
	require.Len(t, ch.Nonce, nonceSize*2)

	require.NoError(t, ch.Verify(testSecret, time.Now()))
}

func TestChallenge_Verify_Failures(t *testing.T) {
	fresh := func(t *testing.T) *Challenge {
		t.Helper()
		ch, err := NewChallenge("node-a", testSecret)
		require.NoError(t, err)
		return ch
	}

	tests := []struct {
		name   string
		mutate func(*Challenge)
		now    time.Time
	}{
		{"wrong secret is detected via mac", func(c *Challenge) { c.MAC = computeMAC([]byte("other"), c.NodeID, c.Nonce, c.Timestamp) }, time.Now()},
		{"tampered node id", func(c *Challenge) { c.NodeID = "node-b" }, time.Now()},
		{"tampered nonce", func(c *Challenge) { c.Nonce = c.Nonce[:30] + "ff" }, time.Now()},
		{"tampered timestamp", func(c *Challenge) { c.Timestamp++ }, time.Now()},
		{"empty node id", func(c *Challenge) { c.NodeID = "" }, time.Now()},
		{"short nonce", func(c *Challenge) { c.Nonce = "abcd" }, time.Now()},
		{"non-hex nonce", func(c *Challenge) { c.Nonce = c.Nonce[:30] + "zz" }, time.Now()},
		{"stale message", func(c *Challenge) {}, time.Now().Add(2 * time.Minute)},
		{"message from the future", func(c *Challenge) {}, time.Now().Add(-2 * time.Minute)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := fresh(t)
			tt.mutate(ch)
			err := ch.Verify(testSecret, tt.now)
			// every failure is the same opaque error
			require.ErrorIs(t, err, common.ErrUnauthorized)
		})
	}
}

func TestWindow_RejectsReplaySuppressesOnce(t *testing.T) {
	w := NewWindow(time.Minute)

	require.True(t, w.Remember("aaaa"))
	require.False(t, w.Remember("aaaa"), "same nonce inside the window is a replay")
	require.True(t, w.Remember("bbbb"))
}

func TestWindow_ForgetsAfterTTL(t *testing.T) {
	w := NewWindow(10 * time.Millisecond)

	require.True(t, w.Remember("aaaa"))
	time.Sleep(20 * time.Millisecond)
	require.True(t, w.Remember("aaaa"), "expired nonces leave the window")
}

func TestDeriveKey_Deterministic(t *testing.T) {
	k1, err := DeriveKey(testSecret, "aa", "bb")
	require.NoError(t, err)
	require.Len(t, k1, sessionKeySize)

	k2, err := DeriveKey(testSecret, "aa", "bb")
	require.NoError(t, err)
	require.Equal(t, k1, k2)

	k3, err := DeriveKey(testSecret, "bb", "aa")
	require.NoError(t, err)
	require.NotEqual(t, k1, k3, "nonce order participates in derivation")

	k4, err := DeriveKey([]byte("other"), "aa", "bb")
	require.NoError(t, err)
	require.NotEqual(t, k1, k4)
}

func newTestPair(t *testing.T) (*Session, *Session) {
	t.Helper()
	key, err := DeriveKey(testSecret, "aa", "bb")
	require.NoError(t, err)

	now := time.Now()
	a := &Session{ID: "s1", PeerID: "node-b", CreatedAt: now, ExpiresAt: now.Add(time.Minute), key: key}
	b := &Session{ID: "s1", PeerID: "node-a", CreatedAt: now, ExpiresAt: now.Add(time.Minute), key: append([]byte(nil), key...)}
	return a, b
}

type testPayload struct {
	Text string `json:"text"`
}

func TestSession_SealOpenRoundtrip(t *testing.T) {
	a, b := newTestPair(t)

	f, err := a.Seal(testPayload{Text: "hello"})
	require.NoError(t, err)
	require.Equal(t, uint64(1), f.Seq)

	var got testPayload
	require.NoError(t, b.Open(f, &got))
	require.Equal(t, "hello", got.Text)
}

func TestSession_Open_RejectsReplay(t *testing.T) {
	a, b := newTestPair(t)

	f, err := a.Seal(testPayload{Text: "once"})
	require.NoError(t, err)

	var got testPayload
	require.NoError(t, b.Open(f, &got))

	err = b.Open(f, &got)
	require.ErrorIs(t, err, common.ErrReplay)
}

func TestSession_Open_RejectsOutOfOrder(t *testing.T) {
	a, b := newTestPair(t)

	f1, err := a.Seal(testPayload{Text: "one"})
	require.NoError(t, err)
	f2, err := a.Seal(testPayload{Text: "two"})
	require.NoError(t, err)

	var got testPayload
	require.NoError(t, b.Open(f2, &got))

	// an older frame arriving late does not regress the counter
	err = b.Open(f1, &got)
	require.ErrorIs(t, err, common.ErrReplay)
}

func TestSession_Open_RejectsTampering(t *testing.T) {
	a, b := newTestPair(t)

	var got testPayload

	f, err := a.Seal(testPayload{Text: "secret"})
	require.NoError(t, err)
	f.Ciphertext[0] ^= 0xff
	require.ErrorIs(t, b.Open(f, &got), common.ErrBadFrame)

	f, err = a.Seal(testPayload{Text: "secret"})
	require.NoError(t, err)
	f.SessionID = "s2"
	err = b.Open(f, &got)
	require.Error(t, err)
	require.True(t, errors.Is(err, common.ErrBadFrame))

	// bumping the cleartext seq breaks the associated data binding
	f, err = a.Seal(testPayload{Text: "secret"})
	require.NoError(t, err)
	f.Seq += 5
	require.ErrorIs(t, b.Open(f, &got), common.ErrBadFrame)
}

func TestSession_ExpiredAndClosed(t *testing.T) {
	a, _ := newTestPair(t)
	a.ExpiresAt = time.Now().Add(-time.Second)

	_, err := a.Seal(testPayload{Text: "late"})
	require.ErrorIs(t, err, common.ErrSessionExpired)

	b, _ := newTestPair(t)
	b.Close()
	_, err = b.Seal(testPayload{Text: "closed"})
	require.ErrorIs(t, err, common.ErrSessionExpired)
}
