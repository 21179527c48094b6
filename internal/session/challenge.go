// Package session implements the authenticated session layer: HMAC
// challenge-response over the shared secret, replay suppression, session key
// derivation, and AES-GCM framing for everything exchanged after the
// handshake.
//
// Verification failures are opaque on purpose. Every rejected handshake maps
// to common.ErrUnauthorized so a probing peer cannot learn which check
// failed; the detailed reason goes to the local log only.
package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/trosyn/lansync/internal/common"
)

const (
	// nonceSize is the number of random bytes in a handshake nonce; the
	// wire form is the hex encoding, twice as long.
	nonceSize = 16

	// challengeTTL bounds how stale a handshake message may be. Anything
	// older (or too far in the future, clocks drift both ways) is rejected.
	challengeTTL = 60 * time.Second
)

// Challenge is one leg of the mutual handshake. Both the initiator's opening
// message and the responder's reply carry the same shape.
type Challenge struct {
	NodeID    string `json:"node_id"`
	Nonce     string `json:"nonce"`
	Timestamp int64  `json:"timestamp"` // unix seconds
	MAC       string `json:"mac"`
}

// NewChallenge builds a signed challenge for nodeID at the current time.
func NewChallenge(nodeID string, secret []byte) (*Challenge, error) {
	nonce, err := common.MakeRandHexString(nonceSize)
	if err != nil {
		return nil, fmt.Errorf("generating handshake nonce: %w", err)
	}

	c := &Challenge{
		NodeID:    nodeID,
		Nonce:     nonce,
		Timestamp: time.Now().Unix(),
	}
	c.MAC = computeMAC(secret, c.NodeID, c.Nonce, c.Timestamp)
	return c, nil
}

// computeMAC signs the canonical byte form of a challenge. The fields are
// newline-delimited so no two field combinations share a signing string.
func computeMAC(secret []byte, nodeID, nonce string, ts int64) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(nodeID))
	mac.Write([]byte{'\n'})
	mac.Write([]byte(nonce))
	mac.Write([]byte{'\n'})
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks the challenge against the shared secret: field shape,
// timestamp freshness, and the HMAC in constant time. Replay of the nonce is
// the caller's concern (see Window); Verify is stateless.
//
// Any failure returns common.ErrUnauthorized.
func (c *Challenge) Verify(secret []byte, now time.Time) error {
	if c.NodeID == "" || len(c.Nonce) != nonceSize*2 {
		return common.ErrUnauthorized
	}
	if _, err := hex.DecodeString(c.Nonce); err != nil {
		return common.ErrUnauthorized
	}

	age := now.Unix() - c.Timestamp
	if age > int64(challengeTTL.Seconds()) || age < -int64(challengeTTL.Seconds()) {
		return common.ErrUnauthorized
	}

	expected := computeMAC(secret, c.NodeID, c.Nonce, c.Timestamp)
	if !hmac.Equal([]byte(expected), []byte(c.MAC)) {
		return common.ErrUnauthorized
	}
	return nil
}
