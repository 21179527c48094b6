package session

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// keyInfo binds derived keys to this protocol version. Bumping it on an
// incompatible protocol change makes old and new nodes derive different
// keys and fail the handshake cleanly.
const keyInfo = "trosyn-session-v1"

// sessionKeySize is 32 bytes for AES-256-GCM.
const sessionKeySize = 32

// DeriveKey derives the per-session AEAD key from the shared secret and the
// two handshake nonces. Both sides call this with the nonces in the same
// order (initiator first), so they arrive at the same key without the key
// ever crossing the wire.
func DeriveKey(secret []byte, initiatorNonce, responderNonce string) ([]byte, error) {
	salt := make([]byte, 0, len(initiatorNonce)+len(responderNonce))
	salt = append(salt, initiatorNonce...)
	salt = append(salt, responderNonce...)

	r := hkdf.New(sha256.New, secret, salt, []byte(keyInfo))
	key := make([]byte, sessionKeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("deriving session key: %w", err)
	}
	return key, nil
}
