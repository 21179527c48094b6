package session

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"

	"github.com/trosyn/lansync/internal/common"
)

// Frame is one encrypted message inside an established session. The nonce
// and ciphertext are raw bytes (base64 in JSON); SessionID and Seq travel in
// the clear but are bound into the AEAD as associated data, so tampering
// with either makes Open fail.
type Frame struct {
	SessionID  string `json:"session_id"`
	Seq        uint64 `json:"seq"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// aad builds the associated data binding a frame to its session and position.
func aad(sessionID string, seq uint64) []byte {
	b := make([]byte, 0, len(sessionID)+8)
	b = append(b, sessionID...)
	b = binary.BigEndian.AppendUint64(b, seq)
	return b
}

// seal encrypts a JSON-serialized payload into a frame.
func seal(key []byte, sessionID string, seq uint64, payload any) (*Frame, error) {
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, 12)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	return &Frame{
		SessionID:  sessionID,
		Seq:        seq,
		Nonce:      nonce,
		Ciphertext: aesgcm.Seal(nil, nonce, plaintext, aad(sessionID, seq)),
	}, nil
}

// open decrypts the frame and unmarshals the payload into v. Any
// authentication or decoding failure maps to common.ErrBadFrame; the caller
// treats that as a protocol violation and terminates the session.
func open(key []byte, f *Frame, v any) error {
	block, err := aes.NewCipher(key)
	if err != nil {
		return err
	}

	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return err
	}

	if len(f.Nonce) != aesgcm.NonceSize() {
		return common.ErrBadFrame
	}

	plaintext, err := aesgcm.Open(nil, f.Nonce, f.Ciphertext, aad(f.SessionID, f.Seq))
	if err != nil {
		return common.ErrBadFrame
	}

	if err := json.Unmarshal(plaintext, v); err != nil {
		return common.ErrBadFrame
	}
	return nil
}
