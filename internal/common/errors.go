// Package common defines shared constants and sentinel errors used across
// the sync engine. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Store-level errors.
	ErrNotFound  = errors.New("not found")
	ErrIntegrity = errors.New("content hash mismatch")

	// Session/security errors. ErrUnauthorized deliberately covers every
	// handshake verification failure so a peer cannot tell which check
	// rejected it.
	ErrUnauthorized   = errors.New("unauthorized")
	ErrReplay         = errors.New("replayed frame")
	ErrSessionExpired = errors.New("session expired")
	ErrBadFrame       = errors.New("malformed frame")
	ErrCapacity       = errors.New("session capacity exhausted")

	// Ticket lifecycle errors.
	ErrInvalidTicket = errors.New("invalid session ticket")
	ErrTicketExpired = errors.New("session ticket expired")
)
