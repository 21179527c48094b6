package session

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/trosyn/lansync/internal/common"
)

// Claims carries the standard claims plus the session the ticket refers to.
type Claims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid"`
}

// IssueTicket signs a bearer ticket for the session with its derived key.
// A peer can only mint a valid ticket for a session whose key it holds,
// which in turn requires knowing the shared secret.
func IssueTicket(key []byte, sessionID string, validityDuration time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validityDuration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		SessionID: sessionID,
	})

	tokenString, err := token.SignedString(key)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// ParseTicket validates a ticket and returns its claims. The verification
// key depends on which session the ticket names, so the caller supplies a
// lookup from session id to key.
func ParseTicket(tokenString string, lookup func(sessionID string) ([]byte, error)) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, common.ErrInvalidTicket
		}
		c, ok := t.Claims.(*Claims)
		if !ok || c.SessionID == "" {
			return nil, common.ErrInvalidTicket
		}
		return lookup(c.SessionID)
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.ErrTicketExpired
		}
		return nil, common.ErrInvalidTicket
	}

	if !token.Valid {
		return nil, common.ErrInvalidTicket
	}

	return claims, nil
}
