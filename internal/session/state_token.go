// ABOUTME: Signed OAuth state parameter binding a login attempt to a user
// ABOUTME: Uses HS256 JWTs with subject, attempt id, and expiry claims

package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidState = errors.New("invalid oauth state")
	ErrExpiredState = errors.New("oauth state expired")
)

// stateSigner issues and verifies OAuth state tokens.
type stateSigner struct {
	secret []byte
	now    func() time.Time
}

// stateClaims identifies one login attempt.
type stateClaims struct {
	UserID    string
	AttemptID string
}

// Sign creates a state token valid for ttl.
func (s *stateSigner) Sign(userID, attemptID string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		ID:        attemptID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify checks the signature and expiry and returns the attempt it names.
func (s *stateSigner) Verify(state string) (stateClaims, error) {
	var claims jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(state, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return stateClaims{}, ErrExpiredState
		}
		return stateClaims{}, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if !token.Valid || claims.Subject == "" || claims.ID == "" {
		return stateClaims{}, ErrInvalidState
	}

	return stateClaims{UserID: claims.Subject, AttemptID: claims.ID}, nil
}
