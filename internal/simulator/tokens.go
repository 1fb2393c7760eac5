package simulator

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CallClaims are carried by a call access token
type CallClaims struct {
	CallID  string `json:"call_id"`
	AgentID string `json:"agent_id"`
	jwt.RegisteredClaims
}

// Tokens issues and verifies HS256 call access tokens
type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokens builds a token issuer. An empty secret is replaced by random bytes.
func NewTokens(secret string, ttl time.Duration) (*Tokens, error) {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("failed to generate token secret: %w", err)
		}
	}
	return &Tokens{secret: key, ttl: ttl, now: time.Now}, nil
}

// Issue signs a token that admits one client to callID
func (t *Tokens) Issue(callID, agentID string) (string, error) {
	now := t.now()
	claims := CallClaims{
		CallID:  callID,
		AgentID: agentID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   callID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// Verify checks signature and expiry and returns the claims
func (t *Tokens) Verify(tokenString string) (*CallClaims, error) {
	claims := &CallClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(t.now))
	if err != nil {
		return nil, fmt.Errorf("invalid access token: %w", err)
	}
	if !token.Valid || claims.CallID == "" {
		return nil, errors.New("invalid access token")
	}
	return claims, nil
}
