package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrAccessTokenInvalid = errors.New("invalid access token")

// AccessClaims is the stateless identity payload carried by an access token.
// It holds no revocation state; its compromise window is bounded by the TTL.
type AccessClaims struct {
	UserID string `json:"id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Minter signs short-lived HS256 access tokens. Key management belongs to
// the deployment, not to this package.
type Minter struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewMinter(secret []byte, ttl time.Duration, now func() time.Time) (*Minter, error) {
	if len(secret) == 0 {
		return nil, errors.New("minter: empty signing secret")
	}
	if ttl <= 0 {
		return nil, errors.New("minter: non-positive access TTL")
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Minter{secret: secret, ttl: ttl, now: now}, nil
}

func (m *Minter) TTL() time.Duration { return m.ttl }

// Mint signs an access token for the given identity.
func (m *Minter) Mint(userID uuid.UUID, email, role string) (string, error) {
	now := m.now()
	claims := AccessClaims{
		UserID: userID.String(),
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// Parse verifies signature and expiry and returns the claims.
func (m *Minter) Parse(tokenStr string) (*AccessClaims, error) {
	var claims AccessClaims
	tok, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(m.now))
	if err != nil || !tok.Valid {
		return nil, ErrAccessTokenInvalid
	}
	return &claims, nil
}
