package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "flock"

// ErrInvalidToken covers every verification failure: bad signature,
// malformed input, wrong algorithm, or a token at or past its expiry.
var ErrInvalidToken = errors.New("invalid token")

// Identity is the authorization scope embedded in an issued token.
type Identity struct {
	UserID   int64
	ChurchID int64
	BranchID int64
	Role     string
}

// Claims is the signed payload of a bearer token.
type Claims struct {
	jwt.RegisteredClaims
	UserID   int64  `json:"uid"`
	ChurchID int64  `json:"church_id"`
	BranchID int64  `json:"branch_id,omitempty"`
	Role     string `json:"role"`
}

func (c *Claims) Identity() Identity {
	return Identity{UserID: c.UserID, ChurchID: c.ChurchID, BranchID: c.BranchID, Role: c.Role}
}

// Codec issues and verifies HS256 bearer tokens with a process-wide secret.
type Codec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

type CodecOption func(*Codec)

// WithClock replaces the wall clock used for iat/exp and for verification.
func WithClock(now func() time.Time) CodecOption {
	return func(c *Codec) {
		c.now = now
	}
}

func NewCodec(secret []byte, ttl time.Duration, opts ...CodecOption) *Codec {
	c := &Codec{
		secret: secret,
		ttl:    ttl,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the lifetime given to issued tokens.
func (c *Codec) TTL() time.Duration {
	return c.ttl
}

func (c *Codec) Issue(id Identity) (string, error) {
	now := c.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   strconv.FormatInt(id.UserID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
		UserID:   id.UserID,
		ChurchID: id.ChurchID,
		BranchID: id.BranchID,
		Role:     id.Role,
	})

	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (c *Codec) Verify(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrInvalidToken
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (any, error) {
			return c.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.UserID <= 0 || claims.ChurchID <= 0 || claims.Subject != strconv.FormatInt(claims.UserID, 10) {
		return nil, fmt.Errorf("%w: missing identity", ErrInvalidToken)
	}

	return claims, nil
}
