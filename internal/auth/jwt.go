// Package auth verifies the bearer credentials issued to chat users.
package auth

import (
	"context"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	"github.com/PabloGalante/chatlog/internal/domain"
)

// Claims carries the user id the sign-in service puts in "userId"; "sub" is accepted too.
type Claims struct {
	UserID string `json:"userId,omitempty"`
	jwt.RegisteredClaims
}

// JWTAuthenticator checks HS256 tokens signed with a shared secret.
type JWTAuthenticator struct {
	secret []byte
	now    func() time.Time
}

var _ domain.Authenticator = &JWTAuthenticator{}

func NewJWTAuthenticator(secret string) (*JWTAuthenticator, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("jwt secret is required")
	}
	return &JWTAuthenticator{secret: []byte(secret), now: time.Now}, nil
}

func (a *JWTAuthenticator) Authenticate(_ context.Context, credential string) (domain.UserID, error) {
	const op = "auth.authenticate"

	credential = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(credential), "Bearer "))
	if credential == "" {
		return "", domain.E(domain.KindUnauthorized, op, "missing credential")
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(credential, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return "", domain.Wrap(domain.KindUnauthorized, op, err)
	}

	user := claims.UserID
	if user == "" {
		user = claims.Subject
	}
	if user == "" {
		return "", domain.E(domain.KindUnauthorized, op, "token carries no user id")
	}
	return domain.UserID(user), nil
}

// Issue signs a token for user valid for ttl. Development and tests; production tokens come
// from the sign-in service.
func (a *JWTAuthenticator) Issue(user domain.UserID, ttl time.Duration) (string, error) {
	if user == "" {
		return "", errors.New("user id is required")
	}
	now := a.now()
	claims := Claims{
		UserID: string(user),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  string(user),
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", errors.Wrap(err, "sign token")
	}
	return signed, nil
}
