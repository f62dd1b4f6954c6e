/*
auth.go - Actor tokens

PURPOSE:
  Identity verification is outside the engine. The API accepts an HS256
  bearer token issued by the identity provider (or cmd/token in
  development) and turns its claims into a generic.Actor.

CLAIMS:
  sub   employee id of the caller
  role  "employee" or "admin"
  exp   expiry (required)
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/warp/leave-engine/generic"
)

type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// IssueToken signs a token for actor valid for ttl from now.
func IssueToken(secret string, actor generic.Actor, ttl time.Duration, now time.Time) (string, error) {
	if actor.ID == "" || !actor.Role.Valid() {
		return "", fmt.Errorf("issue token: invalid actor %q/%q", actor.ID, actor.Role)
	}
	claims := Claims{
		Role: string(actor.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseToken verifies tokenString and returns the actor it names.
func ParseToken(secret, tokenString string) (generic.Actor, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return generic.Actor{}, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return generic.Actor{}, errors.New("invalid token")
	}
	actor := generic.Actor{ID: claims.Subject, Role: generic.Role(claims.Role)}
	if actor.ID == "" || !actor.Role.Valid() {
		return generic.Actor{}, errors.New("token carries no valid actor")
	}
	return actor, nil
}

type ctxKey int

const ctxKeyActor ctxKey = iota

// WithActor stores actor on ctx.
func WithActor(ctx context.Context, actor generic.Actor) context.Context {
	return context.WithValue(ctx, ctxKeyActor, actor)
}

// ActorFrom returns the authenticated actor, or the zero Actor (which every
// Authorizer rejects as unauthorized).
func ActorFrom(ctx context.Context) generic.Actor {
	actor, _ := ctx.Value(ctxKeyActor).(generic.Actor)
	return actor
}

// bearerToken extracts the token from an "Authorization: Bearer x" header.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}
