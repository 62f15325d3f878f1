// Package token verifies signed bearer tokens (spec §3, §6). Issuance
// is explicitly out of scope (spec §1); Sign exists only so tests can
// produce fixtures without a separate CLI.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/arenaserver/battlearena/internal/id"
)

// Role is the two-way split a token's subject is authorized for.
type Role string

const (
	RolePlayer Role = "player"
	RoleViewer Role = "viewer"
)

// Payload is the decoded content of a verified token.
type Payload struct {
	Subject     id.ID
	Role        Role
	DisplayName string
	Expiry      time.Time
}

type claims struct {
	Subject     string `json:"sub"`
	Role        string `json:"role"`
	DisplayName string `json:"display_name,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates bearer tokens against an immutable server secret.
// The secret is set once at construction and never mutated afterward
// (spec §5: "the bearer-token secret is immutable after start").
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses and validates a bearer token, checking signature and
// expiry, and additionally that its role matches wantRole (the route
// the client connected on). Any failure — bad signature, expired
// token, or role mismatch — is reported uniformly so a caller can map
// it straight to errs.InvalidJWTToken without inspecting the cause.
func (v *Verifier) Verify(tokenString string, wantRole Role) (Payload, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("token: unexpected signing method")
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return Payload{}, err
	}

	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return Payload{}, errors.New("token: invalid claims")
	}

	role := Role(c.Role)
	if role != RolePlayer && role != RoleViewer {
		return Payload{}, errors.New("token: unknown role")
	}
	if role != wantRole {
		return Payload{}, errors.New("token: role does not match connection route")
	}

	subject, err := id.Parse(c.Subject)
	if err != nil {
		return Payload{}, err
	}

	var expiry time.Time
	if c.ExpiresAt != nil {
		expiry = c.ExpiresAt.Time
	}

	return Payload{
		Subject:     subject,
		Role:        role,
		DisplayName: c.DisplayName,
		Expiry:      expiry,
	}, nil
}

// Sign issues a token for tests and local tooling. Production issuance
// lives outside this server (spec §1).
func (v *Verifier) Sign(subject id.ID, role Role, displayName string, expiry time.Time) (string, error) {
	c := claims{
		Subject:     subject.String(),
		Role:        string(role),
		DisplayName: displayName,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiry),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(v.secret)
}
