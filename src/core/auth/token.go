// Package auth issues and verifies signed bearer tokens.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"logingest/src/apperr"
	"logingest/src/core/authz"
)

const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

type Claims struct {
	Username    string   `json:"username"`
	Email       string   `json:"email"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	Type        string   `json:"type"`
	jwt.RegisteredClaims
}

type Config struct {
	Secret     string
	Algorithm  string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

type Tokens struct {
	secret     []byte
	method     jwt.SigningMethod
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewTokens(cfg Config) (*Tokens, error) {
	if cfg.Secret == "" {
		return nil, errors.New("jwt secret is empty")
	}
	alg := cfg.Algorithm
	if alg == "" {
		alg = jwt.SigningMethodHS256.Alg()
	}
	method, ok := jwt.GetSigningMethod(alg).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("unsupported jwt algorithm %q", alg)
	}
	return &Tokens{
		secret:     []byte(cfg.Secret),
		method:     method,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        time.Now,
	}, nil
}

// AccessTTL is the lifetime of issued access tokens.
func (t *Tokens) AccessTTL() time.Duration { return t.accessTTL }

func (t *Tokens) IssueAccess(id authz.Identity) (string, error) {
	return t.issue(id, TypeAccess, t.accessTTL)
}

func (t *Tokens) IssueRefresh(id authz.Identity) (string, error) {
	return t.issue(id, TypeRefresh, t.refreshTTL)
}

func (t *Tokens) issue(id authz.Identity, typ string, ttl time.Duration) (string, error) {
	issuedAt := t.now()
	claims := Claims{
		Username:    id.Username,
		Email:       id.Email,
		Roles:       nonNil(id.Roles),
		Permissions: nonNil(id.Permissions),
		Type:        typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(t.method, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", typ, err)
	}
	return signed, nil
}

// Verify checks an access token and returns the identity it carries.
func (t *Tokens) Verify(credential string) (authz.Identity, error) {
	return t.verify(credential, TypeAccess)
}

// VerifyRefresh checks a refresh token.
func (t *Tokens) VerifyRefresh(credential string) (authz.Identity, error) {
	return t.verify(credential, TypeRefresh)
}

func (t *Tokens) verify(credential, typ string) (authz.Identity, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(credential, &claims, func(*jwt.Token) (interface{}, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{t.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return authz.Identity{}, apperr.ErrInvalidToken.Wrap(err)
	}
	if claims.Type != typ {
		return authz.Identity{}, apperr.ErrInvalidToken.WithMessage("Expected %s token", typ)
	}
	if claims.Subject == "" {
		return authz.Identity{}, apperr.ErrInvalidToken.WithMessage("Token has no subject")
	}

	return authz.Identity{
		UserID:      claims.Subject,
		Username:    claims.Username,
		Email:       claims.Email,
		Roles:       claims.Roles,
		Permissions: claims.Permissions,
	}, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
