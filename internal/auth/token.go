// Package auth validates principal tokens and carries the calling actor through requests.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cuongbtq/ucloud-orchestrator/internal/apperrors"
	"github.com/cuongbtq/ucloud-orchestrator/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// Claims are the principal claims carried by access tokens.
type Claims struct {
	Role     domain.Role `json:"role"`
	Project  string      `json:"project,omitempty"`
	Provider string      `json:"provider,omitempty"`
	jwt.RegisteredClaims
}

// Signer issues and verifies HS256 principal tokens.
type Signer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewSigner(secret, issuer string, ttl time.Duration) *Signer {
	return &Signer{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Sign issues a token for actor that expires after the signer's ttl.
func (s *Signer) Sign(actor domain.Actor) (string, time.Time, error) {
	now := s.now()
	expiry := now.Add(s.ttl)
	claims := Claims{
		Role:     actor.Role,
		Project:  actor.Project,
		Provider: actor.ProviderID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.Username,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiry),
		},
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiry, nil
}

// Verify parses token and returns the actor it names.
func (s *Signer) Verify(token string) (domain.Actor, error) {
	claims := &Claims{}
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	}
	if s.issuer != "" {
		options = append(options, jwt.WithIssuer(s.issuer))
	}

	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, options...)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return domain.Actor{}, apperrors.Unauthorized("malformed token")
		case errors.Is(err, jwt.ErrTokenExpired):
			return domain.Actor{}, apperrors.Unauthorized("token expired")
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return domain.Actor{}, apperrors.Unauthorized("invalid token signature")
		default:
			return domain.Actor{}, apperrors.Unauthorized("invalid token")
		}
	}

	return actorFromClaims(claims)
}

func actorFromClaims(c *Claims) (domain.Actor, error) {
	if c.Subject == "" {
		return domain.Actor{}, apperrors.Unauthorized("token has no subject")
	}

	actor := domain.Actor{
		Username: c.Subject,
		Role:     c.Role,
		Project:  c.Project,
	}

	if id, ok := strings.CutPrefix(c.Subject, domain.ProviderPrincipalPrefix); ok {
		if id == "" || (c.Provider != "" && c.Provider != id) {
			return domain.Actor{}, apperrors.Unauthorized("inconsistent provider principal")
		}
		actor.Role = domain.RoleProvider
		actor.ProviderID = id
		return actor, nil
	}

	switch c.Role {
	case domain.RoleUser, domain.RoleAdmin, domain.RoleService:
	case "":
		actor.Role = domain.RoleUser
	default:
		return domain.Actor{}, apperrors.Unauthorized(fmt.Sprintf("unsupported role %q", c.Role))
	}
	return actor, nil
}

// ProviderActor is the principal a provider authenticates as.
func ProviderActor(providerID string) domain.Actor {
	return domain.Actor{
		Username:   domain.ProviderPrincipalPrefix + providerID,
		Role:       domain.RoleProvider,
		ProviderID: providerID,
	}
}

type signerSource struct {
	signer *Signer
	actor  domain.Actor
}

func (s signerSource) Token() (*oauth2.Token, error) {
	signed, expiry, err := s.signer.Sign(s.actor)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{AccessToken: signed, TokenType: "Bearer", Expiry: expiry}, nil
}

// TokenSource returns a cached source of tokens for actor, re-signed shortly before expiry.
func (s *Signer) TokenSource(actor domain.Actor) oauth2.TokenSource {
	return oauth2.ReuseTokenSource(nil, signerSource{signer: s, actor: actor})
}
