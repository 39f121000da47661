// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Engram Authors
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package auth

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// DefaultJWTSecret is a development fallback. Production deployments
// must configure their own secret.
const DefaultJWTSecret = "engram-dev-secret-change-in-production"

// Token lifetimes.
const (
	AccessTokenTTL  = 15 * time.Minute
	RefreshTokenTTL = 7 * 24 * time.Hour
)

// Token kinds carried in the "type" claim.
const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// TokenClaims is the validated content of a session token.
type TokenClaims struct {
	Subject string
	Tier    string
	Type    string
}

// TokenService signs and validates HS256 session tokens.
type TokenService struct {
	secret []byte
}

// NewTokenService creates a signer over a shared secret. An empty
// secret falls back to the development default with a loud warning.
func NewTokenService(secret string) *TokenService {
	if secret == "" || secret == DefaultJWTSecret {
		slog.Warn("JWT secret not configured, using insecure development default")
		secret = DefaultJWTSecret
	}
	return &TokenService{secret: []byte(secret)}
}

// AccessToken mints an access token for a user.
// It returns the signed token and its lifetime in seconds.
func (s *TokenService) AccessToken(userID, tier string) (string, int, error) {
	token, err := s.sign(userID, tokenTypeAccess, AccessTokenTTL, map[string]any{"tier": tier})
	if err != nil {
		return "", 0, err
	}
	return token, int(AccessTokenTTL.Seconds()), nil
}

// RefreshToken mints a refresh token for a user.
func (s *TokenService) RefreshToken(userID string) (string, error) {
	return s.sign(userID, tokenTypeRefresh, RefreshTokenTTL, nil)
}

func (s *TokenService) sign(subject, typ string, ttl time.Duration, extra map[string]any) (string, error) {
	now := time.Now()
	builder := jwt.NewBuilder().
		Subject(subject).
		IssuedAt(now).
		Expiration(now.Add(ttl)).
		Claim("type", typ)
	for k, v := range extra {
		builder = builder.Claim(k, v)
	}
	token, err := builder.Build()
	if err != nil {
		return "", fmt.Errorf("build token: %w", err)
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, s.secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return string(signed), nil
}

// ValidateAccess parses and validates an access token.
func (s *TokenService) ValidateAccess(tokenString string) (*TokenClaims, error) {
	return s.validate(tokenString, tokenTypeAccess)
}

// ValidateRefresh parses and validates a refresh token.
func (s *TokenService) ValidateRefresh(tokenString string) (*TokenClaims, error) {
	return s.validate(tokenString, tokenTypeRefresh)
}

func (s *TokenService) validate(tokenString, wantType string) (*TokenClaims, error) {
	token, err := jwt.Parse(
		[]byte(tokenString),
		jwt.WithKey(jwa.HS256, s.secret),
		jwt.WithValidate(true),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims := &TokenClaims{Subject: token.Subject()}
	if v, ok := token.Get("type"); ok {
		claims.Type, _ = v.(string)
	}
	if v, ok := token.Get("tier"); ok {
		claims.Tier, _ = v.(string)
	}
	if claims.Type != wantType {
		return nil, fmt.Errorf("%w: wrong token type", ErrInvalidToken)
	}
	return claims, nil
}
