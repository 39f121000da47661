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
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Identity is the authenticated principal attached to a request.
// UserID doubles as the tenant id for storage isolation.
type Identity struct {
	UserID string
	Email  string
	Tier   string
	Scopes []string
}

// AdminScopes are granted to token-authenticated sessions and to the
// local single-user mode.
var AdminScopes = []string{"memories:read", "memories:write", "memories:admin"}

// HasScope reports whether the identity carries a scope.
func (id *Identity) HasScope(scope string) bool {
	for _, s := range id.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Authenticator resolves requests to identities. In cloud mode it
// accepts Bearer access tokens and API keys against the admin
// database; in local mode a single configured key (or nothing at all)
// grants full access.
type Authenticator struct {
	admin     *AdminDB
	tokens    *TokenService
	cloudMode bool
	legacyKey string
}

// NewAuthenticator wires the admin database and token service.
// admin may be nil when cloudMode is false.
func NewAuthenticator(admin *AdminDB, tokens *TokenService, cloudMode bool, legacyKey string) (*Authenticator, error) {
	if cloudMode && admin == nil {
		return nil, fmt.Errorf("auth: cloud mode requires an admin database")
	}
	if cloudMode && tokens == nil {
		return nil, fmt.Errorf("auth: cloud mode requires a token service")
	}
	return &Authenticator{
		admin:     admin,
		tokens:    tokens,
		cloudMode: cloudMode,
		legacyKey: legacyKey,
	}, nil
}

// Admin exposes the underlying admin database for account routes.
func (a *Authenticator) Admin() *AdminDB { return a.admin }

// Tokens exposes the token service for login/refresh routes.
func (a *Authenticator) Tokens() *TokenService { return a.tokens }

// Authenticate resolves the request's credentials to an identity.
func (a *Authenticator) Authenticate(r *http.Request) (*Identity, error) {
	if !a.cloudMode {
		return a.localAuth(r)
	}

	if header := r.Header.Get("Authorization"); header != "" {
		token := strings.TrimPrefix(header, "Bearer ")
		if token == header {
			return nil, fmt.Errorf("%w: expected Bearer token", ErrUnauthorized)
		}
		return a.bearerAuth(r.Context(), token)
	}

	if key := r.Header.Get("X-API-Key"); key != "" {
		return a.keyAuth(r.Context(), key)
	}

	return nil, fmt.Errorf("%w: provide Bearer token or X-API-Key header", ErrUnauthorized)
}

func (a *Authenticator) bearerAuth(ctx context.Context, token string) (*Identity, error) {
	claims, err := a.tokens.ValidateAccess(token)
	if err != nil {
		return nil, err
	}
	user, err := a.admin.UserByID(ctx, claims.Subject)
	if errors.Is(err, ErrUserNotFound) {
		return nil, fmt.Errorf("%w: unknown subject", ErrInvalidToken)
	}
	if err != nil {
		return nil, err
	}
	return &Identity{
		UserID: user.ID,
		Email:  user.Email,
		Tier:   user.Tier,
		Scopes: AdminScopes,
	}, nil
}

func (a *Authenticator) keyAuth(ctx context.Context, key string) (*Identity, error) {
	record, user, err := a.admin.ValidateAPIKey(ctx, key)
	if err != nil {
		return nil, err
	}
	return &Identity{
		UserID: user.ID,
		Email:  user.Email,
		Tier:   user.Tier,
		Scopes: record.Scopes,
	}, nil
}

// localAuth serves single-user deployments: either an exact match on
// the configured key, or open access when none is configured. Local
// mode always gets the full feature set.
func (a *Authenticator) localAuth(r *http.Request) (*Identity, error) {
	if a.legacyKey != "" {
		provided := r.Header.Get("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(a.legacyKey)) != 1 {
			return nil, fmt.Errorf("%w: invalid or missing api key", ErrUnauthorized)
		}
	}
	return &Identity{
		UserID: "local",
		Email:  "local@localhost",
		Tier:   "enterprise",
		Scopes: AdminScopes,
	}, nil
}

type contextKey string

const identityContextKey contextKey = "identity"

// Middleware authenticates every request and stores the identity in
// the request context. Failures answer 401 with a {detail} body.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := a.Authenticate(r)
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprintf(w, `{"detail":%q}`, err.Error())
			return
		}
		ctx := context.WithValue(r.Context(), identityContextKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetIdentity returns the identity attached by Middleware, or nil.
func GetIdentity(r *http.Request) *Identity {
	return IdentityFromContext(r.Context())
}

// IdentityFromContext returns the identity stored in a context, or nil.
func IdentityFromContext(ctx context.Context) *Identity {
	if id, ok := ctx.Value(identityContextKey).(*Identity); ok {
		return id
	}
	return nil
}

// Namespace reads the X-Namespace header, defaulting to "default".
func Namespace(r *http.Request) string {
	if ns := r.Header.Get("X-Namespace"); ns != "" {
		return ns
	}
	return "default"
}
