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

package auth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engram-ai/engram/pkg/auth"
)

func newAdminDB(t *testing.T) *auth.AdminDB {
	t.Helper()
	db, err := auth.OpenAdminDB(filepath.Join(t.TempDir(), "admin.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPasswordRoundTrip(t *testing.T) {
	hash, err := auth.HashPassword("s3cret-passphrase")
	require.NoError(t, err)
	assert.Contains(t, hash, ":")

	assert.True(t, auth.VerifyPassword("s3cret-passphrase", hash))
	assert.False(t, auth.VerifyPassword("wrong", hash))
	assert.False(t, auth.VerifyPassword("s3cret-passphrase", "not-a-hash"))
	assert.False(t, auth.VerifyPassword("s3cret-passphrase", "deadbeef:"))
}

func TestCreateUserAndLookup(t *testing.T) {
	db := newAdminDB(t)
	ctx := context.Background()

	u, err := db.CreateUser(ctx, "u-1", "a@example.com", "hash", "")
	require.NoError(t, err)
	assert.Equal(t, "free", u.Tier)

	byEmail, err := db.UserByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u-1", byEmail.ID)

	_, err = db.CreateUser(ctx, "u-2", "a@example.com", "hash", "")
	assert.ErrorIs(t, err, auth.ErrEmailTaken)

	_, err = db.UserByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, auth.ErrUserNotFound)

	require.NoError(t, db.UpdateUserTier(ctx, "u-1", "pro"))
	byID, err := db.UserByID(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, "pro", byID.Tier)

	assert.ErrorIs(t, db.UpdateUserTier(ctx, "ghost", "pro"), auth.ErrUserNotFound)
}

func TestAPIKeyLifecycle(t *testing.T) {
	db := newAdminDB(t)
	ctx := context.Background()

	_, err := db.CreateUser(ctx, "u-1", "a@example.com", "hash", "pro")
	require.NoError(t, err)

	id, fullKey, keyHash, err := auth.GenerateAPIKey()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(fullKey, auth.KeyPrefix))
	assert.Equal(t, auth.HashAPIKey(fullKey), keyHash)

	require.NoError(t, db.StoreAPIKey(ctx, &auth.APIKey{
		ID:        id,
		UserID:    "u-1",
		KeyHash:   keyHash,
		KeyPrefix: auth.DisplayPrefix(fullKey),
		Name:      "ci",
	}))

	record, user, err := db.ValidateAPIKey(ctx, fullKey)
	require.NoError(t, err)
	assert.Equal(t, "u-1", user.ID)
	assert.Equal(t, "ci", record.Name)
	assert.Equal(t, auth.DefaultScopes, record.Scopes)

	// Last use was stamped by validation.
	keys, err := db.APIKeysForUser(ctx, "u-1")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.NotNil(t, keys[0].LastUsedAt)

	_, _, err = db.ValidateAPIKey(ctx, "not-a-service-key")
	assert.ErrorIs(t, err, auth.ErrInvalidAPIKey)
	_, _, err = db.ValidateAPIKey(ctx, auth.KeyPrefix+"unknown-key-material")
	assert.ErrorIs(t, err, auth.ErrInvalidAPIKey)

	n, err := db.CountAPIKeysForUser(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, db.DeleteAPIKey(ctx, id, "u-1"))
	assert.ErrorIs(t, db.DeleteAPIKey(ctx, id, "u-1"), auth.ErrKeyNotFound)
}

func TestTokenRoundTrip(t *testing.T) {
	svc := auth.NewTokenService("unit-test-secret")

	access, expiresIn, err := svc.AccessToken("u-1", "pro")
	require.NoError(t, err)
	assert.Equal(t, 900, expiresIn)

	claims, err := svc.ValidateAccess(access)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.Subject)
	assert.Equal(t, "pro", claims.Tier)

	// An access token is not a refresh token.
	_, err = svc.ValidateRefresh(access)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	refresh, err := svc.RefreshToken("u-1")
	require.NoError(t, err)
	rc, err := svc.ValidateRefresh(refresh)
	require.NoError(t, err)
	assert.Equal(t, "u-1", rc.Subject)

	// A token signed with another secret fails validation.
	other := auth.NewTokenService("different-secret")
	_, err = other.ValidateAccess(access)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func newCloudAuthenticator(t *testing.T) (*auth.Authenticator, string) {
	t.Helper()
	db := newAdminDB(t)
	ctx := context.Background()
	_, err := db.CreateUser(ctx, "u-1", "a@example.com", "hash", "pro")
	require.NoError(t, err)

	id, fullKey, keyHash, err := auth.GenerateAPIKey()
	require.NoError(t, err)
	require.NoError(t, db.StoreAPIKey(ctx, &auth.APIKey{
		ID: id, UserID: "u-1", KeyHash: keyHash,
		KeyPrefix: auth.DisplayPrefix(fullKey), Name: "default",
	}))

	a, err := auth.NewAuthenticator(db, auth.NewTokenService("unit-test-secret"), true, "")
	require.NoError(t, err)
	return a, fullKey
}

func TestMiddlewareAPIKey(t *testing.T) {
	a, fullKey := newCloudAuthenticator(t)

	var got *auth.Identity
	handler := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = auth.GetIdentity(r)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/memories", nil)
	req.Header.Set("X-API-Key", fullKey)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, got)
	assert.Equal(t, "u-1", got.UserID)
	assert.Equal(t, "pro", got.Tier)
	assert.True(t, got.HasScope("memories:write"))
	assert.False(t, got.HasScope("memories:admin"))
}

func TestMiddlewareBearer(t *testing.T) {
	a, _ := newCloudAuthenticator(t)
	access, _, err := a.Tokens().AccessToken("u-1", "pro")
	require.NoError(t, err)

	var got *auth.Identity
	handler := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = auth.GetIdentity(r)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
	req.Header.Set("Authorization", "Bearer "+access)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, got)
	assert.True(t, got.HasScope("memories:admin"))
}

func TestMiddlewareRejections(t *testing.T) {
	a, _ := newCloudAuthenticator(t)
	handler := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	for name, set := range map[string]func(*http.Request){
		"no credentials": func(r *http.Request) {},
		"bad api key":    func(r *http.Request) { r.Header.Set("X-API-Key", "bogus") },
		"bad bearer":     func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") },
		"wrong scheme":   func(r *http.Request) { r.Header.Set("Authorization", "Basic abc") },
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/memories", nil)
			set(req)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Contains(t, rec.Body.String(), "detail")
		})
	}
}

func TestLocalMode(t *testing.T) {
	open, err := auth.NewAuthenticator(nil, nil, false, "")
	require.NoError(t, err)
	id, err := open.Authenticate(httptest.NewRequest(http.MethodGet, "/v1/stats", nil))
	require.NoError(t, err)
	assert.Equal(t, "local", id.UserID)
	assert.Equal(t, "enterprise", id.Tier)

	keyed, err := auth.NewAuthenticator(nil, nil, false, "hunter2")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
	_, err = keyed.Authenticate(req)
	assert.ErrorIs(t, err, auth.ErrUnauthorized)

	req.Header.Set("X-API-Key", "hunter2")
	id, err = keyed.Authenticate(req)
	require.NoError(t, err)
	assert.Equal(t, "local", id.UserID)
}

func TestNamespaceHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/memories", nil)
	assert.Equal(t, "default", auth.Namespace(req))
	req.Header.Set("X-Namespace", "work")
	assert.Equal(t, "work", auth.Namespace(req))
}
