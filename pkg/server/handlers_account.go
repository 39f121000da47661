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

package server

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/engram-ai/engram/pkg/auth"
	"github.com/engram-ai/engram/pkg/tiers"
)

// mountAuthRoutes wires account registration, login and API key
// management. These routes sit outside the tenant auth middleware;
// the key and profile routes authenticate inline.
func (s *Server) mountAuthRoutes(r chi.Router) {
	r.Post("/register", s.handleRegister)
	r.Post("/login", s.handleLogin)
	r.Post("/refresh", s.handleRefresh)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticator.Middleware)
		r.Get("/me", s.handleMe)
		r.Post("/keys", s.handleKeyCreate)
		r.Get("/keys", s.handleKeyList)
		r.Delete("/keys/{id}", s.handleKeyDelete)
	})
}

// cloudOnly answers 404 on account routes in local mode, where there
// is no admin database.
func (s *Server) cloudOnly(w http.ResponseWriter) bool {
	if s.authenticator.Admin() == nil {
		writeDetail(w, http.StatusNotFound, "account management is not available in local mode")
		return false
	}
	return true
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

func (s *Server) issueTokens(w http.ResponseWriter, userID, tier string) {
	access, expiresIn, err := s.authenticator.Tokens().AccessToken(userID, tier)
	if err != nil {
		writeError(w, err)
		return
	}
	refresh, err := s.authenticator.Tokens().RefreshToken(userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    expiresIn,
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !s.cloudOnly(w) {
		return
	}
	var body credentialsRequest
	if err := decodeBody(r, &body); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	body.Email = strings.TrimSpace(strings.ToLower(body.Email))
	if body.Email == "" || !strings.Contains(body.Email, "@") {
		writeDetail(w, http.StatusBadRequest, "a valid email is required")
		return
	}
	if len(body.Password) < 8 {
		writeDetail(w, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}

	pwHash, err := auth.HashPassword(body.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	user, err := s.authenticator.Admin().CreateUser(r.Context(), uuid.NewString(), body.Email, pwHash, "free")
	if err != nil {
		writeError(w, err)
		return
	}
	s.issueTokens(w, user.ID, user.Tier)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.cloudOnly(w) {
		return
	}
	var body credentialsRequest
	if err := decodeBody(r, &body); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	body.Email = strings.TrimSpace(strings.ToLower(body.Email))

	user, err := s.authenticator.Admin().UserByEmail(r.Context(), body.Email)
	if err != nil || !auth.VerifyPassword(body.Password, user.PasswordHash) {
		writeError(w, auth.ErrInvalidCredentials)
		return
	}

	if err := s.authenticator.Admin().UpdateLastLogin(r.Context(), user.ID); err != nil {
		writeError(w, err)
		return
	}
	s.issueTokens(w, user.ID, user.Tier)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if !s.cloudOnly(w) {
		return
	}
	var body refreshRequest
	if err := decodeBody(r, &body); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body")
		return
	}

	claims, err := s.authenticator.Tokens().ValidateRefresh(body.RefreshToken)
	if err != nil {
		writeError(w, err)
		return
	}
	user, err := s.authenticator.Admin().UserByID(r.Context(), claims.Subject)
	if err != nil {
		writeError(w, auth.ErrInvalidToken)
		return
	}
	s.issueTokens(w, user.ID, user.Tier)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	id := identityOf(r)
	writeJSON(w, http.StatusOK, map[string]any{
		"id":     id.UserID,
		"email":  id.Email,
		"tier":   id.Tier,
		"limits": tiers.Get(id.Tier),
	})
}

type keyCreateRequest struct {
	Name   string   `json:"name"`
	Scopes []string `json:"scopes"`
}

func (s *Server) handleKeyCreate(w http.ResponseWriter, r *http.Request) {
	if !s.cloudOnly(w) {
		return
	}
	id := identityOf(r)
	var body keyCreateRequest
	if err := decodeBody(r, &body); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Name == "" {
		body.Name = "default"
	}

	limits := tiers.Get(id.Tier)
	count, err := s.authenticator.Admin().CountAPIKeysForUser(r.Context(), id.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	if limits.MaxAPIKeys > 0 && count >= limits.MaxAPIKeys {
		writeError(w, auth.ErrKeyLimitReached)
		return
	}

	keyID, fullKey, keyHash, err := auth.GenerateAPIKey()
	if err != nil {
		writeError(w, err)
		return
	}
	record := &auth.APIKey{
		ID:        keyID,
		UserID:    id.UserID,
		KeyHash:   keyHash,
		KeyPrefix: auth.DisplayPrefix(fullKey),
		Name:      body.Name,
		Scopes:    body.Scopes,
	}
	if err := s.authenticator.Admin().StoreAPIKey(r.Context(), record); err != nil {
		writeError(w, err)
		return
	}

	// The full key is returned exactly once.
	writeJSON(w, http.StatusOK, map[string]any{
		"id":         record.ID,
		"key":        fullKey,
		"key_prefix": record.KeyPrefix,
		"name":       record.Name,
		"scopes":     record.Scopes,
		"created_at": record.CreatedAt,
	})
}

func (s *Server) handleKeyList(w http.ResponseWriter, r *http.Request) {
	if !s.cloudOnly(w) {
		return
	}
	id := identityOf(r)
	keys, err := s.authenticator.Admin().APIKeysForUser(r.Context(), id.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	if keys == nil {
		keys = []*auth.APIKey{}
	}
	writeJSON(w, http.StatusOK, keys)
}

func (s *Server) handleKeyDelete(w http.ResponseWriter, r *http.Request) {
	if !s.cloudOnly(w) {
		return
	}
	id := identityOf(r)
	if err := s.authenticator.Admin().DeleteAPIKey(r.Context(), chi.URLParam(r, "id"), id.UserID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}
