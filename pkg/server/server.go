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

// Package server is the HTTP facade over the memory service: chi
// routing under /v1, tenant auth, per-tier rate limiting, websocket
// event push and the synapse proxy.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/engram-ai/engram/pkg/auth"
	"github.com/engram-ai/engram/pkg/config"
	"github.com/engram-ai/engram/pkg/embedder"
	"github.com/engram-ai/engram/pkg/hub"
	"github.com/engram-ai/engram/pkg/ratelimit"
	"github.com/engram-ai/engram/pkg/registry"
	"github.com/engram-ai/engram/pkg/tiers"
)

// Version is stamped at build time.
var Version = "dev"

// Server wires every subsystem behind the HTTP surface.
type Server struct {
	cfg           *config.Config
	registry      *registry.Registry
	hub           *hub.Hub
	limiter       *ratelimit.Limiter
	authenticator *auth.Authenticator
	embedder      embedder.Embedder

	httpServer *http.Server
}

// New assembles a server from configuration.
func New(cfg *config.Config) (*Server, error) {
	reg, err := registry.New(cfg.Storage.DataDir)
	if err != nil {
		return nil, err
	}

	var adminDB *auth.AdminDB
	var tokenSvc *auth.TokenService
	if cfg.Auth.CloudMode {
		adminDB, err = auth.OpenAdminDB(cfg.Auth.AdminDBPath)
		if err != nil {
			return nil, err
		}
		tokenSvc = auth.NewTokenService(cfg.Auth.JWTSecret)
	}
	authenticator, err := auth.NewAuthenticator(adminDB, tokenSvc, cfg.Auth.CloudMode, cfg.Auth.APIKey)
	if err != nil {
		return nil, err
	}

	var emb embedder.Embedder = embedder.NewNoop()
	if cfg.Embedder.Enabled {
		emb = embedder.NewOllama(cfg.Embedder.BaseURL,
			embedder.WithModel(cfg.Embedder.Model),
			embedder.WithDimension(cfg.Embedder.Dimension))
	}

	return &Server{
		cfg:           cfg,
		registry:      reg,
		hub:           hub.New(),
		limiter:       ratelimit.NewLimiter(),
		authenticator: authenticator,
		embedder:      emb,
	}, nil
}

// Registry exposes tenant storage, shared with the tool surface.
func (s *Server) Registry() *registry.Registry { return s.registry }

// Router builds the full route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(metricsMiddleware)

	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/v1/health", s.handleHealth)

	r.Route("/v1/auth", s.mountAuthRoutes)
	r.Route("/v1/demo", s.mountDemoRoutes)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticator.Middleware)
		r.Use(ratelimit.Middleware(s.limiter, s.rateLimitKey))

		r.Post("/v1/memories", s.handleStore)
		r.Get("/v1/memories", s.handleList)
		r.Get("/v1/memories/{id}", s.handleGet)
		r.Put("/v1/memories/{id}", s.handleUpdate)
		r.Delete("/v1/memories/{id}", s.handleDelete)
		r.Get("/v1/memories/{id}/links", s.handleMemoryLinks)

		r.Post("/v1/search", s.handleSearch)
		r.Post("/v1/recall", s.handleRecall)
		r.Post("/v1/context", s.handleContext)

		r.Get("/v1/stats", s.handleStats)
		r.Get("/v1/usage", s.handleUsage)
		r.Get("/v1/analytics", s.handleAnalytics)

		r.Post("/v1/export", s.handleExport)
		r.Post("/v1/import", s.handleImport)
		r.Post("/v1/backfill-embeddings", s.handleBackfill)
		r.Post("/v1/cleanup-expired", s.handleCleanupExpired)
		r.Post("/v1/prune", s.handlePrune)

		r.Post("/v1/sessions/save", s.handleSessionSave)
		r.Get("/v1/sessions/latest", s.handleSessionLatest)
		r.Get("/v1/sessions", s.handleSessionList)
		r.Post("/v1/sessions/recover", s.handleSessionRecover)
		r.Post("/v1/sessions/end", s.handleSessionEnd)

		r.Post("/v1/links", s.handleLinkCreate)
		r.Delete("/v1/links/{id}", s.handleLinkDelete)
		r.Post("/v1/graph", s.handleGraph)

		r.Post("/v1/autosave/configure", s.handleAutoSaveConfigure)
		r.Get("/v1/autosave/status", s.handleAutoSaveStatus)
		r.Post("/v1/autosave/checkpoint", s.handleAutoSaveCheckpoint)
		r.Post("/v1/autosave/restore", s.handleAutoSaveRestore)

		r.Get("/v1/ws/{namespace}", s.handleWebSocket)

		r.HandleFunc("/v1/synapse/*", s.handleSynapseProxy)
	})

	return r
}

// Start runs the HTTP server until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown drains connections and closes tenant storage.
func (s *Server) Shutdown() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return err
		}
	}
	if admin := s.authenticator.Admin(); admin != nil {
		admin.Close()
	}
	return s.registry.Close()
}

// identity pulls the authenticated principal; the auth middleware
// guarantees presence on protected routes.
func identityOf(r *http.Request) *auth.Identity {
	return auth.GetIdentity(r)
}

// limitsOf resolves the request's tier limits.
func limitsOf(r *http.Request) tiers.Limits {
	id := identityOf(r)
	if id == nil {
		return tiers.Free
	}
	return tiers.Get(id.Tier)
}

// rateLimitKey keys the limiter by tenant with per-tier limits.
func (s *Server) rateLimitKey(r *http.Request) (string, []ratelimit.Limit) {
	id := identityOf(r)
	if id == nil {
		return "", nil
	}
	limits := tiers.Get(id.Tier)
	return id.UserID, []ratelimit.Limit{
		{Window: ratelimit.WindowSecond, Max: int64(limits.RequestsPerSecond)},
		{Window: ratelimit.WindowMonth, Max: int64(limits.RequestsPerMonth)},
	}
}

// eventChannel scopes hub subscriptions to (tenant, namespace).
func eventChannel(tenantID, namespace string) string {
	return tenantID + ":" + namespace
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"status":  "ok",
		"version": Version,
	}
	// Local deployments report the memory count; cloud mode keeps
	// health cheap and tenant-agnostic.
	if !s.cfg.Auth.CloudMode {
		if store, err := s.registry.Store("local"); err == nil {
			if n, err := store.CountMemories(r.Context()); err == nil {
				payload["memories"] = n
			}
		}
	}
	writeJSON(w, http.StatusOK, payload)
}
