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

// Package registry owns per-tenant storage. Stores and session stores
// are created lazily on first access, isolated on the filesystem under
// one directory per tenant, and shared by all handlers thereafter.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/engram-ai/engram/pkg/autosave"
	"github.com/engram-ai/engram/pkg/memory"
	"github.com/engram-ai/engram/pkg/session"
	"github.com/engram-ai/engram/pkg/tiers"
)

// Sentinel errors for quota and gating outcomes.
var (
	ErrQuotaExceeded     = errors.New("quota exceeded")
	ErrFeatureNotEnabled = errors.New("feature not enabled")
	ErrInvalidTenant     = errors.New("invalid tenant id")
)

// tenantIDPattern keeps tenant ids path-safe.
var tenantIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

// dbFileName is the single per-tenant database file; the memory and
// session tables share it.
const dbFileName = "engram.db"

// Registry maps tenants to their storage. Safe for concurrent use;
// cold-start creation is deduplicated per tenant with single-flight.
type Registry struct {
	dataDir string

	mu        sync.RWMutex
	stores    map[string]*memory.Store
	sessions  map[string]*session.Store
	autosaves map[string]*autosave.AutoSave

	group singleflight.Group
}

// New creates a Registry rooted at dataDir.
func New(dataDir string) (*Registry, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("registry: data directory is required")
	}
	return &Registry{
		dataDir:   dataDir,
		stores:    map[string]*memory.Store{},
		sessions:  map[string]*session.Store{},
		autosaves: map[string]*autosave.AutoSave{},
	}, nil
}

func validateTenant(tenantID string) error {
	if !tenantIDPattern.MatchString(tenantID) {
		return fmt.Errorf("%w: %q", ErrInvalidTenant, tenantID)
	}
	return nil
}

func (r *Registry) tenantPath(tenantID string) string {
	return filepath.Join(r.dataDir, "tenants", tenantID, dbFileName)
}

// Store returns the tenant's memory store, creating it on first access.
func (r *Registry) Store(tenantID string) (*memory.Store, error) {
	if err := validateTenant(tenantID); err != nil {
		return nil, err
	}

	r.mu.RLock()
	store, ok := r.stores[tenantID]
	r.mu.RUnlock()
	if ok {
		return store, nil
	}

	v, err, _ := r.group.Do("store:"+tenantID, func() (any, error) {
		r.mu.RLock()
		store, ok := r.stores[tenantID]
		r.mu.RUnlock()
		if ok {
			return store, nil
		}

		store, err := memory.NewStore(r.tenantPath(tenantID))
		if err != nil {
			return nil, fmt.Errorf("open tenant store: %w", err)
		}

		r.mu.Lock()
		r.stores[tenantID] = store
		r.mu.Unlock()

		slog.Info("Tenant store created", "tenant", tenantID)
		return store, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*memory.Store), nil
}

// Sessions returns the tenant's session store, creating it on first
// access. It shares the tenant's database file with the memory store.
func (r *Registry) Sessions(tenantID string) (*session.Store, error) {
	if err := validateTenant(tenantID); err != nil {
		return nil, err
	}

	r.mu.RLock()
	s, ok := r.sessions[tenantID]
	r.mu.RUnlock()
	if ok {
		return s, nil
	}

	v, err, _ := r.group.Do("sessions:"+tenantID, func() (any, error) {
		r.mu.RLock()
		s, ok := r.sessions[tenantID]
		r.mu.RUnlock()
		if ok {
			return s, nil
		}

		s, err := session.NewStore(r.tenantPath(tenantID))
		if err != nil {
			return nil, fmt.Errorf("open tenant session store: %w", err)
		}

		r.mu.Lock()
		r.sessions[tenantID] = s
		r.mu.Unlock()
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*session.Store), nil
}

// AutoSave returns the tenant's autosave instance for a project,
// creating it on first access. Lifetime is bound to the registry.
func (r *Registry) AutoSave(tenantID, project string) (*autosave.AutoSave, error) {
	sessions, err := r.Sessions(tenantID)
	if err != nil {
		return nil, err
	}

	key := tenantID + "\x00" + project
	r.mu.RLock()
	a, ok := r.autosaves[key]
	r.mu.RUnlock()
	if ok {
		return a, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.autosaves[key]; ok {
		return a, nil
	}
	a, err = autosave.New(sessions, project)
	if err != nil {
		return nil, err
	}
	r.autosaves[key] = a
	return a, nil
}

// CheckWriteQuota enforces the tenant's memory-count and namespace
// quotas before a write into namespace. The namespace limit only trips
// on a write to a previously unseen namespace.
func (r *Registry) CheckWriteQuota(ctx context.Context, tenantID, namespace string, limits tiers.Limits) error {
	store, err := r.Store(tenantID)
	if err != nil {
		return err
	}

	if limits.MaxMemories > 0 {
		count, err := store.CountMemories(ctx)
		if err != nil {
			return err
		}
		if count >= limits.MaxMemories {
			return fmt.Errorf("%w: memory limit %d reached, upgrade your plan for more",
				ErrQuotaExceeded, limits.MaxMemories)
		}
	}

	if limits.MaxNamespaces > 0 {
		exists, err := store.NamespaceExists(ctx, namespace)
		if err != nil {
			return err
		}
		if !exists {
			count, err := store.CountNamespaces(ctx)
			if err != nil {
				return err
			}
			if count >= limits.MaxNamespaces {
				return fmt.Errorf("%w: namespace limit %d reached, upgrade your plan for more",
					ErrQuotaExceeded, limits.MaxNamespaces)
			}
		}
	}
	return nil
}

// CheckFeature gates an optional capability behind the tenant's tier.
func (r *Registry) CheckFeature(limits tiers.Limits, f tiers.Feature) error {
	if !limits.Has(f) {
		return fmt.Errorf("%w: %s requires a higher tier", ErrFeatureNotEnabled, f)
	}
	return nil
}

// Close releases every open tenant store.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for id, store := range r.stores {
		if err := store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(r.stores, id)
	}
	for id, s := range r.sessions {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(r.sessions, id)
	}
	r.autosaves = map[string]*autosave.AutoSave{}
	return firstErr
}
