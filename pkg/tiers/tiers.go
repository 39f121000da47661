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

// Package tiers defines subscription tier limits and feature flags.
package tiers

// Feature is an optional capability gated by tier.
type Feature string

const (
	FeatureSemanticSearch Feature = "semantic_search"
	FeatureWebSocket      Feature = "websocket"
	FeatureAnalytics      Feature = "analytics"
	FeatureLinks          Feature = "links"
	FeatureSessions       Feature = "sessions"
	FeatureAutoSave       Feature = "autosave"
	FeatureSynapse        Feature = "synapse"
)

// Limits describes what a tier may do. Zero means unlimited for the
// count fields.
type Limits struct {
	Name              string `json:"name"`
	MaxMemories       int    `json:"max_memories"`
	MaxStorageMB      int    `json:"max_storage_mb"`
	MaxNamespaces     int    `json:"max_namespaces"`
	RequestsPerSecond int    `json:"requests_per_second"`
	RequestsPerMonth  int    `json:"requests_per_month"`
	RetentionDays     int    `json:"retention_days"`
	MaxAPIKeys        int    `json:"max_api_keys"`

	Features map[Feature]bool `json:"features"`
}

// Has reports whether the tier enables a feature.
func (l Limits) Has(f Feature) bool { return l.Features[f] }

var (
	// Free is the default tier: keyword search only, tight quotas.
	Free = Limits{
		Name:              "free",
		MaxMemories:       5_000,
		MaxStorageMB:      50,
		MaxNamespaces:     2,
		RequestsPerSecond: 5,
		RequestsPerMonth:  50_000,
		RetentionDays:     90,
		MaxAPIKeys:        2,
		Features:          map[Feature]bool{},
	}

	// Pro unlocks the agent feature set.
	Pro = Limits{
		Name:              "pro",
		MaxMemories:       250_000,
		MaxStorageMB:      5_000,
		MaxNamespaces:     25,
		RequestsPerSecond: 50,
		RequestsPerMonth:  5_000_000,
		RetentionDays:     365,
		MaxAPIKeys:        25,
		Features: map[Feature]bool{
			FeatureSemanticSearch: true,
			FeatureWebSocket:      true,
			FeatureAnalytics:      true,
			FeatureLinks:          true,
			FeatureSessions:       true,
			FeatureAutoSave:       true,
			FeatureSynapse:        true,
		},
	}

	// Enterprise removes the count limits.
	Enterprise = Limits{
		Name:              "enterprise",
		MaxMemories:       0,
		MaxStorageMB:      100_000,
		MaxNamespaces:     0,
		RequestsPerSecond: 200,
		RequestsPerMonth:  0,
		RetentionDays:     0,
		MaxAPIKeys:        0,
		Features: map[Feature]bool{
			FeatureSemanticSearch: true,
			FeatureWebSocket:      true,
			FeatureAnalytics:      true,
			FeatureLinks:          true,
			FeatureSessions:       true,
			FeatureAutoSave:       true,
			FeatureSynapse:        true,
		},
	}
)

// Get resolves a tier by name, defaulting to Free for unknown names.
func Get(name string) Limits {
	switch name {
	case "pro":
		return Pro
	case "enterprise":
		return Enterprise
	default:
		return Free
	}
}
