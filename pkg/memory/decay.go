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

package memory

import (
	"math"
	"time"
)

// DefaultDecayRate is the base hourly decay rate.
const DefaultDecayRate = 0.01

// ComputeDecay returns a freshness score in [0, 1] following an
// exponential forgetting curve. Higher importance and access count slow
// decay down. 1.0 means fully fresh, 0.0 fully decayed.
func ComputeDecay(lastAccessed time.Time, importance, accessCount int, rate float64, now time.Time) float64 {
	if rate <= 0 {
		rate = DefaultDecayRate
	}
	hoursSince := now.Sub(lastAccessed).Hours()
	if hoursSince < 0 {
		hoursSince = 0
	}

	// importance 10 slows decay tenfold relative to importance 1
	imp := importance
	if imp < 1 {
		imp = 1
	}
	importanceFactor := 1.0 / float64(imp)
	accessFactor := 1.0 / (1 + math.Log1p(float64(accessCount)))

	return math.Exp(-rate * importanceFactor * accessFactor * hoursSince)
}
