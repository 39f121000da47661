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

import "errors"

// Common authentication errors.
var (
	// ErrUnauthorized is returned when authentication is required but not provided.
	ErrUnauthorized = errors.New("unauthorized: authentication required")

	// ErrInvalidToken is returned when a token cannot be validated.
	ErrInvalidToken = errors.New("invalid token")

	// ErrInvalidAPIKey is returned when an API key does not resolve to a user.
	ErrInvalidAPIKey = errors.New("invalid api key")

	// ErrInvalidCredentials is returned on a failed email/password login.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrEmailTaken is returned when registering an already-registered email.
	ErrEmailTaken = errors.New("email already registered")

	// ErrKeyLimitReached is returned when the tier's API key quota is exhausted.
	ErrKeyLimitReached = errors.New("api key limit reached")

	// ErrUserNotFound is returned when a user id no longer resolves.
	ErrUserNotFound = errors.New("user not found")

	// ErrKeyNotFound is returned when an API key id does not belong to the user.
	ErrKeyNotFound = errors.New("api key not found")
)
