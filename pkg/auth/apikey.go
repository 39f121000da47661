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
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// KeyPrefix marks all service API keys; validation rejects anything else.
const KeyPrefix = "engram_sk_"

// keyPrefixLen is how much of the key is kept in clear for display.
const keyPrefixLen = 20

// GenerateAPIKey mints a new key. It returns the key id, the full key
// (shown to the caller exactly once) and the SHA-256 hash stored in
// the admin database.
func GenerateAPIKey() (id, fullKey, keyHash string, err error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", "", fmt.Errorf("generate api key: %w", err)
	}
	fullKey = KeyPrefix + base64.RawURLEncoding.EncodeToString(raw)
	return uuid.NewString(), fullKey, HashAPIKey(fullKey), nil
}

// HashAPIKey returns the hex SHA-256 of a full key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// DisplayPrefix returns the clear-text portion of a key safe to show
// in key listings.
func DisplayPrefix(fullKey string) string {
	if len(fullKey) <= keyPrefixLen {
		return fullKey
	}
	return fullKey[:keyPrefixLen]
}

// ValidateAPIKey resolves a presented key to its owning user. The key
// is touched on success so listings can show last use.
func (a *AdminDB) ValidateAPIKey(ctx context.Context, key string) (*APIKey, *User, error) {
	if !strings.HasPrefix(key, KeyPrefix) {
		return nil, nil, ErrInvalidAPIKey
	}
	record, err := a.APIKeyByHash(ctx, HashAPIKey(key))
	if errors.Is(err, ErrKeyNotFound) {
		return nil, nil, ErrInvalidAPIKey
	}
	if err != nil {
		return nil, nil, err
	}

	user, err := a.UserByID(ctx, record.UserID)
	if errors.Is(err, ErrUserNotFound) {
		return nil, nil, ErrInvalidAPIKey
	}
	if err != nil {
		return nil, nil, err
	}

	if err := a.TouchAPIKey(ctx, record.ID); err != nil {
		return nil, nil, err
	}
	return record, user, nil
}
