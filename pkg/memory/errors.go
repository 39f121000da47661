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
	"errors"
	"fmt"
)

// Sentinel errors surfaced by the store. Adapters map these to protocol
// status codes; the core never speaks HTTP.
var (
	// ErrNotFound means the referenced memory, link, or row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput means the caller violated a core invariant
	// (empty content, importance out of range, unknown enum value).
	ErrInvalidInput = errors.New("invalid input")

	// ErrDuplicate means a uniqueness constraint was violated: a link
	// with the same (source, target, relation) already exists, or an
	// update produced a content hash held by another row.
	ErrDuplicate = errors.New("duplicate")
)

// StorageError wraps an unexpected backend failure (I/O, corruption,
// SQL errors that are not constraint outcomes the store handles).
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// storageErr wraps err as a StorageError unless it is already a
// classified core error.
func storageErr(op string, err error) error {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrDuplicate) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
