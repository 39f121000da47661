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

package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engram-ai/engram/pkg/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engram.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	cfg := config.Default()

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.NotEmpty(t, cfg.Storage.DataDir)
	assert.Equal(t, "ollama", cfg.Embedder.Provider)
	assert.Equal(t, 384, cfg.Embedder.Dimension)
	assert.Equal(t, 1800, cfg.AutoSave.IntervalSeconds)
	assert.Equal(t, 500, cfg.AutoSave.MessageThreshold)
	assert.Equal(t, 85.0, cfg.AutoSave.RAMThresholdPct)
	assert.Equal(t, 10, cfg.Synapse.TimeoutSeconds)
	assert.Equal(t, "info", cfg.Logging.Level)

	require.NoError(t, cfg.Validate())
	assert.Equal(t, filepath.Join(cfg.Storage.DataDir, "admin.db"), cfg.Auth.AdminDBPath)
}

func TestAdminDBPathFollowsDataDir(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.DataDir = t.TempDir()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, filepath.Join(cfg.Storage.DataDir, "admin.db"), cfg.Auth.AdminDBPath)

	// An explicit path is never overridden.
	cfg = config.Default()
	cfg.Auth.AdminDBPath = "/var/lib/engram/accounts.db"
	cfg.Storage.DataDir = t.TempDir()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "/var/lib/engram/accounts.db", cfg.Auth.AdminDBPath)
}

func TestLoadWithEnvExpansion(t *testing.T) {
	t.Setenv("ENGRAM_TEST_PORT", "9090")
	t.Setenv("ENGRAM_TEST_SECRET", "super-secret")

	path := writeConfig(t, `
server:
  port: ${ENGRAM_TEST_PORT}
auth:
  cloud_mode: true
  jwt_secret: ${ENGRAM_TEST_SECRET}
storage:
  data_dir: ${ENGRAM_TEST_DATA_DIR:-/tmp/engram-test}
logging:
  level: debug
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "super-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, "/tmp/engram-test", cfg.Storage.DataDir)
	assert.Equal(t, "/tmp/engram-test/admin.db", cfg.Auth.AdminDBPath)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadRejectsInvalid(t *testing.T) {
	for name, content := range map[string]string{
		"bad port":       "server:\n  port: 99999\n",
		"bad format":     "logging:\n  format: xml\n",
		"bad ram":        "autosave:\n  ram_threshold_pct: 150\n",
		"bad embedder":   "embedder:\n  enabled: true\n  provider: openai\n",
		"negative timer": "autosave:\n  interval_seconds: -5\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := config.Load(writeConfig(t, content))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
