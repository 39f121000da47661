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

// Command engram runs the persistent memory service.
//
// Usage:
//
//	engram serve --config engram.yaml
//	engram mcp
//	engram version
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/engram-ai/engram/pkg/config"
	"github.com/engram-ai/engram/pkg/embedder"
	"github.com/engram-ai/engram/pkg/logger"
	"github.com/engram-ai/engram/pkg/registry"
	"github.com/engram-ai/engram/pkg/server"
	"github.com/engram-ai/engram/pkg/tools"
)

// CLI defines the command-line interface.
type CLI struct {
	Version VersionCmd `cmd:"" help:"Show version information."`
	Serve   ServeCmd   `cmd:"" help:"Start the HTTP memory server."`
	MCP     MCPCmd     `cmd:"" name:"mcp" help:"Serve memory tools over MCP stdio."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple or verbose)." default:"simple"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := server.Version
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("engram version %s\n", version)
	return nil
}

// ServeCmd starts the HTTP server.
type ServeCmd struct {
	Port int `help:"Port to listen on, overrides config." default:"0"`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	srv, err := server.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	mode := "local"
	if cfg.Auth.CloudMode {
		mode = "cloud"
	}
	fmt.Printf("Engram memory server ready\n")
	fmt.Printf("   API:     http://%s:%d/v1\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("   Health:  http://%s:%d/v1/health\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("   Metrics: http://%s:%d/metrics\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("   Mode:    %s\n", mode)
	fmt.Printf("   Data:    %s\n", cfg.Storage.DataDir)
	if cfg.Embedder.Enabled {
		fmt.Printf("   Embedder: %s (%s)\n", cfg.Embedder.Provider, cfg.Embedder.Model)
	}
	fmt.Println("\nPress Ctrl+C to stop")

	return srv.Start(ctx)
}

// MCPCmd serves the tool surface over stdio. Stdout carries the
// protocol, so all logging goes to stderr or the configured file.
type MCPCmd struct{}

func (c *MCPCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}

	reg, err := registry.New(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer reg.Close()

	var emb embedder.Embedder = embedder.NewNoop()
	if cfg.Embedder.Enabled {
		emb = embedder.NewOllama(cfg.Embedder.BaseURL,
			embedder.WithModel(cfg.Embedder.Model),
			embedder.WithDimension(cfg.Embedder.Dimension))
	}

	ts, err := tools.New(reg, emb)
	if err != nil {
		return err
	}
	slog.Info("Serving MCP tools on stdio", "data_dir", cfg.Storage.DataDir)
	return ts.ServeStdio(server.Version)
}

// loadConfig reads the config file when given, falling back to
// defaults plus .env files.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		slog.Info("Loaded configuration", "path", path)
		return cfg, nil
	}

	if err := config.LoadEnvFiles(); err != nil {
		return nil, err
	}
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// signalContext cancels on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down...")
		cancel()
	}()
	return ctx, cancel
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("engram"),
		kong.Description("Engram - persistent memory service for AI agents"),
		kong.UsageOnError(),
	)

	output := os.Stderr
	var cleanup func()
	if cli.LogFile != "" {
		file, closeFn, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
			os.Exit(1)
		}
		output = file
		cleanup = closeFn
	}
	logger.Init(logger.ParseLevel(cli.LogLevel), output, cli.LogFormat)
	if cleanup != nil {
		defer cleanup()
	}

	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
