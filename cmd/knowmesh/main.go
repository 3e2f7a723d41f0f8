// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/poiesic/knowmesh"
	"github.com/poiesic/knowmesh/config"
	"github.com/poiesic/knowmesh/reembed"
	"github.com/urfave/cli/v2"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "knowmesh",
		Usage:   "Self-organizing semantic knowledge graph",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to YAML configuration file",
				EnvVars: []string{"KNOWMESH_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "data-dir",
				Aliases: []string{"d"},
				Usage:   "Override the data directory",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:      "init-config",
				Usage:     "Write the default configuration as YAML",
				ArgsUsage: "[file]",
				Action:    initConfigCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "force",
						Usage: "Overwrite an existing file",
					},
				},
			},
			{
				Name:      "sync",
				Usage:     "Index everything changed since the last sync",
				ArgsUsage: "[dir...]",
				Action:    syncCommand,
			},
			{
				Name:      "watch",
				Usage:     "Sync, then keep indexing changes until interrupted",
				ArgsUsage: "[dir...]",
				Action:    watchCommand,
			},
			{
				Name:      "search",
				Usage:     "Search the mesh",
				ArgsUsage: "<query>",
				Action:    searchCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "limit",
						Aliases: []string{"n"},
						Usage:   "Maximum number of results",
					},
					&cli.StringSliceFlag{
						Name:  "tag",
						Usage: "Only return nodes carrying one of these tags",
					},
					&cli.StringFlag{
						Name:  "path-prefix",
						Usage: "Only return nodes under this path",
					},
					&cli.StringSliceFlag{
						Name:  "active",
						Usage: "Node ids currently being worked on",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Print the raw response as JSON",
					},
				},
			},
			{
				Name:   "serve",
				Usage:  "Serve the HTTP API",
				Action: serveCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "addr",
						Usage: "Listen address (overrides the configuration)",
					},
					&cli.BoolFlag{
						Name:  "watch",
						Usage: "Also watch the configured sources",
					},
				},
			},
			{
				Name:   "reembed",
				Usage:  "Reembed all nodes with the configured embedding model",
				Action: reembedCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "embedding-host",
						Usage: "Embedding service host URL (overrides the configuration)",
					},
					&cli.StringFlag{
						Name:  "embedding-model",
						Usage: "Embedding model name (overrides the configuration)",
					},
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Number of nodes to process in each batch",
						Value: reembed.DefaultBatchSize,
					},
					&cli.IntFlag{
						Name:  "report-interval",
						Usage: "Report progress every N nodes",
						Value: 100,
					},
					&cli.IntFlag{
						Name:  "max-retries",
						Usage: "Maximum retry attempts for failed batches",
						Value: 3,
					},
					&cli.DurationFlag{
						Name:  "retry-delay",
						Usage: "Base delay for exponential backoff",
						Value: reembed.DefaultConfig().RetryDelay,
					},
					&cli.BoolFlag{
						Name:  "force",
						Usage: "Reembed nodes already on the target model",
					},
				},
			},
			{
				Name:      "remove",
				Usage:     "Remove nodes and their edges",
				ArgsUsage: "<id...>",
				Action:    removeCommand,
			},
			{
				Name:   "stats",
				Usage:  "Print mesh statistics",
				Action: statsCommand,
			},
		},
	}
}

func setupLogger(c *cli.Context) error {
	level, err := parseLevel(c.String("log-level"))
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", s)
}

// loadConfig reads --config over the defaults and applies --data-dir.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if dir := c.String("data-dir"); dir != "" {
		cfg.DataDir = dir
	}
	return cfg, nil
}

func openMesh(c *cli.Context, cfg *config.Config) (*knowmesh.Mesh, error) {
	mesh, err := knowmesh.Open(c.Context,
		knowmesh.FromConfig(cfg),
		knowmesh.WithLogger(slog.Default()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open mesh at %s: %w", cfg.DataDir, err)
	}
	return mesh, nil
}

func closeMesh(mesh *knowmesh.Mesh) {
	if err := mesh.Close(context.Background()); err != nil {
		slog.Error("failed to close mesh", "error", err)
	}
}
