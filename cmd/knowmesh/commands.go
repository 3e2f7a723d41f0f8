package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/poiesic/knowmesh"
	"github.com/poiesic/knowmesh/api"
	"github.com/poiesic/knowmesh/config"
	"github.com/poiesic/knowmesh/core"
	"github.com/poiesic/knowmesh/ingestion"
	"github.com/poiesic/knowmesh/reembed"
	"github.com/poiesic/knowmesh/source/fs"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

var errNoSources = errors.New("no sources: pass directories or list them under sources in the configuration")

func initConfigCommand(c *cli.Context) error {
	cfg := config.Default()
	if dir := c.String("data-dir"); dir != "" {
		cfg.DataDir = dir
	}
	path := c.Args().First()
	if path == "" {
		return cfg.Write(c.App.Writer)
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if c.Bool("force") {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := cfg.Write(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(c.App.ErrWriter, "Wrote %s\n", path)
	return nil
}

// sources resolves the directories named on the command line, or the
// configured ones when none are given.
func sources(c *cli.Context, cfg *config.Config) ([]*fs.Source, error) {
	logger := fs.WithLogger(slog.Default())
	var out []*fs.Source
	if c.Args().Present() {
		for _, dir := range c.Args().Slice() {
			src, err := fs.New(dir, logger)
			if err != nil {
				return nil, err
			}
			out = append(out, src)
		}
		return out, nil
	}

	for _, sc := range cfg.Sources {
		opts := []fs.Option{logger}
		if len(sc.Extensions) > 0 {
			opts = append(opts, fs.WithExtensions(sc.Extensions...))
		}
		if sc.MaxFileSize > 0 {
			opts = append(opts, fs.WithMaxFileSize(sc.MaxFileSize))
		}
		if sc.Debounce > 0 {
			opts = append(opts, fs.WithDebounce(sc.Debounce))
		}
		src, err := fs.New(sc.Path, opts...)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	if len(out) == 0 {
		return nil, errNoSources
	}
	return out, nil
}

func syncAll(ctx context.Context, w io.Writer, mesh *knowmesh.Mesh, srcs []*fs.Source) error {
	for _, src := range srcs {
		report, err := mesh.Sync(ctx, src)
		printReport(w, src.Root(), report)
		if err != nil {
			return fmt.Errorf("failed to sync %s: %w", src.Root(), err)
		}
	}
	return nil
}

func printReport(w io.Writer, name string, r ingestion.Report) {
	fmt.Fprintf(w, "%s: indexed %d (degraded %d, tagged %d), skipped %d, removed %d\n",
		name, r.Indexed, r.Degraded, r.Tagged, r.Skipped, r.Removed)
}

func syncCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	srcs, err := sources(c, cfg)
	if err != nil {
		return err
	}
	mesh, err := openMesh(c, cfg)
	if err != nil {
		return err
	}
	defer closeMesh(mesh)

	return syncAll(c.Context, c.App.Writer, mesh, srcs)
}

// watchAll follows every source until ctx is canceled.
func watchAll(ctx context.Context, mesh *knowmesh.Mesh, srcs []*fs.Source) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, src := range srcs {
		g.Go(func() error {
			return src.Watch(gctx, mesh)
		})
	}
	return g.Wait()
}

func watchCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	srcs, err := sources(c, cfg)
	if err != nil {
		return err
	}
	mesh, err := openMesh(c, cfg)
	if err != nil {
		return err
	}
	defer closeMesh(mesh)

	if err := syncAll(c.Context, c.App.Writer, mesh, srcs); err != nil {
		return err
	}
	return watchAll(c.Context, mesh, srcs)
}

func searchCommand(c *cli.Context) error {
	query := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if query == "" {
		return errors.New("a query is required")
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	mesh, err := openMesh(c, cfg)
	if err != nil {
		return err
	}
	defer closeMesh(mesh)

	filters := core.Filters{
		Tags:       c.StringSlice("tag"),
		PathPrefix: c.String("path-prefix"),
		MaxResults: c.Int("limit"),
	}
	resp, err := mesh.Search(c.Context, query, filters, core.SearchContext{ActiveFiles: c.StringSlice("active")})
	if err != nil {
		return err
	}

	if c.Bool("json") {
		enc := json.NewEncoder(c.App.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	printResults(c.App.Writer, resp.Results)
	for _, in := range resp.Insights {
		fmt.Fprintf(c.App.Writer, "* %s\n", in.Detail.Summary())
	}
	return nil
}

func printResults(w io.Writer, results []core.SearchResult) {
	if len(results) == 0 {
		fmt.Fprintln(w, "No results")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SCORE\tNODE\tSNIPPET")
	for _, r := range results {
		snippet := strings.Join(strings.Fields(r.Snippet), " ")
		fmt.Fprintf(tw, "%.3f\t%s\t%s\n", r.CombinedScore, r.NodeID, snippet)
	}
	tw.Flush()
}

func serveCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if addr := c.String("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	var srcs []*fs.Source
	if c.Bool("watch") {
		if srcs, err = sources(c, cfg); err != nil {
			return err
		}
	}
	mesh, err := openMesh(c, cfg)
	if err != nil {
		return err
	}
	defer closeMesh(mesh)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.New(mesh, api.WithVersion(version), api.WithLogger(slog.Default())),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(c.Context)
	g.Go(func() error {
		slog.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		slog.Info("shutting down")
		return srv.Shutdown(ctx)
	})
	if len(srcs) > 0 {
		g.Go(func() error {
			if err := syncAll(gctx, c.App.ErrWriter, mesh, srcs); err != nil {
				return err
			}
			return watchAll(gctx, mesh, srcs)
		})
	}
	return g.Wait()
}

func reembedCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if host := c.String("embedding-host"); host != "" {
		cfg.AI.EmbeddingHost = host
	}
	if model := c.String("embedding-model"); model != "" {
		cfg.AI.EmbeddingModel = model
	}

	rcfg := reembed.DefaultConfig()
	rcfg.BatchSize = c.Int("batch-size")
	rcfg.ReportInterval = c.Int("report-interval")
	rcfg.MaxRetries = c.Int("max-retries")
	rcfg.RetryDelay = c.Duration("retry-delay")
	rcfg.Force = c.Bool("force")
	if err := rcfg.Validate(); err != nil {
		return err
	}

	mesh, err := openMesh(c, cfg)
	if err != nil {
		return err
	}
	defer closeMesh(mesh)

	fmt.Fprintf(c.App.ErrWriter, "Database: %s\n", cfg.DatabasePath())
	fmt.Fprintf(c.App.ErrWriter, "Embedding host: %s\n", cfg.AI.EmbeddingHost)
	fmt.Fprintf(c.App.ErrWriter, "Embedding model: %s\n", cfg.AI.EmbeddingModel)
	fmt.Fprintln(c.App.ErrWriter)

	result, err := mesh.Reembed(c.Context, reembed.WithConfig(rcfg), reembed.WithProgress(c.App.ErrWriter))
	if err != nil {
		return fmt.Errorf("reembedding failed: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "Reembedded %d of %d nodes (%d skipped) in %s\n",
		result.Reembedded, result.Total, result.Skipped, result.Elapsed)
	return nil
}

func removeCommand(c *cli.Context) error {
	if !c.Args().Present() {
		return errors.New("at least one node id is required")
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	mesh, err := openMesh(c, cfg)
	if err != nil {
		return err
	}
	defer closeMesh(mesh)

	report, err := mesh.Remove(c.Context, c.Args().Slice()...)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Removed %d of %d nodes\n", report.Removed, c.Args().Len())
	return nil
}

func statsCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	mesh, err := openMesh(c, cfg)
	if err != nil {
		return err
	}
	defer closeMesh(mesh)

	printStats(c.App.Writer, mesh.Stats())
	return nil
}

func printStats(w io.Writer, s knowmesh.Stats) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Nodes\t%d\n", s.Network.Nodes)
	fmt.Fprintf(tw, "Edges\t%d\n", s.Network.Edges)
	states := make([]string, 0, len(s.Network.ByState))
	for state := range s.Network.ByState {
		states = append(states, state)
	}
	slices.Sort(states)
	for _, state := range states {
		fmt.Fprintf(tw, "  %s\t%d\n", state, s.Network.ByState[state])
	}
	fmt.Fprintf(tw, "Cache entries\t%d\n", s.Cache.Entries)
	fmt.Fprintf(tw, "Cache hit rate\t%.1f%%\n", s.Cache.HitRate()*100)
	fmt.Fprintf(tw, "Provider calls\t%d\n", s.Cache.ProviderCalls)
	fmt.Fprintf(tw, "Tokens\t%d\n", s.Cache.Tokens)
	fmt.Fprintf(tw, "Cost\t$%.4f\n", s.Cache.Cost)
	fmt.Fprintf(tw, "Patterns\t%d\n", s.Patterns)
	fmt.Fprintf(tw, "Preloads\t%d\n", s.Preloads)
	fmt.Fprintf(tw, "Prediction accuracy\t%.2f\n", s.Accuracy)
	tw.Flush()
}
