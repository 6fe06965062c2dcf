// Package main is the pawsort CLI entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/pawsort/internal/cli"
	"github.com/hyperjump/pawsort/internal/config"
	"github.com/hyperjump/pawsort/internal/embedding"
	"github.com/hyperjump/pawsort/internal/export"
	"github.com/hyperjump/pawsort/internal/imageenc"
	"github.com/hyperjump/pawsort/internal/models"
	"github.com/hyperjump/pawsort/internal/scanner"
	"github.com/hyperjump/pawsort/internal/server"
	"github.com/hyperjump/pawsort/internal/session"
	"github.com/hyperjump/pawsort/internal/storage"
	"github.com/hyperjump/pawsort/internal/watcher"
	"github.com/hyperjump/pawsort/pkg/utils"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/pawsort/config.yaml"
	mockDimensions    = 64
)

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used.
// A missing default config falls back to built-in defaults.
// Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				path = fallback
			}
		}
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			cfg := &config.Config{}
			config.ApplyDefaults(cfg)
			return cfg, "", config.Validate(cfg)
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, "", fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, path, nil
}

type globalFlags struct {
	configPath string
	debug      bool
	mock       bool
}

// app carries what every command needs after flags are parsed.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	flags   *globalFlags
	stdout  io.Writer
	stderr  io.Writer
	cfgPath string
}

func (g *globalFlags) load(cmd *cobra.Command) (*app, error) {
	cfg, path, err := loadConfig(g.configPath)
	if err != nil {
		return nil, err
	}
	debugMode := cfg.Debug || g.debug
	logger, err := utils.NewLogger(debugMode, utils.LogFile{
		Path:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logger.Debug("config loaded", zap.String("config_path", path), zap.Bool("debug", debugMode))
	return &app{cfg: cfg, logger: logger, flags: g, stdout: cmd.OutOrStdout(), stderr: cmd.ErrOrStderr(), cfgPath: path}, nil
}

// Components holds the long-lived pieces built from config.
type Components struct {
	Storage  storage.Storage // nil when the history database cannot be opened
	Client   *embedding.Client
	Embedder embedding.Embedder
	Engine   *session.Engine
}

// Close releases the components.
func (c *Components) Close() {
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger, mock, withStorage bool) (*Components, error) {
	client, err := embedding.NewClient(cfg.Remote.BaseURL,
		imageenc.New(cfg.Remote.TargetSize, cfg.Remote.JPEGQuality),
		embedding.WithLogger(logger),
		embedding.WithTimeouts(cfg.Remote.ConnectTimeout, cfg.Remote.RequestTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize remote client: %w", err)
	}

	var embedder embedding.Embedder = client
	if mock {
		logger.Warn("using mock embeddings; results are not meaningful", zap.Int("dim", mockDimensions))
		embedder = embedding.NewMockEmbedder(mockDimensions)
	}
	if cfg.Remote.CacheSize > 0 {
		cached, err := embedding.NewCachedEmbedder(embedder, cfg.Remote.CacheSize, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize embedding cache: %w", err)
		}
		embedder = cached
	}

	c := &Components{
		Client:   client,
		Embedder: embedder,
		Engine:   session.NewEngine(embedder, scanner.New(scanner.WithLogger(logger)), session.WithLogger(logger)),
	}
	if withStorage {
		store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
		if err != nil {
			logger.Warn("export history disabled", zap.String("database_path", cfg.Storage.DatabasePath), zap.Error(err))
		} else {
			c.Storage = store
		}
	}
	return c, nil
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "pawsort",
		Short:         "Group pet photos by individual using reference folders",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", defaultConfigPath, "config file path")
	root.PersistentFlags().BoolVar(&g.debug, "debug", false, "enable debug logging")
	root.PersistentFlags().BoolVar(&g.mock, "mock", false, "use deterministic mock embeddings instead of the remote service")

	root.AddCommand(
		newServeCmd(g),
		newClassifyCmd(g),
		newHealthCmd(g),
		newExportsCmd(g),
		newInitCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "pawsort version %s\n", version)
			},
		},
	)
	return root
}

func newServeCmd(g *globalFlags) *cobra.Command {
	var start bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.load(cmd)
			if err != nil {
				return err
			}
			defer a.logger.Sync()
			return runServe(cmd.Context(), a, start)
		},
	}
	cmd.Flags().BoolVar(&start, "start", false, "start a session with the configured folders on boot")
	return cmd
}

func runServe(ctx context.Context, a *app, start bool) error {
	components, err := initializeComponents(a.cfg, a.logger, a.flags.mock, true)
	if err != nil {
		return err
	}
	defer components.Close()

	manager := session.NewManager(components.Engine,
		session.WithManagerLogger(a.logger),
		session.WithOnComplete(func(out *session.Outcome) {
			a.logger.Info("session complete",
				zap.String("session", out.ID),
				zap.Int("photos", out.Total),
				zap.Int("classes", len(out.Prototypes)),
				zap.Duration("took", out.FinishedAt.Sub(out.StartedAt)))
		}))
	defer manager.Close()

	if start {
		manager.Start(a.cfg.SessionConfig())
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if a.cfg.Watch.Enabled {
		roots := []string{a.cfg.Session.IncomingDir, a.cfg.Session.ReferenceDir}
		opts := []watcher.WatcherOption{watcher.WithDebounce(a.cfg.Watch.Debounce)}
		if a.cfg.Debug || a.flags.debug {
			opts = append(opts, watcher.WithLogger(a.logger))
		}
		w := watcher.NewWatcher(roots, func() {
			if _, err := manager.Restart(); err != nil && !errors.Is(err, session.ErrNoSession) {
				a.logger.Warn("restart after folder change failed", zap.Error(err))
			}
		}, opts...)
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("failed to start watcher: %w", err)
		}
		defer w.Stop()
	}

	srv := server.NewServer(manager, components.Client, components.Storage, a.cfg, a.logger)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		a.logger.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Stop(shutdownCtx)
	})
	return eg.Wait()
}

type classifyFlags struct {
	incoming  string
	reference string
	output    string
	target    string
	format    string
	embedding string
	topK      int
	threshold float32
	batch     int
	progress  bool
}

func newClassifyCmd(g *globalFlags) *cobra.Command {
	f := &classifyFlags{}
	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Run one session and print the groups",
		Long: `Run one classification session: build a prototype per reference folder, classify
every incoming photo, print the groups and optionally export them.

Examples:
  pawsort classify --incoming ~/Pictures/inbox --reference ~/Pictures/pets
  pawsort classify --output ./sorted --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.load(cmd)
			if err != nil {
				return err
			}
			defer a.logger.Sync()
			return runClassify(cmd, a, f)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.incoming, "incoming", "", "folder of photos to group (default from config)")
	fl.StringVar(&f.reference, "reference", "", "folder with one subfolder per individual (default from config)")
	fl.StringVar(&f.output, "output", "", "export the groups here (local folder, or S3 prefix with --target s3)")
	fl.StringVar(&f.target, "target", "", "export target: local or s3 (default from config)")
	fl.StringVar(&f.format, "format", "text", "output format: text or json")
	fl.StringVar(&f.embedding, "embedding-format", "", "embedding wire format: f16 or f32")
	fl.IntVar(&f.topK, "top-k", 0, "candidates kept per photo")
	fl.Float32Var(&f.threshold, "threshold", -1, "unknown threshold in [0,1]")
	fl.IntVar(&f.batch, "batch", 0, "photos per embed request")
	fl.BoolVar(&f.progress, "progress", utils.Stderr(), "show progress bars on stderr (default when stderr is a terminal)")
	return cmd
}

// applyClassifyFlags overrides the configured session with flags that were set.
func applyClassifyFlags(cfg *config.Config, f *classifyFlags) error {
	if f.incoming != "" {
		cfg.Session.IncomingDir = f.incoming
	}
	if f.reference != "" {
		cfg.Session.ReferenceDir = f.reference
	}
	if f.output != "" {
		cfg.Export.OutputDir = f.output
	}
	if f.target != "" {
		cfg.Export.Target = f.target
	}
	if f.embedding != "" {
		cfg.Session.Format = f.embedding
	}
	if f.topK != 0 {
		cfg.Session.TopK = f.topK
	}
	if f.threshold >= 0 {
		t := f.threshold
		cfg.Session.UnknownThreshold = &t
	}
	if f.batch != 0 {
		cfg.Session.BatchSize = f.batch
	}
	return config.Validate(cfg)
}

func runClassify(cmd *cobra.Command, a *app, f *classifyFlags) error {
	format, err := cli.ParseOutputFormat(f.format)
	if err != nil {
		return err
	}
	if err := applyClassifyFlags(a.cfg, f); err != nil {
		return err
	}
	components, err := initializeComponents(a.cfg, a.logger, a.flags.mock, f.output != "")
	if err != nil {
		return err
	}
	defer components.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var onProgress models.ProgressFunc
	if f.progress {
		onProgress = cli.NewProgressReporter(a.stderr).Report
	}
	out, err := components.Engine.Run(ctx, a.cfg.SessionConfig(), onProgress)
	if err != nil {
		return fmt.Errorf("%s: %w", models.KindOf(err), err)
	}
	if err := cli.WriteGroups(a.stdout, out.Groups.Snapshot(), format); err != nil {
		return err
	}

	if f.output == "" {
		return nil
	}
	sink, err := export.NewSink(ctx, a.cfg.Export.Target, a.cfg.Export.OutputDir, a.cfg.Export.S3)
	if err != nil {
		return err
	}
	opts := []export.Option{export.WithLogger(a.logger)}
	if components.Storage != nil {
		opts = append(opts, export.WithRecorder(components.Storage))
	}
	rec, err := export.New(sink, opts...).Export(ctx, out.ID, out.Groups.Snapshot(), onProgress)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	if format == cli.OutputText {
		fmt.Fprintf(a.stdout, "\nExported %d photos to %s\n", rec.Total, rec.Root)
	}
	return nil
}

func newHealthCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the remote embedding service",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.load(cmd)
			if err != nil {
				return err
			}
			defer a.logger.Sync()
			components, err := initializeComponents(a.cfg, a.logger, false, false)
			if err != nil {
				return err
			}
			defer components.Close()
			body, err := components.Client.Health(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "%s: %s\n", components.Client.BaseURL(), body)
			return nil
		},
	}
}

func newExportsCmd(g *globalFlags) *cobra.Command {
	var (
		limit  int
		format string
	)
	cmd := &cobra.Command{
		Use:   "exports",
		Short: "List past exports",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := cli.ParseOutputFormat(format)
			if err != nil {
				return err
			}
			a, err := g.load(cmd)
			if err != nil {
				return err
			}
			defer a.logger.Sync()
			store, err := storage.NewSQLiteStorage(a.cfg.Storage.DatabasePath)
			if err != nil {
				return err
			}
			defer store.Close()
			recs, err := store.ListExports(cmd.Context(), 0, limit)
			if err != nil {
				return err
			}
			if err := cli.WriteExports(a.stdout, recs, out); err != nil {
				return err
			}
			if out == cli.OutputText {
				if n, err := storage.DiskUsageBytes(storage.DatabaseFiles(a.cfg.Storage.DatabasePath)...); err == nil {
					fmt.Fprintf(a.stdout, "\nhistory database: %s (%d bytes)\n", a.cfg.Storage.DatabasePath, n)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of exports to show")
	cmd.Flags().StringVar(&format, "format", "text", "output format: text or json")
	return cmd
}

func newInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a config file with default settings",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "config.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			cfg := &config.Config{}
			config.ApplyDefaults(cfg)
			cfg.Session.IncomingDir = "./photos/incoming"
			cfg.Session.ReferenceDir = "./photos/reference"
			cfg.Export.OutputDir = "./photos/sorted"
			cfg.Storage.DatabasePath = "./data/exports.db"
			if err := config.Save(path, cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}
