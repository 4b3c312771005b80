// Package main is the basho CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/basho/internal/cli"
	"github.com/hyperjump/basho/internal/config"
	"github.com/hyperjump/basho/internal/filter"
	"github.com/hyperjump/basho/internal/imageio"
	"github.com/hyperjump/basho/internal/models"
	"github.com/hyperjump/basho/internal/pipeline"
	"github.com/hyperjump/basho/internal/search"
	"github.com/hyperjump/basho/internal/server"
	"github.com/hyperjump/basho/internal/watcher"
	"github.com/hyperjump/basho/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/basho/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development) and then for the default file;
// if neither exists the config comes from defaults and the environment alone.
// Returns the config and the path that was actually loaded ("" for environment only).
func loadConfig(path string) (*config.Config, string, error) {
	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, "", fmt.Errorf("failed to load .env: %w", err)
	}
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
		if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
			return config.FromEnv(), "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "build":
		runBuild()
	case "search":
		runSearch()
	case "video":
		runVideo()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("basho version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// setup loads config, builds the logger and wires the components. It exits on failure.
func setup(configPath string, debugFlag bool) (*config.Config, *zap.Logger, *Components) {
	cfg, resolvedConfigPath, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || debugFlag
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)
	components, err := initializeComponents(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	return cfg, logger, components
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	watch := fs.Bool("watch", false, "rebuild the index when the scene catalogue changes")
	_ = fs.Parse(os.Args[2:])

	cfg, logger, components := setup(*configPath, *debug)
	defer logger.Sync()
	defer components.Close()
	engine := components.Engine

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := engine.Rebuild(ctx); err != nil {
		// The server still starts so a fixed catalogue can be loaded through /api/v1/index/rebuild.
		logger.Error("initial index build failed", zap.Error(err))
	}

	srv := server.NewServer(engine, cfg, logger)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	if cfg.Catalog.Watch || *watch {
		roots := []string{cfg.Catalog.ScenesDir, filepath.Dir(cfg.Catalog.MetadataPath)}
		w := watcher.NewWatcher(roots, watcher.CatalogExtensions, func() {
			logger.Info("scene catalogue changed, rebuilding index")
			if _, err := engine.Rebuild(gctx); err != nil {
				logger.Error("index rebuild failed", zap.Error(err))
			}
		}, watcher.WithLogger(logger))
		g.Go(func() error {
			return w.Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Stop(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
}

func parseOutput(s string) cli.OutputFormat {
	format, err := cli.ParseFormat(s)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return format
}

func runBuild() {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "rebuild the index of a running server instead of building locally")
	outputFormat := fs.String("output", "text", "output format: text or json")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])
	format := parseOutput(*outputFormat)

	var stats *pipeline.BuildStats
	if *serverURL != "" {
		stats = &pipeline.BuildStats{}
		if err := newAPIClient(*serverURL).post("/api/v1/index/rebuild", stats); err != nil {
			fmt.Fprintf(os.Stderr, "Rebuild failed: %v\n", err)
			os.Exit(1)
		}
	} else {
		_, logger, components := setup(*configPath, *debug)
		defer logger.Sync()
		defer components.Close()
		var err error
		stats, err = components.Engine.Rebuild(context.Background())
		if err != nil {
			logger.Fatal("index build failed", zap.Error(err))
		}
	}
	if err := cli.WriteBuildStats(os.Stdout, stats, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

// argsReorder moves any flags (and their values) that appear after the positional
// argument to the front of the slice so that flag.Parse() sees them. Go's flag package
// stops at the first non-flag argument, so "basho search query.jpg -verify" would
// otherwise leave -verify unparsed.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = build the index locally and search it)")
	verify := fs.Bool("verify", false, "require geometric verification of the matched scene")
	outputFormat := fs.String("output", "text", "output format: text or json")
	debug := fs.Bool("debug", false, "enable debug logging")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: basho search [flags] <image>\n\n")
		fs.PrintDefaults()
	}
	_ = fs.Parse(argsReorder(os.Args[2:]))
	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(1)
	}
	format := parseOutput(*outputFormat)
	imagePath := fs.Arg(0)

	var res *models.SearchResult
	if *serverURL != "" {
		var body struct {
			Result *models.SearchResult `json:"result"`
		}
		fields := map[string]string{"verify": strconv.FormatBool(*verify)}
		if err := newAPIClient(*serverURL).upload("/api/v1/search", imagePath, fields, &body); err != nil {
			fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
			os.Exit(1)
		}
		res = body.Result
	} else {
		img, err := imageio.Load(imagePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
			os.Exit(1)
		}
		_, logger, components := setup(*configPath, *debug)
		defer logger.Sync()
		defer components.Close()
		ctx := context.Background()
		if _, err := components.Engine.Rebuild(ctx); err != nil {
			logger.Fatal("index build failed", zap.Error(err))
		}
		res, err = components.Engine.Search(ctx, img, *verify)
		if err != nil {
			logger.Fatal("search failed", zap.Error(err))
		}
	}
	if err := cli.WriteSearchResult(os.Stdout, res, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runVideo() {
	fs := flag.NewFlagSet("video", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = build the index locally and process the video)")
	smooth := fs.Bool("smooth", false, "smooth reported coordinates with a running median")
	window := fs.Int("window", 0, "median window for --smooth (default from config)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	debug := fs.Bool("debug", false, "enable debug logging")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: basho video [flags] <video file or frame directory>\n\n")
		fs.PrintDefaults()
	}
	_ = fs.Parse(argsReorder(os.Args[2:]))
	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(1)
	}
	format := parseOutput(*outputFormat)
	source := fs.Arg(0)

	var (
		records []models.LocationRecord
		cfg     *config.Config
	)
	if *serverURL != "" {
		var err error
		cfg, _, err = loadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		var body struct {
			Results []models.LocationRecord `json:"results"`
		}
		if err := newAPIClient(*serverURL).upload("/api/v1/process-video", source, nil, &body); err != nil {
			fmt.Fprintf(os.Stderr, "Video processing failed: %v\n", err)
			os.Exit(1)
		}
		records = body.Results
	} else {
		var (
			logger     *zap.Logger
			components *Components
		)
		cfg, logger, components = setup(*configPath, *debug)
		defer logger.Sync()
		defer components.Close()
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if _, err := components.Engine.Rebuild(ctx); err != nil {
			logger.Fatal("index build failed", zap.Error(err))
		}
		var err error
		records, err = components.Engine.ProcessVideo(ctx, source)
		if err != nil {
			logger.Fatal("video processing failed", zap.Error(err))
		}
	}

	if *smooth {
		w := cfg.Filter.Window
		if *window > 0 {
			w = *window
		}
		records = smoothRecords(records, w)
	}
	if err := cli.WriteLocations(os.Stdout, records, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

// smoothRecords replaces each record's coordinates with the running median over the last
// window records.
func smoothRecords(records []models.LocationRecord, window int) []models.LocationRecord {
	f := filter.New(window)
	out := make([]models.LocationRecord, len(records))
	for i, r := range records {
		r.Latitude, r.Longitude = f.Update(r.Latitude, r.Longitude)
		out[i] = r
	}
	return out
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "http://localhost:8000", "server URL (empty = build locally and report)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])
	format := parseOutput(*outputFormat)

	var st search.Status
	if *serverURL != "" {
		var body struct {
			Index search.Status `json:"index"`
		}
		if err := newAPIClient(*serverURL).get("/api/v1/status", &body); err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
		st = body.Index
	} else {
		_, logger, components := setup(*configPath, *debug)
		defer logger.Sync()
		defer components.Close()
		if _, err := components.Engine.Rebuild(context.Background()); err != nil {
			logger.Warn("index build failed", zap.Error(err))
		}
		st = components.Engine.Status()
	}
	if err := cli.WriteStatus(os.Stdout, st, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`basho - Visual place recognition for images and video

Usage:
  basho server [flags]            Build the index and start the HTTP server
  basho build [flags]             Build the index from the scene catalogue
  basho search [flags] <image>    Find the scene an image shows
  basho video [flags] <file>      List the distinct locations seen in a video
  basho status [flags]            Show index and store status
  basho version                   Show version
  basho help                      Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/basho/config.yaml, or ./config.yaml)
  --debug            Enable debug logging
  --output string    Output format: text or json (default: text)

Server Flags:
  --watch            Rebuild the index when images or the metadata file change

Search Flags:
  --server string    Server URL. Empty (default) builds the index locally first.
  --verify           Require geometric verification of the matched scene

Video Flags:
  --server string    Server URL. Empty (default) builds the index locally first.
  --smooth           Smooth coordinates with a running median
  --window int       Median window for --smooth (default from config: 5)

Status Flags:
  --server string    Server URL (default: http://localhost:8000). Use --server "" to build locally.

Examples:
  basho server --watch
  basho build --output json
  basho search --verify query.jpg
  basho video --smooth drive.mp4
  basho video --server http://localhost:8000 drive.mp4
  basho status --output json`)
}
