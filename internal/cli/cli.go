// Package cli implements the gerbershot command-line interface.
//
// The CLI converts zipped gerber exports to PNG images locally, runs the
// upload server, and manages the artifact cache. It is built using cobra and
// logs through charmbracelet/log.
//
// # Commands
//
//   - convert: Convert one or more archives to PNG
//   - serve: Run the upload server
//   - inspect: List an archive's entries and any missing layers
//   - history: Show recent conversions
//   - config: Print the effective configuration
//   - cache: Manage the artifact cache
//
// # Logging
//
// All commands support --verbose (-v) for debug-level logging.
package cli

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/gerbershot/pkg/cache"
	"github.com/matzehuels/gerbershot/pkg/config"
	"github.com/matzehuels/gerbershot/pkg/observability"
	"github.com/matzehuels/gerbershot/pkg/pipeline"
	"github.com/matzehuels/gerbershot/pkg/raster"
	"github.com/matzehuels/gerbershot/pkg/stackup"
	"github.com/matzehuels/gerbershot/pkg/store"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// appName is the application name used for directories and display.
	appName = "gerbershot"
)

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// =============================================================================
// CLI - Central CLI State
// =============================================================================

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger

	// Composer and Rasterizer replace gerbv and rsvg-convert when set.
	Composer   stackup.Composer
	Rasterizer raster.Rasterizer

	configPath string
}

// New creates a new CLI instance with a default logger.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{Logger: newLogger(w, level)}
}

// SetLogLevel updates the logger's level.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
}

// loadConfig reads the configuration selected by --config.
func (c *CLI) loadConfig() (config.Config, error) {
	return config.Load(c.configPath)
}

// =============================================================================
// Runner Factory
// =============================================================================

// newRunner creates a pipeline runner for cfg. hooks may be nil.
func (c *CLI) newRunner(ctx context.Context, cfg config.Config, noCache bool, hooks observability.PipelineHooks) (*pipeline.Runner, error) {
	ch, err := newCache(ctx, cfg, noCache)
	if err != nil {
		return nil, err
	}
	composer := c.Composer
	if composer == nil {
		composer = &stackup.Gerbv{Binary: cfg.Gerbv}
	}
	rasterizer := c.Rasterizer
	if rasterizer == nil {
		rasterizer = &raster.Rsvg{Binary: cfg.RsvgConvert}
	}
	var keyer cache.Keyer
	if cfg.Cache.KeyPrefix != "" {
		keyer = cache.NewScopedKeyer(cache.NewDefaultKeyer(), cfg.Cache.KeyPrefix)
	}
	runner, err := pipeline.NewRunner(pipeline.Options{
		ScratchRoot: cfg.ScratchRoot,
		OutputRoot:  cfg.OutputRoot,
		Composer:    composer,
		Rasterizer:  rasterizer,
		Spec:        cfg.Spec(),
		Limits:      cfg.Limits,
		Cache:       ch,
		Keyer:       keyer,
		CacheTTL:    cfg.Cache.TTL,
		Hooks:       hooks,
		Logger:      c.Logger,
	})
	if err != nil {
		ch.Close()
		return nil, err
	}
	return runner, nil
}

// newCache opens the configured cache backend. The file cache falls back to
// the XDG cache directory.
func newCache(ctx context.Context, cfg config.Config, noCache bool) (cache.Cache, error) {
	if noCache {
		return cache.NewNullCache(), nil
	}
	switch cfg.Cache.Backend {
	case config.CacheRedis:
		return cache.NewRedisCache(ctx, cfg.Cache.RedisURL)
	case config.CacheFile:
		dir := cfg.Cache.Dir
		if dir == "" {
			var err error
			if dir, err = cacheDir(); err != nil {
				return cache.NewNullCache(), nil
			}
		}
		return cache.NewFileCache(dir)
	default:
		return cache.NewNullCache(), nil
	}
}

// newStore opens the record store: Mongo when configured, otherwise the local
// file store.
func newStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	if cfg.Store.MongoURI != "" {
		return store.NewMongo(ctx, cfg.Store.MongoURI, cfg.Store.Database, cfg.Store.Collection)
	}
	dir, err := dataDir()
	if err != nil {
		return nil, err
	}
	return store.NewFileStore(filepath.Join(dir, "conversions"))
}

// =============================================================================
// Paths
// =============================================================================

// cacheDir returns the cache directory using XDG standard (~/.cache/gerbershot/).
func cacheDir() (string, error) {
	if cacheHome := os.Getenv("XDG_CACHE_HOME"); cacheHome != "" {
		return filepath.Join(cacheHome, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cache", appName), nil
}

// dataDir returns the data directory using XDG standard (~/.local/share/gerbershot/).
func dataDir() (string, error) {
	if dataHome := os.Getenv("XDG_DATA_HOME"); dataHome != "" {
		return filepath.Join(dataHome, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "share", appName), nil
}
