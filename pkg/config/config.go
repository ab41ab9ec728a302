// Package config loads gerbershot settings from defaults, an optional TOML
// file and the environment, in that order of precedence.
//
// The environment variable names match the ones the upload server has always
// been deployed with (TEMP_DIR, IMG_DIR, PORT, BUCKET, ...), so existing
// deployments keep working without a config file.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/matzehuels/gerbershot/pkg/archive"
	"github.com/matzehuels/gerbershot/pkg/cache"
	"github.com/matzehuels/gerbershot/pkg/errors"
	"github.com/matzehuels/gerbershot/pkg/layers"
	"github.com/matzehuels/gerbershot/pkg/raster"
)

// Cache backends.
const (
	CacheNone  = "none"
	CacheFile  = "file"
	CacheRedis = "redis"
)

// Publish backends.
const (
	PublishLocal = "local"
	PublishS3    = "s3"
)

// Config is the complete application configuration.
type Config struct {
	ScratchRoot string `toml:"scratch_dir"`
	OutputRoot  string `toml:"output_dir"`

	ResizeWidth      int `toml:"resize_width"`
	Density          int `toml:"density"`
	CompressionLevel int `toml:"compression_level"`

	Listen    string `toml:"listen"`
	PublicURL string `toml:"public_url"`

	// Gerbv and RsvgConvert override the external tool binaries.
	Gerbv       string `toml:"gerbv"`
	RsvgConvert string `toml:"rsvg_convert"`

	Limits archive.Limits `toml:"limits"`
	// Layers replaces the default layer spec when set.
	Layers layers.Spec `toml:"layers"`

	Cache   CacheConfig   `toml:"cache"`
	Store   StoreConfig   `toml:"store"`
	Publish PublishConfig `toml:"publish"`
}

// CacheConfig selects the artifact cache backend.
type CacheConfig struct {
	Backend  string        `toml:"backend"`
	Dir      string        `toml:"dir"`
	RedisURL string        `toml:"redis_url"`
	TTL      time.Duration `toml:"ttl"`
	// KeyPrefix separates deployments that share one Redis.
	KeyPrefix string `toml:"key_prefix"`
}

// StoreConfig selects where conversion records are kept. An empty MongoURI
// keeps them in memory.
type StoreConfig struct {
	MongoURI   string `toml:"mongo_uri"`
	Database   string `toml:"database"`
	Collection string `toml:"collection"`
}

// PublishConfig selects where artifacts are published after conversion.
type PublishConfig struct {
	Backend         string `toml:"backend"`
	Bucket          string `toml:"bucket"`
	Endpoint        string `toml:"endpoint"`
	Region          string `toml:"region"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
}

// Default returns the built-in configuration.
func Default() Config {
	r := raster.DefaultConfig()
	return Config{
		ScratchRoot:      filepath.Join(os.TempDir(), "gerbershot"),
		OutputRoot:       "img",
		ResizeWidth:      r.ResizeWidth,
		Density:          r.Density,
		CompressionLevel: r.CompressionLevel,
		Listen:           ":3000",
		Limits:           archive.Limits{}.WithDefaults(),
		Cache: CacheConfig{
			Backend: CacheNone,
			TTL:     cache.TTLArtifact,
		},
		Store: StoreConfig{
			Database:   "gerbershot",
			Collection: "conversions",
		},
		Publish: PublishConfig{
			Backend: PublishLocal,
			Region:  "us-east-1",
		},
	}
}

// Load builds the configuration from defaults, the TOML file at path (skipped
// when path is empty) and the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, errors.Wrap(errors.ErrCodeInvalidConfig, err, "read config file %s", path)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// applyEnv overrides fields from environment variables looked up with lookup.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return errors.Wrap(errors.ErrCodeInvalidConfig, err, "%s must be an integer", key)
		}
		*dst = n
		return nil
	}

	str("TEMP_DIR", &c.ScratchRoot)
	str("IMG_DIR", &c.OutputRoot)
	str("PUBLIC_URL", &c.PublicURL)
	str("GERBV", &c.Gerbv)
	str("RSVG_CONVERT", &c.RsvgConvert)
	for key, dst := range map[string]*int{
		"RESIZE_WIDTH":      &c.ResizeWidth,
		"DENSITY":           &c.Density,
		"COMPRESSION_LEVEL": &c.CompressionLevel,
	} {
		if err := num(key, dst); err != nil {
			return err
		}
	}
	if v, ok := lookup("PORT"); ok && v != "" {
		c.Listen = ":" + strings.TrimPrefix(v, ":")
	}

	if v, ok := lookup("REDIS_URL"); ok && v != "" {
		c.Cache.RedisURL = v
		c.Cache.Backend = CacheRedis
	}
	str("CACHE_PREFIX", &c.Cache.KeyPrefix)
	str("MONGO_URI", &c.Store.MongoURI)

	if v, ok := lookup("BUCKET"); ok && v != "" {
		c.Publish.Bucket = v
		c.Publish.Backend = PublishS3
	}
	str("S3_URL", &c.Publish.Endpoint)
	str("S3_REGION", &c.Publish.Region)
	str("ID", &c.Publish.AccessKeyID)
	str("SECRET", &c.Publish.SecretAccessKey)
	return nil
}

// Render returns the rasterization settings.
func (c Config) Render() raster.Config {
	return raster.Config{
		ResizeWidth:      c.ResizeWidth,
		Density:          c.Density,
		CompressionLevel: c.CompressionLevel,
	}
}

// Spec returns the configured layer spec, or the default one.
func (c Config) Spec() layers.Spec {
	if len(c.Layers) == 0 {
		return layers.DefaultSpec
	}
	return c.Layers
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	if c.ScratchRoot == "" || c.OutputRoot == "" {
		return errors.New(errors.ErrCodeInvalidConfig, "scratch and output directories must be set")
	}
	if err := c.Render().Validate(); err != nil {
		return err
	}
	if err := c.Spec().Validate(); err != nil {
		return err
	}
	switch c.Cache.Backend {
	case CacheNone, CacheFile, "":
	case CacheRedis:
		if c.Cache.RedisURL == "" {
			return errors.New(errors.ErrCodeInvalidConfig, "redis cache requires a redis_url")
		}
	default:
		return errors.New(errors.ErrCodeInvalidConfig, "unknown cache backend %q", c.Cache.Backend)
	}
	switch c.Publish.Backend {
	case PublishLocal, "":
	case PublishS3:
		if c.Publish.Bucket == "" {
			return errors.New(errors.ErrCodeInvalidConfig, "s3 publishing requires a bucket")
		}
	default:
		return errors.New(errors.ErrCodeInvalidConfig, "unknown publish backend %q", c.Publish.Backend)
	}
	return nil
}

// Encode writes cfg as TOML. Secrets are masked.
func (c Config) Encode() (string, error) {
	masked := c
	if masked.Publish.SecretAccessKey != "" {
		masked.Publish.SecretAccessKey = "********"
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(masked); err != nil {
		return "", fmt.Errorf("encode config: %w", err)
	}
	return buf.String(), nil
}
