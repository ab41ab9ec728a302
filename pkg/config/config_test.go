package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/matzehuels/gerbershot/pkg/errors"
	"github.com/matzehuels/gerbershot/pkg/layers"
)

func envLookup(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestDefault(t *testing.T) {
	c := Default()
	if err := c.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	if c.ResizeWidth != 600 || c.Density != 1000 || c.CompressionLevel != 1 {
		t.Errorf("render defaults = %+v", c.Render())
	}
	if c.Listen != ":3000" {
		t.Errorf("Listen = %q", c.Listen)
	}
	if len(c.Spec()) != layers.RequiredEntries {
		t.Errorf("Spec() has %d entries", len(c.Spec()))
	}
}

func TestApplyEnv(t *testing.T) {
	c := Default()
	err := c.applyEnv(envLookup(map[string]string{
		"TEMP_DIR":          "/srv/tmp",
		"IMG_DIR":           "/srv/img",
		"RESIZE_WIDTH":      "1200",
		"DENSITY":           "600",
		"COMPRESSION_LEVEL": "9",
		"PORT":              "8080",
		"REDIS_URL":         "redis://localhost:6379/0",
		"CACHE_PREFIX":      "staging:",
		"MONGO_URI":         "mongodb://localhost:27017",
		"BUCKET":            "boards",
		"S3_URL":            "https://s3.example.com",
		"ID":                "key",
		"SECRET":            "shh",
	}))
	if err != nil {
		t.Fatalf("applyEnv: %v", err)
	}

	checks := []struct {
		name      string
		got, want any
	}{
		{"ScratchRoot", c.ScratchRoot, "/srv/tmp"},
		{"OutputRoot", c.OutputRoot, "/srv/img"},
		{"ResizeWidth", c.ResizeWidth, 1200},
		{"Density", c.Density, 600},
		{"CompressionLevel", c.CompressionLevel, 9},
		{"Listen", c.Listen, ":8080"},
		{"Cache.Backend", c.Cache.Backend, CacheRedis},
		{"Cache.KeyPrefix", c.Cache.KeyPrefix, "staging:"},
		{"Store.MongoURI", c.Store.MongoURI, "mongodb://localhost:27017"},
		{"Publish.Backend", c.Publish.Backend, PublishS3},
		{"Publish.Bucket", c.Publish.Bucket, "boards"},
		{"Publish.Endpoint", c.Publish.Endpoint, "https://s3.example.com"},
		{"Publish.AccessKeyID", c.Publish.AccessKeyID, "key"},
		{"Publish.SecretAccessKey", c.Publish.SecretAccessKey, "shh"},
	}
	for _, tt := range checks {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
	if err := c.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestApplyEnvBadNumber(t *testing.T) {
	c := Default()
	err := c.applyEnv(envLookup(map[string]string{"DENSITY": "lots"}))
	if !errors.Is(err, errors.ErrCodeInvalidConfig) {
		t.Errorf("applyEnv error = %v, want INVALID_CONFIG", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gerbershot.toml")
	data := `
scratch_dir = "/var/tmp/gs"
resize_width = 800

[limits]
max_files = 32

[cache]
backend = "file"
dir = "/var/cache/gs"
ttl = "24h"

[[layers]]
role = "drill"
path = "drill.xln"
[[layers]]
role = "copper_top"
path = "top.gtl"
[[layers]]
role = "silkscreen_top"
path = "top.gto"
[[layers]]
role = "soldermask_top"
path = "top.gts"
[[layers]]
role = "solderpaste_top"
path = "top.gtp"
[[layers]]
role = "profile"
path = "outline.gko"
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.ScratchRoot != "/var/tmp/gs" && os.Getenv("TEMP_DIR") == "" {
		t.Errorf("ScratchRoot = %q", c.ScratchRoot)
	}
	if c.ResizeWidth != 800 && os.Getenv("RESIZE_WIDTH") == "" {
		t.Errorf("ResizeWidth = %d", c.ResizeWidth)
	}
	if c.Density != 1000 && os.Getenv("DENSITY") == "" {
		t.Errorf("Density should keep its default, got %d", c.Density)
	}
	if c.Limits.MaxFiles != 32 {
		t.Errorf("Limits.MaxFiles = %d", c.Limits.MaxFiles)
	}
	if c.Cache.TTL != 24*time.Hour {
		t.Errorf("Cache.TTL = %v", c.Cache.TTL)
	}
	if got := c.Spec()[1].Path; got != "top.gtl" {
		t.Errorf("Spec()[1].Path = %q", got)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if !errors.Is(err, errors.ErrCodeInvalidConfig) {
		t.Errorf("Load error = %v, want INVALID_CONFIG", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no scratch", func(c *Config) { c.ScratchRoot = "" }},
		{"zero width", func(c *Config) { c.ResizeWidth = 0 }},
		{"compression 10", func(c *Config) { c.CompressionLevel = 10 }},
		{"short spec", func(c *Config) { c.Layers = layers.DefaultSpec[:2] }},
		{"unknown cache", func(c *Config) { c.Cache.Backend = "memcached" }},
		{"redis without url", func(c *Config) { c.Cache.Backend = CacheRedis }},
		{"s3 without bucket", func(c *Config) { c.Publish.Backend = PublishS3 }},
		{"unknown publisher", func(c *Config) { c.Publish.Backend = "ftp" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(&c)
			if err := c.Validate(); !errors.Is(err, errors.ErrCodeInvalidConfig) {
				t.Errorf("Validate() = %v, want INVALID_CONFIG", err)
			}
		})
	}
}

func TestEncodeMasksSecret(t *testing.T) {
	c := Default()
	c.Publish.SecretAccessKey = "hunter2"
	out, err := c.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if strings.Contains(out, "hunter2") {
		t.Error("Encode leaked the secret")
	}
	if !strings.Contains(out, "resize_width = 600") {
		t.Errorf("Encode output missing resize_width:\n%s", out)
	}
}
