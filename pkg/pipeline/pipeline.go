// Package pipeline converts an uploaded gerber archive into a board image.
//
// This package implements the complete extract → resolve → compose →
// rasterize pipeline used by both the CLI and the upload server, so the two
// entry points share one behaviour for errors and cleanup.
//
// # Architecture
//
// A conversion runs four stages strictly in order:
//
//  1. Extract: unpack the archive into a per-conversion scratch directory
//  2. Resolve: open the six layer files named by the layer spec
//  3. Compose: hand the layers to a stackup.Composer for a top-side SVG
//  4. Rasterize: hand the SVG to a raster.Rasterizer for the PNG artifact
//
// Each conversion gets its own scratch directory keyed by a generated ID. It
// is released exactly once on every exit path, including failures, panics and
// context cancellation. A failed release never replaces the primary result;
// it is attached to the Outcome as a warning.
//
// # Usage
//
//	runner, err := pipeline.NewRunner(pipeline.Options{
//	    ScratchRoot: "/var/tmp/gerbershot",
//	    OutputRoot:  "./img",
//	    Composer:    &stackup.Gerbv{},
//	    Rasterizer:  &raster.Rsvg{},
//	    Logger:      logger,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	out, err := runner.Convert(ctx, "board.zip", raster.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(out.Artifact.Path) // img/board.png
package pipeline

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/gerbershot/pkg/archive"
	"github.com/matzehuels/gerbershot/pkg/cache"
	"github.com/matzehuels/gerbershot/pkg/errors"
	"github.com/matzehuels/gerbershot/pkg/layers"
	"github.com/matzehuels/gerbershot/pkg/observability"
	"github.com/matzehuels/gerbershot/pkg/raster"
	"github.com/matzehuels/gerbershot/pkg/stackup"
)

// ArtifactExt is appended to the archive base name to name the artifact.
const ArtifactExt = ".png"

// =============================================================================
// Options - Runner Configuration
// =============================================================================

// Options configures a Runner. ScratchRoot, OutputRoot, Composer and
// Rasterizer are required.
type Options struct {
	ScratchRoot string
	OutputRoot  string

	Composer   stackup.Composer
	Rasterizer raster.Rasterizer

	// Spec defaults to layers.DefaultSpec.
	Spec layers.Spec
	// Limits bound archive extraction; zero fields use archive defaults.
	Limits archive.Limits

	// Cache defaults to a NullCache; Keyer to cache.DefaultKeyer.
	Cache cache.Cache
	Keyer cache.Keyer
	// CacheTTL defaults to cache.TTLArtifact.
	CacheTTL time.Duration

	// Hooks defaults to the globally registered observability.Pipeline().
	Hooks observability.PipelineHooks
	// Logger defaults to a logger that discards everything.
	Logger *log.Logger
}

// Request describes one conversion.
type Request struct {
	// Archive is the path of the uploaded zip file.
	Archive string
	// Name is the base name used for the artifact. Defaults to the archive's
	// file name with a trailing .zip removed.
	Name string
	// ID names the scratch directory. A UUID is generated when empty.
	ID string
	// Isolated writes the artifact to OutputRoot/<ID>/ instead of OutputRoot,
	// so concurrent conversions of same-named archives keep separate files.
	Isolated bool
	// Config controls rasterization.
	Config raster.Config
}

// =============================================================================
// Outcome - Conversion Result
// =============================================================================

// Artifact is the rendered image of one conversion. The pipeline never
// deletes it; relocating or publishing it is the caller's job.
type Artifact struct {
	Name string // File name, e.g. "board.png"
	Path string // Absolute or OutputRoot-relative path on disk
	Size int64
}

// Outcome describes a conversion. Convert returns a non-nil Outcome whenever a
// scratch directory was acquired, even alongside an error, so cleanup warnings
// are never lost.
type Outcome struct {
	ID        string
	Archive   string
	Artifact  Artifact
	FileCount int
	CacheHit  bool
	Warnings  []errors.Warning
	Stats     Stats
}

// Stats contains per-stage timings.
type Stats struct {
	ExtractTime   time.Duration
	ResolveTime   time.Duration
	ComposeTime   time.Duration
	RasterizeTime time.Duration
	TotalTime     time.Duration
}

// record stores the duration of stage.
func (s *Stats) record(stage observability.Stage, d time.Duration) {
	switch stage {
	case observability.StageExtract:
		s.ExtractTime = d
	case observability.StageResolve:
		s.ResolveTime = d
	case observability.StageCompose:
		s.ComposeTime = d
	case observability.StageRasterize:
		s.RasterizeTime = d
	}
}

// =============================================================================
// Helpers
// =============================================================================

// ArtifactName derives the artifact file name from an archive path:
// "uploads/board.zip" becomes "board.png".
func ArtifactName(archivePath string) string {
	base := filepath.Base(archivePath)
	if ext := filepath.Ext(base); strings.EqualFold(ext, ".zip") {
		base = strings.TrimSuffix(base, ext)
	}
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = "board"
	}
	return base + ArtifactExt
}

// discardLogger returns a logger that writes nowhere.
func discardLogger() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{})
}

// Convert runs a single conversion with a throwaway Runner. It is the
// functional form of Runner.Convert for callers that do not keep a Runner.
func Convert(ctx context.Context, archivePath string, cfg raster.Config, scratchRoot, outputRoot string, c stackup.Composer, r raster.Rasterizer) (*Outcome, error) {
	runner, err := NewRunner(Options{
		ScratchRoot: scratchRoot,
		OutputRoot:  outputRoot,
		Composer:    c,
		Rasterizer:  r,
	})
	if err != nil {
		return nil, err
	}
	return runner.Convert(ctx, archivePath, cfg)
}
