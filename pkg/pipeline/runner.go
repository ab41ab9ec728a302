package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/gerbershot/pkg/archive"
	"github.com/matzehuels/gerbershot/pkg/cache"
	"github.com/matzehuels/gerbershot/pkg/errors"
	"github.com/matzehuels/gerbershot/pkg/layers"
	"github.com/matzehuels/gerbershot/pkg/observability"
	"github.com/matzehuels/gerbershot/pkg/raster"
	"github.com/matzehuels/gerbershot/pkg/stackup"
	"github.com/matzehuels/gerbershot/pkg/workspace"
)

// Runner executes conversions against one workspace.
// Both CLI and server use it so that caching, cleanup and error mapping
// behave the same everywhere.
//
// Multiple goroutines can safely call Execute concurrently; each call gets its
// own scratch directory. Two conversions in flight may not target the same
// artifact path: the later one fails with INVALID_INPUT.
type Runner struct {
	Workspace  *workspace.Workspace
	Composer   stackup.Composer
	Rasterizer raster.Rasterizer
	Spec       layers.Spec
	Limits     archive.Limits
	Cache      cache.Cache
	Keyer      cache.Keyer
	CacheTTL   time.Duration
	Hooks      observability.PipelineHooks
	Logger     *log.Logger
}

// NewRunner validates opts, prepares the workspace directories and fills in
// defaults for every optional field.
func NewRunner(opts Options) (*Runner, error) {
	if opts.Composer == nil {
		return nil, errors.New(errors.ErrCodeInvalidConfig, "a composer is required")
	}
	if opts.Rasterizer == nil {
		return nil, errors.New(errors.ErrCodeInvalidConfig, "a rasterizer is required")
	}
	spec := opts.Spec
	if spec == nil {
		spec = layers.DefaultSpec
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	ws, err := workspace.Ensure(opts.ScratchRoot, opts.OutputRoot)
	if err != nil {
		return nil, err
	}

	c := opts.Cache
	if c == nil {
		c = cache.NewNullCache()
	}
	keyer := opts.Keyer
	if keyer == nil {
		keyer = cache.NewDefaultKeyer()
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = cache.TTLArtifact
	}
	hooks := opts.Hooks
	if hooks == nil {
		hooks = observability.Pipeline()
	}
	logger := opts.Logger
	if logger == nil {
		logger = discardLogger()
	}

	return &Runner{
		Workspace:  ws,
		Composer:   opts.Composer,
		Rasterizer: opts.Rasterizer,
		Spec:       spec,
		Limits:     opts.Limits.WithDefaults(),
		Cache:      c,
		Keyer:      keyer,
		CacheTTL:   ttl,
		Hooks:      hooks,
		Logger:     logger,
	}, nil
}

// Convert runs a conversion of archivePath with cfg and default naming.
func (r *Runner) Convert(ctx context.Context, archivePath string, cfg raster.Config) (*Outcome, error) {
	return r.Execute(ctx, Request{Archive: archivePath, Config: cfg})
}

// Execute runs the complete extract → resolve → compose → rasterize pipeline.
//
// The scratch directory acquired for the request is removed before Execute
// returns, whatever the outcome. A removal failure is reported as a CLEANUP
// warning on the Outcome and never changes the returned error.
func (r *Runner) Execute(ctx context.Context, req Request) (out *Outcome, err error) {
	if err := req.Config.Validate(); err != nil {
		return nil, err
	}
	if req.Archive == "" {
		return nil, errors.New(errors.ErrCodeInvalidInput, "no archive given")
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeCanceled, err, "conversion not started")
	}

	// The roots may have been removed since NewRunner, e.g. by a tmp cleaner.
	if err := r.Workspace.Ensure(); err != nil {
		return nil, err
	}
	scratch, err := r.Workspace.Acquire(req.ID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	out = &Outcome{ID: scratch.ID, Archive: req.Archive}
	r.Hooks.OnConvertStart(ctx, out.ID, req.Archive)
	logger := r.Logger.With("id", out.ID)

	defer func() {
		rerr := scratch.Release()
		if rerr != nil {
			w := errors.CleanupWarning(scratch.Dir, rerr)
			out.Warnings = append(out.Warnings, w)
			logger.Warn("scratch cleanup failed", "dir", scratch.Dir, "err", rerr)
		}
		r.Hooks.OnCleanup(ctx, out.ID, rerr)
		out.Stats.TotalTime = time.Since(start)
		r.Hooks.OnConvertComplete(ctx, out.ID, out.Stats.TotalTime, err)
	}()

	name := req.Name
	if name == "" {
		name = ArtifactName(req.Archive)
	} else if filepath.Ext(name) != ArtifactExt {
		name += ArtifactExt
	}
	dst, err := r.artifactPath(req, out.ID, name)
	if err != nil {
		return out, err
	}
	out.Artifact = Artifact{Name: name, Path: dst}
	unclaim, err := claimArtifact(dst)
	if err != nil {
		return out, err
	}
	defer unclaim()

	key := r.artifactKey(req)
	if key != "" && r.restore(ctx, key, dst) {
		out.CacheHit = true
		if err := r.stat(out); err != nil {
			return out, err
		}
		logger.Info("served from cache", "artifact", dst)
		return out, nil
	}

	// Stage 1: Extract
	var res archive.Result
	err = r.stage(ctx, out, observability.StageExtract, func() error {
		var err error
		res, err = archive.Extract(ctx, req.Archive, scratch.Dir, r.Limits)
		return err
	})
	if err != nil {
		return out, err
	}
	out.FileCount = res.FileCount
	logger.Info("extracted archive", "files", res.FileCount, "duration", out.Stats.ExtractTime)

	// Stage 2: Resolve
	var ls []layers.Layer
	err = r.stage(ctx, out, observability.StageResolve, func() error {
		var err error
		ls, err = layers.Resolve(res.Dir, r.Spec)
		return err
	})
	if err != nil {
		if missing := layers.Missing(res.Dir, r.Spec); len(missing) > 0 {
			logger.Debug("archive lacks layers", "missing", missing)
		}
		return out, err
	}
	// Runs before the scratch release, so no stream is open during removal.
	defer layers.CloseAll(ls)
	logger.Debug("resolved layers", "count", len(ls), "duration", out.Stats.ResolveTime)

	// Stage 3: Compose
	var board *stackup.Stackup
	err = r.stage(ctx, out, observability.StageCompose, func() error {
		var err error
		board, err = r.Composer.Compose(ctx, ls)
		if err != nil {
			return errors.Wrap(errors.ErrCodeComposition, err, "compose layers")
		}
		if board == nil || len(board.Top) == 0 {
			return errors.New(errors.ErrCodeComposition, "composer produced no image")
		}
		return nil
	})
	if err != nil {
		return out, err
	}
	logger.Info("composed stackup", "bytes", len(board.Top), "duration", out.Stats.ComposeTime)

	// Stage 4: Rasterize
	err = r.stage(ctx, out, observability.StageRasterize, func() error {
		if err := r.Rasterizer.Rasterize(ctx, board.Top, req.Config, dst); err != nil {
			return errors.Wrap(errors.ErrCodeRender, err, "rasterize %s", name)
		}
		return r.stat(out)
	})
	if err != nil {
		return out, err
	}
	logger.Info("rendered image",
		"artifact", dst,
		"bytes", out.Artifact.Size,
		"duration", out.Stats.RasterizeTime)

	if key != "" {
		r.store(ctx, key, dst)
	}
	return out, nil
}

// stage runs fn as one named stage: it refuses to start once ctx is done,
// times fn and reports the stage to the hooks.
func (r *Runner) stage(ctx context.Context, out *Outcome, stage observability.Stage, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(errors.ErrCodeCanceled, err, "canceled before %s", stage)
	}
	r.Hooks.OnStageStart(ctx, out.ID, stage)
	start := time.Now()
	err := fn()
	d := time.Since(start)
	out.Stats.record(stage, d)
	r.Hooks.OnStageComplete(ctx, out.ID, stage, d, err)
	return err
}

// artifactPath returns where the artifact is written, creating the
// per-conversion output directory for isolated requests.
func (r *Runner) artifactPath(req Request, id, name string) (string, error) {
	if err := errors.ValidatePath(name); err != nil || filepath.Base(name) != name {
		return "", errors.New(errors.ErrCodeInvalidInput, "invalid artifact name %q", name)
	}
	if !req.Isolated {
		return r.Workspace.ArtifactPath(name), nil
	}
	dir := r.Workspace.ArtifactPath(id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.Wrap(errors.ErrCodeStorage, err, "create output directory")
	}
	return filepath.Join(dir, name), nil
}

// stat fills in the artifact size.
func (r *Runner) stat(out *Outcome) error {
	info, err := os.Stat(out.Artifact.Path)
	if err != nil {
		return errors.Wrap(errors.ErrCodeRender, err, "rasterizer wrote no artifact")
	}
	out.Artifact.Size = info.Size()
	return nil
}

// =============================================================================
// Caching
// =============================================================================

// artifactKey returns the cache key for req, or "" when caching is disabled
// or the archive cannot be hashed. Hash failures surface later during
// extraction with a proper error code.
func (r *Runner) artifactKey(req Request) string {
	if cache.IsNull(r.Cache) {
		return ""
	}
	sum, err := cache.HashFile(req.Archive)
	if err != nil {
		return ""
	}
	pairs := make([]string, len(r.Spec))
	for i, e := range r.Spec {
		pairs[i] = fmt.Sprintf("%s=%s", e.Role, e.Path)
	}
	return r.Keyer.ArtifactKey(sum, cache.ArtifactKeyOpts{
		ResizeWidth:      req.Config.ResizeWidth,
		Density:          req.Config.Density,
		CompressionLevel: req.Config.CompressionLevel,
		Layers:           pairs,
	})
}

// restore writes a cached artifact to dst. Cache errors count as misses.
func (r *Runner) restore(ctx context.Context, key, dst string) bool {
	data, hit, err := r.Cache.Get(ctx, key)
	if err != nil {
		r.Logger.Warn("cache read failed", "err", err)
	}
	if err != nil || !hit || len(data) == 0 {
		observability.Cache().OnCacheMiss(ctx, "artifact")
		return false
	}
	if err := raster.WriteAtomic(dst, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	}); err != nil {
		r.Logger.Warn("restore cached artifact failed", "err", err)
		return false
	}
	observability.Cache().OnCacheHit(ctx, "artifact")
	return true
}

// store saves the rendered artifact. Failures are logged and otherwise ignored.
func (r *Runner) store(ctx context.Context, key, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		r.Logger.Warn("cache write skipped", "err", err)
		return
	}
	if err := r.Cache.Set(ctx, key, data, r.CacheTTL); err != nil {
		r.Logger.Warn("cache write failed", "err", err)
		return
	}
	observability.Cache().OnCacheSet(ctx, "artifact", len(data))
}

// Close releases the cache backend.
func (r *Runner) Close() error {
	return r.Cache.Close()
}
