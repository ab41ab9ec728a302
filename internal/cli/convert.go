package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/matzehuels/gerbershot/pkg/config"
	"github.com/matzehuels/gerbershot/pkg/errors"
	"github.com/matzehuels/gerbershot/pkg/observability"
	"github.com/matzehuels/gerbershot/pkg/pipeline"
	"github.com/matzehuels/gerbershot/pkg/store"
)

// convertOpts holds the flag values of the convert command.
type convertOpts struct {
	outputDir   string
	scratchDir  string
	width       int
	density     int
	compression int
	jobs        int
	noCache     bool
	noHistory   bool
	progress    bool
}

// convertResult pairs an archive with what its conversion returned.
type convertResult struct {
	archive string
	id      string
	out     *pipeline.Outcome
	err     error
}

// convertCommand creates the convert command.
func (c *CLI) convertCommand() *cobra.Command {
	var opts convertOpts

	cmd := &cobra.Command{
		Use:   "convert <archive.zip>...",
		Short: "Convert zipped gerber exports to PNG images",
		Long: `Convert one or more zipped gerber exports to PNG images of the top of the board.

Each archive is extracted into its own scratch directory, the six configured
layers are composed with gerbv, and the top view is rasterized with rsvg-convert.
The image is written to <output-dir>/<archive name>.png. Archives sharing a
name get a numbered suffix (board.png, board-2.png, ...).`,
		Example: `  gerbershot convert board.zip
  gerbershot convert --width 1200 --output-dir out/ boards/*.zip
  gerbershot convert --jobs 4 --progress boards/*.zip`,
		Args:              cobra.MinimumNArgs(1),
		ValidArgsFunction: completeArchives,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			applyConvertFlags(cmd, &cfg, opts)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return c.runConvert(cmd.Context(), cfg, args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.outputDir, "output-dir", "o", "", "directory for PNG images (default from config)")
	cmd.Flags().StringVar(&opts.scratchDir, "scratch-dir", "", "directory for per-conversion scratch space")
	cmd.Flags().IntVarP(&opts.width, "width", "w", 0, "output width in pixels")
	cmd.Flags().IntVar(&opts.density, "density", 0, "rasterization density in DPI")
	cmd.Flags().IntVar(&opts.compression, "compression", 0, "PNG compression level (0-9)")
	cmd.Flags().IntVarP(&opts.jobs, "jobs", "j", 2, "number of archives converted in parallel")
	cmd.Flags().BoolVar(&opts.noCache, "no-cache", false, "disable the artifact cache")
	cmd.Flags().BoolVar(&opts.noHistory, "no-history", false, "do not record conversions in the history")
	cmd.Flags().BoolVar(&opts.progress, "progress", false, "show a live progress view")

	return cmd
}

// applyConvertFlags overrides cfg with every flag set on the command line.
func applyConvertFlags(cmd *cobra.Command, cfg *config.Config, opts convertOpts) {
	flags := cmd.Flags()
	if flags.Changed("output-dir") {
		cfg.OutputRoot = opts.outputDir
	}
	if flags.Changed("scratch-dir") {
		cfg.ScratchRoot = opts.scratchDir
	}
	if flags.Changed("width") {
		cfg.ResizeWidth = opts.width
	}
	if flags.Changed("density") {
		cfg.Density = opts.density
	}
	if flags.Changed("compression") {
		cfg.CompressionLevel = opts.compression
	}
}

// runConvert converts every archive, at most opts.jobs at a time. A failed
// archive does not stop the others.
func (c *CLI) runConvert(ctx context.Context, cfg config.Config, archives []string, opts convertOpts) error {
	var (
		prog  *tea.Program
		hooks observability.PipelineHooks
	)
	if opts.progress {
		prog = tea.NewProgram(NewProgressModel(len(archives)),
			tea.WithContext(ctx), tea.WithOutput(os.Stderr), tea.WithInput(nil))
		hooks = teaHooks{send: prog.Send}
		// Log lines would tear the progress view.
		level := c.Logger.GetLevel()
		c.Logger.SetLevel(log.ErrorLevel)
		defer c.Logger.SetLevel(level)
	}

	var spinner *Spinner
	if prog == nil && len(archives) == 1 {
		name := filepath.Base(archives[0])
		spinner = newSpinner(ctx, os.Stderr, fmt.Sprintf("Converting %s...", name))
		hooks = spinnerHooks{spinner: spinner, name: name}
	}

	runner, err := c.newRunner(ctx, cfg, opts.noCache, hooks)
	if err != nil {
		return err
	}
	defer runner.Close()

	var st store.Store
	if !opts.noHistory {
		if st, err = newStore(ctx, cfg); err != nil {
			c.Logger.Warn("history disabled", "err", err)
			st = nil
		} else {
			defer st.Close()
		}
	}

	if spinner != nil {
		spinner.Start()
	}
	prg := newProgress(c.Logger)
	results := make([]convertResult, len(archives))
	names := artifactNames(archives)
	g := new(errgroup.Group)
	g.SetLimit(max(opts.jobs, 1))
	for i, a := range archives {
		i, a := i, a
		g.Go(func() error {
			out, err := runner.Execute(ctx, pipeline.Request{Archive: a, Name: names[i], Config: cfg.Render()})
			results[i] = convertResult{archive: a, id: uuid.NewString(), out: out, err: err}
			return nil
		})
	}

	if prog != nil {
		go func() {
			g.Wait()
			prog.Send(allDoneMsg{})
		}()
		if _, err := prog.Run(); err != nil {
			c.Logger.Warn("progress view failed", "err", err)
		}
	}
	g.Wait()
	if spinner != nil {
		spinner.Stop()
	}

	failed := 0
	for _, res := range results {
		if st != nil {
			if err := st.Put(ctx, store.FromOutcome(res.id, res.out, res.err, "")); err != nil {
				c.Logger.Warn("record conversion", "archive", res.archive, "err", err)
			}
		}
		if res.err != nil {
			failed++
		}
		printResult(res)
	}
	if len(archives) > 1 {
		prg.done(fmt.Sprintf("Converted %d of %d archives", len(archives)-failed, len(archives)))
	}

	if failed == 1 && len(archives) == 1 {
		return results[0].err
	}
	if failed > 0 {
		return errors.New(errors.ErrCodeInternal, "%d of %d conversions failed", failed, len(archives))
	}
	return nil
}

// artifactNames picks an output name per archive. Archives that share a base
// name get a numeric suffix so they do not overwrite each other.
func artifactNames(archives []string) []string {
	names := make([]string, len(archives))
	taken := make(map[string]bool, len(archives))
	for i, a := range archives {
		name := pipeline.ArtifactName(a)
		stem := strings.TrimSuffix(name, pipeline.ArtifactExt)
		for n := 2; taken[name]; n++ {
			name = fmt.Sprintf("%s-%d%s", stem, n, pipeline.ArtifactExt)
		}
		taken[name] = true
		names[i] = name
	}
	return names
}

// printResult prints the outcome of one conversion.
func printResult(res convertResult) {
	name := filepath.Base(res.archive)
	if res.err != nil {
		code := errors.GetCode(res.err)
		printError("%s: %s", name, errors.Describe(code))
		printDetail("%s", errors.UserMessage(res.err))
	} else {
		printSuccess("Converted %s", name)
		printFile(res.out.Artifact.Path)
		printStats(res.out.FileCount, res.out.Artifact.Size, res.out.Stats.TotalTime, res.out.CacheHit)
	}
	if res.out != nil {
		for _, w := range res.out.Warnings {
			printWarning("%s", w.String())
		}
	}
}
