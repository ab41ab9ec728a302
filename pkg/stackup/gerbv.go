package stackup

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/matzehuels/gerbershot/pkg/layers"
)

// DefaultGerbvBinary is the gerbv executable looked up on PATH.
const DefaultGerbvBinary = "gerbv"

// DefaultColors gives each layer role the colour of a green FR4 board.
var DefaultColors = map[string]string{
	layers.RoleProfile:        "#000000ff",
	layers.RoleCopperTop:      "#b87333ff",
	layers.RoleSoldermaskTop:  "#1c5e2a99",
	layers.RoleSolderpasteTop: "#c0c0c0ff",
	layers.RoleSilkscreenTop:  "#ffffffff",
	layers.RoleDrill:          "#202020ff",
}

// gerbvOrder lists roles from topmost to bottommost; gerbv paints the first
// file given on top. Roles not listed keep their spec order after these.
var gerbvOrder = []string{
	layers.RoleDrill,
	layers.RoleSilkscreenTop,
	layers.RoleSolderpasteTop,
	layers.RoleSoldermaskTop,
	layers.RoleCopperTop,
	layers.RoleProfile,
}

// Gerbv composes the top side with the gerbv command-line tool.
// Requires gerbv: brew install gerbv (macOS), apt install gerbv (Linux).
type Gerbv struct {
	// Binary is the gerbv executable; DefaultGerbvBinary when empty.
	Binary string
	// Colors maps roles to #RRGGBBAA foreground colours; DefaultColors when nil.
	Colors map[string]string
	// Background is the SVG background colour, "#ffffff" when empty.
	Background string
	// TempDir is where layer files are spooled. When empty they are spooled
	// next to the first extracted layer, so they live and die with the
	// conversion's scratch directory.
	TempDir string
}

var _ Composer = (*Gerbv)(nil)

// spoolDir returns the parent for the per-call work directory. It falls back
// to os.TempDir only when the layers do not come from an existing directory.
func (g *Gerbv) spoolDir(ls []layers.Layer) string {
	if g.TempDir != "" {
		return g.TempDir
	}
	if dir := filepath.Dir(ls[0].Path); ls[0].Path != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
	}
	return ""
}

// Compose spools every layer stream to disk and renders them into one SVG.
func (g *Gerbv) Compose(ctx context.Context, ls []layers.Layer) (*Stackup, error) {
	if len(ls) == 0 {
		return nil, fmt.Errorf("no layers to compose")
	}
	bin := g.Binary
	if bin == "" {
		bin = DefaultGerbvBinary
	}
	if _, err := exec.LookPath(bin); err != nil {
		return nil, fmt.Errorf("board composition requires gerbv. Install with:\n  macOS:  brew install gerbv\n  Linux:  apt install gerbv")
	}

	work, err := os.MkdirTemp(g.spoolDir(ls), "gerbershot-stackup-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(work)

	files := make(map[string]string, len(ls))
	for i, l := range ls {
		name := fmt.Sprintf("%02d-%s%s", i, l.Role, filepath.Ext(l.Path))
		path := filepath.Join(work, name)
		if err := spool(l.Reader, path); err != nil {
			return nil, fmt.Errorf("spool %s layer: %w", l.Role, err)
		}
		files[l.Role] = path
	}

	out := filepath.Join(work, "top.svg")
	args := g.args(ls, files, out)

	cmd := exec.CommandContext(ctx, bin, args...)
	var errBuf bytes.Buffer
	cmd.Stdout = io.Discard
	cmd.Stderr = &errBuf
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("gerbv: %v: %s", err, strings.TrimSpace(errBuf.String()))
	}

	svg, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("gerbv produced no output: %w", err)
	}
	if len(bytes.TrimSpace(svg)) == 0 {
		return nil, fmt.Errorf("gerbv produced an empty image: %s", strings.TrimSpace(errBuf.String()))
	}
	return &Stackup{Top: svg}, nil
}

// args builds the gerbv command line. Every file is preceded by its own
// --foreground so colours bind to the right layer.
func (g *Gerbv) args(ls []layers.Layer, files map[string]string, out string) []string {
	bg := g.Background
	if bg == "" {
		bg = "#ffffff"
	}
	colors := g.Colors
	if colors == nil {
		colors = DefaultColors
	}

	args := []string{"--export=svg", "--output=" + out, "--background=" + bg}
	for _, role := range paintOrder(ls) {
		if c, ok := colors[role]; ok {
			args = append(args, "--foreground="+c)
		}
		args = append(args, files[role])
	}
	return args
}

// paintOrder returns the roles of ls topmost first.
func paintOrder(ls []layers.Layer) []string {
	present := make(map[string]bool, len(ls))
	for _, l := range ls {
		present[l.Role] = true
	}
	var roles []string
	listed := make(map[string]bool, len(gerbvOrder))
	for _, r := range gerbvOrder {
		listed[r] = true
		if present[r] {
			roles = append(roles, r)
		}
	}
	for _, l := range ls {
		if !listed[l.Role] {
			roles = append(roles, l.Role)
		}
	}
	return roles
}

func spool(r io.Reader, path string) error {
	if r == nil {
		return fmt.Errorf("layer has no stream")
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
