package raster

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"io"
	"os/exec"
	"strconv"
)

// DefaultRsvgBinary is the rsvg-convert executable looked up on PATH.
const DefaultRsvgBinary = "rsvg-convert"

// Rsvg rasterizes with rsvg-convert.
// Requires librsvg: brew install librsvg (macOS), apt install librsvg2-bin (Linux).
type Rsvg struct {
	// Binary is the rsvg-convert executable; DefaultRsvgBinary when empty.
	Binary string
}

var _ Rasterizer = (*Rsvg)(nil)

// Rasterize renders svg at cfg.Density, scales it to cfg.ResizeWidth and writes
// the PNG to dst.
func (r *Rsvg) Rasterize(ctx context.Context, svg []byte, cfg Config, dst string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	raw, err := r.convert(ctx, svg, cfg.Density)
	if err != nil {
		return err
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("decode rsvg-convert output: %w", err)
	}
	return WriteAtomic(dst, func(w io.Writer) error {
		return Encode(w, img, cfg)
	})
}

// convert shells out to rsvg-convert for the density-scaled render.
func (r *Rsvg) convert(ctx context.Context, svg []byte, density int) ([]byte, error) {
	bin := r.Binary
	if bin == "" {
		bin = DefaultRsvgBinary
	}
	if _, err := exec.LookPath(bin); err != nil {
		return nil, fmt.Errorf("png export requires librsvg. Install with:\n  macOS:  brew install librsvg\n  Linux:  apt install librsvg2-bin")
	}

	dpi := strconv.Itoa(density)
	cmd := exec.CommandContext(ctx, bin, "-f", "png", "--dpi-x", dpi, "--dpi-y", dpi)
	cmd.Stdin = bytes.NewReader(svg)

	var out, errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errBuf

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("rsvg-convert: %v: %s", err, errBuf.String())
	}
	return out.Bytes(), nil
}
