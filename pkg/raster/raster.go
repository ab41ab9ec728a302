// Package raster turns the composed board SVG into a PNG file.
//
// The Rasterizer interface is the seam between the conversion pipeline and the
// vector renderer. Rsvg renders with rsvg-convert at the configured density,
// then scales to the configured width and encodes at the configured
// compression level. Output is always written atomically: a reader of the
// destination path sees either no file or a complete PNG.
package raster

import (
	"context"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"

	"github.com/matzehuels/gerbershot/pkg/errors"
)

// Defaults, matching the values the service has always rendered with.
const (
	DefaultResizeWidth      = 600
	DefaultDensity          = 1000
	DefaultCompressionLevel = 1

	// MaxCompressionLevel is the highest zlib level accepted.
	MaxCompressionLevel = 9
)

// Config controls rasterization. It is a value type and is safe to share
// between concurrent conversions.
type Config struct {
	ResizeWidth      int `toml:"resize_width" json:"resize_width"`
	Density          int `toml:"density" json:"density"`
	CompressionLevel int `toml:"compression_level" json:"compression_level"`
}

// DefaultConfig returns the default render configuration.
func DefaultConfig() Config {
	return Config{
		ResizeWidth:      DefaultResizeWidth,
		Density:          DefaultDensity,
		CompressionLevel: DefaultCompressionLevel,
	}
}

// Validate checks that every field is in range.
func (c Config) Validate() error {
	if c.ResizeWidth <= 0 {
		return errors.New(errors.ErrCodeInvalidConfig, "resize width must be positive, got %d", c.ResizeWidth)
	}
	if c.Density <= 0 {
		return errors.New(errors.ErrCodeInvalidConfig, "density must be positive, got %d", c.Density)
	}
	if c.CompressionLevel < 0 || c.CompressionLevel > MaxCompressionLevel {
		return errors.New(errors.ErrCodeInvalidConfig, "compression level must be 0-%d, got %d", MaxCompressionLevel, c.CompressionLevel)
	}
	return nil
}

// Rasterizer renders svg to a PNG file at dst.
type Rasterizer interface {
	Rasterize(ctx context.Context, svg []byte, cfg Config, dst string) error
}

// RasterizerFunc adapts a function to the Rasterizer interface.
type RasterizerFunc func(ctx context.Context, svg []byte, cfg Config, dst string) error

// Rasterize calls f.
func (f RasterizerFunc) Rasterize(ctx context.Context, svg []byte, cfg Config, dst string) error {
	return f(ctx, svg, cfg, dst)
}

// PNGCompression maps a zlib level (0-9) onto the levels image/png exposes.
func PNGCompression(level int) png.CompressionLevel {
	switch {
	case level <= 0:
		return png.NoCompression
	case level <= 3:
		return png.BestSpeed
	case level <= 6:
		return png.DefaultCompression
	default:
		return png.BestCompression
	}
}

// Resize scales img to width pixels wide, keeping its aspect ratio. Images
// already at that width are returned unchanged.
func Resize(img image.Image, width int) image.Image {
	b := img.Bounds()
	if b.Dx() == width || b.Dx() == 0 {
		return img
	}
	height := b.Dy() * width / b.Dx()
	if height < 1 {
		height = 1
	}
	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// Encode resizes img to cfg.ResizeWidth and writes it to w as PNG.
func Encode(w io.Writer, img image.Image, cfg Config) error {
	enc := png.Encoder{CompressionLevel: PNGCompression(cfg.CompressionLevel)}
	return enc.Encode(w, Resize(img, cfg.ResizeWidth))
}

// WriteAtomic writes the output of fn to dst through a temporary file in the
// same directory, renaming it into place only if fn and the close succeed.
func WriteAtomic(dst string, fn func(w io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.tmp")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if err := fn(tmp); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Rename(name, dst); err != nil {
		os.Remove(name)
		return err
	}
	return nil
}
