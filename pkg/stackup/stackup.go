// Package stackup defines the composer that turns ordered gerber layers into
// a vector image of the assembled board.
//
// The Composer interface is the seam between the conversion pipeline and the
// gerber interpreter. Tests substitute a ComposerFunc; production uses Gerbv,
// which shells out to the gerbv command-line tool.
package stackup

import (
	"context"

	"github.com/matzehuels/gerbershot/pkg/layers"
)

// Stackup is a composed board.
type Stackup struct {
	// Top is an SVG rendering of the top side.
	Top []byte
	// Bottom is an SVG rendering of the bottom side, when the composer
	// produces one.
	Bottom []byte
}

// Composer composes layers, given in layer spec order, into a Stackup.
// Implementations read the layer streams but do not close them.
type Composer interface {
	Compose(ctx context.Context, ls []layers.Layer) (*Stackup, error)
}

// ComposerFunc adapts a function to the Composer interface.
type ComposerFunc func(ctx context.Context, ls []layers.Layer) (*Stackup, error)

// Compose calls f.
func (f ComposerFunc) Compose(ctx context.Context, ls []layers.Layer) (*Stackup, error) {
	return f(ctx, ls)
}
