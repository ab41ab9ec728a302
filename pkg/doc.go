// Package pkg provides the core libraries for Gerbershot board rendering.
//
// # Overview
//
// Gerbershot turns a zipped gerber export from a PCB CAM processor into a PNG
// image of the top of the board. The pkg directory is organized into:
//
//  1. [archive], [layers], [stackup], [raster] - The conversion stages
//  2. [workspace] - Scratch and output directory lifecycle
//  3. [pipeline] - Orchestration (extract → resolve → compose → rasterize)
//  4. [cache], [store], [publish] - Artifact cache, conversion records, image URLs
//  5. [config], [errors], [observability], [buildinfo] - Ambient support
//
// # Architecture
//
// The data flow of one conversion:
//
//	Uploaded or local .zip
//	         ↓
//	    [archive] extract into a per-conversion scratch directory
//	         ↓
//	    [layers] open the six required gerber files
//	         ↓
//	    [stackup] compose them into an SVG of the top side (gerbv)
//	         ↓
//	    [raster] rasterize, resize and encode as PNG (rsvg-convert)
//	         ↓
//	    <output dir>/<name>.png
//
// The scratch directory is removed before the conversion returns, whatever
// the outcome.
//
// # Quick Start
//
//	runner, err := pipeline.NewRunner(pipeline.Options{
//	    ScratchRoot: "/tmp/gerbershot",
//	    OutputRoot:  "img",
//	    Composer:    &stackup.Gerbv{},
//	    Rasterizer:  &raster.Rsvg{},
//	})
//	if err != nil {
//	    return err
//	}
//	out, err := runner.Convert(ctx, "board.zip", raster.DefaultConfig())
//
// See the cmd/gerbershot and internal/server packages for the command-line
// and HTTP front ends.
package pkg
