// Package layers maps the files of an extracted gerber archive to the layer
// roles the stackup composer expects.
//
// A Spec is an ordered list of role/path pairs. Resolve opens each path in
// order and stops at the first one that is missing, reporting it as a
// *errors.MissingLayerError so callers can tell exactly which layer the
// fabrication export left out.
package layers

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/matzehuels/gerbershot/pkg/errors"
)

// Layer roles.
const (
	RoleDrill          = "drill"
	RoleCopperTop      = "copper_top"
	RoleSilkscreenTop  = "silkscreen_top"
	RoleSoldermaskTop  = "soldermask_top"
	RoleSolderpasteTop = "solderpaste_top"
	RoleProfile        = "profile"
)

// RequiredEntries is the number of entries a Spec must declare.
const RequiredEntries = 6

// Entry binds a layer role to a slash-separated path inside the extracted tree.
type Entry struct {
	Role string `toml:"role" json:"role"`
	Path string `toml:"path" json:"path"`
}

// Spec is an ordered set of layer entries.
type Spec []Entry

// DefaultSpec is the layout produced by the EAGLE/Fusion CAM processor.
var DefaultSpec = Spec{
	{Role: RoleDrill, Path: "CAMOutputs/DrillFiles/drills.xln"},
	{Role: RoleCopperTop, Path: "CAMOutputs/GerberFiles/copper_top.gbr"},
	{Role: RoleSilkscreenTop, Path: "CAMOutputs/GerberFiles/silkscreen_top.gbr"},
	{Role: RoleSoldermaskTop, Path: "CAMOutputs/GerberFiles/soldermask_top.gbr"},
	{Role: RoleSolderpasteTop, Path: "CAMOutputs/GerberFiles/solderpaste_top.gbr"},
	{Role: RoleProfile, Path: "CAMOutputs/GerberFiles/profile.gbr"},
}

// Validate checks that s has exactly RequiredEntries entries with unique,
// non-empty roles and safe relative paths.
func (s Spec) Validate() error {
	if len(s) != RequiredEntries {
		return errors.New(errors.ErrCodeInvalidConfig, "layer spec needs %d entries, got %d", RequiredEntries, len(s))
	}
	roles := make(map[string]bool, len(s))
	for _, e := range s {
		if e.Role == "" {
			return errors.New(errors.ErrCodeInvalidConfig, "layer spec entry for %q has no role", e.Path)
		}
		if roles[e.Role] {
			return errors.New(errors.ErrCodeInvalidConfig, "duplicate layer role %q", e.Role)
		}
		roles[e.Role] = true
		if err := errors.ValidatePath(e.Path); err != nil {
			return errors.Wrap(errors.ErrCodeInvalidConfig, err, "layer %s", e.Role)
		}
	}
	return nil
}

// Roles returns the roles of s in order.
func (s Spec) Roles() []string {
	roles := make([]string, len(s))
	for i, e := range s {
		roles[i] = e.Role
	}
	return roles
}

// Layer is an opened layer file. The caller owns Reader and must close it.
type Layer struct {
	Role   string
	Path   string // Absolute path of the file on disk
	Reader io.ReadCloser
}

// Resolve opens every entry of spec below dir, in spec order. The first entry
// whose file does not exist fails the whole call with a *errors.MissingLayerError;
// streams opened before it are closed.
func Resolve(dir string, spec Spec) ([]Layer, error) {
	out := make([]Layer, 0, len(spec))
	for _, e := range spec {
		path := filepath.Join(dir, filepath.FromSlash(e.Path))
		f, err := openRegular(path)
		if err != nil {
			CloseAll(out)
			if os.IsNotExist(err) {
				return nil, &errors.MissingLayerError{Role: e.Role, ExpectedPath: e.Path}
			}
			return nil, errors.Wrap(errors.ErrCodeStorage, err, "open %s layer", e.Role)
		}
		out = append(out, Layer{Role: e.Role, Path: path, Reader: f})
	}
	return out, nil
}

// openRegular opens path, treating a directory at that path as missing.
func openRegular(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, &os.PathError{Op: "open", Path: path, Err: os.ErrNotExist}
	}
	return f, nil
}

// CloseAll closes every layer stream, returning the first error.
func CloseAll(ls []Layer) error {
	var first error
	for _, l := range ls {
		if l.Reader == nil {
			continue
		}
		if err := l.Reader.Close(); err != nil && first == nil {
			first = fmt.Errorf("close %s layer: %w", l.Role, err)
		}
	}
	return first
}

// Missing returns every entry of spec that has no regular file below dir. It
// is a diagnostic aid; Resolve remains the authority.
func Missing(dir string, spec Spec) []Entry {
	var missing []Entry
	for _, e := range spec {
		info, err := os.Stat(filepath.Join(dir, filepath.FromSlash(e.Path)))
		if err != nil || !info.Mode().IsRegular() {
			missing = append(missing, e)
		}
	}
	return missing
}

// MissingNames is Missing for a list of archive entry names instead of a
// directory on disk.
func MissingNames(names []string, spec Spec) []Entry {
	have := make(map[string]bool, len(names))
	for _, n := range names {
		have[n] = true
	}
	var missing []Entry
	for _, e := range spec {
		if !have[e.Path] {
			missing = append(missing, e)
		}
	}
	return missing
}
