// Package workspace owns the scratch and output directories used by
// conversions.
//
// A Workspace is created once with Ensure and shared by every conversion. Each
// conversion then acquires its own Scratch directory, named by a generated ID,
// so that concurrent conversions never read or delete each other's files:
//
//	ws, err := workspace.Ensure(scratchRoot, outputRoot)
//	if err != nil {
//	    return err
//	}
//	scratch, err := ws.Acquire("")
//	if err != nil {
//	    return err
//	}
//	defer scratch.Release()
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/matzehuels/gerbershot/pkg/errors"
)

// Workspace holds the two directories every conversion needs.
type Workspace struct {
	ScratchRoot string
	OutputRoot  string

	// Remove deletes a released scratch directory. os.RemoveAll when nil.
	Remove func(path string) error
}

// Ensure creates scratchRoot and outputRoot (with parents) if they are absent
// and checks that both are writable directories. It is idempotent.
func Ensure(scratchRoot, outputRoot string) (*Workspace, error) {
	if scratchRoot == "" || outputRoot == "" {
		return nil, errors.New(errors.ErrCodeStorage, "scratch and output directories must be set")
	}
	for _, dir := range []string{scratchRoot, outputRoot} {
		if err := ensureDir(dir); err != nil {
			return nil, err
		}
	}
	return &Workspace{ScratchRoot: scratchRoot, OutputRoot: outputRoot}, nil
}

// Ensure re-creates ScratchRoot and OutputRoot if they were removed since the
// Workspace was created, and checks that both are still writable.
func (w *Workspace) Ensure() error {
	for _, dir := range []string{w.ScratchRoot, w.OutputRoot} {
		if err := ensureDir(dir); err != nil {
			return err
		}
	}
	return nil
}

func ensureDir(dir string) error {
	info, err := os.Stat(dir)
	switch {
	case err == nil && !info.IsDir():
		return errors.New(errors.ErrCodeStorage, "%s exists and is not a directory", dir)
	case os.IsNotExist(err):
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrap(errors.ErrCodeStorage, err, "create directory %s", dir)
		}
	case err != nil:
		return errors.Wrap(errors.ErrCodeStorage, err, "stat %s", dir)
	}

	// Permission bits lie under root and on some mounts; write a real file.
	f, err := os.CreateTemp(dir, ".writable-*")
	if err != nil {
		return errors.Wrap(errors.ErrCodeStorage, err, "directory %s is not writable", dir)
	}
	name := f.Name()
	f.Close()
	if err := os.Remove(name); err != nil {
		return errors.Wrap(errors.ErrCodeStorage, err, "directory %s is not writable", dir)
	}
	return nil
}

// Acquire creates a fresh scratch directory for one conversion under
// ScratchRoot. If id is empty a random UUID is used. The directory must not
// already exist.
func (w *Workspace) Acquire(id string) (*Scratch, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if err := errors.ValidatePath(id); err != nil || filepath.Base(id) != id {
		return nil, errors.New(errors.ErrCodeStorage, "invalid scratch id %q", id)
	}
	dir := filepath.Join(w.ScratchRoot, id)
	if err := os.Mkdir(dir, 0755); err != nil {
		return nil, errors.Wrap(errors.ErrCodeStorage, err, "create scratch directory")
	}
	remove := w.Remove
	if remove == nil {
		remove = os.RemoveAll
	}
	return &Scratch{ID: id, Dir: dir, remove: remove}, nil
}

// ArtifactPath returns where an artifact called name is written.
func (w *Workspace) ArtifactPath(name string) string {
	return filepath.Join(w.OutputRoot, name)
}

// Scratch is a per-conversion directory. It is removed exactly once by Release.
type Scratch struct {
	ID  string
	Dir string

	remove func(string) error
	once   sync.Once
	err    error
}

// Path joins elem onto the scratch directory.
func (s *Scratch) Path(elem ...string) string {
	return filepath.Join(append([]string{s.Dir}, elem...)...)
}

// Release removes the scratch directory and everything below it. Only the first
// call touches the filesystem; later calls return the first result.
func (s *Scratch) Release() error {
	s.once.Do(func() {
		remove := s.remove
		if remove == nil {
			remove = os.RemoveAll
		}
		if err := remove(s.Dir); err != nil {
			s.err = fmt.Errorf("remove %s: %w", s.Dir, err)
		}
	})
	return s.err
}
