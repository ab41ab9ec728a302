package workspace

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/matzehuels/gerbershot/pkg/errors"
)

func TestEnsureCreatesDirectories(t *testing.T) {
	root := t.TempDir()
	scratch := filepath.Join(root, "a", "b", "tmp")
	output := filepath.Join(root, "img")

	ws, err := Ensure(scratch, output)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	for _, dir := range []string{ws.ScratchRoot, ws.OutputRoot} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Errorf("%s should be a directory: %v", dir, err)
		}
	}

	// Idempotent
	if _, err := Ensure(scratch, output); err != nil {
		t.Errorf("second Ensure: %v", err)
	}

	// No check files are left behind
	entries, _ := os.ReadDir(scratch)
	if len(entries) != 0 {
		t.Errorf("scratch root should be empty, got %d entries", len(entries))
	}
}

func TestEnsureRejectsFile(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "not-a-dir")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := Ensure(file, filepath.Join(root, "img"))
	if !errors.Is(err, errors.ErrCodeStorage) {
		t.Errorf("Ensure(file) error = %v, want STORAGE", err)
	}
}

func TestEnsureRejectsReadOnly(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root can write to read-only directories")
	}
	root := t.TempDir()
	ro := filepath.Join(root, "ro")
	if err := os.Mkdir(ro, 0555); err != nil {
		t.Fatal(err)
	}

	_, err := Ensure(ro, filepath.Join(root, "img"))
	if !errors.Is(err, errors.ErrCodeStorage) {
		t.Errorf("Ensure(read-only) error = %v, want STORAGE", err)
	}
}

func TestEnsureRequiresPaths(t *testing.T) {
	if _, err := Ensure("", t.TempDir()); !errors.Is(err, errors.ErrCodeStorage) {
		t.Errorf("Ensure(\"\") error = %v, want STORAGE", err)
	}
}

func TestAcquireUnique(t *testing.T) {
	ws, err := Ensure(t.TempDir(), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	const n = 16
	var wg sync.WaitGroup
	dirs := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := ws.Acquire("")
			if err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			dirs[i] = s.Dir
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, d := range dirs {
		if seen[d] {
			t.Errorf("duplicate scratch dir %s", d)
		}
		seen[d] = true
	}
}

func TestAcquireRejectsExistingAndInvalid(t *testing.T) {
	ws, err := Ensure(t.TempDir(), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ws.Acquire("job-1"); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := ws.Acquire("job-1"); !errors.Is(err, errors.ErrCodeStorage) {
		t.Errorf("second Acquire(job-1) error = %v, want STORAGE", err)
	}
	for _, id := range []string{"../escape", "a/b"} {
		if _, err := ws.Acquire(id); !errors.Is(err, errors.ErrCodeStorage) {
			t.Errorf("Acquire(%q) error = %v, want STORAGE", id, err)
		}
	}
}

func TestReleaseOnce(t *testing.T) {
	ws, err := Ensure(t.TempDir(), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	s, err := ws.Acquire("")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(s.Path("archive", "nested"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(s.Path("archive", "nested", "f.gbr"), []byte("G04*"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := s.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := os.Stat(s.Dir); !os.IsNotExist(err) {
		t.Errorf("scratch dir should be gone, stat err = %v", err)
	}

	// A directory recreated at the same path is not touched by a second Release.
	if err := os.Mkdir(s.Dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := s.Release(); err != nil {
		t.Errorf("second Release: %v", err)
	}
	if _, err := os.Stat(s.Dir); err != nil {
		t.Errorf("second Release should not remove anything: %v", err)
	}
}

func TestArtifactPath(t *testing.T) {
	ws := &Workspace{ScratchRoot: "/tmp/s", OutputRoot: "/srv/img"}
	if got := ws.ArtifactPath("board.png"); got != filepath.Join("/srv/img", "board.png") {
		t.Errorf("ArtifactPath = %q", got)
	}
}

func TestWorkspaceEnsureRecreatesRoots(t *testing.T) {
	root := t.TempDir()
	ws, err := Ensure(filepath.Join(root, "tmp"), filepath.Join(root, "img"))
	if err != nil {
		t.Fatal(err)
	}
	if err := os.RemoveAll(ws.ScratchRoot); err != nil {
		t.Fatal(err)
	}
	if err := os.RemoveAll(ws.OutputRoot); err != nil {
		t.Fatal(err)
	}

	if err := ws.Ensure(); err != nil {
		t.Fatalf("Ensure after removal: %v", err)
	}
	if _, err := ws.Acquire(""); err != nil {
		t.Errorf("Acquire after Ensure: %v", err)
	}
	if _, err := os.Stat(ws.OutputRoot); err != nil {
		t.Errorf("output root not recreated: %v", err)
	}
}

func TestReleaseUsesRemoveHook(t *testing.T) {
	ws, err := Ensure(t.TempDir(), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	calls := 0
	ws.Remove = func(string) error {
		calls++
		return os.ErrPermission
	}
	s, err := ws.Acquire("")
	if err != nil {
		t.Fatal(err)
	}

	err = s.Release()
	if !stderrors.Is(err, os.ErrPermission) {
		t.Errorf("Release error = %v, want permission denied", err)
	}
	if s.Release() != err || calls != 1 {
		t.Errorf("second Release should return the first result without removing again (calls=%d)", calls)
	}
}
