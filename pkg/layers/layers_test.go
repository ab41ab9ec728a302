package layers

import (
	stderrors "errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/matzehuels/gerbershot/internal/testutil"
	"github.com/matzehuels/gerbershot/pkg/errors"
)

// writeTree materializes entries under a fresh directory, as extraction would.
func writeTree(t *testing.T, entries []testutil.Entry) string {
	t.Helper()
	dir := t.TempDir()
	for _, e := range entries {
		p := filepath.Join(dir, filepath.FromSlash(e.Name))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(e.Body), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestDefaultSpecValid(t *testing.T) {
	if err := DefaultSpec.Validate(); err != nil {
		t.Fatalf("DefaultSpec.Validate: %v", err)
	}
	want := []string{RoleDrill, RoleCopperTop, RoleSilkscreenTop, RoleSoldermaskTop, RoleSolderpasteTop, RoleProfile}
	got := DefaultSpec.Roles()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Roles = %v, want %v", got, want)
	}
}

func TestSpecValidate(t *testing.T) {
	dup := append(Spec{}, DefaultSpec...)
	dup[1].Role = RoleDrill

	unsafe := append(Spec{}, DefaultSpec...)
	unsafe[2].Path = "../silk.gbr"

	noRole := append(Spec{}, DefaultSpec...)
	noRole[0].Role = ""

	tests := []struct {
		name string
		spec Spec
	}{
		{"too few", DefaultSpec[:5]},
		{"too many", append(append(Spec{}, DefaultSpec...), Entry{Role: "copper_bottom", Path: "b.gbr"})},
		{"duplicate role", dup},
		{"unsafe path", unsafe},
		{"empty role", noRole},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.spec.Validate(); !errors.Is(err, errors.ErrCodeInvalidConfig) {
				t.Errorf("Validate error = %v, want INVALID_CONFIG", err)
			}
		})
	}
}

func TestResolveOrder(t *testing.T) {
	dir := writeTree(t, testutil.BoardEntries())

	ls, err := Resolve(dir, DefaultSpec)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	defer CloseAll(ls)

	if len(ls) != len(DefaultSpec) {
		t.Fatalf("got %d layers, want %d", len(ls), len(DefaultSpec))
	}
	for i, l := range ls {
		if l.Role != DefaultSpec[i].Role {
			t.Errorf("layer %d role = %q, want %q", i, l.Role, DefaultSpec[i].Role)
		}
		data, err := io.ReadAll(l.Reader)
		if err != nil {
			t.Fatalf("read %s: %v", l.Role, err)
		}
		if len(data) == 0 {
			t.Errorf("layer %s is empty", l.Role)
		}
	}
}

func TestResolveMissingSilkscreen(t *testing.T) {
	dir := writeTree(t, testutil.Without(testutil.BoardEntries(), "CAMOutputs/GerberFiles/silkscreen_top.gbr"))

	_, err := Resolve(dir, DefaultSpec)
	var m *errors.MissingLayerError
	if !stderrors.As(err, &m) {
		t.Fatalf("Resolve error = %v, want *MissingLayerError", err)
	}
	if m.Role != RoleSilkscreenTop {
		t.Errorf("Role = %q, want %q", m.Role, RoleSilkscreenTop)
	}
	if m.ExpectedPath != "CAMOutputs/GerberFiles/silkscreen_top.gbr" {
		t.Errorf("ExpectedPath = %q", m.ExpectedPath)
	}
}

// With only three of six files present, the first missing role in spec order
// is reported.
func TestResolveReportsFirstMissing(t *testing.T) {
	entries := testutil.BoardEntries()
	dir := writeTree(t, []testutil.Entry{entries[0], entries[3], entries[5]})

	_, err := Resolve(dir, DefaultSpec)
	var m *errors.MissingLayerError
	if !stderrors.As(err, &m) {
		t.Fatalf("Resolve error = %v, want *MissingLayerError", err)
	}
	if m.Role != RoleCopperTop {
		t.Errorf("Role = %q, want %q", m.Role, RoleCopperTop)
	}
}

func TestResolveDirectoryIsMissing(t *testing.T) {
	entries := testutil.Without(testutil.BoardEntries(), "CAMOutputs/GerberFiles/profile.gbr")
	dir := writeTree(t, entries)
	if err := os.MkdirAll(filepath.Join(dir, "CAMOutputs", "GerberFiles", "profile.gbr"), 0755); err != nil {
		t.Fatal(err)
	}

	_, err := Resolve(dir, DefaultSpec)
	if !errors.Is(err, errors.ErrCodeMissingLayer) {
		t.Errorf("Resolve error = %v, want MISSING_LAYER", err)
	}
}

func TestMissing(t *testing.T) {
	entries := testutil.BoardEntries()
	dir := writeTree(t, entries[:3])

	missing := Missing(dir, DefaultSpec)
	if len(missing) != 3 {
		t.Fatalf("Missing = %v, want 3 entries", missing)
	}
	if missing[0].Role != RoleSoldermaskTop {
		t.Errorf("first missing = %q, want %q", missing[0].Role, RoleSoldermaskTop)
	}

	names := []string{entries[0].Name, entries[1].Name}
	if got := MissingNames(names, DefaultSpec); len(got) != 4 {
		t.Errorf("MissingNames = %v, want 4 entries", got)
	}
}

type closeCounter struct {
	io.Reader
	closed *int
}

func (c closeCounter) Close() error {
	*c.closed++
	return nil
}

func TestCloseAll(t *testing.T) {
	n := 0
	ls := []Layer{
		{Role: "a", Reader: closeCounter{strings.NewReader(""), &n}},
		{Role: "b"},
		{Role: "c", Reader: closeCounter{strings.NewReader(""), &n}},
	}
	if err := CloseAll(ls); err != nil {
		t.Fatalf("CloseAll: %v", err)
	}
	if n != 2 {
		t.Errorf("closed %d readers, want 2", n)
	}
}
