package stackup

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/matzehuels/gerbershot/pkg/layers"
)

func testLayers() []layers.Layer {
	var ls []layers.Layer
	for _, e := range layers.DefaultSpec {
		ls = append(ls, layers.Layer{
			Role:   e.Role,
			Path:   "/extract/" + e.Path,
			Reader: io.NopCloser(strings.NewReader("G04 " + e.Role + "*\nM02*\n")),
		})
	}
	return ls
}

func TestComposerFunc(t *testing.T) {
	var got []string
	c := ComposerFunc(func(ctx context.Context, ls []layers.Layer) (*Stackup, error) {
		for _, l := range ls {
			got = append(got, l.Role)
		}
		return &Stackup{Top: []byte("<svg/>")}, nil
	})

	s, err := c.Compose(context.Background(), testLayers())
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if string(s.Top) != "<svg/>" {
		t.Errorf("Top = %q", s.Top)
	}
	if strings.Join(got, ",") != strings.Join(layers.DefaultSpec.Roles(), ",") {
		t.Errorf("composer saw roles %v, want spec order", got)
	}
}

func TestPaintOrder(t *testing.T) {
	ls := append(testLayers(), layers.Layer{Role: "copper_bottom"})
	got := paintOrder(ls)
	want := []string{"drill", "silkscreen_top", "solderpaste_top", "soldermask_top", "copper_top", "profile", "copper_bottom"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("paintOrder = %v, want %v", got, want)
	}
}

func TestGerbvArgs(t *testing.T) {
	g := &Gerbv{}
	files := map[string]string{}
	for _, e := range layers.DefaultSpec {
		files[e.Role] = "/w/" + e.Role
	}
	args := g.args(testLayers(), files, "/w/top.svg")

	if args[0] != "--export=svg" || args[1] != "--output=/w/top.svg" || args[2] != "--background=#ffffff" {
		t.Errorf("unexpected leading args: %v", args[:3])
	}
	// Each file follows its own foreground colour.
	for i, a := range args {
		if strings.HasPrefix(a, "/w/") {
			if !strings.HasPrefix(args[i-1], "--foreground=") {
				t.Errorf("file %s is not preceded by --foreground", a)
			}
		}
	}
	if args[4] != "/w/drill" {
		t.Errorf("first file = %q, want drill on top", args[4])
	}
}

func TestGerbvMissingBinary(t *testing.T) {
	g := &Gerbv{Binary: "gerbershot-no-such-gerbv"}
	_, err := g.Compose(context.Background(), testLayers())
	if err == nil || !strings.Contains(err.Error(), "requires gerbv") {
		t.Errorf("Compose error = %v, want install hint", err)
	}
}

func TestGerbvNoLayers(t *testing.T) {
	if _, err := (&Gerbv{}).Compose(context.Background(), nil); err == nil {
		t.Error("Compose(nil) should fail")
	}
}

// fakeGerbv writes a shell script that behaves like gerbv --export=svg.
func fakeGerbv(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fake needs a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "gerbv")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestGerbvFakeBinary(t *testing.T) {
	bin := fakeGerbv(t, `for a in "$@"; do
  case "$a" in
    --output=*) out="${a#--output=}" ;;
  esac
done
n=0
for a in "$@"; do
  case "$a" in
    --*) ;;
    *) test -s "$a" || exit 3; n=$((n+1)) ;;
  esac
done
printf '<svg layers="%s"/>' "$n" > "$out"`)

	tmp := t.TempDir()
	g := &Gerbv{Binary: bin, TempDir: tmp}
	s, err := g.Compose(context.Background(), testLayers())
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if string(s.Top) != `<svg layers="6"/>` {
		t.Errorf("Top = %q", s.Top)
	}
	entries, _ := os.ReadDir(tmp)
	if len(entries) != 0 {
		t.Errorf("spool directory not removed: %d entries left", len(entries))
	}
}

func TestGerbvFailure(t *testing.T) {
	bin := fakeGerbv(t, `echo "unknown aperture D99" >&2; exit 1`)
	g := &Gerbv{Binary: bin, TempDir: t.TempDir()}
	_, err := g.Compose(context.Background(), testLayers())
	if err == nil || !strings.Contains(err.Error(), "unknown aperture D99") {
		t.Errorf("Compose error = %v, want stderr attached", err)
	}
}

func TestGerbvSpoolDir(t *testing.T) {
	extract := t.TempDir()
	onDisk := []layers.Layer{{Role: layers.RoleProfile, Path: filepath.Join(extract, "board.gko")}}

	tests := []struct {
		name string
		g    *Gerbv
		ls   []layers.Layer
		want string
	}{
		{"explicit", &Gerbv{TempDir: "/spool"}, onDisk, "/spool"},
		{"next to layers", &Gerbv{}, onDisk, extract},
		{"layers not on disk", &Gerbv{}, testLayers(), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.g.spoolDir(tt.ls); got != tt.want {
				t.Errorf("spoolDir = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGerbvSpoolsInsideExtractDir(t *testing.T) {
	// The script records the directory of the first layer file it was given.
	bin := fakeGerbv(t, `for a in "$@"; do
  case "$a" in
    --output=*) out="${a#--output=}" ;;
    --*) ;;
    *) test -n "$first" || first="$a" ;;
  esac
done
printf '<svg from="%s"/>' "$(dirname "$first")" > "$out"`)

	extract := t.TempDir()
	ls := testLayers()
	for i := range ls {
		ls[i].Path = filepath.Join(extract, filepath.Base(ls[i].Path))
	}

	s, err := (&Gerbv{Binary: bin}).Compose(context.Background(), ls)
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if !strings.Contains(string(s.Top), `from="`+extract+string(filepath.Separator)) {
		t.Errorf("layers were not spooled under %s: %s", extract, s.Top)
	}
	entries, _ := os.ReadDir(extract)
	if len(entries) != 0 {
		t.Errorf("work directory not removed: %d entries left", len(entries))
	}
}
