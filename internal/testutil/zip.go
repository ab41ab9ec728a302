// Package testutil builds gerber archive fixtures for tests.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
)

// Entry is one file (or directory, when Name ends in "/") in a fixture archive.
type Entry struct {
	Name string
	Body string
}

// BoardEntries returns a complete set of the six default layer files with
// placeholder gerber content, in layer spec order.
func BoardEntries() []Entry {
	return []Entry{
		{Name: "CAMOutputs/DrillFiles/drills.xln", Body: "M48\nT1C0.8\n%\nT1\nX1000Y1000\nM30\n"},
		{Name: "CAMOutputs/GerberFiles/copper_top.gbr", Body: "%FSLAX25Y25*%\n%MOIN*%\nD10*\nX0Y0D02*\nM02*\n"},
		{Name: "CAMOutputs/GerberFiles/silkscreen_top.gbr", Body: "%FSLAX25Y25*%\n%MOIN*%\nM02*\n"},
		{Name: "CAMOutputs/GerberFiles/soldermask_top.gbr", Body: "%FSLAX25Y25*%\n%MOIN*%\nM02*\n"},
		{Name: "CAMOutputs/GerberFiles/solderpaste_top.gbr", Body: "%FSLAX25Y25*%\n%MOIN*%\nM02*\n"},
		{Name: "CAMOutputs/GerberFiles/profile.gbr", Body: "%FSLAX25Y25*%\n%MOIN*%\nM02*\n"},
	}
}

// Without returns entries minus any whose name is listed.
func Without(entries []Entry, names ...string) []Entry {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	var out []Entry
	for _, e := range entries {
		if !drop[e.Name] {
			out = append(out, e)
		}
	}
	return out
}

// WriteZip writes entries to dir/name and returns the archive path.
func WriteZip(t testing.TB, dir, name string, entries []Entry) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for _, e := range entries {
		w, err := zw.Create(e.Name)
		if err != nil {
			t.Fatalf("zip create %s: %v", e.Name, err)
		}
		if _, err := w.Write([]byte(e.Body)); err != nil {
			t.Fatalf("zip write %s: %v", e.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return path
}

// WriteFile writes raw bytes to dir/name, for corrupt-archive fixtures.
func WriteFile(t testing.TB, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// CountFiles returns the number of regular files below dir, or 0 if dir does
// not exist.
func CountFiles(t testing.TB, dir string) int {
	t.Helper()
	n := 0
	err := filepath.Walk(dir, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			n++
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		t.Fatalf("walk %s: %v", dir, err)
	}
	return n
}
