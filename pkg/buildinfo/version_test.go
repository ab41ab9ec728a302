package buildinfo

import (
	"strings"
	"testing"
)

func TestGetUsesLinkerValues(t *testing.T) {
	oldV, oldC, oldD := Version, Commit, Date
	t.Cleanup(func() { Version, Commit, Date = oldV, oldC, oldD })
	Version, Commit, Date = "v1.2.3", "abc123", "2026-01-02T03:04:05Z"

	got := Get()
	if got.Version != "v1.2.3" || got.Commit != "abc123" || got.Date != "2026-01-02T03:04:05Z" {
		t.Errorf("Get() = %+v", got)
	}
	if got.GoVersion == "" {
		t.Error("GoVersion should be set")
	}
}

func TestTemplate(t *testing.T) {
	oldV := Version
	t.Cleanup(func() { Version = oldV })
	Version = "v9.9.9"

	tmpl := Template()
	if !strings.HasPrefix(tmpl, "{{.Name}} version v9.9.9\n") {
		t.Errorf("Template() = %q", tmpl)
	}
}
