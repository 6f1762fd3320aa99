package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fglock/perlcore/vm"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
[runtime]
max_depth = 50
max_registers = 4096
verify_units = false

[pragmas]
strict = true
warnings = true
features = ["say", "state"]

[cache]
enabled = true
path = "units.db"

[log]
verbosity = 2
file = "perlcore.log"
`)

	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.Runtime.MaxDepth != 50 {
		t.Errorf("max_depth = %d, want 50", c.Runtime.MaxDepth)
	}
	if c.Runtime.MaxRegisters != 4096 {
		t.Errorf("max_registers = %d, want 4096", c.Runtime.MaxRegisters)
	}
	if c.Runtime.VerifyUnits {
		t.Error("verify_units = true, want false")
	}
	if !c.Pragmas.Strict || !c.Pragmas.Warnings {
		t.Errorf("pragmas = %+v, want strict and warnings", c.Pragmas)
	}
	if len(c.Pragmas.Features) != 2 {
		t.Errorf("features = %v, want 2 entries", c.Pragmas.Features)
	}
	if !c.Cache.Enabled {
		t.Error("cache enabled = false, want true")
	}
	if got, want := c.CachePath(), filepath.Join(c.Dir, "units.db"); got != want {
		t.Errorf("CachePath() = %q, want %q", got, want)
	}
	if c.Log.Verbosity != 2 || c.Log.File != "perlcore.log" {
		t.Errorf("log = %+v", c.Log)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
[pragmas]
strict = true
`)

	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.Runtime.MaxDepth != vm.DefaultMaxDepth {
		t.Errorf("max_depth = %d, want default %d", c.Runtime.MaxDepth, vm.DefaultMaxDepth)
	}
	if !c.Runtime.VerifyUnits {
		t.Error("verify_units default should be true")
	}
	if len(c.Pragmas.Features) != 1 || c.Pragmas.Features[0] != "say" {
		t.Errorf("features = %v, want default [say]", c.Pragmas.Features)
	}
	if c.Cache.Enabled {
		t.Error("cache should be disabled by default")
	}
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"syntax", "[runtime\nmax_depth = 1", "parse error"},
		{"unknown key", "[runtime]\nmax_dept = 1", "unknown key runtime.max_dept"},
		{"negative depth", "[runtime]\nmax_depth = -1", "max_depth"},
		{"register bound", "[runtime]\nmax_registers = 70000", "max_registers"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeConfig(t, dir, tt.content)
			_, err := Load(dir)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Fatal("expected error for missing perlcore.toml")
	}
}

func TestFindAndLoad(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "[runtime]\nmax_depth = 7\n")
	sub := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}

	c, err := FindAndLoad(sub)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if c.Runtime.MaxDepth != 7 {
		t.Errorf("max_depth = %d, want 7 from the parent directory", c.Runtime.MaxDepth)
	}
}

func TestFindAndLoadNotFound(t *testing.T) {
	c, err := FindAndLoad(t.TempDir())
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if c.Dir != "" {
		t.Errorf("Dir = %q, want empty for defaults", c.Dir)
	}
	if c.CachePath() != ".perlcore-cache.db" {
		t.Errorf("CachePath() = %q", c.CachePath())
	}
}

func TestVMPragmas(t *testing.T) {
	c := Default()
	c.Pragmas.Strict = true
	p := c.VMPragmas()
	if !p.Strict || !p.HasFeature("say") {
		t.Errorf("VMPragmas() = %+v", p)
	}
	p.Features[0] = "changed"
	if c.Pragmas.Features[0] != "say" {
		t.Error("VMPragmas should not share the feature slice")
	}
}
