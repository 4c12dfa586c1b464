package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestLoad_ExpandsEnvironmentVariables(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SPECMEM_TEST_HOST", "envhost.internal")
	path := writeFile(t, dir, "specmem.yaml", "database:\n  host: ${SPECMEM_TEST_HOST}\n  port: 5555\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Host != "envhost.internal" {
		t.Errorf("Database.Host = %q, want envhost.internal", cfg.Database.Host)
	}
	if cfg.Database.Port != 5555 {
		t.Errorf("Database.Port = %d, want 5555", cfg.Database.Port)
	}
}

func TestLoad_ResolvesIncludes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "database:\n  host: base-host\n  port: 1111\n")
	path := writeFile(t, dir, "specmem.yaml", "$include: base.yaml\ndatabase:\n  port: 2222\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Host != "base-host" {
		t.Errorf("expected included host to survive, got %q", cfg.Database.Host)
	}
	if cfg.Database.Port != 2222 {
		t.Errorf("expected including file's port to override, got %d", cfg.Database.Port)
	}
}

func TestLoad_DetectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "$include: b.yaml\n")
	pathB := writeFile(t, dir, "b.yaml", "$include: a.yaml\n")
	_ = pathB

	_, err := Load(filepath.Join(dir, "a.yaml"))
	if err == nil {
		t.Fatal("expected include cycle to be detected")
	}
}

func TestLoad_RejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "specmem.yaml", "not_a_real_field: true\n")

	if _, err := Load(path); err == nil {
		t.Fatal("expected unknown field to be rejected")
	}
}
