package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	os.Setenv("MONGODB_URI", "mongodb://localhost:27017/testdb")
	os.Setenv("MONGODB_DATABASE", "capsync_test")
	os.Setenv("REDIS_HOST", "localhost")
	os.Setenv("REDIS_PORT", "6379")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.MongoDB.URI == "" || cfg.Redis.Host == "" {
		t.Fatalf("unexpected empty config values: %+v", cfg)
	}
	if cfg.RedCap.URL == "" {
		t.Fatalf("expected a default REDCap URL")
	}
	if cfg.RedCap.RequestsPerSecond <= 0 {
		t.Fatalf("expected a positive REDCap rate limit, got %v", cfg.RedCap.RequestsPerSecond)
	}
}

func TestProjectTokens(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "redcap.cfg")
	content := "[captiva dc]\ntoken = AAAA1111\n\n[sister]\ntoken = BBBB2222\n\n[broken]\nurl = nothing-here\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	tokens, err := ProjectTokens(path)
	if err != nil {
		t.Fatalf("ProjectTokens failed: %v", err)
	}
	if tokens["captiva dc"] != "AAAA1111" {
		t.Fatalf("unexpected token for captiva dc: %q", tokens["captiva dc"])
	}
	if tokens["sister"] != "BBBB2222" {
		t.Fatalf("unexpected token for sister: %q", tokens["sister"])
	}
	if _, ok := tokens["broken"]; ok {
		t.Fatalf("section without token should be skipped")
	}
}

func TestProjectTokensMissingFile(t *testing.T) {
	if _, err := ProjectTokens(filepath.Join(t.TempDir(), "nope.cfg")); err == nil {
		t.Fatalf("expected error for missing credentials file")
	}
}
