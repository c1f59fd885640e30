package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("debug: true\n"), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !cfg.Debug {
		t.Error("expected debug true")
	}
	if cfg.Server.Host != "localhost" || cfg.Server.Port != 8090 {
		t.Errorf("unexpected server defaults: %s:%d", cfg.Server.Host, cfg.Server.Port)
	}
	if cfg.Embedding.Backend != "local" {
		t.Errorf("expected local backend default, got %q", cfg.Embedding.Backend)
	}
	if cfg.Embedding.Dimensions != 384 {
		t.Errorf("expected 384 dimensions, got %d", cfg.Embedding.Dimensions)
	}
	if cfg.Chunking.ChunkSize != 512 || cfg.Chunking.Overlap != 50 {
		t.Errorf("unexpected chunking defaults: %d/%d", cfg.Chunking.ChunkSize, cfg.Chunking.Overlap)
	}
	if cfg.Retrieval.DefaultTopK != 10 || cfg.Retrieval.MaxChunks != 8 {
		t.Errorf("unexpected retrieval defaults: %d/%d", cfg.Retrieval.DefaultTopK, cfg.Retrieval.MaxChunks)
	}
	if cfg.Rank.SpecialtyMultiplier != 1.2 {
		t.Errorf("expected specialty multiplier default 1.2, got %v", cfg.Rank.SpecialtyMultiplier)
	}
}

func TestLoadOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  port: 9000
embedding:
  backend: cloud
  base_url: https://api.example.com/v1
  dimensions: 1536
retrieval:
  default_threshold: 0.5
rank:
  specialty_multiplier: 1.5
`
	if err := os.WriteFile(path, []byte(yaml), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Server.Port)
	}
	if cfg.Embedding.Backend != "cloud" {
		t.Errorf("expected cloud backend, got %q", cfg.Embedding.Backend)
	}
	if cfg.Embedding.Model != "text-embedding-3-small" {
		t.Errorf("expected cloud model default, got %q", cfg.Embedding.Model)
	}
	if cfg.Embedding.Dimensions != 1536 {
		t.Errorf("expected 1536 dimensions, got %d", cfg.Embedding.Dimensions)
	}
	if cfg.Retrieval.DefaultThreshold != 0.5 {
		t.Errorf("expected threshold 0.5, got %v", cfg.Retrieval.DefaultThreshold)
	}
	if cfg.Rank.SpecialtyMultiplier != 1.5 {
		t.Errorf("expected specialty multiplier 1.5, got %v", cfg.Rank.SpecialtyMultiplier)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestExpandPathRelativeToConfigDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
storage:
  database_path: ./data/kioku.db
`
	if err := os.WriteFile(path, []byte(yaml), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	want := filepath.Join(dir, "data/kioku.db")
	if cfg.Storage.DatabasePath != want {
		t.Errorf("expected %q, got %q", want, cfg.Storage.DatabasePath)
	}
}

func TestRecursiveOrDefault(t *testing.T) {
	var w WatchConfig
	if !w.RecursiveOrDefault() {
		t.Error("expected recursive default true")
	}
	f := false
	w.Recursive = &f
	if w.RecursiveOrDefault() {
		t.Error("expected recursive false when set")
	}
}
