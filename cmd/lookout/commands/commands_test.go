package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/moolen/lookout/internal/config"
)

func TestParseLogLevelFlags(t *testing.T) {
	t.Setenv("LOG_LEVEL_API_TURNS", "debug")

	def, pkgs, err := parseLogLevelFlags([]string{"warn", "supervisor=debug"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if def != "warn" {
		t.Errorf("expected default level warn, got %s", def)
	}
	if pkgs["supervisor"] != "debug" {
		t.Errorf("expected supervisor=debug, got %q", pkgs["supervisor"])
	}
	if pkgs["api.turns"] != "debug" {
		t.Errorf("expected api.turns=debug from env, got %q", pkgs["api.turns"])
	}

	if _, _, err := parseLogLevelFlags([]string{"loud"}); err == nil {
		t.Error("expected error for invalid default level")
	}
	if _, _, err := parseLogLevelFlags([]string{"gateway=verbose"}); err == nil {
		t.Error("expected error for invalid package level")
	}
}

func TestConvertEnvKeyToPackageName(t *testing.T) {
	if got := convertEnvKeyToPackageName("LOG_LEVEL_CONFIG_WATCHER"); got != "config.watcher" {
		t.Errorf("expected config.watcher, got %s", got)
	}
}

func withConfigPath(t *testing.T, path string) {
	t.Helper()
	old := configPath
	configPath = path
	t.Cleanup(func() { configPath = old })
}

func TestInitWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lookout.yaml")
	withConfigPath(t, path)

	var out bytes.Buffer
	initCmd.SetOut(&out)
	if err := runInit(initCmd, nil); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if !strings.Contains(out.String(), "Wrote "+path) {
		t.Errorf("unexpected output: %s", out.String())
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("written config does not load: %v", err)
	}
	if cfg.Model.Name != config.Default().Model.Name {
		t.Errorf("expected default model, got %s", cfg.Model.Name)
	}

	if err := runInit(initCmd, nil); err == nil {
		t.Error("expected error when the file exists")
	}
}

func TestIndexBuildsFromRulesDir(t *testing.T) {
	dir := t.TempDir()
	rules := filepath.Join(dir, "rules")
	if err := os.MkdirAll(filepath.Join(rules, "reference"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(rules, "reference", "DynatraceQueryLanguage.md"),
		[]byte("# DQL\n\nfetch logs | filter loglevel == \"ERROR\""), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Retriever.RulesDir = rules
	cfg.Retriever.IndexPath = filepath.Join(dir, "index.db")
	path := filepath.Join(dir, "lookout.yaml")
	if err := config.Write(path, cfg); err != nil {
		t.Fatal(err)
	}
	withConfigPath(t, path)

	var out bytes.Buffer
	indexCmd.SetOut(&out)
	if err := runIndex(indexCmd, nil); err != nil {
		t.Fatalf("index failed: %v", err)
	}
	if !strings.HasPrefix(out.String(), "Indexed 1 chunks") {
		t.Errorf("unexpected output: %s", out.String())
	}
	if _, err := os.Stat(cfg.Retriever.IndexPath); err != nil {
		t.Errorf("index file missing: %v", err)
	}
}

func TestServeRejectsUnknownTransport(t *testing.T) {
	old := serveTransport
	serveTransport = "carrier-pigeon"
	t.Cleanup(func() { serveTransport = old })

	err := runServe(serveCmd, nil)
	if err == nil || !strings.Contains(err.Error(), "invalid transport type") {
		t.Errorf("expected transport error, got %v", err)
	}
}
