package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	Reset()
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Gateway.Port != 8420 {
		t.Errorf("Gateway.Port = %d, want 8420", cfg.Gateway.Port)
	}
	if cfg.Session.EphemeralLimit != 8 {
		t.Errorf("Session.EphemeralLimit = %d, want 8", cfg.Session.EphemeralLimit)
	}
	if cfg.Session.MaxMonitorsPerSession != 4 {
		t.Errorf("Session.MaxMonitorsPerSession = %d, want 4", cfg.Session.MaxMonitorsPerSession)
	}
	if cfg.Provider.Default != "local" {
		t.Errorf("Provider.Default = %q, want local", cfg.Provider.Default)
	}
}

func TestLoadFromFile(t *testing.T) {
	Reset()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte("gateway:\n  port: 9999\nsession:\n  ephemeral_limit: 2\n")
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Gateway.Port != 9999 {
		t.Errorf("Gateway.Port = %d, want 9999", cfg.Gateway.Port)
	}
	if cfg.Session.EphemeralLimit != 2 {
		t.Errorf("Session.EphemeralLimit = %d, want 2", cfg.Session.EphemeralLimit)
	}
	if ConfigPath() != path {
		t.Errorf("ConfigPath() = %q, want %q", ConfigPath(), path)
	}
}

func TestLoadMissingFileIsNotFatal(t *testing.T) {
	Reset()
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() with missing file should not error: %v", err)
	}
	if cfg.Gateway.Port != 8420 {
		t.Errorf("Gateway.Port = %d, want default 8420", cfg.Gateway.Port)
	}
}

func TestSetTestConfig(t *testing.T) {
	Reset()
	want := &Config{Gateway: GatewayConfig{Port: 1234}}
	SetTestConfig(want)
	if got := GetConfig(); got.Gateway.Port != 1234 {
		t.Errorf("GetConfig().Gateway.Port = %d, want 1234", got.Gateway.Port)
	}
}

func TestSaveWithNoConfigPathErrors(t *testing.T) {
	Reset()
	if _, err := Load(""); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if err := Save(); err == nil {
		t.Fatal("Save() with no config path should error")
	}
}

func TestSaveWritesBackModifiedConfig(t *testing.T) {
	Reset()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("gateway:\n  port: 1111\n"), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	cfg.Gateway.Port = 3333
	SetTestConfig(cfg)

	if err := Save(); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	Reset()
	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload after Save() error: %v", err)
	}
	if reloaded.Gateway.Port != 3333 {
		t.Errorf("reloaded Gateway.Port = %d, want 3333", reloaded.Gateway.Port)
	}
}

func TestWatchWithoutAConfigPathIsANoop(t *testing.T) {
	Reset()
	if _, err := Load(""); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	called := make(chan struct{}, 1)
	Watch(func(*Config) { called <- struct{}{} })

	select {
	case <-called:
		t.Fatal("onChange called with no config file loaded")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWatchPicksUpFileEdits(t *testing.T) {
	Reset()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("gateway:\n  port: 1111\n"), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	called := make(chan *Config, 1)
	Watch(func(cfg *Config) { called <- cfg })

	time.Sleep(50 * time.Millisecond) // let the fsnotify watch attach
	if err := os.WriteFile(path, []byte("gateway:\n  port: 2222\n"), 0600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-called:
		if cfg.Gateway.Port != 2222 {
			t.Errorf("Gateway.Port = %d, want 2222", cfg.Gateway.Port)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("onChange was not called after the config file changed")
	}
}
