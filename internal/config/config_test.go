package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func tempConfigPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "config.json")
}

func TestLoad_CreatesDefaultOnMissing(t *testing.T) {
	cm := NewConfigManager(tempConfigPath(t))
	if err := cm.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	cfg := cm.Get()
	if cfg == nil {
		t.Fatal("Get returned nil")
	}
	if cfg.Dimension != 768 {
		t.Errorf("Dimension = %d, want 768", cfg.Dimension)
	}
	if cfg.K1 != 100 {
		t.Errorf("K1 = %d, want 100", cfg.K1)
	}
	if cfg.K2 != 20 {
		t.Errorf("K2 = %d, want 20", cfg.K2)
	}
}

func TestLoad_FileIsCreatedOnMissing(t *testing.T) {
	path := tempConfigPath(t)
	cm := NewConfigManager(path)
	if err := cm.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Fatal("config file was not created")
	}
}

func TestSaveAndLoad_RoundTrip(t *testing.T) {
	path := tempConfigPath(t)
	cm := NewConfigManager(path)
	if err := cm.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	cm.config.Dimension = 1536
	cm.config.DBPath = "custom.db"
	cm.config.Embedding.Endpoint = "https://api.example.com/v1"
	cm.config.Embedding.ModelName = "text-embed-v1"

	if err := cm.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	cm2 := NewConfigManager(path)
	if err := cm2.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg := cm2.Get()
	if cfg.Dimension != 1536 {
		t.Errorf("Dimension = %d, want 1536", cfg.Dimension)
	}
	if cfg.DBPath != "custom.db" {
		t.Errorf("DBPath = %q, want custom.db", cfg.DBPath)
	}
	if cfg.Embedding.Endpoint != "https://api.example.com/v1" {
		t.Errorf("Embedding.Endpoint = %q", cfg.Embedding.Endpoint)
	}
}

func TestSave_APIKeyNeverWrittenToDisk(t *testing.T) {
	path := tempConfigPath(t)
	cm := NewConfigManager(path)
	if err := cm.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	cm.config.Embedding.APIKey = "sk-test-secret-key-12345"

	if err := cm.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if strings.Contains(string(data), "sk-test-secret-key-12345") {
		t.Error("API key found in plaintext on disk")
	}
}

func TestLoad_EnvVarOverridesAPIKey(t *testing.T) {
	path := tempConfigPath(t)
	t.Setenv("LOCALMEM_EMBEDDING_API_KEY", "env-provided-key")

	cm := NewConfigManager(path)
	if err := cm.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cm.Get().Embedding.APIKey != "env-provided-key" {
		t.Errorf("Embedding.APIKey = %q, want env-provided-key", cm.Get().Embedding.APIKey)
	}
}

func TestLoad_ExplicitFileOverridesDefaults(t *testing.T) {
	path := tempConfigPath(t)
	os.WriteFile(path, []byte(`{"dimension":384,"k1":50,"k2":10,"db_path":"other.db"}`), 0644)

	cm := NewConfigManager(path)
	if err := cm.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg := cm.Get()
	if cfg.Dimension != 384 || cfg.K1 != 50 || cfg.K2 != 10 || cfg.DBPath != "other.db" {
		t.Errorf("cfg = %+v, want overridden fields", cfg)
	}
}
