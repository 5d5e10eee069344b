package config

import (
	"os"
	"path/filepath"
	"testing"
)

// --- Validate ---

func TestValidate_ValidConfig(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_MaxSteps_OutOfRange(t *testing.T) {
	cfg := Defaults()
	cfg.General.MaxSteps = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for maxSteps=0")
	}

	cfg = Defaults()
	cfg.General.MaxSteps = 999
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for maxSteps=999")
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := Defaults()
	cfg.Channels.Web.Port = -1
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for negative port")
	}

	cfg.Channels.Web.Port = 70000
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for port > 65535")
	}
}

func TestValidate_TelegramNeedsToken(t *testing.T) {
	cfg := Defaults()
	cfg.Channels.Telegram.Enabled = true
	cfg.Channels.Telegram.Token = ""
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for enabled telegram without token")
	}
}

func TestValidate_RemoteToolsNeedBase(t *testing.T) {
	cfg := Defaults()
	cfg.Tools.RemoteTools = []string{"getRidePrices"}
	cfg.Tools.RemoteBase = ""
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for remoteTools without remoteBase")
	}
}

func TestValidate_InvalidTTSProvider(t *testing.T) {
	cfg := Defaults()
	cfg.Voice.TTS.Provider = "espeak"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown tts provider")
	}
}

// --- Load / Save ---

func TestLoadSave_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	original := Defaults()
	original.Provider.DefaultModel = "test-model"
	original.Provider.APIKey = "sk-test"

	if err := Save(path, original); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if loaded.Provider.DefaultModel != "test-model" {
		t.Fatalf("expected 'test-model', got %q", loaded.Provider.DefaultModel)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.json")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	os.WriteFile(path, []byte("{not json}"), 0o644)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestLoad_ValidatesConfig(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.json")
	content := `{
		"general": {
			"maxSteps": 0
		}
	}`
	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(cfgFile)
	if err == nil {
		t.Fatal("expected validation error for maxSteps=0")
	}
}

func TestLoad_ExpandsPaths(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.json")
	content := `{
		"store": {"dbPath": "~/carebot-test.db"}
	}`
	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgFile)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if filepath.IsAbs(cfg.Store.DBPath) == false {
		t.Fatalf("expected expanded absolute path, got %q", cfg.Store.DBPath)
	}
}

// --- ExpandEnvVars ---

func TestExpandEnvVars_SimpleSubstitution(t *testing.T) {
	t.Setenv("TEST_API_KEY", "sk-abc123")
	result := ExpandEnvVars(`{"apiKey": "${TEST_API_KEY}"}`)
	expected := `{"apiKey": "sk-abc123"}`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_DefaultValue(t *testing.T) {
	os.Unsetenv("NONEXISTENT_VAR_12345")
	result := ExpandEnvVars(`{"port": "${NONEXISTENT_VAR_12345:-8080}"}`)
	expected := `{"port": "8080"}`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_SetVarOverridesDefault(t *testing.T) {
	t.Setenv("MY_PORT", "9090")
	result := ExpandEnvVars(`{"port": "${MY_PORT:-8080}"}`)
	expected := `{"port": "9090"}`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_UnsetVarNoDefault_KeepsOriginal(t *testing.T) {
	os.Unsetenv("TOTALLY_UNSET_VAR_XYZ")
	result := ExpandEnvVars(`"${TOTALLY_UNSET_VAR_XYZ}"`)
	expected := `"${TOTALLY_UNSET_VAR_XYZ}"`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_EmptyVarUsesDefault(t *testing.T) {
	t.Setenv("EMPTY_VAR", "")
	result := ExpandEnvVars(`"${EMPTY_VAR:-fallback}"`)
	expected := `"fallback"`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_DollarSignWithoutBraces(t *testing.T) {
	input := `"$HOME is not substituted"`
	result := ExpandEnvVars(input)
	if result != input {
		t.Fatalf("expected no change for bare $VAR, got %q", result)
	}
}

// --- Defaults ---

func TestDefaults_ReturnsValidConfig(t *testing.T) {
	cfg := Defaults()
	if cfg == nil {
		t.Fatal("defaults returned nil")
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("defaults should be valid: %v", err)
	}
	if cfg.General.MaxSteps != 10 {
		t.Fatalf("default maxSteps should be 10, got %d", cfg.General.MaxSteps)
	}
	if cfg.Rides.MaxSteps != 25 {
		t.Fatalf("default ride agent step cap should be 25, got %d", cfg.Rides.MaxSteps)
	}
}
