package config

import (
	"os"
	"testing"
)

func TestExpandEnvVars(t *testing.T) {
	os.Setenv("TEST_VAR", "hello")
	defer os.Unsetenv("TEST_VAR")

	tests := []struct {
		input    string
		expected string
	}{
		{"${TEST_VAR}", "hello"},
		{"${TEST_VAR:default}", "hello"},
		{"${UNSET_VAR:fallback}", "fallback"},
		{"${UNSET_VAR}", ""},
		{"no vars here", "no vars here"},
		{"prefix-${TEST_VAR}-suffix", "prefix-hello-suffix"},
	}

	for _, tt := range tests {
		got := expandEnvVars(tt.input)
		if got != tt.expected {
			t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestLoadFile(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "test-config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmpFile.Name())

	content := `
server:
  host: "0.0.0.0"
  port: 9999
battle:
  fallback_deadline: 15s
`
	if _, err := tmpFile.WriteString(content); err != nil {
		t.Fatal(err)
	}
	tmpFile.Close()

	cfg := DefaultConfig()
	if err := LoadFile(tmpFile.Name(), cfg); err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Errorf("expected port 9999, got %d", cfg.Server.Port)
	}
	if cfg.Battle.FallbackDeadline.Seconds() != 15 {
		t.Errorf("expected fallback deadline 15s, got %s", cfg.Battle.FallbackDeadline)
	}
	// Untouched keys keep their defaults.
	if cfg.Battle.HistoryWindow != 4 {
		t.Errorf("expected default history window 4, got %d", cfg.Battle.HistoryWindow)
	}
}

func TestLoadFile_WithEnvVars(t *testing.T) {
	os.Setenv("TEST_PORT", "7777")
	defer os.Unsetenv("TEST_PORT")

	tmpFile, err := os.CreateTemp("", "test-config-env-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmpFile.Name())

	content := `
server:
  host: "${TEST_HOST:127.0.0.1}"
  port: ${TEST_PORT}
`
	if _, err := tmpFile.WriteString(content); err != nil {
		t.Fatal(err)
	}
	tmpFile.Close()

	var cfg Config
	if err := LoadFile(tmpFile.Name(), &cfg); err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("expected host 127.0.0.1 (default), got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 7777 {
		t.Errorf("expected port 7777, got %d", cfg.Server.Port)
	}
}

func TestModelsConfigValidate(t *testing.T) {
	valid := &ModelsConfig{
		Battle: []ModelDescriptor{
			{ID: "meta-llama/llama-3.3-70b-instruct:free", DisplayName: "Llama 3.3 70B", Provider: "chat_completion"},
			{ID: "gemini-2.0-flash", DisplayName: "Gemini 2.0 Flash", Provider: "multimodal", Vision: true},
		},
		Stream: map[string]StreamRoute{
			"gemini-2.0-flash": {Model: "gemini-2.0-flash", Provider: "multimodal"},
		},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	dup := &ModelsConfig{
		Battle: []ModelDescriptor{
			{ID: "a", Provider: "chat_completion"},
			{ID: "a", Provider: "chat_completion"},
		},
	}
	if err := dup.Validate(); err == nil {
		t.Error("expected duplicate id error")
	}

	badFamily := &ModelsConfig{
		Battle: []ModelDescriptor{{ID: "a", Provider: "mystery"}},
	}
	if err := badFamily.Validate(); err == nil {
		t.Error("expected unknown provider error")
	}
}

func TestVisionAnalysisModel(t *testing.T) {
	cfg := &ModelsConfig{
		Battle: []ModelDescriptor{
			{ID: "a", Provider: "chat_completion"},
			{ID: "gemini-2.0-flash", Provider: "multimodal", Vision: true},
		},
	}
	if got := cfg.VisionAnalysisModel(); got != "gemini-2.0-flash" {
		t.Errorf("expected gemini-2.0-flash, got %q", got)
	}

	none := &ModelsConfig{Battle: []ModelDescriptor{{ID: "a", Provider: "chat_completion"}}}
	if got := none.VisionAnalysisModel(); got != "" {
		t.Errorf("expected empty, got %q", got)
	}
}
