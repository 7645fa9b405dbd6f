package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agentsim.yaml")
	content := []byte(`
gateway:
  base_url: http://market.local/api
llm:
  provider: ollama
simulation:
  batch_size: 8
  population:
    count: 12
    distribution:
      philosopher: 1
logging:
  audit:
    enabled: true
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Gateway.BaseURL != "http://market.local/api" {
		t.Fatalf("unexpected gateway url %q", cfg.Gateway.BaseURL)
	}
	if cfg.LLM.BaseURL != "http://localhost:11434" {
		t.Fatalf("expected ollama default base url, got %q", cfg.LLM.BaseURL)
	}
	if cfg.Simulation.BatchSize != 8 || cfg.Simulation.Population.Count != 12 {
		t.Fatalf("simulation section not decoded: %+v", cfg.Simulation)
	}
	if cfg.Simulation.TickInterval() != 5*time.Second {
		t.Fatalf("unexpected tick interval %v", cfg.Simulation.TickInterval())
	}
	if cfg.Logging.Audit.Path != filepath.Join(dir, "logs", "audit.log") {
		t.Fatalf("unexpected audit path %q", cfg.Logging.Audit.Path)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LLM.Provider != "vllm" || cfg.Simulation.BatchSize != 32 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.LLM.RequestDelay() != 100*time.Millisecond {
		t.Fatalf("unexpected request delay %v", cfg.LLM.RequestDelay())
	}
}

func TestLoadRejectsEmptyPath(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	env := map[string]string{
		"GATEWAY_URL":           "http://gw:9000/api",
		"LLM_PROVIDER":          "Anthropic",
		"LLM_API_KEY":           "sk-test",
		"BATCH_SIZE":            "4",
		"TICK_INTERVAL_SECONDS": "0.5",
	}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}

	cfg := Default()
	if err := cfg.ApplyEnv(lookup); err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if cfg.Gateway.BaseURL != "http://gw:9000/api" || cfg.LLM.Provider != "anthropic" {
		t.Fatalf("env not applied: %+v", cfg)
	}
	if cfg.Simulation.BatchSize != 4 || cfg.Simulation.TickInterval() != 500*time.Millisecond {
		t.Fatalf("numeric env not applied: %+v", cfg.Simulation)
	}
	if cfg.LLM.ResolvedAPIKey() != "sk-test" {
		t.Fatalf("api key not resolved")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestApplyEnvRejectsBadBatchSize(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(func(key string) (string, bool) {
		if key == "BATCH_SIZE" {
			return "zero", true
		}
		return "", false
	})
	if err == nil {
		t.Fatalf("expected error for invalid batch size")
	}
}

func TestValidateUnknownProvider(t *testing.T) {
	cfg := Default()
	cfg.LLM.Provider = "mystery"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestDefaultPortsDoNotCollide(t *testing.T) {
	cfg := Default()
	if cfg.Server.Address != ":8080" {
		t.Fatalf("unexpected server address %q", cfg.Server.Address)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestValidateRejectsLLMOnServerPort(t *testing.T) {
	cases := []struct {
		server string
		llm    string
		bad    bool
	}{
		{":8000", "http://localhost:8000/v1", true},
		{"127.0.0.1:9090", "http://127.0.0.1:9090/v1", true},
		{"10.0.0.5:80", "http://10.0.0.5/v1", true},
		{":8080", "http://localhost:8000/v1", false},
		{":8000", "http://gpu-box:8000/v1", false},
	}
	for _, tc := range cases {
		cfg := Default()
		cfg.Server.Address = tc.server
		cfg.LLM.BaseURL = tc.llm
		err := cfg.Validate()
		if tc.bad && err == nil {
			t.Fatalf("server %s with llm %s should be rejected", tc.server, tc.llm)
		}
		if !tc.bad && err != nil {
			t.Fatalf("server %s with llm %s: %v", tc.server, tc.llm, err)
		}
	}
}

func TestResolvedAPIKeyFromEnv(t *testing.T) {
	t.Setenv("AGENTSIM_TEST_KEY", " abc ")
	l := LLMConfig{APIKeyEnv: "AGENTSIM_TEST_KEY"}
	if l.ResolvedAPIKey() != "abc" {
		t.Fatalf("unexpected key %q", l.ResolvedAPIKey())
	}
}
