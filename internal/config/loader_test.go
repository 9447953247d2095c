package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/confab/internal/config"
)

func TestLoadFromReader_FullConfig(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  listen_addr: ":9090"
  log_level: debug
providers:
  stt:
    name: deepgram
    api_key: dg-key
    model: nova-2
  embeddings:
    name: openai
    api_key: oa-key
    model: text-embedding-3-small
  llm:
    name: gemini
    api_key: gm-key
    model: gemini-1.5-flash
session:
  summary_interval: 5s
  retrieval_k: 5
  sample_rate: 16000
  language: en-US
memory:
  backend: memory
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Providers.STT.Name != "deepgram" || cfg.Providers.STT.Model != "nova-2" {
		t.Errorf("STT entry = %+v", cfg.Providers.STT)
	}
	if cfg.Session.SummaryInterval != 5*time.Second {
		t.Errorf("SummaryInterval = %v", cfg.Session.SummaryInterval)
	}
	if cfg.Memory.Backend != config.IndexMemory {
		t.Errorf("Backend = %q", cfg.Memory.Backend)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  listen_addr: ":8080"
  banana: true
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: verbose
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestValidate_PostgresBackendRequiresDSN(t *testing.T) {
	t.Parallel()
	yaml := `
memory:
  backend: postgres
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for postgres backend without DSN, got nil")
	}
	if !strings.Contains(err.Error(), "postgres_dsn") {
		t.Errorf("error should mention postgres_dsn, got: %v", err)
	}
}

func TestValidate_InvalidBackend(t *testing.T) {
	t.Parallel()
	yaml := `
memory:
  backend: redis
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown backend, got nil")
	}
}

func TestValidate_NegativeSessionTuning(t *testing.T) {
	t.Parallel()
	yaml := `
session:
  summary_interval: -5s
  retrieval_k: -1
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors for negative session tuning, got nil")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "summary_interval") {
		t.Errorf("error should mention summary_interval, got: %v", err)
	}
	if !strings.Contains(errStr, "retrieval_k") {
		t.Errorf("error should mention retrieval_k, got: %v", err)
	}
}

func TestValidate_TLSRequiresBothFiles(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  tls:
    cert_file: /etc/confab/cert.pem
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for partial TLS config, got nil")
	}
	if !strings.Contains(err.Error(), "key_file") {
		t.Errorf("error should mention key_file, got: %v", err)
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	if len(config.ValidProviderNames) == 0 {
		t.Fatal("ValidProviderNames should not be empty")
	}
	sttNames := config.ValidProviderNames["stt"]
	if len(sttNames) == 0 || sttNames[0] != "deepgram" {
		t.Errorf("ValidProviderNames[\"stt\"] = %v, should contain deepgram", sttNames)
	}
}
