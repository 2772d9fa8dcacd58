package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseYAMLDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
server:
  url: ws://localhost:8040
worker_config:
  subscribed_events: [summarize]
  max_latency_ms: 300
  max_batch_size: 4
`), ".yaml")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Worker.ID == "" {
		t.Fatalf("expected generated worker id")
	}
	if cfg.Backoff.Initial.Duration != time.Second || cfg.Backoff.Max.Duration != 60*time.Second {
		t.Fatalf("unexpected backoff defaults: %+v", cfg.Backoff)
	}
	if cfg.Backoff.Jitter.Duration != time.Second || cfg.Backoff.RetryDelay.Duration != 5*time.Second {
		t.Fatalf("unexpected jitter/retry defaults: %+v", cfg.Backoff)
	}
	if cfg.Pool.Size != 1 || cfg.Workload.Name != "echo" {
		t.Fatalf("unexpected pool/workload defaults: %d %q", cfg.Pool.Size, cfg.Workload.Name)
	}
	if !cfg.HandshakeEnabled() {
		t.Fatalf("handshake should default to enabled")
	}
	wc := cfg.WorkerConfig
	if len(wc.SubscribedEvents) != 1 || wc.SubscribedEvents[0] != "summarize" {
		t.Fatalf("subscribed events: %v", wc.SubscribedEvents)
	}
	if wc.MaxLatencyMS == nil || *wc.MaxLatencyMS != 300 || wc.MaxBatchSize == nil || *wc.MaxBatchSize != 4 {
		t.Fatalf("numeric fields not parsed: %+v", wc)
	}
}

func TestParseTOML(t *testing.T) {
	cfg, err := Parse([]byte(`
handshake = false

[server]
url = "wss://dispatch.example:8040"

[backoff]
initial = "250ms"
max = "10s"

[worker_config]
subscribed_events = ["image_description"]
`), ".toml")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.HandshakeEnabled() {
		t.Fatalf("handshake should be disabled")
	}
	if cfg.Backoff.Initial.Duration != 250*time.Millisecond || cfg.Backoff.Max.Duration != 10*time.Second {
		t.Fatalf("durations not parsed: %+v", cfg.Backoff)
	}
	if cfg.WorkerConfig.MaxLatencyMS != nil {
		t.Fatalf("absent field must stay absent")
	}
}

func TestParseValidation(t *testing.T) {
	cases := map[string]string{
		"missing url":     `worker: {id: w1}`,
		"http scheme":     `server: {url: "http://localhost"}`,
		"max below init":  "server: {url: ws://x}\nbackoff: {initial: 10s, max: 1s}",
		"command no prog": "server: {url: ws://x}\nworkload: {name: command}",
		"bad duration":    "server: {url: ws://x}\nbackoff: {initial: soon}",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(doc), ".yml"); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker.yaml")
	if err := os.WriteFile(path, []byte("server:\n  url: ws://localhost:8040\nworker:\n  id: gpu-01\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Worker.ID != "gpu-01" {
		t.Fatalf("worker id: %q", cfg.Worker.ID)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil || !strings.Contains(err.Error(), "read config file") {
		t.Fatalf("expected read error, got %v", err)
	}
}
