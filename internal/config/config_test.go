package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Synth.Mode != "mock" {
		t.Fatalf("expected default synth mode mock, got %q", cfg.Synth.Mode)
	}
	if cfg.Synth.MaxChunkChars != 1000 {
		t.Fatalf("expected default chunk budget 1000, got %d", cfg.Synth.MaxChunkChars)
	}
	if cfg.Storage.CapacityBytes != 5242880 {
		t.Fatalf("expected default capacity 5 MiB, got %d", cfg.Storage.CapacityBytes)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("NARRATOR_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("NARRATOR_BUS_USERNAME", "alice")
	t.Setenv("NARRATOR_BUS_PASSWORD", "secret")
	t.Setenv("NARRATOR_BUS_TLS_INSECURE", "true")
	t.Setenv("NARRATOR_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("NARRATOR_NODE_ID", "test-node")
	t.Setenv("NARRATOR_NODE_HEARTBEAT_INTERVAL_MS", "1500")
	t.Setenv("NARRATOR_NODE_HEARTBEAT_TIMEOUT_MS", "5000")
	t.Setenv("NARRATOR_SYNTH_MODE", "openai")
	t.Setenv("NARRATOR_SYNTH_API_KEY", "sk-test")
	t.Setenv("NARRATOR_SYNTH_VOICE", "nova")
	t.Setenv("NARRATOR_SYNTH_MAX_CHUNK_CHARS", "500")
	t.Setenv("NARRATOR_STORAGE_DRIVER", "file")
	t.Setenv("NARRATOR_STORAGE_CAPACITY_BYTES", "1048576")
	t.Setenv("NARRATOR_VALIDATION_THRESHOLD", "3.5")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.Bus.ConnectTimeout != 5000 {
		t.Fatalf("expected timeout 5000, got %d", cfg.Bus.ConnectTimeout)
	}
	if cfg.Node.ID != "test-node" {
		t.Fatalf("expected node id override")
	}
	if cfg.Node.HeartbeatInterval != 1500 {
		t.Fatalf("expected heartbeat interval override")
	}
	if cfg.Synth.Mode != "openai" {
		t.Fatalf("expected synth mode override, got %q", cfg.Synth.Mode)
	}
	if cfg.Synth.APIKey != "sk-test" {
		t.Fatalf("expected api key override")
	}
	if cfg.Synth.Voice != "nova" {
		t.Fatalf("expected voice override, got %q", cfg.Synth.Voice)
	}
	if cfg.Synth.MaxChunkChars != 500 {
		t.Fatalf("expected chunk budget override, got %d", cfg.Synth.MaxChunkChars)
	}
	if cfg.Storage.Driver != "file" {
		t.Fatalf("expected storage driver override, got %q", cfg.Storage.Driver)
	}
	if cfg.Storage.CapacityBytes != 1048576 {
		t.Fatalf("expected capacity override, got %d", cfg.Storage.CapacityBytes)
	}
	if cfg.Validation.Threshold != 3.5 {
		t.Fatalf("expected threshold override, got %v", cfg.Validation.Threshold)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "narrator.yaml")
	body := []byte("runtime_name: custom\nsynth:\n  mode: exec\n  command: \"/usr/local/bin/speak --pcm\"\nstorage:\n  driver: memory\n")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RuntimeName != "custom" {
		t.Fatalf("expected runtime name from file, got %q", cfg.RuntimeName)
	}
	if cfg.Synth.Mode != "exec" || cfg.Synth.Command != "/usr/local/bin/speak --pcm" {
		t.Fatalf("expected exec synth from file, got %+v", cfg.Synth)
	}
	if cfg.Storage.Driver != "memory" {
		t.Fatalf("expected memory storage from file, got %q", cfg.Storage.Driver)
	}
	if cfg.Synth.SampleRate != 24000 {
		t.Fatalf("expected untouched sections to keep defaults, got %d", cfg.Synth.SampleRate)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad synth mode", func(c *Config) { c.Synth.Mode = "festival" }},
		{"exec without command", func(c *Config) { c.Synth.Mode = "exec"; c.Synth.Command = "" }},
		{"bad bits per sample", func(c *Config) { c.Synth.BitsPerSample = 12 }},
		{"bad storage driver", func(c *Config) { c.Storage.Driver = "redis" }},
		{"sqlite without path", func(c *Config) { c.Storage.Path = "" }},
		{"validation without endpoint", func(c *Config) { c.Validation.Enabled = true; c.Validation.Endpoint = "" }},
		{"timeout below interval", func(c *Config) { c.Node.HeartbeatTimeout = 1000 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			if err := validate(cfg); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
