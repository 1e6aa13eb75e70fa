package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.KafkaBootstrapServers != "localhost:9092" {
		t.Fatalf("bootstrap %q", cfg.KafkaBootstrapServers)
	}
	if cfg.KafkaDriver != "sarama" {
		t.Fatalf("driver %q", cfg.KafkaDriver)
	}
	if cfg.StopTimeout() != 30*time.Second {
		t.Fatalf("stop timeout %v", cfg.StopTimeout())
	}
	if cfg.PollTimeout() != time.Second {
		t.Fatalf("poll timeout %v", cfg.PollTimeout())
	}
	if cfg.InspectorTimeout() != 10*time.Second {
		t.Fatalf("inspector timeout %v", cfg.InspectorTimeout())
	}
	if cfg.HTTPPort != 8000 || cfg.MetricsPort != 9100 {
		t.Fatalf("ports %d/%d", cfg.HTTPPort, cfg.MetricsPort)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("KAFKA_BOOTSTRAP_SERVERS", "k1:9092, k2:9092")
	t.Setenv("KAFKA_DRIVER", "franz")
	t.Setenv("STOP_TIMEOUT_SECONDS", "5")
	t.Setenv("POLL_TIMEOUT_MS", "250")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	servers := cfg.BootstrapServers()
	if len(servers) != 2 || servers[0] != "k1:9092" || servers[1] != "k2:9092" {
		t.Fatalf("servers %v", servers)
	}
	if cfg.KafkaDriver != "franz" {
		t.Fatalf("driver %q", cfg.KafkaDriver)
	}
	if cfg.StopTimeout() != 5*time.Second {
		t.Fatalf("stop timeout %v", cfg.StopTimeout())
	}
	if cfg.PollTimeout() != 250*time.Millisecond {
		t.Fatalf("poll timeout %v", cfg.PollTimeout())
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conductor.yml")
	raw := []byte("kafka_driver: franz\nhttp_port: 9001\n")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.KafkaDriver != "franz" {
		t.Fatalf("driver %q", cfg.KafkaDriver)
	}
	if cfg.HTTPPort != 9001 {
		t.Fatalf("port %d", cfg.HTTPPort)
	}
}

func TestLoad_MissingFileIsFine(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yml")); err != nil {
		t.Fatalf("missing config file must not fail: %v", err)
	}
}

func TestBootstrapServers_Empty(t *testing.T) {
	cfg := Config{KafkaBootstrapServers: " , "}
	if got := cfg.BootstrapServers(); len(got) != 0 {
		t.Fatalf("want empty, got %v", got)
	}
}
