package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	KafkaBootstrapServers string `koanf:"kafka_bootstrap_servers"`
	KafkaDriver           string `koanf:"kafka_driver"`
	DatabaseURL           string `koanf:"database_url"`
	LogLevel              string `koanf:"log_level"`

	HTTPPort    int `koanf:"http_port"`
	MetricsPort int `koanf:"metrics_port"`

	StopTimeoutSeconds      int `koanf:"stop_timeout_seconds"`
	PollTimeoutMS           int `koanf:"poll_timeout_ms"`
	InspectorTimeoutSeconds int `koanf:"inspector_timeout_seconds"`
}

// Load merges YAML (if present) with environment variables. Env keys map
// verbatim, lowercased: KAFKA_BOOTSTRAP_SERVERS → kafka_bootstrap_servers.
func Load(path string) (Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil &&
			!errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	}
	_ = k.Load(env.Provider("", ".", strings.ToLower), nil)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	return cfg, nil
}

// BootstrapServers splits the comma-separated bootstrap list.
func (c Config) BootstrapServers() []string {
	parts := strings.Split(c.KafkaBootstrapServers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c Config) StopTimeout() time.Duration {
	return time.Duration(c.StopTimeoutSeconds) * time.Second
}

func (c Config) PollTimeout() time.Duration {
	return time.Duration(c.PollTimeoutMS) * time.Millisecond
}

func (c Config) InspectorTimeout() time.Duration {
	return time.Duration(c.InspectorTimeoutSeconds) * time.Second
}

func applyDefaults(c *Config) {
	if c.KafkaBootstrapServers == "" {
		c.KafkaBootstrapServers = "localhost:9092"
	}
	if c.KafkaDriver == "" {
		c.KafkaDriver = "sarama"
	}
	if c.HTTPPort == 0 {
		c.HTTPPort = 8000
	}
	if c.MetricsPort == 0 {
		c.MetricsPort = 9100
	}
	if c.StopTimeoutSeconds == 0 {
		c.StopTimeoutSeconds = 30
	}
	if c.PollTimeoutMS == 0 {
		c.PollTimeoutMS = 1000
	}
	if c.InspectorTimeoutSeconds == 0 {
		c.InspectorTimeoutSeconds = 10
	}
}
