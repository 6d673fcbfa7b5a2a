// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"

	"github.com/medledger/rxtrack/internal/observability/tracing"
)

type Config struct {
	DatabaseDSN          string        `env:"DATABASE_DSN,required=true"`
	KafkaBrokers         string        `env:"KAFKA_BROKERS,default=localhost:9092"`
	LedgerGatewayURL     string        `env:"LEDGER_GATEWAY_URL,required=true"`
	LedgerConfirmTimeout time.Duration `env:"LEDGER_CONFIRM_TIMEOUT,default=2m"`
	EscalationInterval   time.Duration `env:"ESCALATION_INTERVAL,default=1m"`
	APIPort              int           `env:"API_PORT,default=8080"`
	MetricsPort          int           `env:"METRICS_PORT,default=9090"`
	OTLPEndpoint         string        `env:"OTLP_ENDPOINT,default=localhost:4317"`
	Environment          string        `env:"ENVIRONMENT,default=development"`
	ServiceVersion       string        `env:"SERVICE_VERSION,default=1.0.0"`
	TraceSampleRate      float64       `env:"TRACE_SAMPLE_RATE,default=1"`
	LogLevel             string        `env:"LOG_LEVEL,default=info"`
	// APIKeys maps api key to "ROLE:actor_id[:wallet]", comma separated.
	APIKeys string `env:"API_KEYS"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// Tracing builds the span pipeline configuration for one service
// process.
func (c *Config) Tracing(serviceName string) tracing.Config {
	return tracing.Config{
		ServiceName:  serviceName,
		Version:      c.ServiceVersion,
		Environment:  c.Environment,
		OTLPEndpoint: c.OTLPEndpoint,
		SampleRate:   c.TraceSampleRate,
	}
}

// Brokers splits KafkaBrokers into a broker address list.
func (c *Config) Brokers() []string {
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Keys parses APIKeys into a key → principal map. Malformed entries
// are skipped.
func (c *Config) Keys() map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(c.APIKeys, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, principal, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		out[key] = principal
	}
	return out
}
