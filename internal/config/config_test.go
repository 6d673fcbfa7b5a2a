package config

import (
	"os"
	"reflect"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_DSN", "postgres://localhost/rxtrack")
	t.Setenv("LEDGER_GATEWAY_URL", "http://localhost:7545")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.KafkaBrokers != "localhost:9092" {
		t.Fatalf("KafkaBrokers = %q, want default localhost:9092", cfg.KafkaBrokers)
	}
	if cfg.LedgerConfirmTimeout != 2*time.Minute {
		t.Fatalf("LedgerConfirmTimeout = %v, want 2m", cfg.LedgerConfirmTimeout)
	}
	if cfg.APIPort != 8080 || cfg.MetricsPort != 9090 {
		t.Fatalf("ports = %d/%d, want 8080/9090", cfg.APIPort, cfg.MetricsPort)
	}
	if cfg.Environment != "development" || cfg.ServiceVersion != "1.0.0" {
		t.Fatalf("environment/version = %q/%q, want development/1.0.0", cfg.Environment, cfg.ServiceVersion)
	}
	if cfg.TraceSampleRate != 1 {
		t.Fatalf("TraceSampleRate = %v, want 1", cfg.TraceSampleRate)
	}
}

func TestTracing(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Environment:     "staging",
		ServiceVersion:  "2.3.1",
		OTLPEndpoint:    "collector:4317",
		TraceSampleRate: 0.25,
	}
	got := cfg.Tracing("rx-api")
	if got.ServiceName != "rx-api" || got.Version != "2.3.1" || got.Environment != "staging" {
		t.Fatalf("Tracing() identity = %q/%q/%q, want rx-api/2.3.1/staging", got.ServiceName, got.Version, got.Environment)
	}
	if got.OTLPEndpoint != "collector:4317" || got.SampleRate != 0.25 {
		t.Fatalf("Tracing() transport = %q/%v, want collector:4317/0.25", got.OTLPEndpoint, got.SampleRate)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	// t.Setenv registers restoration; the unset makes the variable absent
	// for this test regardless of the outer environment.
	t.Setenv("DATABASE_DSN", "")
	t.Setenv("LEDGER_GATEWAY_URL", "")
	os.Unsetenv("DATABASE_DSN")
	os.Unsetenv("LEDGER_GATEWAY_URL")

	if _, err := Load(); err == nil {
		t.Fatalf("Load() without required variables did not fail")
	}
}

func TestBrokers(t *testing.T) {
	t.Parallel()

	cfg := Config{KafkaBrokers: "broker-a:9092, broker-b:9092,,broker-c:9092"}
	want := []string{"broker-a:9092", "broker-b:9092", "broker-c:9092"}
	if got := cfg.Brokers(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Brokers() = %v, want %v", got, want)
	}
}

func TestKeys(t *testing.T) {
	t.Parallel()

	cfg := Config{APIKeys: "k1=DOCTOR:doc-1, k2=LOGISTICS:lg-1:0xcourier,malformed,"}
	want := map[string]string{
		"k1": "DOCTOR:doc-1",
		"k2": "LOGISTICS:lg-1:0xcourier",
	}
	if got := cfg.Keys(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Keys() = %v, want %v", got, want)
	}
}
