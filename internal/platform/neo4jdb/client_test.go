package neo4jdb

import (
	"testing"
	"time"
)

func TestResolveConfigFromEnvDefaults(t *testing.T) {
	t.Setenv("NEO4J_URI", "")
	t.Setenv("NEO4J_USER", "")
	t.Setenv("NEO4J_TIMEOUT_SECONDS", "")

	cfg := ResolveConfigFromEnv()
	if cfg.URI != "bolt://localhost:7687" {
		t.Fatalf("URI: want=%q got=%q", "bolt://localhost:7687", cfg.URI)
	}
	if cfg.User != "neo4j" {
		t.Fatalf("User: want=%q got=%q", "neo4j", cfg.User)
	}
	if cfg.Timeout != 10*time.Second {
		t.Fatalf("Timeout: want=%v got=%v", 10*time.Second, cfg.Timeout)
	}
	if cfg.MaxPoolSize != 50 {
		t.Fatalf("MaxPoolSize: want=50 got=%d", cfg.MaxPoolSize)
	}
}

func TestConfigValidate(t *testing.T) {
	if err := (Config{URI: "neo4j://graph:7687"}).Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if err := (Config{URI: "localhost:7687"}).Validate(); err == nil {
		t.Fatalf("Validate: expected error for URI without scheme")
	}
	if err := (Config{}).Validate(); err == nil {
		t.Fatalf("Validate: expected error for empty URI")
	}
}
