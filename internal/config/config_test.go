package config

import "testing"

func validConfig() Config {
	return Config{
		HTTP: HTTPConfig{Port: 8080},
		Database: DatabaseConfig{
			Addrs: []string{"localhost:6379"},
		},
		Embedding: EmbeddingConfig{
			Model: "text-embedding-3-small",
		},
	}
}

func TestValidate_Valid(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	for _, port := range []int{0, -1, 70000} {
		cfg := validConfig()
		cfg.HTTP.Port = port
		if err := cfg.Validate(); err == nil {
			t.Errorf("port %d: expected error", port)
		}
	}
}

func TestValidate_MissingDatabaseAddrs(t *testing.T) {
	cfg := validConfig()
	cfg.Database.Addrs = nil
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing database addrs")
	}
}

func TestValidate_MissingEmbeddingModel(t *testing.T) {
	cfg := validConfig()
	cfg.Embedding.Model = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing embedding model")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()

	if cfg.HTTP.ReadTimeoutSec != 10 {
		t.Errorf("expected ReadTimeoutSec=10, got %d", cfg.HTTP.ReadTimeoutSec)
	}
	if cfg.HTTP.ShutdownSec != 10 {
		t.Errorf("expected ShutdownSec=10, got %d", cfg.HTTP.ShutdownSec)
	}
	if cfg.Storage.KeyPrefix != "mailvec:" {
		t.Errorf("expected key prefix default, got %q", cfg.Storage.KeyPrefix)
	}
	if cfg.Storage.HNSWM != 16 || cfg.Storage.HNSWEFConstruct != 200 {
		t.Errorf("expected HNSW defaults, got M=%d EF=%d", cfg.Storage.HNSWM, cfg.Storage.HNSWEFConstruct)
	}
	if cfg.Embedding.Dimensions != 1024 {
		t.Errorf("expected Dimensions=1024, got %d", cfg.Embedding.Dimensions)
	}
	if cfg.Queue.Name != "default_embedding_queue" {
		t.Errorf("expected queue name default, got %q", cfg.Queue.Name)
	}
	if cfg.Queue.MaxRetries != 3 || cfg.Queue.RetryDelaySec != 30 {
		t.Errorf("expected retry defaults, got %d/%d", cfg.Queue.MaxRetries, cfg.Queue.RetryDelaySec)
	}
	if cfg.Search.RecencyWindowDays != 90 || cfg.Search.DescBreadth != 300 || cfg.Search.AscBreadth != 1000 {
		t.Errorf("expected breadth defaults, got %d/%d/%d",
			cfg.Search.RecencyWindowDays, cfg.Search.DescBreadth, cfg.Search.AscBreadth)
	}
	if cfg.Search.OverfetchFactor != 5 {
		t.Errorf("expected OverfetchFactor=5, got %d", cfg.Search.OverfetchFactor)
	}
}

func TestApplyDefaults_KeepsExplicitValues(t *testing.T) {
	cfg := Config{}
	cfg.Search.DescBreadth = 50
	cfg.Queue.Workers = 8
	cfg.ApplyDefaults()

	if cfg.Search.DescBreadth != 50 {
		t.Errorf("explicit DescBreadth overwritten: %d", cfg.Search.DescBreadth)
	}
	if cfg.Queue.Workers != 8 {
		t.Errorf("explicit Workers overwritten: %d", cfg.Queue.Workers)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("MAILVEC_TEST_ADDR", "redis:6380")

	in := []byte("addr: ${MAILVEC_TEST_ADDR}\nmodel: ${MAILVEC_TEST_UNSET:-fallback}\nempty: ${MAILVEC_TEST_UNSET}\n")
	out := string(expandEnvVars(in))

	want := "addr: redis:6380\nmodel: fallback\nempty: \n"
	if out != want {
		t.Errorf("expansion mismatch:\ngot:  %q\nwant: %q", out, want)
	}
}
