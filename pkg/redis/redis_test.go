package redis

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"
)

// getTestConfig returns config for testing
func getTestConfig() *Config {
	cfg := DefaultConfig()

	if host := os.Getenv("TEST_REDIS_HOST"); host != "" {
		cfg.Host = host
	}
	if password := os.Getenv("TEST_REDIS_PASSWORD"); password != "" {
		cfg.Password = password
	}

	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Host != "localhost" {
		t.Errorf("Expected host 'localhost', got '%s'", cfg.Host)
	}
	if cfg.Port != 6379 {
		t.Errorf("Expected port 6379, got %d", cfg.Port)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("Expected max retries 3, got %d", cfg.MaxRetries)
	}
}

func TestConfig_Addr(t *testing.T) {
	cfg := &Config{
		Host: "redis.example.com",
		Port: 6380,
	}

	expected := "redis.example.com:6380"
	if cfg.Addr() != expected {
		t.Errorf("Expected addr '%s', got '%s'", expected, cfg.Addr())
	}
}

func TestNewClient_InvalidConfig(t *testing.T) {
	cfg := &Config{
		Host:          "invalid-host-that-does-not-exist",
		Port:          9999,
		MaxRetries:    0,
		RetryInterval: 100 * time.Millisecond,
		DialTimeout:   500 * time.Millisecond,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := NewClient(ctx, cfg)
	if err == nil {
		t.Error("Expected error for invalid config, got nil")
	}
}

func TestComputeSHA1(t *testing.T) {
	script := "return 1"
	sha := computeSHA1(script)

	// SHA1 should be 40 hex characters
	if len(sha) != 40 {
		t.Errorf("Expected SHA1 length 40, got %d", len(sha))
	}

	if sha != computeSHA1(script) {
		t.Error("Same script should produce same SHA")
	}
	if sha == computeSHA1("return 2") {
		t.Error("Different scripts should produce different SHAs")
	}
}

func TestIsNoScriptError(t *testing.T) {
	tests := []struct {
		err      error
		expected bool
	}{
		{nil, false},
		{fmt.Errorf("some error"), false},
		{fmt.Errorf("NOSCRIPT No matching script. Please use EVAL."), true},
		{fmt.Errorf("NOSCRIPT some other message"), true},
	}

	for _, tt := range tests {
		result := isNoScriptError(tt.err)
		if result != tt.expected {
			t.Errorf("isNoScriptError(%v) = %v, want %v", tt.err, result, tt.expected)
		}
	}
}

// Integration tests - require Redis to be running

func TestNewClient_Integration(t *testing.T) {
	if os.Getenv("INTEGRATION_TEST") != "true" {
		t.Skip("Skipping integration test. Set INTEGRATION_TEST=true to run")
	}

	cfg := getTestConfig()
	ctx := context.Background()

	client, err := NewClient(ctx, cfg)
	if err != nil {
		t.Fatalf("Failed to connect to redis: %v", err)
	}
	defer client.Close()

	if err := client.Ping(ctx); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
	if !client.IsConnected(ctx) {
		t.Error("Expected IsConnected to return true")
	}
}

func TestClient_SetNXMarker_Integration(t *testing.T) {
	if os.Getenv("INTEGRATION_TEST") != "true" {
		t.Skip("Skipping integration test. Set INTEGRATION_TEST=true to run")
	}

	cfg := getTestConfig()
	ctx := context.Background()

	client, err := NewClient(ctx, cfg)
	if err != nil {
		t.Fatalf("Failed to connect to redis: %v", err)
	}
	defer client.Close()

	testKey := "test:marker:" + time.Now().Format("20060102150405")
	defer client.Del(ctx, testKey)

	// First writer wins the marker
	ok, err := client.SetNX(ctx, testKey, "owner-1", time.Minute).Result()
	if err != nil {
		t.Fatalf("SetNX failed: %v", err)
	}
	if !ok {
		t.Error("Expected first SetNX to win")
	}

	// Second writer is rejected while the marker lives
	ok, err = client.SetNX(ctx, testKey, "owner-2", time.Minute).Result()
	if err != nil {
		t.Fatalf("Second SetNX failed: %v", err)
	}
	if ok {
		t.Error("Expected second SetNX to lose")
	}

	val, err := client.Get(ctx, testKey).Result()
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if val != "owner-1" {
		t.Errorf("Expected marker owner-1, got '%s'", val)
	}
}

func TestClient_EvalWithFallback_Integration(t *testing.T) {
	if os.Getenv("INTEGRATION_TEST") != "true" {
		t.Skip("Skipping integration test. Set INTEGRATION_TEST=true to run")
	}

	cfg := getTestConfig()
	ctx := context.Background()

	client, err := NewClient(ctx, cfg)
	if err != nil {
		t.Fatalf("Failed to connect to redis: %v", err)
	}
	defer client.Close()

	// Compare-and-delete: remove the key only when the value matches
	script := `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`
	scriptName := "test_compare_and_delete"
	testKey := "test:cad:" + time.Now().Format("20060102150405")
	defer client.Del(ctx, testKey)

	if err := client.Set(ctx, testKey, "owner-1", time.Minute).Err(); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// Wrong owner does not delete
	deleted, err := client.EvalWithFallback(ctx, scriptName, script, []string{testKey}, "owner-2").Int()
	if err != nil {
		t.Fatalf("EvalWithFallback failed: %v", err)
	}
	if deleted != 0 {
		t.Error("Expected non-owner delete to be rejected")
	}

	// Second call goes through the cached SHA; right owner deletes
	deleted, err = client.EvalWithFallback(ctx, scriptName, script, []string{testKey}, "owner-1").Int()
	if err != nil {
		t.Fatalf("Second EvalWithFallback failed: %v", err)
	}
	if deleted != 1 {
		t.Error("Expected owner delete to succeed")
	}

	if _, ok := client.GetScriptSHA(scriptName); !ok {
		t.Error("Expected script SHA to be cached")
	}

	exists, _ := client.Exists(ctx, testKey).Result()
	if exists != 0 {
		t.Error("Key should not exist after compare-and-delete")
	}
}
