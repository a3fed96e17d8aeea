package config

import (
	"strings"
	"testing"
	"time"
)

// TestLoadDefaults is not t.Parallel because it mutates process-wide environment variables.
func TestLoadDefaults(t *testing.T) {
	keys := []string{
		"SERVER_NAME", "SERVER_URL", "SERVER_PORT", "SERVER_ENV", "LOG_HEALTH_REQUESTS",
		"DATABASE_URL", "DATABASE_MAX_CONNS", "DATABASE_MIN_CONNS",
		"REDIS_URL",
		"JWT_SECRET", "JWT_ISSUER", "JWT_ACCESS_TTL",
		"GATEWAY_HEARTBEAT_MIN_MS", "GATEWAY_HEARTBEAT_MAX_MS", "GATEWAY_RESUME_MAX_EVENTS",
		"GATEWAY_MAX_FRAME_BYTES", "BOT_SHARD_GUILD_THRESHOLD",
		"RATE_LIMIT_ALL_COUNT", "RATE_LIMIT_ALL_WINDOW_SECONDS",
		"INVITE_JANITOR_INTERVAL", "CORS_ALLOW_ORIGINS",
	}
	for _, k := range keys {
		t.Setenv(k, "")
	}
	t.Setenv("JWT_SECRET", "test-secret-for-defaults-minimum-32")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}

	if cfg.ServerName != "Nocturne" {
		t.Errorf("ServerName = %q, want %q", cfg.ServerName, "Nocturne")
	}
	if cfg.ServerPort != 8080 {
		t.Errorf("ServerPort = %d, want 8080", cfg.ServerPort)
	}
	if cfg.ServerEnv != "production" {
		t.Errorf("ServerEnv = %q, want %q", cfg.ServerEnv, "production")
	}
	if cfg.DatabaseMaxConn != 25 {
		t.Errorf("DatabaseMaxConn = %d, want 25", cfg.DatabaseMaxConn)
	}
	if cfg.DatabaseMinConn != 5 {
		t.Errorf("DatabaseMinConn = %d, want 5", cfg.DatabaseMinConn)
	}
	if cfg.JWTAccessTTL != 15*time.Minute {
		t.Errorf("JWTAccessTTL = %v, want 15m", cfg.JWTAccessTTL)
	}
	if cfg.GatewayHeartbeatMinMS != 40000 || cfg.GatewayHeartbeatMaxMS != 42000 {
		t.Errorf("heartbeat range = [%d, %d], want [40000, 42000]", cfg.GatewayHeartbeatMinMS, cfg.GatewayHeartbeatMaxMS)
	}
	if cfg.GatewayResumeMaxEvents != 60 {
		t.Errorf("GatewayResumeMaxEvents = %d, want 60", cfg.GatewayResumeMaxEvents)
	}
	if cfg.GatewayMaxFrameBytes != 4096 {
		t.Errorf("GatewayMaxFrameBytes = %d, want 4096", cfg.GatewayMaxFrameBytes)
	}
	if cfg.BotShardGuildThreshold != 2500 {
		t.Errorf("BotShardGuildThreshold = %d, want 2500", cfg.BotShardGuildThreshold)
	}
	if cfg.InviteJanitorInterval != 30*time.Minute {
		t.Errorf("InviteJanitorInterval = %v, want 30m", cfg.InviteJanitorInterval)
	}
}

func TestLoadValidationRequiresJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() returned nil error, want validation error for missing JWT_SECRET")
	}
	if !strings.Contains(err.Error(), "JWT_SECRET") {
		t.Errorf("error %q does not mention JWT_SECRET", err.Error())
	}
}

func TestLoadValidationJWTSecretTooShort(t *testing.T) {
	t.Setenv("JWT_SECRET", "short")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() returned nil error, want validation error for short JWT_SECRET")
	}
	if !strings.Contains(err.Error(), "JWT_SECRET must be at least 32 characters") {
		t.Errorf("error %q does not mention minimum length", err.Error())
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SERVER_NAME", "Test Server")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("SERVER_ENV", "development")
	t.Setenv("DATABASE_MAX_CONNS", "50")
	t.Setenv("JWT_SECRET", "test-secret-key-that-is-32-chars!")
	t.Setenv("JWT_ACCESS_TTL", "30m")
	t.Setenv("GATEWAY_RESUME_MAX_EVENTS", "10")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}

	if cfg.ServerName != "Test Server" {
		t.Errorf("ServerName = %q, want %q", cfg.ServerName, "Test Server")
	}
	if cfg.ServerPort != 9090 {
		t.Errorf("ServerPort = %d, want 9090", cfg.ServerPort)
	}
	if cfg.ServerEnv != "development" {
		t.Errorf("ServerEnv = %q, want %q", cfg.ServerEnv, "development")
	}
	if cfg.DatabaseMaxConn != 50 {
		t.Errorf("DatabaseMaxConn = %d, want 50", cfg.DatabaseMaxConn)
	}
	if cfg.JWTAccessTTL != 30*time.Minute {
		t.Errorf("JWTAccessTTL = %v, want 30m", cfg.JWTAccessTTL)
	}
	if cfg.GatewayResumeMaxEvents != 10 {
		t.Errorf("GatewayResumeMaxEvents = %d, want 10", cfg.GatewayResumeMaxEvents)
	}
	// Development mode rewrites ServerURL to point at the local port.
	if cfg.ServerURL != "http://localhost:9090" {
		t.Errorf("ServerURL = %q, want %q", cfg.ServerURL, "http://localhost:9090")
	}
}

func TestLoadInvalidInt(t *testing.T) {
	t.Setenv("SERVER_PORT", "not-a-number")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() returned nil error, want parse error")
	}
	if !strings.Contains(err.Error(), "SERVER_PORT") {
		t.Errorf("error %q does not mention SERVER_PORT", err.Error())
	}
	if !strings.Contains(err.Error(), "not-a-number") {
		t.Errorf("error %q does not include the invalid value", err.Error())
	}
}

func TestLoadInvalidBool(t *testing.T) {
	t.Setenv("LOG_HEALTH_REQUESTS", "maybe")
	t.Setenv("JWT_SECRET", "test-secret-for-defaults-minimum-32")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() returned nil error, want parse error")
	}
	if !strings.Contains(err.Error(), "LOG_HEALTH_REQUESTS") {
		t.Errorf("error %q does not mention LOG_HEALTH_REQUESTS", err.Error())
	}
}

func TestLoadInvalidDuration(t *testing.T) {
	t.Setenv("INVITE_JANITOR_INTERVAL", "not-a-duration")
	t.Setenv("JWT_SECRET", "test-secret-for-defaults-minimum-32")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() returned nil error, want parse error")
	}
	if !strings.Contains(err.Error(), "INVITE_JANITOR_INTERVAL") {
		t.Errorf("error %q does not mention INVITE_JANITOR_INTERVAL", err.Error())
	}
}

func TestLoadMultipleErrors(t *testing.T) {
	t.Setenv("SERVER_PORT", "abc")
	t.Setenv("DATABASE_MAX_CONNS", "xyz")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() returned nil error, want multiple parse errors")
	}

	errStr := err.Error()
	if !strings.Contains(errStr, "SERVER_PORT") {
		t.Errorf("error missing SERVER_PORT, got: %s", errStr)
	}
	if !strings.Contains(errStr, "DATABASE_MAX_CONNS") {
		t.Errorf("error missing DATABASE_MAX_CONNS, got: %s", errStr)
	}
}

func TestIsDevelopment(t *testing.T) {
	tests := []struct {
		env  string
		want bool
	}{
		{"development", true},
		{"production", false},
		{"", false},
		{"staging", false},
	}
	for _, tt := range tests {
		cfg := &Config{ServerEnv: tt.env}
		if got := cfg.IsDevelopment(); got != tt.want {
			t.Errorf("IsDevelopment() with env=%q = %v, want %v", tt.env, got, tt.want)
		}
	}
}
