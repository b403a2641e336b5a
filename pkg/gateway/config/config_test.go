package config

import (
	"strings"
	"testing"
	"time"
)

var gatewayEnvKeys = []string{
	"PRESCREEN_ADDR",
	"PRESCREEN_PUBLIC_URL",
	"TWILIO_ACCOUNT_SID",
	"TWILIO_AUTH_TOKEN",
	"TWILIO_FROM_NUMBER",
	"PRESCREEN_AGENT_URL",
	"DEEPGRAM_API_KEY",
	"PRESCREEN_LISTEN_MODEL",
	"PRESCREEN_THINK_MODEL",
	"PRESCREEN_SPEAK_MODEL",
	"PRESCREEN_GREETING_ENABLED",
	"OPENAI_API_KEY",
	"PRESCREEN_OPENAI_BASE_URL",
	"PRESCREEN_OPENAI_MODEL",
	"PRESCREEN_DATABASE_URL",
	"PRESCREEN_CORS_ORIGINS",
	"PRESCREEN_FAREWELL_GRACE",
	"PRESCREEN_CLOSE_TIMEOUT",
	"PRESCREEN_WS_WRITE_TIMEOUT",
	"PRESCREEN_HANDSHAKE_TIMEOUT",
	"PRESCREEN_AUDIO_QUEUE_FRAMES",
	"PRESCREEN_READ_HEADER_TIMEOUT",
	"PRESCREEN_SHUTDOWN_GRACE_PERIOD",
}

func clearGatewayEnv(t *testing.T) {
	t.Helper()
	for _, key := range gatewayEnvKeys {
		t.Setenv(key, "")
	}
}

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("PRESCREEN_PUBLIC_URL", "https://prescreen.example.com")
	t.Setenv("TWILIO_ACCOUNT_SID", "ACxxxxxxxx")
	t.Setenv("TWILIO_AUTH_TOKEN", "secret")
	t.Setenv("TWILIO_FROM_NUMBER", "+15550001111")
	t.Setenv("DEEPGRAM_API_KEY", "dg_test")
	t.Setenv("OPENAI_API_KEY", "sk_test")
	t.Setenv("PRESCREEN_DATABASE_URL", "postgres://localhost:5432/prescreen")
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearGatewayEnv(t)
	setRequiredEnv(t)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Addr != ":8080" {
		t.Fatalf("Addr = %q, want :8080", cfg.Addr)
	}
	if cfg.AgentURL != "wss://agent.deepgram.com/agent" {
		t.Fatalf("AgentURL = %q", cfg.AgentURL)
	}
	if cfg.ListenModel != "nova-3" {
		t.Fatalf("ListenModel = %q, want nova-3", cfg.ListenModel)
	}
	if cfg.ThinkModel != "gpt-4o-mini" {
		t.Fatalf("ThinkModel = %q, want gpt-4o-mini", cfg.ThinkModel)
	}
	if cfg.SpeakModel != "aura-asteria-en" {
		t.Fatalf("SpeakModel = %q, want aura-asteria-en", cfg.SpeakModel)
	}
	if !cfg.GreetingEnabled {
		t.Fatalf("GreetingEnabled = false, want true")
	}
	if cfg.OpenAIBaseURL != "https://api.openai.com/v1" {
		t.Fatalf("OpenAIBaseURL = %q", cfg.OpenAIBaseURL)
	}
	if cfg.FarewellGrace != 2*time.Second {
		t.Fatalf("FarewellGrace = %v, want 2s", cfg.FarewellGrace)
	}
	if cfg.CloseTimeout != 5*time.Second {
		t.Fatalf("CloseTimeout = %v, want 5s", cfg.CloseTimeout)
	}
	if cfg.WriteTimeout != 5*time.Second {
		t.Fatalf("WriteTimeout = %v, want 5s", cfg.WriteTimeout)
	}
	if cfg.HandshakeTimeout != 10*time.Second {
		t.Fatalf("HandshakeTimeout = %v, want 10s", cfg.HandshakeTimeout)
	}
	if cfg.AudioQueueFrames != 8 {
		t.Fatalf("AudioQueueFrames = %d, want 8", cfg.AudioQueueFrames)
	}
	if cfg.ShutdownGracePeriod != 30*time.Second {
		t.Fatalf("ShutdownGracePeriod = %v, want 30s", cfg.ShutdownGracePeriod)
	}
	if len(cfg.CORSAllowedOrigins) != 0 {
		t.Fatalf("CORSAllowedOrigins = %v, want empty", cfg.CORSAllowedOrigins)
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	clearGatewayEnv(t)
	setRequiredEnv(t)
	t.Setenv("PRESCREEN_ADDR", ":9090")
	t.Setenv("PRESCREEN_FAREWELL_GRACE", "750ms")
	t.Setenv("PRESCREEN_GREETING_ENABLED", "false")
	t.Setenv("PRESCREEN_CORS_ORIGINS", "https://a.example.com, https://b.example.com")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.Addr != ":9090" {
		t.Fatalf("Addr = %q, want :9090", cfg.Addr)
	}
	if cfg.FarewellGrace != 750*time.Millisecond {
		t.Fatalf("FarewellGrace = %v, want 750ms", cfg.FarewellGrace)
	}
	if cfg.GreetingEnabled {
		t.Fatalf("GreetingEnabled = true, want false")
	}
	if len(cfg.CORSAllowedOrigins) != 2 {
		t.Fatalf("CORSAllowedOrigins = %v, want 2 entries", cfg.CORSAllowedOrigins)
	}
	if _, ok := cfg.CORSAllowedOrigins["https://a.example.com"]; !ok {
		t.Fatalf("missing trimmed origin in %v", cfg.CORSAllowedOrigins)
	}
}

func TestLoadFromEnv_MissingRequired(t *testing.T) {
	cases := []struct {
		name string
		omit string
	}{
		{"public url", "PRESCREEN_PUBLIC_URL"},
		{"twilio sid", "TWILIO_ACCOUNT_SID"},
		{"twilio token", "TWILIO_AUTH_TOKEN"},
		{"twilio from", "TWILIO_FROM_NUMBER"},
		{"deepgram key", "DEEPGRAM_API_KEY"},
		{"openai key", "OPENAI_API_KEY"},
		{"database url", "PRESCREEN_DATABASE_URL"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearGatewayEnv(t)
			setRequiredEnv(t)
			t.Setenv(tc.omit, "")

			if _, err := LoadFromEnv(); err == nil {
				t.Fatalf("expected error with %s unset", tc.omit)
			} else if !strings.Contains(err.Error(), tc.omit) {
				t.Fatalf("err=%v, want mention of %s", err, tc.omit)
			}
		})
	}
}

func TestLoadFromEnv_RejectsNonHTTPSPublicURL(t *testing.T) {
	clearGatewayEnv(t)
	setRequiredEnv(t)
	t.Setenv("PRESCREEN_PUBLIC_URL", "http://prescreen.example.com")

	if _, err := LoadFromEnv(); err == nil {
		t.Fatalf("expected error for non-https public URL")
	}
}

func TestLoadFromEnv_RejectsNonPositiveDurations(t *testing.T) {
	clearGatewayEnv(t)
	setRequiredEnv(t)
	t.Setenv("PRESCREEN_CLOSE_TIMEOUT", "-1s")

	if _, err := LoadFromEnv(); err == nil {
		t.Fatalf("expected error for negative close timeout")
	}
}

func TestStreamURL(t *testing.T) {
	cfg := Config{PublicURL: "https://prescreen.example.com"}
	if got := cfg.StreamURL(); got != "wss://prescreen.example.com/twilio" {
		t.Fatalf("StreamURL() = %q", got)
	}
	cfg.PublicURL = "https://prescreen.example.com/"
	if got := cfg.StreamURL(); got != "wss://prescreen.example.com/twilio" {
		t.Fatalf("StreamURL() with trailing slash = %q", got)
	}
}
