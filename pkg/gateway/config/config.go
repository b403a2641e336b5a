package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr string

	// PublicURL is the externally reachable base URL of this gateway; the
	// telephony provider dials back to it for the media stream, so it must
	// be https (the stream URL is derived as wss).
	PublicURL string

	// Telephony provider credentials.
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string

	// Speech-to-speech agent.
	AgentURL        string
	DeepgramAPIKey  string
	ListenModel     string
	ThinkModel      string
	SpeakModel      string
	GreetingEnabled bool

	// Resume extraction backend (OpenAI-compatible chat completions).
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	DatabaseURL string

	// CORS
	CORSAllowedOrigins map[string]struct{} // empty => disabled

	// Per-call timing.
	FarewellGrace    time.Duration
	CloseTimeout     time.Duration
	WriteTimeout     time.Duration
	HandshakeTimeout time.Duration
	AudioQueueFrames int

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                envOr("PRESCREEN_ADDR", ":8080"),
		PublicURL:           envOr("PRESCREEN_PUBLIC_URL", ""),
		TwilioAccountSID:    envOr("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:     envOr("TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber:    envOr("TWILIO_FROM_NUMBER", ""),
		AgentURL:            envOr("PRESCREEN_AGENT_URL", "wss://agent.deepgram.com/agent"),
		DeepgramAPIKey:      envOr("DEEPGRAM_API_KEY", ""),
		ListenModel:         envOr("PRESCREEN_LISTEN_MODEL", "nova-3"),
		ThinkModel:          envOr("PRESCREEN_THINK_MODEL", "gpt-4o-mini"),
		SpeakModel:          envOr("PRESCREEN_SPEAK_MODEL", "aura-asteria-en"),
		GreetingEnabled:     envBoolOr("PRESCREEN_GREETING_ENABLED", true),
		OpenAIAPIKey:        envOr("OPENAI_API_KEY", ""),
		OpenAIBaseURL:       envOr("PRESCREEN_OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIModel:         envOr("PRESCREEN_OPENAI_MODEL", "gpt-4o-mini"),
		DatabaseURL:         envOr("PRESCREEN_DATABASE_URL", ""),
		CORSAllowedOrigins:  make(map[string]struct{}),
		FarewellGrace:       envDurationOr("PRESCREEN_FAREWELL_GRACE", 2*time.Second),
		CloseTimeout:        envDurationOr("PRESCREEN_CLOSE_TIMEOUT", 5*time.Second),
		WriteTimeout:        envDurationOr("PRESCREEN_WS_WRITE_TIMEOUT", 5*time.Second),
		HandshakeTimeout:    envDurationOr("PRESCREEN_HANDSHAKE_TIMEOUT", 10*time.Second),
		AudioQueueFrames:    envIntOr("PRESCREEN_AUDIO_QUEUE_FRAMES", 8),
		ReadHeaderTimeout:   envDurationOr("PRESCREEN_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod: envDurationOr("PRESCREEN_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	for _, origin := range splitCSV(os.Getenv("PRESCREEN_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if strings.TrimSpace(cfg.PublicURL) == "" {
		return Config{}, fmt.Errorf("PRESCREEN_PUBLIC_URL must be set")
	}
	u, err := url.Parse(cfg.PublicURL)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return Config{}, fmt.Errorf("PRESCREEN_PUBLIC_URL must be a valid https URL")
	}
	if strings.TrimSpace(cfg.TwilioAccountSID) == "" {
		return Config{}, fmt.Errorf("TWILIO_ACCOUNT_SID must be set")
	}
	if strings.TrimSpace(cfg.TwilioAuthToken) == "" {
		return Config{}, fmt.Errorf("TWILIO_AUTH_TOKEN must be set")
	}
	if strings.TrimSpace(cfg.TwilioFromNumber) == "" {
		return Config{}, fmt.Errorf("TWILIO_FROM_NUMBER must be set")
	}
	if strings.TrimSpace(cfg.DeepgramAPIKey) == "" {
		return Config{}, fmt.Errorf("DEEPGRAM_API_KEY must be set")
	}
	if strings.TrimSpace(cfg.AgentURL) == "" {
		return Config{}, fmt.Errorf("PRESCREEN_AGENT_URL must not be empty")
	}
	if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
		return Config{}, fmt.Errorf("OPENAI_API_KEY must be set")
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return Config{}, fmt.Errorf("PRESCREEN_DATABASE_URL must be set")
	}
	if cfg.FarewellGrace <= 0 {
		return Config{}, fmt.Errorf("PRESCREEN_FAREWELL_GRACE must be > 0")
	}
	if cfg.CloseTimeout <= 0 {
		return Config{}, fmt.Errorf("PRESCREEN_CLOSE_TIMEOUT must be > 0")
	}
	if cfg.WriteTimeout <= 0 {
		return Config{}, fmt.Errorf("PRESCREEN_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.HandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("PRESCREEN_HANDSHAKE_TIMEOUT must be > 0")
	}
	if cfg.AudioQueueFrames <= 0 {
		return Config{}, fmt.Errorf("PRESCREEN_AUDIO_QUEUE_FRAMES must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("PRESCREEN_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("PRESCREEN_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

// StreamURL derives the websocket endpoint the telephony provider connects
// back to for the call's media stream.
func (c Config) StreamURL() string {
	base := strings.TrimSuffix(c.PublicURL, "/")
	return "wss" + strings.TrimPrefix(base, "https") + "/twilio"
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
