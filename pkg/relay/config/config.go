// Package config loads the service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr string

	// PublicHost is the externally reachable host for TwiML and websocket
	// URLs, e.g. "relay.example.com".
	PublicHost string

	OpenAIAPIKey string
	OpenAIModel  string

	// Twilio REST credentials for placing outbound calls. Optional; the
	// relay endpoint works without them.
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string

	// Per-call orchestration timings.
	SilenceTimeout    time.Duration
	MaxSilenceRetries int
	MaxCallDuration   time.Duration
	EndGraceDelay     time.Duration
	TurnTimeout       time.Duration

	TTSLanguage           string
	TranscriptionLanguage string

	// Websocket handling.
	WSWriteTimeout     time.Duration
	WSHandshakeTimeout time.Duration
	WSMaxMessageBytes  int64

	// Operational defaults.
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                  envOr("COLLECTRELAY_ADDR", ":8080"),
		PublicHost:            envOr("COLLECTRELAY_PUBLIC_HOST", ""),
		OpenAIAPIKey:          envOr("OPENAI_API_KEY", ""),
		OpenAIModel:           envOr("COLLECTRELAY_OPENAI_MODEL", "gpt-4o-mini"),
		TwilioAccountSID:      envOr("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:       envOr("TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber:      envOr("TWILIO_FROM_NUMBER", ""),
		SilenceTimeout:        envDurationOr("COLLECTRELAY_SILENCE_TIMEOUT", 12*time.Second),
		MaxSilenceRetries:     envIntOr("COLLECTRELAY_MAX_SILENCE_RETRIES", 2),
		MaxCallDuration:       envDurationOr("COLLECTRELAY_MAX_CALL_DURATION", 10*time.Minute),
		EndGraceDelay:         envDurationOr("COLLECTRELAY_END_GRACE_DELAY", 2*time.Second),
		TurnTimeout:           envDurationOr("COLLECTRELAY_TURN_TIMEOUT", 30*time.Second),
		TTSLanguage:           envOr("COLLECTRELAY_TTS_LANGUAGE", "sk-SK"),
		TranscriptionLanguage: envOr("COLLECTRELAY_TRANSCRIPTION_LANGUAGE", "sk-SK"),
		WSWriteTimeout:        envDurationOr("COLLECTRELAY_WS_WRITE_TIMEOUT", 5*time.Second),
		WSHandshakeTimeout:    envDurationOr("COLLECTRELAY_WS_HANDSHAKE_TIMEOUT", 10*time.Second),
		WSMaxMessageBytes:     envInt64Or("COLLECTRELAY_WS_MAX_MESSAGE_BYTES", 64*1024),
		ReadHeaderTimeout:     envDurationOr("COLLECTRELAY_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod:   envDurationOr("COLLECTRELAY_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	if cfg.OpenAIAPIKey == "" {
		return Config{}, fmt.Errorf("OPENAI_API_KEY must be set")
	}
	if cfg.OpenAIModel == "" {
		return Config{}, fmt.Errorf("COLLECTRELAY_OPENAI_MODEL must not be empty")
	}

	// Twilio credentials are all-or-nothing.
	twilioSet := 0
	for _, v := range []string{cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber} {
		if v != "" {
			twilioSet++
		}
	}
	if twilioSet != 0 && twilioSet != 3 {
		return Config{}, fmt.Errorf("TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER must be set together")
	}
	if twilioSet == 3 && cfg.PublicHost == "" {
		return Config{}, fmt.Errorf("COLLECTRELAY_PUBLIC_HOST must be set when outbound calling is configured")
	}

	if cfg.SilenceTimeout <= 0 {
		return Config{}, fmt.Errorf("COLLECTRELAY_SILENCE_TIMEOUT must be > 0")
	}
	if cfg.MaxSilenceRetries <= 0 {
		return Config{}, fmt.Errorf("COLLECTRELAY_MAX_SILENCE_RETRIES must be > 0")
	}
	if cfg.MaxCallDuration <= cfg.SilenceTimeout {
		return Config{}, fmt.Errorf("COLLECTRELAY_MAX_CALL_DURATION must exceed the silence timeout")
	}
	if cfg.EndGraceDelay <= 0 {
		return Config{}, fmt.Errorf("COLLECTRELAY_END_GRACE_DELAY must be > 0")
	}
	if cfg.TurnTimeout <= 0 {
		return Config{}, fmt.Errorf("COLLECTRELAY_TURN_TIMEOUT must be > 0")
	}
	if cfg.WSMaxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("COLLECTRELAY_WS_MAX_MESSAGE_BYTES must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("COLLECTRELAY_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

// OutboundCallingEnabled reports whether Twilio REST credentials are present.
func (c Config) OutboundCallingEnabled() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != "" && c.TwilioFromNumber != ""
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

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
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
