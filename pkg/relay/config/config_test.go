package config

import (
	"strings"
	"testing"
	"time"
)

var relayEnvKeys = []string{
	"COLLECTRELAY_ADDR",
	"COLLECTRELAY_PUBLIC_HOST",
	"OPENAI_API_KEY",
	"COLLECTRELAY_OPENAI_MODEL",
	"TWILIO_ACCOUNT_SID",
	"TWILIO_AUTH_TOKEN",
	"TWILIO_FROM_NUMBER",
	"COLLECTRELAY_SILENCE_TIMEOUT",
	"COLLECTRELAY_MAX_SILENCE_RETRIES",
	"COLLECTRELAY_MAX_CALL_DURATION",
	"COLLECTRELAY_END_GRACE_DELAY",
	"COLLECTRELAY_TURN_TIMEOUT",
	"COLLECTRELAY_TTS_LANGUAGE",
	"COLLECTRELAY_TRANSCRIPTION_LANGUAGE",
	"COLLECTRELAY_WS_WRITE_TIMEOUT",
	"COLLECTRELAY_WS_HANDSHAKE_TIMEOUT",
	"COLLECTRELAY_WS_MAX_MESSAGE_BYTES",
	"COLLECTRELAY_READ_HEADER_TIMEOUT",
	"COLLECTRELAY_SHUTDOWN_GRACE_PERIOD",
}

func clearRelayEnv(t *testing.T) {
	t.Helper()
	for _, key := range relayEnvKeys {
		t.Setenv(key, "")
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearRelayEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Addr != ":8080" {
		t.Fatalf("Addr = %q, want :8080", cfg.Addr)
	}
	if cfg.OpenAIModel != "gpt-4o-mini" {
		t.Fatalf("OpenAIModel = %q", cfg.OpenAIModel)
	}
	if cfg.SilenceTimeout != 12*time.Second {
		t.Fatalf("SilenceTimeout = %v, want 12s", cfg.SilenceTimeout)
	}
	if cfg.MaxSilenceRetries != 2 {
		t.Fatalf("MaxSilenceRetries = %d, want 2", cfg.MaxSilenceRetries)
	}
	if cfg.MaxCallDuration != 10*time.Minute {
		t.Fatalf("MaxCallDuration = %v, want 10m", cfg.MaxCallDuration)
	}
	if cfg.EndGraceDelay != 2*time.Second {
		t.Fatalf("EndGraceDelay = %v, want 2s", cfg.EndGraceDelay)
	}
	if cfg.TurnTimeout != 30*time.Second {
		t.Fatalf("TurnTimeout = %v, want 30s", cfg.TurnTimeout)
	}
	if cfg.TTSLanguage != "sk-SK" || cfg.TranscriptionLanguage != "sk-SK" {
		t.Fatalf("languages = %q/%q, want sk-SK", cfg.TTSLanguage, cfg.TranscriptionLanguage)
	}
	if cfg.WSWriteTimeout != 5*time.Second {
		t.Fatalf("WSWriteTimeout = %v, want 5s", cfg.WSWriteTimeout)
	}
	if cfg.WSHandshakeTimeout != 10*time.Second {
		t.Fatalf("WSHandshakeTimeout = %v, want 10s", cfg.WSHandshakeTimeout)
	}
	if cfg.WSMaxMessageBytes != 64*1024 {
		t.Fatalf("WSMaxMessageBytes = %d, want 65536", cfg.WSMaxMessageBytes)
	}
	if cfg.ShutdownGracePeriod != 30*time.Second {
		t.Fatalf("ShutdownGracePeriod = %v, want 30s", cfg.ShutdownGracePeriod)
	}
	if cfg.OutboundCallingEnabled() {
		t.Fatalf("outbound calling enabled without Twilio credentials")
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	clearRelayEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("COLLECTRELAY_ADDR", ":9090")
	t.Setenv("COLLECTRELAY_OPENAI_MODEL", "gpt-4o")
	t.Setenv("COLLECTRELAY_SILENCE_TIMEOUT", "8s")
	t.Setenv("COLLECTRELAY_MAX_SILENCE_RETRIES", "3")
	t.Setenv("COLLECTRELAY_MAX_CALL_DURATION", "5m")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.Addr != ":9090" || cfg.OpenAIModel != "gpt-4o" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.SilenceTimeout != 8*time.Second || cfg.MaxSilenceRetries != 3 || cfg.MaxCallDuration != 5*time.Minute {
		t.Fatalf("timing overrides not applied: %+v", cfg)
	}
}

func TestLoadFromEnv_RequiresOpenAIKey(t *testing.T) {
	clearRelayEnv(t)

	_, err := LoadFromEnv()
	if err == nil || !strings.Contains(err.Error(), "OPENAI_API_KEY") {
		t.Fatalf("error = %v, want missing OPENAI_API_KEY", err)
	}
}

func TestLoadFromEnv_TwilioAllOrNothing(t *testing.T) {
	clearRelayEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("TWILIO_ACCOUNT_SID", "AC123")

	_, err := LoadFromEnv()
	if err == nil || !strings.Contains(err.Error(), "TWILIO_") {
		t.Fatalf("error = %v, want partial Twilio credentials rejected", err)
	}
}

func TestLoadFromEnv_TwilioNeedsPublicHost(t *testing.T) {
	clearRelayEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("TWILIO_ACCOUNT_SID", "AC123")
	t.Setenv("TWILIO_AUTH_TOKEN", "tok")
	t.Setenv("TWILIO_FROM_NUMBER", "+421900000000")

	_, err := LoadFromEnv()
	if err == nil || !strings.Contains(err.Error(), "COLLECTRELAY_PUBLIC_HOST") {
		t.Fatalf("error = %v, want missing public host", err)
	}

	t.Setenv("COLLECTRELAY_PUBLIC_HOST", "relay.example.com")
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if !cfg.OutboundCallingEnabled() {
		t.Fatalf("outbound calling should be enabled")
	}
}

func TestLoadFromEnv_RejectsBadTimings(t *testing.T) {
	clearRelayEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("COLLECTRELAY_MAX_CALL_DURATION", "5s")

	_, err := LoadFromEnv()
	if err == nil || !strings.Contains(err.Error(), "COLLECTRELAY_MAX_CALL_DURATION") {
		t.Fatalf("error = %v, want call duration rejected", err)
	}
}
