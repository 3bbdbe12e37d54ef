package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	envVars := []string{
		"SERVICE_PRINCIPAL", "HTTP_ADDR", "LOG_LEVEL",
		"RECORDINGS_DIR", "SILENCE_TIMEOUT", "MIN_SEGMENT_BYTES",
		"WHISPER_PROFILE", "WHISPER_DEVICE", "WHISPER_MODEL", "WHISPER_COMPUTE",
		"WHISPER_VAD", "WHISPER_MOCK",
		"MERGE_MAX_GAP", "MERGE_MAX_CHARS", "DEDUPE_WINDOW",
		"KAFKA_BROKERS", "KAFKA_ENABLED",
	}
	for _, v := range envVars {
		os.Unsetenv(v)
	}

	cfg := Load()

	if cfg.Service.Principal != "svc-voice-scribe" {
		t.Errorf("expected default principal 'svc-voice-scribe', got %s", cfg.Service.Principal)
	}
	if cfg.Recording.StorageRoot != "./recordings" {
		t.Errorf("expected default storage root './recordings', got %s", cfg.Recording.StorageRoot)
	}
	if cfg.Recording.SilenceTimeout != 800*time.Millisecond {
		t.Errorf("expected default silence timeout 800ms, got %v", cfg.Recording.SilenceTimeout)
	}
	if cfg.Recording.MinSegmentBytes != 1024 {
		t.Errorf("expected default min segment bytes 1024, got %d", cfg.Recording.MinSegmentBytes)
	}
	if cfg.Engine.Profile != "" {
		t.Errorf("expected empty default profile, got %s", cfg.Engine.Profile)
	}
	if cfg.Engine.VADFilter != nil {
		t.Errorf("expected nil VAD toggle when unset, got %v", *cfg.Engine.VADFilter)
	}
	if cfg.Timeline.MergeMaxGap != 2*time.Second {
		t.Errorf("expected default merge gap 2s, got %v", cfg.Timeline.MergeMaxGap)
	}
	if cfg.Kafka.Enabled {
		t.Error("expected Kafka disabled by default")
	}
	if cfg.Observability.LogLevel != "info" {
		t.Errorf("expected default log level 'info', got %s", cfg.Observability.LogLevel)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	os.Setenv("SERVICE_PRINCIPAL", "custom-principal")
	os.Setenv("RECORDINGS_DIR", "/var/rec")
	os.Setenv("SILENCE_TIMEOUT", "1500ms")
	os.Setenv("MIN_SEGMENT_BYTES", "4096")
	os.Setenv("WHISPER_PROFILE", "quality@cuda")
	os.Setenv("WHISPER_DEVICE", "cpu")
	os.Setenv("WHISPER_VAD", "false")
	os.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	os.Setenv("KAFKA_ENABLED", "true")

	defer func() {
		os.Unsetenv("SERVICE_PRINCIPAL")
		os.Unsetenv("RECORDINGS_DIR")
		os.Unsetenv("SILENCE_TIMEOUT")
		os.Unsetenv("MIN_SEGMENT_BYTES")
		os.Unsetenv("WHISPER_PROFILE")
		os.Unsetenv("WHISPER_DEVICE")
		os.Unsetenv("WHISPER_VAD")
		os.Unsetenv("KAFKA_BROKERS")
		os.Unsetenv("KAFKA_ENABLED")
	}()

	cfg := Load()

	if cfg.Service.Principal != "custom-principal" {
		t.Errorf("expected 'custom-principal', got %s", cfg.Service.Principal)
	}
	if cfg.Recording.StorageRoot != "/var/rec" {
		t.Errorf("expected '/var/rec', got %s", cfg.Recording.StorageRoot)
	}
	if cfg.Recording.SilenceTimeout != 1500*time.Millisecond {
		t.Errorf("expected 1500ms, got %v", cfg.Recording.SilenceTimeout)
	}
	if cfg.Recording.MinSegmentBytes != 4096 {
		t.Errorf("expected 4096, got %d", cfg.Recording.MinSegmentBytes)
	}
	if cfg.Engine.Profile != "quality@cuda" {
		t.Errorf("expected profile 'quality@cuda', got %s", cfg.Engine.Profile)
	}
	if cfg.Engine.Device != "cpu" {
		t.Errorf("expected device 'cpu', got %s", cfg.Engine.Device)
	}
	if cfg.Engine.VADFilter == nil || *cfg.Engine.VADFilter {
		t.Error("expected explicit VAD=false")
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[0] != "k1:9092" || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("expected two trimmed brokers, got %v", cfg.Kafka.Brokers)
	}
	if !cfg.Kafka.Enabled {
		t.Error("expected Kafka enabled")
	}
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	os.Setenv("SILENCE_TIMEOUT", "soon")
	os.Setenv("MIN_SEGMENT_BYTES", "lots")
	defer func() {
		os.Unsetenv("SILENCE_TIMEOUT")
		os.Unsetenv("MIN_SEGMENT_BYTES")
	}()

	cfg := Load()

	if cfg.Recording.SilenceTimeout != 800*time.Millisecond {
		t.Errorf("expected fallback 800ms, got %v", cfg.Recording.SilenceTimeout)
	}
	if cfg.Recording.MinSegmentBytes != 1024 {
		t.Errorf("expected fallback 1024, got %d", cfg.Recording.MinSegmentBytes)
	}
}
