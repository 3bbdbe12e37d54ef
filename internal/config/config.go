// Package config loads service configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Service holds process-level settings.
type Service struct {
	Principal string
	HTTPAddr  string // observability server listen address
}

// Recording holds session capture settings.
type Recording struct {
	StorageRoot     string
	SilenceTimeout  time.Duration // end an utterance after this much continuous silence
	MinSegmentBytes int64         // payload below this is discarded as noise
	SampleRate      int
	Channels        int
	Codec           string // "opus" or "pcm" (raw passthrough, for simulated gateways)
}

// Engine holds the transcription engine configuration surface. Explicit
// values here override profile defaults field by field.
type Engine struct {
	Profile     string
	Device      string
	Model       string
	Precision   string
	BeamSize    int
	Language    string
	VADFilter   *bool
	StripFiller *bool
	AlignWords  *bool
	Mock        *bool
	Endpoint    string // inference server base URL
}

// Timeline holds merge tunables for the conversation timeline.
type Timeline struct {
	MergeMaxGap   time.Duration // same-speaker segments closer than this are soft-merged
	MergeMaxChars int           // combined text length bound for a soft-merge
	DedupeWindow  time.Duration // identical utterances inside this window are dropped
}

// Kafka holds event publishing settings.
type Kafka struct {
	Brokers         []string
	TopicSession    string
	TopicTranscript string
	Enabled         bool
}

// Voice holds the voice-platform gateway settings.
type Voice struct {
	GatewayURL string
	AuthToken  string
}

// Observability holds logging settings.
type Observability struct {
	LogLevel  string
	LogFormat string
}

// Configuration is the full service configuration.
type Configuration struct {
	Service       Service
	Recording     Recording
	Engine        Engine
	Timeline      Timeline
	Kafka         Kafka
	Voice         Voice
	Observability Observability
}

// Load reads configuration from environment variables, applying defaults.
func Load() *Configuration {
	return &Configuration{
		Service: Service{
			Principal: envOrDefault("SERVICE_PRINCIPAL", "svc-voice-scribe"),
			HTTPAddr:  envOrDefault("HTTP_ADDR", ":9090"),
		},
		Recording: Recording{
			StorageRoot:     envOrDefault("RECORDINGS_DIR", "./recordings"),
			SilenceTimeout:  envDuration("SILENCE_TIMEOUT", 800*time.Millisecond),
			MinSegmentBytes: int64(envInt("MIN_SEGMENT_BYTES", 1024)),
			SampleRate:      envInt("SAMPLE_RATE", 48000),
			Channels:        envInt("CHANNELS", 1),
			Codec:           envOrDefault("AUDIO_CODEC", "opus"),
		},
		Engine: Engine{
			Profile:     os.Getenv("WHISPER_PROFILE"),
			Device:      os.Getenv("WHISPER_DEVICE"),
			Model:       os.Getenv("WHISPER_MODEL"),
			Precision:   os.Getenv("WHISPER_COMPUTE"),
			BeamSize:    envInt("WHISPER_SEGMENT_BEAM", 0),
			Language:    os.Getenv("WHISPER_LANG"),
			VADFilter:   envBoolPtr("WHISPER_VAD"),
			StripFiller: envBoolPtr("SANITIZE_LOWER_NOISE"),
			AlignWords:  envBoolPtr("WHISPER_ALIGN"),
			Mock:        envBoolPtr("WHISPER_MOCK"),
			Endpoint:    envOrDefault("WHISPER_ENDPOINT", "http://127.0.0.1:8321"),
		},
		Timeline: Timeline{
			MergeMaxGap:   envDuration("MERGE_MAX_GAP", 2*time.Second),
			MergeMaxChars: envInt("MERGE_MAX_CHARS", 400),
			DedupeWindow:  envDuration("DEDUPE_WINDOW", 1500*time.Millisecond),
		},
		Kafka: Kafka{
			Brokers:         envList("KAFKA_BROKERS"),
			TopicSession:    envOrDefault("KAFKA_TOPIC_SESSION", "voice.session.events"),
			TopicTranscript: envOrDefault("KAFKA_TOPIC_TRANSCRIPT", "voice.transcript.events"),
			Enabled:         envBool("KAFKA_ENABLED", false),
		},
		Voice: Voice{
			GatewayURL: envOrDefault("VOICE_GATEWAY_URL", "ws://127.0.0.1:8765/voice"),
			AuthToken:  os.Getenv("VOICE_AUTH_TOKEN"),
		},
		Observability: Observability{
			LogLevel:  envOrDefault("LOG_LEVEL", "info"),
			LogFormat: envOrDefault("LOG_FORMAT", "json"),
		},
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	switch strings.ToLower(v) {
	case "0", "false", "no":
		return false
	default:
		return true
	}
}

// envBoolPtr distinguishes "unset" from an explicit false so that profile
// defaults only apply when the variable is absent.
func envBoolPtr(key string) *bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	b := true
	switch strings.ToLower(v) {
	case "0", "false", "no":
		b = false
	}
	return &b
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
