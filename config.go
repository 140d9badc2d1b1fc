package broker

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	// defaultMessageTimeout is the per-request deadline used when neither the
	// call site nor BROKER_TIMEOUT overrides it.
	defaultMessageTimeout = 2000 * time.Millisecond
	// defaultMaxPacketSize is the outbound packet size above which a send is
	// logged at trace level but still transmitted.
	defaultMaxPacketSize = 4 * 1024 * 1024
	// minMaxPacketSize is the floor an environment override is clamped to.
	minMaxPacketSize = 1_000_000
	// reconnectDelay is the fixed delay before a reconnect attempt after the
	// transport closes.
	reconnectDelay = 1 * time.Second
	// defaultOnceTimeout is p.once's default leak-prevention deadline.
	defaultOnceTimeout = 5 * time.Minute
)

// Config holds the limits read once at client construction. The zero value
// is not valid; use DefaultConfig or LoadConfigFromEnv.
type Config struct {
	// MessageTimeout is the default per-request deadline.
	MessageTimeout time.Duration
	// MaxPacketSize is the threshold above which an outbound send is merely
	// logged, never refused — the transport makes the final decision.
	MaxPacketSize int
}

// DefaultConfig returns the broker's built-in defaults with no environment
// overrides applied.
func DefaultConfig() Config {
	return Config{
		MessageTimeout: defaultMessageTimeout,
		MaxPacketSize:  defaultMaxPacketSize,
	}
}

// LoadConfigFromEnv returns DefaultConfig with BROKER_TIMEOUT and
// MAX_WS_PACKET_SIZE environment overrides applied. A best-effort .env load
// (errors ignored, mirroring every example entrypoint in the corpus)
// precedes the read so a local .env can supply these without polluting the
// real process environment in CI.
//
// A browser-based client would also consult local-storage keys before
// falling back to the environment; Go has no such global, so only the
// process environment is consulted here.
func LoadConfigFromEnv() Config {
	_ = godotenv.Load()

	cfg := DefaultConfig()

	if raw, ok := os.LookupEnv("BROKER_TIMEOUT"); ok {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil && ms > 0 {
			cfg.MessageTimeout = time.Duration(ms) * time.Millisecond
		}
		// 0, negative, or unparsable values are ignored.
	}

	if raw, ok := os.LookupEnv("MAX_WS_PACKET_SIZE"); ok {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			if n < minMaxPacketSize {
				n = minMaxPacketSize
			}
			cfg.MaxPacketSize = n
		}
	}

	return cfg
}

// effectiveTimeout resolves overriddenTimeout || message.timeout ||
// cfg.MessageTimeout.
func (c Config) effectiveTimeout(overridden, messageTimeout time.Duration) time.Duration {
	if overridden > 0 {
		return overridden
	}
	if messageTimeout > 0 {
		return messageTimeout
	}
	return c.MessageTimeout
}
