package configs

import (
	"fmt"
	"time"

	"github.com/fadechat/fadechat/internal/infrastructure/env"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	HTTP        HTTPConfig        `koanf:"http"`
	RateLimiter RateLimiterConfig `koanf:"rate_limiter"`
	Store       StoreConfig       `koanf:"store"`
	Session     SessionConfig     `koanf:"session"`
	Tracing     TracingConfig     `koanf:"tracing"`
}

type HTTPConfig struct {
	Host         string        `koanf:"host"`
	Port         uint16        `koanf:"port"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

type RateLimiterConfig struct {
	RequestsPerTimeFrame int           `koanf:"requests_per_time_frame"`
	TimeFrame            time.Duration `koanf:"time_frame"`
}

// StoreConfig bounds the server-side append logs.
type StoreConfig struct {
	MessageLogCapacity uint `koanf:"message_log_capacity"`
}

// SessionConfig carries the client-side lifecycle defaults. MaxMembers,
// Grace and WaitForRejoin seed the room settings a host creates with;
// Countdown and SendMinInterval are purely local.
type SessionConfig struct {
	MaxMembers      int           `koanf:"max_members"`
	Grace           time.Duration `koanf:"grace"`
	Countdown       time.Duration `koanf:"countdown"`
	WaitForRejoin   bool          `koanf:"wait_for_rejoin"`
	SendMinInterval time.Duration `koanf:"send_min_interval"`
}

type TracingConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
	Endpoint    string `koanf:"endpoint"`
	Environment string `koanf:"environment"`
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Load from YAML file if one was found
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	applyDefaults(k)
	applyEnvOverrides(k)

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(k *koanf.Koanf) {
	// HTTP defaults
	setDefault(k, "http.host", "0.0.0.0")
	setDefault(k, "http.port", 8080)
	setDefault(k, "http.read_timeout", 10*time.Second)
	setDefault(k, "http.write_timeout", 30*time.Second)

	// Rate limiter defaults
	setDefault(k, "rate_limiter.requests_per_time_frame", 20)
	setDefault(k, "rate_limiter.time_frame", 5*time.Second)

	// Store defaults
	setDefault(k, "store.message_log_capacity", 100)

	// Session defaults
	setDefault(k, "session.max_members", 2)
	setDefault(k, "session.grace", 5*time.Second)
	setDefault(k, "session.countdown", 10*time.Second)
	setDefault(k, "session.wait_for_rejoin", true)
	setDefault(k, "session.send_min_interval", time.Second)

	// Tracing defaults
	setDefault(k, "tracing.enabled", false)
	setDefault(k, "tracing.service_name", "fadechatd")
	setDefault(k, "tracing.endpoint", "http://localhost:4318")
	setDefault(k, "tracing.environment", "development")
}

func applyEnvOverrides(k *koanf.Koanf) {
	// HTTP config from env
	if host := env.GetString("HTTP_HOST", ""); host != "" {
		k.Set("http.host", host)
	}
	if port := env.GetInt("HTTP_PORT", 0); port > 0 {
		k.Set("http.port", port)
	}
	if readTimeout := env.GetInt("HTTP_READ_TIMEOUT_SECONDS", 0); readTimeout > 0 {
		k.Set("http.read_timeout", time.Duration(readTimeout)*time.Second)
	}
	if writeTimeout := env.GetInt("HTTP_WRITE_TIMEOUT_SECONDS", 0); writeTimeout > 0 {
		k.Set("http.write_timeout", time.Duration(writeTimeout)*time.Second)
	}

	// Rate limiter config from env
	if requests := env.GetInt("RATE_LIMIT_REQUESTS", 0); requests > 0 {
		k.Set("rate_limiter.requests_per_time_frame", requests)
	}
	if frame := env.GetInt("RATE_LIMIT_TIME_FRAME_SECONDS", 0); frame > 0 {
		k.Set("rate_limiter.time_frame", time.Duration(frame)*time.Second)
	}

	// Store config from env
	if capacity := env.GetInt("MESSAGE_LOG_CAPACITY", 0); capacity > 0 {
		k.Set("store.message_log_capacity", uint(capacity))
	}

	// Session config from env
	if maxMembers := env.GetInt("SESSION_MAX_MEMBERS", 0); maxMembers > 0 {
		k.Set("session.max_members", maxMembers)
	}
	if grace := env.GetInt("SESSION_GRACE_SECONDS", -1); grace >= 0 {
		k.Set("session.grace", time.Duration(grace)*time.Second)
	}
	if countdown := env.GetInt("SESSION_COUNTDOWN_SECONDS", 0); countdown > 0 {
		k.Set("session.countdown", time.Duration(countdown)*time.Second)
	}

	// Tracing config from env
	if endpoint := env.GetString("OTLP_ENDPOINT", ""); endpoint != "" {
		k.Set("tracing.enabled", true)
		k.Set("tracing.endpoint", endpoint)
	}
	if environment := env.GetString("ENVIRONMENT", ""); environment != "" {
		k.Set("tracing.environment", environment)
	}
}

// setDefault only sets the value if the key doesn't already exist
func setDefault(k *koanf.Koanf, key string, value interface{}) {
	if !k.Exists(key) {
		k.Set(key, value)
	}
}
