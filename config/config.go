// Package config loads the typed runtime configuration (A7): iteration
// bounds, provider timeout, ring-buffer capacity, the recognised
// thought-tag vocabulary, and the default internal-event filter, from a
// YAML file with environment-variable expansion and overrides.
//
// Grounded on the env-expand-then-decode-then-default-then-validate shape
// of haasonsaas-nexus's internal/config.Load, trimmed from that file's
// many product-specific sections down to the knobs spec.md §8 actually
// names.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for an agentcore process.
type Config struct {
	Turn      TurnConfig      `yaml:"turn"`
	Provider  ProviderConfig  `yaml:"provider"`
	RingBuffer RingBufferConfig `yaml:"ring_buffer"`
	Thoughts  ThoughtsConfig  `yaml:"thoughts"`
	Stream    StreamConfig    `yaml:"stream"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// TurnConfig mirrors turnloop.Config plus the bits turnloop itself
// doesn't own (construction-time knobs rather than per-loop ones).
type TurnConfig struct {
	// MaxIterations caps iterations before the loop force-finalises.
	// Load replaces a zero/unset value with the default of 10.
	MaxIterations int `yaml:"max_iterations"`
	// StopOnToolError ends a turn as soon as any dispatched tool call
	// fails rather than feeding the failure back for another iteration.
	StopOnToolError bool `yaml:"stop_on_tool_error"`
}

// ProviderConfig bounds how long a single upstream provider call may run.
type ProviderConfig struct {
	// Timeout bounds one iteration.Caller.Call invocation. Load replaces
	// a zero/unset value with the default of 60s.
	Timeout time.Duration `yaml:"timeout"`
}

// RingBufferConfig sizes the per-context event retention buffer (C9).
type RingBufferConfig struct {
	// Capacity is the number of retained entries per contextId before the
	// oldest is evicted.
	Capacity int `yaml:"capacity"`
}

// ThoughtsConfig holds a thought-tag vocabulary in the form
// pipeline.WithRecognisedTags takes. Load validates it, but cmd/agentcore
// does not pass it to the pipeline, which always runs with its built-in
// tag set.
type ThoughtsConfig struct {
	// RecognisedTags lists thought-tag names; entries must not be blank.
	RecognisedTags []string `yaml:"recognised_tags"`
}

// StreamConfig sets defaults for SSE subscriptions (ssebus.Filter).
type StreamConfig struct {
	// FilterInternal, when true, is the default for new subscriptions
	// that don't explicitly request internal: events.
	FilterInternal bool `yaml:"filter_internal"`
}

// LoggingConfig holds a logger level and format, following the teacher
// pack's level/format convention. Load validates both; cmd/agentcore does
// not apply them and always logs through slog.Default().
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads path, expands ${VAR}/$VAR references against the process
// environment, decodes strict YAML (unknown fields are an error), applies
// environment overrides, fills defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides lets a handful of process-level env vars win over the
// file, for the knobs most commonly flipped per-deployment without
// editing the checked-in config.
func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("AGENTCORE_MAX_ITERATIONS")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Turn.MaxIterations = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv("AGENTCORE_STOP_ON_TOOL_ERROR")); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			cfg.Turn.StopOnToolError = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv("AGENTCORE_PROVIDER_TIMEOUT")); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.Provider.Timeout = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv("AGENTCORE_RING_BUFFER_CAPACITY")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.RingBuffer.Capacity = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv("AGENTCORE_LOG_LEVEL")); v != "" {
		cfg.Logging.Level = v
	}
}

// Defaults, per spec.md §8: maxIterations=10, stopOnToolError=false
// (the zero value, so nothing to set), a 1000-entry ring buffer, the
// pipeline's built-in thought-tag set left untouched by leaving
// RecognisedTags empty, and info/json logging.
func applyDefaults(cfg *Config) {
	if cfg.Turn.MaxIterations == 0 {
		cfg.Turn.MaxIterations = 10
	}
	if cfg.Provider.Timeout == 0 {
		cfg.Provider.Timeout = 60 * time.Second
	}
	if cfg.RingBuffer.Capacity == 0 {
		cfg.RingBuffer.Capacity = 1000
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// ValidationError reports one or more invalid field values found during
// Load, matching nexus's config.ConfigValidationError shape.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "config: validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validate(cfg *Config) error {
	var issues []string

	if cfg.Turn.MaxIterations < 0 {
		issues = append(issues, "turn.max_iterations must be >= 0")
	}
	if cfg.Provider.Timeout < 0 {
		issues = append(issues, "provider.timeout must be >= 0")
	}
	if cfg.RingBuffer.Capacity < 0 {
		issues = append(issues, "ring_buffer.capacity must be >= 0")
	}
	for i, name := range cfg.Thoughts.RecognisedTags {
		if strings.TrimSpace(name) == "" {
			issues = append(issues, fmt.Sprintf("thoughts.recognised_tags[%d] must not be blank", i))
		}
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Level)) {
	case "debug", "info", "warn", "error":
	default:
		issues = append(issues, `logging.level must be "debug", "info", "warn", or "error"`)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Format)) {
	case "json", "text":
	default:
		issues = append(issues, `logging.format must be "json" or "text"`)
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}
