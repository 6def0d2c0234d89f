// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete agentcore configuration: one section
// per component, loaded from a single YAML document.
type Config struct {
	Service       ServiceConfig       `yaml:"service"`
	Queue         QueueConfig         `yaml:"queue"`
	Retry         RetryConfig         `yaml:"retry"`
	WorkerPool    WorkerPoolConfig    `yaml:"worker_pool"`
	Registry      RegistryConfig      `yaml:"registry"`
	Health        HealthConfig        `yaml:"health"`
	LoadBalancer  LoadBalancerConfig  `yaml:"load_balancer"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Telemetry     TelemetryConfig     `yaml:"telemetry"`
}

// ServiceConfig identifies this deployment for logging and tracing.
type ServiceConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	LogLevel    string `yaml:"log_level"`

	// OpenCodeURL, when set, is the base URL of an OpenCode server used
	// as a live health.Probe backend for a registered agent. Empty
	// disables the opencode-backed probe.
	OpenCodeURL  string `yaml:"opencode_url"`
	OpenCodePort int    `yaml:"opencode_port"`
}

// QueueConfig bounds the task queue (C1).
type QueueConfig struct {
	MaxCapacity int `yaml:"max_capacity"`
	MaxRunning  int `yaml:"max_running"`
}

// RetryConfig configures the default retry policy (C3).
type RetryConfig struct {
	MaxRetries int     `yaml:"max_retries"`
	Strategy   string  `yaml:"strategy"`
	BaseDelay  string  `yaml:"base_delay"`
	MaxDelay   string  `yaml:"max_delay"`
	ExpBase    float64 `yaml:"exp_base"`
	Jitter     float64 `yaml:"jitter"`
}

// WorkerPoolConfig sizes the worker pool (C5).
type WorkerPoolConfig struct {
	MinWorkers       int    `yaml:"min_workers"`
	MaxWorkers       int    `yaml:"max_workers"`
	MaxExecutionTime string `yaml:"max_execution_time"`
	ErrorCooldown    string `yaml:"error_cooldown"`
}

// RegistryConfig controls agent registration TTLs (C6).
type RegistryConfig struct {
	CleanupInterval string `yaml:"cleanup_interval"`
	DefaultTTL      string `yaml:"default_ttl"`
}

// HealthConfig controls probe scheduling (C7).
type HealthConfig struct {
	CheckInterval     string  `yaml:"check_interval"`
	FailureThreshold  int     `yaml:"failure_threshold"`
	ResponseTimeout   string  `yaml:"response_timeout"`
	DegradedThreshold float64 `yaml:"degraded_threshold_ms"`
}

// LoadBalancerConfig selects routing policy (C8).
type LoadBalancerConfig struct {
	Strategy      string `yaml:"strategy"`
	DefaultWeight int    `yaml:"default_weight"`
}

// CircuitBreakerConfig tunes trip/recovery behavior (C9).
type CircuitBreakerConfig struct {
	FailureThreshold float64 `yaml:"failure_threshold"`
	SuccessThreshold int     `yaml:"success_threshold"`
	Timeout          string  `yaml:"timeout"`
	MinimumRequests  int     `yaml:"minimum_requests"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	CollectorURL string  `yaml:"collector_url"`
	SamplingRate float64 `yaml:"sampling_rate"`
	EnableConsole bool   `yaml:"enable_console"`
}

// Default returns a Config populated with the defaults each component
// documents for itself, so a caller can Load() an overlay on top of it.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{Name: "agentcore", Environment: "development", LogLevel: "info"},
		Queue:   QueueConfig{MaxCapacity: 10000, MaxRunning: 1000},
		Retry: RetryConfig{
			MaxRetries: 3,
			Strategy:   "exponential",
			BaseDelay:  "100ms",
			MaxDelay:   "30s",
			ExpBase:    2.0,
			Jitter:     0.1,
		},
		WorkerPool: WorkerPoolConfig{
			MinWorkers:       1,
			MaxWorkers:       10,
			MaxExecutionTime: "5m",
			ErrorCooldown:    "1s",
		},
		Registry: RegistryConfig{
			CleanupInterval: "@every 30s",
			DefaultTTL:      "60s",
		},
		Health: HealthConfig{
			CheckInterval:     "@every 10s",
			FailureThreshold:  3,
			ResponseTimeout:   "5s",
			DegradedThreshold: 1000,
		},
		LoadBalancer: LoadBalancerConfig{
			Strategy:      "round_robin",
			DefaultWeight: 1,
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: 0.5,
			SuccessThreshold: 2,
			Timeout:          "30s",
			MinimumRequests:  10,
		},
		Telemetry: TelemetryConfig{
			CollectorURL:  "localhost:4318",
			SamplingRate:  1.0,
			EnableConsole: false,
		},
	}
}

// Load reads and parses a YAML config file at path, overlaying it onto
// Default(). A missing path is not an error: callers relying entirely
// on defaults may pass an empty string.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks the queue, worker-pool, health and circuit-breaker
// failure-threshold bounds and that the retry, worker-pool, registry
// TTL, health timeout and circuit-breaker timeout duration strings
// parse, returning the first problem found. It does not check the
// strategy names, the cron schedule strings, or the remaining retry and
// circuit-breaker bounds (jitter, exp_base, max_delay against
// base_delay, success_threshold, minimum_requests).
func (c *Config) Validate() error {
	if c.Queue.MaxCapacity <= 0 {
		return fmt.Errorf("config: queue.max_capacity must be positive")
	}
	if c.Queue.MaxRunning <= 0 {
		return fmt.Errorf("config: queue.max_running must be positive")
	}

	if _, err := time.ParseDuration(c.Retry.BaseDelay); err != nil {
		return fmt.Errorf("config: retry.base_delay: %w", err)
	}
	if _, err := time.ParseDuration(c.Retry.MaxDelay); err != nil {
		return fmt.Errorf("config: retry.max_delay: %w", err)
	}

	if c.WorkerPool.MinWorkers < 1 {
		return fmt.Errorf("config: worker_pool.min_workers must be at least 1")
	}
	if c.WorkerPool.MaxWorkers < c.WorkerPool.MinWorkers {
		return fmt.Errorf("config: worker_pool.max_workers must be >= min_workers")
	}
	if _, err := time.ParseDuration(c.WorkerPool.MaxExecutionTime); err != nil {
		return fmt.Errorf("config: worker_pool.max_execution_time: %w", err)
	}
	if _, err := time.ParseDuration(c.WorkerPool.ErrorCooldown); err != nil {
		return fmt.Errorf("config: worker_pool.error_cooldown: %w", err)
	}

	if _, err := time.ParseDuration(c.Registry.DefaultTTL); err != nil {
		return fmt.Errorf("config: registry.default_ttl: %w", err)
	}

	if _, err := time.ParseDuration(c.Health.ResponseTimeout); err != nil {
		return fmt.Errorf("config: health.response_timeout: %w", err)
	}
	if c.Health.FailureThreshold < 1 {
		return fmt.Errorf("config: health.failure_threshold must be at least 1")
	}

	if _, err := time.ParseDuration(c.CircuitBreaker.Timeout); err != nil {
		return fmt.Errorf("config: circuit_breaker.timeout: %w", err)
	}
	if c.CircuitBreaker.FailureThreshold <= 0 || c.CircuitBreaker.FailureThreshold > 1 {
		return fmt.Errorf("config: circuit_breaker.failure_threshold must be in (0, 1]")
	}

	return nil
}

// RetryBaseDelay parses Retry.BaseDelay, returning 0 if the string is
// malformed (a case Validate reports as an error).
func (c *Config) RetryBaseDelay() time.Duration {
	d, _ := time.ParseDuration(c.Retry.BaseDelay)
	return d
}

// RetryMaxDelay parses Retry.MaxDelay.
func (c *Config) RetryMaxDelay() time.Duration {
	d, _ := time.ParseDuration(c.Retry.MaxDelay)
	return d
}

// WorkerMaxExecutionTime parses WorkerPool.MaxExecutionTime.
func (c *Config) WorkerMaxExecutionTime() time.Duration {
	d, _ := time.ParseDuration(c.WorkerPool.MaxExecutionTime)
	return d
}

// WorkerErrorCooldown parses WorkerPool.ErrorCooldown.
func (c *Config) WorkerErrorCooldown() time.Duration {
	d, _ := time.ParseDuration(c.WorkerPool.ErrorCooldown)
	return d
}

// RegistryDefaultTTL parses Registry.DefaultTTL.
func (c *Config) RegistryDefaultTTL() time.Duration {
	d, _ := time.ParseDuration(c.Registry.DefaultTTL)
	return d
}

// HealthResponseTimeout parses Health.ResponseTimeout.
func (c *Config) HealthResponseTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Health.ResponseTimeout)
	return d
}

// CircuitBreakerTimeout parses CircuitBreaker.Timeout.
func (c *Config) CircuitBreakerTimeout() time.Duration {
	d, _ := time.ParseDuration(c.CircuitBreaker.Timeout)
	return d
}
