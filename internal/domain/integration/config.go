package integration

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Policies
// ---------------------------------------------------------------------------

// RetryPolicy controls reconnection backoff for one adapter
type RetryPolicy struct {
	// MaxRetries is the number of reconnect attempts before giving up
	MaxRetries int `json:"max_retries" mapstructure:"max_retries"`
	// InitialDelay is the delay before the first reconnect attempt
	InitialDelay time.Duration `json:"initial_delay" mapstructure:"initial_delay"`
	// MaxDelay caps the exponential backoff delay
	MaxDelay time.Duration `json:"max_delay" mapstructure:"max_delay"`
	// BackoffFactor multiplies the delay after each attempt
	BackoffFactor float64 `json:"backoff_factor" mapstructure:"backoff_factor"`
}

// DefaultRetryPolicy returns the retry policy applied when none is configured
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:    3,
		InitialDelay:  time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
	}
}

// Delay returns the backoff delay for the given zero-based attempt count:
// min(InitialDelay * BackoffFactor^attempts, MaxDelay). No jitter is applied
// so reconnect timing stays deterministic and testable.
func (p RetryPolicy) Delay(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	delay := float64(p.InitialDelay)
	for i := 0; i < attempts; i++ {
		delay *= p.BackoffFactor
		if p.MaxDelay > 0 && time.Duration(delay) >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	d := time.Duration(delay)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// HealthCheckPolicy controls the recurring connectivity probe for one adapter
type HealthCheckPolicy struct {
	// Interval is the period between health checks
	Interval time.Duration `json:"interval" mapstructure:"interval"`
	// Timeout bounds a single probe
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
	// Retries is the number of probe attempts within one check
	Retries int `json:"retries" mapstructure:"retries"`
}

// DefaultHealthCheckPolicy returns the health-check policy applied when none
// is configured
func DefaultHealthCheckPolicy() HealthCheckPolicy {
	return HealthCheckPolicy{
		Interval: 60 * time.Second,
		Timeout:  5 * time.Second,
		Retries:  3,
	}
}

// ---------------------------------------------------------------------------
// IntegrationConfig
// ---------------------------------------------------------------------------

// IntegrationConfig declares one external-system connection. An adapter is
// built from it and the config stays immutable afterwards except via explicit
// re-registration.
type IntegrationConfig struct {
	// ID uniquely identifies the integration within its scope
	ID string `json:"id" mapstructure:"id"`
	// Name is the human-readable label
	Name string `json:"name" mapstructure:"name"`
	// Type selects the adapter constructor
	Type SystemType `json:"type" mapstructure:"type"`
	// Description is optional free text
	Description string `json:"description,omitempty" mapstructure:"description"`

	// ConnectionParams carries adapter-specific connection settings
	ConnectionParams map[string]any `json:"connection_params,omitempty" mapstructure:"connection_params"`
	// AuthParams carries adapter-specific credential material
	AuthParams map[string]any `json:"auth_params,omitempty" mapstructure:"auth_params"`

	// Retry is the reconnection backoff policy
	Retry RetryPolicy `json:"retry" mapstructure:"retry"`
	// HealthCheck is the recurring probe policy
	HealthCheck HealthCheckPolicy `json:"health_check" mapstructure:"health_check"`

	// AutoConnect connects the adapter during manager start (default true)
	AutoConnect *bool `json:"auto_connect,omitempty" mapstructure:"auto_connect"`

	// TenantID scopes the integration to one tenant; nil means global
	TenantID *uuid.UUID `json:"tenant_id,omitempty" mapstructure:"tenant_id"`

	// Protocol, Vendor, Model, Tags and Capabilities feed the registry's
	// secondary indexes via AdapterMetadata.
	Protocol     string   `json:"protocol,omitempty" mapstructure:"protocol"`
	Vendor       string   `json:"vendor,omitempty" mapstructure:"vendor"`
	Model        string   `json:"model,omitempty" mapstructure:"model"`
	Tags         []string `json:"tags,omitempty" mapstructure:"tags"`
	Capabilities []string `json:"capabilities,omitempty" mapstructure:"capabilities"`
}

// Validate checks the config for structural errors
func (c *IntegrationConfig) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidConfig)
	}
	if c.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidConfig)
	}
	if !c.Type.IsValid() {
		return fmt.Errorf("%w: unknown system type %q", ErrInvalidConfig, c.Type)
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("%w: retry.max_retries must not be negative", ErrInvalidConfig)
	}
	if c.Retry.InitialDelay < 0 || c.Retry.MaxDelay < 0 {
		return fmt.Errorf("%w: retry delays must not be negative", ErrInvalidConfig)
	}
	if c.Retry.BackoffFactor != 0 && c.Retry.BackoffFactor < 1 {
		return fmt.Errorf("%w: retry.backoff_factor must be >= 1", ErrInvalidConfig)
	}
	if c.HealthCheck.Interval < 0 || c.HealthCheck.Timeout < 0 {
		return fmt.Errorf("%w: health_check durations must not be negative", ErrInvalidConfig)
	}
	if c.TenantID != nil && *c.TenantID == uuid.Nil {
		return fmt.Errorf("%w: tenant_id must not be the nil UUID", ErrInvalidConfig)
	}
	return nil
}

// Normalize fills zero-valued policy fields with defaults. It returns the
// receiver for chaining.
func (c *IntegrationConfig) Normalize() *IntegrationConfig {
	def := DefaultRetryPolicy()
	if c.Retry.MaxRetries == 0 {
		c.Retry.MaxRetries = def.MaxRetries
	}
	if c.Retry.InitialDelay == 0 {
		c.Retry.InitialDelay = def.InitialDelay
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = def.MaxDelay
	}
	if c.Retry.BackoffFactor == 0 {
		c.Retry.BackoffFactor = def.BackoffFactor
	}

	hdef := DefaultHealthCheckPolicy()
	if c.HealthCheck.Interval == 0 {
		c.HealthCheck.Interval = hdef.Interval
	}
	if c.HealthCheck.Timeout == 0 {
		c.HealthCheck.Timeout = hdef.Timeout
	}
	if c.HealthCheck.Retries == 0 {
		c.HealthCheck.Retries = hdef.Retries
	}
	return c
}

// ShouldAutoConnect reports whether the manager connects this adapter during
// start. Unset means yes.
func (c *IntegrationConfig) ShouldAutoConnect() bool {
	return c.AutoConnect == nil || *c.AutoConnect
}

// IsTenantScoped reports whether the config names a tenant
func (c *IntegrationConfig) IsTenantScoped() bool {
	return c.TenantID != nil && *c.TenantID != uuid.Nil
}

// StringParam returns a connection parameter as string
func (c *IntegrationConfig) StringParam(key, fallback string) string {
	if v, ok := c.ConnectionParams[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return fallback
}

// IntParam returns a connection parameter as int, tolerating the numeric
// representations JSON and TOML decoding produce
func (c *IntegrationConfig) IntParam(key string, fallback int) int {
	v, ok := c.ConnectionParams[key]
	if !ok {
		return fallback
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		if parsed, err := strconv.Atoi(n); err == nil {
			return parsed
		}
	}
	return fallback
}

// BoolParam returns a connection parameter as bool
func (c *IntegrationConfig) BoolParam(key string, fallback bool) bool {
	v, ok := c.ConnectionParams[key]
	if !ok {
		return fallback
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		if parsed, err := strconv.ParseBool(b); err == nil {
			return parsed
		}
	}
	return fallback
}

// DurationParam returns a connection parameter as duration. Bare numbers are
// treated as milliseconds, strings go through time.ParseDuration.
func (c *IntegrationConfig) DurationParam(key string, fallback time.Duration) time.Duration {
	v, ok := c.ConnectionParams[key]
	if !ok {
		return fallback
	}
	switch d := v.(type) {
	case time.Duration:
		return d
	case int:
		return time.Duration(d) * time.Millisecond
	case int64:
		return time.Duration(d) * time.Millisecond
	case float64:
		return time.Duration(d) * time.Millisecond
	case string:
		if parsed, err := time.ParseDuration(d); err == nil {
			return parsed
		}
	}
	return fallback
}
