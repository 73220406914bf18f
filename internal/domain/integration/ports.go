package integration

import (
	"context"

	"github.com/google/uuid"
)

// ConfigProvider supplies adapter configurations partitioned by scope.
// Implementations load from a config file, a database table, or both; the
// manager pre-registers everything a provider returns during initialization.
type ConfigProvider interface {
	// LoadGlobal returns the configs without a tenant binding.
	LoadGlobal(ctx context.Context) ([]IntegrationConfig, error)
	// LoadForTenant returns the configs bound to one tenant.
	LoadForTenant(ctx context.Context, tenantID uuid.UUID) ([]IntegrationConfig, error)
}

// ConfigStore persists configs registered at runtime so that a re-initialized
// manager sees them again. Deleting a config that was never stored is not an
// error; most adapters come from declarative files and are absent here.
type ConfigStore interface {
	SaveConfig(ctx context.Context, cfg *IntegrationConfig) error
	DeleteConfig(ctx context.Context, id string, scope Scope) error
}

// MultiProvider concatenates several providers into one. Later providers are
// appended after earlier ones, so when two sources carry the same id in the
// same scope the first one wins at registration time.
type MultiProvider []ConfigProvider

// LoadGlobal returns the global configs of every provider in order.
func (m MultiProvider) LoadGlobal(ctx context.Context) ([]IntegrationConfig, error) {
	var out []IntegrationConfig
	for _, p := range m {
		configs, err := p.LoadGlobal(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, configs...)
	}
	return out, nil
}

// LoadForTenant returns the tenant's configs of every provider in order.
func (m MultiProvider) LoadForTenant(ctx context.Context, tenantID uuid.UUID) ([]IntegrationConfig, error) {
	var out []IntegrationConfig
	for _, p := range m {
		configs, err := p.LoadForTenant(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		out = append(out, configs...)
	}
	return out, nil
}

// PacketValidator checks a packet between pipeline stages. A non-nil error
// rejects the packet; the pipeline records it and moves on to the next one.
type PacketValidator interface {
	// Name identifies the validator in pipeline configs and error messages.
	Name() string
	Validate(ctx context.Context, packet *DataPacket) error
}

// PacketValidatorFunc adapts a function to the PacketValidator interface.
type PacketValidatorFunc struct {
	ValidatorName string
	Func          func(ctx context.Context, packet *DataPacket) error
}

// Name returns the validator name.
func (v PacketValidatorFunc) Name() string { return v.ValidatorName }

// Validate runs the wrapped function.
func (v PacketValidatorFunc) Validate(ctx context.Context, packet *DataPacket) error {
	return v.Func(ctx, packet)
}
