package models

import (
	"encoding/json"
	"time"

	"github.com/PatClay7325/manufacturing-analytics-platform-sub003/internal/domain/integration"
	"github.com/google/uuid"
)

// IntegrationConfigModel is the persistence model for stored adapter
// configurations. The same integration id may exist once globally and once
// per tenant, so the primary key is (id, tenant_id) with uuid.Nil standing in
// for the global scope; a nullable column could not participate in the key.
type IntegrationConfigModel struct {
	ID       string    `gorm:"type:varchar(128);primaryKey"`
	TenantID uuid.UUID `gorm:"type:uuid;primaryKey;index:idx_integration_configs_tenant"`

	Name        string `gorm:"type:varchar(255);not null"`
	Type        string `gorm:"type:varchar(32);not null;index:idx_integration_configs_type"`
	Description string `gorm:"type:text"`

	ConnectionParamsJSON string `gorm:"type:jsonb;column:connection_params"`
	AuthParamsJSON       string `gorm:"type:jsonb;column:auth_params"`
	RetryJSON            string `gorm:"type:jsonb;column:retry"`
	HealthCheckJSON      string `gorm:"type:jsonb;column:health_check"`

	AutoConnect *bool `gorm:"column:auto_connect"`

	Protocol string `gorm:"type:varchar(64)"`
	Vendor   string `gorm:"type:varchar(128)"`
	Model    string `gorm:"type:varchar(128)"`

	TagsJSON         string `gorm:"type:jsonb;column:tags"`
	CapabilitiesJSON string `gorm:"type:jsonb;column:capabilities"`

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (IntegrationConfigModel) TableName() string {
	return "integration_configs"
}

// ToDomain converts the persistence model to a domain IntegrationConfig.
func (m *IntegrationConfigModel) ToDomain() *integration.IntegrationConfig {
	cfg := &integration.IntegrationConfig{
		ID:          m.ID,
		Name:        m.Name,
		Type:        integration.SystemType(m.Type),
		Description: m.Description,
		AutoConnect: m.AutoConnect,
		Protocol:    m.Protocol,
		Vendor:      m.Vendor,
		Model:       m.Model,
	}

	if m.TenantID != uuid.Nil {
		tenantID := m.TenantID
		cfg.TenantID = &tenantID
	}

	if m.ConnectionParamsJSON != "" {
		var params map[string]any
		if err := json.Unmarshal([]byte(m.ConnectionParamsJSON), &params); err == nil {
			cfg.ConnectionParams = params
		}
	}
	if m.AuthParamsJSON != "" {
		var params map[string]any
		if err := json.Unmarshal([]byte(m.AuthParamsJSON), &params); err == nil {
			cfg.AuthParams = params
		}
	}
	if m.RetryJSON != "" {
		var retry integration.RetryPolicy
		if err := json.Unmarshal([]byte(m.RetryJSON), &retry); err == nil {
			cfg.Retry = retry
		}
	}
	if m.HealthCheckJSON != "" {
		var hc integration.HealthCheckPolicy
		if err := json.Unmarshal([]byte(m.HealthCheckJSON), &hc); err == nil {
			cfg.HealthCheck = hc
		}
	}
	if m.TagsJSON != "" {
		var tags []string
		if err := json.Unmarshal([]byte(m.TagsJSON), &tags); err == nil {
			cfg.Tags = tags
		}
	}
	if m.CapabilitiesJSON != "" {
		var caps []string
		if err := json.Unmarshal([]byte(m.CapabilitiesJSON), &caps); err == nil {
			cfg.Capabilities = caps
		}
	}

	return cfg
}

// FromDomain populates the persistence model from a domain IntegrationConfig.
func (m *IntegrationConfigModel) FromDomain(cfg *integration.IntegrationConfig) {
	m.ID = cfg.ID
	m.Name = cfg.Name
	m.Type = cfg.Type.String()
	m.Description = cfg.Description
	m.AutoConnect = cfg.AutoConnect
	m.Protocol = cfg.Protocol
	m.Vendor = cfg.Vendor
	m.Model = cfg.Model

	m.TenantID = uuid.Nil
	if cfg.TenantID != nil {
		m.TenantID = *cfg.TenantID
	}

	m.ConnectionParamsJSON = marshalOrDefault(cfg.ConnectionParams, "{}")
	m.AuthParamsJSON = marshalOrDefault(cfg.AuthParams, "{}")
	m.RetryJSON = marshalOrDefault(cfg.Retry, "{}")
	m.HealthCheckJSON = marshalOrDefault(cfg.HealthCheck, "{}")
	m.TagsJSON = marshalOrDefault(cfg.Tags, "[]")
	m.CapabilitiesJSON = marshalOrDefault(cfg.Capabilities, "[]")
}

// IntegrationConfigModelFromDomain creates a new persistence model from a
// domain IntegrationConfig.
func IntegrationConfigModelFromDomain(cfg *integration.IntegrationConfig) *IntegrationConfigModel {
	m := &IntegrationConfigModel{}
	m.FromDomain(cfg)
	return m
}

func marshalOrDefault(v any, fallback string) string {
	data, err := json.Marshal(v)
	if err != nil || string(data) == "null" {
		return fallback
	}
	return string(data)
}
