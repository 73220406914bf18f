package integration

import "time"

// ---------------------------------------------------------------------------
// AdapterMetadata
// ---------------------------------------------------------------------------

// AdapterMetadata is the denormalized description the registry indexes
// adapters by. It is derived data: rebuilt on every update by merging
// explicit overrides over config-derived defaults, never edited field by
// field.
type AdapterMetadata struct {
	// ID mirrors the adapter id
	ID string `json:"id"`
	// Name mirrors the adapter name
	Name string `json:"name"`
	// Type mirrors the config's system type
	Type SystemType `json:"type"`
	// Protocol names the wire protocol variant (e.g. "mqtt3.1.1", "https")
	Protocol string `json:"protocol,omitempty"`
	// Vendor names the external system's manufacturer
	Vendor string `json:"vendor,omitempty"`
	// Model names the external system's product/model
	Model string `json:"model,omitempty"`
	// Tags are free-form labels used for AND-matched lookups
	Tags []string `json:"tags,omitempty"`
	// Capabilities are feature labels used for AND-matched lookups
	Capabilities []string `json:"capabilities,omitempty"`
	// TenantScoped reports whether the adapter lives in a tenant partition
	TenantScoped bool `json:"tenant_scoped"`
	// Description is optional free text
	Description string `json:"description,omitempty"`
	// RegisteredAt is when the registry accepted the adapter
	RegisteredAt time.Time `json:"registered_at"`
}

// MetadataOverrides are the caller-supplied fields merged over the
// config-derived defaults at registration time. Nil slices leave the
// defaults in place; empty slices clear them.
type MetadataOverrides struct {
	Protocol     string
	Vendor       string
	Model        string
	Tags         []string
	Capabilities []string
	Description  string
}

// BuildMetadata derives metadata for an adapter from its config, applies the
// optional overrides and stamps the registration scope and time.
func BuildMetadata(cfg *IntegrationConfig, overrides *MetadataOverrides, scope Scope) AdapterMetadata {
	md := AdapterMetadata{
		ID:           cfg.ID,
		Name:         cfg.Name,
		Type:         cfg.Type,
		Protocol:     cfg.Protocol,
		Vendor:       cfg.Vendor,
		Model:        cfg.Model,
		Tags:         append([]string(nil), cfg.Tags...),
		Capabilities: append([]string(nil), cfg.Capabilities...),
		TenantScoped: !scope.IsGlobal(),
		Description:  cfg.Description,
		RegisteredAt: time.Now(),
	}

	if overrides != nil {
		if overrides.Protocol != "" {
			md.Protocol = overrides.Protocol
		}
		if overrides.Vendor != "" {
			md.Vendor = overrides.Vendor
		}
		if overrides.Model != "" {
			md.Model = overrides.Model
		}
		if overrides.Tags != nil {
			md.Tags = append([]string(nil), overrides.Tags...)
		}
		if overrides.Capabilities != nil {
			md.Capabilities = append([]string(nil), overrides.Capabilities...)
		}
		if overrides.Description != "" {
			md.Description = overrides.Description
		}
	}

	return md
}

// HasTag reports whether the metadata carries the given tag
func (m *AdapterMetadata) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// HasCapability reports whether the metadata carries the given capability
func (m *AdapterMetadata) HasCapability(capability string) bool {
	for _, c := range m.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}
