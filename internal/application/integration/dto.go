package integration

import (
	"time"

	"github.com/PatClay7325/manufacturing-analytics-platform-sub003/internal/domain/integration"
)

// AdapterOverview is the list/detail view of one registered adapter.
type AdapterOverview struct {
	ID               string                       `json:"id"`
	Name             string                       `json:"name"`
	Type             integration.SystemType       `json:"type"`
	Scope            string                       `json:"scope"`
	ConnectionStatus integration.ConnectionStatus `json:"connection_status"`
	ServiceStatus    integration.ServiceStatus    `json:"service_status"`
	Metadata         integration.AdapterMetadata  `json:"metadata"`
}

// OverviewOf builds the adapter view from a registration.
func OverviewOf(reg integration.Registration) AdapterOverview {
	return AdapterOverview{
		ID:               reg.Metadata.ID,
		Name:             reg.Metadata.Name,
		Type:             reg.Metadata.Type,
		Scope:            reg.Scope.String(),
		ConnectionStatus: reg.Adapter.ConnectionStatus(),
		ServiceStatus:    reg.Adapter.Status(),
		Metadata:         reg.Metadata,
	}
}

// AdapterHealthEntry is one adapter's slice of the aggregate health report.
// Error carries a collection failure inline instead of aborting the report.
type AdapterHealthEntry struct {
	ID     string                          `json:"id"`
	Type   integration.SystemType          `json:"type"`
	Scope  string                          `json:"scope"`
	Health integration.AdapterHealthStatus `json:"health"`
	Error  string                          `json:"error,omitempty"`
}

// AggregateHealth is the framework-wide health report.
type AggregateHealth struct {
	// Status is ready when no adapter reports error, degraded when some
	// do, error when all do (and at least one adapter exists).
	Status    integration.ServiceStatus `json:"status"`
	Adapters  []AdapterHealthEntry      `json:"adapters"`
	Pipelines []PipelineHealth          `json:"pipelines"`
	CheckedAt time.Time                 `json:"checked_at"`
}
