package integration

// ---------------------------------------------------------------------------
// SystemType represents the kind of external system an adapter connects to
// ---------------------------------------------------------------------------

// SystemType represents the kind of external system an adapter connects to
type SystemType string

const (
	// SystemTypeMQTT represents an MQTT broker
	SystemTypeMQTT SystemType = "mqtt"
	// SystemTypeOPCUA represents an OPC UA server
	SystemTypeOPCUA SystemType = "opc_ua"
	// SystemTypeRESTAPI represents a REST API endpoint
	SystemTypeRESTAPI SystemType = "rest_api"
	// SystemTypeDatabase represents an external database
	SystemTypeDatabase SystemType = "database"
	// SystemTypeFileSystem represents a file-drop exchange (directory or bucket)
	SystemTypeFileSystem SystemType = "file_system"
	// SystemTypeWebSocket represents a WebSocket endpoint
	SystemTypeWebSocket SystemType = "websocket"
	// SystemTypeModbus represents a Modbus device
	SystemTypeModbus SystemType = "modbus"
	// SystemTypeSerial represents a serial-line device
	SystemTypeSerial SystemType = "serial"
	// SystemTypeProfinet represents a PROFINET device
	SystemTypeProfinet SystemType = "profinet"
	// SystemTypeCustom represents a caller-provided adapter implementation
	SystemTypeCustom SystemType = "custom"
)

// IsValid returns true if the system type is valid
func (t SystemType) IsValid() bool {
	switch t {
	case SystemTypeMQTT, SystemTypeOPCUA, SystemTypeRESTAPI, SystemTypeDatabase,
		SystemTypeFileSystem, SystemTypeWebSocket, SystemTypeModbus,
		SystemTypeSerial, SystemTypeProfinet, SystemTypeCustom:
		return true
	default:
		return false
	}
}

// String returns the string representation of SystemType
func (t SystemType) String() string {
	return string(t)
}

// SystemTypes returns all valid system types
func SystemTypes() []SystemType {
	return []SystemType{
		SystemTypeMQTT, SystemTypeOPCUA, SystemTypeRESTAPI, SystemTypeDatabase,
		SystemTypeFileSystem, SystemTypeWebSocket, SystemTypeModbus,
		SystemTypeSerial, SystemTypeProfinet, SystemTypeCustom,
	}
}

// ---------------------------------------------------------------------------
// ConnectionStatus represents the state of an adapter's link to its system
// ---------------------------------------------------------------------------

// ConnectionStatus represents the state of an adapter's link to its system
type ConnectionStatus string

const (
	// ConnectionStatusDisconnected indicates no active link
	ConnectionStatusDisconnected ConnectionStatus = "disconnected"
	// ConnectionStatusConnecting indicates a connect is in progress
	ConnectionStatusConnecting ConnectionStatus = "connecting"
	// ConnectionStatusConnected indicates an established link
	ConnectionStatusConnected ConnectionStatus = "connected"
	// ConnectionStatusReconnecting indicates a reconnect is in progress
	ConnectionStatusReconnecting ConnectionStatus = "reconnecting"
	// ConnectionStatusError indicates the link is down due to a failure
	ConnectionStatusError ConnectionStatus = "error"
)

// IsValid returns true if the connection status is valid
func (s ConnectionStatus) IsValid() bool {
	switch s {
	case ConnectionStatusDisconnected, ConnectionStatusConnecting,
		ConnectionStatusConnected, ConnectionStatusReconnecting,
		ConnectionStatusError:
		return true
	default:
		return false
	}
}

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	return string(s)
}

// ---------------------------------------------------------------------------
// ServiceStatus represents the lifecycle state of an adapter or the manager
// ---------------------------------------------------------------------------

// ServiceStatus represents the lifecycle state of an adapter or the manager
type ServiceStatus string

const (
	// ServiceStatusInitializing indicates construction-time setup is running
	ServiceStatusInitializing ServiceStatus = "initializing"
	// ServiceStatusReady indicates initialization finished and start is allowed
	ServiceStatusReady ServiceStatus = "ready"
	// ServiceStatusStarting indicates start is in progress
	ServiceStatusStarting ServiceStatus = "starting"
	// ServiceStatusRunning indicates normal operation
	ServiceStatusRunning ServiceStatus = "running"
	// ServiceStatusStopping indicates a graceful stop is in progress
	ServiceStatusStopping ServiceStatus = "stopping"
	// ServiceStatusOffline indicates the service is stopped
	ServiceStatusOffline ServiceStatus = "offline"
	// ServiceStatusDegraded indicates partial operation with known failures
	ServiceStatusDegraded ServiceStatus = "degraded"
	// ServiceStatusError indicates the service failed
	ServiceStatusError ServiceStatus = "error"
)

// IsValid returns true if the service status is valid
func (s ServiceStatus) IsValid() bool {
	switch s {
	case ServiceStatusInitializing, ServiceStatusReady, ServiceStatusStarting,
		ServiceStatusRunning, ServiceStatusStopping, ServiceStatusOffline,
		ServiceStatusDegraded, ServiceStatusError:
		return true
	default:
		return false
	}
}

// String returns the string representation of ServiceStatus
func (s ServiceStatus) String() string {
	return string(s)
}

// IsActive returns true for states in which the service performs work
func (s ServiceStatus) IsActive() bool {
	switch s {
	case ServiceStatusStarting, ServiceStatusRunning, ServiceStatusDegraded:
		return true
	default:
		return false
	}
}
