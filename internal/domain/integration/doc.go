// Package integration contains the Integration bounded context.
// This context connects the analytics platform to heterogeneous external
// manufacturing systems (brokers, device servers, REST APIs, databases,
// file drops) through a uniform adapter abstraction.
//
// Key concepts:
//   - Adapter: Port interface every external-system connector implements
//   - IntegrationConfig: Declarative description an adapter is built from
//   - Registry: In-memory catalog of adapters with multi-dimensional indexes
//   - AdapterHealthStatus: Per-adapter health record maintained by the manager
//   - Transformer: Bidirectional converter between wire formats and DataPacket
//   - Scope: Explicit global-or-tenant partition for adapter ownership
//
// Design Pattern: Ports & Adapters
//   - Ports (interfaces) are defined here in the domain layer
//   - Adapters (implementations) are in the infrastructure layer
package integration
