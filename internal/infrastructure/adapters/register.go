package adapters

import (
	"go.uber.org/zap"

	"github.com/PatClay7325/manufacturing-analytics-platform-sub003/internal/domain/integration"
)

// RegisterDefaults binds the shipped adapter constructors to the factory.
// The mqtt, opc_ua, modbus, serial and profinet types stay open for callers
// to register their own constructors.
func RegisterDefaults(f *integration.Factory, logger *zap.Logger) error {
	ctors := map[integration.SystemType]integration.Constructor{
		integration.SystemTypeCustom: func(cfg *integration.IntegrationConfig) (integration.Adapter, error) {
			return NewMemoryAdapter(cfg, logger)
		},
		integration.SystemTypeFileSystem: func(cfg *integration.IntegrationConfig) (integration.Adapter, error) {
			return NewFileAdapter(cfg, logger)
		},
		integration.SystemTypeWebSocket: func(cfg *integration.IntegrationConfig) (integration.Adapter, error) {
			return NewWebSocketAdapter(cfg, logger)
		},
		integration.SystemTypeRESTAPI: func(cfg *integration.IntegrationConfig) (integration.Adapter, error) {
			return NewRESTAdapter(cfg, logger)
		},
		integration.SystemTypeDatabase: func(cfg *integration.IntegrationConfig) (integration.Adapter, error) {
			return NewDatabaseAdapter(cfg, logger)
		},
	}

	for t, ctor := range ctors {
		if err := f.RegisterConstructor(t, ctor); err != nil {
			return err
		}
	}
	return nil
}
