package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/PatClay7325/manufacturing-analytics-platform-sub003/internal/domain/integration"
	"github.com/PatClay7325/manufacturing-analytics-platform-sub003/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormIntegrationConfigRepository stores adapter configurations in the
// integration_configs table. It implements both integration.ConfigProvider
// (the manager pre-registers what it returns during Initialize) and
// integration.ConfigStore (API-registered configs survive restarts).
type GormIntegrationConfigRepository struct {
	db *gorm.DB
}

// NewGormIntegrationConfigRepository creates a new GormIntegrationConfigRepository
func NewGormIntegrationConfigRepository(db *gorm.DB) *GormIntegrationConfigRepository {
	return &GormIntegrationConfigRepository{db: db}
}

// ---------------------------------------------------------------------------
// ConfigProvider implementation
// ---------------------------------------------------------------------------

// LoadGlobal returns the stored configs without a tenant binding.
func (r *GormIntegrationConfigRepository) LoadGlobal(ctx context.Context) ([]integration.IntegrationConfig, error) {
	return r.loadForTenantID(ctx, uuid.Nil)
}

// LoadForTenant returns the stored configs bound to one tenant.
func (r *GormIntegrationConfigRepository) LoadForTenant(ctx context.Context, tenantID uuid.UUID) ([]integration.IntegrationConfig, error) {
	if tenantID == uuid.Nil {
		return nil, fmt.Errorf("%w: tenant id must not be the nil UUID", integration.ErrInvalidConfig)
	}
	return r.loadForTenantID(ctx, tenantID)
}

func (r *GormIntegrationConfigRepository) loadForTenantID(ctx context.Context, tenantID uuid.UUID) ([]integration.IntegrationConfig, error) {
	var configModels []models.IntegrationConfigModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("id ASC").
		Find(&configModels).Error; err != nil {
		return nil, err
	}

	configs := make([]integration.IntegrationConfig, len(configModels))
	for i, model := range configModels {
		configs[i] = *model.ToDomain()
	}
	return configs, nil
}

// ---------------------------------------------------------------------------
// ConfigStore implementation
// ---------------------------------------------------------------------------

// SaveConfig creates or updates a stored config keyed by (id, tenant).
func (r *GormIntegrationConfigRepository) SaveConfig(ctx context.Context, cfg *integration.IntegrationConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	model := models.IntegrationConfigModelFromDomain(cfg)
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}, {Name: "tenant_id"}},
			UpdateAll: true,
		}).
		Create(model).Error
}

// DeleteConfig removes a stored config. Deleting a config that was never
// stored is a no-op; most adapters come from declarative files.
func (r *GormIntegrationConfigRepository) DeleteConfig(ctx context.Context, id string, scope integration.Scope) error {
	return r.db.WithContext(ctx).
		Delete(&models.IntegrationConfigModel{}, "id = ? AND tenant_id = ?", id, scope.TenantOrNil()).Error
}

// ---------------------------------------------------------------------------
// Direct lookups
// ---------------------------------------------------------------------------

// GetConfig returns one stored config by id within a scope.
func (r *GormIntegrationConfigRepository) GetConfig(ctx context.Context, id string, scope integration.Scope) (*integration.IntegrationConfig, error) {
	var model models.IntegrationConfigModel
	if err := r.db.WithContext(ctx).
		First(&model, "id = ? AND tenant_id = ?", id, scope.TenantOrNil()).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %q", integration.ErrAdapterNotFound, id)
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// CountConfigs returns the number of stored configs across all scopes.
func (r *GormIntegrationConfigRepository) CountConfigs(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.IntegrationConfigModel{}).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Ensure GormIntegrationConfigRepository implements both ports
var (
	_ integration.ConfigProvider = (*GormIntegrationConfigRepository)(nil)
	_ integration.ConfigStore    = (*GormIntegrationConfigRepository)(nil)
)
