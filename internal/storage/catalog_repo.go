package storage

import (
	"context"

	"gorm.io/gorm"

	"github.com/bothub-tgbot-go/internal/models"
)

// CatalogRepo mirrors the remote model and plan catalogs. Sync operations
// upsert the remote snapshot and delete local rows the remote no longer
// exposes.
type CatalogRepo struct {
	db *gorm.DB
}

// NewCatalogRepo creates a catalog repository.
func NewCatalogRepo(db *gorm.DB) *CatalogRepo {
	return &CatalogRepo{db: db}
}

// ListModels returns the mirrored model catalog.
func (r *CatalogRepo) ListModels(ctx context.Context) ([]models.Model, error) {
	var out []models.Model
	err := r.db.WithContext(ctx).Order("id ASC").Find(&out).Error
	return out, err
}

// SyncModels replaces the local mirror with the remote snapshot: every
// remote entry is upserted, and local rows absent from the snapshot are
// deleted.
func (r *CatalogRepo) SyncModels(ctx context.Context, remote []models.Model) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ids := make([]string, 0, len(remote))
		for i := range remote {
			m := remote[i]
			ids = append(ids, m.ID)
			if err := tx.Save(&m).Error; err != nil {
				return err
			}
		}
		if len(ids) == 0 {
			return tx.Where("1 = 1").Delete(&models.Model{}).Error
		}
		return tx.Where("id NOT IN ?", ids).Delete(&models.Model{}).Error
	})
}

// ListPlans returns the mirrored plan catalog.
func (r *CatalogRepo) ListPlans(ctx context.Context) ([]models.Plan, error) {
	var out []models.Plan
	err := r.db.WithContext(ctx).Order("price ASC").Find(&out).Error
	return out, err
}

// SyncPlans mirrors the remote plan list the same way SyncModels does.
func (r *CatalogRepo) SyncPlans(ctx context.Context, remote []models.Plan) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ids := make([]string, 0, len(remote))
		for i := range remote {
			p := remote[i]
			ids = append(ids, p.BothubID)
			var existing models.Plan
			err := tx.Where("bothub_id = ?", p.BothubID).First(&existing).Error
			if err == nil {
				p.ID = existing.ID
			} else if err != gorm.ErrRecordNotFound {
				return err
			}
			if err := tx.Save(&p).Error; err != nil {
				return err
			}
		}
		if len(ids) == 0 {
			return tx.Where("1 = 1").Delete(&models.Plan{}).Error
		}
		return tx.Where("bothub_id NOT IN ?", ids).Delete(&models.Plan{}).Error
	})
}
