package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/reelkit/reelkit-backend/internal/logger"
	"github.com/reelkit/reelkit-backend/internal/types"
)

// CostLedgerRepo is append-only: Create is the only write. Totals are SQL sums
// over matching rows so concurrent writers can never drift an aggregate.
type CostLedgerRepo interface {
	Create(ctx context.Context, tx *gorm.DB, entries []*types.CostLedgerEntry) ([]*types.CostLedgerEntry, error)
	GetByBatchID(ctx context.Context, tx *gorm.DB, batchID uuid.UUID) ([]*types.CostLedgerEntry, error)
	SumByVideoItemID(ctx context.Context, tx *gorm.DB, itemID uuid.UUID) (int64, error)
	SumByBatchID(ctx context.Context, tx *gorm.DB, batchID uuid.UUID) (int64, error)
}

type costLedgerRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCostLedgerRepo(db *gorm.DB, baseLog *logger.Logger) CostLedgerRepo {
	return &costLedgerRepo{db: db, log: baseLog.With("repo", "CostLedgerRepo")}
}

func (r *costLedgerRepo) Create(ctx context.Context, tx *gorm.DB, entries []*types.CostLedgerEntry) ([]*types.CostLedgerEntry, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(entries) == 0 {
		return []*types.CostLedgerEntry{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *costLedgerRepo) GetByBatchID(ctx context.Context, tx *gorm.DB, batchID uuid.UUID) ([]*types.CostLedgerEntry, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.CostLedgerEntry
	if batchID == uuid.Nil {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("created_at ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *costLedgerRepo) SumByVideoItemID(ctx context.Context, tx *gorm.DB, itemID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if itemID == uuid.Nil {
		return 0, nil
	}
	var total int64
	err := transaction.WithContext(ctx).
		Model(&types.CostLedgerEntry{}).
		Where("video_item_id = ?", itemID).
		Select("COALESCE(SUM(cost_micros), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (r *costLedgerRepo) SumByBatchID(ctx context.Context, tx *gorm.DB, batchID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if batchID == uuid.Nil {
		return 0, nil
	}
	var total int64
	err := transaction.WithContext(ctx).
		Model(&types.CostLedgerEntry{}).
		Where("batch_id = ?", batchID).
		Select("COALESCE(SUM(cost_micros), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}
