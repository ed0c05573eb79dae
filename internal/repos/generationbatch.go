package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/reelkit/reelkit-backend/internal/logger"
	"github.com/reelkit/reelkit-backend/internal/types"
)

type GenerationBatchRepo interface {
	Create(ctx context.Context, tx *gorm.DB, batches []*types.GenerationBatch) ([]*types.GenerationBatch, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.GenerationBatch, error)
	GetChildren(ctx context.Context, tx *gorm.DB, parentID uuid.UUID) ([]*types.GenerationBatch, error)

	// Claims the next batch that still has work:
	// - never claimed (locked_at IS NULL)
	// - OR claimed but heartbeat is stale (crash recovery), attempts permitting
	// Cancelled, completed, and batch-level-failed rows are never claimed.
	ClaimNextRunnable(ctx context.Context, tx *gorm.DB, maxAttempts int, staleRunning time.Duration) (*types.GenerationBatch, error)

	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type generationBatchRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewGenerationBatchRepo(db *gorm.DB, baseLog *logger.Logger) GenerationBatchRepo {
	return &generationBatchRepo{db: db, log: baseLog.With("repo", "GenerationBatchRepo")}
}

func (r *generationBatchRepo) Create(ctx context.Context, tx *gorm.DB, batches []*types.GenerationBatch) ([]*types.GenerationBatch, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(batches) == 0 {
		return []*types.GenerationBatch{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&batches).Error; err != nil {
		return nil, err
	}
	return batches, nil
}

func (r *generationBatchRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.GenerationBatch, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.GenerationBatch
	if len(ids) == 0 {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *generationBatchRepo) GetChildren(ctx context.Context, tx *gorm.DB, parentID uuid.UUID) ([]*types.GenerationBatch, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.GenerationBatch
	if parentID == uuid.Nil {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("parent_batch_id = ?", parentID).
		Order("created_at ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *generationBatchRepo) ClaimNextRunnable(
	ctx context.Context,
	tx *gorm.DB,
	maxAttempts int,
	staleRunning time.Duration,
) (*types.GenerationBatch, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	now := time.Now()
	staleCutoff := now.Add(-staleRunning)

	var claimed *types.GenerationBatch

	err := transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		var batch types.GenerationBatch

		q := txx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where(`
				completed_at IS NULL
				AND cancelled_at IS NULL
				AND error = ''
				AND attempts < ?
				AND (
					locked_at IS NULL
					OR (heartbeat_at IS NOT NULL AND heartbeat_at < ?)
				)
			`, maxAttempts, staleCutoff).
			Order("created_at ASC")

		qErr := q.First(&batch).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}

		uErr := txx.Model(&types.GenerationBatch{}).
			Where("id = ?", batch.ID).
			Updates(map[string]interface{}{
				"attempts":     gorm.Expr("attempts + 1"),
				"locked_at":    now,
				"heartbeat_at": now,
				"updated_at":   now,
			}).Error
		if uErr != nil {
			return uErr
		}

		claimed = &batch
		return nil
	})

	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *generationBatchRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(ctx).
		Model(&types.GenerationBatch{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *generationBatchRepo) Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	now := time.Now()
	return transaction.WithContext(ctx).
		Model(&types.GenerationBatch{}).
		Where("id = ? AND completed_at IS NULL", id).
		Updates(map[string]interface{}{
			"heartbeat_at": now,
			"updated_at":   now,
		}).Error
}
