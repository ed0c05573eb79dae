package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/reelkit/reelkit-backend/internal/logger"
	"github.com/reelkit/reelkit-backend/internal/types"
)

// ErrStaleTransition reports a guarded status update that matched no row:
// a concurrent writer already moved the item past the expected status.
var ErrStaleTransition = errors.New("stale status transition")

type VideoItemRepo interface {
	Create(ctx context.Context, tx *gorm.DB, items []*types.VideoItem) ([]*types.VideoItem, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.VideoItem, error)
	GetByBatchID(ctx context.Context, tx *gorm.DB, batchID uuid.UUID) ([]*types.VideoItem, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error

	// Advances the item only while it still sits in the expected status, so
	// statuses never move backwards. Returns ErrStaleTransition when the row
	// was already moved.
	TransitionStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, from, to types.ItemStatus, updates map[string]interface{}) error

	// Marks the item failed unless it already reached a terminal status.
	Fail(ctx context.Context, tx *gorm.DB, id uuid.UUID, errMsg string) error

	// Marks every non-terminal item of a batch failed with the given error.
	// Used by cancellation only; normal failure is per-item.
	FailNonTerminalByBatchID(ctx context.Context, tx *gorm.DB, batchID uuid.UUID, errMsg string) error
}

type videoItemRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewVideoItemRepo(db *gorm.DB, baseLog *logger.Logger) VideoItemRepo {
	return &videoItemRepo{db: db, log: baseLog.With("repo", "VideoItemRepo")}
}

func (r *videoItemRepo) Create(ctx context.Context, tx *gorm.DB, items []*types.VideoItem) ([]*types.VideoItem, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(items) == 0 {
		return []*types.VideoItem{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *videoItemRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.VideoItem, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.VideoItem
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

func (r *videoItemRepo) GetByBatchID(ctx context.Context, tx *gorm.DB, batchID uuid.UUID) ([]*types.VideoItem, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.VideoItem
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

func (r *videoItemRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.VideoItem{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *videoItemRepo) TransitionStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, from, to types.ItemStatus, updates map[string]interface{}) error {
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
	updates["status"] = to
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	result := transaction.WithContext(ctx).
		Model(&types.VideoItem{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStaleTransition
	}
	return nil
}

func (r *videoItemRepo) Fail(ctx context.Context, tx *gorm.DB, id uuid.UUID, errMsg string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	now := time.Now()
	return transaction.WithContext(ctx).
		Model(&types.VideoItem{}).
		Where("id = ? AND status NOT IN ?", id, []types.ItemStatus{
			types.ItemStatusCompleted,
			types.ItemStatusFailed,
		}).
		Updates(map[string]interface{}{
			"status":     types.ItemStatusFailed,
			"error":      errMsg,
			"failed_at":  now,
			"updated_at": now,
		}).Error
}

func (r *videoItemRepo) FailNonTerminalByBatchID(ctx context.Context, tx *gorm.DB, batchID uuid.UUID, errMsg string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if batchID == uuid.Nil {
		return nil
	}
	now := time.Now()
	return transaction.WithContext(ctx).
		Model(&types.VideoItem{}).
		Where("batch_id = ? AND status NOT IN ?", batchID, []types.ItemStatus{
			types.ItemStatusCompleted,
			types.ItemStatusFailed,
		}).
		Updates(map[string]interface{}{
			"status":     types.ItemStatusFailed,
			"error":      errMsg,
			"failed_at":  now,
			"updated_at": now,
		}).Error
}
