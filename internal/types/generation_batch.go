package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BatchStatus is derived from the constituent video items on read; the batch
// row itself only stores batch-level fault and cancellation markers.
type BatchStatus string

const (
	BatchStatusPending   BatchStatus = "pending"
	BatchStatusRunning   BatchStatus = "running"
	BatchStatusCompleted BatchStatus = "completed"
	BatchStatusFailed    BatchStatus = "failed"
	BatchStatusCancelled BatchStatus = "cancelled"
)

const (
	MinTargetCount = 1
	MaxTargetCount = 10
)

// GenerationBatch is one orchestration run: N video items generated from one
// brief. ParentBatchID/SourceItemID form the lineage edge for "iterate on
// winner"; each batch has at most one parent, so lineage is a forest.
type GenerationBatch struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	BriefID       uuid.UUID      `gorm:"type:uuid;not null;index" json:"brief_id"`
	ParentBatchID *uuid.UUID     `gorm:"type:uuid;index" json:"parent_batch_id,omitempty"`
	SourceItemID  *uuid.UUID     `gorm:"type:uuid" json:"source_item_id,omitempty"`
	TargetCount   int            `gorm:"column:target_count;not null" json:"target_count"`
	Error         string         `gorm:"column:error" json:"error,omitempty"`
	Attempts      int            `gorm:"column:attempts;not null;default:0" json:"attempts"`
	LockedAt      *time.Time     `gorm:"column:locked_at;index" json:"locked_at,omitempty"`
	HeartbeatAt   *time.Time     `gorm:"column:heartbeat_at;index" json:"heartbeat_at,omitempty"`
	CancelledAt   *time.Time     `gorm:"column:cancelled_at" json:"cancelled_at,omitempty"`
	CompletedAt   *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
	CreatedAt     time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP;index" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (GenerationBatch) TableName() string { return "generation_batch" }

// DeriveBatchStatus computes the aggregate status from the batch markers plus
// its item statuses. Advisory for consumers; the per-item breakdown is ground
// truth.
func DeriveBatchStatus(batch *GenerationBatch, items []*VideoItem) BatchStatus {
	if batch == nil {
		return BatchStatusPending
	}
	if batch.Error != "" {
		return BatchStatusFailed
	}
	if batch.CancelledAt != nil {
		return BatchStatusCancelled
	}
	if len(items) == 0 {
		return BatchStatusPending
	}
	started := false
	allTerminal := true
	for _, it := range items {
		if it == nil {
			continue
		}
		if it.Status != ItemStatusPending {
			started = true
		}
		if !it.Status.Terminal() {
			allTerminal = false
		}
	}
	if !started {
		return BatchStatusPending
	}
	if allTerminal {
		return BatchStatusCompleted
	}
	return BatchStatusRunning
}

// LowestActiveStage returns the earliest stage any non-terminal item still
// occupies, so a running batch can report how far its slowest item has come.
// ok is false once every item is terminal (or there are no items).
func LowestActiveStage(items []*VideoItem) (ItemStatus, bool) {
	best := -1
	var stage ItemStatus
	for _, it := range items {
		if it == nil || it.Status.Terminal() {
			continue
		}
		r := it.Status.Rank()
		if r < 0 {
			continue
		}
		if best == -1 || r < best {
			best = r
			stage = it.Status
		}
	}
	return stage, best >= 0
}
