package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ItemStatus names the stage a video item is currently in. Transitions only
// move forward through itemStatusOrder; FAILED is reachable from any
// non-terminal status.
type ItemStatus string

const (
	ItemStatusPending     ItemStatus = "pending"
	ItemStatusQueued      ItemStatus = "queued"
	ItemStatusScriptGen   ItemStatus = "script_gen"
	ItemStatusAvatarGen   ItemStatus = "avatar_gen"
	ItemStatusVideoGen    ItemStatus = "video_gen"
	ItemStatusCompositing ItemStatus = "compositing"
	ItemStatusUploading   ItemStatus = "uploading"
	ItemStatusCompleted   ItemStatus = "completed"
	ItemStatusFailed      ItemStatus = "failed"
)

var itemStatusOrder = []ItemStatus{
	ItemStatusPending,
	ItemStatusQueued,
	ItemStatusScriptGen,
	ItemStatusAvatarGen,
	ItemStatusVideoGen,
	ItemStatusCompositing,
	ItemStatusUploading,
	ItemStatusCompleted,
}

// Rank returns the position of s in the stage order, or -1 for FAILED and
// unknown statuses.
func (s ItemStatus) Rank() int {
	for i, st := range itemStatusOrder {
		if st == s {
			return i
		}
	}
	return -1
}

func (s ItemStatus) Terminal() bool {
	return s == ItemStatusCompleted || s == ItemStatusFailed
}

// Next returns the status that follows s in the fixed stage order. Returns
// false for terminal and unknown statuses.
func (s ItemStatus) Next() (ItemStatus, bool) {
	r := s.Rank()
	if r < 0 || r >= len(itemStatusOrder)-1 {
		return s, false
	}
	return itemStatusOrder[r+1], true
}

// ReviewState is set by a human reviewer outside this core.
type ReviewState string

const (
	ReviewStatePending  ReviewState = "pending"
	ReviewStateApproved ReviewState = "approved"
	ReviewStateFlagged  ReviewState = "flagged"
)

// VideoItem is one generated artifact within a batch. Stage outputs are kept on
// the row so a replayed stage can return the cached output instead of calling
// the provider again. Per-item cost is never stored here; it is a sum over the
// cost ledger.
type VideoItem struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	BatchID       uuid.UUID      `gorm:"type:uuid;not null;index" json:"batch_id"`
	Status        ItemStatus     `gorm:"column:status;not null;index" json:"status"`
	Script        datatypes.JSON `gorm:"type:jsonb;column:script" json:"script,omitempty"`
	AvatarClipURL string         `gorm:"column:avatar_clip_url" json:"avatar_clip_url,omitempty"`
	ComposedURL   string         `gorm:"column:composed_url" json:"composed_url,omitempty"`
	StorageKey    string         `gorm:"column:storage_key" json:"storage_key,omitempty"`
	VideoURL      string         `gorm:"column:video_url" json:"video_url,omitempty"`
	ReviewState   ReviewState    `gorm:"column:review_state;not null;default:'pending'" json:"review_state"`
	Error         string         `gorm:"column:error" json:"error,omitempty"`
	FailedAt      *time.Time     `gorm:"column:failed_at" json:"failed_at,omitempty"`
	CreatedAt     time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP;index" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (VideoItem) TableName() string { return "video_item" }
