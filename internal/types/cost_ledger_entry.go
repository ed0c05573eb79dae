package types

import (
	"time"

	"github.com/google/uuid"
)

// ServiceCategory classifies what kind of provider work a ledger entry priced.
type ServiceCategory string

const (
	CategoryScript      ServiceCategory = "script"
	CategoryAvatar      ServiceCategory = "avatar"
	CategoryComposition ServiceCategory = "composition"
	CategoryStorage     ServiceCategory = "storage"
)

// CostLedgerEntry is append-only: rows are inserted after a provider operation
// completes and are never updated or deleted. Batch and item cost totals are
// sums over this table, not stored counters. VideoItemID is nullable so the
// financial audit trail survives item deletion.
type CostLedgerEntry struct {
	ID          uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	VideoItemID *uuid.UUID      `gorm:"type:uuid;index" json:"video_item_id,omitempty"`
	BatchID     *uuid.UUID      `gorm:"type:uuid;index" json:"batch_id,omitempty"`
	Category    ServiceCategory `gorm:"column:category;not null" json:"category"`
	Provider    string          `gorm:"column:provider;not null" json:"provider"`
	Operation   string          `gorm:"column:operation;not null" json:"operation"`
	InputUnits  int64           `gorm:"column:input_units;not null;default:0" json:"input_units"`
	OutputUnits int64           `gorm:"column:output_units;not null;default:0" json:"output_units"`
	UnitType    string          `gorm:"column:unit_type;not null" json:"unit_type"`
	CostMicros  int64           `gorm:"column:cost_micros;not null;default:0" json:"cost_micros"`
	CreatedAt   time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP;index" json:"created_at"`
}

func (CostLedgerEntry) TableName() string { return "cost_ledger_entry" }
