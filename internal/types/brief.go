package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Brief is the user-authored description of the ad to generate. The raw text is
// immutable; Interpretation is the structured read of it (persona, hook,
// emotional angle, scene tags) and is replaced wholesale on re-parse.
type Brief struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Text           string         `gorm:"column:text;not null" json:"text"`
	Interpretation datatypes.JSON `gorm:"type:jsonb;column:interpretation" json:"interpretation,omitempty"`
	ParsedAt       *time.Time     `gorm:"column:parsed_at" json:"parsed_at,omitempty"`
	CreatedAt      time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Brief) TableName() string { return "brief" }

// Parsed reports whether the brief carries a structured interpretation.
// StartBatch refuses briefs that were never parsed.
func (b *Brief) Parsed() bool {
	return b != nil && b.ParsedAt != nil && len(b.Interpretation) > 0
}

// BriefInterpretation is the decoded shape of Brief.Interpretation.
type BriefInterpretation struct {
	Persona        string   `json:"persona"`
	Hook           string   `json:"hook"`
	EmotionalAngle string   `json:"emotional_angle"`
	SceneTags      []string `json:"scene_tags"`
}
