package model

import "time"

const (
	ThemeSourceAnalysis = "analysis"
	ThemeSourceManual   = "manual"
)

// Theme is a cross-document topic produced by an analysis run or entered by hand.
// Scope is the sorted, comma-joined set of document ids the run targeted.
type Theme struct {
	ID                    string    `gorm:"primaryKey;size:36" json:"id"`
	Name                  string    `gorm:"size:128;not null" json:"name"`
	Description           string    `gorm:"type:text" json:"description"`
	Keywords              []string  `gorm:"serializer:json;type:text" json:"keywords"`
	Confidence            float64   `gorm:"not null" json:"confidence"`
	Source                string    `gorm:"size:16;not null" json:"source"`
	Scope                 string    `gorm:"type:text;not null" json:"-"`
	ScopeHash             string    `gorm:"size:64;not null;index" json:"-"`
	SupportingDocumentIDs []string  `gorm:"-" json:"supporting_document_ids"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// ThemeDocument links a theme to one of its supporting documents.
type ThemeDocument struct {
	ThemeID    string `gorm:"primaryKey;size:36"`
	DocumentID string `gorm:"primaryKey;size:36;index"`
}
