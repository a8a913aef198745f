package model

import "time"

type DocumentStatus string

const (
	StatusUploaded   DocumentStatus = "UPLOADED"
	StatusProcessing DocumentStatus = "PROCESSING"
	StatusProcessed  DocumentStatus = "PROCESSED"
	StatusError      DocumentStatus = "ERROR"
)

// Document is the metadata record of one uploaded file.
// Text and Error stay nil until the pipeline sets them.
type Document struct {
	ID           string         `gorm:"primaryKey;size:36" json:"id"`
	Filename     string         `gorm:"size:256;not null" json:"filename"`
	Name         string         `gorm:"size:256;not null" json:"name"`
	DocumentType string         `gorm:"size:64" json:"document_type,omitempty"`
	Author       string         `gorm:"size:128" json:"author,omitempty"`
	Date         string         `gorm:"size:10" json:"date,omitempty"` // YYYY-MM-DD
	FileType     string         `gorm:"size:128;not null" json:"file_type"`
	Size         int64          `gorm:"not null" json:"size"`
	Status       DocumentStatus `gorm:"size:16;not null;index" json:"status"`
	PageCount    int            `json:"page_count"`
	StoragePath  string         `gorm:"size:512" json:"-"`
	Text         *string        `gorm:"type:longtext" json:"-"`
	Error        *string        `gorm:"type:text" json:"error,omitempty"`
	ErrorKind    string         `gorm:"size:64" json:"error_kind,omitempty"`
	UploadedAt   time.Time      `gorm:"not null" json:"uploaded_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

func (d *Document) IsProcessed() bool {
	return d.Status == StatusProcessed
}

// MarkError moves the document to the terminal ERROR state.
func (d *Document) MarkError(kind, cause string) {
	d.Status = StatusError
	d.ErrorKind = kind
	d.Error = &cause
}
