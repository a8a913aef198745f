package model

import "time"

// IngestJob asks a worker to run the ingestion pipeline for one document.
type IngestJob struct {
	DocumentID  string    `json:"document_id"`
	RequestedAt time.Time `json:"requested_at"`
}
