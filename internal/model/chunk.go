package model

import (
	"encoding/json"
	"time"
)

// Chunk stores a text span of a document and its embedding.
// Embedding is stored as JSON array of float32 for portability.
type Chunk struct {
	ID         string    `gorm:"primaryKey;size:64" json:"id"`
	DocumentID string    `gorm:"size:36;not null;index" json:"document_id"`
	Position   int       `gorm:"not null" json:"position"`
	Content    string    `gorm:"type:text;not null" json:"content"`
	Start      int       `json:"start"` // rune offset in the extracted text
	End        int       `json:"end"`
	Page       *int      `json:"page,omitempty"`
	Embedding  string    `gorm:"type:longtext" json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

// EmbeddingVector returns the parsed embedding slice; empty on parse error.
func (c *Chunk) EmbeddingVector() []float32 {
	if c.Embedding == "" {
		return nil
	}
	var v []float32
	_ = json.Unmarshal([]byte(c.Embedding), &v)
	return v
}

// SetEmbedding stores the embedding as JSON.
func (c *Chunk) SetEmbedding(vec []float32) {
	if len(vec) == 0 {
		c.Embedding = "[]"
		return
	}
	b, _ := json.Marshal(vec)
	c.Embedding = string(b)
}
