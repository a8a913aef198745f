package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"docresearch/internal/model"
)

type DocumentRepository struct {
	db *gorm.DB
}

func NewDocumentRepository(db *gorm.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func (r *DocumentRepository) Create(ctx context.Context, doc *model.Document) error {
	if err := r.db.WithContext(ctx).Create(doc).Error; err != nil {
		return fmt.Errorf("create document failed: %w", err)
	}
	return nil
}

// Update writes every field of doc while its row exists. It never inserts, so
// a document deleted concurrently stays deleted; false reports that case.
func (r *DocumentRepository) Update(ctx context.Context, doc *model.Document) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Document{}).Where("id = ?", doc.ID).Select("*").Omit("id", "uploaded_at").Updates(doc)
	if res.Error != nil {
		return false, fmt.Errorf("update document failed: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return true, nil
	}
	// MySQL reports changed rows only; an unchanged row still exists.
	var n int64
	if err := r.db.WithContext(ctx).Model(&model.Document{}).Where("id = ?", doc.ID).Count(&n).Error; err != nil {
		return false, fmt.Errorf("count document failed: %w", err)
	}
	return n > 0, nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*model.Document, error) {
	var doc model.Document
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&doc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get document failed: %w", err)
	}
	return &doc, nil
}

// GetByIDs returns the documents that exist among ids, in no particular order.
func (r *DocumentRepository) GetByIDs(ctx context.Context, ids []string) ([]model.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var list []model.Document
	if err := r.db.WithContext(ctx).Omit("text").Where("id IN ?", ids).Find(&list).Error; err != nil {
		return nil, fmt.Errorf("get documents failed: %w", err)
	}
	return list, nil
}

// List returns documents newest first, optionally filtered by status.
func (r *DocumentRepository) List(ctx context.Context, status model.DocumentStatus) ([]model.Document, error) {
	q := r.db.WithContext(ctx).Omit("text")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var list []model.Document
	if err := q.Order("uploaded_at DESC").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list documents failed: %w", err)
	}
	return list, nil
}

// ListIDsByStatus returns the ids of documents in status, sorted.
func (r *DocumentRepository) ListIDsByStatus(ctx context.Context, status model.DocumentStatus) ([]string, error) {
	var ids []string
	if err := r.db.WithContext(ctx).Model(&model.Document{}).Where("status = ?", status).Order("id").Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("list document ids failed: %w", err)
	}
	return ids, nil
}

func (r *DocumentRepository) DeleteByID(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Document{}).Error; err != nil {
		return fmt.Errorf("delete document failed: %w", err)
	}
	return nil
}
