package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"gorm.io/gorm"

	"docresearch/internal/model"
)

type ThemeRepository struct {
	db *gorm.DB
}

func NewThemeRepository(db *gorm.DB) *ThemeRepository {
	return &ThemeRepository{db: db}
}

// ReplaceScope deletes every theme stored for scopeHash and inserts themes with
// their supporting-document links, in one transaction.
func (r *ThemeRepository) ReplaceScope(ctx context.Context, scopeHash string, themes []model.Theme) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var oldIDs []string
		if err := tx.Model(&model.Theme{}).Where("scope_hash = ?", scopeHash).Pluck("id", &oldIDs).Error; err != nil {
			return fmt.Errorf("list themes by scope failed: %w", err)
		}
		if err := deleteThemes(tx, oldIDs); err != nil {
			return err
		}
		for i := range themes {
			if err := tx.Create(&themes[i]).Error; err != nil {
				return fmt.Errorf("create theme failed: %w", err)
			}
			if err := createThemeDocuments(tx, &themes[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// Update writes the editable fields of theme and replaces its supporting
// documents. It reports false when the theme no longer exists.
func (r *ThemeRepository) Update(ctx context.Context, theme *model.Theme) (bool, error) {
	found := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Theme{}).Where("id = ?", theme.ID).
			Select("name", "description", "keywords", "confidence", "updated_at").
			Updates(theme)
		if res.Error != nil {
			return fmt.Errorf("update theme failed: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			var n int64
			if err := tx.Model(&model.Theme{}).Where("id = ?", theme.ID).Count(&n).Error; err != nil {
				return fmt.Errorf("count theme failed: %w", err)
			}
			if n == 0 {
				return nil
			}
		}
		found = true

		if err := tx.Where("theme_id = ?", theme.ID).Delete(&model.ThemeDocument{}).Error; err != nil {
			return fmt.Errorf("delete theme documents failed: %w", err)
		}
		return createThemeDocuments(tx, theme)
	})
	if err != nil {
		return false, err
	}
	return found, nil
}

// List returns all themes, highest confidence first.
func (r *ThemeRepository) List(ctx context.Context) ([]model.Theme, error) {
	var list []model.Theme
	if err := r.db.WithContext(ctx).Order("confidence DESC, name").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list themes failed: %w", err)
	}
	if err := r.attachDocuments(ctx, list); err != nil {
		return nil, err
	}
	return list, nil
}

func (r *ThemeRepository) GetByID(ctx context.Context, id string) (*model.Theme, error) {
	var theme model.Theme
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&theme).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get theme failed: %w", err)
	}
	list := []model.Theme{theme}
	if err := r.attachDocuments(ctx, list); err != nil {
		return nil, err
	}
	return &list[0], nil
}

func (r *ThemeRepository) DeleteByID(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return deleteThemes(tx, []string{id})
	})
}

// RemoveDocument drops documentID from every theme's supporting set and deletes
// themes left with no supporters. It returns the ids of deleted themes.
func (r *ThemeRepository) RemoveDocument(ctx context.Context, documentID string) ([]string, error) {
	var removed []string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var themeIDs []string
		if err := tx.Model(&model.ThemeDocument{}).Where("document_id = ?", documentID).Pluck("theme_id", &themeIDs).Error; err != nil {
			return fmt.Errorf("list themes by document failed: %w", err)
		}
		if len(themeIDs) == 0 {
			return nil
		}
		if err := tx.Where("document_id = ?", documentID).Delete(&model.ThemeDocument{}).Error; err != nil {
			return fmt.Errorf("delete theme documents failed: %w", err)
		}

		var supported []string
		if err := tx.Model(&model.ThemeDocument{}).Where("theme_id IN ?", themeIDs).Distinct().Pluck("theme_id", &supported).Error; err != nil {
			return fmt.Errorf("list supported themes failed: %w", err)
		}
		keep := make(map[string]bool, len(supported))
		for _, id := range supported {
			keep[id] = true
		}
		for _, id := range themeIDs {
			if !keep[id] {
				removed = append(removed, id)
			}
		}
		return deleteThemes(tx, removed)
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(removed)
	return removed, nil
}

func (r *ThemeRepository) attachDocuments(ctx context.Context, themes []model.Theme) error {
	if len(themes) == 0 {
		return nil
	}
	ids := make([]string, len(themes))
	for i := range themes {
		ids[i] = themes[i].ID
	}
	var links []model.ThemeDocument
	if err := r.db.WithContext(ctx).Where("theme_id IN ?", ids).Order("document_id").Find(&links).Error; err != nil {
		return fmt.Errorf("list theme documents failed: %w", err)
	}
	byTheme := make(map[string][]string, len(themes))
	for _, l := range links {
		byTheme[l.ThemeID] = append(byTheme[l.ThemeID], l.DocumentID)
	}
	for i := range themes {
		themes[i].SupportingDocumentIDs = byTheme[themes[i].ID]
		if themes[i].SupportingDocumentIDs == nil {
			themes[i].SupportingDocumentIDs = []string{}
		}
	}
	return nil
}

func createThemeDocuments(tx *gorm.DB, theme *model.Theme) error {
	if len(theme.SupportingDocumentIDs) == 0 {
		return nil
	}
	links := make([]model.ThemeDocument, 0, len(theme.SupportingDocumentIDs))
	for _, docID := range theme.SupportingDocumentIDs {
		links = append(links, model.ThemeDocument{ThemeID: theme.ID, DocumentID: docID})
	}
	if err := tx.Create(&links).Error; err != nil {
		return fmt.Errorf("create theme documents failed: %w", err)
	}
	return nil
}

func deleteThemes(tx *gorm.DB, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := tx.Where("theme_id IN ?", ids).Delete(&model.ThemeDocument{}).Error; err != nil {
		return fmt.Errorf("delete theme documents failed: %w", err)
	}
	if err := tx.Where("id IN ?", ids).Delete(&model.Theme{}).Error; err != nil {
		return fmt.Errorf("delete themes failed: %w", err)
	}
	return nil
}
