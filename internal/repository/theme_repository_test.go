package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docresearch/internal/model"
)

func newTheme(id, name, scopeHash string, confidence float64, docs ...string) model.Theme {
	return model.Theme{
		ID:                    id,
		Name:                  name,
		Keywords:              []string{"refund"},
		Confidence:            confidence,
		Source:                model.ThemeSourceAnalysis,
		Scope:                 scopeHash,
		ScopeHash:             scopeHash,
		SupportingDocumentIDs: docs,
		CreatedAt:             time.Now().UTC(),
	}
}

func TestThemeRepository_ReplaceScope(t *testing.T) {
	ctx := context.Background()
	repo := NewThemeRepository(newTestDB(t))

	require.NoError(t, repo.ReplaceScope(ctx, "scope-a", []model.Theme{
		newTheme("t1", "Refunds", "scope-a", 0.8, "doc-a", "doc-b"),
		newTheme("t2", "Shipping", "scope-a", 0.5, "doc-a"),
	}))
	require.NoError(t, repo.ReplaceScope(ctx, "scope-b", []model.Theme{
		newTheme("t3", "Warranty", "scope-b", 0.5, "doc-c"),
	}))

	require.NoError(t, repo.ReplaceScope(ctx, "scope-a", []model.Theme{
		newTheme("t4", "Refund policy", "scope-a", 0.75, "doc-a", "doc-b"),
	}))

	themes, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, themes, 2)
	assert.Equal(t, "t4", themes[0].ID)
	assert.Equal(t, []string{"doc-a", "doc-b"}, themes[0].SupportingDocumentIDs)
	assert.Equal(t, []string{"refund"}, themes[0].Keywords)
	assert.Equal(t, "t3", themes[1].ID)

	old, err := repo.GetByID(ctx, "t1")
	require.NoError(t, err)
	assert.Nil(t, old)

	var links int64
	require.NoError(t, repo.db.Model(&model.ThemeDocument{}).Where("theme_id IN ?", []string{"t1", "t2"}).Count(&links).Error)
	assert.Zero(t, links)
}

func TestThemeRepository_RemoveDocument(t *testing.T) {
	ctx := context.Background()
	repo := NewThemeRepository(newTestDB(t))
	require.NoError(t, repo.ReplaceScope(ctx, "scope-a", []model.Theme{
		newTheme("shared", "Refunds", "scope-a", 0.8, "doc-a", "doc-b"),
		newTheme("solo", "Shipping", "scope-a", 0.5, "doc-a"),
		newTheme("other", "Warranty", "scope-a", 0.5, "doc-c"),
	}))

	removed, err := repo.RemoveDocument(ctx, "doc-a")
	require.NoError(t, err)
	assert.Equal(t, []string{"solo"}, removed)

	shared, err := repo.GetByID(ctx, "shared")
	require.NoError(t, err)
	require.NotNil(t, shared)
	assert.Equal(t, []string{"doc-b"}, shared.SupportingDocumentIDs)

	solo, err := repo.GetByID(ctx, "solo")
	require.NoError(t, err)
	assert.Nil(t, solo)

	other, err := repo.GetByID(ctx, "other")
	require.NoError(t, err)
	require.NotNil(t, other)
	assert.Equal(t, []string{"doc-c"}, other.SupportingDocumentIDs)

	removed, err = repo.RemoveDocument(ctx, "doc-b")
	require.NoError(t, err)
	assert.Equal(t, []string{"shared"}, removed)

	removed, err = repo.RemoveDocument(ctx, "doc-unknown")
	require.NoError(t, err)
	assert.Empty(t, removed)

	themes, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, themes, 1)
	assert.Equal(t, "other", themes[0].ID)
}

func TestThemeRepository_Update(t *testing.T) {
	ctx := context.Background()
	repo := NewThemeRepository(newTestDB(t))
	require.NoError(t, repo.ReplaceScope(ctx, "scope-a", []model.Theme{
		newTheme("t1", "Refunds", "scope-a", 0.8, "doc-a", "doc-b"),
	}))

	th, err := repo.GetByID(ctx, "t1")
	require.NoError(t, err)
	th.Name = "Refund policy"
	th.Keywords = []string{"refund", "returns"}
	th.Confidence = 0
	th.SupportingDocumentIDs = []string{"doc-c"}
	th.UpdatedAt = time.Now().UTC().Add(time.Second)

	ok, err := repo.Update(ctx, th)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := repo.GetByID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "Refund policy", got.Name)
	assert.Equal(t, []string{"refund", "returns"}, got.Keywords)
	assert.Zero(t, got.Confidence)
	assert.Equal(t, []string{"doc-c"}, got.SupportingDocumentIDs)

	ok, err = repo.Update(ctx, &model.Theme{ID: "missing", Name: "x"})
	require.NoError(t, err)
	assert.False(t, ok)
	var links int64
	require.NoError(t, repo.db.Model(&model.ThemeDocument{}).Where("theme_id = ?", "missing").Count(&links).Error)
	assert.Zero(t, links)
}
