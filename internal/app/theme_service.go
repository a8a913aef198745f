package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"docresearch/internal/model"
	"docresearch/internal/pkg/apperr"
	"docresearch/internal/theme"
)

type AnalyzeInput struct {
	// DocumentIDs empty means every processed document.
	DocumentIDs   []string
	MinConfidence float64
	MaxThemes     int
}

type ThemeService struct {
	docs     DocumentStore
	themes   ThemeStore
	analyzer ThemeAnalyzer
	logger   *slog.Logger
}

func NewThemeService(docs DocumentStore, themes ThemeStore, analyzer ThemeAnalyzer, logger *slog.Logger) *ThemeService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ThemeService{docs: docs, themes: themes, analyzer: analyzer, logger: logger}
}

// Analyze runs a batch analysis over a snapshot of the target documents and
// replaces the themes previously stored for the same scope.
func (s *ThemeService) Analyze(ctx context.Context, in AnalyzeInput) ([]model.Theme, error) {
	if in.MinConfidence < 0 || in.MinConfidence > 1 {
		return nil, fmt.Errorf("%w: min_confidence must be within [0,1]", apperr.ErrInvalidRequest)
	}
	if in.MaxThemes < 0 {
		return nil, fmt.Errorf("%w: max_themes must not be negative", apperr.ErrInvalidRequest)
	}
	ids, err := s.snapshot(ctx, in.DocumentIDs)
	if err != nil {
		return nil, err
	}

	themes, err := s.analyzer.Analyze(ctx, ids, theme.Filter{MinConfidence: in.MinConfidence, MaxThemes: in.MaxThemes})
	if err != nil {
		return nil, err
	}

	scope := strings.Join(ids, ",")
	scopeHash := hashScope(scope)
	now := time.Now().UTC()
	for i := range themes {
		themes[i].ID = uuid.NewString()
		themes[i].Source = model.ThemeSourceAnalysis
		themes[i].Scope = scope
		themes[i].ScopeHash = scopeHash
		themes[i].CreatedAt = now
		themes[i].UpdatedAt = now
	}
	if err := s.themes.ReplaceScope(ctx, scopeHash, themes); err != nil {
		return nil, err
	}
	s.logger.Info("theme scope replaced", slog.Int("documents", len(ids)), slog.Int("themes", len(themes)))
	return themes, nil
}

func hashScope(scope string) string {
	sum := sha256.Sum256([]byte(scope))
	return hex.EncodeToString(sum[:])
}

// snapshot resolves the target set at invocation time, keeping processed documents only.
func (s *ThemeService) snapshot(ctx context.Context, requested []string) ([]string, error) {
	if len(uniqueInOrder(requested)) == 0 {
		ids, err := s.docs.ListIDsByStatus(ctx, model.StatusProcessed)
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			return nil, fmt.Errorf("%w: no processed documents to analyze", apperr.ErrInvalidRequest)
		}
		sort.Strings(ids)
		return ids, nil
	}

	ids := uniqueInOrder(requested)
	docs, err := s.docs.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	status := make(map[string]model.DocumentStatus, len(docs))
	for _, d := range docs {
		status[d.ID] = d.Status
	}
	var missing, ready []string
	for _, id := range ids {
		st, ok := status[id]
		switch {
		case !ok:
			missing = append(missing, id)
		case st == model.StatusProcessed:
			ready = append(ready, id)
		default:
			s.logger.Warn("document excluded from theme analysis", slog.String("document_id", id), slog.String("status", string(st)))
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: documents %s", apperr.ErrNotFound, strings.Join(missing, ", "))
	}
	if len(ready) == 0 {
		return nil, fmt.Errorf("%w: none of the documents is processed", apperr.ErrDocumentNotReady)
	}
	sort.Strings(ready)
	return ready, nil
}

func (s *ThemeService) List(ctx context.Context) ([]model.Theme, error) {
	return s.themes.List(ctx)
}

func (s *ThemeService) Get(ctx context.Context, id string) (*model.Theme, error) {
	t, err := s.themes.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("%w: theme %s", apperr.ErrNotFound, id)
	}
	return t, nil
}

func (s *ThemeService) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return s.themes.DeleteByID(ctx, id)
}

const (
	maxThemeNameLen    = 128
	maxThemeKeywords   = 20
	maxThemeKeywordLen = 50
)

// ThemeInput describes a theme entered by hand. A nil Confidence is scored
// from the number of supporting documents alone.
type ThemeInput struct {
	Name        string
	Description string
	Keywords    []string
	DocumentIDs []string
	Confidence  *float64
}

// ThemePatch changes the fields that are set and leaves the rest.
type ThemePatch struct {
	Name        *string
	Description *string
	Keywords    *[]string
	DocumentIDs *[]string
	Confidence  *float64
}

// Create stores a manual theme. Manual themes live in their own scope, so
// analysis runs never replace them.
func (s *ThemeService) Create(ctx context.Context, in ThemeInput) (*model.Theme, error) {
	t := model.Theme{
		ID:          uuid.NewString(),
		Source:      model.ThemeSourceManual,
		Description: strings.TrimSpace(in.Description),
	}
	if err := setThemeName(&t, in.Name); err != nil {
		return nil, err
	}
	if err := setThemeKeywords(&t, in.Keywords); err != nil {
		return nil, err
	}
	if err := s.setThemeDocuments(ctx, &t, in.DocumentIDs); err != nil {
		return nil, err
	}
	if in.Confidence != nil {
		if err := setThemeConfidence(&t, *in.Confidence); err != nil {
			return nil, err
		}
	} else {
		// No similarity evidence: cohesion is zero.
		t.Confidence = theme.Confidence(len(t.SupportingDocumentIDs), 0, 1)
	}

	t.Scope = model.ThemeSourceManual
	t.ScopeHash = hashScope(model.ThemeSourceManual + ":" + t.ID)
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	if err := s.themes.ReplaceScope(ctx, t.ScopeHash, []model.Theme{t}); err != nil {
		return nil, err
	}
	s.logger.Info("theme created", slog.String("theme_id", t.ID), slog.Int("documents", len(t.SupportingDocumentIDs)))
	return &t, nil
}

func (s *ThemeService) Update(ctx context.Context, id string, patch ThemePatch) (*model.Theme, error) {
	t, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if patch.Name != nil {
		if err := setThemeName(t, *patch.Name); err != nil {
			return nil, err
		}
	}
	if patch.Description != nil {
		t.Description = strings.TrimSpace(*patch.Description)
	}
	if patch.Keywords != nil {
		if err := setThemeKeywords(t, *patch.Keywords); err != nil {
			return nil, err
		}
	}
	if patch.DocumentIDs != nil {
		if err := s.setThemeDocuments(ctx, t, *patch.DocumentIDs); err != nil {
			return nil, err
		}
	}
	if patch.Confidence != nil {
		if err := setThemeConfidence(t, *patch.Confidence); err != nil {
			return nil, err
		}
	}
	t.UpdatedAt = time.Now().UTC()

	ok, err := s.themes.Update(ctx, t)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: theme %s", apperr.ErrNotFound, id)
	}
	return t, nil
}

func setThemeName(t *model.Theme, name string) error {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > maxThemeNameLen {
		return fmt.Errorf("%w: name must be 1 to %d characters", apperr.ErrInvalidRequest, maxThemeNameLen)
	}
	t.Name = name
	return nil
}

// setThemeKeywords lowercases and deduplicates keywords in order.
func setThemeKeywords(t *model.Theme, keywords []string) error {
	if len(keywords) > maxThemeKeywords {
		return fmt.Errorf("%w: at most %d keywords", apperr.ErrInvalidRequest, maxThemeKeywords)
	}
	seen := make(map[string]struct{}, len(keywords))
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.Join(strings.Fields(kw), " "))
		if kw == "" {
			continue
		}
		if utf8.RuneCountInString(kw) > maxThemeKeywordLen {
			return fmt.Errorf("%w: keyword %q exceeds %d characters", apperr.ErrInvalidRequest, kw, maxThemeKeywordLen)
		}
		if _, ok := seen[kw]; ok {
			continue
		}
		seen[kw] = struct{}{}
		out = append(out, kw)
	}
	t.Keywords = out
	return nil
}

func setThemeConfidence(t *model.Theme, confidence float64) error {
	if confidence < 0 || confidence > 1 {
		return fmt.Errorf("%w: confidence must be within [0,1]", apperr.ErrInvalidRequest)
	}
	t.Confidence = confidence
	return nil
}

// setThemeDocuments requires a non-empty set of existing documents.
func (s *ThemeService) setThemeDocuments(ctx context.Context, t *model.Theme, ids []string) error {
	ids = uniqueInOrder(ids)
	if len(ids) == 0 {
		return fmt.Errorf("%w: a theme needs at least one supporting document", apperr.ErrInvalidRequest)
	}
	docs, err := s.docs.GetByIDs(ctx, ids)
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(docs))
	for _, d := range docs {
		known[d.ID] = true
	}
	var missing []string
	for _, id := range ids {
		if !known[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: documents %s", apperr.ErrNotFound, strings.Join(missing, ", "))
	}
	sort.Strings(ids)
	t.SupportingDocumentIDs = ids
	return nil
}
