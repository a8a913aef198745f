package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"docresearch/internal/index"
	"docresearch/internal/model"
	"docresearch/internal/pkg/apperr"
	"docresearch/internal/pkg/modeljson"
	"docresearch/internal/theme"
)

type QueryConfig struct {
	SearchLimit     int
	DocumentTimeout time.Duration
	QueryTimeout    time.Duration
	IncludeThemes   bool
	MaxTokens       int
	Temperature     float64
}

func (c QueryConfig) withDefaults() QueryConfig {
	if c.SearchLimit <= 0 {
		c.SearchLimit = 5
	}
	if c.DocumentTimeout <= 0 {
		c.DocumentTimeout = 30 * time.Second
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = 90 * time.Second
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 512
	}
	return c
}

type AnswerInput struct {
	Question    string
	DocumentIDs []string
	// IncludeThemes overrides the configured default when set.
	IncludeThemes *bool
}

// QueryService answers a question against each target document independently
// and synthesizes the per-document answers into one response.
type QueryService struct {
	docs      DocumentStore
	retriever Retriever
	generator Generator
	themes    ThemeAnalyzer
	cfg       QueryConfig
	logger    *slog.Logger
}

// NewQueryService builds the service. themes may be nil.
func NewQueryService(
	docs DocumentStore,
	retriever Retriever,
	generator Generator,
	themes ThemeAnalyzer,
	cfg QueryConfig,
	logger *slog.Logger,
) *QueryService {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueryService{
		docs:      docs,
		retriever: retriever,
		generator: generator,
		themes:    themes,
		cfg:       cfg.withDefaults(),
		logger:    logger,
	}
}

type documentResult struct {
	i      int
	answer model.DocumentAnswer
	err    error
}

func (s *QueryService) Answer(ctx context.Context, in AnswerInput) (*model.QueryResult, error) {
	question := strings.TrimSpace(in.Question)
	if question == "" {
		return nil, fmt.Errorf("%w: question is required", apperr.ErrInvalidRequest)
	}
	ids := uniqueInOrder(in.DocumentIDs)
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: at least one document id is required", apperr.ErrInvalidRequest)
	}
	found, err := s.docs.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	docs := make(map[string]model.Document, len(found))
	for _, d := range found {
		docs[d.ID] = d
	}
	var missing []string
	for _, id := range ids {
		if _, ok := docs[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: documents %s", apperr.ErrNotFound, strings.Join(missing, ", "))
	}

	started := time.Now()
	queryCtx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	vector, err := s.retriever.Embed(queryCtx, question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}

	themesCh := s.startThemes(queryCtx, in, ids, docs)

	results := make(chan documentResult, len(ids))
	for i, id := range ids {
		doc := docs[id]
		go func() {
			ans, err := s.answerDocument(queryCtx, doc, question, vector)
			results <- documentResult{i: i, answer: ans, err: err}
		}()
	}

	answers := make([]model.DocumentAnswer, len(ids))
	done := make([]bool, len(ids))
collect:
	for range ids {
		select {
		case r := <-results:
			if r.err != nil {
				return nil, r.err
			}
			answers[r.i] = r.answer
			done[r.i] = true
		case <-queryCtx.Done():
			break collect
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for i, id := range ids {
		if !done[i] {
			doc := docs[id]
			answers[i] = degraded(model.DocumentAnswer{DocumentID: id, Filename: doc.Filename},
				fmt.Errorf("%w: query deadline exceeded", apperr.ErrGenerationTimeout))
		}
	}

	result := &model.QueryResult{
		Question:          question,
		DocumentIDs:       ids,
		Answers:           answers,
		Citations:         []model.Citation{},
		DegradedDocuments: []string{},
		Themes:            []model.Theme{},
	}
	var all []model.Citation
	for _, a := range answers {
		if a.Degraded() {
			result.DegradedDocuments = append(result.DegradedDocuments, a.DocumentID)
			continue
		}
		all = append(all, a.Citations...)
	}
	if deduped := dedupeCitations(all); len(deduped) > 0 {
		result.Citations = deduped
	}
	result.SynthesizedAnswer = s.synthesize(queryCtx, question, answers)
	result.Themes = s.collectThemes(queryCtx, themesCh)
	result.Metadata = model.QueryMetadata{
		DocumentCount: len(ids),
		DegradedCount: len(result.DegradedDocuments),
		ThemeCount:    len(result.Themes),
	}

	s.logger.Info("query answered",
		slog.Int("documents", len(ids)),
		slog.Int("degraded", len(result.DegradedDocuments)),
		slog.Int("citations", len(result.Citations)),
		slog.Duration("elapsed", time.Since(started)))
	return result, nil
}

type answerReply struct {
	Answer    string          `json:"answer"`
	Citations []citationReply `json:"citations"`
}

type citationReply struct {
	Chunk int    `json:"chunk"`
	Quote string `json:"quote"`
}

// answerDocument extracts an answer from one document. Only retrieval failures
// other than deadlines are returned as errors; everything else degrades.
func (s *QueryService) answerDocument(ctx context.Context, doc model.Document, question string, vector []float32) (model.DocumentAnswer, error) {
	ans := model.DocumentAnswer{DocumentID: doc.ID, Filename: doc.Filename}
	if !doc.IsProcessed() {
		return degraded(ans, fmt.Errorf("%w: document is %s", apperr.ErrDocumentNotReady, doc.Status)), nil
	}

	dctx, cancel := context.WithTimeout(ctx, s.cfg.DocumentTimeout)
	defer cancel()

	hits, err := s.retriever.SearchVector(dctx, vector, []string{doc.ID}, s.cfg.SearchLimit)
	if err != nil {
		if dctx.Err() != nil {
			return degraded(ans, fmt.Errorf("retrieve: %w", dctx.Err())), nil
		}
		return ans, fmt.Errorf("search document %s: %w", doc.ID, err)
	}
	if len(hits) == 0 {
		return degraded(ans, fmt.Errorf("%w: no indexed chunks", apperr.ErrNotFound)), nil
	}

	raw, err := s.generator.Generate(dctx, answerPrompt(question, hits), s.cfg.MaxTokens, s.cfg.Temperature)
	if err != nil {
		s.logger.Warn("document answer degraded",
			slog.String("document_id", doc.ID),
			slog.String("error_kind", apperr.KindOf(err)),
			slog.String("error", err.Error()))
		return degraded(ans, err), nil
	}
	var reply answerReply
	if err := modeljson.Decode(raw, &reply); err != nil {
		return degraded(ans, err), nil
	}
	text := strings.TrimSpace(reply.Answer)
	if text == "" {
		return degraded(ans, fmt.Errorf("%w: empty answer", apperr.ErrMalformedModelText)), nil
	}

	ans.Status = model.AnswerOK
	ans.Answer = text
	ans.Citations = dedupeCitations(validateCitations(doc.ID, hits, reply.Citations))
	if ans.Citations == nil {
		ans.Citations = []model.Citation{}
	}
	return ans, nil
}

func degraded(ans model.DocumentAnswer, err error) model.DocumentAnswer {
	ans.Status = model.AnswerDegraded
	ans.Answer = model.NoAnswerAvailable
	ans.Citations = []model.Citation{}
	ans.ErrorKind = apperr.KindOf(err)
	ans.Error = err.Error()
	return ans
}

func answerPrompt(question string, hits []index.Hit) string {
	var sb strings.Builder
	sb.WriteString("Answer the question using only the numbered excerpts from one document.\n")
	sb.WriteString("Quote the exact sentences you relied on. If the excerpts do not contain the answer, say so.\n")
	sb.WriteString("Respond with JSON only, in the form:\n")
	sb.WriteString(`{"answer":"...","citations":[{"chunk":1,"quote":"..."}]}`)
	sb.WriteString("\n\n")
	for i, h := range hits {
		if h.Chunk.Page != nil {
			fmt.Fprintf(&sb, "[%d] (page %d)\n%s\n\n", i+1, *h.Chunk.Page, h.Chunk.Content)
			continue
		}
		fmt.Fprintf(&sb, "[%d]\n%s\n\n", i+1, h.Chunk.Content)
	}
	fmt.Fprintf(&sb, "Question: %s\n", question)
	return sb.String()
}

// synthesize merges the successful answers. It never fails: when the generator
// is unavailable or the query deadline has passed the answers are listed per
// document.
func (s *QueryService) synthesize(ctx context.Context, question string, answers []model.DocumentAnswer) string {
	var ok, bad []model.DocumentAnswer
	for _, a := range answers {
		if a.Degraded() {
			bad = append(bad, a)
		} else {
			ok = append(ok, a)
		}
	}

	var text string
	switch len(ok) {
	case 0:
		text = "No answer is available from the selected documents."
	case 1:
		text = ok[0].Answer
	default:
		if ctx.Err() != nil {
			text = concatAnswers(ok)
			break
		}
		sctx, cancel := context.WithTimeout(ctx, s.cfg.DocumentTimeout)
		defer cancel()
		out, err := s.generator.Generate(sctx, synthesisPrompt(question, ok), s.cfg.MaxTokens, s.cfg.Temperature)
		text = strings.TrimSpace(out)
		if err != nil || text == "" {
			if err != nil {
				s.logger.Warn("synthesis fell back to per-document answers", slog.String("error", err.Error()))
			}
			text = concatAnswers(ok)
		}
	}

	if len(bad) > 0 {
		names := make([]string, len(bad))
		for i, a := range bad {
			names[i] = fmt.Sprintf("%s (%s)", a.Filename, a.ErrorKind)
		}
		text += "\n\nNo answer available from: " + strings.Join(names, ", ") + "."
	}
	return text
}

func synthesisPrompt(question string, answers []model.DocumentAnswer) string {
	var sb strings.Builder
	sb.WriteString("Combine the answers below, each extracted from a different document, into one coherent response.\n")
	sb.WriteString("Keep facts attributed to their document, point out disagreements, and do not add information.\n\n")
	fmt.Fprintf(&sb, "Question: %s\n\n", question)
	for _, a := range answers {
		fmt.Fprintf(&sb, "Document %s:\n%s\n\n", a.Filename, a.Answer)
	}
	return sb.String()
}

func concatAnswers(answers []model.DocumentAnswer) string {
	lines := make([]string, len(answers))
	for i, a := range answers {
		lines[i] = a.Filename + ": " + a.Answer
	}
	return strings.Join(lines, "\n")
}

// startThemes runs theme analysis over the processed targets alongside the
// per-document answers. The returned channel is nil when themes are not wanted.
func (s *QueryService) startThemes(ctx context.Context, in AnswerInput, ids []string, docs map[string]model.Document) <-chan []model.Theme {
	include := s.cfg.IncludeThemes
	if in.IncludeThemes != nil {
		include = *in.IncludeThemes
	}
	if !include || s.themes == nil {
		return nil
	}
	var processed []string
	for _, id := range ids {
		if d := docs[id]; d.IsProcessed() {
			processed = append(processed, id)
		}
	}
	if len(processed) == 0 {
		return nil
	}
	ch := make(chan []model.Theme, 1)
	go func() {
		themes, err := s.themes.Analyze(ctx, processed, theme.Filter{})
		if err != nil {
			s.logger.Warn("query themes skipped", slog.String("error", err.Error()))
			themes = nil
		}
		ch <- themes
	}()
	return ch
}

func (s *QueryService) collectThemes(ctx context.Context, ch <-chan []model.Theme) []model.Theme {
	if ch == nil {
		return []model.Theme{}
	}
	select {
	case themes := <-ch:
		if themes == nil {
			return []model.Theme{}
		}
		return themes
	case <-ctx.Done():
		s.logger.Warn("query themes skipped", slog.String("error", context.Cause(ctx).Error()))
		return []model.Theme{}
	}
}

func uniqueInOrder(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
