package model

// Citation points at text inside a chunk that was retrieved for the query.
type Citation struct {
	DocumentID string  `json:"document_id"`
	ChunkID    string  `json:"chunk_id"`
	Position   int     `json:"position"`
	Text       string  `json:"text"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Page       *int    `json:"page,omitempty"`
	Relevance  float64 `json:"relevance"`
}

type AnswerStatus string

const (
	AnswerOK       AnswerStatus = "ok"
	AnswerDegraded AnswerStatus = "degraded"
)

// NoAnswerAvailable is the extracted answer of a degraded document.
const NoAnswerAvailable = "no answer available"

// DocumentAnswer is the extraction result for a single target document.
type DocumentAnswer struct {
	DocumentID string       `json:"document_id"`
	Filename   string       `json:"filename"`
	Status     AnswerStatus `json:"status"`
	Answer     string       `json:"answer"`
	Citations  []Citation   `json:"citations"`
	ErrorKind  string       `json:"error_kind,omitempty"`
	Error      string       `json:"error,omitempty"`
}

func (a DocumentAnswer) Degraded() bool {
	return a.Status == AnswerDegraded
}

type QueryMetadata struct {
	DocumentCount int `json:"document_count"`
	DegradedCount int `json:"degraded_count"`
	ThemeCount    int `json:"theme_count"`
}

// QueryResult is the full response to one question over a set of documents.
type QueryResult struct {
	Question          string           `json:"question"`
	DocumentIDs       []string         `json:"document_ids"`
	Answers           []DocumentAnswer `json:"answers"`
	Citations         []Citation       `json:"citations"`
	SynthesizedAnswer string           `json:"synthesized_answer"`
	DegradedDocuments []string         `json:"degraded_documents"`
	Themes            []Theme          `json:"themes"`
	Metadata          QueryMetadata    `json:"metadata"`
}
