package domain

import "strings"

type Style string

const (
	StyleMinimal  Style = "minimal"
	StyleConcise  Style = "concise"
	StyleDetailed Style = "detailed"
)

// ParseStyle accepts the style name case-insensitively. Empty input means concise.
func ParseStyle(raw string) (Style, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return StyleConcise, nil
	case string(StyleMinimal):
		return StyleMinimal, nil
	case string(StyleConcise):
		return StyleConcise, nil
	case string(StyleDetailed):
		return StyleDetailed, nil
	default:
		return "", Validationf("unknown style %q", raw)
	}
}

const DefaultTopK = 5

type Query struct {
	Text               string   `json:"text"`
	Style              Style    `json:"style"`
	RequestedTopK      int      `json:"requested_top_k"`
	SelectedFiles      []string `json:"selected_files,omitempty"`
	UseFunctionCalling bool     `json:"use_function_calling"`
}

// Validate rejects malformed queries. It never coerces values.
func (q Query) Validate() error {
	if strings.TrimSpace(q.Text) == "" {
		return Validationf("query text is required")
	}
	if q.RequestedTopK <= 0 {
		return Validationf("requested top_k must be positive, got %d", q.RequestedTopK)
	}
	if _, err := ParseStyle(string(q.Style)); err != nil {
		return err
	}
	return nil
}

type IntentLabel string

const (
	IntentGreeting IntentLabel = "greeting"
	IntentSummary  IntentLabel = "summary"
	IntentFactual  IntentLabel = "factual"
)

type RetrievalPlan struct {
	EffectiveTopK int  `json:"effective_top_k"`
	PrefetchK     int  `json:"prefetch_k"`
	Diversify     bool `json:"diversify"`
}

type Candidate struct {
	ID      string  `json:"id"`
	File    string  `json:"file"`
	Score   float64 `json:"score"`
	Excerpt string  `json:"excerpt"`
}

type RoutingDecision string

const (
	DecisionDirectAnswer       RoutingDecision = "direct_answer"
	DecisionRetrieveThenAnswer RoutingDecision = "retrieve_then_answer"
)

type SparseVector struct {
	Indices []uint32  `json:"indices"`
	Values  []float32 `json:"values"`
}

// QueryVectors are opaque to the routing core and only travel to the vector store.
type QueryVectors struct {
	Dense           []float32
	Sparse          SparseVector
	LateInteraction [][]float32
}

type FileFilter struct {
	Files []string
}

func (f FileFilter) IsEmpty() bool {
	return len(f.Files) == 0
}

// GenerationRequest is everything the answer generator needs for one query.
// Context is empty for direct answers.
type GenerationRequest struct {
	Question string
	Style    Style
	MaxWords int
	Context  []Candidate
}
