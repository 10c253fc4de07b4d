package domain

type Source struct {
	File    string  `json:"file"`
	Excerpt string  `json:"excerpt"`
	Score   float64 `json:"score"`
}

type EvaluationMetrics struct {
	AvgRetrievalScore float64 `json:"avg_retrieval_score"`
	MaxRetrievalScore float64 `json:"max_retrieval_score"`
	MinRetrievalScore float64 `json:"min_retrieval_score"`
	NumSourcesUsed    int     `json:"num_sources_used"`
	ConfidenceScore   float64 `json:"confidence_score"`
	CoverageScore     float64 `json:"coverage_score"`
	SourceDiversity   float64 `json:"source_diversity"`
}

const (
	WarningRetrievalDegraded     = "retrieval_degraded"
	WarningRoutingDecisionFailed = "routing_decision_failed"
	WarningGenerationInterrupted = "generation_interrupted"
)

type ResponseMetrics struct {
	Intent                   IntentLabel        `json:"intent"`
	EffectiveTopK            int                `json:"effective_top_k"`
	Diversified              bool               `json:"diversified"`
	DistinctFilesRepresented int                `json:"distinct_files_represented"`
	Files                    []string           `json:"files,omitempty"`
	RoutingDecision          RoutingDecision    `json:"routing_decision"`
	RetrievalDegraded        bool               `json:"retrieval_degraded"`
	Warnings                 []string           `json:"warnings,omitempty"`
	Evaluation               *EvaluationMetrics `json:"evaluation,omitempty"`
}

func (m *ResponseMetrics) AddWarning(warning string) {
	for _, existing := range m.Warnings {
		if existing == warning {
			return
		}
	}
	m.Warnings = append(m.Warnings, warning)
}

type Answer struct {
	Text    string          `json:"answer"`
	Sources []Source        `json:"sources"`
	Metrics ResponseMetrics `json:"metrics"`
}
