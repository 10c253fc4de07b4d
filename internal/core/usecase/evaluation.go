package usecase

import (
	"math"
	"strings"

	"github.com/kirillkom/docqa-orchestrator/internal/core/domain"
)

var coverageStopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "but": {}, "in": {}, "on": {}, "at": {},
	"to": {}, "for": {}, "of": {}, "with": {}, "by": {}, "is": {}, "are": {}, "was": {}, "were": {},
	"what": {}, "how": {}, "who": {}, "when": {}, "where": {}, "why": {},
}

// Evaluate scores the selected context for the question. Values are rounded to three decimals.
func Evaluate(question string, selected []domain.Candidate) domain.EvaluationMetrics {
	if len(selected) == 0 {
		return domain.EvaluationMetrics{}
	}

	scores := make([]float64, len(selected))
	for i, candidate := range selected {
		scores[i] = candidate.Score
	}
	avg, minScore, maxScore := mean(scores), scores[0], scores[0]
	for _, score := range scores[1:] {
		minScore = math.Min(minScore, score)
		maxScore = math.Max(maxScore, score)
	}

	return domain.EvaluationMetrics{
		AvgRetrievalScore: round3(avg),
		MaxRetrievalScore: round3(maxScore),
		MinRetrievalScore: round3(minScore),
		NumSourcesUsed:    len(selected),
		ConfidenceScore:   round3(confidenceScore(scores, maxScore)),
		CoverageScore:     round3(coverageScore(question, selected)),
		SourceDiversity:   round3(sourceDiversity(selected)),
	}
}

func confidenceScore(scores []float64, top float64) float64 {
	if top <= 0 {
		return 0
	}
	std := 0.0
	if len(scores) > 1 {
		std = math.Sqrt(variance(scores))
	}
	return math.Min(top*(1-math.Min(std/top, 0.5)), 1)
}

func coverageScore(question string, selected []domain.Candidate) float64 {
	terms := make(map[string]struct{})
	for _, word := range strings.Fields(strings.ToLower(question)) {
		if _, stop := coverageStopWords[word]; stop {
			continue
		}
		terms[word] = struct{}{}
	}
	if len(terms) == 0 {
		return 0.5
	}

	total := 0.0
	for _, candidate := range selected {
		text := strings.ToLower(candidate.Excerpt)
		covered := 0
		for term := range terms {
			if strings.Contains(text, term) {
				covered++
			}
		}
		total += float64(covered) / float64(len(terms))
	}
	return math.Min(total/float64(len(selected)), 1)
}

func sourceDiversity(selected []domain.Candidate) float64 {
	if len(selected) <= 1 {
		return 0
	}

	fileRatio := float64(len(DistinctFiles(selected))) / float64(len(selected))

	lengths := make([]float64, len(selected))
	maxLength := 0.0
	for i, candidate := range selected {
		lengths[i] = float64(len(candidate.Excerpt))
		maxLength = math.Max(maxLength, lengths[i])
	}
	content := 0.0
	if maxLength > 0 {
		content = math.Min(variance(lengths)/(maxLength*maxLength), 1)
	}
	return (fileRatio + content) / 2
}

func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// variance is the population variance.
func variance(values []float64) float64 {
	m := mean(values)
	sum := 0.0
	for _, v := range values {
		sum += (v - m) * (v - m)
	}
	return sum / float64(len(values))
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
