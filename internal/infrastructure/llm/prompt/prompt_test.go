package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/docqa-orchestrator/internal/core/domain"
)

func TestCleanTextRemovesArtifacts(t *testing.T) {
	got := CleanText(`  "The results" [12] were strong (see appendix) , page 4 overall...  `)
	assert.Equal(t, "The results were strong, overall", got)
}

func TestCleanTextCapitalizesSentences(t *testing.T) {
	assert.Equal(t, "First point. Second point", CleanText("first point. second point."))
}

func TestBuildContextSkipsShortAndDuplicateExcerpts(t *testing.T) {
	text := "Refunds are processed within thirty days of purchase."
	got := BuildContext([]domain.Candidate{
		{ID: "1", File: "policy.pdf", Excerpt: text},
		{ID: "2", File: "short.pdf", Excerpt: "too short"},
		{ID: "3", File: "copy.pdf", Excerpt: "  " + text},
		{ID: "4", Excerpt: "Shipping takes five business days in most regions."},
	})
	assert.Equal(t, 2, strings.Count(got, "Source "))
	assert.Contains(t, got, "Source 1 (policy.pdf):")
	assert.Contains(t, got, "Source 4 (Unknown):")
	assert.NotContains(t, got, "copy.pdf")
}

func TestBuildContextEmpty(t *testing.T) {
	assert.Equal(t, NoContextNote, BuildContext(nil))
}

func TestAnswerPromptCarriesWordLimitAndContext(t *testing.T) {
	p := Answer(domain.GenerationRequest{
		Question: "What is the refund window?",
		Style:    domain.StyleMinimal,
		MaxWords: 60,
		Context:  []domain.Candidate{{ID: "1", File: "policy.pdf", Excerpt: "Refunds are processed within thirty days."}},
	})
	assert.Contains(t, p, "under 60 words")
	assert.Contains(t, p, "What is the refund window?")
	assert.Contains(t, p, "policy.pdf")

	direct := Answer(domain.GenerationRequest{Question: "Hello"})
	assert.NotContains(t, direct, "Source documents")
	assert.NotContains(t, direct, "words")
}

func TestParseRoutingDecision(t *testing.T) {
	needs, err := ParseRoutingDecision("Sure: {\"needs_retrieval\": true}")
	require.NoError(t, err)
	assert.True(t, needs)

	needs, err = ParseRoutingDecision(`{"needs_retrieval": false}`)
	require.NoError(t, err)
	assert.False(t, needs)

	_, err = ParseRoutingDecision(`{"answer": "yes"}`)
	assert.Error(t, err)

	_, err = ParseRoutingDecision("no json here")
	assert.Error(t, err)
}
