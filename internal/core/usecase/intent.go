package usecase

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/docqa-orchestrator/internal/core/domain"
)

//go:embed phrases/intent_phrases.yaml
var defaultPhrasesYAML []byte

// PhraseTable holds tokenized trigger phrases. It is built once and never mutated.
type PhraseTable struct {
	version  int
	greeting [][]string
	summary  [][]string
}

type phraseTableFile struct {
	Version  int      `yaml:"version"`
	Greeting []string `yaml:"greeting"`
	Summary  []string `yaml:"summary"`
}

// LoadPhraseTable reads a phrase table from path, or the built-in table when path is empty.
func LoadPhraseTable(path string) (*PhraseTable, error) {
	if path == "" {
		return ParsePhraseTable(defaultPhrasesYAML)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.WrapError(domain.ErrConfig, "read intent phrases", err)
	}
	return ParsePhraseTable(raw)
}

func DefaultPhraseTable() *PhraseTable {
	table, err := ParsePhraseTable(defaultPhrasesYAML)
	if err != nil {
		panic(fmt.Sprintf("built-in intent phrases are invalid: %v", err))
	}
	return table
}

func ParsePhraseTable(raw []byte) (*PhraseTable, error) {
	var file phraseTableFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, domain.WrapError(domain.ErrConfig, "parse intent phrases", err)
	}
	if len(file.Greeting) == 0 && len(file.Summary) == 0 {
		return nil, domain.WrapError(domain.ErrConfig, "parse intent phrases", fmt.Errorf("phrase table is empty"))
	}
	return &PhraseTable{
		version:  file.Version,
		greeting: tokenizePhrases(file.Greeting),
		summary:  tokenizePhrases(file.Summary),
	}, nil
}

func (t *PhraseTable) Version() int {
	return t.version
}

func tokenizePhrases(phrases []string) [][]string {
	out := make([][]string, 0, len(phrases))
	for _, phrase := range phrases {
		tokens := splitAlphaNumLower(phrase)
		if len(tokens) == 0 {
			continue
		}
		out = append(out, tokens)
	}
	return out
}

// IntentClassifier labels query text. Greeting wins over Summary, which wins over Factual.
type IntentClassifier struct {
	phrases      *PhraseTable
	localRouting bool
}

func NewIntentClassifier(phrases *PhraseTable, localRouting bool) *IntentClassifier {
	if phrases == nil {
		phrases = DefaultPhraseTable()
	}
	return &IntentClassifier{phrases: phrases, localRouting: localRouting}
}

func (c *IntentClassifier) Classify(text string) domain.IntentLabel {
	tokens := splitAlphaNumLower(text)
	if c.localRouting && matchesAny(tokens, c.phrases.greeting) {
		return domain.IntentGreeting
	}
	if matchesAny(tokens, c.phrases.summary) {
		return domain.IntentSummary
	}
	return domain.IntentFactual
}

func matchesAny(tokens []string, phrases [][]string) bool {
	for _, phrase := range phrases {
		if containsPhrase(tokens, phrase) {
			return true
		}
	}
	return false
}
