package embedding

import (
	"hash/fnv"
	"sort"
	"strings"

	"github.com/kirillkom/docqa-orchestrator/internal/core/domain"
)

// SparseEncoder turns query text into the keyword vector stored in the collection's
// sparse slot. Terms are FNV-hashed, so the index side must hash the same tokens.
type SparseEncoder struct {
	saturation float64
	maxTerms   int
}

func NewSparseEncoder(saturation float64, maxTerms int) *SparseEncoder {
	if saturation <= 0 {
		saturation = 1.2
	}
	if maxTerms <= 0 {
		maxTerms = 256
	}
	return &SparseEncoder{saturation: saturation, maxTerms: maxTerms}
}

var defaultSparseEncoder = NewSparseEncoder(0, 0)

// EncodeSparseQuery encodes with the default BM25 saturation and term cap.
func EncodeSparseQuery(query string) domain.SparseVector {
	return defaultSparseEncoder.Encode(query)
}

// Encode weights each distinct term by tf*(k+1)/(tf+k). Past the term cap the most
// frequent terms survive. Indices are returned ascending.
func (e *SparseEncoder) Encode(query string) domain.SparseVector {
	counts := make(map[uint32]int)
	for _, token := range Tokenize(query) {
		counts[termIndex(token)]++
	}
	if len(counts) == 0 {
		return domain.SparseVector{}
	}

	indices := make([]uint32, 0, len(counts))
	for idx := range counts {
		indices = append(indices, idx)
	}
	if len(indices) > e.maxTerms {
		sort.Slice(indices, func(i, j int) bool {
			if counts[indices[i]] != counts[indices[j]] {
				return counts[indices[i]] > counts[indices[j]]
			}
			return indices[i] < indices[j]
		})
		indices = indices[:e.maxTerms]
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	vec := domain.SparseVector{
		Indices: indices,
		Values:  make([]float32, len(indices)),
	}
	for i, idx := range indices {
		tf := float64(counts[idx])
		vec.Values[i] = float32(tf * (e.saturation + 1) / (tf + e.saturation))
	}
	return vec
}

// termIndex never returns 0, which the store treats as an unset dimension.
func termIndex(token string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(token))
	return max(h.Sum32(), 1)
}

// Tokenize lower-cases text and splits it into ASCII alphanumeric runs.
func Tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
}
