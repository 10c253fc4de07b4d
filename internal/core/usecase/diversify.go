package usecase

import (
	"sort"

	"github.com/kirillkom/docqa-orchestrator/internal/core/domain"
)

// Diversify reduces a score-sorted candidate list to at most k entries.
// With diversify unset it truncates. Otherwise the best candidate of every file is
// taken first (ordered by score, then file name), and the remaining slots are
// filled with unselected candidates in input order. Duplicate ids are dropped.
func Diversify(candidates []domain.Candidate, k int, diversify bool) []domain.Candidate {
	if k <= 0 || len(candidates) == 0 {
		return []domain.Candidate{}
	}

	seenIDs := make(map[string]struct{}, len(candidates))
	unique := make([]domain.Candidate, 0, len(candidates))
	for _, candidate := range candidates {
		if _, ok := seenIDs[candidate.ID]; ok {
			continue
		}
		seenIDs[candidate.ID] = struct{}{}
		unique = append(unique, candidate)
	}

	if !diversify {
		if len(unique) > k {
			unique = unique[:k]
		}
		return unique
	}

	bestIdx := make([]int, 0, len(unique))
	seenFiles := make(map[string]struct{}, len(unique))
	for i, candidate := range unique {
		if _, ok := seenFiles[candidate.File]; ok {
			continue
		}
		seenFiles[candidate.File] = struct{}{}
		bestIdx = append(bestIdx, i)
	}
	sort.SliceStable(bestIdx, func(a, b int) bool {
		left, right := unique[bestIdx[a]], unique[bestIdx[b]]
		if left.Score != right.Score {
			return left.Score > right.Score
		}
		return left.File < right.File
	})
	if len(bestIdx) > k {
		bestIdx = bestIdx[:k]
	}

	out := make([]domain.Candidate, 0, min(k, len(unique)))
	selected := make([]bool, len(unique))
	for _, idx := range bestIdx {
		out = append(out, unique[idx])
		selected[idx] = true
	}
	for i, candidate := range unique {
		if len(out) >= k {
			break
		}
		if selected[i] {
			continue
		}
		out = append(out, candidate)
	}
	return out
}

// DistinctFiles lists files in first-seen order.
func DistinctFiles(candidates []domain.Candidate) []string {
	seen := make(map[string]struct{}, len(candidates))
	files := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		if _, ok := seen[candidate.File]; ok {
			continue
		}
		seen[candidate.File] = struct{}{}
		files = append(files, candidate.File)
	}
	return files
}
