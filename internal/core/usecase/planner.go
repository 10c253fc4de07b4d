package usecase

import (
	"github.com/kirillkom/docqa-orchestrator/internal/core/domain"
)

// PlannerConfig bounds effective result counts. Values are validated at startup.
type PlannerConfig struct {
	SummaryMinTopK     int
	SummaryMaxTopK     int
	SummaryMultiplier  int
	PrefetchMultiplier int
}

type RetrievalPlanner struct {
	cfg PlannerConfig
}

func NewRetrievalPlanner(cfg PlannerConfig) *RetrievalPlanner {
	if cfg.SummaryMultiplier < 1 {
		cfg.SummaryMultiplier = 1
	}
	if cfg.PrefetchMultiplier < 1 {
		cfg.PrefetchMultiplier = 1
	}
	return &RetrievalPlanner{cfg: cfg}
}

// Plan turns the requested count and intent into effective and prefetch counts.
func (p *RetrievalPlanner) Plan(requestedTopK int, intent domain.IntentLabel) (domain.RetrievalPlan, error) {
	if requestedTopK <= 0 {
		return domain.RetrievalPlan{}, domain.Validationf("requested top_k must be positive, got %d", requestedTopK)
	}

	plan := domain.RetrievalPlan{EffectiveTopK: requestedTopK}
	if intent == domain.IntentSummary {
		plan.EffectiveTopK = clampInt(requestedTopK*p.cfg.SummaryMultiplier, p.cfg.SummaryMinTopK, p.cfg.SummaryMaxTopK)
		plan.Diversify = true
	} else if plan.EffectiveTopK > p.cfg.SummaryMaxTopK {
		plan.EffectiveTopK = p.cfg.SummaryMaxTopK
	}
	if plan.EffectiveTopK < 1 {
		plan.EffectiveTopK = 1
	}

	plan.PrefetchK = plan.EffectiveTopK * p.cfg.PrefetchMultiplier
	if plan.PrefetchK < plan.EffectiveTopK {
		plan.PrefetchK = plan.EffectiveTopK
	}
	return plan, nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
