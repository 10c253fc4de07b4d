package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/kirillkom/docqa-orchestrator/internal/core/domain"
	"github.com/kirillkom/docqa-orchestrator/internal/core/ports"
)

type RoutingState string

const (
	StateInit          RoutingState = "init"
	StateLocalCheck    RoutingState = "local_check"
	StateModelDecision RoutingState = "model_decision"
	StateRetrieving    RoutingState = "retrieving"
	StateAnswering     RoutingState = "answering"
	StateDone          RoutingState = "done"
)

// RetrievalJudge answers whether a query needs document context.
type RetrievalJudge interface {
	NeedsRetrieval(ctx context.Context, queryText string) (bool, error)
}

// RetrievalResult is what the Retrieving state hands to Answering.
type RetrievalResult struct {
	Plan       domain.RetrievalPlan
	Candidates []domain.Candidate
}

type (
	RetrieveFunc func(ctx context.Context, query domain.Query, intent domain.IntentLabel) (RetrievalResult, error)
	AnswerFunc   func(ctx context.Context, decision domain.RoutingDecision, candidates []domain.Candidate) error
)

// RoutingOutcome describes one finished (or failed) run of the state machine.
type RoutingOutcome struct {
	Intent            domain.IntentLabel
	Decision          domain.RoutingDecision
	Retrieval         *RetrievalResult
	RetrievalDegraded bool
	Warnings          []string
	Trail             []RoutingState
}

func (o *RoutingOutcome) addWarning(warning string) {
	for _, existing := range o.Warnings {
		if existing == warning {
			return
		}
	}
	o.Warnings = append(o.Warnings, warning)
}

type RoutingConfig struct {
	LocalRoutingEnabled    bool
	EagerRetrieval         bool
	RoutingDecisionTimeout time.Duration
}

// RoutingStateMachine decides per query between answering directly and answering
// from retrieved context. It holds no per-query state and is safe for concurrent use.
type RoutingStateMachine struct {
	classifier *IntentClassifier
	judge      RetrievalJudge
	cfg        RoutingConfig
	observer   ports.RoutingObserver
}

func NewRoutingStateMachine(
	classifier *IntentClassifier,
	judge RetrievalJudge,
	cfg RoutingConfig,
	observer ports.RoutingObserver,
) *RoutingStateMachine {
	if observer == nil {
		observer = noopRoutingObserver{}
	}
	return &RoutingStateMachine{
		classifier: classifier,
		judge:      judge,
		cfg:        cfg,
		observer:   observer,
	}
}

// Run drives the query from Init to Done. Retrieval failures of kind ErrRetrieval
// degrade to a direct answer; every other failure ends the run with an error.
func (m *RoutingStateMachine) Run(
	ctx context.Context,
	query domain.Query,
	retrieve RetrieveFunc,
	answer AnswerFunc,
) (*RoutingOutcome, error) {
	outcome := &RoutingOutcome{Decision: domain.DecisionDirectAnswer}
	eager := m.cfg.EagerRetrieval || !query.UseFunctionCalling
	state := StateInit

	for state != StateDone {
		outcome.Trail = append(outcome.Trail, state)

		switch state {
		case StateInit:
			outcome.Intent = m.classifier.Classify(query.Text)
			switch {
			case m.cfg.LocalRoutingEnabled:
				state = StateLocalCheck
			case eager:
				state = StateRetrieving
			default:
				state = StateModelDecision
			}

		case StateLocalCheck:
			switch {
			case outcome.Intent == domain.IntentGreeting:
				outcome.Decision = domain.DecisionDirectAnswer
				state = StateAnswering
			case eager:
				state = StateRetrieving
			default:
				state = StateModelDecision
			}

		case StateModelDecision:
			needs, err := m.needsRetrieval(ctx, query.Text)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return outcome, ctxErr
				}
				slog.WarnContext(ctx, "routing_decision_failed", "error", err)
				outcome.addWarning(domain.WarningRoutingDecisionFailed)
				needs = true
			}
			if needs {
				state = StateRetrieving
			} else {
				outcome.Decision = domain.DecisionDirectAnswer
				state = StateAnswering
			}

		case StateRetrieving:
			started := time.Now()
			result, err := retrieve(ctx, query, outcome.Intent)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return outcome, ctxErr
			}
			if err != nil {
				if !domain.IsKind(err, domain.ErrRetrieval) {
					m.observer.ObserveStage("retrieve", "error", time.Since(started).Seconds())
					return outcome, err
				}
				m.observer.ObserveStage("retrieve", "degraded", time.Since(started).Seconds())
				slog.WarnContext(ctx, "retrieval_degraded", "error", err)
				outcome.RetrievalDegraded = true
				outcome.addWarning(domain.WarningRetrievalDegraded)
				outcome.Decision = domain.DecisionDirectAnswer
			} else {
				m.observer.ObserveStage("retrieve", "ok", time.Since(started).Seconds())
				outcome.Retrieval = &result
				outcome.Decision = domain.DecisionRetrieveThenAnswer
			}
			state = StateAnswering

		case StateAnswering:
			slog.InfoContext(ctx, "routing_decision",
				"intent", outcome.Intent,
				"decision", outcome.Decision,
				"retrieval_degraded", outcome.RetrievalDegraded,
			)
			m.observer.ObserveRouting(outcome.Intent, outcome.Decision, outcome.RetrievalDegraded)

			var contextCandidates []domain.Candidate
			if outcome.Decision == domain.DecisionRetrieveThenAnswer && outcome.Retrieval != nil {
				contextCandidates = outcome.Retrieval.Candidates
			}
			started := time.Now()
			if err := answer(ctx, outcome.Decision, contextCandidates); err != nil {
				m.observer.ObserveStage("generate", "error", time.Since(started).Seconds())
				outcome.Trail = append(outcome.Trail, StateDone)
				return outcome, err
			}
			m.observer.ObserveStage("generate", "ok", time.Since(started).Seconds())
			state = StateDone
		}
	}

	outcome.Trail = append(outcome.Trail, StateDone)
	return outcome, nil
}

func (m *RoutingStateMachine) needsRetrieval(ctx context.Context, text string) (bool, error) {
	if m.judge == nil {
		return true, nil
	}
	decisionCtx := ctx
	if m.cfg.RoutingDecisionTimeout > 0 {
		var cancel context.CancelFunc
		decisionCtx, cancel = context.WithTimeout(ctx, m.cfg.RoutingDecisionTimeout)
		defer cancel()
	}

	started := time.Now()
	needs, err := m.judge.NeedsRetrieval(decisionCtx, text)
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.observer.ObserveStage("routing_decision", status, time.Since(started).Seconds())
	return needs, err
}

type noopRoutingObserver struct{}

func (noopRoutingObserver) ObserveRouting(domain.IntentLabel, domain.RoutingDecision, bool) {}
func (noopRoutingObserver) ObserveStage(string, string, float64)                           {}
