package scoring

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-wa-handoff/internal/model"
	"gitlab.com/timkado/api/daisi-wa-handoff/pkg/logger"
)

// Result is the outcome of one scoring pass over a lead.
type Result struct {
	PreviousScore          int
	NewScore               int
	PreviousClassification model.Classification
	NewClassification      model.Classification
	Factors                []model.ScoreFactor
	Attributes             model.LeadAttributes
	TriggeredBy            model.ScoreTrigger
	Reasoning              string
}

// ScoreChanged reports whether the score or its band moved.
func (r Result) ScoreChanged() bool {
	return r.NewScore != r.PreviousScore || r.NewClassification != r.PreviousClassification
}

// Apply returns lead updated with the result.
func (r Result) Apply(lead model.Lead) model.Lead {
	lead.Score = r.NewScore
	lead.Classification = r.NewClassification
	lead.Attributes = r.Attributes
	if lead.Status == model.LeadStatusNew || lead.Status == "" {
		lead.Status = model.LeadStatusQualifying
	}
	if r.NewClassification == model.ClassificationHot && lead.Status == model.LeadStatusQualifying {
		lead.Status = model.LeadStatusQualified
	}
	return lead
}

// ReasoningOutcome is the result of the AI scoring path.
type ReasoningOutcome struct {
	Result Result
	// Advice is nil when the reasoner was not asked or could not answer.
	Advice       *TransferAdvice
	FallbackUsed bool
	Err          error
}

// EngineConfig configures the engine.
type EngineConfig struct {
	ValueFloor float64
	Regions    []string
	// ReasoningTimeout bounds a whole AI scoring pass on top of the per-call timeout.
	ReasoningTimeout time.Duration
}

// Engine computes lead scores. The deterministic path never fails; the reasoning
// path degrades to "score unchanged" when the reasoner misbehaves.
type Engine struct {
	table    *FactorTable
	reasoner Reasoner
	timeout  time.Duration
	logger   *zap.Logger
}

// NewEngine creates an engine. reasoner may be nil.
func NewEngine(cfg EngineConfig, reasoner Reasoner) *Engine {
	timeout := cfg.ReasoningTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Engine{
		table:    NewFactorTable(cfg.ValueFloor, cfg.Regions),
		reasoner: reasoner,
		timeout:  timeout,
		logger:   logger.Named("scoring"),
	}
}

// ReasoningEnabled reports whether a reasoner is configured.
func (e *Engine) ReasoningEnabled() bool {
	return e.reasoner != nil
}

// Table exposes the factor table.
func (e *Engine) Table() *FactorTable {
	return e.table
}

// Evaluate merges observed into the lead's attributes and awards the factors that became
// true. The score is the previous score plus the new points, clamped.
func (e *Engine) Evaluate(lead model.Lead, observed model.LeadAttributes, trigger model.ScoreTrigger) Result {
	merged := lead.Attributes.Merge(observed)
	factors := e.table.Awarded(lead.Attributes, merged)
	newScore := Clamp(lead.Score + Sum(factors))
	return Result{
		PreviousScore:          lead.Score,
		NewScore:               newScore,
		PreviousClassification: lead.Classification,
		NewClassification:      Classify(newScore),
		Factors:                factors,
		Attributes:             merged,
		TriggeredBy:            trigger,
	}
}

// Adjust applies a manual change: either delta or an absolute score.
func (e *Engine) Adjust(lead model.Lead, delta, absolute *int, trigger model.ScoreTrigger, reasoning string) (Result, error) {
	var newScore int
	switch {
	case absolute != nil:
		newScore = Clamp(*absolute)
	case delta != nil:
		newScore = Clamp(lead.Score + *delta)
	default:
		return Result{}, fmt.Errorf("either delta or score is required")
	}
	return Result{
		PreviousScore:          lead.Score,
		NewScore:               newScore,
		PreviousClassification: lead.Classification,
		NewClassification:      Classify(newScore),
		Factors:                []model.ScoreFactor{{Factor: FactorManual, Points: newScore - lead.Score}},
		Attributes:             lead.Attributes,
		TriggeredBy:            trigger,
		Reasoning:              reasoning,
	}, nil
}

// ScoreWithReasoning asks the reasoner to extract attributes from the latest customer
// text, assess the lead and advise on a transfer. Any failure in the first two steps
// leaves the score unchanged with FallbackUsed set. A failed transfer decision only
// drops the advice.
func (e *Engine) ScoreWithReasoning(ctx context.Context, lead model.Lead, history []model.Message, messageCount int64) ReasoningOutcome {
	unchanged := Result{
		PreviousScore:          lead.Score,
		NewScore:               lead.Score,
		PreviousClassification: lead.Classification,
		NewClassification:      lead.Classification,
		Attributes:             lead.Attributes,
		TriggeredBy:            model.ScoreByAI,
	}
	if e.reasoner == nil {
		return ReasoningOutcome{Result: unchanged, FallbackUsed: true, Err: fmt.Errorf("reasoning disabled")}
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	fallback := func(stage string, err error) ReasoningOutcome {
		e.logger.Warn("Reasoning failed, keeping deterministic score",
			zap.String("lead_id", lead.LeadID),
			zap.String("stage", stage),
			zap.Error(err),
		)
		out := unchanged
		out.Reasoning = "error: " + err.Error()
		return ReasoningOutcome{Result: out, FallbackUsed: true, Err: err}
	}

	extracted, err := e.reasoner.Extract(ctx, lastCustomerText(history), ExtractContext{
		LeadName: lead.Name,
		Current:  lead.Attributes,
		History:  history,
	})
	if err != nil {
		return fallback("extract", err)
	}
	merged := lead.Attributes.Merge(extracted)

	candidate := lead
	candidate.Attributes = merged
	assessment, err := e.reasoner.Score(ctx, candidate, history)
	if err != nil {
		return fallback("score", err)
	}

	newScore := Clamp(assessment.Score)
	result := Result{
		PreviousScore:          lead.Score,
		NewScore:               newScore,
		PreviousClassification: lead.Classification,
		NewClassification:      Classify(newScore),
		Attributes:             merged,
		TriggeredBy:            model.ScoreByAI,
		Reasoning:              strings.TrimSpace(assessment.Reasoning),
	}
	if newScore != lead.Score {
		result.Factors = []model.ScoreFactor{{Factor: FactorAI, Points: newScore - lead.Score}}
	}

	outcome := ReasoningOutcome{Result: result}
	advice, err := e.reasoner.DecideTransfer(ctx, newScore, history, messageCount)
	if err != nil {
		e.logger.Warn("Transfer advice unavailable", zap.String("lead_id", lead.LeadID), zap.Error(err))
		return outcome
	}
	outcome.Advice = &advice
	return outcome
}

func lastCustomerText(history []model.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Sender == model.SenderUser && history[i].Text != "" {
			return history[i].Text
		}
	}
	return ""
}
