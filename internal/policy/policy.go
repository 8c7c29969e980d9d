// Package policy decides when a bot-controlled conversation is handed to a human.
package policy

import (
	"fmt"

	"gitlab.com/timkado/api/daisi-wa-handoff/internal/model"
)

// Rule names a transfer rule. It is recorded as the transfer reason prefix.
type Rule string

const (
	RuleHandoffPhrase  Rule = "handoff_phrase"
	RuleScoreThreshold Rule = "score_threshold"
	RuleUrgency        Rule = "urgency"
	RuleAIAdvice       Rule = "ai_advice"
	RuleMessageCeiling Rule = "message_ceiling"
	RuleDocuments      Rule = "documents_review"
)

// Config holds the policy thresholds.
type Config struct {
	ScoreThreshold int
	MessageCeiling int64
}

// Signals is everything the policy looks at after a mutation.
type Signals struct {
	Status           model.ConversationStatus
	Score            int
	Attributes       model.LeadAttributes
	MessageCount     int64
	HandoffRequested bool
	MatchedPhrase    string
	// FromReasoner is true when the score came from the reasoning service.
	FromReasoner   bool
	AdviceTransfer bool
	AdviceReason   string
	AdvicePriority model.Priority
}

// Decision is the policy outcome. Transfer is false when nothing fired.
type Decision struct {
	Transfer    bool
	Rule        Rule
	Reason      string
	Priority    model.Priority
	TriggeredBy model.TriggeredBy
}

// Policy evaluates the transfer rules in order; the first match decides.
type Policy struct {
	cfg Config
}

// New creates a policy. Zero thresholds fall back to 60 and 12.
func New(cfg Config) *Policy {
	if cfg.ScoreThreshold <= 0 {
		cfg.ScoreThreshold = 60
	}
	if cfg.MessageCeiling <= 0 {
		cfg.MessageCeiling = 12
	}
	return &Policy{cfg: cfg}
}

// Evaluate returns the transfer decision for s. Conversations that are already
// transferred or completed never transfer again.
func (p *Policy) Evaluate(s Signals) Decision {
	if s.Status == model.StatusTransferred || s.Status == model.StatusCompleted {
		return Decision{}
	}

	triggeredBy := model.TriggeredBySystem
	if s.FromReasoner {
		triggeredBy = model.TriggeredByAI
	}
	decide := func(rule Rule, priority model.Priority, reason string) Decision {
		return Decision{Transfer: true, Rule: rule, Reason: reason, Priority: priority, TriggeredBy: triggeredBy}
	}

	switch {
	case s.HandoffRequested:
		return decide(RuleHandoffPhrase, model.PriorityHigh, fmt.Sprintf("cliente pediu atendimento humano (%q)", s.MatchedPhrase))
	case s.Score >= p.cfg.ScoreThreshold:
		return decide(RuleScoreThreshold, model.PriorityHigh, fmt.Sprintf("score %d atingiu o limite %d", s.Score, p.cfg.ScoreThreshold))
	case s.Attributes.Urgency:
		return decide(RuleUrgency, model.PriorityHigh, "cliente demonstrou urgência")
	case s.FromReasoner && s.AdviceTransfer:
		priority := s.AdvicePriority
		if !priority.Valid() {
			priority = model.PriorityMedium
		}
		d := decide(RuleAIAdvice, priority, "IA recomendou transferência: "+s.AdviceReason)
		d.TriggeredBy = model.TriggeredByAI
		return d
	case s.MessageCount > p.cfg.MessageCeiling:
		return decide(RuleMessageCeiling, model.PriorityMedium, fmt.Sprintf("%d mensagens sem resolução", s.MessageCount))
	case s.Attributes.DocumentsReceived:
		return decide(RuleDocuments, model.PriorityMedium, "documentos recebidos para análise manual")
	}
	return Decision{}
}
