package scoring

import (
	"context"
	"errors"

	"gitlab.com/timkado/api/daisi-wa-handoff/internal/model"
)

// ErrUnparsableResponse is returned when the reasoning service answers with something
// that is not the JSON object it was asked for.
var ErrUnparsableResponse = errors.New("unparsable reasoning response")

// ExtractContext gives the reasoning service what it needs to read one message.
type ExtractContext struct {
	LeadName string
	Current  model.LeadAttributes
	History  []model.Message
}

// Assessment is the reasoning service's view of a lead.
type Assessment struct {
	Score          int                  `json:"score"`
	Classification model.Classification `json:"classification"`
	Reasoning      string               `json:"reasoning"`
}

// TransferAdvice is the reasoning service's recommendation on handing the conversation to a human.
type TransferAdvice struct {
	ShouldTransfer bool           `json:"should_transfer"`
	Reason         string         `json:"reason"`
	Priority       model.Priority `json:"priority"`
}

// Reasoner is the optional external reasoning collaborator.
type Reasoner interface {
	Extract(ctx context.Context, text string, extractCtx ExtractContext) (model.LeadAttributes, error)
	Score(ctx context.Context, lead model.Lead, history []model.Message) (Assessment, error)
	DecideTransfer(ctx context.Context, score int, history []model.Message, messageCount int64) (TransferAdvice, error)
}
