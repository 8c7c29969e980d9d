package scoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gitlab.com/timkado/api/daisi-wa-handoff/internal/model"
	"gitlab.com/timkado/api/daisi-wa-handoff/pkg/logger"
)

type stubReasoner struct {
	extract  func(ctx context.Context) (model.LeadAttributes, error)
	score    func(ctx context.Context, lead model.Lead) (Assessment, error)
	decide   func(ctx context.Context) (TransferAdvice, error)
	extracts int
}

func (s *stubReasoner) Extract(ctx context.Context, text string, _ ExtractContext) (model.LeadAttributes, error) {
	s.extracts++
	if s.extract == nil {
		return model.LeadAttributes{}, nil
	}
	return s.extract(ctx)
}

func (s *stubReasoner) Score(ctx context.Context, lead model.Lead, _ []model.Message) (Assessment, error) {
	return s.score(ctx, lead)
}

func (s *stubReasoner) DecideTransfer(ctx context.Context, _ int, _ []model.Message, _ int64) (TransferAdvice, error) {
	if s.decide == nil {
		return TransferAdvice{}, nil
	}
	return s.decide(ctx)
}

func newTestEngine(t *testing.T, reasoner Reasoner) *Engine {
	logger.Log = zaptest.NewLogger(t)
	return NewEngine(EngineConfig{ValueFloor: 10000, Regions: []string{"SP", "RJ"}, ReasoningTimeout: 200 * time.Millisecond}, reasoner)
}

func TestEngine_Evaluate(t *testing.T) {
	engine := newTestEngine(t, nil)
	lead := model.Lead{LeadID: "lead-1", Score: 10, Classification: model.ClassificationDiscard}

	result := engine.Evaluate(lead, model.LeadAttributes{HasPrecatorio: true, AssetValue: 50000}, model.ScoreByAI)
	assert.Equal(t, 70, result.NewScore)
	assert.Equal(t, model.ClassificationWarm, result.NewClassification)
	assert.Len(t, result.Factors, 2)
	assert.True(t, result.ScoreChanged())

	// the same signals again award nothing
	lead = result.Apply(lead)
	again := engine.Evaluate(lead, model.LeadAttributes{HasPrecatorio: true, AssetValue: 60000}, model.ScoreByAI)
	assert.Equal(t, 70, again.NewScore)
	assert.Empty(t, again.Factors)
	assert.False(t, again.ScoreChanged())
	assert.InDelta(t, 60000, again.Attributes.AssetValue, 0.001)
}

func TestEngine_EvaluateClampsAtMax(t *testing.T) {
	engine := newTestEngine(t, nil)
	lead := model.Lead{Score: 90, Classification: model.ClassificationHot}

	result := engine.Evaluate(lead, model.LeadAttributes{HasPrecatorio: true, Urgency: true}, model.ScoreByAI)
	assert.Equal(t, 100, result.NewScore)
	assert.Equal(t, model.ClassificationHot, result.NewClassification)
}

func TestResult_ApplyPromotesStatus(t *testing.T) {
	lead := model.Lead{Status: model.LeadStatusNew}
	r := Result{NewScore: 30, NewClassification: model.ClassificationCold}
	assert.Equal(t, model.LeadStatusQualifying, r.Apply(lead).Status)

	r = Result{NewScore: 85, NewClassification: model.ClassificationHot}
	assert.Equal(t, model.LeadStatusQualified, r.Apply(lead).Status)

	closed := model.Lead{Status: model.LeadStatusClosed}
	assert.Equal(t, model.LeadStatusClosed, r.Apply(closed).Status)
}

func TestEngine_Adjust(t *testing.T) {
	engine := newTestEngine(t, nil)
	lead := model.Lead{Score: 45, Classification: model.ClassificationCold}

	delta := 10
	result, err := engine.Adjust(lead, &delta, nil, model.ScoreByManual, "call went well")
	require.NoError(t, err)
	assert.Equal(t, 55, result.NewScore)
	assert.Equal(t, model.ClassificationWarm, result.NewClassification)
	assert.Equal(t, 10, result.Factors[0].Points)

	absolute := 150
	result, err = engine.Adjust(lead, nil, &absolute, model.ScoreByEnrichment, "")
	require.NoError(t, err)
	assert.Equal(t, 100, result.NewScore)

	_, err = engine.Adjust(lead, nil, nil, model.ScoreByManual, "")
	assert.Error(t, err)
}

func TestEngine_ScoreWithReasoning(t *testing.T) {
	lead := model.Lead{LeadID: "lead-1", Score: 40, Classification: model.ClassificationCold}
	history := []model.Message{{Sender: model.SenderUser, Type: model.MessageText, Text: "tenho um precatório"}}

	t.Run("uses the reasoner score and advice", func(t *testing.T) {
		r := &stubReasoner{
			extract: func(context.Context) (model.LeadAttributes, error) {
				return model.LeadAttributes{HasPrecatorio: true}, nil
			},
			score: func(_ context.Context, l model.Lead) (Assessment, error) {
				assert.True(t, l.Attributes.HasPrecatorio)
				return Assessment{Score: 82, Reasoning: "precatório confirmado"}, nil
			},
			decide: func(context.Context) (TransferAdvice, error) {
				return TransferAdvice{ShouldTransfer: true, Reason: "lead quente", Priority: model.PriorityHigh}, nil
			},
		}
		out := newTestEngine(t, r).ScoreWithReasoning(context.Background(), lead, history, 3)

		assert.False(t, out.FallbackUsed)
		assert.Equal(t, 82, out.Result.NewScore)
		assert.Equal(t, model.ClassificationHot, out.Result.NewClassification)
		assert.Equal(t, []model.ScoreFactor{{Factor: FactorAI, Points: 42}}, out.Result.Factors)
		require.NotNil(t, out.Advice)
		assert.True(t, out.Advice.ShouldTransfer)
	})

	t.Run("timeout leaves score unchanged and returns promptly", func(t *testing.T) {
		r := &stubReasoner{
			score: func(ctx context.Context, _ model.Lead) (Assessment, error) {
				<-ctx.Done()
				return Assessment{}, ctx.Err()
			},
		}
		start := time.Now()
		out := newTestEngine(t, r).ScoreWithReasoning(context.Background(), lead, history, 3)

		assert.Less(t, time.Since(start), 2*time.Second)
		assert.True(t, out.FallbackUsed)
		assert.ErrorIs(t, out.Err, context.DeadlineExceeded)
		assert.Equal(t, 40, out.Result.NewScore)
		assert.Equal(t, model.ClassificationCold, out.Result.NewClassification)
		assert.False(t, out.Result.ScoreChanged())
		assert.Contains(t, out.Result.Reasoning, "error")
		assert.Nil(t, out.Advice)
	})

	t.Run("unparsable extraction falls back", func(t *testing.T) {
		r := &stubReasoner{
			extract: func(context.Context) (model.LeadAttributes, error) {
				return model.LeadAttributes{}, ErrUnparsableResponse
			},
		}
		out := newTestEngine(t, r).ScoreWithReasoning(context.Background(), lead, history, 3)
		assert.True(t, out.FallbackUsed)
		assert.ErrorIs(t, out.Err, ErrUnparsableResponse)
		assert.Equal(t, 40, out.Result.NewScore)
	})

	t.Run("failed advice keeps the score", func(t *testing.T) {
		r := &stubReasoner{
			score: func(context.Context, model.Lead) (Assessment, error) {
				return Assessment{Score: 55}, nil
			},
			decide: func(context.Context) (TransferAdvice, error) {
				return TransferAdvice{}, errors.New("boom")
			},
		}
		out := newTestEngine(t, r).ScoreWithReasoning(context.Background(), lead, history, 3)
		assert.False(t, out.FallbackUsed)
		assert.Equal(t, 55, out.Result.NewScore)
		assert.Nil(t, out.Advice)
	})

	t.Run("no reasoner", func(t *testing.T) {
		out := newTestEngine(t, nil).ScoreWithReasoning(context.Background(), lead, history, 3)
		assert.True(t, out.FallbackUsed)
		assert.Equal(t, 40, out.Result.NewScore)
	})
}
