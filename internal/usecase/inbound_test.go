package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/timkado/api/daisi-wa-handoff/internal/apperrors"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/model"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/notify"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/tenant"
)

func inbound(text string) model.InboundMessagePayload {
	p := model.NewInboundMessagePayload(&model.InboundMessagePayload{
		Channel: model.ChannelEvolution,
		Phone:   "+55 11 98765-4321",
		Text:    text,
		Type:    model.MessageText,
	})
	p.CompanyID = testCompany
	return *p
}

func TestHandleInbound_RecordsMessage(t *testing.T) {
	f := newFixture(t)
	payload := inbound("Olá, boa tarde")

	res, err := f.svc.HandleInbound(f.ctx, payload)
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, "5511987654321", res.Lead.Phone)
	assert.Equal(t, model.StatusActive, res.Conversation.Status)
	assert.Equal(t, model.ChannelEvolution, res.Conversation.Channel)
	assert.Equal(t, int64(1), res.Message.Seq)
	assert.Equal(t, model.SenderUser, res.Message.Sender)
	assert.Nil(t, res.Transfer)
	assert.False(t, res.RescoreQueued)

	created := f.pub.OfType(notify.EventMessageCreated)
	require.Len(t, created, 1)
	assert.Equal(t, notify.ConversationTopic(res.Conversation.ConversationID), created[0].Topic)
	assert.Len(t, f.pub.OfType(notify.EventConversationUpdated), 1)

	second := inbound("Tudo bem?")
	res2, err := f.svc.HandleInbound(f.ctx, second)
	require.NoError(t, err)
	assert.Equal(t, res.Lead.LeadID, res2.Lead.LeadID)
	assert.Equal(t, res.Conversation.ConversationID, res2.Conversation.ConversationID)
	assert.Equal(t, int64(2), res2.Message.Seq)
}

func TestHandleInbound_DuplicateIgnored(t *testing.T) {
	f := newFixture(t)
	payload := inbound("Tenho um precatório")

	_, err := f.svc.HandleInbound(f.ctx, payload)
	require.NoError(t, err)
	res, err := f.svc.HandleInbound(f.ctx, payload)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)

	logs, err := f.svc.ListScores(f.ctx, res.Lead.LeadID)
	require.NoError(t, err)
	assert.Len(t, logs, 1)
	assert.Len(t, f.pub.OfType(notify.EventMessageCreated), 1)
}

func TestHandleInbound_ScoreThresholdTransfers(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.HandleInbound(f.ctx, inbound("Tenho um precatório de R$ 50.000,00 aqui em SP"))
	require.NoError(t, err)

	assert.True(t, res.ScoreChanged)
	assert.Equal(t, 70, res.Lead.Score)
	assert.Equal(t, model.ClassificationWarm, res.Lead.Classification)
	require.NotNil(t, res.Transfer)
	assert.Equal(t, model.StatusTransferred, res.Conversation.Status)
	assert.Equal(t, model.PriorityHigh, res.Conversation.Priority)

	scoreLogs, err := f.svc.ListScores(f.ctx, res.Lead.LeadID)
	require.NoError(t, err)
	require.Len(t, scoreLogs, 1)
	assert.Equal(t, model.ScoreByAI, scoreLogs[0].TriggeredBy)
	assert.Len(t, scoreLogs[0].Factors, 3)

	transfers := f.transferLogs(t, res.Conversation.ConversationID)
	require.Len(t, transfers, 1)
	assert.Equal(t, model.TriggeredBySystem, transfers[0].TriggeredBy)
	assert.Equal(t, 70, transfers[0].ScoreSnapshot)

	// a later message on the queued conversation scores but never transfers twice
	res, err = f.svc.HandleInbound(f.ctx, inbound("é urgente"))
	require.NoError(t, err)
	assert.Nil(t, res.Transfer)
	assert.Equal(t, 85, res.Lead.Score)
	assert.Len(t, f.transferLogs(t, res.Conversation.ConversationID), 1)
}

func TestHandleInbound_HandoffPhrase(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.HandleInbound(f.ctx, inbound("Quero falar com atendente por favor"))
	require.NoError(t, err)
	require.NotNil(t, res.Transfer)
	assert.Equal(t, model.PriorityHigh, res.Conversation.Priority)
	assert.Contains(t, res.Transfer.TransferLog.Reason, "falar com atendente")
	assert.Len(t, f.pub.OfType(notify.EventNewTransfer), 1)
}

func TestHandleInbound_DocumentTransfersForReview(t *testing.T) {
	f := newFixture(t)
	payload := inbound("segue o ofício")
	payload.Type = model.MessageDocument
	payload.MediaURL = "https://files.example.com/oficio.pdf"

	res, err := f.svc.HandleInbound(f.ctx, payload)
	require.NoError(t, err)
	require.NotNil(t, res.Transfer)
	assert.Equal(t, model.PriorityMedium, res.Conversation.Priority)
	assert.Equal(t, 10, res.Lead.Score)
}

func TestHandleInbound_QueuesRescoreWhenBotControlled(t *testing.T) {
	f := newFixture(t, withReasoner(&stubReasoner{}))
	worker := newRecordingWorker()
	f.svc.SetScoringWorker(worker)

	res, err := f.svc.HandleInbound(f.ctx, inbound("Oi, queria entender como funciona"))
	require.NoError(t, err)
	assert.True(t, res.RescoreQueued)

	select {
	case task := <-worker.tasks:
		assert.Equal(t, res.Conversation.ConversationID, task.ConversationID)
		assert.Equal(t, testCompany, task.CompanyID)
		assert.Equal(t, testCompany, tenant.MustFromContext(task.Ctx))
	case <-time.After(time.Second):
		t.Fatal("rescoring task was not submitted")
	}

	res, err = f.svc.HandleInbound(f.ctx, inbound("falar com atendente"))
	require.NoError(t, err)
	assert.False(t, res.RescoreQueued)
}

func TestHandleInbound_DoesNotWaitForRescoring(t *testing.T) {
	f := newFixture(t, withReasoner(&stubReasoner{block: true}))
	worker := newRecordingWorker()
	worker.release = make(chan struct{})
	defer close(worker.release)
	f.svc.SetScoringWorker(worker)

	start := time.Now()
	res, err := f.svc.HandleInbound(f.ctx, inbound("Oi"))
	require.NoError(t, err)
	assert.True(t, res.RescoreQueued)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, 0, res.Lead.Score)
}

func TestHandleInbound_Rejections(t *testing.T) {
	f := newFixture(t)

	bad := inbound("oi")
	bad.Phone = "123"
	_, err := f.svc.HandleInbound(f.ctx, bad)
	assert.True(t, apperrors.IsValidationError(err))

	foreign := inbound("oi")
	foreign.CompanyID = "someone_else"
	_, err = f.svc.HandleInbound(f.ctx, foreign)
	assert.True(t, apperrors.IsBadRequestError(err))

	_, err = f.svc.HandleInbound(context.Background(), inbound("oi"))
	assert.True(t, apperrors.IsUnauthorizedError(err))

	noChannel := inbound("oi")
	noChannel.Channel = "telegram"
	_, err = f.svc.HandleInbound(f.ctx, noChannel)
	assert.True(t, apperrors.IsValidationError(err))
}
