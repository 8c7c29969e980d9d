package usecase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/timkado/api/daisi-wa-handoff/internal/apperrors"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/model"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/notify"
)

func assertAssignedImpliesTransferred(t *testing.T, conv *model.Conversation) {
	t.Helper()
	if conv.IsAssigned() {
		assert.Equal(t, model.StatusTransferred, conv.Status, "assigned conversation %s must be transferred", conv.ConversationID)
	}
}

func TestTransfer_WritesOneLogAndQueues(t *testing.T) {
	f := newFixture(t)
	conv := f.seedConversation(t, model.NewConversation())

	res, err := f.svc.ApplyAction(f.ctx, TransitionCommand{
		ConversationID: conv.ConversationID,
		Action:         model.ActionTransfer,
		Reason:         "cliente quer falar de valores",
		Priority:       model.PriorityHigh,
		ActorID:        "supervisor-1",
	})
	require.NoError(t, err)

	assert.Equal(t, model.StatusTransferred, res.Conversation.Status)
	assert.Equal(t, model.PriorityHigh, res.Conversation.Priority)
	assert.False(t, res.Conversation.IsAssigned())
	require.NotNil(t, res.Conversation.TransferredAt)
	require.NotNil(t, res.Conversation.Metadata.Transfer)
	assert.Equal(t, model.TriggeredByHuman, res.Conversation.Metadata.Transfer.TriggeredBy)
	assert.Equal(t, "supervisor-1", res.Conversation.Metadata.Transfer.TransferredBy)
	assert.Equal(t, conv.Version+1, res.Conversation.Version)

	logs := f.transferLogs(t, conv.ConversationID)
	require.Len(t, logs, 1)
	assert.Equal(t, model.StatusActive, logs[0].FromStatus)
	assert.Equal(t, model.StatusTransferred, logs[0].ToStatus)
	assert.Equal(t, "cliente quer falar de valores", logs[0].Reason)
	assert.Equal(t, "supervisor-1", logs[0].ActorID)
	assert.Equal(t, res.TransferLog.LogID, logs[0].LogID)

	newTransfers := f.pub.OfType(notify.EventNewTransfer)
	require.Len(t, newTransfers, 1)
	assert.Equal(t, notify.GlobalTopic, newTransfers[0].Topic)
	assert.Len(t, f.pub.OfType(notify.EventStatusChanged), 1)
}

func TestTransfer_DefaultsPriority(t *testing.T) {
	f := newFixture(t, withOptions(Options{DefaultPriority: model.PriorityLow}))
	conv := f.seedConversation(t, model.NewConversation())

	res, err := f.svc.ApplyAction(f.ctx, TransitionCommand{ConversationID: conv.ConversationID, Action: model.ActionTransfer})
	require.NoError(t, err)
	assert.Equal(t, model.PriorityLow, res.Conversation.Priority)
	assert.Equal(t, defaultActor, res.TransferLog.ActorID)
}

func TestTransfer_RejectsTransferredWithoutDuplicateLog(t *testing.T) {
	f := newFixture(t)
	conv := f.seedConversation(t, model.NewConversation())

	_, err := f.svc.ApplyAction(f.ctx, TransitionCommand{ConversationID: conv.ConversationID, Action: model.ActionTransfer})
	require.NoError(t, err)

	_, err = f.svc.ApplyAction(f.ctx, TransitionCommand{ConversationID: conv.ConversationID, Action: model.ActionTransfer})
	require.Error(t, err)
	assert.True(t, apperrors.IsInvalidTransitionError(err))
	assert.Len(t, f.transferLogs(t, conv.ConversationID), 1)
}

func TestTransfer_DirectAssignment(t *testing.T) {
	f := newFixture(t)
	agent := f.seedAgent(t, &model.Agent{AgentID: "agent-7", AgentName: "Carla"})
	conv := f.seedConversation(t, model.NewConversation())

	res, err := f.svc.ApplyAction(f.ctx, TransitionCommand{
		ConversationID: conv.ConversationID,
		Action:         model.ActionTransfer,
		AssignToAgent:  agent.AgentID,
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusTransferred, res.Conversation.Status)
	assert.Equal(t, "agent-7", res.Conversation.AssigneeID())
	assert.Equal(t, "Carla", res.Conversation.AssignedAgentName)
	assert.Len(t, f.transferLogs(t, conv.ConversationID), 1)

	direct := f.pub.OfType(notify.EventDirectAssignment)
	require.Len(t, direct, 1)
	assert.Equal(t, "agent-7", direct[0].TargetAgentID)
	assert.Empty(t, f.pub.OfType(notify.EventNewTransfer))
}

func TestTransfer_UnknownAgent(t *testing.T) {
	f := newFixture(t)
	conv := f.seedConversation(t, model.NewConversation())

	_, err := f.svc.ApplyAction(f.ctx, TransitionCommand{
		ConversationID: conv.ConversationID,
		Action:         model.ActionTransfer,
		AssignToAgent:  "ghost",
	})
	assert.True(t, apperrors.IsNotFoundError(err))
	assert.Equal(t, model.StatusActive, f.conversation(t, conv.ConversationID).Status)
	assert.Empty(t, f.transferLogs(t, conv.ConversationID))
}

func TestPauseResume_WritesNoTransferLogs(t *testing.T) {
	f := newFixture(t)
	conv := f.seedConversation(t, model.NewConversation())

	paused, err := f.svc.ApplyAction(f.ctx, TransitionCommand{ConversationID: conv.ConversationID, Action: model.ActionPause, Reason: "checking docs"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusPaused, paused.Conversation.Status)
	require.NotNil(t, paused.Conversation.Metadata.Pause)
	assert.Nil(t, paused.TransferLog)

	_, err = f.svc.ApplyAction(f.ctx, TransitionCommand{ConversationID: conv.ConversationID, Action: model.ActionPause})
	assert.True(t, apperrors.IsInvalidTransitionError(err))

	resumed, err := f.svc.ApplyAction(f.ctx, TransitionCommand{ConversationID: conv.ConversationID, Action: model.ActionResume})
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, resumed.Conversation.Status)
	assert.Nil(t, resumed.Conversation.Metadata.Pause)
	require.NotNil(t, resumed.Conversation.Metadata.Resume)
	assert.Equal(t, model.MetaResume, resumed.Conversation.Metadata.Last)

	assert.Empty(t, f.transferLogs(t, conv.ConversationID))

	_, err = f.svc.ApplyAction(f.ctx, TransitionCommand{ConversationID: conv.ConversationID, Action: model.ActionResume})
	assert.True(t, apperrors.IsInvalidTransitionError(err))
}

func TestTransfer_FromPausedClearsPause(t *testing.T) {
	f := newFixture(t)
	conv := f.seedConversation(t, model.NewConversation())

	_, err := f.svc.ApplyAction(f.ctx, TransitionCommand{ConversationID: conv.ConversationID, Action: model.ActionPause})
	require.NoError(t, err)
	res, err := f.svc.ApplyAction(f.ctx, TransitionCommand{ConversationID: conv.ConversationID, Action: model.ActionTransfer})
	require.NoError(t, err)

	assert.Equal(t, model.StatusTransferred, res.Conversation.Status)
	assert.Nil(t, res.Conversation.Metadata.Pause)
	assert.Equal(t, model.StatusPaused, res.TransferLog.FromStatus)
}

func TestAssign_PromotesActiveConversation(t *testing.T) {
	f := newFixture(t)
	agent := f.seedAgent(t, &model.Agent{AgentID: "agent-1", AgentName: "Rita"})
	conv := f.seedConversation(t, model.NewConversation())

	res, err := f.svc.ApplyAction(f.ctx, TransitionCommand{
		ConversationID: conv.ConversationID,
		Action:         model.ActionAssign,
		AssignToAgent:  agent.AgentID,
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusTransferred, res.Conversation.Status)
	assert.Equal(t, "agent-1", res.Conversation.AssigneeID())

	logs := f.transferLogs(t, conv.ConversationID)
	require.Len(t, logs, 1)
	assert.Equal(t, "assigned to Rita", logs[0].Reason)
	assert.Len(t, f.pub.OfType(notify.EventQueueUpdated), 1)
}

func TestAssign_QueuedConversationWritesNoLog(t *testing.T) {
	f := newFixture(t)
	agent := f.seedAgent(t, nil)
	conv := f.seedConversation(t, model.NewTransferredConversation(model.PriorityMedium, time.Now().UTC()))

	res, err := f.svc.ApplyAction(f.ctx, TransitionCommand{
		ConversationID: conv.ConversationID,
		Action:         model.ActionAssign,
		AssignToAgent:  agent.AgentID,
	})
	require.NoError(t, err)
	assert.Nil(t, res.TransferLog)
	assert.Equal(t, agent.AgentID, res.Conversation.AssigneeID())
	assert.Empty(t, f.transferLogs(t, conv.ConversationID))
}

func TestAssign_InactiveAgentRejected(t *testing.T) {
	f := newFixture(t)
	f.seedAgent(t, &model.Agent{AgentID: "gone"})
	_, err := f.svc.UpsertAgent(f.ctx, "gone", model.UpsertAgentRequest{AgentName: "Gone", Active: new(bool)})
	require.NoError(t, err)
	conv := f.seedConversation(t, model.NewConversation())

	_, err = f.svc.ApplyAction(f.ctx, TransitionCommand{ConversationID: conv.ConversationID, Action: model.ActionAssign, AssignToAgent: "gone"})
	assert.True(t, apperrors.IsBadRequestError(err))

	_, err = f.svc.ApplyAction(f.ctx, TransitionCommand{ConversationID: conv.ConversationID, Action: model.ActionAssign})
	assert.True(t, apperrors.IsValidationError(err))
}

func TestComplete(t *testing.T) {
	f := newFixture(t)
	agent := f.seedAgent(t, nil)
	conv := f.seedConversation(t, model.NewConversation())

	_, err := f.svc.ApplyAction(f.ctx, TransitionCommand{ConversationID: conv.ConversationID, Action: model.ActionTransfer, AssignToAgent: agent.AgentID})
	require.NoError(t, err)

	res, err := f.svc.ApplyAction(f.ctx, TransitionCommand{ConversationID: conv.ConversationID, Action: model.ActionComplete, Reason: "negócio fechado"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, res.Conversation.Status)
	assert.False(t, res.Conversation.IsAssigned())
	require.NotNil(t, res.Conversation.Metadata.Complete)
	assert.Len(t, f.transferLogs(t, conv.ConversationID), 2)

	_, err = f.svc.ApplyAction(f.ctx, TransitionCommand{ConversationID: conv.ConversationID, Action: model.ActionComplete})
	assert.True(t, apperrors.IsInvalidTransitionError(err))
	_, err = f.svc.ApplyAction(f.ctx, TransitionCommand{ConversationID: conv.ConversationID, Action: model.ActionTransfer})
	assert.True(t, apperrors.IsInvalidTransitionError(err))
	_, err = f.svc.ApplyAction(f.ctx, TransitionCommand{ConversationID: conv.ConversationID, Action: model.ActionAssign, AssignToAgent: agent.AgentID})
	assert.True(t, apperrors.IsInvalidTransitionError(err))
}

func TestDequeue(t *testing.T) {
	f := newFixture(t)
	agent := f.seedAgent(t, nil)
	conv := f.seedConversation(t, model.NewConversation())

	_, err := f.svc.ApplyAction(f.ctx, TransitionCommand{ConversationID: conv.ConversationID, Action: model.ActionTransfer, AssignToAgent: agent.AgentID, Priority: model.PriorityHigh})
	require.NoError(t, err)

	res, err := f.svc.RemoveFromQueue(f.ctx, conv.ConversationID, "supervisor")
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, res.Conversation.Status)
	assert.False(t, res.Conversation.IsAssigned())
	assert.Empty(t, res.Conversation.Priority)
	assert.Nil(t, res.Conversation.TransferredAt)
	assert.Nil(t, res.Conversation.Metadata.Transfer)
	assert.Nil(t, res.Conversation.Metadata.Assign)

	logs := f.transferLogs(t, conv.ConversationID)
	require.Len(t, logs, 2)
	assert.Equal(t, model.StatusTransferred, logs[1].FromStatus)
	assert.Equal(t, model.StatusActive, logs[1].ToStatus)
	assert.Equal(t, reasonRemovedFromQueue, logs[1].Reason)

	_, err = f.svc.RemoveFromQueue(f.ctx, conv.ConversationID, "")
	assert.True(t, apperrors.IsInvalidTransitionError(err))
}

func TestApplyAction_UnknownAction(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ApplyAction(f.ctx, TransitionCommand{ConversationID: "any", Action: "escalate"})
	assert.True(t, apperrors.IsValidationError(err))

	_, err = f.svc.ApplyAction(f.ctx, TransitionCommand{ConversationID: "missing", Action: model.ActionPause})
	assert.True(t, apperrors.IsNotFoundError(err))
}

func TestAssignedImpliesTransferred(t *testing.T) {
	f := newFixture(t)
	agent := f.seedAgent(t, nil)
	conv := f.seedConversation(t, model.NewConversation())
	id := conv.ConversationID

	steps := []TransitionCommand{
		{Action: model.ActionPause},
		{Action: model.ActionResume},
		{Action: model.ActionAssign, AssignToAgent: agent.AgentID},
		{Action: model.ActionDequeue},
		{Action: model.ActionTransfer},
		{Action: model.ActionAssign, AssignToAgent: agent.AgentID},
		{Action: model.ActionPause},
		{Action: model.ActionComplete},
	}
	for _, step := range steps {
		step.ConversationID = id
		_, _ = f.svc.ApplyAction(f.ctx, step)
		assertAssignedImpliesTransferred(t, f.conversation(t, id))
	}
	assert.Equal(t, model.StatusCompleted, f.conversation(t, id).Status)
}
