package storage

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/timkado/api/daisi-wa-handoff/internal/apperrors"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/model"
)

func seedTransferred(t *testing.T, repo *MemoryRepo, id string, priority model.Priority, at time.Time) *model.Conversation {
	t.Helper()
	ctx := tenantContext()

	lead, err := repo.UpsertLead(ctx, model.Lead{LeadID: "lead-" + id, CompanyID: testTenantID, Phone: "55119" + id})
	require.NoError(t, err)
	conv, err := repo.OpenConversation(ctx, model.Conversation{
		ConversationID: id,
		CompanyID:      testTenantID,
		LeadID:         lead.LeadID,
		Channel:        model.ChannelEvolution,
		Status:         model.StatusActive,
	})
	require.NoError(t, err)

	next := conv.Clone()
	next.Status = model.StatusTransferred
	next.Priority = priority
	next.TransferredAt = &at
	next.Metadata.Transfer = &model.TransferMeta{TransferredAt: at, Priority: priority}
	next.Metadata.Last = model.MetaTransfer
	out, err := repo.SwapConversation(ctx, *next, conv.Version, nil)
	require.NoError(t, err)
	return out
}

func TestMemoryRepo_LeadUpsertIsKeyedByPhone(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := tenantContext()

	first, err := repo.UpsertLead(ctx, model.Lead{LeadID: "lead-1", CompanyID: testTenantID, Phone: "5511999990001"})
	require.NoError(t, err)
	second, err := repo.UpsertLead(ctx, model.Lead{LeadID: "lead-2", CompanyID: testTenantID, Phone: "5511999990001", Name: "Ana"})
	require.NoError(t, err)

	assert.Equal(t, first.LeadID, second.LeadID)
	assert.Equal(t, "Ana", second.Name)
	assert.Equal(t, model.ClassificationDiscard, second.Classification)
	assert.Equal(t, int64(1), second.Version)
}

func TestMemoryRepo_ApplyLeadScore(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := tenantContext()

	lead, err := repo.UpsertLead(ctx, model.Lead{LeadID: "lead-1", CompanyID: testTenantID, Phone: "5511999990001"})
	require.NoError(t, err)

	next := *lead
	next.Score = 55
	next.Classification = model.ClassificationWarm
	updated, err := repo.ApplyLeadScore(ctx, next, lead.Version, &model.ScoreLog{LogID: "s1", CompanyID: testTenantID, LeadID: "lead-1", NewScore: 55})
	require.NoError(t, err)
	assert.Equal(t, lead.Version+1, updated.Version)

	_, err = repo.ApplyLeadScore(ctx, next, lead.Version, &model.ScoreLog{LogID: "s2", CompanyID: testTenantID, LeadID: "lead-1"})
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	logs, err := repo.ListScoreLogs(ctx, "lead-1")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "s1", logs[0].LogID)
}

func TestMemoryRepo_OpenConversationOncePerLeadAndChannel(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := tenantContext()

	open := func(id string, channel model.Channel) *model.Conversation {
		conv, err := repo.OpenConversation(ctx, model.Conversation{ConversationID: id, CompanyID: testTenantID, LeadID: "lead-1", Channel: channel})
		require.NoError(t, err)
		return conv
	}

	a := open("conv-a", model.ChannelEvolution)
	b := open("conv-b", model.ChannelEvolution)
	c := open("conv-c", model.ChannelOfficial)

	assert.Equal(t, "conv-a", a.ConversationID)
	assert.Equal(t, "conv-a", b.ConversationID)
	assert.Equal(t, "conv-c", c.ConversationID)
	assert.Equal(t, model.StatusActive, a.Status)

	// a completed conversation frees the slot
	done := a.Clone()
	done.Status = model.StatusCompleted
	_, err := repo.SwapConversation(ctx, *done, a.Version, nil)
	require.NoError(t, err)
	d := open("conv-d", model.ChannelEvolution)
	assert.Equal(t, "conv-d", d.ConversationID)
}

func TestMemoryRepo_SwapConversationWritesLogOnlyOnSuccess(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := tenantContext()

	conv, err := repo.OpenConversation(ctx, model.Conversation{ConversationID: "conv-1", CompanyID: testTenantID, LeadID: "lead-1", Channel: model.ChannelEvolution})
	require.NoError(t, err)

	next := conv.Clone()
	next.Status = model.StatusTransferred
	log := &model.TransferLog{LogID: "t1", CompanyID: testTenantID, ConversationID: "conv-1"}

	_, err = repo.SwapConversation(ctx, *next, conv.Version, log)
	require.NoError(t, err)
	_, err = repo.SwapConversation(ctx, *next, conv.Version, &model.TransferLog{LogID: "t2", CompanyID: testTenantID, ConversationID: "conv-1"})
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	logs, err := repo.ListTransferLogs(ctx, "conv-1")
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestMemoryRepo_ClaimNextOrder(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := tenantContext()
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	seedTransferred(t, repo, "low-0900", model.PriorityLow, day.Add(9*time.Hour))
	seedTransferred(t, repo, "high-1000", model.PriorityHigh, day.Add(10*time.Hour))
	seedTransferred(t, repo, "high-0930", model.PriorityHigh, day.Add(9*time.Hour+30*time.Minute))

	var order []string
	for i := 0; i < 3; i++ {
		conv, err := repo.ClaimNextConversation(ctx, model.AssignMeta{AgentID: "agent-1", AssignedAt: day})
		require.NoError(t, err)
		require.NotNil(t, conv)
		assert.Equal(t, model.MetaAssign, conv.Metadata.Last)
		order = append(order, conv.ConversationID)
	}
	assert.Equal(t, []string{"high-0930", "high-1000", "low-0900"}, order)

	conv, err := repo.ClaimNextConversation(ctx, model.AssignMeta{AgentID: "agent-1"})
	assert.NoError(t, err)
	assert.Nil(t, conv)
}

func TestMemoryRepo_ConcurrentClaimHasOneWinner(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := tenantContext()
	seedTransferred(t, repo, "only", model.PriorityMedium, time.Now().UTC())

	const claimers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
		empties int
	)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			agentID := "agent-" + string(rune('a'+n))
			conv, err := repo.ClaimNextConversation(ctx, model.AssignMeta{AgentID: agentID, AssignedAt: time.Now().UTC()})
			assert.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			if conv == nil {
				empties++
				return
			}
			winners = append(winners, conv.AssigneeID())
		}(i)
	}
	wg.Wait()

	assert.Len(t, winners, 1)
	assert.Equal(t, claimers-1, empties)

	stored, err := repo.FindConversation(ctx, "only")
	require.NoError(t, err)
	assert.Equal(t, winners[0], stored.AssigneeID())
}

func TestMemoryRepo_AssignIfUnassigned(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := tenantContext()
	seedTransferred(t, repo, "conv-1", model.PriorityHigh, time.Now().UTC())

	_, err := repo.AssignConversationIfUnassigned(ctx, "conv-1", model.AssignMeta{AgentID: "agent-1"})
	require.NoError(t, err)

	_, err = repo.AssignConversationIfUnassigned(ctx, "conv-1", model.AssignMeta{AgentID: "agent-2"})
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	_, err = repo.AssignConversationIfUnassigned(ctx, "missing", model.AssignMeta{AgentID: "agent-2"})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestMemoryRepo_UpdatePriority(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := tenantContext()
	seedTransferred(t, repo, "conv-1", model.PriorityLow, time.Now().UTC())

	conv, err := repo.UpdateConversationPriority(ctx, "conv-1", model.PriorityHigh)
	require.NoError(t, err)
	assert.Equal(t, model.PriorityHigh, conv.Priority)
	assert.Equal(t, model.PriorityHigh, conv.Metadata.Transfer.Priority)

	_, err = repo.OpenConversation(ctx, model.Conversation{ConversationID: "conv-2", CompanyID: testTenantID, LeadID: "lead-x", Channel: model.ChannelEvolution})
	require.NoError(t, err)
	_, err = repo.UpdateConversationPriority(ctx, "conv-2", model.PriorityHigh)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
}

func TestMemoryRepo_ListTransferredFilters(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := tenantContext()
	now := time.Now().UTC()
	seedTransferred(t, repo, "c1", model.PriorityHigh, now)
	seedTransferred(t, repo, "c2", model.PriorityLow, now)
	_, err := repo.AssignConversationIfUnassigned(ctx, "c2", model.AssignMeta{AgentID: "agent-1"})
	require.NoError(t, err)

	all, err := repo.ListTransferredConversations(ctx, model.QueueFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, "lead-c1", all[0].Lead.LeadID)

	assigned, err := repo.ListTransferredConversations(ctx, model.QueueFilter{AssignedOnly: true})
	require.NoError(t, err)
	require.Len(t, assigned, 1)
	assert.Equal(t, "c2", assigned[0].Conversation.ConversationID)

	mine, err := repo.ListTransferredConversations(ctx, model.QueueFilter{MyQueue: true, AgentID: "agent-2"})
	require.NoError(t, err)
	assert.Empty(t, mine)
}

func TestMemoryRepo_AppendMessage(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := tenantContext()
	_, err := repo.OpenConversation(ctx, model.Conversation{ConversationID: "conv-1", CompanyID: testTenantID, LeadID: "lead-1", Channel: model.ChannelEvolution})
	require.NoError(t, err)

	msg := model.Message{MessageID: "m1", ConversationID: "conv-1", CompanyID: testTenantID, Sender: model.SenderUser, Type: model.MessageText, SentAt: time.Now().UTC()}
	first, created, err := repo.AppendMessage(ctx, msg)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(1), first.Seq)

	again, created, err := repo.AppendMessage(ctx, msg)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, int64(1), again.Seq)

	msg.MessageID = "m2"
	second, _, err := repo.AppendMessage(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.Seq)

	conv, err := repo.FindConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), conv.MessageCount)

	recent, err := repo.ListRecentMessages(ctx, "conv-1", 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "m2", recent[0].MessageID)

	msg.ConversationID = "missing"
	msg.MessageID = "m3"
	_, _, err = repo.AppendMessage(ctx, msg)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestMemoryRepo_Agents(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := tenantContext()

	_, err := repo.UpsertAgent(ctx, model.Agent{AgentID: "b", AgentName: "Bia", Active: true, CompanyID: testTenantID})
	require.NoError(t, err)
	_, err = repo.UpsertAgent(ctx, model.Agent{AgentID: "a", AgentName: "Ana", Active: true, CompanyID: testTenantID})
	require.NoError(t, err)
	_, err = repo.UpsertAgent(ctx, model.Agent{AgentID: "c", AgentName: "Caio", Active: false, CompanyID: testTenantID})
	require.NoError(t, err)

	updated, err := repo.UpsertAgent(ctx, model.Agent{AgentID: "b", AgentName: "Beatriz", Active: true, Status: model.AgentOnline, CompanyID: testTenantID})
	require.NoError(t, err)
	assert.Equal(t, "Beatriz", updated.AgentName)

	active, err := repo.ListActiveAgents(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "a", active[0].AgentID)

	_, err = repo.FindAgentByAgentID(ctx, "ghost")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestRepositoriesWrapStore(t *testing.T) {
	repo := NewMemoryRepo()
	repos := NewRepositories(repo)
	ctx := tenantContext()

	lead, err := repos.Leads.Upsert(ctx, model.Lead{LeadID: "lead-1", CompanyID: testTenantID, Phone: "5511999990001"})
	require.NoError(t, err)
	found, err := repos.Leads.FindByPhone(ctx, "5511999990001")
	require.NoError(t, err)
	assert.Equal(t, lead.LeadID, found.LeadID)

	_, err = repos.Conversations.FindByConversationID(ctx, "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
