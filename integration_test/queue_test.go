//go:build integration

package integration_test

import (
	"fmt"
	"sync"
	"time"

	"gitlab.com/timkado/api/daisi-wa-handoff/internal/apperrors"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/model"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/usecase"
)

func (s *HandoffSuite) TestQueueOrdering() {
	day := time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)
	low := s.seedConversation(model.NewTransferredConversation(model.PriorityLow, day.Add(9*time.Hour)))
	highLate := s.seedConversation(model.NewTransferredConversation(model.PriorityHigh, day.Add(10*time.Hour)))
	highEarly := s.seedConversation(model.NewTransferredConversation(model.PriorityHigh, day.Add(9*time.Hour+30*time.Minute)))

	view, err := s.Service.GetQueue(s.Ctx, model.QueueFilter{})
	s.Require().NoError(err)
	s.Require().Len(view.Items, 3)
	s.Equal(highEarly.ConversationID, view.Items[0].ConversationID)
	s.Equal(highLate.ConversationID, view.Items[1].ConversationID)
	s.Equal(low.ConversationID, view.Items[2].ConversationID)
	for i, item := range view.Items {
		s.Equal(i+1, item.Position)
	}
}

func (s *HandoffSuite) TestClaimNext_ConcurrentAgentsSingleWinner() {
	conv := s.seedConversation(model.NewTransferredConversation(model.PriorityHigh, time.Now().Add(-time.Minute)))
	const agents = 8
	for i := 0; i < agents; i++ {
		s.seedAgent(fmt.Sprintf("agent-%d", i))
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
		empties int
		errs    []error
	)
	for i := 0; i < agents; i++ {
		wg.Add(1)
		go func(agentID string) {
			defer wg.Done()
			res, err := s.Service.TakeNext(s.Ctx, agentID, agentID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				errs = append(errs, err)
			case res.Empty:
				empties++
			default:
				winners = append(winners, agentID)
			}
		}(fmt.Sprintf("agent-%d", i))
	}
	wg.Wait()

	s.Empty(errs)
	s.Require().Len(winners, 1)
	s.Equal(agents-1, empties)

	stored, err := s.Repo.FindConversation(s.Ctx, conv.ConversationID)
	s.Require().NoError(err)
	s.Equal(winners[0], stored.AssigneeID())
	s.Equal(model.StatusTransferred, stored.Status)
}

func (s *HandoffSuite) TestTransfer_ConcurrentRequestsWriteOneLog() {
	conv := s.seedConversation(model.NewConversation())

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Service.Transfer(s.Ctx, usecase.TransitionCommand{
				ConversationID: conv.ConversationID,
				Reason:         "cliente pediu atendente",
				TriggeredBy:    model.TriggeredByHuman,
			})
			if err != nil {
				s.True(apperrors.IsConflictError(err) || apperrors.IsInvalidTransitionError(err), err.Error())
				return
			}
			mu.Lock()
			successes++
			mu.Unlock()
		}()
	}
	wg.Wait()

	s.Equal(1, successes)
	s.Equal(1, s.countRows("transfer_logs", "conversation_id = $1", conv.ConversationID))
}

func (s *HandoffSuite) TestRemoveFromQueue_KeepsHistory() {
	conv := s.seedConversation(model.NewConversation())
	_, err := s.Service.Transfer(s.Ctx, usecase.TransitionCommand{ConversationID: conv.ConversationID, TriggeredBy: model.TriggeredByHuman})
	s.Require().NoError(err)

	res, err := s.Service.RemoveFromQueue(s.Ctx, conv.ConversationID, "supervisor")
	s.Require().NoError(err)
	s.Equal(model.StatusActive, res.Conversation.Status)
	s.Nil(res.Conversation.AssignedAgentID)

	logs, err := s.Service.ListTransfers(s.Ctx, conv.ConversationID)
	s.Require().NoError(err)
	s.Require().Len(logs, 2)
	s.Equal(model.StatusTransferred, logs[1].FromStatus)
	s.Equal(model.StatusActive, logs[1].ToStatus)
}
