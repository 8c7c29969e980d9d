//go:build integration

package integration_test

import (
	"encoding/json"
	"time"

	"gitlab.com/timkado/api/daisi-wa-handoff/internal/model"
)

func (s *HandoffSuite) publish(subject string, payload interface{}, msgID string) {
	data, err := json.Marshal(payload)
	s.Require().NoError(err)
	s.Require().NoError(s.JS.Publish(subject+"."+s.CompanyID, data, msgID))
}

func (s *HandoffSuite) TestInbound_MessageFromStreamOpensConversation() {
	const phone = "5511977776666"
	payload := model.NewInboundMessagePayload(&model.InboundMessagePayload{
		CompanyID: s.CompanyID,
		Phone:     "+55 (11) 97777-6666",
		Text:      "tenho um precatório de R$ 50.000,00 em SP",
	})
	s.publish(string(model.V1MessagesUpsert), payload, payload.MessageID)

	var lead *model.Lead
	s.Require().Eventually(func() bool {
		found, err := s.Repo.FindLeadByPhone(s.Ctx, phone)
		if err != nil {
			return false
		}
		lead = found
		return found.Score > 0
	}, 15*time.Second, 100*time.Millisecond)

	conv, err := s.Repo.FindOpenConversation(s.Ctx, lead.LeadID, payload.Channel)
	s.Require().NoError(err)
	s.Equal(payload.ChannelRef, conv.ChannelRef)
	s.GreaterOrEqual(s.countRows("score_logs", "lead_id = $1", lead.LeadID), 1)

	// The same message id again is dropped by the stream or by the message store.
	s.publish(string(model.V1MessagesUpsert), payload, payload.MessageID)
	s.Never(func() bool {
		return s.countRows("messages", "conversation_id = $1", conv.ConversationID) > 1
	}, 2*time.Second, 200*time.Millisecond)
}

func (s *HandoffSuite) TestInbound_EnrichmentRaisesScore() {
	const phone = "5521988881111"
	res, err := s.Service.HandleInbound(s.Ctx, *model.NewInboundMessagePayload(&model.InboundMessagePayload{
		CompanyID: s.CompanyID,
		Phone:     phone,
		Text:      "bom dia",
	}))
	s.Require().NoError(err)
	before := res.Lead.Score

	enrichment := model.NewEnrichmentPayload(&model.EnrichmentPayload{CompanyID: s.CompanyID, Phone: phone})
	s.publish(string(model.V1LeadsEnrichment), enrichment, "")

	s.Require().Eventually(func() bool {
		return s.countRows("score_logs", "lead_id = $1 AND triggered_by = $2",
			res.Lead.LeadID, string(model.ScoreByEnrichment)) == 1
	}, 15*time.Second, 100*time.Millisecond)

	lead, err := s.Repo.FindLeadByLeadID(s.Ctx, res.Lead.LeadID)
	s.Require().NoError(err)
	s.Greater(lead.Score, before)
	s.True(lead.Attributes.HasPrecatorio)
}

func (s *HandoffSuite) TestInbound_HandoffPhraseTransfers() {
	payload := model.NewInboundMessagePayload(&model.InboundMessagePayload{
		CompanyID: s.CompanyID,
		Phone:     "5531955554444",
		Text:      "quero falar com atendente por favor",
	})
	s.publish(string(model.V1MessagesUpsert), payload, payload.MessageID)

	s.Require().Eventually(func() bool {
		return s.countRows("conversations", "status = $1", string(model.StatusTransferred)) == 1
	}, 15*time.Second, 100*time.Millisecond)
	s.Equal(1, s.countRows("transfer_logs", "triggered_by <> $1", string(model.TriggeredByHuman)))
}
