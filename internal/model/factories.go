package model

import (
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"gitlab.com/timkado/api/daisi-wa-handoff/pkg/utils"
)

// init ensures gofakeit is seeded.
func init() {
	gofakeit.Seed(time.Now().UnixNano())
}

// FakePhone returns a plausible Brazilian mobile number in canonical digits-only form.
func FakePhone() string {
	return fmt.Sprintf("55%02d9%08d", gofakeit.Number(11, 99), gofakeit.Number(10000000, 99999999))
}

// NewLead creates a Lead with fake data. Non-zero fields of the override replace the defaults.
func NewLead(overrideDefaults ...*Lead) *Lead {
	now := utils.Now()
	base := &Lead{
		LeadID:         gofakeit.UUID(),
		CompanyID:      "tenant_" + gofakeit.LetterN(10),
		Phone:          FakePhone(),
		Name:           gofakeit.Name(),
		Score:          0,
		Classification: ClassificationDiscard,
		Status:         LeadStatusNew,
		Version:        1,
		CreatedAt:      now.Add(-time.Duration(gofakeit.Number(1, 72)) * time.Hour),
		UpdatedAt:      now,
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.LeadID != "" {
			base.LeadID = ovr.LeadID
		}
		if ovr.CompanyID != "" {
			base.CompanyID = ovr.CompanyID
		}
		if ovr.Phone != "" {
			base.Phone = ovr.Phone
		}
		if ovr.Name != "" {
			base.Name = ovr.Name
		}
		if ovr.Score != 0 {
			base.Score = ovr.Score
		}
		if ovr.Classification != "" {
			base.Classification = ovr.Classification
		}
		if ovr.Status != "" {
			base.Status = ovr.Status
		}
		if ovr.Version != 0 {
			base.Version = ovr.Version
		}
		base.Attributes = ovr.Attributes
	}
	return base
}

// NewConversation creates an active, unassigned Conversation with fake data.
func NewConversation(overrideDefaults ...*Conversation) *Conversation {
	now := utils.Now()
	base := &Conversation{
		ConversationID: gofakeit.UUID(),
		CompanyID:      "tenant_" + gofakeit.LetterN(10),
		LeadID:         gofakeit.UUID(),
		Channel:        ChannelEvolution,
		ChannelRef:     "instance-" + gofakeit.LetterN(6),
		Status:         StatusActive,
		Version:        1,
		CreatedAt:      now.Add(-time.Duration(gofakeit.Number(5, 600)) * time.Minute),
		UpdatedAt:      now,
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ConversationID != "" {
			base.ConversationID = ovr.ConversationID
		}
		if ovr.CompanyID != "" {
			base.CompanyID = ovr.CompanyID
		}
		if ovr.LeadID != "" {
			base.LeadID = ovr.LeadID
		}
		if ovr.Channel != "" {
			base.Channel = ovr.Channel
		}
		if ovr.ChannelRef != "" {
			base.ChannelRef = ovr.ChannelRef
		}
		if ovr.Status != "" {
			base.Status = ovr.Status
		}
		if ovr.Priority != "" {
			base.Priority = ovr.Priority
		}
		if ovr.Version != 0 {
			base.Version = ovr.Version
		}
		if ovr.MessageCount != 0 {
			base.MessageCount = ovr.MessageCount
		}
		base.AssignedAgentID = ovr.AssignedAgentID
		base.AssignedAgentName = ovr.AssignedAgentName
		base.TransferredAt = ovr.TransferredAt
		base.LastMessageAt = ovr.LastMessageAt
		base.Metadata = ovr.Metadata
	}
	return base
}

// NewTransferredConversation creates an unassigned conversation waiting in the queue.
func NewTransferredConversation(priority Priority, transferredAt time.Time) *Conversation {
	c := NewConversation()
	c.Status = StatusTransferred
	c.Priority = priority
	c.TransferredAt = &transferredAt
	c.Metadata = ControlMetadata{
		Last: MetaTransfer,
		Transfer: &TransferMeta{
			TransferredAt: transferredAt,
			TransferredBy: "system",
			TriggeredBy:   TriggeredBySystem,
			Reason:        "test transfer",
			Priority:      priority,
		},
	}
	return c
}

// NewMessage creates an inbound text Message with fake data.
func NewMessage(overrideDefaults ...*Message) *Message {
	base := &Message{
		MessageID:      gofakeit.UUID(),
		ConversationID: gofakeit.UUID(),
		CompanyID:      "tenant_" + gofakeit.LetterN(10),
		Seq:            1,
		Sender:         SenderUser,
		Type:           MessageText,
		Text:           gofakeit.Sentence(8),
		SentAt:         utils.Now(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.MessageID != "" {
			base.MessageID = ovr.MessageID
		}
		if ovr.ConversationID != "" {
			base.ConversationID = ovr.ConversationID
		}
		if ovr.CompanyID != "" {
			base.CompanyID = ovr.CompanyID
		}
		if ovr.Seq != 0 {
			base.Seq = ovr.Seq
		}
		if ovr.Sender != "" {
			base.Sender = ovr.Sender
		}
		if ovr.Type != "" {
			base.Type = ovr.Type
		}
		if ovr.Text != "" {
			base.Text = ovr.Text
		}
		base.MediaURL = ovr.MediaURL
		if !ovr.SentAt.IsZero() {
			base.SentAt = ovr.SentAt
		}
	}
	return base
}

// NewAgent creates an active, online Agent with fake data.
func NewAgent(overrideDefaults ...*Agent) *Agent {
	base := &Agent{
		AgentID:   gofakeit.UUID(),
		AgentName: gofakeit.Name(),
		Email:     gofakeit.Email(),
		Status:    AgentOnline,
		Active:    true,
		CompanyID: "tenant_" + gofakeit.LetterN(10),
		CreatedAt: utils.Now().Add(-time.Duration(gofakeit.Number(1, 100)) * time.Hour),
		UpdatedAt: utils.Now(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.AgentID != "" {
			base.AgentID = ovr.AgentID
		}
		if ovr.AgentName != "" {
			base.AgentName = ovr.AgentName
		}
		if ovr.Email != "" {
			base.Email = ovr.Email
		}
		if ovr.Status != "" {
			base.Status = ovr.Status
		}
		if ovr.CompanyID != "" {
			base.CompanyID = ovr.CompanyID
		}
		base.Active = ovr.Active
	}
	return base
}

// NewTransferLog creates a TransferLog for an active → transferred move.
func NewTransferLog(overrideDefaults ...*TransferLog) *TransferLog {
	base := &TransferLog{
		LogID:                  gofakeit.UUID(),
		CompanyID:              "tenant_" + gofakeit.LetterN(10),
		ConversationID:         gofakeit.UUID(),
		LeadID:                 gofakeit.UUID(),
		FromStatus:             StatusActive,
		ToStatus:               StatusTransferred,
		Reason:                 gofakeit.Sentence(4),
		TriggeredBy:            TriggeredBySystem,
		ActorID:                "system",
		Priority:               PriorityMedium,
		ScoreSnapshot:          gofakeit.Number(0, 100),
		ClassificationSnapshot: ClassificationWarm,
		CreatedAt:              utils.Now(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.LogID != "" {
			base.LogID = ovr.LogID
		}
		if ovr.CompanyID != "" {
			base.CompanyID = ovr.CompanyID
		}
		if ovr.ConversationID != "" {
			base.ConversationID = ovr.ConversationID
		}
		if ovr.LeadID != "" {
			base.LeadID = ovr.LeadID
		}
		if ovr.FromStatus != "" {
			base.FromStatus = ovr.FromStatus
		}
		if ovr.ToStatus != "" {
			base.ToStatus = ovr.ToStatus
		}
		if ovr.Reason != "" {
			base.Reason = ovr.Reason
		}
		if ovr.TriggeredBy != "" {
			base.TriggeredBy = ovr.TriggeredBy
		}
	}
	return base
}

// NewScoreLog creates a ScoreLog with a single factor.
func NewScoreLog(overrideDefaults ...*ScoreLog) *ScoreLog {
	base := &ScoreLog{
		LogID:                  gofakeit.UUID(),
		CompanyID:              "tenant_" + gofakeit.LetterN(10),
		LeadID:                 gofakeit.UUID(),
		PreviousScore:          0,
		NewScore:               40,
		PreviousClassification: ClassificationDiscard,
		NewClassification:      ClassificationCold,
		Factors:                []ScoreFactor{{Factor: "has_precatorio", Points: 40}},
		TriggeredBy:            ScoreByAI,
		CreatedAt:              utils.Now(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.LogID != "" {
			base.LogID = ovr.LogID
		}
		if ovr.CompanyID != "" {
			base.CompanyID = ovr.CompanyID
		}
		if ovr.LeadID != "" {
			base.LeadID = ovr.LeadID
		}
		if ovr.TriggeredBy != "" {
			base.TriggeredBy = ovr.TriggeredBy
		}
		base.ConversationID = ovr.ConversationID
	}
	return base
}

// NewInboundMessagePayload creates a text message payload from a random customer.
func NewInboundMessagePayload(overrideDefaults ...*InboundMessagePayload) *InboundMessagePayload {
	base := &InboundMessagePayload{
		MessageID:  gofakeit.UUID(),
		CompanyID:  "tenant_" + gofakeit.LetterN(10),
		Channel:    ChannelEvolution,
		ChannelRef: "instance-" + gofakeit.LetterN(6),
		Phone:      "+" + FakePhone(),
		Name:       gofakeit.Name(),
		Type:       MessageText,
		Text:       gofakeit.Sentence(6),
		Timestamp:  utils.Now().Unix(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.MessageID != "" {
			base.MessageID = ovr.MessageID
		}
		if ovr.CompanyID != "" {
			base.CompanyID = ovr.CompanyID
		}
		if ovr.Channel != "" {
			base.Channel = ovr.Channel
		}
		if ovr.ChannelRef != "" {
			base.ChannelRef = ovr.ChannelRef
		}
		if ovr.Phone != "" {
			base.Phone = ovr.Phone
		}
		if ovr.Name != "" {
			base.Name = ovr.Name
		}
		if ovr.Type != "" {
			base.Type = ovr.Type
		}
		if ovr.Text != "" {
			base.Text = ovr.Text
		}
		base.MediaURL = ovr.MediaURL
		if ovr.Timestamp != 0 {
			base.Timestamp = ovr.Timestamp
		}
	}
	return base
}

// NewEnrichmentPayload creates an enrichment payload confirming a precatório above the value floor.
func NewEnrichmentPayload(overrideDefaults ...*EnrichmentPayload) *EnrichmentPayload {
	has := true
	value := float64(gofakeit.Number(15000, 500000))
	region := gofakeit.RandomString([]string{"SP", "RJ", "MG"})
	base := &EnrichmentPayload{
		Phone:         FakePhone(),
		CompanyID:     "tenant_" + gofakeit.LetterN(10),
		HasPrecatorio: &has,
		AssetValue:    &value,
		Region:        &region,
		Reasoning:     "court registry match",
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.LeadID != "" {
			base.LeadID = ovr.LeadID
		}
		if ovr.Phone != "" {
			base.Phone = ovr.Phone
		}
		if ovr.CompanyID != "" {
			base.CompanyID = ovr.CompanyID
		}
	}
	return base
}
