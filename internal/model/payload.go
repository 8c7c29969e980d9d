package model

// InboundMessagePayload is a customer message delivered by a provider gateway,
// either on NATS (v1.messages.upsert.<company>) or on the webhook.
type InboundMessagePayload struct {
	MessageID  string      `json:"message_id" validate:"required"`
	CompanyID  string      `json:"company_id" validate:"omitempty"`
	Channel    Channel     `json:"channel" validate:"required,oneof=evolution official"`
	ChannelRef string      `json:"channel_ref" validate:"omitempty"`
	Phone      string      `json:"phone" validate:"required,phone"`
	Name       string      `json:"name,omitempty" validate:"omitempty,max=200"`
	Type       MessageType `json:"type" validate:"omitempty,oneof=text image document audio video"`
	Text       string      `json:"text,omitempty" validate:"omitempty"`
	MediaURL   string      `json:"media_url,omitempty" validate:"omitempty,url"`
	Timestamp  int64       `json:"timestamp,omitempty" validate:"omitempty,gte=0"`
}

// EnrichmentPayload carries qualification data from an external enrichment source
// (v1.leads.enrichment.<company>). Nil attribute pointers leave the lead's value as is.
type EnrichmentPayload struct {
	LeadID        string   `json:"lead_id" validate:"required_without=Phone"`
	Phone         string   `json:"phone" validate:"required_without=LeadID,omitempty,phone"`
	CompanyID     string   `json:"company_id" validate:"omitempty"`
	HasPrecatorio *bool    `json:"has_precatorio,omitempty"`
	AssetValue    *float64 `json:"asset_value,omitempty" validate:"omitempty,gte=0"`
	Region        *string  `json:"region,omitempty" validate:"omitempty,max=40"`
	Eligible      *bool    `json:"eligible,omitempty"`
	Reasoning     string   `json:"reasoning,omitempty"`
}

// Attributes converts the set fields into LeadAttributes for merging.
func (p *EnrichmentPayload) Attributes() LeadAttributes {
	var a LeadAttributes
	if p.HasPrecatorio != nil {
		a.HasPrecatorio = *p.HasPrecatorio
	}
	if p.AssetValue != nil {
		a.AssetValue = *p.AssetValue
	}
	if p.Region != nil {
		a.Region = *p.Region
	}
	if p.Eligible != nil {
		a.Eligible = *p.Eligible
	}
	return a
}

// Transition actions accepted on the transfer action surface.
const (
	ActionTransfer = "transfer"
	ActionPause    = "pause"
	ActionResume   = "resume"
	ActionAssign   = "assign"
	ActionComplete = "complete"
	ActionDequeue  = "dequeue"
)

// TransferActionRequest is the body of POST /conversations/:id/transfer.
type TransferActionRequest struct {
	Action        string   `json:"action" validate:"required,oneof=transfer pause resume assign complete"`
	Reason        string   `json:"reason" validate:"omitempty,max=500"`
	Priority      Priority `json:"priority,omitempty" validate:"omitempty,oneof=high medium low"`
	AssignToAgent string   `json:"assignToAgent,omitempty" validate:"required_if=Action assign"`
	ActorID       string   `json:"actorId,omitempty" validate:"omitempty,max=100"`
}

// Queue actions accepted on POST /queue.
const (
	QueueTakeNext       = "take_next"
	QueueChangePriority = "change_priority"
	QueueRemove         = "remove_from_queue"
	QueueBatchAssign    = "batch_assign"
)

// QueueActionRequest is the body of POST /queue. Required fields depend on Action.
type QueueActionRequest struct {
	Action          string   `json:"action" validate:"required,oneof=take_next change_priority remove_from_queue batch_assign"`
	AgentID         string   `json:"agentId,omitempty" validate:"required_if=Action take_next"`
	ConversationID  string   `json:"conversationId,omitempty" validate:"required_if=Action change_priority,required_if=Action remove_from_queue"`
	Priority        Priority `json:"priority,omitempty" validate:"required_if=Action change_priority,omitempty,oneof=high medium low"`
	ConversationIDs []string `json:"conversationIds,omitempty" validate:"required_if=Action batch_assign,omitempty,max=500,dive,required"`
	AgentIDs        []string `json:"agentIds,omitempty" validate:"required_if=Action batch_assign,omitempty,dive,required"`
	ActorID         string   `json:"actorId,omitempty"`
}

// BroadcastRequest is the body of POST /broadcast/send. The recipient ceiling is enforced by the service.
type BroadcastRequest struct {
	Source            Channel  `json:"source" validate:"required,oneof=evolution official"`
	InstanceID        string   `json:"instanceId,omitempty" validate:"required_if=Source evolution"`
	OfficialAccountID string   `json:"officialAccountId,omitempty" validate:"required_if=Source official"`
	Message           string   `json:"message" validate:"required,max=4096"`
	Phones            []string `json:"phones" validate:"required,min=1"`
	AgentID           string   `json:"agentId,omitempty"`
}

// AccountRef returns the provider account the request targets.
func (r *BroadcastRequest) AccountRef() string {
	if r.Source == ChannelOfficial {
		return r.OfficialAccountID
	}
	return r.InstanceID
}

// Broadcast recipient statuses.
const (
	BroadcastSent   = "sent"
	BroadcastFailed = "failed"
)

// BroadcastDetail is the outcome for one recipient.
type BroadcastDetail struct {
	Phone             string `json:"phone"`
	NormalizedPhone   string `json:"normalizedPhone,omitempty"`
	Status            string `json:"status"`
	ProviderMessageID string `json:"providerMessageId,omitempty"`
	Error             string `json:"error,omitempty"`
}

// BroadcastResult summarises a broadcast run.
type BroadcastResult struct {
	Success int               `json:"success"`
	Failed  int               `json:"failed"`
	Details []BroadcastDetail `json:"details"`
}

// ScoreAdjustmentRequest is the body of POST /leads/:id/score. Exactly one of Delta or Score is set.
type ScoreAdjustmentRequest struct {
	Delta          *int         `json:"delta,omitempty" validate:"required_without=Score,omitempty,gte=-100,lte=100"`
	Score          *int         `json:"score,omitempty" validate:"required_without=Delta,omitempty,gte=0,lte=100"`
	TriggeredBy    ScoreTrigger `json:"triggeredBy" validate:"required,oneof=manual escavador-enrichment"`
	Reasoning      string       `json:"reasoning,omitempty" validate:"omitempty,max=1000"`
	ConversationID string       `json:"conversationId,omitempty"`
}

// UpsertAgentRequest is the body of PUT /agents/:agentId.
type UpsertAgentRequest struct {
	AgentName string `json:"agentName" validate:"required,max=200"`
	Email     string `json:"email,omitempty" validate:"omitempty,email"`
	Status    string `json:"status,omitempty" validate:"omitempty,oneof=online offline away"`
	Active    *bool  `json:"active,omitempty"`
}
