package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"gitlab.com/timkado/api/daisi-wa-handoff/internal/apperrors"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/model"
	"gitlab.com/timkado/api/daisi-wa-handoff/pkg/utils"
)

// MemoryRepo is an in-process Store. All operations run under one mutex, which gives the
// same conditional-write guarantees as the postgres statements. Returned values are copies.
type MemoryRepo struct {
	mu sync.Mutex

	leads         map[string]*model.Lead         // by lead id
	leadPhones    map[string]string              // company|phone -> lead id
	conversations map[string]*model.Conversation // by conversation id
	messages      map[string][]model.Message     // by conversation id, seq order
	messageIDs    map[string]model.Message       // by message id
	transferLogs  []model.TransferLog
	scoreLogs     []model.ScoreLog
	agents        map[string]*model.Agent // by agent id

	nextID int64
}

// NewMemoryRepo returns an empty in-memory store.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		leads:         make(map[string]*model.Lead),
		leadPhones:    make(map[string]string),
		conversations: make(map[string]*model.Conversation),
		messages:      make(map[string][]model.Message),
		messageIDs:    make(map[string]model.Message),
		agents:        make(map[string]*model.Agent),
	}
}

func (m *MemoryRepo) id() int64 {
	m.nextID++
	return m.nextID
}

func phoneKey(companyID, phone string) string {
	return companyID + "|" + phone
}

func (m *MemoryRepo) FindLeadByLeadID(ctx context.Context, leadID string) (*model.Lead, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	lead, ok := m.leads[leadID]
	if !ok || lead.CompanyID != companyID {
		return nil, apperrors.ErrNotFound
	}
	out := *lead
	return &out, nil
}

func (m *MemoryRepo) FindLeadByPhone(ctx context.Context, phone string) (*model.Lead, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	leadID, ok := m.leadPhones[phoneKey(companyID, phone)]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	out := *m.leads[leadID]
	return &out, nil
}

func (m *MemoryRepo) UpsertLead(ctx context.Context, lead model.Lead) (*model.Lead, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if lead.CompanyID != companyID {
		return nil, fmt.Errorf("%w: lead CompanyID %s does not match tenant ID %s", apperrors.ErrBadRequest, lead.CompanyID, companyID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if leadID, ok := m.leadPhones[phoneKey(companyID, lead.Phone)]; ok {
		stored := m.leads[leadID]
		if stored.Name == "" && lead.Name != "" {
			stored.Name = lead.Name
			stored.UpdatedAt = utils.Now()
		}
		out := *stored
		return &out, nil
	}
	if _, ok := m.leads[lead.LeadID]; ok {
		return nil, fmt.Errorf("%w: lead %s", apperrors.ErrDuplicate, lead.LeadID)
	}

	now := utils.Now()
	stored := lead
	stored.ID = m.id()
	if stored.Version == 0 {
		stored.Version = 1
	}
	if stored.Classification == "" {
		stored.Classification = model.ClassificationDiscard
	}
	if stored.Status == "" {
		stored.Status = model.LeadStatusNew
	}
	stored.CreatedAt, stored.UpdatedAt = now, now
	m.leads[stored.LeadID] = &stored
	m.leadPhones[phoneKey(companyID, stored.Phone)] = stored.LeadID
	out := stored
	return &out, nil
}

func (m *MemoryRepo) ApplyLeadScore(ctx context.Context, next model.Lead, expectedVersion int64, scoreLog *model.ScoreLog) (*model.Lead, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.leads[next.LeadID]
	if !ok || stored.CompanyID != companyID || stored.Version != expectedVersion {
		return nil, fmt.Errorf("%w: lead %s changed since version %d", apperrors.ErrConflict, next.LeadID, expectedVersion)
	}

	stored.Score = next.Score
	stored.Classification = next.Classification
	stored.Status = next.Status
	stored.Attributes = next.Attributes
	stored.Version++
	stored.UpdatedAt = utils.Now()
	if scoreLog != nil {
		entry := *scoreLog
		entry.ID = m.id()
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = stored.UpdatedAt
		}
		m.scoreLogs = append(m.scoreLogs, entry)
	}
	out := *stored
	return &out, nil
}

func (m *MemoryRepo) ListScoreLogs(ctx context.Context, leadID string) ([]model.ScoreLog, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.ScoreLog
	for _, l := range m.scoreLogs {
		if l.LeadID == leadID && l.CompanyID == companyID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *MemoryRepo) FindConversation(ctx context.Context, conversationID string) (*model.Conversation, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[conversationID]
	if !ok || conv.CompanyID != companyID {
		return nil, apperrors.ErrNotFound
	}
	return conv.Clone(), nil
}

func (m *MemoryRepo) FindOpenConversation(ctx context.Context, leadID string, channel model.Channel) (*model.Conversation, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if conv := m.openConversation(companyID, leadID, channel); conv != nil {
		return conv.Clone(), nil
	}
	return nil, apperrors.ErrNotFound
}

func (m *MemoryRepo) openConversation(companyID, leadID string, channel model.Channel) *model.Conversation {
	for _, conv := range m.conversations {
		if conv.CompanyID == companyID && conv.LeadID == leadID && conv.Channel == channel && conv.Status != model.StatusCompleted {
			return conv
		}
	}
	return nil
}

func (m *MemoryRepo) OpenConversation(ctx context.Context, conv model.Conversation) (*model.Conversation, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if conv.CompanyID != companyID {
		return nil, fmt.Errorf("%w: conversation CompanyID %s does not match tenant ID %s", apperrors.ErrBadRequest, conv.CompanyID, companyID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing := m.openConversation(companyID, conv.LeadID, conv.Channel); existing != nil {
		return existing.Clone(), nil
	}
	if _, ok := m.conversations[conv.ConversationID]; ok {
		return nil, fmt.Errorf("%w: conversation %s", apperrors.ErrDuplicate, conv.ConversationID)
	}

	now := utils.Now()
	stored := conv.Clone()
	stored.ID = m.id()
	if stored.Version == 0 {
		stored.Version = 1
	}
	if stored.Status == "" {
		stored.Status = model.StatusActive
	}
	stored.CreatedAt, stored.UpdatedAt = now, now
	m.conversations[stored.ConversationID] = stored
	return stored.Clone(), nil
}

func (m *MemoryRepo) SwapConversation(ctx context.Context, next model.Conversation, expectedVersion int64, transferLog *model.TransferLog) (*model.Conversation, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if next.IsAssigned() && next.Status != model.StatusTransferred {
		return nil, fmt.Errorf("%w: conversation %s cannot be assigned while %s", apperrors.ErrInvalidTransition, next.ConversationID, next.Status)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.conversations[next.ConversationID]
	if !ok || stored.CompanyID != companyID || stored.Version != expectedVersion {
		return nil, fmt.Errorf("%w: conversation %s changed since version %d", apperrors.ErrConflict, next.ConversationID, expectedVersion)
	}

	updated := stored.Clone()
	src := next.Clone()
	updated.Status = src.Status
	updated.AssignedAgentID = src.AssignedAgentID
	updated.AssignedAgentName = src.AssignedAgentName
	updated.Priority = src.Priority
	updated.TransferredAt = src.TransferredAt
	updated.Metadata = src.Metadata
	updated.Version++
	updated.UpdatedAt = utils.Now()
	m.conversations[updated.ConversationID] = updated

	if transferLog != nil {
		entry := *transferLog
		entry.ID = m.id()
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = updated.UpdatedAt
		}
		m.transferLogs = append(m.transferLogs, entry)
	}
	return updated.Clone(), nil
}

func applyAssign(conv *model.Conversation, assign model.AssignMeta) {
	conv.SetAssignee(assign.AgentID, assign.AgentName)
	meta := assign
	conv.Metadata.Assign = &meta
	conv.Metadata.Last = model.MetaAssign
	conv.Version++
	conv.UpdatedAt = assign.AssignedAt
}

func (m *MemoryRepo) ClaimNextConversation(ctx context.Context, assign model.AssignMeta) (*model.Conversation, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var waiting []*model.Conversation
	for _, conv := range m.conversations {
		if conv.CompanyID == companyID && conv.Status == model.StatusTransferred && !conv.IsAssigned() {
			waiting = append(waiting, conv)
		}
	}
	if len(waiting) == 0 {
		return nil, nil
	}
	sort.SliceStable(waiting, func(i, j int) bool {
		return queueLess(waiting[i], waiting[j])
	})

	head := waiting[0]
	applyAssign(head, assign)
	return head.Clone(), nil
}

func (m *MemoryRepo) AssignConversationIfUnassigned(ctx context.Context, conversationID string, assign model.AssignMeta) (*model.Conversation, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[conversationID]
	if !ok || conv.CompanyID != companyID {
		return nil, fmt.Errorf("%w: conversation %s", apperrors.ErrNotFound, conversationID)
	}
	if conv.IsAssigned() {
		return nil, fmt.Errorf("%w: conversation %s already assigned to %s", apperrors.ErrConflict, conversationID, conv.AssigneeID())
	}
	if conv.Status != model.StatusTransferred {
		return nil, fmt.Errorf("%w: conversation %s is %s", apperrors.ErrInvalidTransition, conversationID, conv.Status)
	}
	applyAssign(conv, assign)
	return conv.Clone(), nil
}

func (m *MemoryRepo) UpdateConversationPriority(ctx context.Context, conversationID string, priority model.Priority) (*model.Conversation, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if !priority.Valid() {
		return nil, fmt.Errorf("%w: unknown priority %q", apperrors.ErrBadRequest, priority)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[conversationID]
	if !ok || conv.CompanyID != companyID {
		return nil, fmt.Errorf("%w: conversation %s", apperrors.ErrNotFound, conversationID)
	}
	if conv.Status != model.StatusTransferred {
		return nil, fmt.Errorf("%w: conversation %s is %s, not in the queue", apperrors.ErrInvalidTransition, conversationID, conv.Status)
	}
	conv.Priority = priority
	if conv.Metadata.Transfer != nil {
		conv.Metadata.Transfer.Priority = priority
	}
	conv.Version++
	conv.UpdatedAt = utils.Now()
	return conv.Clone(), nil
}

func (m *MemoryRepo) ListTransferredConversations(ctx context.Context, filter model.QueueFilter) ([]model.TransferredRow, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var convs []*model.Conversation
	for _, conv := range m.conversations {
		if conv.CompanyID != companyID || conv.Status != model.StatusTransferred {
			continue
		}
		switch {
		case filter.MyQueue && conv.AssigneeID() != filter.AgentID:
			continue
		case filter.AssignedOnly && !conv.IsAssigned():
			continue
		}
		convs = append(convs, conv)
	}
	sort.SliceStable(convs, func(i, j int) bool {
		return queueLess(convs[i], convs[j])
	})

	rows := make([]model.TransferredRow, 0, len(convs))
	for _, conv := range convs {
		row := model.TransferredRow{Conversation: *conv.Clone(), Lead: model.Lead{LeadID: conv.LeadID}}
		if lead, ok := m.leads[conv.LeadID]; ok {
			row.Lead = *lead
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// queueLess mirrors queueOrderSQL.
func queueLess(a, b *model.Conversation) bool {
	if ra, rb := a.Priority.Rank(), b.Priority.Rank(); ra != rb {
		return ra > rb
	}
	ta, tb := a.TransferredAt, b.TransferredAt
	switch {
	case ta != nil && tb != nil && !ta.Equal(*tb):
		return ta.Before(*tb)
	case ta == nil && tb != nil:
		return false
	case ta != nil && tb == nil:
		return true
	}
	return a.ID < b.ID
}

func (m *MemoryRepo) ListTransferLogs(ctx context.Context, conversationID string) ([]model.TransferLog, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.TransferLog
	for _, l := range m.transferLogs {
		if l.ConversationID == conversationID && l.CompanyID == companyID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *MemoryRepo) AppendMessage(ctx context.Context, msg model.Message) (*model.Message, bool, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, false, err
	}
	if msg.CompanyID != companyID {
		return nil, false, fmt.Errorf("%w: message CompanyID %s does not match tenant ID %s", apperrors.ErrBadRequest, msg.CompanyID, companyID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.messageIDs[msg.MessageID]; ok {
		return &existing, false, nil
	}
	conv, ok := m.conversations[msg.ConversationID]
	if !ok || conv.CompanyID != companyID {
		return nil, false, fmt.Errorf("%w: conversation %s", apperrors.ErrNotFound, msg.ConversationID)
	}

	now := utils.Now()
	conv.MessageCount++
	sentAt := msg.SentAt
	conv.LastMessageAt = &sentAt
	conv.UpdatedAt = now

	stored := msg
	stored.ID = m.id()
	stored.Seq = conv.MessageCount
	stored.CreatedAt = now
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], stored)
	m.messageIDs[msg.MessageID] = stored
	out := stored
	return &out, true, nil
}

func (m *MemoryRepo) ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultRecentMessages
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	all := m.messages[conversationID]
	var out []model.Message
	for _, msg := range all {
		if msg.CompanyID == companyID {
			out = append(out, msg)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return append([]model.Message(nil), out...), nil
}

func (m *MemoryRepo) UpsertAgent(ctx context.Context, agent model.Agent) (*model.Agent, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if agent.CompanyID != companyID {
		return nil, fmt.Errorf("%w: agent CompanyID %s does not match tenant ID %s", apperrors.ErrBadRequest, agent.CompanyID, companyID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := utils.Now()
	if stored, ok := m.agents[agent.AgentID]; ok {
		stored.AgentName = agent.AgentName
		stored.Email = agent.Email
		stored.Status = agent.Status
		stored.Active = agent.Active
		stored.UpdatedAt = now
		out := *stored
		return &out, nil
	}

	stored := agent
	stored.ID = m.id()
	if stored.Status == "" {
		stored.Status = model.AgentOffline
	}
	stored.CreatedAt, stored.UpdatedAt = now, now
	m.agents[stored.AgentID] = &stored
	out := stored
	return &out, nil
}

func (m *MemoryRepo) FindAgentByAgentID(ctx context.Context, agentID string) (*model.Agent, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	agent, ok := m.agents[agentID]
	if !ok || agent.CompanyID != companyID {
		return nil, apperrors.ErrNotFound
	}
	out := *agent
	return &out, nil
}

func (m *MemoryRepo) ListActiveAgents(ctx context.Context) ([]model.Agent, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.Agent
	for _, a := range m.agents {
		if a.Active && a.CompanyID == companyID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out, nil
}

// Ping always succeeds.
func (m *MemoryRepo) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op.
func (m *MemoryRepo) Close(ctx context.Context) error {
	return nil
}

var (
	_ Store = (*MemoryRepo)(nil)
	_ Store = (*PostgresRepo)(nil)
)
