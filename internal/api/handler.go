package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-wa-handoff/internal/apperrors"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/model"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/usecase"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/validator"
	"gitlab.com/timkado/api/daisi-wa-handoff/pkg/logger"
)

// Service is what the HTTP layer needs from the handoff service.
type Service interface {
	ApplyAction(ctx context.Context, cmd usecase.TransitionCommand) (*usecase.TransitionResult, error)
	GetQueue(ctx context.Context, filter model.QueueFilter) (*model.QueueView, error)
	TakeNext(ctx context.Context, agentID, actorID string) (*model.ClaimResult, error)
	ChangePriority(ctx context.Context, conversationID string, priority model.Priority) (*model.Conversation, error)
	RemoveFromQueue(ctx context.Context, conversationID, actorID string) (*usecase.TransitionResult, error)
	BatchAssign(ctx context.Context, conversationIDs, agentIDs []string, actorID string) ([]model.BatchAssignResult, error)
	Broadcast(ctx context.Context, req model.BroadcastRequest) (*model.BroadcastResult, error)
	HandleInbound(ctx context.Context, payload model.InboundMessagePayload) (*usecase.InboundResult, error)
	AdjustScore(ctx context.Context, leadID string, req model.ScoreAdjustmentRequest) (*usecase.ScoreUpdate, error)
	GetConversation(ctx context.Context, conversationID string) (*model.ConversationWithLead, error)
	ListTransfers(ctx context.Context, conversationID string) ([]model.TransferLog, error)
	ListScores(ctx context.Context, leadID string) ([]model.ScoreLog, error)
	UpsertAgent(ctx context.Context, agentID string, req model.UpsertAgentRequest) (*model.Agent, error)
}

var _ Service = (*usecase.HandoffService)(nil)

// Handler serves the handoff endpoints.
type Handler struct {
	service Service
}

// NewHandler creates the handler.
func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// bind decodes the JSON body into dst and runs the struct validation.
func bind(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		Error(c, http.StatusBadRequest, "invalid request body", err)
		return false
	}
	if err := validator.Validate(dst); err != nil {
		Error(c, http.StatusBadRequest, "validation failed", err)
		return false
	}
	return true
}

type queueQuery struct {
	Status       string `form:"status"`
	AssignedOnly bool   `form:"assignedOnly"`
	MyQueue      bool   `form:"myQueue"`
	AgentID      string `form:"agentId"`
}

// GetQueue handles GET /queue.
func (h *Handler) GetQueue(c *gin.Context) {
	var q queueQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		Error(c, http.StatusBadRequest, "invalid query", err)
		return
	}
	if q.Status != "" && q.Status != string(model.StatusTransferred) {
		Error(c, http.StatusBadRequest, "invalid query",
			fmt.Errorf("%w: only status=transferred is queued", apperrors.ErrValidation))
		return
	}
	if q.MyQueue && q.AgentID == "" {
		Error(c, http.StatusBadRequest, "invalid query",
			fmt.Errorf("%w: agentId is required with myQueue", apperrors.ErrValidation))
		return
	}

	view, err := h.service.GetQueue(c.Request.Context(), model.QueueFilter{
		AssignedOnly: q.AssignedOnly,
		MyQueue:      q.MyQueue,
		AgentID:      q.AgentID,
	})
	if err != nil {
		Fail(c, "failed to load queue", err)
		return
	}
	Success(c, http.StatusOK, "queue retrieved", view)
}

// QueueAction handles POST /queue.
func (h *Handler) QueueAction(c *gin.Context) {
	var req model.QueueActionRequest
	if !bind(c, &req) {
		return
	}
	ctx := c.Request.Context()

	switch req.Action {
	case model.QueueTakeNext:
		res, err := h.service.TakeNext(ctx, req.AgentID, req.ActorID)
		if err != nil {
			Fail(c, "failed to take next conversation", err)
			return
		}
		msg := "conversation claimed"
		if res.Empty {
			msg = "queue empty"
		}
		Success(c, http.StatusOK, msg, res)
	case model.QueueChangePriority:
		conv, err := h.service.ChangePriority(ctx, req.ConversationID, req.Priority)
		if err != nil {
			Fail(c, "failed to change priority", err)
			return
		}
		Success(c, http.StatusOK, "priority changed", conv)
	case model.QueueRemove:
		res, err := h.service.RemoveFromQueue(ctx, req.ConversationID, req.ActorID)
		if err != nil {
			Fail(c, "failed to remove from queue", err)
			return
		}
		Success(c, http.StatusOK, "removed from queue", res)
	case model.QueueBatchAssign:
		results, err := h.service.BatchAssign(ctx, req.ConversationIDs, req.AgentIDs, req.ActorID)
		if err != nil {
			Fail(c, "failed to batch assign", err)
			return
		}
		Success(c, http.StatusOK, "batch assign finished", results)
	}
}

// TransferAction handles POST /conversations/:id/transfer.
func (h *Handler) TransferAction(c *gin.Context) {
	var req model.TransferActionRequest
	if !bind(c, &req) {
		return
	}
	res, err := h.service.ApplyAction(c.Request.Context(), usecase.TransitionCommand{
		ConversationID: c.Param("id"),
		Action:         req.Action,
		Reason:         req.Reason,
		Priority:       req.Priority,
		AssignToAgent:  req.AssignToAgent,
		ActorID:        req.ActorID,
		TriggeredBy:    model.TriggeredByHuman,
	})
	if err != nil {
		Fail(c, "failed to apply "+req.Action, err)
		return
	}
	Success(c, http.StatusOK, req.Action+" applied", res)
}

// GetConversation handles GET /conversations/:id.
func (h *Handler) GetConversation(c *gin.Context) {
	conv, err := h.service.GetConversation(c.Request.Context(), c.Param("id"))
	if err != nil {
		Fail(c, "failed to load conversation", err)
		return
	}
	Success(c, http.StatusOK, "conversation retrieved", conv)
}

// ListTransfers handles GET /conversations/:id/transfers.
func (h *Handler) ListTransfers(c *gin.Context) {
	logs, err := h.service.ListTransfers(c.Request.Context(), c.Param("id"))
	if err != nil {
		Fail(c, "failed to load transfer history", err)
		return
	}
	Success(c, http.StatusOK, "transfer history retrieved", logs)
}

// Broadcast handles POST /broadcast/send.
func (h *Handler) Broadcast(c *gin.Context) {
	var req model.BroadcastRequest
	if !bind(c, &req) {
		return
	}
	res, err := h.service.Broadcast(c.Request.Context(), req)
	if err != nil {
		Fail(c, "broadcast rejected", err)
		return
	}
	logger.FromContext(c.Request.Context()).Info("Broadcast finished",
		zap.String("source", string(req.Source)),
		zap.Int("success", res.Success),
		zap.Int("failed", res.Failed),
	)
	Success(c, http.StatusOK, "broadcast finished", res)
}

// InboundWebhook handles POST /webhooks/messages.
func (h *Handler) InboundWebhook(c *gin.Context) {
	var payload model.InboundMessagePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		Error(c, http.StatusBadRequest, "invalid request body", err)
		return
	}
	res, err := h.service.HandleInbound(c.Request.Context(), payload)
	if err != nil {
		Fail(c, "failed to ingest message", err)
		return
	}
	if res.Duplicate {
		Success(c, http.StatusOK, "duplicate message ignored", res)
		return
	}
	Success(c, http.StatusAccepted, "message ingested", res)
}

// ListScores handles GET /leads/:id/scores.
func (h *Handler) ListScores(c *gin.Context) {
	logs, err := h.service.ListScores(c.Request.Context(), c.Param("id"))
	if err != nil {
		Fail(c, "failed to load score history", err)
		return
	}
	Success(c, http.StatusOK, "score history retrieved", logs)
}

// AdjustScore handles POST /leads/:id/score.
func (h *Handler) AdjustScore(c *gin.Context) {
	var req model.ScoreAdjustmentRequest
	if !bind(c, &req) {
		return
	}
	update, err := h.service.AdjustScore(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		Fail(c, "failed to adjust score", err)
		return
	}
	Success(c, http.StatusOK, "score updated to "+strconv.Itoa(update.Lead.Score), update)
}

// UpsertAgent handles PUT /agents/:agentId.
func (h *Handler) UpsertAgent(c *gin.Context) {
	var req model.UpsertAgentRequest
	if !bind(c, &req) {
		return
	}
	agent, err := h.service.UpsertAgent(c.Request.Context(), c.Param("agentId"), req)
	if err != nil {
		Fail(c, "failed to save agent", err)
		return
	}
	Success(c, http.StatusOK, "agent saved", agent)
}
