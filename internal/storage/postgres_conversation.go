package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gitlab.com/timkado/api/daisi-wa-handoff/internal/apperrors"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/model"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/observer"
	"gitlab.com/timkado/api/daisi-wa-handoff/pkg/logger"
	"gitlab.com/timkado/api/daisi-wa-handoff/pkg/utils"
)

// FindConversation returns the conversation with the given id.
func (r *PostgresRepo) FindConversation(ctx context.Context, conversationID string) (*model.Conversation, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, err
	}
	return r.findConversation(ctx, "FindConversation", companyID, "conversation_id = ? AND company_id = ?", conversationID, companyID)
}

// FindOpenConversation returns the lead's non-completed conversation on channel.
func (r *PostgresRepo) FindOpenConversation(ctx context.Context, leadID string, channel model.Channel) (*model.Conversation, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, err
	}
	return r.findConversation(ctx, "FindOpenConversation", companyID,
		"lead_id = ? AND channel = ? AND company_id = ? AND status <> ?", leadID, channel, companyID, model.StatusCompleted)
}

func (r *PostgresRepo) findConversation(ctx context.Context, opName, companyID, where string, args ...interface{}) (*model.Conversation, error) {
	var conv model.Conversation
	operation := func() error {
		result := r.db.WithContext(ctx).Where(where, args...).First(&conv)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	startTime := utils.Now()
	findErr := retryableOperation(ctx, newRetryPolicy(ctx, readRetryMaxElapsedTime), opName, operation)
	observer.ObserveDbOperationDuration("find", "conversation", companyID, time.Since(startTime), findErr)
	if findErr != nil {
		if errors.Is(findErr, apperrors.ErrNotFound) {
			return nil, apperrors.ErrNotFound
		}
		logger.FromContext(ctx).Error("Failed to find conversation after retries", zap.String("operation", opName), zap.Error(findErr))
		return nil, findErr
	}
	return &conv, nil
}

// OpenConversation inserts conv, or returns the conversation already open for the same lead and channel.
func (r *PostgresRepo) OpenConversation(ctx context.Context, conv model.Conversation) (*model.Conversation, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if conv.CompanyID != companyID {
		return nil, fmt.Errorf("%w: conversation CompanyID %s does not match tenant ID %s", apperrors.ErrBadRequest, conv.CompanyID, companyID)
	}

	candidate := conv
	inserted := false
	operation := func() error {
		result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "lead_id"}, {Name: "channel"}},
			TargetWhere: clause.Where{Exprs: []clause.Expression{
				clause.Expr{SQL: "status <> 'completed'"},
			}},
			DoNothing: true,
		}).Create(&candidate)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		inserted = result.RowsAffected == 1
		return nil
	}

	startTime := utils.Now()
	openErr := retryableOperation(ctx, newRetryPolicy(ctx, commitRetryMaxElapsedTime), "OpenConversation", operation)
	observer.ObserveDbOperationDuration("open", "conversation", companyID, time.Since(startTime), openErr)
	if openErr != nil {
		logger.FromContext(ctx).Error("Failed to open conversation", zap.String("lead_id", conv.LeadID), zap.Error(openErr))
		return nil, openErr
	}
	if inserted {
		return &candidate, nil
	}
	return r.FindOpenConversation(ctx, conv.LeadID, conv.Channel)
}

// SwapConversation writes the control columns of next if the stored row still has
// expectedVersion. transferLog is inserted in the same transaction. A stale version
// returns ErrConflict and nothing is written.
func (r *PostgresRepo) SwapConversation(ctx context.Context, next model.Conversation, expectedVersion int64, transferLog *model.TransferLog) (*model.Conversation, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if next.IsAssigned() && next.Status != model.StatusTransferred {
		return nil, fmt.Errorf("%w: conversation %s cannot be assigned while %s", apperrors.ErrInvalidTransition, next.ConversationID, next.Status)
	}

	now := utils.Now()
	operation := func() error {
		return r.withTx(ctx, func(tx *gorm.DB) error {
			result := tx.Model(&model.Conversation{}).
				Where("conversation_id = ? AND company_id = ? AND version = ?", next.ConversationID, companyID, expectedVersion).
				Updates(map[string]interface{}{
					"status":              next.Status,
					"assigned_agent_id":   next.AssignedAgentID,
					"assigned_agent_name": next.AssignedAgentName,
					"priority":            next.Priority,
					"transferred_at":      next.TransferredAt,
					"metadata":            next.Metadata,
					"version":             gorm.Expr("version + 1"),
					"updated_at":          now,
				})
			if result.Error != nil {
				return checkConstraintViolation(result.Error)
			}
			if result.RowsAffected == 0 {
				return fmt.Errorf("%w: conversation %s changed since version %d", apperrors.ErrConflict, next.ConversationID, expectedVersion)
			}
			if transferLog != nil {
				if err := tx.Create(transferLog).Error; err != nil {
					return checkConstraintViolation(err)
				}
			}
			return nil
		})
	}

	startTime := utils.Now()
	swapErr := retryableOperation(ctx, newRetryPolicy(ctx, commitRetryMaxElapsedTime), "SwapConversation", operation)
	observer.ObserveDbOperationDuration("swap", "conversation", companyID, time.Since(startTime), swapErr)
	if swapErr != nil {
		if !errors.Is(swapErr, apperrors.ErrConflict) {
			logger.FromContext(ctx).Error("Failed to swap conversation", zap.String("conversation_id", next.ConversationID), zap.Error(swapErr))
		}
		return nil, swapErr
	}

	out := next.Clone()
	out.Version = expectedVersion + 1
	out.UpdatedAt = now
	return out, nil
}

// ClaimNextConversation assigns the head of the queue to assign.AgentID in one statement.
// Concurrent claimers skip rows locked by each other, so each waiting conversation is
// handed out once. It returns nil, nil when the queue is empty.
func (r *PostgresRepo) ClaimNextConversation(ctx context.Context, assign model.AssignMeta) (*model.Conversation, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, err
	}

	conversations := r.table("conversations")
	query := fmt.Sprintf(`UPDATE %[1]s SET
  assigned_agent_id = ?,
  assigned_agent_name = ?,
  metadata = COALESCE(metadata, '{}'::jsonb) || jsonb_build_object('assign', ?::jsonb, 'last', 'assign'),
  version = version + 1,
  updated_at = ?
WHERE id = (
  SELECT id FROM %[1]s
  WHERE company_id = ? AND status = 'transferred' AND assigned_agent_id IS NULL
  ORDER BY %[2]s
  LIMIT 1
  FOR UPDATE SKIP LOCKED
) AND assigned_agent_id IS NULL
RETURNING *`, conversations, queueOrderSQL)

	var claimed []model.Conversation
	operation := func() error {
		claimed = claimed[:0]
		result := r.db.WithContext(ctx).Raw(query,
			assign.AgentID, assign.AgentName, string(utils.MustMarshalJSON(assign)), assign.AssignedAt, companyID,
		).Scan(&claimed)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	startTime := utils.Now()
	claimErr := retryableOperation(ctx, newRetryPolicy(ctx, commitRetryMaxElapsedTime), "ClaimNextConversation", operation)
	observer.ObserveDbOperationDuration("claim", "conversation", companyID, time.Since(startTime), claimErr)
	if claimErr != nil {
		logger.FromContext(ctx).Error("Failed to claim next conversation", zap.String("agent_id", assign.AgentID), zap.Error(claimErr))
		return nil, claimErr
	}
	if len(claimed) == 0 {
		return nil, nil
	}
	return &claimed[0], nil
}

// AssignConversationIfUnassigned assigns a transferred conversation that has no owner yet.
// It returns ErrNotFound for an unknown id, ErrConflict when someone already owns it and
// ErrInvalidTransition when it is not waiting in the queue.
func (r *PostgresRepo) AssignConversationIfUnassigned(ctx context.Context, conversationID string, assign model.AssignMeta) (*model.Conversation, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var assigned model.Conversation
	operation := func() error {
		return r.withTx(ctx, func(tx *gorm.DB) error {
			result := tx.Model(&model.Conversation{}).
				Where("conversation_id = ? AND company_id = ? AND status = ? AND assigned_agent_id IS NULL",
					conversationID, companyID, model.StatusTransferred).
				Updates(map[string]interface{}{
					"assigned_agent_id":   assign.AgentID,
					"assigned_agent_name": assign.AgentName,
					"metadata": gorm.Expr("COALESCE(metadata, '{}'::jsonb) || jsonb_build_object('assign', ?::jsonb, 'last', 'assign')",
						string(utils.MustMarshalJSON(assign))),
					"version":    gorm.Expr("version + 1"),
					"updated_at": assign.AssignedAt,
				})
			if result.Error != nil {
				return checkConstraintViolation(result.Error)
			}

			if err := tx.Where("conversation_id = ? AND company_id = ?", conversationID, companyID).First(&assigned).Error; err != nil {
				return checkConstraintViolation(err)
			}
			if result.RowsAffected == 1 {
				return nil
			}
			if assigned.IsAssigned() {
				return fmt.Errorf("%w: conversation %s already assigned to %s", apperrors.ErrConflict, conversationID, assigned.AssigneeID())
			}
			return fmt.Errorf("%w: conversation %s is %s", apperrors.ErrInvalidTransition, conversationID, assigned.Status)
		})
	}

	startTime := utils.Now()
	assignErr := retryableOperation(ctx, newRetryPolicy(ctx, commitRetryMaxElapsedTime), "AssignConversationIfUnassigned", operation)
	observer.ObserveDbOperationDuration("assign", "conversation", companyID, time.Since(startTime), assignErr)
	if assignErr != nil {
		return nil, assignErr
	}
	return &assigned, nil
}

// UpdateConversationPriority changes the priority of a transferred conversation,
// keeping metadata.transfer.priority in step.
func (r *PostgresRepo) UpdateConversationPriority(ctx context.Context, conversationID string, priority model.Priority) (*model.Conversation, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if !priority.Valid() {
		return nil, fmt.Errorf("%w: unknown priority %q", apperrors.ErrBadRequest, priority)
	}

	var updated model.Conversation
	operation := func() error {
		return r.withTx(ctx, func(tx *gorm.DB) error {
			result := tx.Model(&model.Conversation{}).
				Where("conversation_id = ? AND company_id = ? AND status = ?", conversationID, companyID, model.StatusTransferred).
				Updates(map[string]interface{}{
					"priority":   priority,
					"metadata":   gorm.Expr("jsonb_set(COALESCE(metadata, '{}'::jsonb), '{transfer,priority}', to_jsonb(?::text))", string(priority)),
					"version":    gorm.Expr("version + 1"),
					"updated_at": utils.Now(),
				})
			if result.Error != nil {
				return checkConstraintViolation(result.Error)
			}
			if err := tx.Where("conversation_id = ? AND company_id = ?", conversationID, companyID).First(&updated).Error; err != nil {
				return checkConstraintViolation(err)
			}
			if result.RowsAffected == 0 {
				return fmt.Errorf("%w: conversation %s is %s, not in the queue", apperrors.ErrInvalidTransition, conversationID, updated.Status)
			}
			return nil
		})
	}

	startTime := utils.Now()
	updateErr := retryableOperation(ctx, newRetryPolicy(ctx, commitRetryMaxElapsedTime), "UpdateConversationPriority", operation)
	observer.ObserveDbOperationDuration("update_priority", "conversation", companyID, time.Since(startTime), updateErr)
	if updateErr != nil {
		return nil, updateErr
	}
	return &updated, nil
}

// ListTransferredConversations returns transferred conversations with their leads, in queue order.
func (r *PostgresRepo) ListTransferredConversations(ctx context.Context, filter model.QueueFilter) ([]model.TransferredRow, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var rows []model.TransferredRow
	operation := func() error {
		var convs []model.Conversation
		query := r.db.WithContext(ctx).Where("company_id = ? AND status = ?", companyID, model.StatusTransferred)
		switch {
		case filter.MyQueue:
			query = query.Where("assigned_agent_id = ?", filter.AgentID)
		case filter.AssignedOnly:
			query = query.Where("assigned_agent_id IS NOT NULL")
		}
		if err := query.Order(queueOrderSQL).Find(&convs).Error; err != nil {
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, err)
		}
		if len(convs) == 0 {
			rows = nil
			return nil
		}

		leadIDs := make([]string, 0, len(convs))
		for _, c := range convs {
			leadIDs = append(leadIDs, c.LeadID)
		}
		var leads []model.Lead
		if err := r.db.WithContext(ctx).Where("company_id = ? AND lead_id IN ?", companyID, leadIDs).Find(&leads).Error; err != nil {
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, err)
		}
		byID := make(map[string]model.Lead, len(leads))
		for _, l := range leads {
			byID[l.LeadID] = l
		}

		rows = make([]model.TransferredRow, 0, len(convs))
		for _, c := range convs {
			lead, ok := byID[c.LeadID]
			if !ok {
				logger.FromContext(ctx).Warn("Transferred conversation has no lead", zap.String("conversation_id", c.ConversationID))
				lead = model.Lead{LeadID: c.LeadID}
			}
			rows = append(rows, model.TransferredRow{Conversation: c, Lead: lead})
		}
		return nil
	}

	startTime := utils.Now()
	listErr := retryableOperation(ctx, newRetryPolicy(ctx, readRetryMaxElapsedTime), "ListTransferredConversations", operation)
	observer.ObserveDbOperationDuration("list_transferred", "conversation", companyID, time.Since(startTime), listErr)
	if listErr != nil {
		logger.FromContext(ctx).Error("Failed to list transferred conversations", zap.Error(listErr))
		return nil, listErr
	}
	return rows, nil
}

// ListTransferLogs returns the transfer history of a conversation, oldest first.
func (r *PostgresRepo) ListTransferLogs(ctx context.Context, conversationID string) ([]model.TransferLog, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var logs []model.TransferLog
	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("conversation_id = ? AND company_id = ?", conversationID, companyID).
			Order("created_at ASC, id ASC").
			Find(&logs)
		if result.Error != nil {
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil
	}

	startTime := utils.Now()
	findErr := retryableOperation(ctx, newRetryPolicy(ctx, readRetryMaxElapsedTime), "ListTransferLogs", operation)
	observer.ObserveDbOperationDuration("list", "transfer_log", companyID, time.Since(startTime), findErr)
	if findErr != nil {
		return nil, findErr
	}
	return logs, nil
}
