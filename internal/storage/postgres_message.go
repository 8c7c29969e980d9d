package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"gitlab.com/timkado/api/daisi-wa-handoff/internal/apperrors"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/model"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/observer"
	"gitlab.com/timkado/api/daisi-wa-handoff/pkg/logger"
	"gitlab.com/timkado/api/daisi-wa-handoff/pkg/utils"
)

// AppendMessage stores msg with the next sequence number of its conversation. The sequence
// comes from incrementing conversations.message_count in the same transaction. A message id
// that is already stored is not inserted again; the stored row is returned with created=false.
func (r *PostgresRepo) AppendMessage(ctx context.Context, msg model.Message) (*model.Message, bool, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, false, err
	}
	if msg.CompanyID != companyID {
		return nil, false, fmt.Errorf("%w: message CompanyID %s does not match tenant ID %s", apperrors.ErrBadRequest, msg.CompanyID, companyID)
	}

	conversations := r.table("conversations")
	var stored model.Message
	created := false
	operation := func() error {
		created = false
		return r.withTx(ctx, func(tx *gorm.DB) error {
			existing := tx.Where("message_id = ? AND company_id = ?", msg.MessageID, companyID).Limit(1).Find(&stored)
			if existing.Error != nil {
				return checkConstraintViolation(existing.Error)
			}
			if existing.RowsAffected > 0 {
				return nil
			}

			var seq []int64
			bump := tx.Raw(fmt.Sprintf(
				"UPDATE %s SET message_count = message_count + 1, last_message_at = ?, updated_at = ? WHERE conversation_id = ? AND company_id = ? RETURNING message_count",
				conversations), msg.SentAt, utils.Now(), msg.ConversationID, companyID).Scan(&seq)
			if bump.Error != nil {
				return checkConstraintViolation(bump.Error)
			}
			if len(seq) == 0 {
				return fmt.Errorf("%w: conversation %s", apperrors.ErrNotFound, msg.ConversationID)
			}

			stored = msg
			stored.Seq = seq[0]
			if err := tx.Create(&stored).Error; err != nil {
				return checkConstraintViolation(err)
			}
			created = true
			return nil
		})
	}

	startTime := utils.Now()
	appendErr := retryableOperation(ctx, newRetryPolicy(ctx, commitRetryMaxElapsedTime), "AppendMessage", operation)
	observer.ObserveDbOperationDuration("append", "message", companyID, time.Since(startTime), appendErr)
	if appendErr != nil {
		if errors.Is(appendErr, apperrors.ErrDuplicate) {
			// Lost an insert race on the same message id.
			var winner model.Message
			if err := r.db.WithContext(ctx).Where("message_id = ? AND company_id = ?", msg.MessageID, companyID).First(&winner).Error; err == nil {
				return &winner, false, nil
			}
		}
		logger.FromContext(ctx).Error("Failed to append message",
			zap.String("message_id", msg.MessageID),
			zap.String("conversation_id", msg.ConversationID),
			zap.Error(appendErr),
		)
		return nil, false, appendErr
	}
	return &stored, created, nil
}

// ListRecentMessages returns up to limit latest messages of a conversation in sequence order.
func (r *PostgresRepo) ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultRecentMessages
	}

	var messages []model.Message
	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("conversation_id = ? AND company_id = ?", conversationID, companyID).
			Order("seq DESC").
			Limit(limit).
			Find(&messages)
		if result.Error != nil {
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil
	}

	startTime := utils.Now()
	findErr := retryableOperation(ctx, newRetryPolicy(ctx, readRetryMaxElapsedTime), "ListRecentMessages", operation)
	observer.ObserveDbOperationDuration("list", "message", companyID, time.Since(startTime), findErr)
	if findErr != nil {
		return nil, findErr
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}
