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

// FindLeadByLeadID returns the lead with the given id.
func (r *PostgresRepo) FindLeadByLeadID(ctx context.Context, leadID string) (*model.Lead, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, err
	}
	return r.findLead(ctx, "FindLeadByLeadID", companyID, "lead_id = ? AND company_id = ?", leadID, companyID)
}

// FindLeadByPhone returns the lead with the given canonical phone.
func (r *PostgresRepo) FindLeadByPhone(ctx context.Context, phone string) (*model.Lead, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, err
	}
	return r.findLead(ctx, "FindLeadByPhone", companyID, "phone = ? AND company_id = ?", phone, companyID)
}

func (r *PostgresRepo) findLead(ctx context.Context, opName, companyID, where string, args ...interface{}) (*model.Lead, error) {
	var lead model.Lead
	operation := func() error {
		result := r.db.WithContext(ctx).Where(where, args...).First(&lead)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	startTime := utils.Now()
	findErr := retryableOperation(ctx, newRetryPolicy(ctx, readRetryMaxElapsedTime), opName, operation)
	observer.ObserveDbOperationDuration("find", "lead", companyID, time.Since(startTime), findErr)
	if findErr != nil {
		if errors.Is(findErr, apperrors.ErrNotFound) {
			return nil, apperrors.ErrNotFound
		}
		logger.FromContext(ctx).Error("Failed to find lead after retries", zap.String("operation", opName), zap.Error(findErr))
		return nil, findErr
	}
	return &lead, nil
}

// UpsertLead inserts a lead keyed by (company_id, phone) or returns the existing one.
// An existing lead only picks up a name when it had none.
func (r *PostgresRepo) UpsertLead(ctx context.Context, lead model.Lead) (*model.Lead, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if lead.CompanyID != companyID {
		return nil, fmt.Errorf("%w: lead CompanyID %s does not match tenant ID %s", apperrors.ErrBadRequest, lead.CompanyID, companyID)
	}

	var stored model.Lead
	operation := func() error {
		return r.withTx(ctx, func(tx *gorm.DB) error {
			candidate := lead
			result := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "company_id"}, {Name: "phone"}},
				DoNothing: true,
			}).Create(&candidate)
			if result.Error != nil {
				return checkConstraintViolation(result.Error)
			}
			if result.RowsAffected == 1 {
				stored = candidate
				return nil
			}

			if err := tx.Where("phone = ? AND company_id = ?", lead.Phone, companyID).First(&stored).Error; err != nil {
				return checkConstraintViolation(err)
			}
			if stored.Name == "" && lead.Name != "" {
				if err := tx.Model(&model.Lead{}).
					Where("lead_id = ? AND company_id = ?", stored.LeadID, companyID).
					Updates(map[string]interface{}{"name": lead.Name, "updated_at": utils.Now()}).Error; err != nil {
					return checkConstraintViolation(err)
				}
				stored.Name = lead.Name
			}
			return nil
		})
	}

	startTime := utils.Now()
	upsertErr := retryableOperation(ctx, newRetryPolicy(ctx, commitRetryMaxElapsedTime), "UpsertLead", operation)
	observer.ObserveDbOperationDuration("upsert", "lead", companyID, time.Since(startTime), upsertErr)
	if upsertErr != nil {
		logger.FromContext(ctx).Error("Failed to upsert lead", zap.String("phone", utils.MaskPhone(lead.Phone)), zap.Error(upsertErr))
		return nil, upsertErr
	}
	return &stored, nil
}

// ApplyLeadScore writes next if the stored lead still has expectedVersion, and appends
// scoreLog in the same transaction. A lost race returns ErrConflict with nothing written.
func (r *PostgresRepo) ApplyLeadScore(ctx context.Context, next model.Lead, expectedVersion int64, scoreLog *model.ScoreLog) (*model.Lead, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, err
	}

	now := utils.Now()
	operation := func() error {
		return r.withTx(ctx, func(tx *gorm.DB) error {
			result := tx.Model(&model.Lead{}).
				Where("lead_id = ? AND company_id = ? AND version = ?", next.LeadID, companyID, expectedVersion).
				Updates(map[string]interface{}{
					"score":              next.Score,
					"classification":     next.Classification,
					"status":             next.Status,
					"has_precatorio":     next.Attributes.HasPrecatorio,
					"asset_value":        next.Attributes.AssetValue,
					"region":             next.Attributes.Region,
					"urgency":            next.Attributes.Urgency,
					"documents_received": next.Attributes.DocumentsReceived,
					"interested":         next.Attributes.Interested,
					"eligible":           next.Attributes.Eligible,
					"version":            gorm.Expr("version + 1"),
					"updated_at":         now,
				})
			if result.Error != nil {
				return checkConstraintViolation(result.Error)
			}
			if result.RowsAffected == 0 {
				return fmt.Errorf("%w: lead %s changed since version %d", apperrors.ErrConflict, next.LeadID, expectedVersion)
			}
			if scoreLog != nil {
				if err := tx.Create(scoreLog).Error; err != nil {
					return checkConstraintViolation(err)
				}
			}
			return nil
		})
	}

	startTime := utils.Now()
	applyErr := retryableOperation(ctx, newRetryPolicy(ctx, commitRetryMaxElapsedTime), "ApplyLeadScore", operation)
	observer.ObserveDbOperationDuration("apply_score", "lead", companyID, time.Since(startTime), applyErr)
	if applyErr != nil {
		if !errors.Is(applyErr, apperrors.ErrConflict) {
			logger.FromContext(ctx).Error("Failed to apply lead score", zap.String("lead_id", next.LeadID), zap.Error(applyErr))
		}
		return nil, applyErr
	}

	next.Version = expectedVersion + 1
	next.UpdatedAt = now
	return &next, nil
}

// ListScoreLogs returns a lead's score history, oldest first.
func (r *PostgresRepo) ListScoreLogs(ctx context.Context, leadID string) ([]model.ScoreLog, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var logs []model.ScoreLog
	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("lead_id = ? AND company_id = ?", leadID, companyID).
			Order("created_at ASC, id ASC").
			Find(&logs)
		if result.Error != nil {
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil
	}

	startTime := utils.Now()
	findErr := retryableOperation(ctx, newRetryPolicy(ctx, readRetryMaxElapsedTime), "ListScoreLogs", operation)
	observer.ObserveDbOperationDuration("list", "score_log", companyID, time.Since(startTime), findErr)
	if findErr != nil {
		return nil, findErr
	}
	return logs, nil
}
