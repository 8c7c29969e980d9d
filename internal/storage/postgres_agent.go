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

// UpsertAgent creates or updates an agent identified by AgentID.
func (r *PostgresRepo) UpsertAgent(ctx context.Context, agent model.Agent) (*model.Agent, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if agent.CompanyID != companyID {
		return nil, fmt.Errorf("%w: agent CompanyID %s does not match tenant ID %s", apperrors.ErrBadRequest, agent.CompanyID, companyID)
	}

	var stored model.Agent
	operation := func() error {
		return r.withTx(ctx, func(tx *gorm.DB) error {
			candidate := agent
			result := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "agent_id"}},
				DoUpdates: clause.AssignmentColumns(model.AgentUpdateColumns()),
			}).Create(&candidate)
			if result.Error != nil {
				return checkConstraintViolation(result.Error)
			}
			if err := tx.Where("agent_id = ? AND company_id = ?", agent.AgentID, companyID).First(&stored).Error; err != nil {
				return checkConstraintViolation(err)
			}
			return nil
		})
	}

	startTime := utils.Now()
	upsertErr := retryableOperation(ctx, newRetryPolicy(ctx, commitRetryMaxElapsedTime), "UpsertAgent", operation)
	observer.ObserveDbOperationDuration("upsert", "agent", companyID, time.Since(startTime), upsertErr)
	if upsertErr != nil {
		logger.FromContext(ctx).Error("Failed to upsert agent", zap.String("agent_id", agent.AgentID), zap.Error(upsertErr))
		return nil, upsertErr
	}
	return &stored, nil
}

// FindAgentByAgentID returns the agent with the given id.
func (r *PostgresRepo) FindAgentByAgentID(ctx context.Context, agentID string) (*model.Agent, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var agent model.Agent
	operation := func() error {
		result := r.db.WithContext(ctx).Where("agent_id = ? AND company_id = ?", agentID, companyID).First(&agent)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	startTime := utils.Now()
	findErr := retryableOperation(ctx, newRetryPolicy(ctx, readRetryMaxElapsedTime), "FindAgentByAgentID", operation)
	observer.ObserveDbOperationDuration("find", "agent", companyID, time.Since(startTime), findErr)
	if findErr != nil {
		if errors.Is(findErr, apperrors.ErrNotFound) {
			return nil, apperrors.ErrNotFound
		}
		logger.FromContext(ctx).Error("Failed to find agent after retries", zap.String("agent_id", agentID), zap.Error(findErr))
		return nil, findErr
	}
	return &agent, nil
}

// ListActiveAgents returns active agents ordered by id.
func (r *PostgresRepo) ListActiveAgents(ctx context.Context) ([]model.Agent, error) {
	companyID, err := companyFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var agents []model.Agent
	operation := func() error {
		result := r.db.WithContext(ctx).Where("company_id = ? AND active = ?", companyID, true).Order("agent_id ASC").Find(&agents)
		if result.Error != nil {
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil
	}

	startTime := utils.Now()
	findErr := retryableOperation(ctx, newRetryPolicy(ctx, readRetryMaxElapsedTime), "ListActiveAgents", operation)
	observer.ObserveDbOperationDuration("list", "agent", companyID, time.Since(startTime), findErr)
	if findErr != nil {
		return nil, findErr
	}
	return agents, nil
}
