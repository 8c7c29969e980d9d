package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-wa-handoff/internal/config"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/observer"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/tenant"
	"gitlab.com/timkado/api/daisi-wa-handoff/pkg/logger"
)

// ScoringTask asks for an AI rescoring pass after an inbound message.
type ScoringTask struct {
	Ctx            context.Context // detached from the request, carries tenant and request ids
	CompanyID      string
	LeadID         string
	ConversationID string
	MessageID      string
}

// ScoringHandler runs one task. HandoffService.RescoreWithReasoning is the production handler.
type ScoringHandler func(task ScoringTask) error

// IScoringWorker defines the interface for the AI rescoring pool.
type IScoringWorker interface {
	SubmitTask(task ScoringTask) error
	Stop()
}

// ScoringWorker runs AI rescoring off the ingestion path on an ants pool.
type ScoringWorker struct {
	pool       *ants.PoolWithFunc
	handler    ScoringHandler
	cfg        config.WorkerPoolConfig
	baseLogger *zap.Logger
}

var _ IScoringWorker = (*ScoringWorker)(nil)

// NewScoringWorker creates the pool. Submissions block while QueueSize tasks are already
// waiting and fail with ants.ErrPoolOverload beyond that.
func NewScoringWorker(cfg config.WorkerPoolConfig, handler ScoringHandler, baseLogger *zap.Logger) (*ScoringWorker, error) {
	if handler == nil {
		return nil, errors.New("scoring handler is required")
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.ExpiryTime <= 0 {
		cfg.ExpiryTime = time.Minute
	}
	if baseLogger == nil {
		baseLogger = logger.Named("scoring")
	}

	worker := &ScoringWorker{
		handler:    handler,
		cfg:        cfg,
		baseLogger: baseLogger.Named("scoring_worker"),
	}

	pool, err := ants.NewPoolWithFunc(cfg.PoolSize, func(i interface{}) {
		task, ok := i.(ScoringTask)
		if !ok {
			worker.baseLogger.Error("Invalid task data type received", zap.Any("data", i))
			return
		}
		worker.process(task)
	},
		ants.WithExpiryDuration(cfg.ExpiryTime),
		ants.WithNonblocking(false),
		ants.WithMaxBlockingTasks(cfg.QueueSize),
		ants.WithPanicHandler(func(err interface{}) {
			worker.baseLogger.Error("Panic recovered in scoring worker", zap.Any("panic_error", err), zap.Stack("stack"))
			observer.IncScoringTasksProcessed("", "panic")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create scoring worker pool: %w", err)
	}
	worker.pool = pool
	worker.baseLogger.Info("Scoring worker pool initialized",
		zap.Int("pool_size", cfg.PoolSize),
		zap.Int("queue_size", cfg.QueueSize),
		zap.Duration("expiry_time", cfg.ExpiryTime),
	)
	return worker, nil
}

// SubmitTask hands task to the pool.
func (w *ScoringWorker) SubmitTask(task ScoringTask) error {
	if task.Ctx == nil {
		task.Ctx = tenant.WithCompanyID(context.Background(), task.CompanyID)
	}
	observer.IncScoringTasksSubmitted(task.CompanyID)
	observer.SetScoringQueueLength(w.pool.Waiting())

	if err := w.pool.Invoke(task); err != nil {
		w.baseLogger.Warn("Failed to submit scoring task to pool",
			zap.String("conversation_id", task.ConversationID),
			zap.String("company_id", task.CompanyID),
			zap.Error(err),
		)
		observer.IncScoringTasksProcessed(task.CompanyID, "submit_error")
		if errors.Is(err, ants.ErrPoolOverload) {
			return fmt.Errorf("scoring pool overload: %w", err)
		}
		return fmt.Errorf("failed to invoke scoring task: %w", err)
	}
	return nil
}

func (w *ScoringWorker) process(task ScoringTask) {
	log := logger.FromContextOr(task.Ctx, w.baseLogger).With(
		zap.String("task_conversation_id", task.ConversationID),
		zap.String("task_company_id", task.CompanyID),
	)
	start := time.Now()
	status := "success"

	if err := w.handler(task); err != nil {
		status = "failure"
		log.Warn("Scoring task failed", zap.Error(err))
	}

	duration := time.Since(start)
	observer.ObserveScoringProcessingDuration(task.CompanyID, duration)
	observer.IncScoringTasksProcessed(task.CompanyID, status)
	log.Debug("Finished scoring task", zap.Duration("duration", duration), zap.String("final_status", status))
}

// Running reports the number of busy workers.
func (w *ScoringWorker) Running() int {
	return w.pool.Running()
}

// Stop releases the pool, waiting up to timeout for running tasks.
func (w *ScoringWorker) Stop() {
	if w.pool == nil {
		return
	}
	w.baseLogger.Info("Releasing scoring worker pool")
	start := time.Now()
	if err := w.pool.ReleaseTimeout(10 * time.Second); err != nil {
		w.baseLogger.Warn("Scoring worker pool did not drain in time", zap.Error(err))
	}
	w.baseLogger.Info("Scoring worker pool released", zap.Duration("duration", time.Since(start)))
}
