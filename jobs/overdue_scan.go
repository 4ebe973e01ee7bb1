package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-mfg/internal/jobs"
	"github.com/odyssey-erp/odyssey-mfg/internal/workorders"
)

const defaultOverdueLimit = 50

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// OverdueLister is the slice of the work-order service the scan needs.
type OverdueLister interface {
	Overdue(ctx context.Context, limit int) ([]workorders.WorkOrder, int, error)
}

// OverdueScanJob logs open work orders past their due date and exports the count.
type OverdueScanJob struct {
	WorkOrders OverdueLister
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
}

// NewOverdueScanJob initialises the overdue scan handler.
func NewOverdueScanJob(workOrders OverdueLister, logger *slog.Logger, metrics *jobmetrics.Metrics) *OverdueScanJob {
	return &OverdueScanJob{WorkOrders: workOrders, Logger: logger, Metrics: metrics}
}

// Handle executes one scan.
func (j *OverdueScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.WorkOrders == nil {
		return errors.New("overdue scan: handler not configured")
	}
	var payload OverdueScanPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	if payload.Limit <= 0 {
		payload.Limit = defaultOverdueLimit
	}

	tracker := j.metrics().Track(TaskWorkOrderOverdueScan)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger()
	items, total, err := j.WorkOrders.Overdue(ctx, payload.Limit)
	if err != nil {
		resultErr = err
		logger.Error("list overdue work orders", slog.Any("error", err))
		return resultErr
	}
	j.metrics().SetOverdue(total)

	for _, wo := range items {
		attrs := []any{
			slog.String("work_order_id", wo.ID),
			slog.String("work_order_number", wo.WorkOrderNumber),
			slog.String("status", string(wo.Status)),
			slog.Int("progress", wo.ProgressPercentage),
		}
		if wo.DueDate != nil {
			attrs = append(attrs, slog.Time("due_date", *wo.DueDate))
		}
		logger.Warn("work order overdue", attrs...)
	}
	logger.Info("completed overdue scan", slog.Int("overdue", total), slog.Int("logged", len(items)))
	return resultErr
}

func (j *OverdueScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskWorkOrderOverdueScan))
	}
	return slog.Default().With(slog.String("job", TaskWorkOrderOverdueScan))
}

func (j *OverdueScanJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
