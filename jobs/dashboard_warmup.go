package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-mfg/internal/jobs"
	"github.com/odyssey-erp/odyssey-mfg/internal/workorders"
)

// DashboardRefresher is the slice of the work-order service the warmup needs.
type DashboardRefresher interface {
	RefreshDashboard(ctx context.Context) (workorders.DashboardStats, error)
}

// DashboardWarmupJob invalidates and recomputes the cached dashboard so the
// first request after a quiet period does not pay for the aggregation.
type DashboardWarmupJob struct {
	Dashboard DashboardRefresher
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
	Timeout   time.Duration
}

// NewDashboardWarmupJob wires dependencies for the warmup handler.
func NewDashboardWarmupJob(dashboard DashboardRefresher, logger *slog.Logger, metrics *jobmetrics.Metrics) *DashboardWarmupJob {
	return &DashboardWarmupJob{Dashboard: dashboard, Logger: logger, Metrics: metrics, Timeout: 30 * time.Second}
}

// Handle processes dashboard warmup tasks.
func (j *DashboardWarmupJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Dashboard == nil {
		return errors.New("dashboard warmup: handler not configured")
	}
	tracker := j.metrics().Track(TaskWorkOrderDashboardWarmup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	if j.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.Timeout)
		defer cancel()
	}

	logger := j.logger()
	start := time.Now()
	stats, err := j.Dashboard.RefreshDashboard(ctx)
	if err != nil {
		resultErr = err
		logger.Error("refresh dashboard", slog.Any("error", err))
		return resultErr
	}
	logger.Info("completed dashboard warmup",
		slog.Int("total", stats.TotalWorkOrders),
		slog.Int("overdue", stats.OverdueWorkOrders),
		slog.Duration("duration", time.Since(start)),
	)
	return resultErr
}

func (j *DashboardWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskWorkOrderDashboardWarmup))
	}
	return slog.Default().With(slog.String("job", TaskWorkOrderDashboardWarmup))
}

func (j *DashboardWarmupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
