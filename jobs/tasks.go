package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskWorkOrderOverdueScan reports open work orders past their due date.
	TaskWorkOrderOverdueScan = "workorders:overdue_scan"
	// TaskWorkOrderDashboardWarmup recomputes the cached dashboard aggregate.
	TaskWorkOrderDashboardWarmup = "workorders:dashboard_warmup"
)

// OverdueScanPayload bounds how many overdue work orders are logged per run.
type OverdueScanPayload struct {
	Limit int `json:"limit"`
}

// DashboardWarmupPayload carries no options.
type DashboardWarmupPayload struct{}

// NewOverdueScanTask constructs an overdue scan task.
func NewOverdueScanTask(limit int) (*asynq.Task, error) {
	data, err := json.Marshal(OverdueScanPayload{Limit: limit})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskWorkOrderOverdueScan, data), nil
}

// NewDashboardWarmupTask constructs a dashboard warmup task.
func NewDashboardWarmupTask() (*asynq.Task, error) {
	data, err := json.Marshal(DashboardWarmupPayload{})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskWorkOrderDashboardWarmup, data), nil
}
