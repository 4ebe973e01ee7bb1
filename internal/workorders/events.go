package workorders

import "context"

// Event types published after successful writes.
const (
	EventCreated          = "workorder.created"
	EventUpdated          = "workorder.updated"
	EventDeleted          = "workorder.deleted"
	EventStatusChanged    = "workorder.status_changed"
	EventApproved         = "workorder.approved"
	EventOperationUpdated = "workorder.operation_updated"
	EventResourceUpdated  = "workorder.resource_updated"
)

// Publisher emits domain events. Implemented by events.Bus.
type Publisher interface {
	Publish(ctx context.Context, eventType, aggregateID string, payload any) error
}

// ChangeEvent is the payload of every work-order event.
type ChangeEvent struct {
	WorkOrderID        string  `json:"workOrderId"`
	WorkOrderNumber    string  `json:"workOrderNumber"`
	Status             Status  `json:"status"`
	ProgressPercentage int     `json:"progressPercentage"`
	PlannedCost        float64 `json:"plannedCost"`
	ActualCost         float64 `json:"actualCost"`
	Actor              string  `json:"actor,omitempty"`
	Detail             string  `json:"detail,omitempty"`
}

func changeEventOf(w *WorkOrder, actor, detail string) ChangeEvent {
	return ChangeEvent{
		WorkOrderID:        w.ID,
		WorkOrderNumber:    w.WorkOrderNumber,
		Status:             w.Status,
		ProgressPercentage: w.ProgressPercentage,
		PlannedCost:        w.PlannedCost,
		ActualCost:         w.ActualCost,
		Actor:              actor,
		Detail:             detail,
	}
}
