package workorders

import (
	"fmt"
	"slices"
	"time"
)

var transitions = map[Status][]Status{
	StatusPlanned:  {StatusReleased, StatusCancelled, StatusClosed},
	StatusReleased: {StatusStarted, StatusCancelled, StatusClosed},
	StatusStarted:  {StatusPaused, StatusCompleted, StatusCancelled, StatusClosed},
	StatusPaused:   {StatusStarted, StatusCancelled, StatusClosed},
}

// CanTransition reports whether from → to is an allowed lifecycle move.
func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

// AllowedTransitions lists the statuses reachable from s.
func AllowedTransitions(s Status) []Status {
	return slices.Clone(transitions[s])
}

var operationTransitions = map[OperationStatus][]OperationStatus{
	OperationPlanned: {OperationStarted, OperationCompleted, OperationSkipped},
	OperationStarted: {OperationPaused, OperationCompleted, OperationSkipped},
	OperationPaused:  {OperationStarted, OperationCompleted, OperationSkipped},
}

// CanTransitionOperation reports whether an operation may move from → to.
// Re-asserting the current status is accepted.
func CanTransitionOperation(from, to OperationStatus) bool {
	return from == to || slices.Contains(operationTransitions[from], to)
}

// TransitionRequest is the input of a status change.
type TransitionRequest struct {
	Status    Status `json:"status"`
	Remarks   string `json:"remarks,omitempty"`
	UpdatedBy string `json:"updatedBy,omitempty"`
}

// Transition moves the work order to req.Status and applies the entry side
// effects. On error the aggregate is untouched.
func (w *WorkOrder) Transition(req TransitionRequest, now time.Time) error {
	to := req.Status
	if !validStatus(to) {
		return fieldError("status", "must be one of %s", joinStatuses(allStatuses))
	}
	from := w.Status
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: cannot move work order from %s to %s", ErrInvalidTransition, from, to)
	}

	at := now
	w.Status = to
	w.changes.set("status")

	switch to {
	case StatusStarted:
		if w.ActualStartDate == nil {
			w.ActualStartDate = &at
			w.changes.set("actualStartDate")
		}
	case StatusCompleted:
		if w.ActualEndDate == nil {
			w.ActualEndDate = &at
			w.changes.set("actualEndDate")
		}
		w.applyProgress()
	case StatusCancelled, StatusClosed:
		w.ClosedDate = &at
		w.changes.set("closedDate")
		if req.UpdatedBy != "" {
			w.ClosedBy = req.UpdatedBy
			w.changes.set("closedBy")
		}
	}

	entry := StatusChange{From: from, To: to, At: at, By: req.UpdatedBy, Remarks: req.Remarks}
	w.StatusHistory = append(w.StatusHistory, entry)
	w.changes.push("statusHistory", entry)
	return nil
}

// Approve records approval metadata. Only PLANNED work orders can be approved, once.
func (w *WorkOrder) Approve(by string, now time.Time) error {
	if w.Status != StatusPlanned {
		return fmt.Errorf("%w: only PLANNED work orders can be approved, current status is %s", ErrInvalidTransition, w.Status)
	}
	if w.ApprovedDate != nil {
		return fmt.Errorf("%w: work order already approved by %s", ErrInvalidTransition, w.ApprovedBy)
	}
	if by == "" {
		return fieldError("approvedBy", "is required")
	}
	at := now
	w.ApprovedBy = by
	w.ApprovedDate = &at
	w.changes.set("approvedBy", "approvedDate")
	return nil
}

var allStatuses = []Status{
	StatusPlanned, StatusReleased, StatusStarted, StatusPaused,
	StatusCompleted, StatusCancelled, StatusClosed,
}

func validStatus(s Status) bool {
	return slices.Contains(allStatuses, s)
}

func joinStatuses(ss []Status) string {
	out := ""
	for i, s := range ss {
		if i > 0 {
			out += ", "
		}
		out += string(s)
	}
	return out
}
