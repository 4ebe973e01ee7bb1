package workorders

import (
	"math"
	"sort"
)

// Progress holds the four derived progress fields. They are always computed together.
type Progress struct {
	Percentage             int
	CurrentOperation       string
	NextOperation          string
	LastOperationCompleted string
}

// ProgressOf derives progress from the operations list in sequence order.
func ProgressOf(ops []Operation) Progress {
	if len(ops) == 0 {
		return Progress{}
	}
	ordered := make([]Operation, len(ops))
	copy(ordered, ops)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].OperationSequence < ordered[j].OperationSequence
	})

	var p Progress
	done := 0
	current, firstPlanned := -1, -1
	for i, op := range ordered {
		switch op.Status {
		case OperationCompleted:
			done++
			p.LastOperationCompleted = op.OperationName
		case OperationSkipped:
			done++
		case OperationStarted, OperationPaused:
			if current < 0 {
				current = i
			}
		case OperationPlanned:
			if firstPlanned < 0 {
				firstPlanned = i
			}
		}
	}
	if current < 0 {
		current = firstPlanned
	}
	if current >= 0 {
		p.CurrentOperation = ordered[current].OperationName
		if current+1 < len(ordered) {
			p.NextOperation = ordered[current+1].OperationName
		}
	}
	p.Percentage = int(math.Round(100 * float64(done) / float64(len(ordered))))
	return p
}

// applyProgress recomputes the derived progress fields. A COMPLETED work
// order always reports 100.
func (w *WorkOrder) applyProgress() {
	p := ProgressOf(w.Operations)
	if w.Status == StatusCompleted {
		p.Percentage = 100
	}
	w.ProgressPercentage = p.Percentage
	w.CurrentOperation = p.CurrentOperation
	w.NextOperation = p.NextOperation
	w.LastOperationCompleted = p.LastOperationCompleted
	w.changes.set("progressPercentage", "currentOperation", "nextOperation", "lastOperationCompleted")
}
