package workorders

// PlannedCostOf is Σ(plannedQuantity × standardCost) over resources.
func PlannedCostOf(resources []Resource) float64 {
	var total float64
	for _, r := range resources {
		total += r.PlannedQuantity * r.StandardCost
	}
	return total
}

// CostBreakdown is the actual-cost rollup by bucket.
type CostBreakdown struct {
	Actual   float64
	Material float64
	Labor    float64
	Overhead float64
}

// ActualCostOf sums resource actual costs. Equipment lines roll into overhead.
func ActualCostOf(resources []Resource) CostBreakdown {
	var out CostBreakdown
	for _, r := range resources {
		out.Actual += r.ActualCost
		switch r.ResourceType {
		case ResourceMaterial:
			out.Material += r.ActualCost
		case ResourceLabor:
			out.Labor += r.ActualCost
		case ResourceEquipment, ResourceOverhead:
			out.Overhead += r.ActualCost
		}
	}
	return out
}

func (w *WorkOrder) applyActualCosts() {
	b := ActualCostOf(w.Resources)
	w.ActualCost = b.Actual
	w.MaterialCost = b.Material
	w.LaborCost = b.Labor
	w.OverheadCost = b.Overhead
	w.changes.set("actualCost", "materialCost", "laborCost", "overheadCost")
}

// applyPlannedCost sets plannedCost to the caller's explicit value, or
// derives it from resources when the value is zero.
func (w *WorkOrder) applyPlannedCost(explicit float64) {
	next := explicit
	if next <= 0 {
		next = PlannedCostOf(w.Resources)
	}
	if w.PlannedCost != next {
		w.PlannedCost = next
		w.changes.set("plannedCost")
	}
}
