package workorders

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"
)

// changeLog records which document paths an aggregate method touched so the
// repository can persist a partial update instead of the whole document.
type changeLog struct {
	paths  []string
	pushes []pushedValue
}

type pushedValue struct {
	path  string
	value any
}

func (c *changeLog) set(paths ...string) {
	for _, p := range paths {
		if !slices.Contains(c.paths, p) {
			c.paths = append(c.paths, p)
		}
	}
}

func (c *changeLog) push(path string, v any) {
	c.pushes = append(c.pushes, pushedValue{path: path, value: v})
}

func (c *changeLog) reset() {
	c.paths = nil
	c.pushes = nil
}

// HasChanges reports whether any aggregate method modified the work order
// since it was loaded.
func (w *WorkOrder) HasChanges() bool {
	return len(w.changes.paths) > 0 || len(w.changes.pushes) > 0
}

// ChangedPaths returns the touched paths with descendants of other touched
// paths removed, sorted.
func (w *WorkOrder) ChangedPaths() []string {
	paths := slices.Clone(w.changes.paths)
	sort.Strings(paths)
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		covered := false
		for _, q := range paths {
			if q != p && strings.HasPrefix(p, q+".") {
				covered = true
				break
			}
		}
		if !covered {
			out = append(out, p)
		}
	}
	return out
}

// PushedValues returns appended array entries whose path is not already
// rewritten wholesale.
func (w *WorkOrder) PushedValues() map[string][]any {
	out := make(map[string][]any)
	for _, pv := range w.changes.pushes {
		if slices.Contains(w.changes.paths, pv.path) {
			continue
		}
		out[pv.path] = append(out[pv.path], pv.value)
	}
	return out
}

func (w *WorkOrder) operationIndex(seq int) int {
	for i, op := range w.Operations {
		if op.OperationSequence == seq {
			return i
		}
	}
	return -1
}

// OperationBySequence returns the operation with the given sequence.
func (w *WorkOrder) OperationBySequence(seq int) (Operation, bool) {
	if i := w.operationIndex(seq); i >= 0 {
		return w.Operations[i], true
	}
	return Operation{}, false
}

// ResourceAt returns the resource at index.
func (w *WorkOrder) ResourceAt(index int) (Resource, bool) {
	if index < 0 || index >= len(w.Resources) {
		return Resource{}, false
	}
	return w.Resources[index], true
}

// OperationUpdate is a targeted change to one operation. Nil fields are left alone;
// a non-nil QualityChecks replaces the list.
type OperationUpdate struct {
	Status        *OperationStatus `json:"status,omitempty"`
	ActualTime    *float64         `json:"actualTime,omitempty"`
	Operator      *string          `json:"operator,omitempty"`
	StartDateTime *time.Time       `json:"startDateTime,omitempty"`
	EndDateTime   *time.Time       `json:"endDateTime,omitempty"`
	Notes         *string          `json:"notes,omitempty"`
	QualityChecks *[]QualityCheck  `json:"qualityChecks,omitempty"`
}

// UpdateOperation applies upd to the operation with sequence seq and
// re-derives progress.
func (w *WorkOrder) UpdateOperation(seq int, upd OperationUpdate, now time.Time) error {
	if w.Status.IsTerminal() {
		return fmt.Errorf("%w: cannot update operations of a %s work order", ErrTerminalState, w.Status)
	}
	idx := w.operationIndex(seq)
	if idx < 0 {
		return fmt.Errorf("%w: sequence %d", ErrOperationNotFound, seq)
	}
	if err := validateOperationUpdate(upd); err != nil {
		return err
	}

	op := w.Operations[idx]
	if upd.Status != nil && !CanTransitionOperation(op.Status, *upd.Status) {
		return fmt.Errorf("%w: cannot move operation %d from %s to %s", ErrInvalidTransition, seq, op.Status, *upd.Status)
	}

	if upd.ActualTime != nil {
		op.ActualTime = *upd.ActualTime
	}
	if upd.Operator != nil {
		op.Operator = *upd.Operator
	}
	if upd.StartDateTime != nil {
		t := *upd.StartDateTime
		op.StartDateTime = &t
	}
	if upd.EndDateTime != nil {
		t := *upd.EndDateTime
		op.EndDateTime = &t
	}
	if upd.Notes != nil {
		op.Notes = *upd.Notes
	}
	if upd.QualityChecks != nil {
		checks := normalizeChecks(*upd.QualityChecks)
		op.QualityChecks = checks
	}
	if upd.Status != nil && *upd.Status != op.Status {
		op.Status = *upd.Status
		at := now
		switch op.Status {
		case OperationStarted:
			if op.StartDateTime == nil {
				op.StartDateTime = &at
			}
		case OperationCompleted, OperationSkipped:
			if op.EndDateTime == nil {
				op.EndDateTime = &at
			}
		}
	}
	if op.StartDateTime != nil && op.EndDateTime != nil && op.EndDateTime.Before(*op.StartDateTime) {
		return fieldError("endDateTime", "must not be before startDateTime")
	}

	w.Operations[idx] = op
	w.changes.set("operations." + strconv.Itoa(idx))
	w.applyProgress()
	return nil
}

// AddOperation inserts op keeping the list ordered by sequence.
func (w *WorkOrder) AddOperation(op Operation) error {
	if w.Status.IsTerminal() {
		return fmt.Errorf("%w: cannot add operations to a %s work order", ErrTerminalState, w.Status)
	}
	op = normalizeOperation(op)
	if err := validateOperation(op, "operation"); err != nil {
		return err
	}
	if w.operationIndex(op.OperationSequence) >= 0 {
		return fieldError("operation.operationSequence", "sequence %d already exists", op.OperationSequence)
	}
	w.Operations = append(w.Operations, op)
	sortOperations(w.Operations)
	w.changes.set("operations")
	w.applyProgress()
	return nil
}

// RemoveOperation deletes the operation with sequence seq. The last remaining
// operation cannot be removed. Sequence gaps are left in place.
func (w *WorkOrder) RemoveOperation(seq int) error {
	if w.Status.IsTerminal() {
		return fmt.Errorf("%w: cannot remove operations from a %s work order", ErrTerminalState, w.Status)
	}
	idx := w.operationIndex(seq)
	if idx < 0 {
		return fmt.Errorf("%w: sequence %d", ErrOperationNotFound, seq)
	}
	if len(w.Operations) == 1 {
		return fieldError("operations", "a work order must keep at least one operation")
	}
	w.Operations = slices.Delete(w.Operations, idx, idx+1)
	w.changes.set("operations")
	w.applyProgress()
	return nil
}

// ResourceUpdate is a targeted change to one resource line.
type ResourceUpdate struct {
	ActualQuantity *float64        `json:"actualQuantity,omitempty"`
	ActualCost     *float64        `json:"actualCost,omitempty"`
	Status         *ResourceStatus `json:"status,omitempty"`
	Remarks        *string         `json:"remarks,omitempty"`
}

// UpdateResource applies upd to the resource at index and re-derives the
// actual cost rollup. Late costing is accepted on COMPLETED work orders.
func (w *WorkOrder) UpdateResource(index int, upd ResourceUpdate) error {
	if w.Status == StatusCancelled || w.Status == StatusClosed {
		return fmt.Errorf("%w: cannot update resources of a %s work order", ErrTerminalState, w.Status)
	}
	if index < 0 || index >= len(w.Resources) {
		return fmt.Errorf("%w: index %d, work order has %d resources", ErrResourceIndexOutOfRange, index, len(w.Resources))
	}
	if err := validateResourceUpdate(upd); err != nil {
		return err
	}

	res := w.Resources[index]
	if upd.ActualQuantity != nil {
		res.ActualQuantity = *upd.ActualQuantity
	}
	if upd.ActualCost != nil {
		res.ActualCost = *upd.ActualCost
	}
	if upd.Status != nil {
		res.Status = *upd.Status
	}
	if upd.Remarks != nil {
		res.Remarks = *upd.Remarks
	}
	w.Resources[index] = res
	w.changes.set("resources." + strconv.Itoa(index))
	w.applyActualCosts()
	return nil
}

// AddResource appends a resource line and re-derives planned and actual cost.
func (w *WorkOrder) AddResource(r Resource) error {
	if w.Status.IsTerminal() {
		return fmt.Errorf("%w: cannot add resources to a %s work order", ErrTerminalState, w.Status)
	}
	r = normalizeResource(r, w.Currency)
	if err := validateResource(r, "resource"); err != nil {
		return err
	}
	w.Resources = append(w.Resources, r)
	w.changes.push("resources", r)
	w.applyPlannedCost(0)
	w.applyActualCosts()
	return nil
}

// RemoveResource deletes the resource at index; later indexes shift down.
func (w *WorkOrder) RemoveResource(index int) error {
	if w.Status.IsTerminal() {
		return fmt.Errorf("%w: cannot remove resources from a %s work order", ErrTerminalState, w.Status)
	}
	if index < 0 || index >= len(w.Resources) {
		return fmt.Errorf("%w: index %d, work order has %d resources", ErrResourceIndexOutOfRange, index, len(w.Resources))
	}
	w.Resources = slices.Delete(w.Resources, index, index+1)
	w.changes.set("resources")
	w.applyPlannedCost(0)
	w.applyActualCosts()
	return nil
}

// Replace overwrites the caller-editable fields from input. Identity, number,
// status, lifecycle dates, approval and closing metadata are kept. Planned cost
// is re-derived when resources changed and input carries no explicit value.
func (w *WorkOrder) Replace(input WorkOrder) error {
	in := input
	in.clearServerOwned()
	in.Status = w.Status
	in.normalize()
	if err := Validate(&in); err != nil {
		return err
	}

	resourcesChanged := !sameJSON(w.Resources, in.Resources)
	operationsChanged := !sameJSON(w.Operations, in.Operations)
	if w.Status.IsTerminal() && (resourcesChanged || operationsChanged || w.PlannedQuantity != in.PlannedQuantity) {
		return fmt.Errorf("%w: operations, resources and planned quantity are frozen once %s", ErrTerminalState, w.Status)
	}

	w.WorkOrderName = in.WorkOrderName
	w.WorkOrderType = in.WorkOrderType
	w.Priority = in.Priority
	w.CustomerID = in.CustomerID
	w.CustomerName = in.CustomerName
	w.EnquiryID = in.EnquiryID
	w.QuotationID = in.QuotationID
	w.BOMID = in.BOMID
	w.Department = in.Department
	w.WorkCenter = in.WorkCenter
	w.ProductName = in.ProductName
	w.ProductCode = in.ProductCode
	w.ProductDescription = in.ProductDescription
	w.DrawingNumber = in.DrawingNumber
	w.Revision = in.Revision
	w.PlannedQuantity = in.PlannedQuantity
	w.CompletedQuantity = in.CompletedQuantity
	w.RejectedQuantity = in.RejectedQuantity
	w.ScrapQuantity = in.ScrapQuantity
	w.ReworkQuantity = in.ReworkQuantity
	w.UnitOfMeasure = in.UnitOfMeasure
	w.PlannedStartDate = in.PlannedStartDate
	w.PlannedEndDate = in.PlannedEndDate
	w.DueDate = in.DueDate
	w.Operations = in.Operations
	w.Resources = in.Resources
	w.Currency = in.Currency
	w.Instructions = in.Instructions
	w.SpecialInstructions = in.SpecialInstructions
	w.SafetyNotes = in.SafetyNotes
	w.QualityRequirements = in.QualityRequirements
	w.Remarks = in.Remarks
	w.Attachments = in.Attachments
	w.changes.set(editablePaths...)

	switch {
	case in.PlannedCost > 0:
		w.applyPlannedCost(in.PlannedCost)
	case resourcesChanged:
		w.applyPlannedCost(0)
	}
	w.applyActualCosts()
	w.applyProgress()
	return nil
}

var editablePaths = []string{
	"workOrderName", "workOrderType", "priority",
	"customerId", "customerName", "enquiryId", "quotationId", "bomId", "department", "workCenter",
	"productName", "productCode", "productDescription", "drawingNumber", "revision",
	"plannedQuantity", "completedQuantity", "rejectedQuantity", "scrapQuantity", "reworkQuantity", "unitOfMeasure",
	"plannedStartDate", "plannedEndDate", "dueDate",
	"operations", "resources", "currency",
	"instructions", "specialInstructions", "safetyNotes", "qualityRequirements", "remarks",
	"attachments",
}

// prepareNew turns caller input into a fresh PLANNED aggregate with all
// derived fields computed.
func prepareNew(input WorkOrder, id, number, createdBy string, now time.Time) (*WorkOrder, error) {
	w := input
	w.clearServerOwned()
	w.Status = StatusPlanned
	w.normalize()
	if err := Validate(&w); err != nil {
		return nil, err
	}
	w.ID = id
	w.WorkOrderNumber = number
	w.ActualStartDate = nil
	w.ActualEndDate = nil
	w.ApprovedBy = ""
	w.ApprovedDate = nil
	w.ClosedBy = ""
	w.ClosedDate = nil
	w.StatusHistory = []StatusChange{}
	if createdBy != "" {
		w.CreatedBy = createdBy
	}
	w.CreatedAt = now
	w.UpdatedAt = now
	w.Version = 0
	w.applyPlannedCost(input.PlannedCost)
	w.applyActualCosts()
	w.applyProgress()
	w.changes.reset()
	return &w, nil
}

// clearServerOwned drops identity and derived progress fields a caller may
// have echoed back; they are recomputed, never taken from input.
func (w *WorkOrder) clearServerOwned() {
	w.ID = ""
	w.WorkOrderNumber = ""
	w.ProgressPercentage = 0
	w.CurrentOperation = ""
	w.NextOperation = ""
	w.LastOperationCompleted = ""
}

// normalize applies documented defaults to empty enum and unit fields.
func (w *WorkOrder) normalize() {
	if w.WorkOrderType == "" {
		w.WorkOrderType = TypeProduction
	}
	if w.Priority == "" {
		w.Priority = PriorityNormal
	}
	if w.Status == "" {
		w.Status = StatusPlanned
	}
	if w.Currency == "" {
		w.Currency = DefaultCurrency
	}
	if w.UnitOfMeasure == "" {
		w.UnitOfMeasure = DefaultUnitOfMeasure
	}
	ops := make([]Operation, len(w.Operations))
	for i, op := range w.Operations {
		ops[i] = normalizeOperation(op)
	}
	sortOperations(ops)
	w.Operations = ops

	res := make([]Resource, len(w.Resources))
	for i, r := range w.Resources {
		res[i] = normalizeResource(r, w.Currency)
	}
	w.Resources = res

	if w.Attachments == nil {
		w.Attachments = []Attachment{}
	}
	if w.StatusHistory == nil {
		w.StatusHistory = []StatusChange{}
	}
}

func normalizeOperation(op Operation) Operation {
	if op.Status == "" {
		op.Status = OperationPlanned
	}
	op.QualityChecks = normalizeChecks(op.QualityChecks)
	return op
}

func normalizeChecks(checks []QualityCheck) []QualityCheck {
	out := make([]QualityCheck, len(checks))
	for i, c := range checks {
		if c.Result == "" {
			c.Result = CheckPending
		}
		out[i] = c
	}
	return out
}

func normalizeResource(r Resource, currency string) Resource {
	if r.Status == "" {
		r.Status = ResourcePlanned
	}
	if r.Currency == "" {
		r.Currency = currency
	}
	return r
}

func sortOperations(ops []Operation) {
	sort.SliceStable(ops, func(i, j int) bool {
		return ops[i].OperationSequence < ops[j].OperationSequence
	})
}

func sameJSON(a, b any) bool {
	ra, errA := json.Marshal(a)
	rb, errB := json.Marshal(b)
	return errA == nil && errB == nil && bytes.Equal(ra, rb)
}
