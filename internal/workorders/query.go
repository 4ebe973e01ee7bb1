package workorders

import (
	"math"
	"time"

	"github.com/odyssey-erp/odyssey-mfg/internal/platform/docstore"
)

// ListOptions filters and pages the work-order listing. Zero-valued fields are ignored.
type ListOptions struct {
	Search     string
	Type       Type
	Status     Status
	Priority   Priority
	CustomerID string
	Department string
	WorkCenter string

	PlannedStartFrom *time.Time
	PlannedStartTo   *time.Time
	DueFrom          *time.Time
	DueTo            *time.Time
	MinPlannedCost   *float64
	MaxPlannedCost   *float64

	Page     int
	Limit    int
	SortBy   string
	SortDesc bool
}

// searchFields are matched case-insensitively by free-text search.
var searchFields = []string{"workOrderName", "workOrderNumber", "productName", "productCode", "customerName"}

var sortFields = map[string]string{
	"createdAt":        docstore.FieldCreatedAt,
	"updatedAt":        docstore.FieldUpdatedAt,
	"workOrderNumber":  "workOrderNumber",
	"plannedStartDate": "plannedStartDate",
	"dueDate":          "dueDate",
	"priority":         "priority",
	"status":           "status",
	"plannedCost":      "plannedCost",
}

// BuildFilter ANDs every supplied criterion; the free-text search is an OR
// across searchFields.
func BuildFilter(opts ListOptions) docstore.Filter {
	var clauses []docstore.Filter
	if opts.Search != "" {
		var anyOf []docstore.Filter
		for _, f := range searchFields {
			anyOf = append(anyOf, docstore.ContainsFold(f, opts.Search))
		}
		clauses = append(clauses, docstore.Or(anyOf...))
	}
	if opts.Type != "" {
		clauses = append(clauses, docstore.Eq("workOrderType", opts.Type))
	}
	if opts.Status != "" {
		clauses = append(clauses, docstore.Eq("status", opts.Status))
	}
	if opts.Priority != "" {
		clauses = append(clauses, docstore.Eq("priority", opts.Priority))
	}
	if opts.CustomerID != "" {
		clauses = append(clauses, docstore.Eq("customerId", opts.CustomerID))
	}
	if opts.Department != "" {
		clauses = append(clauses, docstore.Eq("department", opts.Department))
	}
	if opts.WorkCenter != "" {
		clauses = append(clauses, docstore.Eq("workCenter", opts.WorkCenter))
	}
	if opts.PlannedStartFrom != nil {
		clauses = append(clauses, docstore.Gte("plannedStartDate", *opts.PlannedStartFrom))
	}
	if opts.PlannedStartTo != nil {
		clauses = append(clauses, docstore.Lte("plannedStartDate", *opts.PlannedStartTo))
	}
	if opts.DueFrom != nil {
		clauses = append(clauses, docstore.Gte("dueDate", *opts.DueFrom))
	}
	if opts.DueTo != nil {
		clauses = append(clauses, docstore.Lte("dueDate", *opts.DueTo))
	}
	if opts.MinPlannedCost != nil {
		clauses = append(clauses, docstore.Gte("plannedCost", *opts.MinPlannedCost))
	}
	if opts.MaxPlannedCost != nil {
		clauses = append(clauses, docstore.Lte("plannedCost", *opts.MaxPlannedCost))
	}
	return docstore.And(clauses...)
}

// SortOrder maps the requested sort key to a store sort; newest first by default.
func SortOrder(opts ListOptions) []docstore.SortField {
	field, ok := sortFields[opts.SortBy]
	if !ok {
		return []docstore.SortField{{Field: docstore.FieldCreatedAt, Desc: true}}
	}
	return []docstore.SortField{{Field: field, Desc: opts.SortDesc}}
}

// finishedStatuses never count as overdue.
var finishedStatuses = []any{StatusCompleted, StatusCancelled, StatusClosed}

// OverdueFilter matches work orders due before now that are still open.
func OverdueFilter(now time.Time) docstore.Filter {
	return docstore.And(
		docstore.Lt("dueDate", now),
		docstore.NotIn("status", finishedStatuses...),
	)
}

// DashboardStats is the dashboard aggregate.
type DashboardStats struct {
	TotalWorkOrders      int     `json:"totalWorkOrders"`
	PlannedWorkOrders    int     `json:"plannedWorkOrders"`
	InProgressWorkOrders int     `json:"inProgressWorkOrders"`
	CompletedWorkOrders  int     `json:"completedWorkOrders"`
	OverdueWorkOrders    int     `json:"overdueWorkOrders"`
	TotalPlannedCost     float64 `json:"totalPlannedCost"`
	TotalActualCost      float64 `json:"totalActualCost"`
	EfficiencyPercentage float64 `json:"efficiencyPercentage"`
}

// dashboardBuckets are counted independently; "in progress" is RELEASED or STARTED.
func dashboardBuckets(now time.Time) map[string]docstore.Filter {
	return map[string]docstore.Filter{
		"total":      {},
		"planned":    docstore.Eq("status", StatusPlanned),
		"inProgress": docstore.In("status", StatusReleased, StatusStarted),
		"completed":  docstore.Eq("status", StatusCompleted),
		"overdue":    OverdueFilter(now),
	}
}

// Efficiency is planned over actual cost as a percentage, two decimals, or 0
// when nothing has been spent.
func Efficiency(planned, actual float64) float64 {
	if actual <= 0 {
		return 0
	}
	return math.Round(planned/actual*10000) / 100
}
