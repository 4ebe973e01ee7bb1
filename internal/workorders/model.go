// Package workorders implements the manufacturing work-order aggregate: number
// assignment, validation, cost and progress rollups, the lifecycle state
// machine, targeted operation/resource updates and the list/dashboard queries.
package workorders

import "time"

// Type classifies a work order.
type Type string

const (
	TypeProduction  Type = "PRODUCTION"
	TypeMaintenance Type = "MAINTENANCE"
	TypeRework      Type = "REWORK"
	TypePrototype   Type = "PROTOTYPE"
	TypeRepair      Type = "REPAIR"
)

// Priority orders work orders for scheduling. Defaults to NORMAL.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// Status is the top-level lifecycle state.
type Status string

const (
	StatusPlanned   Status = "PLANNED"
	StatusReleased  Status = "RELEASED"
	StatusStarted   Status = "STARTED"
	StatusPaused    Status = "PAUSED"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
	StatusClosed    Status = "CLOSED"
)

// OperationStatus is the per-operation sub-state.
type OperationStatus string

const (
	OperationPlanned   OperationStatus = "PLANNED"
	OperationStarted   OperationStatus = "STARTED"
	OperationPaused    OperationStatus = "PAUSED"
	OperationCompleted OperationStatus = "COMPLETED"
	OperationSkipped   OperationStatus = "SKIPPED"
)

// ResourceType selects which cost bucket a resource rolls into.
type ResourceType string

const (
	ResourceMaterial  ResourceType = "MATERIAL"
	ResourceLabor     ResourceType = "LABOR"
	ResourceEquipment ResourceType = "EQUIPMENT"
	ResourceOverhead  ResourceType = "OVERHEAD"
)

// ResourceStatus tracks allocation of a resource line. Defaults to PLANNED.
type ResourceStatus string

const (
	ResourcePlanned   ResourceStatus = "PLANNED"
	ResourceAllocated ResourceStatus = "ALLOCATED"
	ResourceInUse     ResourceStatus = "IN_USE"
	ResourceCompleted ResourceStatus = "COMPLETED"
	ResourceReturned  ResourceStatus = "RETURNED"
)

// CheckResult is the outcome of a quality check. Defaults to PENDING.
type CheckResult string

const (
	CheckPass    CheckResult = "PASS"
	CheckFail    CheckResult = "FAIL"
	CheckPending CheckResult = "PENDING"
)

// Defaults applied at the boundary when a caller leaves the field empty.
const (
	DefaultCurrency      = "USD"
	DefaultUnitOfMeasure = "PCS"
)

// QualityCheck records one inspection against an operation.
type QualityCheck struct {
	Checkpoint    string      `json:"checkpoint" validate:"required"`
	Specification string      `json:"specification,omitempty"`
	ActualValue   string      `json:"actualValue,omitempty"`
	Result        CheckResult `json:"result" validate:"oneof=PASS FAIL PENDING"`
	CheckedBy     string      `json:"checkedBy,omitempty"`
	CheckedAt     *time.Time  `json:"checkedAt,omitempty"`
	Remarks       string      `json:"remarks,omitempty"`
}

// Operation is one production step, addressed by OperationSequence.
type Operation struct {
	OperationSequence int             `json:"operationSequence" validate:"gte=1"`
	OperationName     string          `json:"operationName" validate:"required"`
	OperationCode     string          `json:"operationCode,omitempty"`
	WorkCenter        string          `json:"workCenter,omitempty"`
	SetupTime         float64         `json:"setupTime" validate:"gte=0"`
	RunTime           float64         `json:"runTime" validate:"gte=0"`
	TotalPlannedTime  float64         `json:"totalPlannedTime" validate:"gte=0"`
	ActualTime        float64         `json:"actualTime" validate:"gte=0"`
	Operator          string          `json:"operator,omitempty"`
	Status            OperationStatus `json:"status" validate:"oneof=PLANNED STARTED PAUSED COMPLETED SKIPPED"`
	StartDateTime     *time.Time      `json:"startDateTime,omitempty"`
	EndDateTime       *time.Time      `json:"endDateTime,omitempty"`
	QualityChecks     []QualityCheck  `json:"qualityChecks" validate:"dive"`
	Notes             string          `json:"notes,omitempty"`
}

// Resource is a consumed material, labor, equipment or overhead line,
// addressed by its position in the resources list.
type Resource struct {
	ResourceType    ResourceType   `json:"resourceType" validate:"oneof=MATERIAL LABOR EQUIPMENT OVERHEAD"`
	ResourceName    string         `json:"resourceName" validate:"required"`
	ResourceCode    string         `json:"resourceCode,omitempty"`
	PlannedQuantity float64        `json:"plannedQuantity" validate:"gte=0"`
	ActualQuantity  float64        `json:"actualQuantity" validate:"gte=0"`
	UnitOfMeasure   string         `json:"unitOfMeasure,omitempty"`
	StandardCost    float64        `json:"standardCost" validate:"gte=0"`
	ActualCost      float64        `json:"actualCost" validate:"gte=0"`
	Currency        string         `json:"currency,omitempty"`
	StartDate       *time.Time     `json:"startDate,omitempty"`
	EndDate         *time.Time     `json:"endDate,omitempty"`
	Status          ResourceStatus `json:"status" validate:"oneof=PLANNED ALLOCATED IN_USE COMPLETED RETURNED"`
	Remarks         string         `json:"remarks,omitempty"`
}

// Attachment is file metadata; the bytes live in the file store.
type Attachment struct {
	FileID      string     `json:"fileId" validate:"required"`
	FileName    string     `json:"fileName" validate:"required"`
	ContentType string     `json:"contentType,omitempty"`
	Size        int64      `json:"size" validate:"gte=0"`
	UploadedBy  string     `json:"uploadedBy,omitempty"`
	UploadedAt  *time.Time `json:"uploadedAt,omitempty"`
}

// StatusChange is one entry of the lifecycle audit trail.
type StatusChange struct {
	From    Status    `json:"from"`
	To      Status    `json:"to"`
	At      time.Time `json:"at"`
	By      string    `json:"by,omitempty"`
	Remarks string    `json:"remarks,omitempty"`
}

// WorkOrder is the aggregate root.
type WorkOrder struct {
	ID              string   `json:"id"`
	WorkOrderNumber string   `json:"workOrderNumber"`
	WorkOrderName   string   `json:"workOrderName" validate:"required"`
	WorkOrderType   Type     `json:"workOrderType" validate:"oneof=PRODUCTION MAINTENANCE REWORK PROTOTYPE REPAIR"`
	Priority        Priority `json:"priority" validate:"oneof=LOW NORMAL HIGH URGENT"`
	Status          Status   `json:"status" validate:"oneof=PLANNED RELEASED STARTED PAUSED COMPLETED CANCELLED CLOSED"`

	CustomerID   string `json:"customerId,omitempty"`
	CustomerName string `json:"customerName,omitempty"`
	EnquiryID    string `json:"enquiryId,omitempty"`
	QuotationID  string `json:"quotationId,omitempty"`
	BOMID        string `json:"bomId,omitempty"`
	Department   string `json:"department,omitempty"`
	WorkCenter   string `json:"workCenter,omitempty"`

	ProductName        string `json:"productName" validate:"required"`
	ProductCode        string `json:"productCode,omitempty"`
	ProductDescription string `json:"productDescription,omitempty"`
	DrawingNumber      string `json:"drawingNumber,omitempty"`
	Revision           string `json:"revision,omitempty"`

	PlannedQuantity   float64 `json:"plannedQuantity" validate:"gte=0"`
	CompletedQuantity float64 `json:"completedQuantity" validate:"gte=0"`
	RejectedQuantity  float64 `json:"rejectedQuantity" validate:"gte=0"`
	ScrapQuantity     float64 `json:"scrapQuantity" validate:"gte=0"`
	ReworkQuantity    float64 `json:"reworkQuantity" validate:"gte=0"`
	UnitOfMeasure     string  `json:"unitOfMeasure"`

	PlannedStartDate *time.Time `json:"plannedStartDate" validate:"required"`
	PlannedEndDate   *time.Time `json:"plannedEndDate" validate:"required"`
	DueDate          *time.Time `json:"dueDate,omitempty"`
	ActualStartDate  *time.Time `json:"actualStartDate,omitempty"`
	ActualEndDate    *time.Time `json:"actualEndDate,omitempty"`

	Operations []Operation `json:"operations" validate:"min=1,dive"`
	Resources  []Resource  `json:"resources" validate:"dive"`

	PlannedCost  float64 `json:"plannedCost" validate:"gte=0"`
	ActualCost   float64 `json:"actualCost" validate:"gte=0"`
	MaterialCost float64 `json:"materialCost" validate:"gte=0"`
	LaborCost    float64 `json:"laborCost" validate:"gte=0"`
	OverheadCost float64 `json:"overheadCost" validate:"gte=0"`
	Currency     string  `json:"currency"`

	Instructions        string `json:"instructions,omitempty"`
	SpecialInstructions string `json:"specialInstructions,omitempty"`
	SafetyNotes         string `json:"safetyNotes,omitempty"`
	QualityRequirements string `json:"qualityRequirements,omitempty"`
	Remarks             string `json:"remarks,omitempty"`

	ProgressPercentage     int    `json:"progressPercentage" validate:"gte=0,lte=100"`
	CurrentOperation       string `json:"currentOperation"`
	NextOperation          string `json:"nextOperation"`
	LastOperationCompleted string `json:"lastOperationCompleted"`

	Attachments   []Attachment   `json:"attachments" validate:"dive"`
	StatusHistory []StatusChange `json:"statusHistory"`

	CreatedBy    string     `json:"createdBy,omitempty"`
	ApprovedBy   string     `json:"approvedBy,omitempty"`
	ApprovedDate *time.Time `json:"approvedDate,omitempty"`
	ClosedBy     string     `json:"closedBy,omitempty"`
	ClosedDate   *time.Time `json:"closedDate,omitempty"`

	// Store metadata, refreshed on every load.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	changes changeLog
}

// IsTerminal reports whether s admits no further production changes.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusClosed
}

// IsTerminal reports whether the operation has finished one way or another.
func (s OperationStatus) IsTerminal() bool {
	return s == OperationCompleted || s == OperationSkipped
}
