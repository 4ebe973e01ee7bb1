package workorders

import (
	"errors"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks structural and business rules of a candidate work order.
// Call it after defaults have been applied.
func Validate(w *WorkOrder) error {
	verr := newValidationError()
	collectStructErrors(verr, validate.Struct(w), "")

	if w.PlannedStartDate != nil && w.PlannedEndDate != nil && w.PlannedEndDate.Before(*w.PlannedStartDate) {
		verr.add("plannedEndDate", "must not be before plannedStartDate")
	}

	seen := make(map[int]int, len(w.Operations))
	for i, op := range w.Operations {
		if prev, dup := seen[op.OperationSequence]; dup {
			verr.add("operations["+strconv.Itoa(i)+"].operationSequence",
				"duplicates operations[%d].operationSequence (%d)", prev, op.OperationSequence)
			continue
		}
		seen[op.OperationSequence] = i
		checkOperationWindow(verr, op, "operations["+strconv.Itoa(i)+"].")
	}
	return verr.orNil()
}

func validateOperation(op Operation, prefix string) error {
	verr := newValidationError()
	collectStructErrors(verr, validate.Struct(op), prefix+".")
	checkOperationWindow(verr, op, prefix+".")
	return verr.orNil()
}

func checkOperationWindow(verr *ValidationError, op Operation, prefix string) {
	if op.StartDateTime != nil && op.EndDateTime != nil && op.EndDateTime.Before(*op.StartDateTime) {
		verr.add(prefix+"endDateTime", "must not be before startDateTime")
	}
}

func validateResource(r Resource, prefix string) error {
	verr := newValidationError()
	collectStructErrors(verr, validate.Struct(r), prefix+".")
	return verr.orNil()
}

func validateOperationUpdate(upd OperationUpdate) error {
	verr := newValidationError()
	if upd.Status != nil {
		switch *upd.Status {
		case OperationPlanned, OperationStarted, OperationPaused, OperationCompleted, OperationSkipped:
		default:
			verr.add("status", "must be one of PLANNED, STARTED, PAUSED, COMPLETED, SKIPPED")
		}
	}
	if upd.ActualTime != nil && *upd.ActualTime < 0 {
		verr.add("actualTime", "must be greater than or equal to 0")
	}
	if upd.QualityChecks != nil {
		for i, c := range normalizeChecks(*upd.QualityChecks) {
			collectStructErrors(verr, validate.Struct(c), "qualityChecks["+strconv.Itoa(i)+"].")
		}
	}
	return verr.orNil()
}

func validateResourceUpdate(upd ResourceUpdate) error {
	verr := newValidationError()
	if upd.ActualQuantity != nil && *upd.ActualQuantity < 0 {
		verr.add("actualQuantity", "must be greater than or equal to 0")
	}
	if upd.ActualCost != nil && *upd.ActualCost < 0 {
		verr.add("actualCost", "must be greater than or equal to 0")
	}
	if upd.Status != nil {
		switch *upd.Status {
		case ResourcePlanned, ResourceAllocated, ResourceInUse, ResourceCompleted, ResourceReturned:
		default:
			verr.add("status", "must be one of PLANNED, ALLOCATED, IN_USE, COMPLETED, RETURNED")
		}
	}
	return verr.orNil()
}

// collectStructErrors translates validator errors into JSON-path keyed messages.
func collectStructErrors(verr *ValidationError, err error, prefix string) {
	if err == nil {
		return
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		verr.add(strings.TrimSuffix(prefix, ".")+"_", "%v", err)
		return
	}
	for _, fe := range fieldErrs {
		path := fe.Namespace()
		if i := strings.IndexByte(path, '.'); i >= 0 {
			path = path[i+1:]
		}
		verr.add(prefix+path, "%s", describe(fe))
	}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gte":
		return "must be greater than or equal to " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "lte":
		return "must be less than or equal to " + fe.Param()
	case "oneof":
		return "must be one of " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "min":
		if fe.Kind() == reflect.Slice {
			return "must contain at least " + fe.Param() + " item(s)"
		}
		return "must be at least " + fe.Param()
	}
	return "failed " + fe.Tag() + " validation"
}
