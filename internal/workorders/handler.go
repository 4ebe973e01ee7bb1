package workorders

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-mfg/internal/platform/httpx"
)

// IdempotencyHeader carries the client-chosen key that makes create retry-safe.
const IdempotencyHeader = "Idempotency-Key"

// Handler exposes work orders over JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

type createResponse struct {
	Success         bool   `json:"success"`
	ID              string `json:"id,omitempty"`
	WorkOrderNumber string `json:"workOrderNumber"`
}

type messageResponse struct {
	Success   bool              `json:"success"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	WorkOrder *WorkOrder        `json:"workOrder,omitempty"`
}

type notFoundResponse struct {
	Error string `json:"error"`
}

type approveRequest struct {
	ApprovedBy string `json:"approvedBy"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var input WorkOrder
	if err := httpx.DecodeJSON(r, &input); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.service.Create(r.Context(), input, r.Header.Get(IdempotencyHeader))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	httpx.JSON(w, status, createResponse{Success: true, ID: res.WorkOrder.ID, WorkOrderNumber: res.WorkOrder.WorkOrderNumber})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOptions(r.URL.Query())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.service.List(r.Context(), opts)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Dashboard(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, stats)
}

func (h *Handler) getByNumber(w http.ResponseWriter, r *http.Request) {
	number := strings.TrimSpace(r.URL.Query().Get("number"))
	if number == "" {
		h.fail(w, r, fieldError("number", "is required"))
		return
	}
	wo, err := h.service.GetByNumber(r.Context(), number)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, wo)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	wo, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, wo)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	var input WorkOrder
	if err := httpx.DecodeJSON(r, &input); err != nil {
		h.fail(w, r, err)
		return
	}
	wo, err := h.service.Update(r.Context(), chi.URLParam(r, "id"), input)
	h.respondMutation(w, r, wo, err, "Work Order updated successfully")
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, messageResponse{Success: true, Message: "Work Order deleted successfully"})
}

func (h *Handler) changeStatus(w http.ResponseWriter, r *http.Request) {
	var req TransitionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	wo, err := h.service.ChangeStatus(r.Context(), chi.URLParam(r, "id"), req)
	h.respondMutation(w, r, wo, err, fmt.Sprintf("Work Order status updated to %s", req.Status))
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	wo, err := h.service.Approve(r.Context(), chi.URLParam(r, "id"), req.ApprovedBy)
	h.respondMutation(w, r, wo, err, "Work Order approved")
}

func (h *Handler) updateOperation(w http.ResponseWriter, r *http.Request) {
	seq, err := pathInt(r, "sequence")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var upd OperationUpdate
	if err := httpx.DecodeJSON(r, &upd); err != nil {
		h.fail(w, r, err)
		return
	}
	wo, err := h.service.UpdateOperation(r.Context(), chi.URLParam(r, "id"), seq, upd)
	h.respondMutation(w, r, wo, err, "Operation updated successfully")
}

func (h *Handler) addOperation(w http.ResponseWriter, r *http.Request) {
	var op Operation
	if err := httpx.DecodeJSON(r, &op); err != nil {
		h.fail(w, r, err)
		return
	}
	wo, err := h.service.AddOperation(r.Context(), chi.URLParam(r, "id"), op)
	h.respondMutation(w, r, wo, err, "Operation added successfully")
}

func (h *Handler) removeOperation(w http.ResponseWriter, r *http.Request) {
	seq, err := pathInt(r, "sequence")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	wo, err := h.service.RemoveOperation(r.Context(), chi.URLParam(r, "id"), seq)
	h.respondMutation(w, r, wo, err, "Operation removed successfully")
}

func (h *Handler) updateResource(w http.ResponseWriter, r *http.Request) {
	index, err := pathInt(r, "index")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var upd ResourceUpdate
	if err := httpx.DecodeJSON(r, &upd); err != nil {
		h.fail(w, r, err)
		return
	}
	wo, err := h.service.UpdateResource(r.Context(), chi.URLParam(r, "id"), index, upd)
	h.respondMutation(w, r, wo, err, "Resource updated successfully")
}

func (h *Handler) addResource(w http.ResponseWriter, r *http.Request) {
	var res Resource
	if err := httpx.DecodeJSON(r, &res); err != nil {
		h.fail(w, r, err)
		return
	}
	wo, err := h.service.AddResource(r.Context(), chi.URLParam(r, "id"), res)
	h.respondMutation(w, r, wo, err, "Resource added successfully")
}

func (h *Handler) removeResource(w http.ResponseWriter, r *http.Request) {
	index, err := pathInt(r, "index")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	wo, err := h.service.RemoveResource(r.Context(), chi.URLParam(r, "id"), index)
	h.respondMutation(w, r, wo, err, "Resource removed successfully")
}

func (h *Handler) respondMutation(w http.ResponseWriter, r *http.Request, wo *WorkOrder, err error, message string) {
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, messageResponse{Success: true, Message: message, WorkOrder: wo})
}

// fail maps domain errors onto the response shapes clients depend on and
// leaves anything else to httpx.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var verr *ValidationError
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrOperationNotFound), errors.Is(err, ErrResourceIndexOutOfRange):
		httpx.JSON(w, http.StatusNotFound, notFoundResponse{Error: err.Error()})
	case errors.As(err, &verr):
		httpx.JSON(w, http.StatusBadRequest, messageResponse{Message: verr.Error(), Fields: verr.Fields})
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrTerminalState), errors.Is(err, httpx.ErrValidation):
		httpx.JSON(w, http.StatusBadRequest, messageResponse{Message: err.Error()})
	case errors.Is(err, ErrConflict):
		httpx.JSON(w, http.StatusConflict, messageResponse{Message: err.Error()})
	case errors.Is(err, ErrStoreUnavailable):
		h.logger.Error("workorders: store unavailable", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.RespondError(w, r, httpx.ErrUnavailable)
	default:
		h.logger.Error("workorders: request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.RespondError(w, r, err)
	}
}

func pathInt(r *http.Request, name string) (int, error) {
	raw := chi.URLParam(r, name)
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fieldError(name, "must be an integer, got %q", raw)
	}
	return v, nil
}

func parseListOptions(q url.Values) (ListOptions, error) {
	verr := newValidationError()
	opts := ListOptions{
		Search:     strings.TrimSpace(q.Get("search")),
		Type:       Type(q.Get("type")),
		Status:     Status(q.Get("status")),
		Priority:   Priority(q.Get("priority")),
		CustomerID: q.Get("customerId"),
		Department: q.Get("department"),
		WorkCenter: q.Get("workCenter"),
		SortBy:     q.Get("sortBy"),
		SortDesc:   !strings.EqualFold(q.Get("sortOrder"), "asc"),
	}
	opts.Page = queryInt(q, "page", verr)
	opts.Limit = queryInt(q, "limit", verr)
	opts.PlannedStartFrom = queryTime(q, "plannedStartFrom", verr)
	opts.PlannedStartTo = queryTime(q, "plannedStartTo", verr)
	opts.DueFrom = queryTime(q, "dueFrom", verr)
	opts.DueTo = queryTime(q, "dueTo", verr)
	opts.MinPlannedCost = queryFloat(q, "minPlannedCost", verr)
	opts.MaxPlannedCost = queryFloat(q, "maxPlannedCost", verr)
	return opts, verr.orNil()
}

func queryInt(q url.Values, key string, verr *ValidationError) int {
	raw := q.Get(key)
	if raw == "" {
		return 0
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		verr.add(key, "must be an integer")
	}
	return v
}

func queryFloat(q url.Values, key string, verr *ValidationError) *float64 {
	raw := q.Get(key)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		verr.add(key, "must be a number")
		return nil
	}
	return &v
}

// queryTime accepts RFC3339 timestamps or plain 2006-01-02 dates (UTC).
func queryTime(q url.Values, key string, verr *ValidationError) *time.Time {
	raw := q.Get(key)
	if raw == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		verr.add(key, "must be a date (YYYY-MM-DD) or RFC3339 timestamp")
		return nil
	}
	return &t
}
