package workorders

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-mfg/internal/shared"
)

func newTestRouter(t *testing.T) (http.Handler, *fixture) {
	t.Helper()
	f := newFixture(t, WithIdempotency(shared.NewMemoryIdempotency()))
	r := chi.NewRouter()
	r.Route("/api/v1/work-orders", NewHandler(nil, f.svc).MountRoutes)
	return r, f
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, headers ...string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func TestHandlerCreateAndGet(t *testing.T) {
	h, _ := newTestRouter(t)

	rec, body := doJSON(t, h, http.MethodPost, "/api/v1/work-orders", sampleInput())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "WO/24/03/04/00001", body["workOrderNumber"])
	id := body["id"].(string)

	rec, body = doJSON(t, h, http.MethodGet, "/api/v1/work-orders/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Bracket batch", body["workOrderName"])
	assert.Equal(t, float64(150), body["plannedCost"])

	rec, body = doJSON(t, h, http.MethodGet, "/api/v1/work-orders/by-number?number=WO/24/03/04/00001", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, body["id"])
}

func TestHandlerCreateValidationFailure(t *testing.T) {
	h, _ := newTestRouter(t)
	in := sampleInput()
	in.WorkOrderName = ""

	rec, body := doJSON(t, h, http.MethodPost, "/api/v1/work-orders", in)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, body["success"])
	assert.Contains(t, body["message"], "workOrderName")
	fields := body["fields"].(map[string]any)
	assert.Equal(t, "is required", fields["workOrderName"])
}

func TestHandlerCreateReplaysIdempotencyKey(t *testing.T) {
	h, f := newTestRouter(t)

	rec, first := doJSON(t, h, http.MethodPost, "/api/v1/work-orders", sampleInput(), IdempotencyHeader, "abc")
	require.Equal(t, http.StatusCreated, rec.Code)
	rec, second := doJSON(t, h, http.MethodPost, "/api/v1/work-orders", sampleInput(), IdempotencyHeader, "abc")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, first["workOrderNumber"], second["workOrderNumber"])

	res, err := f.svc.List(t.Context(), ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Total)
}

func TestHandlerNotFoundShapes(t *testing.T) {
	h, f := newTestRouter(t)

	rec, body := doJSON(t, h, http.MethodGet, "/api/v1/work-orders/nope", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, map[string]any{"error": "Work Order not found"}, body)

	rec, _ = doJSON(t, h, http.MethodDelete, "/api/v1/work-orders/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	wo := f.create(t, sampleInput())
	rec, body = doJSON(t, h, http.MethodPatch, "/api/v1/work-orders/"+wo.ID+"/operations/9", map[string]any{"notes": "x"})
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, body["error"], "operation not found")

	rec, body = doJSON(t, h, http.MethodPatch, "/api/v1/work-orders/"+wo.ID+"/resources/5", map[string]any{"actualCost": 1})
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, body["error"], "resource index out of range")

	rec, _ = doJSON(t, h, http.MethodPatch, "/api/v1/work-orders/"+wo.ID+"/resources/first", map[string]any{"actualCost": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerStatusTransitions(t *testing.T) {
	h, f := newTestRouter(t)
	wo := f.create(t, sampleInput())
	base := "/api/v1/work-orders/" + wo.ID

	rec, body := doJSON(t, h, http.MethodPatch, base+"/status", map[string]any{"status": "STARTED"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, body["success"])
	assert.Contains(t, body["message"], "cannot move work order from PLANNED to STARTED")

	rec, _ = doJSON(t, h, http.MethodPatch, base+"/status", map[string]any{"status": "RELEASED"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec, body = doJSON(t, h, http.MethodPatch, base+"/status", map[string]any{"status": "STARTED", "updatedBy": "lead", "remarks": "shift A"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	updated := body["workOrder"].(map[string]any)
	assert.Equal(t, "STARTED", updated["status"])
	assert.NotEmpty(t, updated["actualStartDate"])
}

func TestHandlerSubResourceUpdates(t *testing.T) {
	h, f := newTestRouter(t)
	wo := f.create(t, sampleInput())
	base := "/api/v1/work-orders/" + wo.ID

	rec, body := doJSON(t, h, http.MethodPatch, base+"/operations/1", map[string]any{"status": "COMPLETED", "operator": "Dana"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := body["workOrder"].(map[string]any)
	assert.Equal(t, float64(25), updated["progressPercentage"])
	assert.Equal(t, "Cutting", updated["lastOperationCompleted"])

	rec, body = doJSON(t, h, http.MethodPatch, base+"/resources/0", map[string]any{"actualCost": 500})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(500), body["workOrder"].(map[string]any)["actualCost"])

	rec, _ = doJSON(t, h, http.MethodPost, base+"/operations", map[string]any{"operationSequence": 9, "operationName": "Crating"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = doJSON(t, h, http.MethodDelete, base+"/operations/9", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body = doJSON(t, h, http.MethodPost, base+"/resources", map[string]any{"resourceType": "OVERHEAD", "resourceName": "Power", "plannedQuantity": 1, "standardCost": 50})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(200), body["workOrder"].(map[string]any)["plannedCost"])
	rec, _ = doJSON(t, h, http.MethodDelete, base+"/resources/2", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = doJSON(t, h, http.MethodPost, base+"/approve", map[string]any{"approvedBy": "director"})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandlerListAndDashboard(t *testing.T) {
	h, f := newTestRouter(t)
	for i := 0; i < 3; i++ {
		f.create(t, sampleInput())
	}

	rec, body := doJSON(t, h, http.MethodGet, "/api/v1/work-orders?limit=2&page=1&status=PLANNED&sortBy=workOrderNumber&sortOrder=asc", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(3), body["total"])
	assert.Equal(t, float64(2), body["totalPages"])
	assert.Equal(t, float64(2), body["limit"])
	items := body["workOrders"].([]any)
	require.Len(t, items, 2)
	assert.Equal(t, "WO/24/03/04/00001", items[0].(map[string]any)["workOrderNumber"])

	rec, _ = doJSON(t, h, http.MethodGet, "/api/v1/work-orders?page=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = doJSON(t, h, http.MethodGet, "/api/v1/work-orders/dashboard", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(3), body["totalWorkOrders"])
	assert.Equal(t, float64(3), body["plannedWorkOrders"])
	assert.Equal(t, float64(450), body["totalPlannedCost"])
	assert.Equal(t, float64(0), body["efficiencyPercentage"])
}

func TestHandlerUpdateAndDelete(t *testing.T) {
	h, f := newTestRouter(t)
	wo := f.create(t, sampleInput())
	base := "/api/v1/work-orders/" + wo.ID

	in := sampleInput()
	in.WorkOrderName = "Changed"
	rec, body := doJSON(t, h, http.MethodPut, base, in)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Work Order updated successfully", body["message"])

	rec, body = doJSON(t, h, http.MethodDelete, base, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])

	rec, _ = doJSON(t, h, http.MethodGet, base, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerMalformedJSON(t *testing.T) {
	h, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/work-orders", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
