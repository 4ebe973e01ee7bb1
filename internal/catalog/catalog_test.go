package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-mfg/internal/platform/docstore"
	"github.com/odyssey-erp/odyssey-mfg/internal/shared"
)

func newService() *Service {
	store := docstore.NewMemory(docstore.WithUniqueField(Collection, "operationCode"))
	return NewService(store, nil)
}

func TestCreateDerivesTotalTime(t *testing.T) {
	svc := newService()
	ctx := shared.ContextWithActor(context.Background(), "planner")

	op, err := svc.Create(ctx, Operation{
		OperationCode: " OP-010 ",
		OperationName: "Rough milling",
		WorkCenter:    "WC-MILL",
		SetupTime:     15,
		CNCTime:       42.5,
		TotalTime:     1,
		Active:        true,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, op.ID)
	assert.Equal(t, "OP-010", op.OperationCode)
	assert.InDelta(t, 57.5, op.TotalTime, 1e-9)
	assert.Equal(t, "planner", op.CreatedBy)
	assert.EqualValues(t, 1, op.Version)
}

func TestCreateValidation(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	_, err := svc.Create(ctx, Operation{OperationName: "No code"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.Create(ctx, Operation{OperationCode: "OP-1", OperationName: "Negative", SetupTime: -1})
	assert.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "SetupTime")
}

func TestCreateRejectsDuplicateCode(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	_, err := svc.Create(ctx, Operation{OperationCode: "OP-1", OperationName: "First"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, Operation{OperationCode: "OP-1", OperationName: "Second"})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestUpdateRecomputesTotalTime(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	op, err := svc.Create(ctx, Operation{OperationCode: "OP-1", OperationName: "Drill", SetupTime: 5, CNCTime: 10})
	require.NoError(t, err)

	updated, err := svc.Update(ctx, op.ID, Operation{OperationCode: "OP-1", OperationName: "Drill deep", SetupTime: 8, CNCTime: 30})
	require.NoError(t, err)
	assert.Equal(t, "Drill deep", updated.OperationName)
	assert.InDelta(t, 38, updated.TotalTime, 1e-9)
	assert.EqualValues(t, 2, updated.Version)
	assert.Equal(t, op.CreatedAt, updated.CreatedAt)

	_, err = svc.Update(ctx, "missing", Operation{OperationCode: "X", OperationName: "Y"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListFiltersAndPages(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	seed := []Operation{
		{OperationCode: "OP-030", OperationName: "Deburr", WorkCenter: "WC-BENCH", Active: true},
		{OperationCode: "OP-010", OperationName: "Cut stock", WorkCenter: "WC-SAW", Active: true},
		{OperationCode: "OP-020", OperationName: "Mill pocket", WorkCenter: "WC-MILL", Active: false},
		{OperationCode: "OP-040", OperationName: "Mill face", WorkCenter: "WC-MILL", Active: true},
	}
	for _, op := range seed {
		_, err := svc.Create(ctx, op)
		require.NoError(t, err)
	}

	res, err := svc.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, res.Operations, 4)
	assert.Equal(t, "OP-010", res.Operations[0].OperationCode)
	assert.Equal(t, "OP-040", res.Operations[3].OperationCode)

	res, err = svc.List(ctx, ListFilter{Search: "mill"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)

	res, err = svc.List(ctx, ListFilter{WorkCenter: "WC-MILL", ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, res.Operations, 1)
	assert.Equal(t, "OP-040", res.Operations[0].OperationCode)

	res, err = svc.List(ctx, ListFilter{Page: 2, Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Total)
	assert.Equal(t, 2, res.TotalPages)
	require.Len(t, res.Operations, 1)
	assert.Equal(t, "OP-040", res.Operations[0].OperationCode)
}

func TestDelete(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	op, err := svc.Create(ctx, Operation{OperationCode: "OP-1", OperationName: "Drill"})
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, op.ID))
	assert.ErrorIs(t, svc.Delete(ctx, op.ID), ErrNotFound)
	_, err = svc.Get(ctx, op.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	h := NewHandler(nil, newService())
	r := chi.NewRouter()
	r.Route("/api/v1/operation-catalog", h.MountRoutes)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func send(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out := map[string]any{}
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func TestHandlerCRUD(t *testing.T) {
	srv := newServer(t)
	base := srv.URL + "/api/v1/operation-catalog"

	resp, created := send(t, http.MethodPost, base, map[string]any{
		"operationCode": "OP-100",
		"operationName": "Turn OD",
		"setupTime":     20,
		"cncTime":       12,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.EqualValues(t, 32, created["totalTime"])
	id := created["id"].(string)

	resp, got := send(t, http.MethodGet, base+"/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Turn OD", got["operationName"])

	resp, updated := send(t, http.MethodPut, base+"/"+id, map[string]any{
		"operationCode": "OP-100",
		"operationName": "Turn OD finish",
		"setupTime":     20,
		"cncTime":       25,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 45, updated["totalTime"])

	resp, list := send(t, http.MethodGet, base+"?search=finish", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, list["total"])

	resp, _ = send(t, http.MethodDelete, base+"/"+id, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, problem := send(t, http.MethodGet, base+"/"+id, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", problem["type"])
}

func TestHandlerErrors(t *testing.T) {
	srv := newServer(t)
	base := srv.URL + "/api/v1/operation-catalog"

	resp, problem := send(t, http.MethodPost, base, map[string]any{"operationName": "No code"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation_error", problem["type"])

	resp, _ = send(t, http.MethodPost, base, map[string]any{"operationCode": "OP-1", "operationName": "A"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, problem = send(t, http.MethodPost, base, map[string]any{"operationCode": "OP-1", "operationName": "B"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "conflict", problem["type"])
}
