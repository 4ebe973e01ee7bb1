package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-mfg/internal/platform/docstore"
)

func TestRespondErrorStatusMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		kind   string
	}{
		{fmt.Errorf("load: %w", docstore.ErrNotFound), http.StatusNotFound, "not_found"},
		{docstore.ErrDuplicate, http.StatusConflict, "conflict"},
		{ErrValidation, http.StatusBadRequest, "validation_error"},
		{fmt.Errorf("dial: %w", docstore.ErrUnavailable), http.StatusServiceUnavailable, "store_unavailable"},
		{fmt.Errorf("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/things/1", nil)
		RespondError(rec, req, tc.err)

		require.Equal(t, tc.status, rec.Code, tc.err.Error())
		assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, tc.kind, body["type"])
		assert.Equal(t, "/api/v1/things/1", body["instance"])
		assert.EqualValues(t, tc.status, body["status"])
	}
}

func TestDecodeJSONWrapsValidation(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{not json"))
	var target map[string]any
	err := DecodeJSON(req, &target)
	assert.ErrorIs(t, err, ErrValidation)
}
