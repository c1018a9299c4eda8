package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/ventureflow/internal/ctxkeys"
	"github.com/BaSui01/ventureflow/types"
)

func TestWriteSuccessEnvelope(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req = req.WithContext(ctxkeys.WithRequestID(req.Context(), "req-abc"))
	rec := httptest.NewRecorder()

	WriteSuccess(rec, req, http.StatusOK, map[string]string{"k": "v"})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "req-abc", body["request_id"])
	assert.NotEmpty(t, body["timestamp"])
	assert.Equal(t, map[string]any{"k": "v"}, body["data"])
}

func TestWriteErrorStatusMapping(t *testing.T) {
	cases := []struct {
		code types.ErrorCode
		want int
	}{
		{types.ErrInvalidRequest, http.StatusBadRequest},
		{types.ErrUnauthorized, http.StatusUnauthorized},
		{types.ErrForbidden, http.StatusForbidden},
		{types.ErrSessionNotFound, http.StatusNotFound},
		{types.ErrReportNotFound, http.StatusNotFound},
		{types.ErrRateLimited, http.StatusTooManyRequests},
		{types.ErrBudgetExhausted, http.StatusTooManyRequests},
		{types.ErrTimeout, http.StatusGatewayTimeout},
		{types.ErrAgentFailed, http.StatusBadGateway},
		{types.ErrStoreUnavailable, http.StatusServiceUnavailable},
		{types.ErrSessionTerminal, http.StatusConflict},
		{types.ErrInternalError, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(string(tc.code), func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			rec := httptest.NewRecorder()
			WriteError(rec, req, types.NewError(tc.code, "boom"))
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestWriteErrorHidesUnknownErrors(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	rec := httptest.NewRecorder()

	WriteError(rec, req, errors.New("pq: connection reset"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	errObj := body["error"].(map[string]any)
	assert.Equal(t, string(types.ErrInternalError), errObj["code"])
	assert.NotContains(t, errObj["message"], "pq:")
}

func TestWriteErrorHonorsExplicitHTTPStatus(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	rec := httptest.NewRecorder()

	err := types.NewError(types.ErrInvalidRequest, "teapot").WithHTTPStatus(http.StatusTeapot)
	WriteError(rec, req, err)

	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestWriteRateLimitedRetryAfter(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/x", nil)
	rec := httptest.NewRecorder()

	WriteRateLimited(rec, req, 90*time.Second)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "90", rec.Header().Get("Retry-After"))
}

func TestWriteRateLimitedMinimumOneSecond(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/x", nil)
	rec := httptest.NewRecorder()

	WriteRateLimited(rec, req, 0)

	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}
