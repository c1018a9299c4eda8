package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/ventureflow/internal/ctxkeys"
	"github.com/BaSui01/ventureflow/types"
)

// Response is the uniform JSON envelope of every API reply.
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	RequestID string     `json:"request_id,omitempty"`
}

// ErrorInfo carries the machine-readable error portion of a Response.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteJSON serializes the envelope with the given status code.
func WriteJSON(w http.ResponseWriter, r *http.Request, status int, resp Response) {
	resp.Timestamp = time.Now().UTC()
	if id, ok := ctxkeys.RequestID(r.Context()); ok {
		resp.RequestID = id
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		zap.L().Error("response encode failed", zap.Error(err))
	}
}

// WriteSuccess replies with a successful envelope wrapping data.
func WriteSuccess(w http.ResponseWriter, r *http.Request, status int, data any) {
	WriteJSON(w, r, status, Response{Success: true, Data: data})
}

// WriteError maps an error to its HTTP status and replies with an error
// envelope. Unknown errors become opaque internal errors.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *types.Error
	if !errors.As(err, &appErr) {
		appErr = types.NewError(types.ErrInternalError, "internal server error")
	}
	status := appErr.HTTPStatus
	if status == 0 {
		status = mapErrorCodeToHTTPStatus(appErr.Code)
	}
	WriteJSON(w, r, status, Response{
		Success: false,
		Error:   &ErrorInfo{Code: string(appErr.Code), Message: appErr.Message},
	})
}

// WriteErrorMessage is a shorthand for code-plus-message replies.
func WriteErrorMessage(w http.ResponseWriter, r *http.Request, code types.ErrorCode, message string) {
	WriteError(w, r, types.NewError(code, message))
}

// WriteRateLimited replies 429 with a Retry-After hint in seconds.
func WriteRateLimited(w http.ResponseWriter, r *http.Request, retryAfter time.Duration) {
	secs := int(retryAfter / time.Second)
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	WriteErrorMessage(w, r, types.ErrRateLimited, "quota exceeded, retry later")
}

func mapErrorCodeToHTTPStatus(code types.ErrorCode) int {
	switch code {
	case types.ErrInvalidRequest:
		return http.StatusBadRequest
	case types.ErrUnauthorized:
		return http.StatusUnauthorized
	case types.ErrForbidden:
		return http.StatusForbidden
	case types.ErrNotFound, types.ErrSessionNotFound, types.ErrReportNotFound:
		return http.StatusNotFound
	case types.ErrRateLimited, types.ErrBudgetExhausted:
		return http.StatusTooManyRequests
	case types.ErrTimeout:
		return http.StatusGatewayTimeout
	case types.ErrUpstreamError, types.ErrAgentFailed:
		return http.StatusBadGateway
	case types.ErrServiceUnavailable, types.ErrStoreUnavailable:
		return http.StatusServiceUnavailable
	case types.ErrSessionTerminal:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
