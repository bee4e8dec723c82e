package api

import (
	"errors"
	"net/http"

	"panwatch/internal/engine"
	"panwatch/pkg/panwatch"
)

// Response represents a successful API response with unified format.
type Response struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// ErrorResponse represents an error API response with structured information.
type ErrorResponse struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	ErrorCode string `json:"error_code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func writeSuccess(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, Response{Code: 0, Data: data})
}

func writeSuccessWithMessage(w http.ResponseWriter, message string, data any) {
	writeJSON(w, http.StatusOK, Response{Code: 0, Message: message, Data: data})
}

// writeErrorResponse maps err to a status. Coded store errors and engine
// sentinels override httpStatus.
func writeErrorResponse(w http.ResponseWriter, r *http.Request, httpStatus int, err error) {
	response := ErrorResponse{Message: err.Error(), RequestID: requestID(r)}

	var coded *panwatch.Error
	switch {
	case errors.As(err, &coded):
		response.ErrorCode = string(coded.Code)
		httpStatus = mapErrorCodeToHTTPStatus(coded.Code)
	case errors.Is(err, engine.ErrUnknownAgent), errors.Is(err, engine.ErrAgentDisabled):
		response.ErrorCode = string(panwatch.ErrCodeInvalidInput)
		httpStatus = http.StatusBadRequest
	case errors.Is(err, engine.ErrShuttingDown):
		response.ErrorCode = string(panwatch.ErrCodeUnavailable)
		httpStatus = http.StatusServiceUnavailable
	}
	response.Code = httpStatus

	annotate(w, "error_message", response.Message)
	if response.ErrorCode != "" {
		annotate(w, "error_code", response.ErrorCode)
	}
	writeJSON(w, httpStatus, response)
}

func mapErrorCodeToHTTPStatus(code panwatch.ErrorCode) int {
	switch code {
	case panwatch.ErrCodeInvalidInput, panwatch.ErrCodeValidation:
		return http.StatusBadRequest
	case panwatch.ErrCodeNotFound:
		return http.StatusNotFound
	case panwatch.ErrCodeDuplicate:
		return http.StatusConflict
	case panwatch.ErrCodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
