package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/johnnynv/issuesync/pkg/types"
)

// Response is the envelope every endpoint answers with. On failure Message
// carries the error kind so clients can branch without parsing Error.
type Response struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

func NewJSONResponse(data interface{}) *Response {
	return &Response{Success: true, Data: data, Timestamp: time.Now()}
}

// NewMessageResponse is a success without a payload.
func NewMessageResponse(message string) *Response {
	return &Response{Success: true, Message: message, Timestamp: time.Now()}
}

func NewErrorResponse(err string) *Response {
	return &Response{Error: err, Timestamp: time.Now()}
}

// Write sends 200 for a success and 500 otherwise.
func (r *Response) Write(w http.ResponseWriter) {
	status := http.StatusOK
	if !r.Success {
		status = http.StatusInternalServerError
	}
	r.WriteWithStatus(w, status)
}

func (r *Response) WriteWithStatus(w http.ResponseWriter, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(r)
}

var kindStatus = map[types.ErrorKind]int{
	types.KindConfiguration:        http.StatusBadRequest,
	types.KindMapping:              http.StatusBadRequest,
	types.KindAuth:                 http.StatusUnauthorized,
	types.KindPermission:           http.StatusForbidden,
	types.KindNotFound:             http.StatusNotFound,
	types.KindConflictUnresolvable: http.StatusConflict,
	types.KindRateLimitExceeded:    http.StatusTooManyRequests,
	types.KindTransientNetwork:     http.StatusBadGateway,
}

// syncInProgressCode is the kind reported for a rejected concurrent run.
const syncInProgressCode = "SyncInProgress"

// StatusFor maps an error to its HTTP status code
func StatusFor(err error) int {
	if errors.Is(err, types.ErrSyncInProgress) {
		return http.StatusConflict
	}
	if status, ok := kindStatus[types.KindOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WriteError writes err with the status its kind maps to. Internal errors
// are not echoed to the caller.
func WriteError(w http.ResponseWriter, err error) {
	status := StatusFor(err)

	response := NewErrorResponse("internal server error")
	if status != http.StatusInternalServerError {
		response.Error = err.Error()
	}

	switch kind := types.KindOf(err); {
	case errors.Is(err, types.ErrSyncInProgress):
		response.Message = syncInProgressCode
	case kind != types.KindInternal:
		response.Message = string(kind)
	}

	response.WriteWithStatus(w, status)
}
