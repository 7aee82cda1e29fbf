package web

// errors.go provides unified error response handling for the web layer.
//
// Every failure goes through respondError:
//  1. core.MapError turns the error into a user message and support code
//  2. the code picks the HTTP status
//  3. the technical error is logged with the request id for correlation
//  4. the client gets the message, the action and the code as JSON

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"

	"github.com/JonMunkholm/fieldexport/internal/core"
	"github.com/JonMunkholm/fieldexport/internal/logging"
	"github.com/JonMunkholm/fieldexport/internal/unique"
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`

	// set when a uniqueness check fails
	InputRef string `json:"input_ref,omitempty"`
	Question string `json:"question,omitempty"`
}

var errUnauthenticated = errors.New("unauthorized: request has no user")

// statusByCode maps support codes to HTTP statuses. Codes not listed are
// server errors.
var statusByCode = map[string]int{
	"EXP001": http.StatusBadRequest,
	"EXP002": http.StatusServiceUnavailable,
	"EXP004": http.StatusGatewayTimeout,
	"EXP005": http.StatusNotFound,
	"EXP006": http.StatusConflict,
	"EXP007": http.StatusConflict,
	"MAP001": http.StatusUnprocessableEntity,
	"MAP002": http.StatusNotFound,
	"MAP003": http.StatusConflict,
	"UNQ001": http.StatusConflict,
	"UNQ002": http.StatusUnprocessableEntity,
	"DB001":  http.StatusServiceUnavailable,
	"DB002":  http.StatusServiceUnavailable,
	"DB003":  http.StatusGatewayTimeout,
	"DB004":  http.StatusServiceUnavailable,
	"REQ001": http.StatusNotFound,
	"REQ002": http.StatusBadRequest,
	"REQ003": http.StatusRequestTimeout,
	"REQ004": http.StatusTooManyRequests,
	"REQ005": http.StatusUnauthorized,
}

func statusFor(code string) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// respondError logs the technical error server-side and returns the mapped
// user message to the client.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	msg := core.MapError(err)
	status := statusFor(msg.Code)

	logger := logging.WithFields(r.Context(),
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"code", msg.Code,
	)
	if status >= http.StatusInternalServerError {
		logger.Error("request error", "error", err.Error())
	} else {
		logger.Info("request rejected", "error", err.Error())
	}

	resp := ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	}
	var dup *unique.DuplicateError
	if errors.As(err, &dup) {
		resp.InputRef = dup.InputRef
		resp.Question = dup.Question
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "30")
	}

	render.Status(r, status)
	render.JSON(w, r, resp)
}
