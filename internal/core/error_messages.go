package core

// # Error Codes Reference
//
// Every error that reaches a client is mapped to a UserMessage with a code
// support staff can look up. Known sentinel errors are classified first;
// anything else falls through to substring patterns on the error text.
//
// # Export Errors (EXP001-EXP099)
//
//	EXP001 - Unsupported format: only csv and json are available
//	EXP002 - System busy: too many exports in progress
//	EXP003 - Export failed: the archive could not be built
//	EXP004 - Export timed out
//	EXP005 - Archive not found: nothing has been exported yet
//	EXP006 - Export locked: another export is writing the same file
//	EXP007 - Export in progress: this user's export of the project is running
//
// # Mapping Errors (MAP001-MAP099)
//
//	MAP001 - Invalid mapping: column names are empty, duplicated, too long,
//	         reserved or use characters outside A-Z, 0-9 and _
//	MAP002 - Mapping not found
//	MAP003 - Default mapping is read-only
//
// # Uniqueness Errors (UNQ001-UNQ099)
//
//	UNQ001 - Duplicate answer
//	UNQ002 - Invalid date or time answer
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Connection refused
//	DB002 - Connection reset
//	DB003 - Timeout
//	DB004 - Deadlock
//	DB005 - Invalid project definition
//
// # Request Errors (REQ001-REQ099)
//
//	REQ001 - Project not found
//	REQ002 - Invalid request
//	REQ003 - Request cancelled
//	REQ004 - Rate limit exceeded
//	REQ005 - Unauthorized

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/fieldexport/internal/export"
	"github.com/JonMunkholm/fieldexport/internal/mapping"
	"github.com/JonMunkholm/fieldexport/internal/schema"
	"github.com/JonMunkholm/fieldexport/internal/store"
	"github.com/JonMunkholm/fieldexport/internal/unique"
)

// UserMessage is the client-facing description of an error.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

var (
	// ErrInvalidRequest marks malformed client input.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrArchiveNotFound is returned when a download is requested before
	// any archive was built.
	ErrArchiveNotFound = errors.New("archive not found")
)

var (
	msgUnsupportedFormat = UserMessage{"Unsupported export format", "Choose csv or json", "EXP001"}
	msgExportsBusy       = UserMessage{"Too many exports are running", "Please wait a moment and try again", "EXP002"}
	msgExportFailed      = UserMessage{"The export could not be completed", "Please try again; contact support if it keeps failing", "EXP003"}
	msgExportTimeout     = UserMessage{"The export took too long", "Narrow the date range and try again", "EXP004"}
	msgArchiveNotFound   = UserMessage{"No archive is available", "Run an export first", "EXP005"}
	msgExportLocked      = UserMessage{"Another export is writing the same file", "Wait for it to finish and try again", "EXP006"}
	msgExportRunning     = UserMessage{"Your export of this project is still running", "Wait for it to finish before starting or resetting another", "EXP007"}

	msgInvalidMapping   = UserMessage{"The mapping has invalid column names", "Use unique names of letters, digits and underscores", "MAP001"}
	msgMappingNotFound  = UserMessage{"Mapping not found", "Pick one of the project's mappings", "MAP002"}
	msgDefaultImmutable = UserMessage{"The generated mapping cannot be changed", "Copy it to a new mapping and edit that", "MAP003"}

	msgDuplicate   = UserMessage{"This answer already exists", "Enter a different value", "UNQ001"}
	msgInvalidDate = UserMessage{"The date or time answer is not valid", "Send an ISO 8601 timestamp", "UNQ002"}

	msgInvalidDefinition = UserMessage{"The project definition is corrupt", "Contact support", "DB005"}

	msgProjectNotFound = UserMessage{"Project not found", "Check the project slug", "REQ001"}
	msgInvalidRequest  = UserMessage{"The request is not valid", "Check the parameters and try again", "REQ002"}
	msgCancelled       = UserMessage{"Request was cancelled", "Please try again", "REQ003"}
)

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	{"connection refused", UserMessage{"Unable to connect to database", "Please try again in a few moments", "DB001"}},
	{"connection reset", UserMessage{"Database connection was interrupted", "Please try again", "DB002"}},
	{"timeout", UserMessage{"Operation timed out", "Please try again later", "DB003"}},
	{"deadlock", UserMessage{"Database was busy with conflicting operations", "Please try again", "DB004"}},
	{"rate limit", UserMessage{"Too many requests", "Please slow down and try again shortly", "REQ004"}},
	{"unauthorized", UserMessage{"Authentication required", "Provide a valid API key", "REQ005"}},
	{"is not a valid", msgInvalidDate},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// classify maps known error values. Order matters: a cancelled export is a
// cancellation before it is an export failure.
func classify(err error) (UserMessage, bool) {
	var dup *unique.DuplicateError
	switch {
	case errors.As(err, &dup):
		return msgDuplicate, true
	case errors.Is(err, context.Canceled):
		return msgCancelled, true
	case errors.Is(err, context.DeadlineExceeded):
		return msgExportTimeout, true
	case errors.Is(err, export.ErrUnsupportedFormat):
		return msgUnsupportedFormat, true
	case errors.Is(err, ErrTooManyExports):
		return msgExportsBusy, true
	case errors.Is(err, ErrExportInProgress):
		return msgExportRunning, true
	case errors.Is(err, ErrArchiveNotFound):
		return msgArchiveNotFound, true
	case errors.Is(err, export.ErrLocked):
		return msgExportLocked, true
	case errors.Is(err, mapping.ErrInvalid):
		return msgInvalidMapping, true
	case errors.Is(err, mapping.ErrNotFound):
		return msgMappingNotFound, true
	case errors.Is(err, mapping.ErrDefaultImmutable):
		return msgDefaultImmutable, true
	case errors.Is(err, schema.ErrInvalidDefinition):
		return msgInvalidDefinition, true
	case errors.Is(err, store.ErrNotFound):
		return msgProjectNotFound, true
	case errors.Is(err, ErrInvalidRequest):
		return msgInvalidRequest, true
	}
	return UserMessage{}, false
}

// MapError converts a technical error into a user-friendly message.
// Returns an empty UserMessage for nil and the ERR000 fallback for anything
// unrecognised.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	if msg, ok := classify(err); ok {
		return msg
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	var exportErr *export.Error
	if errors.As(err, &exportErr) {
		return msgExportFailed
	}
	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than
// the generic fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error with its user-friendly message.
type UserError struct {
	Technical error       // Original technical error for logging
	User      UserMessage // User-friendly message for display
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err; returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
