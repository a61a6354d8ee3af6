package core

// # Error Codes Reference
//
// User-facing messages carry a code for support reference. Typed errors are
// mapped by sentinel first, platform responses by HTTP status; anything else
// falls back to pattern matching on the error text.
//
// # Configuration Errors (CFG001-CFG099)
//
//	CFG001 - Invalid configuration: A configuration value is missing or invalid
//	         Action: Check the config file and environment variables
//	CFG002 - Ambiguous reinstatements: Both reinstatement styles are present
//	         Action: Use either the reinstatements column or the count/premium/brokerage columns
//
// # Validation Errors (VAL001-VAL099)
//
//	VAL001 - Empty input: The input has no rows
//	VAL002 - Missing column: Required column is missing from the input
//	VAL003 - Duplicate layer: A layer id occurs more than once
//	VAL004 - Empty value: A required cell is empty
//
// # Parse Errors (PRS001-PRS099)
//
//	PRS001 - Invalid reinstatements: A reinstatements value could not be decoded
//	PRS002 - Invalid date: A date could not be recognized
//	PRS003 - Invalid number: A numeric cell is not a number
//	PRS004 - Invalid value: Any other unreadable cell
//
// # Remote Errors (API001-API099)
//
//	API001 - Unauthorized: The platform rejected the credentials
//	        Status: 401, 403
//	API002 - Connection refused: Unable to reach the platform
//	        Patterns: "connection refused", "no such host"
//	API003 - Processing timeout: A loss set did not finish processing in time
//	API004 - Request timeout: A request to the platform timed out
//	        Patterns: "context deadline exceeded", "timeout"
//	API005 - Rate limited: The platform throttled the requests
//	        Status: 429
//	API006 - Rejected: The platform rejected a resource
//
// # Default Error (ERR000)
//
//	ERR000 - Unknown error: An unexpected error occurred
//	         Action: Check the log output for details

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

var (
	msgInvalidConfig = UserMessage{
		Message: "A configuration value is missing or invalid",
		Action:  "Check the config file and environment variables",
		Code:    "CFG001",
	}
	msgEmptyInput = UserMessage{
		Message: "The input has no rows",
		Action:  "Check the input file or query",
		Code:    "VAL001",
	}
	msgMissingColumn = UserMessage{
		Message: "Required column is missing from the input",
		Action:  "Check the column mapping in the config file",
		Code:    "VAL002",
	}
	msgDuplicateLayer = UserMessage{
		Message: "A layer id occurs more than once",
		Action:  "Every layer may only occur once in the layer input",
		Code:    "VAL003",
	}
	msgEmptyValue = UserMessage{
		Message: "A required cell is empty",
		Action:  "Ensure all required columns have values",
		Code:    "VAL004",
	}
	msgReinstatements = UserMessage{
		Message: "A reinstatements value could not be decoded",
		Action:  "Use pairs like 1.0;0.05|0.5;0.025 with two distinct separators",
		Code:    "PRS001",
	}
	msgDate = UserMessage{
		Message: "Invalid date format detected",
		Action:  "Use YYYY-MM-DD, MM/DD/YYYY, or Jan 15, 2024",
		Code:    "PRS002",
	}
	msgNumber = UserMessage{
		Message: "Invalid number format detected",
		Action:  "Remove currency symbols and use standard decimal format",
		Code:    "PRS003",
	}
	msgParse = UserMessage{
		Message: "A value could not be read",
		Action:  "Check the value named in the log output",
		Code:    "PRS004",
	}
	msgProcessingTimeout = UserMessage{
		Message: "A loss set did not finish processing in time",
		Action:  "Raise upload.poll_timeout or check the platform status",
		Code:    "API003",
	}
	msgRejected = UserMessage{
		Message: "The platform rejected a resource",
		Action:  "Check the log output for the platform's response",
		Code:    "API006",
	}
	msgUnauthorized = UserMessage{
		Message: "The platform rejected the credentials",
		Action:  "Check server.username and server.password",
		Code:    "API001",
	}
	msgRateLimited = UserMessage{
		Message: "Too many requests",
		Action:  "Lower upload.requests_per_second",
		Code:    "API005",
	}
)

// StatusCoder is implemented by errors carrying the platform's HTTP status.
type StatusCoder interface {
	HTTPStatus() int
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error text (case-insensitive) to user messages.
// The first matching pattern wins, so more specific patterns come first.
var errorPatterns = []errorPattern{
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to the platform",
			Action:  "Check server.base_url and try again in a few moments",
			Code:    "API002",
		},
	},
	{
		pattern: "no such host",
		msg: UserMessage{
			Message: "Unable to connect to the platform",
			Action:  "Check server.base_url",
			Code:    "API002",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "Request timed out",
			Action:  "Raise upload.request_timeout or try again later",
			Code:    "API004",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Request timed out",
			Action:  "Raise upload.request_timeout or try again later",
			Code:    "API004",
		},
	},
}

// defaultMessage is returned when no pattern matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Check the log output for details",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message. Typed
// errors from this package are recognized first; other errors are matched
// against known patterns, falling back to ERR000.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	if msg, ok := mapTyped(err); ok {
		return msg
	}

	if msg, ok := matchPattern(err); ok {
		return msg
	}
	return defaultMessage
}

func matchPattern(err error) (UserMessage, bool) {
	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg, true
		}
	}
	return UserMessage{}, false
}

func mapTyped(err error) (UserMessage, bool) {
	var ce *ConfigError
	if errors.As(err, &ce) {
		if ce.Key == FieldReinstatements {
			return UserMessage{
				Message: "Both reinstatement styles are present",
				Action:  "Use either the reinstatements column or the count/premium/brokerage columns",
				Code:    "CFG002",
			}, true
		}
		return msgInvalidConfig, true
	}

	switch {
	case errors.Is(err, ErrEmptyInput):
		return msgEmptyInput, true
	case errors.Is(err, ErrMissingColumns):
		return msgMissingColumn, true
	case errors.Is(err, ErrDuplicateID):
		return msgDuplicateLayer, true
	case errors.Is(err, ErrNullValue):
		return msgEmptyValue, true
	}

	var re *ReinstatementError
	if errors.As(err, &re) {
		return msgReinstatements, true
	}

	switch {
	case errors.Is(err, ErrUnrecognizedDate):
		return msgDate, true
	case errors.Is(err, ErrNotNumeric):
		return msgNumber, true
	}

	if code, ok := CodeOf(err); ok {
		switch code {
		case CodeParseFailed:
			return msgParse, true
		case CodeTimeout:
			return msgProcessingTimeout, true
		case CodeRemoteFailed:
			var sc StatusCoder
			if errors.As(err, &sc) {
				switch sc.HTTPStatus() {
				case http.StatusUnauthorized, http.StatusForbidden:
					return msgUnauthorized, true
				case http.StatusTooManyRequests:
					return msgRateLimited, true
				}
				return msgRejected, true
			}
			// No response: the transport patterns say more than the generic message.
			if msg, ok := matchPattern(err); ok {
				return msg, true
			}
			return msgRejected, true
		}
	}
	return UserMessage{}, false
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
