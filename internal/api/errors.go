// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/bytedance/sonic"
)

// =============================================================================
// ERROR CODES
// =============================================================================

// Error codes declared by the backend.
const (
	CodeAuthFailed         = "AUTH_FAILED"
	CodeOnboardingRequired = "ONBOARDING_REQUIRED"
	CodeNotFound           = "NOT_FOUND"
	CodeEmptyMessage       = "EMPTY_MESSAGE"
	CodeMessageTooLong     = "MESSAGE_TOO_LONG"
	CodeTextTooShort       = "TEXT_TOO_SHORT"
	CodeInvalidRating      = "INVALID_RATING"
	CodeEmptyText          = "EMPTY_TEXT"
	CodeEmptySubmission    = "EMPTY_SUBMISSION"
)

// FallbackMessage is shown when the server gives no message of its own.
const FallbackMessage = "Что-то пошло не так. Попробуй ещё раз."

var (
	// ErrUnauthorized matches any TransportError with HTTP 401.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden matches any TransportError with HTTP 403.
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound matches any TransportError with HTTP 404.
	ErrNotFound = errors.New("not found")

	// ErrResponseTooLarge is returned when a JSON body exceeds MaxResponseSize.
	ErrResponseTooLarge = errors.New("response exceeded maximum size")
)

// =============================================================================
// TRANSPORT ERROR
// =============================================================================

// TransportError is a non-2xx reply, or a 2xx reply whose envelope has ok=false.
type TransportError struct {
	Status  int    // HTTP status code
	Code    string // server-declared code, may be empty
	Message string // server message or FallbackMessage
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// Is lets errors.Is match status sentinels.
func (e *TransportError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized
	case ErrForbidden:
		return e.Status == http.StatusForbidden
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	}
	return false
}

// IsUnauthorized reports whether err is a 401 from the backend.
// Callers treat it as a signal to re-authenticate.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// CodeOf returns the server-declared code carried by err, if any.
func CodeOf(err error) string {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Code
	}
	return ""
}

// UserMessage returns text suitable for showing to the user.
func UserMessage(err error) string {
	var te *TransportError
	if errors.As(err, &te) && te.Message != "" {
		return te.Message
	}
	return FallbackMessage
}

// =============================================================================
// DECODING
// =============================================================================

// ErrorBody is the error shape inside an envelope.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	OK    bool       `json:"ok"`
	Error *ErrorBody `json:"error"`
}

// parseError builds a TransportError from a non-2xx body. The backend wraps
// the envelope under "detail"; a bare envelope is accepted too.
func parseError(status int, body []byte) *TransportError {
	te := &TransportError{Status: status}

	var wrapped struct {
		Detail *errorEnvelope `json:"detail"`
	}
	if err := sonic.Unmarshal(body, &wrapped); err == nil && wrapped.Detail != nil && wrapped.Detail.Error != nil {
		te.Code = wrapped.Detail.Error.Code
		te.Message = wrapped.Detail.Error.Message
	} else {
		var bare errorEnvelope
		if err := sonic.Unmarshal(body, &bare); err == nil && bare.Error != nil {
			te.Code = bare.Error.Code
			te.Message = bare.Error.Message
		}
	}

	if te.Message == "" {
		te.Message = FallbackMessage
	}
	return te
}
