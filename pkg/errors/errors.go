package errors

import (
	"encoding/json"
	"errors"
	"fmt"
)

type AppError struct {
	Code    int    // HTTP status code or custom error code
	Message string // User-facing message
	Err     error  // Underlying error (optional)
}

const (
	ErrInvalidToken       = 1001
	ErrAuctionNotFound    = 1002
	ErrBidTooLow          = 1003
	ErrAuctionClosed      = 1004
	ErrWebSocketUpgrade   = 1005
	ErrSelfBid            = 1006
	ErrAuctionExists      = 1007
	ErrListingNotFound    = 1008
	ErrForbidden          = 1009
	ErrStorage            = 1010
	ErrBadMessageFormat   = 1011
	ErrUnknownMessageType = 1012
	ErrRateLimited        = 1013

	ErrInternalServer = 500
)

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// ToJSON renders the error as a websocket error frame.
func (e *AppError) ToJSON() string {
	b, err := json.Marshal(map[string]any{
		"type":    "error",
		"code":    e.Code,
		"message": e.Message,
	})
	if err != nil {
		return `{"type":"error","message":"internal server error"}`
	}
	return string(b)
}

// Wrapping utility
func Wrap(err error, message string) *AppError {
	return &AppError{Message: message, Err: err}
}

// WrapCode wraps an underlying error under a taxonomy code.
func WrapCode(code int, err error, message string) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// Error creation utility
func New(code int, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

func Newf(code int, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Code extracts the application error code, or ErrInternalServer when
// err is not an AppError.
func Code(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternalServer
}

func Is(err error, code int) bool {
	return Code(err) == code
}
