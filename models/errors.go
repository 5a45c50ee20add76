package models

import (
	"errors"
	"fmt"
)

// Error codes used in API responses and internal error handling.
const (
	ErrCodeInvalidDateRange = "INVALID_DATE_RANGE"
	ErrCodeDateFormat       = "DATE_FORMAT_ERROR"
	ErrCodeNetwork          = "NETWORK_ERROR"
	ErrCodeParse            = "PARSE_ERROR"

	ErrCodeInvalidInput = "INVALID_INPUT"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeConflict     = "CONFLICT"
	ErrCodeRateLimited  = "RATE_LIMITED"
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeInternal     = "INTERNAL_ERROR"
)

// ErrorDetail is the structured error in API responses.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CrawlError is the internal error type carrying an error code.
// It implements the error interface and supports error wrapping via Unwrap.
type CrawlError struct {
	Code    string
	Message string
	Err     error // wrapped original error
}

func (e *CrawlError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *CrawlError) Unwrap() error {
	return e.Err
}

// NewCrawlError creates a new CrawlError.
func NewCrawlError(code, message string, err error) *CrawlError {
	return &CrawlError{Code: code, Message: message, Err: err}
}

// ToDetail converts an internal error to an API-facing ErrorDetail.
func (e *CrawlError) ToDetail() *ErrorDetail {
	return &ErrorDetail{Code: e.Code, Message: e.Message}
}

// HasCode reports whether any CrawlError in err's chain carries code.
func HasCode(err error, code string) bool {
	var ce *CrawlError
	for err != nil {
		if !errors.As(err, &ce) {
			return false
		}
		if ce.Code == code {
			return true
		}
		err = ce.Err
	}
	return false
}

// AsCrawlError returns err as a *CrawlError, wrapping it as INTERNAL_ERROR
// when it is not one already.
func AsCrawlError(err error) *CrawlError {
	var ce *CrawlError
	if errors.As(err, &ce) {
		return ce
	}
	return NewCrawlError(ErrCodeInternal, err.Error(), err)
}
