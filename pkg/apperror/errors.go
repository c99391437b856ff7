package apperror

import (
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// ---- Security & Authentication (SEC) ----

func ErrInvalidSignature() *AppError {
	return New("SEC_001", "Invalid webhook signature", http.StatusUnauthorized)
}

func ErrUnknownProvider(provider string) *AppError {
	return New("SEC_002", fmt.Sprintf("Unknown webhook provider: %s", provider), http.StatusNotFound)
}

func ErrInvalidSchedulerSecret() *AppError {
	return New("SEC_003", "Invalid scheduler secret", http.StatusUnauthorized)
}

// ---- Event Ledger (EVT) ----

func ErrEventNotFound() *AppError {
	return New("EVT_001", "Ledger entry not found", http.StatusNotFound)
}

func ErrEventNotReplayable() *AppError {
	return New("EVT_002", "Ledger entry is not in a replayable state", http.StatusConflict)
}

func ErrEventApplyFailed(err error) *AppError {
	return Wrap("EVT_003", "Event processing failed", http.StatusInternalServerError, err)
}

// ---- Work Queue (JOB) ----

func ErrUnknownJobType(jobType string) *AppError {
	return New("JOB_001", fmt.Sprintf("Unknown job type: %s", jobType), http.StatusBadRequest)
}

func ErrJobNotFound() *AppError {
	return New("JOB_002", "Job not found", http.StatusNotFound)
}

// ---- Redemption Ledger (PROMO) ----

func ErrMissingRedemptionField(field string) *AppError {
	return New("PROMO_001", fmt.Sprintf("Missing required field: %s", field), http.StatusUnprocessableEntity)
}

// ---- Authentication (AUTH) ----

func ErrInvalidCredentials() *AppError {
	return New("AUTH_001", "Invalid credentials", http.StatusUnauthorized)
}

func ErrInvalidToken() *AppError {
	return New("AUTH_002", "Invalid or expired token", http.StatusUnauthorized)
}

// ---- System & Infrastructure (SYS) ----

func ErrDatabaseError(err error) *AppError {
	return Wrap("SYS_001", "Internal database error", http.StatusInternalServerError, err)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}

// Validation returns a request validation error.
func Validation(message string) *AppError {
	return New("VAL_001", message, http.StatusBadRequest)
}
