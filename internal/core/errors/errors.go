package errors

import "errors"

// Domain errors - these represent business rule violations
var (
	// Join validation
	ErrScopeRequired = errors.New("scope id is required")
	ErrTokenRequired = errors.New("auth token is required")
	ErrInvalidToken  = errors.New("invalid or expired token")

	// Event validation
	ErrOrderIDRequired = errors.New("order id is required")
	ErrStatusRequired  = errors.New("status is required")
	ErrInvalidPriority = errors.New("invalid notification priority")

	// Transport
	ErrTransportClosed  = errors.New("push transport closed")
	ErrConnectTimeout   = errors.New("push connection attempt timed out")
	ErrAgentTornDown    = errors.New("sync agent has been torn down")
	ErrAlreadyConnected = errors.New("push channel already established")

	// Generic
	ErrNotFound     = errors.New("resource not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInternal     = errors.New("internal server error")
	ErrRateLimited  = errors.New("rate limit exceeded")
)

// AppError wraps errors with additional context for HTTP responses
type AppError struct {
	Err        error  // The underlying error
	Message    string // User-friendly message
	Code       string // Machine-readable error code
	StatusCode int    // HTTP status code
}

func (e *AppError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Error constructors for common cases

func NewValidationError(err error, message string) *AppError {
	return &AppError{
		Err:        err,
		Message:    message,
		Code:       "VALIDATION_ERROR",
		StatusCode: 422,
	}
}

func NewBadRequestError(err error, message string) *AppError {
	return &AppError{
		Err:        err,
		Message:    message,
		Code:       "BAD_REQUEST",
		StatusCode: 400,
	}
}

func NewUnauthorizedError(message string) *AppError {
	return &AppError{
		Err:        ErrUnauthorized,
		Message:    message,
		Code:       "UNAUTHORIZED",
		StatusCode: 401,
	}
}

func NewNotFoundError(err error, message string) *AppError {
	return &AppError{
		Err:        err,
		Message:    message,
		Code:       "NOT_FOUND",
		StatusCode: 404,
	}
}

func NewRateLimitError() *AppError {
	return &AppError{
		Err:        ErrRateLimited,
		Message:    "Too many requests. Please try again later.",
		Code:       "RATE_LIMITED",
		StatusCode: 429,
	}
}

func NewInternalError(err error) *AppError {
	return &AppError{
		Err:        err,
		Message:    "An unexpected error occurred",
		Code:       "INTERNAL_ERROR",
		StatusCode: 500,
	}
}

// TransportError marks a push-channel failure. It is absorbed inside the
// sync agent and converted into a state transition, never surfaced to
// application code.
type TransportError struct {
	Op  string // dial, join, read, write
	Err error
}

func (e *TransportError) Error() string {
	return "transport " + e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError wraps err with the transport operation that failed.
func NewTransportError(op string, err error) *TransportError {
	return &TransportError{Op: op, Err: err}
}
