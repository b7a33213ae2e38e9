package helpers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"keeper-oracle/src/logger"
)

// -----------------------------------------------------------------------------
// Custom Error Types
// -----------------------------------------------------------------------------

type KeeperError struct {
	Message string
	Cause   error
}

func (e *KeeperError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *KeeperError) Unwrap() error {
	return e.Cause
}

// Helper to define distinct error types for errors.As
type ConfigurationError struct{ KeeperError }
type NetworkError struct{ KeeperError }
type DataSourceError struct{ KeeperError }
type DatabaseError struct{ KeeperError }
type ValidationError struct{ KeeperError }
type RPCError struct{ KeeperError }

// -----------------------------------------------------------------------------

func NewValidationError(format string, args ...interface{}) *ValidationError {
	return &ValidationError{KeeperError{Message: fmt.Sprintf(format, args...)}}
}

func NewConfigurationError(message string, cause error) *ConfigurationError {
	return &ConfigurationError{KeeperError{Message: message, Cause: cause}}
}

func NewNetworkError(message string, cause error) *NetworkError {
	return &NetworkError{KeeperError{Message: message, Cause: cause}}
}

func NewDataSourceError(message string, cause error) *DataSourceError {
	return &DataSourceError{KeeperError{Message: message, Cause: cause}}
}

func NewDatabaseError(message string, cause error) *DatabaseError {
	return &DatabaseError{KeeperError{Message: message, Cause: cause}}
}

func NewRPCError(message string, cause error) *RPCError {
	return &RPCError{KeeperError{Message: message, Cause: cause}}
}

// -----------------------------------------------------------------------------
// Retry Logic
// -----------------------------------------------------------------------------

// RetryWithBackoff attempts to execute the operation up to maxRetries times with exponential backoff.
func RetryWithBackoff[T any](ctx context.Context, operation string, maxRetries int, baseDelay time.Duration, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		res, err := fn()
		if err == nil {
			return res, nil
		}

		lastErr = err
		if attempt == maxRetries-1 {
			break
		}

		delay := baseDelay * (1 << attempt)
		if err := SleepContext(ctx, delay); err != nil {
			return zero, err
		}
	}

	return zero, fmt.Errorf("%s failed after %d attempts: %w", operation, maxRetries, lastErr)
}

// -----------------------------------------------------------------------------
// Error Handler
// -----------------------------------------------------------------------------

type ErrorHandler struct {
	Logger                 *logger.Logger
	ErrorCount             int
	MaxErrorsBeforeRestart int
	BaseDelay              time.Duration
}

func NewErrorHandler(log *logger.Logger) *ErrorHandler {
	if log == nil {
		log = logger.NewLogger(nil, "ErrorHandler")
	}
	return &ErrorHandler{
		Logger:                 log,
		ErrorCount:             0,
		MaxErrorsBeforeRestart: 10,
		BaseDelay:              time.Second,
	}
}

// -----------------------------------------------------------------------------

func (e *ErrorHandler) ResetErrorCount() {
	e.ErrorCount = 0
}

// -----------------------------------------------------------------------------

// ExecuteWithRetry runs fn, retries on failure and categorizes the final error.
func (e *ErrorHandler) ExecuteWithRetry(ctx context.Context, operation string, fn func() error, maxRetries int) error {
	if maxRetries < 1 {
		maxRetries = 1
	}
	for attempt := 0; attempt < maxRetries; attempt++ {
		err := fn()
		if err == nil {
			if e.ErrorCount > 0 {
				e.ErrorCount--
			}
			return nil
		}

		if attempt == maxRetries-1 {
			e.ErrorCount++
			e.Logger.Error("%s failed (attempt %d/%d): %v", operation, attempt+1, maxRetries, err)

			msg := fmt.Sprintf("%s failed", operation)
			lowerOp := strings.ToLower(operation)
			switch {
			case strings.Contains(lowerOp, "network") || strings.Contains(lowerOp, "fetch"):
				return &NetworkError{KeeperError{Message: msg, Cause: err}}
			case strings.Contains(lowerOp, "database") || strings.Contains(lowerOp, "save"):
				return &DatabaseError{KeeperError{Message: msg, Cause: err}}
			case strings.Contains(lowerOp, "rpc"):
				return &RPCError{KeeperError{Message: msg, Cause: err}}
			default:
				return &KeeperError{Message: msg, Cause: err}
			}
		}

		e.Logger.Warning("%s failed (attempt %d/%d): %v", operation, attempt+1, maxRetries, err)
		if err := SleepContext(ctx, e.BaseDelay*time.Duration(1<<attempt)); err != nil {
			return err
		}
	}

	return &KeeperError{Message: fmt.Sprintf("%s failed after %d attempts", operation, maxRetries)}
}

// -----------------------------------------------------------------------------

// TooManyErrors reports whether the restart threshold has been reached.
func (e *ErrorHandler) TooManyErrors() bool {
	return e.ErrorCount >= e.MaxErrorsBeforeRestart
}

// -----------------------------------------------------------------------------

func (e *ErrorHandler) Handle(err error, context string) {
	if err != nil {
		e.Logger.Error("Error in %s: %v", context, err)
	}
}
