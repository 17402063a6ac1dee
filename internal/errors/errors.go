package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"

	"go.uber.org/zap"
)

// ErrorType groups errors by the layer that produced them.
type ErrorType string

const (
	ErrorTypeCounters      ErrorType = "counters"
	ErrorTypeConfiguration ErrorType = "configuration"
	ErrorTypeStorage       ErrorType = "storage"
	ErrorTypeReport        ErrorType = "report"
	ErrorTypeMetrics       ErrorType = "metrics"
	ErrorTypeSystem        ErrorType = "system"
)

// AppError is an error with a type and a stable code.
type AppError struct {
	Type    ErrorType              `json:"type"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Context map[string]interface{} `json:"context,omitempty"`
	wrapped error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error
func (e *AppError) Unwrap() error {
	return e.wrapped
}

// Is matches another *AppError with the same type and code, so package-level
// sentinels work with errors.Is even after WithError copies.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Type == t.Type && e.Code == t.Code
}

// NewError creates a new application error
func NewError(errType ErrorType, code string, message string) *AppError {
	return &AppError{
		Type:    errType,
		Code:    code,
		Message: message,
	}
}

// WithError returns a copy of e wrapping err.
func (e *AppError) WithError(err error) *AppError {
	cp := *e
	cp.wrapped = err
	return &cp
}

// WithContext returns a copy of e with key set in its context.
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	cp := *e
	cp.Context = make(map[string]interface{}, len(e.Context)+1)
	for k, v := range e.Context {
		cp.Context[k] = v
	}
	cp.Context[key] = value
	return &cp
}

// TypeOf returns the ErrorType of the first AppError in err's chain, or
// ErrorTypeSystem.
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeSystem
}

// Log writes err with its type and code.
func Log(logger *zap.Logger, msg string, err error) {
	fields := []zap.Field{zap.Error(err)}

	var appErr *AppError
	if stderrors.As(err, &appErr) {
		fields = append(fields,
			zap.String("type", string(appErr.Type)),
			zap.String("code", appErr.Code),
		)
		if len(appErr.Context) > 0 {
			fields = append(fields, zap.Any("context", appErr.Context))
		}
	}
	logger.Warn(msg, fields...)
}

// SafeRecover logs and swallows a panic. Use it as a deferred call around
// code that must never take the instrumented program down.
func SafeRecover(logger *zap.Logger, operation string) {
	if r := recover(); r != nil {
		buf := make([]byte, 4096)
		n := runtime.Stack(buf, false)
		logger.Error("Panic recovered",
			zap.String("operation", operation),
			zap.Any("panic", r),
			zap.String("stack_trace", string(buf[:n])),
		)
	}
}
