package pkg

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var ExposeErrorDetails = false

func init() {
	if gin.DebugMode == gin.Mode() || gin.TestMode == gin.Mode() {
		ExposeErrorDetails = true
	}
}

// Reusable errors
var (
	ErrMissingDestination = errors.New("destination is empty")
	ErrArnDestination     = errors.New("destination is an ARN, expected a URL-style identifier")
	ErrThrottled          = errors.New("dispatch throttled")
)

// ErrorCode defines a standardized error code
type ErrorCode struct {
	Code      string
	Status    int
	Message   string // default message
	Retryable bool
}

var (
	// Generic app
	ErrInvalidInputCode = ErrorCode{Code: "APP_INVALID_INPUT", Status: http.StatusBadRequest, Message: "invalid input"}
	ErrServerCode       = ErrorCode{Code: "APP_INTERNAL", Status: http.StatusInternalServerError, Message: "internal server error"}
	ErrConfigCode       = ErrorCode{Code: "APP_CONFIG", Status: http.StatusInternalServerError, Message: "invalid configuration"}

	// Pipeline
	ErrParseCode             = ErrorCode{Code: "PIPELINE_PARSE", Status: http.StatusBadRequest, Message: "malformed transaction"}
	ErrEvaluationCode        = ErrorCode{Code: "PIPELINE_EVALUATION", Status: http.StatusInternalServerError, Message: "rule evaluation failed"}
	ErrTransientDispatchCode = ErrorCode{Code: "DISPATCH_TRANSIENT", Status: http.StatusServiceUnavailable, Message: "dispatch failed", Retryable: true}
	ErrPermanentDispatchCode = ErrorCode{Code: "DISPATCH_PERMANENT", Status: http.StatusBadGateway, Message: "dispatch rejected"}
	ErrCancelledCode         = ErrorCode{Code: "PIPELINE_CANCELLED", Status: http.StatusServiceUnavailable, Message: "processing cancelled"}
)

type AppError struct {
	Code    ErrorCode
	Message string // public-facing message
	Cause   error  // internal cause (wrapped)
}

func (e AppError) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}
func (e AppError) Unwrap() error { return e.Cause }

func NewAppError(code ErrorCode, msg string, cause error) error {
	return AppError{Code: code, Message: msg, Cause: cause}
}

// CodeOf returns the ErrorCode carried by err, or ErrServerCode when err is not an AppError.
func CodeOf(err error) ErrorCode {
	var appErr AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrServerCode
}

// IsRetryable reports whether a dispatch failure may be attempted again.
// Deadline overruns count as transient; everything else must be tagged explicitly.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var appErr AppError
	if errors.As(err, &appErr) {
		return appErr.Code.Retryable
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// ErrorResponse defines the standardized error response format
type ErrorResponse struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// ToErrorResponse converts an error into an ErrorResponse, logging details and optionally exposing error messages.
// If the error is not an AppError, it is converted to a generic 500 error.
func ToErrorResponse(logger *zap.Logger, traceID string, err error) ErrorResponse {
	var appErr AppError
	if errors.As(err, &appErr) {
		resp := ErrorResponse{
			Status:  appErr.Code.Status,
			Code:    appErr.Code.Code,
			Message: appErr.Message,
		}
		logger.Error("application error", zap.String(TraceId, traceID), zap.Error(err))
		if ExposeErrorDetails {
			resp.Details = err.Error()
		}
		return resp
	}
	// Unknown error : 500
	resp := ErrorResponse{
		Status:  ErrServerCode.Status,
		Code:    ErrServerCode.Code,
		Message: ErrServerCode.Message,
	}
	logger.Error("application error", zap.String(TraceId, traceID), zap.Error(err))
	if ExposeErrorDetails {
		resp.Details = err.Error()
	}
	return resp
}
