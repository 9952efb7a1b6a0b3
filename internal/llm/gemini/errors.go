package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// ErrorCode 归类 Gemini 调用失败的原因。
type ErrorCode string

const (
	ErrorCodeAuthentication ErrorCode = "authentication"
	ErrorCodeRateLimit      ErrorCode = "rate_limit"
	ErrorCodeModelNotFound  ErrorCode = "model_not_found"
	ErrorCodeInvalidRequest ErrorCode = "invalid_request"
	ErrorCodeServerError    ErrorCode = "server_error"
	ErrorCodeTimeout        ErrorCode = "timeout"
	ErrorCodeEmptyResponse  ErrorCode = "empty_response"
	ErrorCodeUnknown        ErrorCode = "unknown"
)

// ErrNoModels is returned when no model name is configured.
var ErrNoModels = errors.New("gemini: no models configured")

// ProviderError is a classified Gemini failure.
type ProviderError struct {
	Model     string
	Code      ErrorCode
	Message   string
	Retryable bool
	Err       error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("gemini %s: %s: %s", e.Model, e.Code, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// nextModel reports whether the following model in the fallback list should be tried.
func (e *ProviderError) nextModel() bool {
	switch e.Code {
	case ErrorCodeModelNotFound, ErrorCodeRateLimit, ErrorCodeServerError, ErrorCodeEmptyResponse:
		return true
	}
	return false
}

func classify(model string, err error) *ProviderError {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr
	}

	code := ErrorCodeUnknown
	var apiErr genai.APIError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		code = ErrorCodeTimeout
	case errors.As(err, &apiErr):
		code = codeForStatus(apiErr.Code)
	default:
		msg := strings.ToLower(err.Error())
		switch {
		case strings.Contains(msg, "api key") || strings.Contains(msg, "permission") || strings.Contains(msg, "401") || strings.Contains(msg, "403"):
			code = ErrorCodeAuthentication
		case strings.Contains(msg, "quota") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "429"):
			code = ErrorCodeRateLimit
		case strings.Contains(msg, "not found") || strings.Contains(msg, "404"):
			code = ErrorCodeModelNotFound
		case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
			code = ErrorCodeTimeout
		case strings.Contains(msg, "unavailable") || strings.Contains(msg, "500") || strings.Contains(msg, "503"):
			code = ErrorCodeServerError
		case strings.Contains(msg, "invalid") || strings.Contains(msg, "400"):
			code = ErrorCodeInvalidRequest
		}
	}

	return &ProviderError{
		Model:     model,
		Code:      code,
		Message:   err.Error(),
		Retryable: code == ErrorCodeRateLimit || code == ErrorCodeServerError || code == ErrorCodeTimeout,
		Err:       err,
	}
}

func codeForStatus(status int) ErrorCode {
	switch {
	case status == 401 || status == 403:
		return ErrorCodeAuthentication
	case status == 404:
		return ErrorCodeModelNotFound
	case status == 429:
		return ErrorCodeRateLimit
	case status == 400:
		return ErrorCodeInvalidRequest
	case status == 504:
		return ErrorCodeTimeout
	case status >= 500:
		return ErrorCodeServerError
	}
	return ErrorCodeUnknown
}
