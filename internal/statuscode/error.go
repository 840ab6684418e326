package statuscode

import (
	"errors"
	"fmt"
	"strings"
)

// CodedError pairs an underlying error with a stable Code, the way
// internal/agent/errors.go pairs a ToolError with a ToolErrorType, but backed
// by the closed enumeration instead of free-form string categories.
type CodedError struct {
	Code    Code
	Op      string // operation that failed, e.g. "tool:read_file" or "provider:anthropic"
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	var b strings.Builder
	b.WriteString(e.Code.String())
	if e.Op != "" {
		fmt.Fprintf(&b, " %s:", e.Op)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, " %s", e.Message)
	} else if e.Cause != nil {
		fmt.Fprintf(&b, " %s", e.Cause.Error())
	}
	return b.String()
}

func (e *CodedError) Unwrap() error { return e.Cause }

// New wraps cause (which may be nil) in a CodedError carrying code.
func New(code Code, op, message string, cause error) *CodedError {
	return &CodedError{Code: code, Op: op, Message: message, Cause: cause}
}

// Is reports whether err (or anything it wraps) carries the given code.
func Is(err error, code Code) bool {
	var ce *CodedError
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}

// From extracts the Code from err, defaulting to Unknown when err does not
// carry one.
func From(err error) Code {
	if err == nil {
		return Success
	}
	var ce *CodedError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return Classify(err)
}

// Classify applies string-matching heuristics to an arbitrary error to
// recover a best-effort Code, mirroring internal/agent/errors.go's
// classifyToolError for errors that originate outside this package (e.g. from
// a provider SDK or the standard library) and were never wrapped in a
// CodedError at the boundary.
func Classify(err error) Code {
	if err == nil {
		return Success
	}
	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "context deadline exceeded"), strings.Contains(msg, "deadline exceeded"):
		return DeadlineExceeded
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return Timeout
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "429"):
		return RateLimited
	case strings.Contains(msg, "quota"):
		return QuotaExceeded
	case strings.Contains(msg, "context canceled"), strings.Contains(msg, "canceled"), strings.Contains(msg, "cancelled"):
		return Cancelled
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "connection reset"), strings.Contains(msg, "econnrefused"):
		return ConnectionFailed
	case strings.Contains(msg, "no such host"), strings.Contains(msg, "dns"), strings.Contains(msg, "network"):
		return NetworkError
	case strings.Contains(msg, "service unavailable"), strings.Contains(msg, "503"):
		return ServiceUnavailable
	case strings.Contains(msg, "unauthorized"), strings.Contains(msg, "401"):
		return AuthenticationFailed
	case strings.Contains(msg, "forbidden"), strings.Contains(msg, "403"), strings.Contains(msg, "permission"):
		return PermissionDenied
	case strings.Contains(msg, "no such file"), strings.Contains(msg, "not found") && strings.Contains(msg, "file"):
		return FileNotFound
	case strings.Contains(msg, "invalid json"), strings.Contains(msg, "unmarshal"):
		return InvalidJSON
	case strings.Contains(msg, "invalid"), strings.Contains(msg, "validation"), strings.Contains(msg, "required"), strings.Contains(msg, "missing"):
		return InvalidArguments
	case strings.Contains(msg, "context window"), strings.Contains(msg, "context length"), strings.Contains(msg, "too many tokens"):
		return ContextWindowExceeded
	case strings.Contains(msg, "model not found"), strings.Contains(msg, "unknown model"):
		return ModelNotFound
	case strings.Contains(msg, "unsupported"):
		return Unsupported
	default:
		return Internal
	}
}
