package errors

import (
	"fmt"
	"time"
)

// SandboxErrorData contains structured data for sandbox violations
type SandboxErrorData struct {
	Path   string `json:"path"`
	Root   string `json:"root,omitempty"`
	Reason string `json:"reason"`
}

// RateLimitErrorData contains structured data for rate-limit denials
type RateLimitErrorData struct {
	CallerID     string `json:"callerId,omitempty"`
	Limit        int    `json:"limit"`
	WindowMillis int64  `json:"windowMs"`
	RetryAfterMs int64  `json:"retryAfterMs"`
}

// ToolErrorData contains structured data for failures raised by a tool
type ToolErrorData struct {
	Tool     string `json:"tool"`
	Panicked bool   `json:"panicked,omitempty"`
}

// TimeoutErrorData contains structured data for deadline failures
type TimeoutErrorData struct {
	Tool          string `json:"tool,omitempty"`
	TimeoutMillis int64  `json:"timeoutMs"`
}

// MethodNotFound reports a method that is unknown or outside the negotiated
// capabilities
func MethodNotFound(method string) MCPError {
	return Newf(CodeMethodNotFound, "method not found: %s", method)
}

// ToolNotFound reports an unregistered tool name. It shares the
// MethodNotFound code but is logged under CategoryNotFound.
func ToolNotFound(name string) MCPError {
	return &Error{
		code:     CodeMethodNotFound,
		message:  fmt.Sprintf("tool not found: %s", name),
		category: CategoryNotFound,
		data:     &ToolErrorData{Tool: name},
	}
}

// InvalidRequest reports a message that is well-formed JSON but not a valid
// request in the current state
func InvalidRequest(reason string) MCPError {
	return New(CodeInvalidRequest, reason)
}

// SandboxViolation reports a locator that resolves outside the sandbox root
func SandboxViolation(path, root, reason string) MCPError {
	return Newf(CodeSandboxViolation, "path %q is outside the permitted root: %s", path, reason).
		WithData(&SandboxErrorData{Path: path, Root: root, Reason: reason})
}

// RateLimited reports a denied admission. retryAfter is the time until the
// oldest admission in the window expires.
func RateLimited(callerID string, limit int, window, retryAfter time.Duration) MCPError {
	data := &RateLimitErrorData{
		CallerID:     callerID,
		Limit:        limit,
		WindowMillis: window.Milliseconds(),
		RetryAfterMs: retryAfter.Milliseconds(),
	}
	return Newf(CodeRateLimited, "rate limit exceeded: %d calls per %s", limit, window).WithData(data)
}

// ToolExecutionFault wraps a failure raised by a tool handler
func ToolExecutionFault(tool string, cause error) MCPError {
	msg := fmt.Sprintf("tool %q failed", tool)
	if cause != nil {
		msg += ": " + cause.Error()
	}
	return Wrap(cause, CodeToolExecutionFault, msg).WithData(&ToolErrorData{Tool: tool})
}

// ToolPanic reports a recovered handler panic
func ToolPanic(tool string, recovered interface{}) MCPError {
	return Newf(CodeToolExecutionFault, "tool %q panicked: %v", tool, recovered).
		WithData(&ToolErrorData{Tool: tool, Panicked: true})
}

// Timeout reports a handler that exceeded its deadline
func Timeout(tool string, timeout time.Duration) MCPError {
	return Newf(CodeTimeout, "tool %q timed out after %s", tool, timeout).
		WithData(&TimeoutErrorData{Tool: tool, TimeoutMillis: timeout.Milliseconds()})
}

// Cancelled reports a request abandoned by its originator
func Cancelled(reason string) MCPError {
	if reason == "" {
		return New(CodeCancelled, "request cancelled")
	}
	return Newf(CodeCancelled, "request cancelled: %s", reason)
}

// InternalFault reports an unexpected engine failure
func InternalFault(cause error) MCPError {
	if cause == nil {
		return New(CodeInternalFault, "internal error")
	}
	return Wrap(cause, CodeInternalFault, "internal error: "+cause.Error())
}
