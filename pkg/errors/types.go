// Package errors is the engine's error taxonomy. Every failure that can
// reach the wire is an MCPError carrying its JSON-RPC code; the code alone
// decides how the failure travels (a JSON-RPC error or a tool result with
// isError set) and which Category it is logged under.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
)

// Category groups codes for logging and metrics
type Category string

const (
	CategoryProtocol   Category = "protocol"
	CategoryValidation Category = "validation"
	CategoryNotFound   Category = "not_found"
	CategoryRateLimit  Category = "rate_limit"
	CategorySandbox    Category = "sandbox"
	CategoryTool       Category = "tool"
	CategoryTimeout    Category = "timeout"
	CategoryCancelled  Category = "cancelled"
	CategoryTransport  Category = "transport"
	CategoryInternal   Category = "internal"
)

// Scope identifies the request an error was raised for. All fields are
// optional.
type Scope struct {
	SessionID string `json:"session_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Method    string `json:"method,omitempty"`
	Tool      string `json:"tool,omitempty"`
	CallerID  string `json:"caller_id,omitempty"`
}

// MCPError is implemented by every error the engine raises. The With
// methods return copies; an MCPError is never mutated once built.
type MCPError interface {
	error
	Code() int
	Message() string
	Details() string
	Data() interface{}
	Category() Category
	Scope() *Scope
	WithScope(scope *Scope) MCPError
	WithDetail(detail string) MCPError
	WithData(data interface{}) MCPError
	Unwrap() error
}

// Error is the MCPError implementation
type Error struct {
	code     int
	message  string
	details  string
	data     interface{}
	category Category
	scope    *Scope
	cause    error
}

var _ MCPError = (*Error)(nil)

// New builds an error for code. Its category is the one registered for
// the code, or CategoryInternal for codes the engine does not define.
func New(code int, message string) MCPError {
	return &Error{code: code, message: message, category: categoryOf(code)}
}

// Newf is New with a formatted message
func Newf(code int, format string, args ...interface{}) MCPError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap is New with cause recorded for errors.Is and errors.As
func Wrap(cause error, code int, message string) MCPError {
	return &Error{code: code, message: message, category: categoryOf(code), cause: cause}
}

func categoryOf(code int) Category {
	if info, ok := errorCodeRegistry[code]; ok {
		return info.Category
	}
	return CategoryInternal
}

func (e *Error) Error() string {
	if e.details == "" {
		return e.message
	}
	return e.message + ": " + e.details
}

func (e *Error) Code() int          { return e.code }
func (e *Error) Message() string    { return e.message }
func (e *Error) Details() string    { return e.details }
func (e *Error) Data() interface{}  { return e.data }
func (e *Error) Category() Category { return e.category }
func (e *Error) Unwrap() error      { return e.cause }

// Scope returns the request scope, or an empty Scope when none was attached
func (e *Error) Scope() *Scope {
	if e.scope == nil {
		return &Scope{}
	}
	return e.scope
}

func (e *Error) WithScope(scope *Scope) MCPError {
	c := *e
	c.scope = scope
	return &c
}

// WithDetail appends detail; repeated details are joined with "; "
func (e *Error) WithDetail(detail string) MCPError {
	c := *e
	if c.details == "" {
		c.details = detail
	} else {
		c.details += "; " + detail
	}
	return &c
}

func (e *Error) WithData(data interface{}) MCPError {
	c := *e
	c.data = data
	return &c
}

// MarshalJSON renders the error for structured logs. The wire form is
// produced by ToProtocolError instead.
func (e *Error) MarshalJSON() ([]byte, error) {
	type logForm struct {
		Code     int         `json:"code"`
		Name     string      `json:"name"`
		Message  string      `json:"message"`
		Category Category    `json:"category"`
		Details  string      `json:"details,omitempty"`
		Data     interface{} `json:"data,omitempty"`
		Scope    *Scope      `json:"scope,omitempty"`
		Cause    string      `json:"cause,omitempty"`
	}
	return json.Marshal(logForm{
		Code:     e.code,
		Name:     GetErrorCodeName(e.code),
		Message:  e.message,
		Category: e.category,
		Details:  e.details,
		Data:     e.data,
		Scope:    e.scope,
		Cause:    errString(e.cause),
	})
}

// AsMCPError finds the first MCPError in err's chain
func AsMCPError(err error) (MCPError, bool) {
	var mcpErr MCPError
	if err != nil && stderrors.As(err, &mcpErr) {
		return mcpErr, true
	}
	return nil, false
}

// IsCategory reports whether err's chain holds an MCPError in category
func IsCategory(err error, category Category) bool {
	mcpErr, ok := AsMCPError(err)
	return ok && mcpErr.Category() == category
}

// IsCode reports whether err's chain holds an MCPError with code
func IsCode(err error, code int) bool {
	mcpErr, ok := AsMCPError(err)
	return ok && mcpErr.Code() == code
}
