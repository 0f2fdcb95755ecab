package errors

import "github.com/ajitpratap0/toolwire/pkg/protocol"

// JSON-RPC 2.0 standard error codes
const (
	CodeParseError     = protocol.CodeParseError
	CodeInvalidRequest = protocol.CodeInvalidRequest
	CodeMethodNotFound = protocol.CodeMethodNotFound
	CodeInvalidParams  = protocol.CodeInvalidParams
	// CodeInternalFault is an unexpected engine bug; the session survives it
	CodeInternalFault = protocol.CodeInternalError
)

// Engine-specific codes, in the implementation-defined server error range
const (
	CodeRateLimited        = -32029
	CodeSandboxViolation   = -32040
	CodeToolExecutionFault = -32041
	CodeTimeout            = -32042
	CodeCancelled          = -32043
	CodeSessionClosed      = -32050
	CodeVersionMismatch    = -32051
)

// ErrorCodeInfo describes one code of the taxonomy
type ErrorCodeInfo struct {
	Code     int
	Name     string
	Category Category
	// ToolDomain errors travel inside a result envelope with isError=true
	ToolDomain bool
}

// errorCodeRegistry is a literal so package-level errors built with New
// see it during variable initialization.
var errorCodeRegistry = indexCodes([]ErrorCodeInfo{
	{Code: CodeParseError, Name: "ParseError", Category: CategoryProtocol, ToolDomain: false},
	{Code: CodeInvalidRequest, Name: "InvalidRequest", Category: CategoryProtocol, ToolDomain: false},
	{Code: CodeMethodNotFound, Name: "MethodNotFound", Category: CategoryProtocol, ToolDomain: false},
	{Code: CodeInvalidParams, Name: "InvalidParams", Category: CategoryValidation, ToolDomain: true},
	{Code: CodeInternalFault, Name: "InternalFault", Category: CategoryInternal, ToolDomain: false},
	{Code: CodeRateLimited, Name: "RateLimited", Category: CategoryRateLimit, ToolDomain: false},
	{Code: CodeSandboxViolation, Name: "SandboxViolation", Category: CategorySandbox, ToolDomain: true},
	{Code: CodeToolExecutionFault, Name: "ToolExecutionFault", Category: CategoryTool, ToolDomain: true},
	{Code: CodeTimeout, Name: "Timeout", Category: CategoryTimeout, ToolDomain: true},
	{Code: CodeCancelled, Name: "Cancelled", Category: CategoryCancelled, ToolDomain: false},
	{Code: CodeSessionClosed, Name: "SessionClosed", Category: CategoryTransport, ToolDomain: false},
	{Code: CodeVersionMismatch, Name: "VersionMismatch", Category: CategoryProtocol, ToolDomain: false},
})

func indexCodes(infos []ErrorCodeInfo) map[int]ErrorCodeInfo {
	m := make(map[int]ErrorCodeInfo, len(infos))
	for _, info := range infos {
		m[info.Code] = info
	}
	return m
}

// GetErrorCodeInfo returns information about an error code
func GetErrorCodeInfo(code int) (ErrorCodeInfo, bool) {
	info, exists := errorCodeRegistry[code]
	return info, exists
}

// GetErrorCodeName returns the name of an error code
func GetErrorCodeName(code int) string {
	if info, exists := errorCodeRegistry[code]; exists {
		return info.Name
	}
	return "UnknownError"
}

// IsToolDomain reports whether errors with this code are reported to the
// caller as a result envelope rather than as a JSON-RPC error.
func IsToolDomain(code int) bool {
	return errorCodeRegistry[code].ToolDomain
}
