package protocol

const (
	// ProtocolRevision is the current protocol revision
	ProtocolRevision = "2025-03-26"

	// Lifecycle
	MethodInitialize  = "initialize"
	MethodInitialized = "notifications/initialized"
	MethodPing        = "ping"
	MethodShutdown    = "shutdown"

	// Tools
	MethodListTools        = "tools/list"
	MethodCallTool         = "tools/call"
	MethodToolsListChanged = "notifications/tools/list_changed"

	// Resources
	MethodListResources        = "resources/list"
	MethodReadResource         = "resources/read"
	MethodSubscribeResource    = "resources/subscribe"
	MethodUnsubscribeResource  = "resources/unsubscribe"
	MethodResourcesListChanged = "notifications/resources/list_changed"
	MethodResourceUpdated      = "notifications/resources/updated"

	// Prompts
	MethodListPrompts        = "prompts/list"
	MethodGetPrompt          = "prompts/get"
	MethodPromptsListChanged = "notifications/prompts/list_changed"

	// Utilities
	MethodCancelled = "notifications/cancelled"
	MethodProgress  = "notifications/progress"
)

// SupportedProtocolVersions lists the revisions this implementation speaks,
// newest first.
var SupportedProtocolVersions = []string{ProtocolRevision, "2024-11-05"}

// IsSupportedVersion reports whether v is a revision this implementation speaks
func IsSupportedVersion(v string) bool {
	for _, s := range SupportedProtocolVersions {
		if s == v {
			return true
		}
	}
	return false
}

// Category is a negotiated method category
type Category string

const (
	CategoryTools     Category = "tools"
	CategoryResources Category = "resources"
	CategoryPrompts   Category = "prompts"
)

// Categories lists every known category
var Categories = []Category{CategoryTools, CategoryResources, CategoryPrompts}

// CapabilityFlags are the optional sub-features of a category
type CapabilityFlags struct {
	ListChanged bool `json:"listChanged,omitempty"`
	Subscribe   bool `json:"subscribe,omitempty"`
}

// Capabilities is one side's declaration. Provides lists what this side
// serves; Consumes lists what it can call and which notifications it can
// receive.
type Capabilities struct {
	Provides map[Category]CapabilityFlags `json:"provides,omitempty"`
	Consumes map[Category]CapabilityFlags `json:"consumes,omitempty"`
}

// Implementation names one side of the session
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeParams is the negotiation payload. It is symmetric in structure:
// the responder answers with the same shape.
type InitializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    Capabilities   `json:"capabilities"`
	Info            Implementation `json:"info"`
	Instructions    string         `json:"instructions,omitempty"`
}

// InitializeResult is the responder's half of the negotiation
type InitializeResult = InitializeParams

// RequestMeta carries protocol-level request metadata
type RequestMeta struct {
	ProgressToken *RequestID `json:"progressToken,omitempty"`
}

// ProgressParams is the progress notification payload
type ProgressParams struct {
	InvocationID RequestID `json:"invocationId"`
	Completed    float64   `json:"completed"`
	Total        float64   `json:"total,omitempty"`
	Status       string    `json:"status,omitempty"`
}

// CancelledParams identifies a request the sender no longer wants answered
type CancelledParams struct {
	RequestID RequestID `json:"requestId"`
	Reason    string    `json:"reason,omitempty"`
}

// EmptyResult is returned by ping and shutdown
type EmptyResult struct{}

// PaginationParams for list requests
type PaginationParams struct {
	Limit  int    `json:"limit,omitempty"`
	Cursor string `json:"cursor,omitempty"`
}
