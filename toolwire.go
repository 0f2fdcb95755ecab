package toolwire

import (
	"github.com/ajitpratap0/toolwire/pkg/channel"
	"github.com/ajitpratap0/toolwire/pkg/dispatch"
	"github.com/ajitpratap0/toolwire/pkg/protocol"
	"github.com/ajitpratap0/toolwire/pkg/session"
)

// Version is the engine version reported in session info by default
const Version = "0.1.0"

// ProtocolRevision is the protocol version sessions propose
const ProtocolRevision = protocol.ProtocolRevision

// Shortcuts to the constructors most programs need
var (
	// NewSession creates a session over a channel
	NewSession = session.New

	// NewDispatcher creates an empty tool registry and dispatcher
	NewDispatcher = dispatch.New

	// NewStream frames messages as lines over a reader and writer
	NewStream = channel.NewStream

	// Pipe returns two connected in-memory channels
	Pipe = channel.Pipe

	// NewPromptCatalog creates a static prompt provider
	NewPromptCatalog = session.NewPromptCatalog
)

// Session options
var (
	WithInfo                   = session.WithInfo
	WithCapabilities           = session.WithCapabilities
	WithDispatcher             = session.WithDispatcher
	WithResourceProvider       = session.WithResourceProvider
	WithPromptProvider         = session.WithPromptProvider
	WithNotificationHandler    = session.WithNotificationHandler
	WithGracePeriod            = session.WithGracePeriod
	WithSessionLogger          = session.WithLogger
	WithSessionMetrics         = session.WithMetrics
	WithSessionTracer          = session.WithTracer
	WithSessionIDGenerator     = session.WithIDGenerator
	WithSessionInstructions    = session.WithInstructions
	WithSessionProtocolVersion = session.WithProtocolVersion
)
