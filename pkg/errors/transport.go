package errors

import (
	"fmt"
)

// ChannelErrorData contains structured data for channel failures
type ChannelErrorData struct {
	Operation string `json:"operation,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// VersionErrorData describes a failed protocol version negotiation
type VersionErrorData struct {
	Requested string   `json:"requested"`
	Supported []string `json:"supported"`
}

// ErrSessionClosed is delivered to every pending call when the session ends
var ErrSessionClosed = New(CodeSessionClosed, "session closed")

// SessionClosed returns ErrSessionClosed annotated with the closing cause
func SessionClosed(cause error) MCPError {
	if cause == nil {
		return ErrSessionClosed
	}
	return Wrap(cause, CodeSessionClosed, "session closed").WithDetail(cause.Error())
}

// ChannelError wraps a failure of the underlying byte channel
func ChannelError(operation string, cause error) MCPError {
	return Wrap(cause, CodeSessionClosed, fmt.Sprintf("channel %s failed", operation)).
		WithData(&ChannelErrorData{Operation: operation, Reason: errString(cause)})
}

// VersionMismatch reports that the two sides share no protocol revision
func VersionMismatch(requested string, supported []string) MCPError {
	return Newf(CodeVersionMismatch, "unsupported protocol version %q", requested).
		WithData(&VersionErrorData{Requested: requested, Supported: supported})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
