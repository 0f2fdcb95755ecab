package errors

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/ajitpratap0/toolwire/pkg/protocol"
)

// ToProtocolError converts any error to a JSON-RPC error object. Errors
// outside the taxonomy become InternalFault.
func ToProtocolError(err error) *protocol.Error {
	if err == nil {
		return nil
	}

	var rpcErr *protocol.Error
	if stderrors.As(err, &rpcErr) {
		return rpcErr
	}

	if mcpErr, ok := AsMCPError(err); ok {
		return &protocol.Error{
			Code:    mcpErr.Code(),
			Message: mcpErr.Error(),
			Data:    mcpErr.Data(),
		}
	}

	return &protocol.Error{
		Code:    CodeInternalFault,
		Message: err.Error(),
	}
}

// FromProtocolError converts a JSON-RPC error received from the peer to an MCPError
func FromProtocolError(rpcErr *protocol.Error) MCPError {
	if rpcErr == nil {
		return nil
	}

	err := New(rpcErr.Code, rpcErr.Message)
	if rpcErr.Data != nil {
		err = err.WithData(rpcErr.Data)
	}
	return err
}

// ToResult renders a tool-domain error as a result envelope with
// isError=true. The message is the sole text item.
func ToResult(err error) *protocol.CallToolResult {
	rpcErr := ToProtocolError(err)
	return &protocol.CallToolResult{
		Content: []protocol.Content{protocol.TextContent(rpcErr.Message)},
		IsError: true,
		Error:   rpcErr,
	}
}

// FromContext maps a context error to the taxonomy
func FromContext(ctx context.Context, tool string, timeout time.Duration) MCPError {
	switch {
	case stderrors.Is(ctx.Err(), context.DeadlineExceeded):
		return Timeout(tool, timeout)
	case ctx.Err() != nil:
		return Cancelled(context.Cause(ctx).Error())
	default:
		return nil
	}
}

// Classify returns the code for err, mapping plain context errors and
// unknown errors into the taxonomy.
func Classify(err error) int {
	if err == nil {
		return 0
	}
	if mcpErr, ok := AsMCPError(err); ok {
		return mcpErr.Code()
	}
	var rpcErr *protocol.Error
	if stderrors.As(err, &rpcErr) {
		return rpcErr.Code
	}
	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case stderrors.Is(err, context.Canceled):
		return CodeCancelled
	}
	return CodeInternalFault
}
