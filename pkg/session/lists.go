package session

import (
	"context"

	"github.com/ajitpratap0/toolwire/pkg/pagination"
	"github.com/ajitpratap0/toolwire/pkg/protocol"
)

// ListAllTools walks every page of the peer's tools/list
func (s *Session) ListAllTools(ctx context.Context) ([]protocol.Tool, error) {
	return pagination.Walk(ctx, func(ctx context.Context, cursor string) ([]protocol.Tool, string, error) {
		var res protocol.ListToolsResult
		err := s.Call(ctx, protocol.MethodListTools, &protocol.PaginationParams{Cursor: cursor}, &res)
		return res.Tools, res.NextCursor, err
	})
}

// ListAllResources walks every page of the peer's resources/list
func (s *Session) ListAllResources(ctx context.Context) ([]protocol.Resource, error) {
	return pagination.Walk(ctx, func(ctx context.Context, cursor string) ([]protocol.Resource, string, error) {
		var res protocol.ListResourcesResult
		err := s.Call(ctx, protocol.MethodListResources, protocol.ListResourcesParams{Cursor: cursor}, &res)
		return res.Resources, res.NextCursor, err
	})
}

// ListAllPrompts walks every page of the peer's prompts/list
func (s *Session) ListAllPrompts(ctx context.Context) ([]protocol.Prompt, error) {
	return pagination.Walk(ctx, func(ctx context.Context, cursor string) ([]protocol.Prompt, string, error) {
		var res protocol.ListPromptsResult
		err := s.Call(ctx, protocol.MethodListPrompts, protocol.ListPromptsParams{Cursor: cursor}, &res)
		return res.Prompts, res.NextCursor, err
	})
}
