// Package pagination implements the opaque cursors used by the list
// methods (tools/list, resources/list, prompts/list).
//
// A cursor encodes the offset of the first item of the next page. Servers
// slice a stable, sorted list with Page:
//
//	tools, next, err := pagination.Page(all, &protocol.PaginationParams{Cursor: params.Cursor})
//	if err != nil {
//	    return nil, err
//	}
//	return &protocol.ListToolsResult{Tools: tools, NextCursor: next}, nil
//
// Callers collect every page with Walk, which stops at the first page
// without a cursor or at a cursor the peer already returned:
//
//	tools, err := pagination.Walk(ctx, func(ctx context.Context, cursor string) ([]protocol.Tool, string, error) {
//	    res, err := list(ctx, cursor)
//	    if err != nil {
//	        return nil, "", err
//	    }
//	    return res.Tools, res.NextCursor, nil
//	})
package pagination
