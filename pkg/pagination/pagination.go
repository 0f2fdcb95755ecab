package pagination

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ajitpratap0/toolwire/pkg/protocol"
)

const (
	DefaultLimit = 50
	MaxLimit     = 200
)

const cursorPrefix = "off:"

var (
	ErrInvalidLimit  = fmt.Errorf("pagination limit must be between 0 and %d", MaxLimit)
	ErrInvalidCursor = errors.New("invalid pagination cursor")
	// ErrCursorLoop is returned by Walk when the peer hands back a cursor it
	// already returned
	ErrCursorLoop = errors.New("pagination cursor repeated")
)

// Normalize checks params and returns the effective limit and offset. A
// nil params or zero limit means DefaultLimit from the first item.
func Normalize(params *protocol.PaginationParams) (limit, offset int, err error) {
	if params == nil {
		return DefaultLimit, 0, nil
	}
	switch {
	case params.Limit < 0, params.Limit > MaxLimit:
		return 0, 0, fmt.Errorf("%w: got %d", ErrInvalidLimit, params.Limit)
	case params.Limit == 0:
		limit = DefaultLimit
	default:
		limit = params.Limit
	}
	if offset, err = DecodeCursor(params.Cursor); err != nil {
		return 0, 0, err
	}
	return limit, offset, nil
}

// EncodeCursor returns the opaque cursor for the item at offset
func EncodeCursor(offset int) string {
	return base64.RawURLEncoding.EncodeToString([]byte(cursorPrefix + strconv.Itoa(offset)))
}

// DecodeCursor returns the offset in cursor; the empty cursor is offset 0
func DecodeCursor(cursor string) (int, error) {
	if cursor == "" {
		return 0, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	digits, ok := strings.CutPrefix(string(raw), cursorPrefix)
	if !ok {
		return 0, ErrInvalidCursor
	}
	offset, err := strconv.Atoi(digits)
	if err != nil || offset < 0 {
		return 0, ErrInvalidCursor
	}
	return offset, nil
}

// Page returns the slice of items params selects and the cursor of the
// following page, which is empty on the last one. A cursor past the end
// yields an empty page.
func Page[T any](items []T, params *protocol.PaginationParams) ([]T, string, error) {
	limit, start, err := Normalize(params)
	if err != nil {
		return nil, "", err
	}
	if start >= len(items) {
		return []T{}, "", nil
	}
	if end := start + limit; end < len(items) {
		return items[start:end], EncodeCursor(end), nil
	}
	return items[start:], "", nil
}

// FetchFunc retrieves the page at cursor and returns it with the next cursor
type FetchFunc[T any] func(ctx context.Context, cursor string) ([]T, string, error)

// Walk calls fetch from the first page until a page comes back without a
// cursor and returns every item in order.
func Walk[T any](ctx context.Context, fetch FetchFunc[T]) ([]T, error) {
	var all []T
	seen := make(map[string]struct{})
	cursor := ""
	for {
		page, next, err := fetch(ctx, cursor)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if next == "" {
			return all, nil
		}
		if _, dup := seen[next]; dup {
			return all, fmt.Errorf("%w: %q", ErrCursorLoop, next)
		}
		seen[next] = struct{}{}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cursor = next
	}
}
