package pagination

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/toolwire/pkg/protocol"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name       string
		params     *protocol.PaginationParams
		wantLimit  int
		wantOffset int
		wantErr    error
	}{
		{"nil", nil, DefaultLimit, 0, nil},
		{"zero limit", &protocol.PaginationParams{}, DefaultLimit, 0, nil},
		{"max limit", &protocol.PaginationParams{Limit: MaxLimit}, MaxLimit, 0, nil},
		{"cursor", &protocol.PaginationParams{Limit: 10, Cursor: EncodeCursor(20)}, 10, 20, nil},
		{"negative limit", &protocol.PaginationParams{Limit: -10}, 0, 0, ErrInvalidLimit},
		{"limit over max", &protocol.PaginationParams{Limit: MaxLimit + 1}, 0, 0, ErrInvalidLimit},
		{"garbage cursor", &protocol.PaginationParams{Cursor: "!!"}, 0, 0, ErrInvalidCursor},
		{"foreign cursor", &protocol.PaginationParams{Cursor: "c29tZXRoaW5n"}, 0, 0, ErrInvalidCursor},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limit, offset, err := Normalize(tt.params)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantLimit, limit)
			assert.Equal(t, tt.wantOffset, offset)
		})
	}
}

func TestCursorRoundTrip(t *testing.T) {
	for _, off := range []int{0, 1, 50, 12345} {
		got, err := DecodeCursor(EncodeCursor(off))
		require.NoError(t, err)
		assert.Equal(t, off, got)
	}
	_, err := DecodeCursor(EncodeCursor(-1))
	assert.ErrorIs(t, err, ErrInvalidCursor)
}

func TestWalkVisitsEveryItemOnce(t *testing.T) {
	items := make([]int, 7)
	for i := range items {
		items[i] = i
	}

	calls := 0
	seen, err := Walk(context.Background(), func(_ context.Context, cursor string) ([]int, string, error) {
		calls++
		return Page(items, &protocol.PaginationParams{Limit: 3, Cursor: cursor})
	})
	require.NoError(t, err)
	assert.Equal(t, items, seen)
	assert.Equal(t, 3, calls)
}

func TestWalkStops(t *testing.T) {
	t.Run("on fetch error", func(t *testing.T) {
		boom := errors.New("boom")
		_, err := Walk(context.Background(), func(context.Context, string) ([]int, string, error) {
			return nil, "", boom
		})
		assert.ErrorIs(t, err, boom)
	})

	t.Run("on a repeated cursor", func(t *testing.T) {
		got, err := Walk(context.Background(), func(_ context.Context, cursor string) ([]int, string, error) {
			return []int{1}, "same", nil
		})
		assert.ErrorIs(t, err, ErrCursorLoop)
		assert.Equal(t, []int{1, 1}, got)
	})

	t.Run("on cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		n := 0
		_, err := Walk(ctx, func(context.Context, string) ([]int, string, error) {
			n++
			cancel()
			return []int{n}, EncodeCursor(n), nil
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, n)
	})
}

func TestPageEdges(t *testing.T) {
	page, next, err := Page([]string{"a", "b"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, page)
	assert.Empty(t, next)

	page, next, err = Page([]string{"a", "b"}, &protocol.PaginationParams{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page, 2)
	assert.Empty(t, next, "a full last page has no cursor")

	page, next, err = Page([]string{"a"}, &protocol.PaginationParams{Cursor: EncodeCursor(5)})
	require.NoError(t, err)
	assert.Empty(t, page)
	assert.Empty(t, next)

	_, _, err = Page([]string{"a"}, &protocol.PaginationParams{Cursor: "bogus"})
	assert.ErrorIs(t, err, ErrInvalidCursor)
}
