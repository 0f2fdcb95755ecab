package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/toolwire/pkg/protocol"
)

func text(items ...string) *protocol.CallToolResult {
	r := &protocol.CallToolResult{}
	for _, s := range items {
		r.Content = append(r.Content, protocol.TextContent(s))
	}
	return r
}

func TestShape(t *testing.T) {
	tests := []struct {
		name       string
		in         *protocol.CallToolResult
		offset     int
		limit      int
		want       []string
		nextOffset int // -1 when no continuation
	}{
		{"untouched", text("abc"), 0, 0, []string{"abc"}, -1},
		{"under limit", text("abc"), 0, 10, []string{"abc"}, -1},
		{"cut", text("hello world"), 0, 5, []string{"hello"}, 5},
		{"resume", text("hello world"), 5, 5, []string{" worl"}, 10},
		{"tail", text("hello world"), 10, 5, []string{"d"}, -1},
		{"across items", text("abc", "defgh"), 0, 4, []string{"abc", "d"}, 4},
		{"item boundary", text("abcd", "ef"), 0, 4, []string{"abcd"}, 4},
		{"resume at boundary", text("abcd", "ef"), 4, 4, []string{"ef"}, -1},
		{"past end", text("abc"), 10, 4, nil, -1},
		{"rune boundary", text("héllo"), 0, 2, []string{"h"}, 1},
		{"wide rune makes progress", text("€uro"), 0, 1, []string{"€"}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := shape(tt.in, tt.offset, tt.limit)

			var got []string
			for _, c := range out.Content {
				got = append(got, c.Text)
			}
			if tt.nextOffset < 0 {
				assert.Nil(t, out.NextOffset)
				assert.Equal(t, tt.want, got)
				return
			}
			require.NotNil(t, out.NextOffset)
			assert.Equal(t, tt.nextOffset, *out.NextOffset)
			require.Len(t, got, len(tt.want)+1)
			assert.Equal(t, tt.want, got[:len(tt.want)])
			assert.Contains(t, got[len(got)-1], "truncated")
		})
	}
}

func TestShapeBinary(t *testing.T) {
	in := &protocol.CallToolResult{Content: []protocol.Content{protocol.BinaryContent([]byte{1, 2, 3, 4, 5}, "application/octet-stream")}}
	out := shape(in, 2, 2)
	require.NotNil(t, out.NextOffset)
	assert.Equal(t, 4, *out.NextOffset)
	assert.Equal(t, []byte{3, 4}, out.Content[0].Data)
	assert.Equal(t, "application/octet-stream", out.Content[0].MimeType)
}
