package dispatch

import (
	"fmt"
	"unicode/utf8"

	"github.com/ajitpratap0/toolwire/pkg/protocol"
)

// shape applies offset and the size limit to a successful result. Content
// is measured in rendered bytes across all items in order; text is cut on
// rune boundaries, binary data on byte boundaries. When content remains
// past the limit, a continuation item is appended and NextOffset set.
func shape(result *protocol.CallToolResult, offset, limit int) *protocol.CallToolResult {
	if offset <= 0 && limit <= 0 {
		return result
	}

	total := 0
	for _, c := range result.Content {
		total += c.Size()
	}
	if limit <= 0 {
		limit = total
	}

	out := &protocol.CallToolResult{Content: []protocol.Content{}}
	pos, taken := 0, 0
	next := total
	for _, c := range result.Content {
		size := c.Size()
		if pos+size <= offset {
			pos += size
			continue
		}
		if taken >= limit {
			next = pos + max(offset-pos, 0)
			break
		}

		piece, start, end := slice(c, max(offset-pos, 0), limit-taken, taken == 0)
		if end > start {
			out.Content = append(out.Content, piece)
			taken += end - start
		}
		if end < size {
			next = pos + end
			break
		}
		pos += size
	}

	if next < total {
		n := next
		out.NextOffset = &n
		out.Content = append(out.Content, protocol.TextContent(fmt.Sprintf(
			"\n[truncated: %d of %d bytes shown; call again with offset %d to continue]",
			taken, total, n)))
	}
	return out
}

// slice returns up to budget bytes of c beginning at start, along with the
// item-relative bounds actually taken. Text starting mid-rune is advanced
// to the next rune boundary. When mustProgress is set and the first rune
// alone exceeds budget, that rune is returned anyway.
func slice(c protocol.Content, start, budget int, mustProgress bool) (protocol.Content, int, int) {
	piece := c
	if c.Type == protocol.ContentTypeBinary {
		end := min(start+budget, len(c.Data))
		piece.Data = c.Data[start:end]
		return piece, start, end
	}

	text := c.Text
	for start < len(text) && !utf8.RuneStart(text[start]) {
		start++
	}
	end := min(start+budget, len(text))
	for end > start && end < len(text) && !utf8.RuneStart(text[end]) {
		end--
	}
	if end == start && mustProgress && start < len(text) {
		_, width := utf8.DecodeRuneInString(text[start:])
		end = start + width
	}
	piece.Text = text[start:end]
	return piece, start, end
}
