package protocol

import (
	"encoding/json"
)

// ContentType discriminates content items
type ContentType string

const (
	ContentTypeText   ContentType = "text"
	ContentTypeBinary ContentType = "binary"
)

// Content is one item of a result envelope. Binary data is base64 on the wire.
type Content struct {
	Type     ContentType `json:"type"`
	Text     string      `json:"text,omitempty"`
	Data     []byte      `json:"data,omitempty"`
	MimeType string      `json:"mimeType,omitempty"`
}

// TextContent builds a text item
func TextContent(text string) Content {
	return Content{Type: ContentTypeText, Text: text}
}

// BinaryContent builds a binary item
func BinaryContent(data []byte, mimeType string) Content {
	return Content{Type: ContentTypeBinary, Data: data, MimeType: mimeType}
}

// Size is the rendered payload size of the item in bytes
func (c Content) Size() int {
	if c.Type == ContentTypeBinary {
		return len(c.Data)
	}
	return len(c.Text)
}

// Tool describes a registered tool
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ListToolsParams defines parameters for listing tools
type ListToolsParams struct {
	Cursor string `json:"cursor,omitempty"`
}

// ListToolsResult defines the response for listing tools
type ListToolsResult struct {
	Tools      []Tool `json:"tools"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// CallToolParams defines parameters for calling a tool
type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	// Offset resumes a truncated result at the given byte offset
	Offset int          `json:"offset,omitempty"`
	Meta   *RequestMeta `json:"_meta,omitempty"`
}

// CallToolResult is the shared envelope for successful and failed tool
// outcomes.
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError"`
	Error   *Error    `json:"error,omitempty"`
	// NextOffset is set when the content was truncated
	NextOffset *int `json:"nextOffset,omitempty"`
}

// Text concatenates the text items of the result
func (r *CallToolResult) Text() string {
	var out string
	for _, c := range r.Content {
		if c.Type == ContentTypeText {
			out += c.Text
		}
	}
	return out
}
