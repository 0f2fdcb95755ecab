package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

const (
	// JSONRPCVersion is the supported JSON-RPC version
	JSONRPCVersion = "2.0"
)

// Standard JSON-RPC 2.0 error codes. The full taxonomy, including the
// tool-domain codes, lives in pkg/errors.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// RequestID is a caller-chosen opaque token: a string or an integer.
// The zero value means "no id" and marshals as null.
type RequestID struct {
	value interface{}
}

// NewStringID returns a string request id.
func NewStringID(s string) RequestID { return RequestID{value: s} }

// NewIntID returns an integer request id.
func NewIntID(n int64) RequestID { return RequestID{value: n} }

// IsZero reports whether the id is absent.
func (id RequestID) IsZero() bool { return id.value == nil }

// Value returns the underlying string or int64.
func (id RequestID) Value() interface{} { return id.value }

// String returns a stable key for the id. String and integer ids never
// collide because integer keys carry a prefix.
func (id RequestID) String() string {
	switch v := id.value.(type) {
	case string:
		return v
	case int64:
		return "#" + strconv.FormatInt(v, 10)
	default:
		return ""
	}
}

// MarshalJSON implements json.Marshaler
func (id RequestID) MarshalJSON() ([]byte, error) {
	if id.value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(id.value)
}

// UnmarshalJSON implements json.Unmarshaler
func (id *RequestID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		id.value = nil
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		id.value = s
		return nil
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("request id must be a string or integer, got %s", string(data))
	}
	id.value = n
	return nil
}

// JSONRPCMessage represents a JSON-RPC 2.0 message
type JSONRPCMessage struct {
	JSONRPC string `json:"jsonrpc"`
}

// Message is one of *Request, *Response or *Notification.
type Message interface {
	isMessage()
}

// Request represents a JSON-RPC 2.0 request
type Request struct {
	JSONRPCMessage
	ID     RequestID       `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response represents a JSON-RPC 2.0 response
type Response struct {
	JSONRPCMessage
	ID     RequestID       `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

// Notification represents a JSON-RPC 2.0 notification
type Notification struct {
	JSONRPCMessage
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

func (*Request) isMessage()      {}
func (*Response) isMessage()     {}
func (*Notification) isMessage() {}

// Error represents a JSON-RPC 2.0 error object
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("rpc error: code = %d desc = %s", e.Code, e.Message)
}

// NewRequest creates a new JSON-RPC 2.0 request
func NewRequest(id RequestID, method string, params interface{}) (*Request, error) {
	paramsJSON, err := marshalOptional(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}
	return &Request{
		JSONRPCMessage: JSONRPCMessage{JSONRPC: JSONRPCVersion},
		ID:             id,
		Method:         method,
		Params:         paramsJSON,
	}, nil
}

// NewResponse creates a new JSON-RPC 2.0 success response
func NewResponse(id RequestID, result interface{}) (*Response, error) {
	resultJSON, err := marshalOptional(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	if resultJSON == nil {
		resultJSON = json.RawMessage("{}")
	}
	return &Response{
		JSONRPCMessage: JSONRPCMessage{JSONRPC: JSONRPCVersion},
		ID:             id,
		Result:         resultJSON,
	}, nil
}

// NewErrorResponse creates a new JSON-RPC 2.0 error response
func NewErrorResponse(id RequestID, rpcErr *Error) *Response {
	return &Response{
		JSONRPCMessage: JSONRPCMessage{JSONRPC: JSONRPCVersion},
		ID:             id,
		Error:          rpcErr,
	}
}

// NewNotification creates a new JSON-RPC 2.0 notification
func NewNotification(method string, params interface{}) (*Notification, error) {
	paramsJSON, err := marshalOptional(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}
	return &Notification{
		JSONRPCMessage: JSONRPCMessage{JSONRPC: JSONRPCVersion},
		Method:         method,
		Params:         paramsJSON,
	}, nil
}

func marshalOptional(v interface{}) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}

// InvalidMessageError reports bytes that could not be classified as a
// message. ID is set when the offending object carried a usable id, so the
// receiver can still answer with a correlated error response.
type InvalidMessageError struct {
	ID  RequestID
	Err *Error
}

func (e *InvalidMessageError) Error() string { return e.Err.Error() }

// Unwrap exposes the wire error
func (e *InvalidMessageError) Unwrap() error { return e.Err }

type wireMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// ParseMessage classifies one framed message. Malformed JSON yields a
// ParseError; a well-formed object that is not a request, response or
// notification yields an InvalidRequest.
func ParseMessage(data []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, &InvalidMessageError{Err: &Error{Code: CodeParseError, Message: "parse error: " + err.Error()}}
	}

	var id RequestID
	if len(w.ID) > 0 {
		if err := id.UnmarshalJSON(w.ID); err != nil {
			return nil, invalid(RequestID{}, err.Error())
		}
	}

	if w.JSONRPC != JSONRPCVersion {
		return nil, invalid(id, fmt.Sprintf("unsupported jsonrpc version %q", w.JSONRPC))
	}

	switch {
	case w.Method != "" && !id.IsZero():
		return &Request{JSONRPCMessage: JSONRPCMessage{JSONRPC: w.JSONRPC}, ID: id, Method: w.Method, Params: w.Params}, nil
	case w.Method != "":
		return &Notification{JSONRPCMessage: JSONRPCMessage{JSONRPC: w.JSONRPC}, Method: w.Method, Params: w.Params}, nil
	case w.Error != nil:
		return &Response{JSONRPCMessage: JSONRPCMessage{JSONRPC: w.JSONRPC}, ID: id, Error: w.Error}, nil
	case w.Result != nil && !id.IsZero():
		return &Response{JSONRPCMessage: JSONRPCMessage{JSONRPC: w.JSONRPC}, ID: id, Result: w.Result}, nil
	default:
		return nil, invalid(id, "message is neither a request, a response nor a notification")
	}
}

func invalid(id RequestID, msg string) error {
	return &InvalidMessageError{ID: id, Err: &Error{Code: CodeInvalidRequest, Message: msg}}
}

// DecodeParams unmarshals params into target. Empty params leave target
// untouched.
func DecodeParams(params json.RawMessage, target interface{}) error {
	if len(params) == 0 || bytes.Equal(bytes.TrimSpace(params), []byte("null")) {
		return nil
	}
	return json.Unmarshal(params, target)
}
