// Package protocol defines the wire types of the tool-invocation protocol.
//
// The protocol is JSON-RPC 2.0 based. Every framed message is exactly one of
// a Request (carries an id and a method), a Response (carries the id of the
// request it answers and either a result or an error) or a Notification
// (carries a method and no id).
//
// # Package Organization
//
//   - jsonrpc.go: envelope types, request ids, message classification
//   - mcp.go: method names, negotiation payloads, progress and cancellation
//   - tools.go: tool descriptors and the result envelope
//   - resources.go, prompts.go: payloads of the resources and prompts categories
//
// # Message Flow
//
//  1. The initiating side sends an initialize request carrying its
//     protocol version and capability declaration
//  2. The responder answers with its own declaration
//  3. The initiator sends notifications/initialized
//  4. Both sides exchange requests and notifications within the agreed
//     categories
//  5. Either side sends shutdown or closes the channel
//
// # Result Envelope
//
// Tool outcomes, successful or not, share CallToolResult: an ordered list
// of content items and an isError flag. Protocol failures use the
// JSON-RPC error object instead.
package protocol
