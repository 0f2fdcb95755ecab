// Package toolwire is a tool invocation engine speaking JSON-RPC 2.0.
//
// A session connects two peers over a channel. After the initialize
// handshake each side knows which capability categories the other
// provides, and only agreed methods are sent or accepted. A peer that
// provides tools hands every tools/call to a dispatcher, which rate limits
// the caller, validates the arguments against the tool's contract,
// confines path arguments to a sandbox root and runs the handler with a
// deadline.
//
// # Overview
//
// The engine is split into small packages:
//
//   - pkg/protocol: message types and the JSON-RPC envelope
//   - pkg/errors: the error taxonomy and its wire mapping
//   - pkg/channel: in-memory and line-delimited stream channels
//   - pkg/capability: declarations and negotiation
//   - pkg/schema: tool argument contracts and validation
//   - pkg/sandbox: path confinement
//   - pkg/ratelimit: per-caller sliding windows
//   - pkg/dispatch: the tool registry and invocation pipeline
//   - pkg/session: lifecycle, correlation, cancellation and routing
//   - pkg/resources: files under the sandbox root as resources
//   - pkg/tools: the built-in tools
//   - pkg/config: YAML and environment configuration
//   - pkg/observability: Prometheus metrics and OpenTelemetry tracing
//   - pkg/logging: structured logging
//
// # Serving tools
//
//	d := toolwire.NewDispatcher()
//	d.MustRegister(dispatch.Definition{
//	    Name:     "greet",
//	    Contract: schema.MustFromStruct[greetArgs](false),
//	    Handler:  greet,
//	})
//
//	s := toolwire.NewSession(toolwire.NewStream(os.Stdin, os.Stdout),
//	    toolwire.WithInfo("greeter", "1.0.0"),
//	    toolwire.WithDispatcher(d),
//	)
//	if err := s.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// # Calling tools
//
// The initiating side declares what it consumes, initializes and then
// calls:
//
//	client := toolwire.NewSession(ch, toolwire.WithCapabilities(
//	    capability.NewBuilder().Consume(protocol.CategoryTools, protocol.CapabilityFlags{}).Build(),
//	))
//	go client.Run(ctx)
//	if err := client.Initialize(ctx); err != nil {
//	    return err
//	}
//	var result protocol.CallToolResult
//	err := client.Call(ctx, protocol.MethodCallTool, protocol.CallToolParams{
//	    Name:      "greet",
//	    Arguments: json.RawMessage(`{"name":"world"}`),
//	}, &result)
//
// Tool failures arrive as a result with IsError set. Unknown tools,
// rate limiting and malformed requests arrive as errors; use
// errors.IsCode to tell them apart.
//
// The toolwire command in cmd/toolwire serves the built-in tools over
// stdio.
package toolwire
