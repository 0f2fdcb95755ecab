package toolwire_test

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ajitpratap0/toolwire"
	"github.com/ajitpratap0/toolwire/pkg/capability"
	"github.com/ajitpratap0/toolwire/pkg/dispatch"
	"github.com/ajitpratap0/toolwire/pkg/logging"
	"github.com/ajitpratap0/toolwire/pkg/protocol"
	"github.com/ajitpratap0/toolwire/pkg/schema"
)

type greetArgs struct {
	Name string `json:"name" jsonschema:"maxLength=64"`
}

func Example() {
	ctx := context.Background()

	d := toolwire.NewDispatcher(dispatch.WithLogger(logging.Nop()))
	d.MustRegister(dispatch.Definition{
		Name:        "greet",
		Description: "Say hello",
		Contract:    schema.MustFromStruct[greetArgs](false),
		Handler: func(_ context.Context, call *dispatch.Call) (*protocol.CallToolResult, error) {
			text := "hello " + call.Args.String("name")
			return &protocol.CallToolResult{Content: []protocol.Content{protocol.TextContent(text)}}, nil
		},
	})

	a, b := toolwire.Pipe()
	server := toolwire.NewSession(a,
		toolwire.WithInfo("greeter", toolwire.Version),
		toolwire.WithDispatcher(d),
		toolwire.WithSessionLogger(logging.Nop()),
	)
	client := toolwire.NewSession(b,
		toolwire.WithCapabilities(capability.NewBuilder().
			Consume(protocol.CategoryTools, protocol.CapabilityFlags{}).
			Build()),
		toolwire.WithSessionLogger(logging.Nop()),
	)
	go func() { _ = server.Run(ctx) }()
	go func() { _ = client.Run(ctx) }()
	defer func() { _ = client.Shutdown(ctx) }()

	if err := client.Initialize(ctx); err != nil {
		fmt.Println(err)
		return
	}

	var result protocol.CallToolResult
	err := client.Call(ctx, protocol.MethodCallTool, protocol.CallToolParams{
		Name:      "greet",
		Arguments: json.RawMessage(`{"name":"world"}`),
	}, &result)
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println(result.Text())
	fmt.Println(client.Remote().Info.Name)
	// Output:
	// hello world
	// greeter
}
