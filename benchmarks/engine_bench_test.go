// Package benchmarks measures the invocation path from dispatch to a full
// session round trip.
package benchmarks

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ajitpratap0/toolwire/pkg/capability"
	"github.com/ajitpratap0/toolwire/pkg/channel"
	"github.com/ajitpratap0/toolwire/pkg/dispatch"
	"github.com/ajitpratap0/toolwire/pkg/logging"
	"github.com/ajitpratap0/toolwire/pkg/protocol"
	"github.com/ajitpratap0/toolwire/pkg/ratelimit"
	"github.com/ajitpratap0/toolwire/pkg/schema"
	"github.com/ajitpratap0/toolwire/pkg/session"
)

type echoArgs struct {
	Text  string `json:"text" jsonschema:"maxLength=256"`
	Count int    `json:"count,omitempty" jsonschema:"minimum=0,maximum=10"`
}

func newDispatcher(b *testing.B) *dispatch.Dispatcher {
	b.Helper()
	d := dispatch.New(dispatch.WithLogger(logging.Nop()))
	d.MustRegister(dispatch.Definition{
		Name:     "echo",
		Contract: schema.MustFromStruct[echoArgs](false),
		Handler: func(_ context.Context, call *dispatch.Call) (*protocol.CallToolResult, error) {
			return &protocol.CallToolResult{Content: []protocol.Content{protocol.TextContent(call.Args.String("text"))}}, nil
		},
	})
	return d
}

func BenchmarkDispatch(b *testing.B) {
	b.Run("Invoke", func(b *testing.B) {
		d := newDispatcher(b)
		inv := dispatch.Invocation{ToolName: "echo", Arguments: []byte(`{"text":"hello","count":3}`), CallerID: "bench"}
		ctx := context.Background()

		b.ReportAllocs()
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			if _, err := d.Invoke(ctx, inv); err != nil {
				b.Fatal(err)
			}
		}
	})

	b.Run("InvokeParallel", func(b *testing.B) {
		d := newDispatcher(b)
		ctx := context.Background()

		b.ReportAllocs()
		b.ResetTimer()
		b.RunParallel(func(pb *testing.PB) {
			i := 0
			for pb.Next() {
				inv := dispatch.Invocation{
					ToolName:  "echo",
					Arguments: []byte(`{"text":"hello"}`),
					CallerID:  fmt.Sprintf("caller-%d", i%8),
				}
				if _, err := d.Invoke(ctx, inv); err != nil {
					b.Fatal(err)
				}
				i++
			}
		})
	})
}

func BenchmarkRateLimiter(b *testing.B) {
	limiter := ratelimit.New(ratelimit.Config{MaxCalls: 1000, Window: time.Second})
	now := time.Now()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		limiter.Admit("bench", now.Add(time.Duration(i)*time.Millisecond))
	}
}

func BenchmarkValidate(b *testing.B) {
	contract := schema.MustFromStruct[echoArgs](false)
	args := json.RawMessage(`{"text":"hello","count":3}`)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := schema.Validate(contract, args); err != nil {
			b.Fatal(err)
		}
	}
}

func connect(b *testing.B) *session.Session {
	b.Helper()
	a, c := channel.Pipe()
	server := session.New(a, session.WithLogger(logging.Nop()), session.WithDispatcher(newDispatcher(b)))
	client := session.New(c,
		session.WithLogger(logging.Nop()),
		session.WithCapabilities(capability.NewBuilder().Consume(protocol.CategoryTools, protocol.CapabilityFlags{}).Build()))

	ctx := context.Background()
	go func() { _ = server.Run(ctx) }()
	go func() { _ = client.Run(ctx) }()
	b.Cleanup(func() {
		_ = client.Shutdown(ctx)
		_ = server.Shutdown(ctx)
	})
	if err := client.Initialize(ctx); err != nil {
		b.Fatal(err)
	}
	return client
}

func BenchmarkSessionCallTool(b *testing.B) {
	for _, concurrency := range []int{1, 10, 100} {
		b.Run(fmt.Sprintf("Concurrency/%d", concurrency), func(b *testing.B) {
			client := connect(b)
			ctx := context.Background()
			params := protocol.CallToolParams{Name: "echo", Arguments: json.RawMessage(`{"text":"hello"}`)}

			b.ReportAllocs()
			b.ResetTimer()

			var wg sync.WaitGroup
			calls := make(chan struct{}, b.N)
			for i := 0; i < b.N; i++ {
				calls <- struct{}{}
			}
			close(calls)
			for w := 0; w < concurrency; w++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for range calls {
						var result protocol.CallToolResult
						if err := client.Call(ctx, protocol.MethodCallTool, params, &result); err != nil {
							b.Error(err)
							return
						}
					}
				}()
			}
			wg.Wait()
		})
	}
}
