// Package tools holds the built-in tools served by the toolwire command.
package tools

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ajitpratap0/toolwire/pkg/dispatch"
	"github.com/ajitpratap0/toolwire/pkg/protocol"
	"github.com/ajitpratap0/toolwire/pkg/sandbox"
	"github.com/ajitpratap0/toolwire/pkg/schema"
)

// Options tunes the built-in tools
type Options struct {
	// EchoMaxLength bounds the echo text, in characters
	EchoMaxLength int
	// ReadLimit is the default and largest number of bytes read_file returns
	ReadLimit int64
	// AllowWrite registers write_file
	AllowWrite bool
	// Sandbox, when set, is used to show paths relative to its root
	Sandbox *sandbox.Sandbox
}

// DefaultOptions returns the options used by the command
func DefaultOptions() Options {
	return Options{
		EchoMaxLength: 4096,
		ReadLimit:     256 * 1024,
	}
}

type readFileArgs struct {
	Path   string `json:"path" jsonschema:"format=path,description=File to read"`
	Offset int64  `json:"offset,omitempty" jsonschema:"minimum=0,description=Byte offset to start at"`
	Limit  int64  `json:"limit,omitempty" jsonschema:"minimum=1,description=Maximum number of bytes to return"`
}

type listDirectoryArgs struct {
	Path string `json:"path" jsonschema:"format=path,description=Directory to list"`
}

type writeFileArgs struct {
	Path    string `json:"path" jsonschema:"format=path,description=File to write"`
	Content string `json:"content" jsonschema:"description=Text to write"`
	Append  bool   `json:"append,omitempty" jsonschema:"description=Append instead of replacing"`
}

type sleepArgs struct {
	Milliseconds int64 `json:"milliseconds" jsonschema:"minimum=0,maximum=600000,description=How long to sleep"`
	Steps        int64 `json:"steps,omitempty" jsonschema:"minimum=1,maximum=100,description=Number of progress reports"`
}

// Builtin returns the built-in tool definitions
func Builtin(opts Options) []dispatch.Definition {
	defs := []dispatch.Definition{
		Echo(opts.EchoMaxLength),
		{
			Name:        "read_file",
			Description: "Read a file under the sandbox root",
			Contract:    schema.MustFromStruct[readFileArgs](false),
			Handler:     readFile(opts),
		},
		{
			Name:        "list_directory",
			Description: "List the entries of a directory under the sandbox root",
			Contract:    schema.MustFromStruct[listDirectoryArgs](false),
			Handler:     listDirectory(opts),
		},
		{
			Name:        "sleep",
			Description: "Wait, reporting progress, until the time elapses or the call is cancelled",
			Contract:    schema.MustFromStruct[sleepArgs](false),
			Handler:     sleep,
		},
	}
	if opts.AllowWrite {
		defs = append(defs, dispatch.Definition{
			Name:        "write_file",
			Description: "Write a text file under the sandbox root",
			Contract:    schema.MustFromStruct[writeFileArgs](false),
			Handler:     writeFile(opts),
		})
	}
	return defs
}

// Register adds the built-in tools to d
func Register(d *dispatch.Dispatcher, opts Options) error {
	for _, def := range Builtin(opts) {
		if err := d.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// Echo returns a tool that answers with its text argument
func Echo(maxLength int) dispatch.Definition {
	return dispatch.Definition{
		Name:        "echo",
		Description: "Echo the given text",
		Contract: &schema.Contract{Params: []schema.Param{{
			Name:        "text",
			Type:        schema.TypeString,
			Description: "Text to echo",
			Required:    true,
			MaxLength:   maxLength,
		}}},
		Handler: func(_ context.Context, call *dispatch.Call) (*protocol.CallToolResult, error) {
			return textResult(call.Args.String("text")), nil
		},
	}
}

func readFile(opts Options) dispatch.Handler {
	return func(ctx context.Context, call *dispatch.Call) (*protocol.CallToolResult, error) {
		var args readFileArgs
		if err := call.Args.Decode(&args); err != nil {
			return nil, err
		}
		limit := opts.ReadLimit
		if args.Limit > 0 && (limit <= 0 || args.Limit < limit) {
			limit = args.Limit
		}

		f, err := os.Open(args.Path)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", display(opts, args.Path), err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, err
		}
		if info.IsDir() {
			return nil, fmt.Errorf("%s is a directory", display(opts, args.Path))
		}
		if args.Offset > 0 {
			if _, err := f.Seek(args.Offset, io.SeekStart); err != nil {
				return nil, err
			}
		}

		var r io.Reader = f
		if limit > 0 {
			r = io.LimitReader(f, limit)
		}
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		if utf8.Valid(data) {
			return textResult(string(data)), nil
		}
		mt := mime.TypeByExtension(strings.ToLower(filepath.Ext(args.Path)))
		if mt == "" {
			mt = "application/octet-stream"
		}
		return &protocol.CallToolResult{Content: []protocol.Content{protocol.BinaryContent(data, mt)}}, nil
	}
}

func listDirectory(opts Options) dispatch.Handler {
	return func(ctx context.Context, call *dispatch.Call) (*protocol.CallToolResult, error) {
		var args listDirectoryArgs
		if err := call.Args.Decode(&args); err != nil {
			return nil, err
		}
		entries, err := os.ReadDir(args.Path)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", display(opts, args.Path), err)
		}

		names := make([]string, 0, len(entries))
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() {
				name += "/"
			}
			names = append(names, name)
		}
		sort.Strings(names)
		return textResult(strings.Join(names, "\n")), nil
	}
}

func writeFile(opts Options) dispatch.Handler {
	return func(ctx context.Context, call *dispatch.Call) (*protocol.CallToolResult, error) {
		var args writeFileArgs
		if err := call.Args.Decode(&args); err != nil {
			return nil, err
		}
		flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
		if args.Append {
			flags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
		}
		f, err := os.OpenFile(args.Path, flags, 0o644)
		if err != nil {
			return nil, fmt.Errorf("write %s: %w", display(opts, args.Path), err)
		}
		n, werr := f.WriteString(args.Content)
		if cerr := f.Close(); werr == nil {
			werr = cerr
		}
		if werr != nil {
			return nil, fmt.Errorf("write %s: %w", display(opts, args.Path), werr)
		}
		return textResult(fmt.Sprintf("wrote %d bytes to %s", n, display(opts, args.Path))), nil
	}
}

func sleep(ctx context.Context, call *dispatch.Call) (*protocol.CallToolResult, error) {
	total := time.Duration(call.Args.Int("milliseconds", 0)) * time.Millisecond
	steps := call.Args.Int("steps", 1)
	step := total / time.Duration(steps)

	timer := time.NewTimer(step)
	defer timer.Stop()
	for i := int64(1); i <= steps; i++ {
		select {
		case <-ctx.Done():
			return nil, context.Cause(ctx)
		case <-timer.C:
		}
		call.Progress(float64(i), float64(steps), fmt.Sprintf("slept %s", step*time.Duration(i)))
		if i < steps {
			timer.Reset(step)
		}
	}
	return textResult(fmt.Sprintf("slept %s", total)), nil
}

func textResult(text string) *protocol.CallToolResult {
	return &protocol.CallToolResult{Content: []protocol.Content{protocol.TextContent(text)}}
}

func display(opts Options, path string) string {
	if opts.Sandbox == nil {
		return path
	}
	rel, err := opts.Sandbox.Rel(path)
	if err != nil {
		return path
	}
	return rel
}
