package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/ajitpratap0/toolwire/pkg/pagination"
	"github.com/ajitpratap0/toolwire/pkg/protocol"
	"github.com/ajitpratap0/toolwire/pkg/schema"
)

var (
	// ErrDuplicateTool is returned by Register for a name already in use
	ErrDuplicateTool = errors.New("tool already registered")
	// ErrUnknownTool is returned by Replace and Unregister for a missing name
	ErrUnknownTool = errors.New("tool not registered")
)

// ProgressFunc receives progress reports from a running handler
type ProgressFunc func(completed, total float64, status string)

// Call is what a handler sees of one invocation. Args have been validated
// against the tool's contract and every locator has been replaced by its
// sandbox-resolved absolute path.
type Call struct {
	Tool     string
	Args     schema.Args
	CallerID string

	progress ProgressFunc
}

// Progress reports progress to the caller. Reports made after the
// invocation has finished or been cancelled are dropped.
func (c *Call) Progress(completed, total float64, status string) {
	if c.progress != nil {
		c.progress(completed, total, status)
	}
}

// Handler executes a tool. A returned error becomes an error result; a
// handler wanting mixed success returns content with IsError false.
type Handler func(ctx context.Context, call *Call) (*protocol.CallToolResult, error)

// Definition is a registered tool
type Definition struct {
	Name        string
	Description string
	// Contract declares the arguments. Nil means the tool takes none.
	Contract *schema.Contract
	Handler  Handler
}

// ChangeKind describes a registry change
type ChangeKind int

const (
	ToolAdded ChangeKind = iota
	ToolReplaced
	ToolRemoved
)

func (k ChangeKind) String() string {
	switch k {
	case ToolAdded:
		return "added"
	case ToolReplaced:
		return "replaced"
	case ToolRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// ChangeListener is told about every registry change after it happened
type ChangeListener func(kind ChangeKind, tool string)

type entry struct {
	def        Definition
	descriptor protocol.Tool
}

func newEntry(def Definition) (*entry, error) {
	if def.Name == "" {
		return nil, errors.New("tool name is required")
	}
	if def.Handler == nil {
		return nil, fmt.Errorf("tool %q: handler is required", def.Name)
	}
	if def.Contract == nil {
		def.Contract = &schema.Contract{}
	}
	if err := def.Contract.Check(); err != nil {
		return nil, fmt.Errorf("tool %q: %w", def.Name, err)
	}
	inputSchema, err := def.Contract.JSONSchema()
	if err != nil {
		return nil, fmt.Errorf("tool %q: input schema: %w", def.Name, err)
	}
	return &entry{
		def: def,
		descriptor: protocol.Tool{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: json.RawMessage(inputSchema),
		},
	}, nil
}

// Register adds a tool. It fails with ErrDuplicateTool if the name is taken.
func (d *Dispatcher) Register(def Definition) error {
	e, err := newEntry(def)
	if err != nil {
		return err
	}

	d.mu.Lock()
	if _, exists := d.tools[def.Name]; exists {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateTool, def.Name)
	}
	d.tools[def.Name] = e
	d.mu.Unlock()

	d.notify(ToolAdded, def.Name)
	return nil
}

// MustRegister is Register that panics, for startup wiring
func (d *Dispatcher) MustRegister(defs ...Definition) {
	for _, def := range defs {
		if err := d.Register(def); err != nil {
			panic(err)
		}
	}
}

// Replace swaps the definition of a registered tool. Invocations already
// running keep the old handler.
func (d *Dispatcher) Replace(def Definition) error {
	e, err := newEntry(def)
	if err != nil {
		return err
	}

	d.mu.Lock()
	if _, exists := d.tools[def.Name]; !exists {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownTool, def.Name)
	}
	d.tools[def.Name] = e
	d.mu.Unlock()

	d.notify(ToolReplaced, def.Name)
	return nil
}

// Unregister removes a tool
func (d *Dispatcher) Unregister(name string) error {
	d.mu.Lock()
	if _, exists := d.tools[name]; !exists {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	delete(d.tools, name)
	d.mu.Unlock()

	d.notify(ToolRemoved, name)
	return nil
}

// OnChange adds a listener and returns a function that removes it
func (d *Dispatcher) OnChange(listener ChangeListener) (remove func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := d.nextListener
	d.nextListener++
	d.listeners[id] = listener
	return func() {
		d.mu.Lock()
		delete(d.listeners, id)
		d.mu.Unlock()
	}
}

func (d *Dispatcher) notify(kind ChangeKind, tool string) {
	d.mu.RLock()
	listeners := make([]ChangeListener, 0, len(d.listeners))
	for _, l := range d.listeners {
		listeners = append(listeners, l)
	}
	d.mu.RUnlock()

	for _, l := range listeners {
		l(kind, tool)
	}
}

// Lookup returns the definition of name
func (d *Dispatcher) Lookup(name string) (Definition, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.tools[name]
	if !ok {
		return Definition{}, false
	}
	return e.def, true
}

// List returns one page of tool descriptors, sorted by name
func (d *Dispatcher) List(params *protocol.PaginationParams) (*protocol.ListToolsResult, error) {
	d.mu.RLock()
	tools := make([]protocol.Tool, 0, len(d.tools))
	for _, e := range d.tools {
		tools = append(tools, e.descriptor)
	}
	d.mu.RUnlock()

	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })

	page, next, err := pagination.Page(tools, params)
	if err != nil {
		return nil, err
	}
	return &protocol.ListToolsResult{Tools: page, NextCursor: next}, nil
}
