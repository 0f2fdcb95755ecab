// Package capability negotiates which method categories a session may use.
//
// Each side declares what it Provides (serves) and what it Consumes (calls,
// or receives notifications about). Agreement is computed per category and
// per direction: a category is usable in one direction only when the serving
// side provides it and the calling side consumes it. Sub-flags such as
// listChanged and subscribe are agreed only when both sides set them.
package capability

import (
	"sort"

	"github.com/ajitpratap0/toolwire/pkg/protocol"
)

// Declaration is one side's capability declaration
type Declaration = protocol.Capabilities

// Builder assembles a Declaration
type Builder struct {
	decl Declaration
}

// NewBuilder starts an empty declaration
func NewBuilder() *Builder {
	return &Builder{decl: Declaration{
		Provides: map[protocol.Category]protocol.CapabilityFlags{},
		Consumes: map[protocol.Category]protocol.CapabilityFlags{},
	}}
}

// Provide declares that this side serves category
func (b *Builder) Provide(category protocol.Category, flags protocol.CapabilityFlags) *Builder {
	b.decl.Provides[category] = flags
	return b
}

// Consume declares that this side calls category
func (b *Builder) Consume(category protocol.Category, flags protocol.CapabilityFlags) *Builder {
	b.decl.Consumes[category] = flags
	return b
}

// Build returns the declaration
func (b *Builder) Build() Declaration {
	return b.decl
}

// requirement is what a method needs from the agreement
type requirement struct {
	category    protocol.Category
	listChanged bool
	subscribe   bool
}

var lifecycleMethods = map[string]bool{
	protocol.MethodInitialize:  true,
	protocol.MethodInitialized: true,
	protocol.MethodPing:        true,
	protocol.MethodShutdown:    true,
	protocol.MethodCancelled:   true,
	protocol.MethodProgress:    true,
}

var methodRequirements = map[string]requirement{
	protocol.MethodListTools:     {category: protocol.CategoryTools},
	protocol.MethodCallTool:      {category: protocol.CategoryTools},
	protocol.MethodListResources: {category: protocol.CategoryResources},
	protocol.MethodReadResource:  {category: protocol.CategoryResources},
	protocol.MethodListPrompts:   {category: protocol.CategoryPrompts},
	protocol.MethodGetPrompt:     {category: protocol.CategoryPrompts},

	protocol.MethodSubscribeResource:   {category: protocol.CategoryResources, subscribe: true},
	protocol.MethodUnsubscribeResource: {category: protocol.CategoryResources, subscribe: true},

	protocol.MethodToolsListChanged:     {category: protocol.CategoryTools, listChanged: true},
	protocol.MethodResourcesListChanged: {category: protocol.CategoryResources, listChanged: true},
	protocol.MethodResourceUpdated:      {category: protocol.CategoryResources, subscribe: true},
	protocol.MethodPromptsListChanged:   {category: protocol.CategoryPrompts, listChanged: true},
}

// IsLifecycle reports whether method belongs to no category
func IsLifecycle(method string) bool {
	return lifecycleMethods[method]
}

// CategoryOf returns the category of method, if it has one
func CategoryOf(method string) (protocol.Category, bool) {
	req, ok := methodRequirements[method]
	return req.category, ok
}

// Agreement is the negotiated outcome. It is immutable once computed.
type Agreement struct {
	// Inbound lists what the local side serves to the remote side
	Inbound map[protocol.Category]protocol.CapabilityFlags
	// Outbound lists what the remote side serves to the local side
	Outbound map[protocol.Category]protocol.CapabilityFlags
}

// Negotiate computes the agreement between the local and remote declarations
func Negotiate(local, remote Declaration) *Agreement {
	return &Agreement{
		Inbound:  intersect(local.Provides, remote.Consumes),
		Outbound: intersect(remote.Provides, local.Consumes),
	}
}

func intersect(provides, consumes map[protocol.Category]protocol.CapabilityFlags) map[protocol.Category]protocol.CapabilityFlags {
	out := make(map[protocol.Category]protocol.CapabilityFlags)
	for cat, p := range provides {
		c, ok := consumes[cat]
		if !ok {
			continue
		}
		out[cat] = protocol.CapabilityFlags{
			ListChanged: p.ListChanged && c.ListChanged,
			Subscribe:   p.Subscribe && c.Subscribe,
		}
	}
	return out
}

func satisfies(agreed map[protocol.Category]protocol.CapabilityFlags, method string) bool {
	if lifecycleMethods[method] {
		return true
	}
	req, ok := methodRequirements[method]
	if !ok {
		return false
	}
	flags, ok := agreed[req.category]
	if !ok {
		return false
	}
	if req.listChanged && !flags.ListChanged {
		return false
	}
	if req.subscribe && !flags.Subscribe {
		return false
	}
	return true
}

// IsAllowed reports whether the remote side may send the request method to
// the local side. Unknown methods are never allowed.
func (a *Agreement) IsAllowed(method string) bool {
	if a == nil {
		return lifecycleMethods[method]
	}
	return satisfies(a.Inbound, method)
}

// CanCall reports whether the local side may send the request method
func (a *Agreement) CanCall(method string) bool {
	if a == nil {
		return lifecycleMethods[method]
	}
	return satisfies(a.Outbound, method)
}

// CanNotify reports whether the local side, as provider, may send the
// change notification method
func (a *Agreement) CanNotify(method string) bool {
	if a == nil {
		return lifecycleMethods[method]
	}
	return satisfies(a.Inbound, method)
}

// Accepts reports whether the remote side, as provider, may send the
// change notification method to the local side
func (a *Agreement) Accepts(method string) bool {
	if a == nil {
		return lifecycleMethods[method]
	}
	return satisfies(a.Outbound, method)
}

// Served lists the categories the local side serves, sorted
func (a *Agreement) Served() []string {
	return keys(a.Inbound)
}

// Used lists the categories the local side may call, sorted
func (a *Agreement) Used() []string {
	return keys(a.Outbound)
}

func keys(m map[protocol.Category]protocol.CapabilityFlags) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, string(k))
	}
	sort.Strings(out)
	return out
}
