package session

import (
	"context"
	"encoding/json"

	"github.com/ajitpratap0/toolwire/pkg/protocol"
)

// ResourceEventKind describes a resource change
type ResourceEventKind int

const (
	// ResourceUpdated: the contents of URI changed
	ResourceUpdated ResourceEventKind = iota
	// ResourceListChanged: resources were added or removed
	ResourceListChanged
)

// ResourceEvent is a change reported by a ResourceProvider
type ResourceEvent struct {
	Kind ResourceEventKind
	URI  string
}

// ResourceProvider serves the resources category
type ResourceProvider interface {
	ListResources(ctx context.Context, cursor string) (*protocol.ListResourcesResult, error)
	ReadResource(ctx context.Context, uri string) (*protocol.ReadResourceResult, error)
	// Subscribe starts watching uri for changes
	Subscribe(ctx context.Context, uri string) error
	Unsubscribe(ctx context.Context, uri string) error
	// Watch registers fn for every change event until stop is called
	Watch(fn func(ResourceEvent)) (stop func())
}

// PromptProvider serves the prompts category
type PromptProvider interface {
	ListPrompts(ctx context.Context, cursor string) (*protocol.ListPromptsResult, error)
	GetPrompt(ctx context.Context, name string, args map[string]string) (*protocol.GetPromptResult, error)
}

// NotificationHandler receives an inbound notification the session does
// not handle itself, such as progress or list changes sent by the peer
type NotificationHandler func(ctx context.Context, params json.RawMessage)
