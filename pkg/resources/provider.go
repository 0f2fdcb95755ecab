// Package resources serves the files under a sandbox root as resources.
//
// A resource URI names a root-relative path: file:///docs/readme.md is
// docs/readme.md under the root. Every URI is resolved through the sandbox
// before it is touched, so symlinks leading out of the root are refused.
// Change events come from an fsnotify watcher started on first use.
package resources

import (
	"context"
	"io/fs"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/fsnotify/fsnotify"

	mcperrors "github.com/ajitpratap0/toolwire/pkg/errors"
	"github.com/ajitpratap0/toolwire/pkg/logging"
	"github.com/ajitpratap0/toolwire/pkg/pagination"
	"github.com/ajitpratap0/toolwire/pkg/protocol"
	"github.com/ajitpratap0/toolwire/pkg/sandbox"
	"github.com/ajitpratap0/toolwire/pkg/session"
)

const (
	// URIPrefix starts every resource URI
	URIPrefix = "file:///"

	// DefaultMaxReadBytes is the largest file ReadResource returns
	DefaultMaxReadBytes = 1 << 20

	// DefaultDebounce coalesces bursts of writes to one update event
	DefaultDebounce = 100 * time.Millisecond
)

// Provider implements session.ResourceProvider over a sandbox root
type Provider struct {
	sb           *sandbox.Sandbox
	maxReadBytes int64
	debounce     time.Duration
	logger       logging.Logger

	mu        sync.Mutex
	listeners map[int]func(session.ResourceEvent)
	nextID    int
	subs      map[string]int
	timers    map[string]*time.Timer

	watchOnce sync.Once
	watcher   *fsnotify.Watcher
	stop      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

// Option configures a Provider
type Option func(*Provider)

// WithMaxReadBytes sets the read size threshold
func WithMaxReadBytes(n int64) Option {
	return func(p *Provider) {
		p.maxReadBytes = n
	}
}

// WithDebounce sets the update coalescing interval. Zero emits every write.
func WithDebounce(d time.Duration) Option {
	return func(p *Provider) {
		p.debounce = d
	}
}

// WithLogger sets the logger
func WithLogger(logger logging.Logger) Option {
	return func(p *Provider) {
		p.logger = logger
	}
}

// New creates a provider for the files under sb's root
func New(sb *sandbox.Sandbox, options ...Option) *Provider {
	p := &Provider{
		sb:           sb,
		maxReadBytes: DefaultMaxReadBytes,
		debounce:     DefaultDebounce,
		logger:       logging.GetGlobalLogger(),
		listeners:    make(map[int]func(session.ResourceEvent)),
		subs:         make(map[string]int),
		timers:       make(map[string]*time.Timer),
		stop:         make(chan struct{}),
		stopped:      make(chan struct{}),
	}
	for _, option := range options {
		option(p)
	}
	p.logger = p.logger.WithFields(logging.String("component", "resources"))
	return p
}

// ListResources walks the root and returns one page of regular files,
// sorted by URI. Symlinks are not listed.
func (p *Provider) ListResources(ctx context.Context, cursor string) (*protocol.ListResourcesResult, error) {
	root := p.sb.Root()
	var all []protocol.Resource
	err := filepath.WalkDir(root, func(file string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, file)
		if err != nil {
			return nil
		}
		res := protocol.Resource{
			URI:      URIFor(filepath.ToSlash(rel)),
			Name:     filepath.ToSlash(rel),
			MimeType: mimeType(file),
		}
		if info, err := d.Info(); err == nil {
			res.Size = info.Size()
		}
		all = append(all, res)
		return nil
	})
	if err != nil {
		return nil, mcperrors.InternalFault(err)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].URI < all[j].URI })

	page, next, err := pagination.Page(all, &protocol.PaginationParams{Cursor: cursor})
	if err != nil {
		return nil, mcperrors.InvalidParamsf("resources/list: %v", err)
	}
	if page == nil {
		page = []protocol.Resource{}
	}
	return &protocol.ListResourcesResult{Resources: page, NextCursor: next}, nil
}

// ReadResource returns the contents of uri. Text types are returned as
// text when valid UTF-8; everything else as a blob.
func (p *Provider) ReadResource(_ context.Context, uri string) (*protocol.ReadResourceResult, error) {
	file, err := p.resolve(uri)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(file)
	if err != nil || !info.Mode().IsRegular() {
		return nil, mcperrors.InvalidParamsf("resource not found: %s", uri)
	}
	if info.Size() > p.maxReadBytes {
		return nil, mcperrors.InvalidParamsf("resource %s is %d bytes, above the %d byte read limit", uri, info.Size(), p.maxReadBytes)
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return nil, mcperrors.InternalFault(err).WithDetail("reading " + uri)
	}
	mt := mimeType(file)
	contents := protocol.ResourceContents{URI: uri, MimeType: mt}
	if isText(mt) && utf8.Valid(data) {
		contents.Text = string(data)
	} else {
		contents.Blob = data
	}
	return &protocol.ReadResourceResult{Contents: []protocol.ResourceContents{contents}}, nil
}

// Subscribe starts update events for uri, which must name an existing file
func (p *Provider) Subscribe(_ context.Context, uri string) error {
	file, err := p.resolve(uri)
	if err != nil {
		return err
	}
	if info, err := os.Stat(file); err != nil || !info.Mode().IsRegular() {
		return mcperrors.InvalidParamsf("resource not found: %s", uri)
	}
	p.startWatcher()

	p.mu.Lock()
	p.subs[uri]++
	p.mu.Unlock()
	return nil
}

// Unsubscribe drops one subscription to uri
func (p *Provider) Unsubscribe(_ context.Context, uri string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.subs[uri] <= 1 {
		delete(p.subs, uri)
		return nil
	}
	p.subs[uri]--
	return nil
}

// Watch registers fn for change events
func (p *Provider) Watch(fn func(session.ResourceEvent)) (stop func()) {
	p.startWatcher()

	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

// Close stops the watcher
func (p *Provider) Close() error {
	p.closeOnce.Do(func() {
		close(p.stop)
		p.mu.Lock()
		for uri, t := range p.timers {
			t.Stop()
			delete(p.timers, uri)
		}
		watching := p.watcher != nil
		p.mu.Unlock()
		if watching {
			<-p.stopped
		}
	})
	return nil
}

func (p *Provider) resolve(uri string) (string, error) {
	rel, ok := relFromURI(uri)
	if !ok {
		return "", mcperrors.InvalidParamsf("malformed resource uri %q", uri)
	}
	return p.sb.Resolve(rel)
}

func (p *Provider) emit(ev session.ResourceEvent) {
	p.mu.Lock()
	fns := make([]func(session.ResourceEvent), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// URIFor returns the URI of a root-relative, slash-separated path
func URIFor(rel string) string {
	segs := strings.Split(rel, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return URIPrefix + strings.Join(segs, "/")
}

func relFromURI(uri string) (string, bool) {
	if !strings.HasPrefix(uri, URIPrefix) {
		return "", false
	}
	segs := strings.Split(strings.TrimPrefix(uri, URIPrefix), "/")
	for i, s := range segs {
		dec, err := url.PathUnescape(s)
		if err != nil {
			return "", false
		}
		segs[i] = dec
	}
	rel := path.Clean(strings.Join(segs, "/"))
	if rel == "." || rel == "" {
		return "", false
	}
	return filepath.FromSlash(rel), true
}

func mimeType(file string) string {
	if mt := mime.TypeByExtension(strings.ToLower(filepath.Ext(file))); mt != "" {
		return mt
	}
	return "application/octet-stream"
}

func isText(mt string) bool {
	mt, _, _ = strings.Cut(mt, ";")
	switch {
	case strings.HasPrefix(mt, "text/"):
		return true
	case mt == "application/json", mt == "application/xml", mt == "application/yaml",
		mt == "application/javascript", mt == "application/toml":
		return true
	case strings.HasSuffix(mt, "+json"), strings.HasSuffix(mt, "+xml"):
		return true
	}
	return false
}
