package resources

import (
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ajitpratap0/toolwire/pkg/logging"
	"github.com/ajitpratap0/toolwire/pkg/session"
)

// startWatcher watches every directory under the root. Without a working
// watcher the provider still serves reads but emits no events.
func (p *Provider) startWatcher() {
	p.watchOnce.Do(func() {
		select {
		case <-p.stop:
			return
		default:
		}

		w, err := fsnotify.NewWatcher()
		if err != nil {
			p.logger.WithError(err).Warn("file watching unavailable")
			return
		}
		root := p.sb.Root()
		_ = filepath.WalkDir(root, func(dir string, d fs.DirEntry, err error) error {
			if err == nil && d.IsDir() {
				if err := w.Add(dir); err != nil {
					p.logger.WithError(err).Debug("cannot watch directory", logging.String("dir", dir))
				}
			}
			return nil
		})

		p.mu.Lock()
		p.watcher = w
		p.mu.Unlock()
		go p.loop(w)
	})
}

func (p *Provider) loop(w *fsnotify.Watcher) {
	defer close(p.stopped)
	defer w.Close()

	for {
		select {
		case <-p.stop:
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			p.handle(w, ev)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			p.logger.WithError(err).Debug("watch error")
		}
	}
}

func (p *Provider) handle(w *fsnotify.Watcher, ev fsnotify.Event) {
	switch {
	case ev.Has(fsnotify.Create):
		if info, err := os.Lstat(ev.Name); err == nil && info.IsDir() {
			_ = w.Add(ev.Name)
		}
		p.emit(session.ResourceEvent{Kind: session.ResourceListChanged})
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		p.emit(session.ResourceEvent{Kind: session.ResourceListChanged})
	case ev.Has(fsnotify.Write):
		rel, err := filepath.Rel(p.sb.Root(), ev.Name)
		if err != nil {
			return
		}
		uri := URIFor(filepath.ToSlash(rel))
		p.mu.Lock()
		subscribed := p.subs[uri] > 0
		p.mu.Unlock()
		if subscribed {
			p.updated(uri)
		}
	}
}

// updated emits an update for uri, coalescing writes within the debounce
// interval
func (p *Provider) updated(uri string) {
	if p.debounce <= 0 {
		p.emit(session.ResourceEvent{Kind: session.ResourceUpdated, URI: uri})
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, pending := p.timers[uri]; pending {
		return
	}
	p.timers[uri] = time.AfterFunc(p.debounce, func() {
		p.mu.Lock()
		delete(p.timers, uri)
		p.mu.Unlock()
		p.emit(session.ResourceEvent{Kind: session.ResourceUpdated, URI: uri})
	})
}
