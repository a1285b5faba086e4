package local

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"srcgrep/internal/discovery"
	"srcgrep/internal/eventbus"
)

// Watcher purges the backend cache and publishes RepositoryChangedEvent
// when files in a worktree change. Bursts of file system events are
// batched into one notification per debounce interval.
type Watcher struct {
	watcher  *fsnotify.Watcher
	backend  *Backend
	bus      eventbus.EventBus
	root     string
	filter   discovery.Filter
	debounce time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	pending  map[string]struct{}
	timer    *time.Timer
	attached bool // the backend caches worktree responses while set
}

// NewWatcher creates a watcher for root. Start must be called to begin.
func NewWatcher(b *Backend, bus eventbus.EventBus, root string, debounce time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		watcher:  fw,
		backend:  b,
		bus:      bus,
		root:     root,
		filter:   discovery.Filter{Include: b.opts.Include, Exclude: b.opts.Exclude},
		debounce: debounce,
		ctx:      ctx,
		cancel:   cancel,
		pending:  make(map[string]struct{}),
	}, nil
}

// Start adds a watch for every directory below root and begins processing
func (w *Watcher) Start() error {
	dirs, err := discovery.Dirs(w.ctx, w.root)
	if err != nil {
		return fmt.Errorf("failed to list directories under %s: %w", w.root, err)
	}
	for _, dir := range dirs {
		if err := w.watcher.Add(dir); err != nil {
			log.Printf("Watcher: failed to watch %s: %v", dir, err)
		}
	}
	log.Printf("Watcher: watching %d directories under %s", len(dirs), w.root)

	w.mu.Lock()
	w.attached = true
	w.mu.Unlock()
	w.backend.attachWatcher()

	w.wg.Add(1)
	go w.processEvents()
	return nil
}

// Stop ends watching and waits for the event loop to exit. A pending batch
// is dropped.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	attached := w.attached
	w.attached = false
	w.mu.Unlock()
	if attached {
		w.backend.detachWatcher()
	}

	w.cancel()
	err := w.watcher.Close()
	w.wg.Wait()

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	return err
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("Watcher: %v", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op == fsnotify.Chmod {
		return
	}
	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil {
		return
	}

	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if !discovery.SkipDir(info.Name()) {
				if err := w.watcher.Add(event.Name); err != nil {
					log.Printf("Watcher: failed to watch new directory %s: %v", event.Name, err)
				}
			}
			return
		}
	}

	if hiddenOrSkipped(rel) || discovery.SkipDir(filepath.Base(rel)) || !w.filter.Match(rel) {
		return
	}
	w.add(filepath.ToSlash(rel))
}

func (w *Watcher) add(rel string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending[rel] = struct{}{}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

func (w *Watcher) flush() {
	w.mu.Lock()
	if len(w.pending) == 0 || w.ctx.Err() != nil {
		w.mu.Unlock()
		return
	}
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	w.pending = make(map[string]struct{})
	w.mu.Unlock()

	sort.Strings(paths)
	w.backend.InvalidateCache()
	log.Printf("Watcher: %d files changed under %s", len(paths), w.root)
	if w.bus != nil {
		w.bus.Publish(eventbus.RepositoryChangedEvent{Paths: paths})
	}
}
