// Package watch monitors an export directory and emits a debounced
// trigger whenever an export file settles after a burst of writes.
package watch

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long a file must stay quiet before a trigger
// fires. Export writers stream large JSON files in many chunks; firing
// on the first write would sync a truncated snapshot.
const DefaultDebounce = 2 * time.Second

// Trigger names the export file that settled and should be synced.
type Trigger struct {
	Path string
}

// Watcher watches one directory for export file changes. It must be
// started with Start and emits on Triggers after the debounce window.
type Watcher struct {
	watcher  *fsnotify.Watcher
	triggers chan Trigger
	errors   chan error
	done     chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
	dir      string
	debounce time.Duration

	timerMu sync.Mutex
	timers  map[string]*time.Timer
	timerWG sync.WaitGroup
}

// New creates a watcher with the given debounce window; zero or
// negative means DefaultDebounce.
func New(debounce time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		watcher:  fw,
		triggers: make(chan Trigger, 16),
		errors:   make(chan error, 8),
		done:     make(chan struct{}),
		debounce: debounce,
		timers:   make(map[string]*time.Timer),
	}, nil
}

// Start begins watching dir for *.json events.
func (w *Watcher) Start(dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("watch directory %s: %w", dir, err)
	}
	w.dir = dir
	w.running = true
	w.wg.Add(1)
	go w.loop()
	return nil
}

// Stop shuts the watcher down and blocks until the loop has exited.
// Pending debounce timers are cancelled, not flushed.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)
	err := w.watcher.Close()
	w.wg.Wait()

	// A timer that already fired is past Stop's reach; its callback is
	// still in flight and may be about to send. Balance the WaitGroup
	// for timers Stop actually caught, then wait out the rest before
	// the channels close.
	w.timerMu.Lock()
	for _, t := range w.timers {
		if t.Stop() {
			w.timerWG.Done()
		}
	}
	w.timers = map[string]*time.Timer{}
	w.timerMu.Unlock()
	w.timerWG.Wait()

	close(w.triggers)
	close(w.errors)
	if err != nil {
		return fmt.Errorf("close watcher: %w", err)
	}
	return nil
}

// Triggers emits one Trigger per settled export file. Closed on Stop.
func (w *Watcher) Triggers() <-chan Trigger {
	return w.triggers
}

// Errors emits watcher errors. Closed on Stop.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if path, ok := w.relevant(event); ok {
				w.schedule(path)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			case <-w.done:
				return
			}
		}
	}
}

// relevant filters to create/write events on JSON files in the watched
// directory. Removes and renames never trigger a sync: a vanished
// export is not a state to mirror.
func (w *Watcher) relevant(event fsnotify.Event) (string, bool) {
	if !strings.HasSuffix(strings.ToLower(event.Name), ".json") {
		return "", false
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return "", false
	}
	abs, err := filepath.Abs(event.Name)
	if err != nil {
		return "", false
	}
	return abs, true
}

// schedule resets the per-file debounce timer. The trigger fires only
// when debounce elapses with no further event for that path.
func (w *Watcher) schedule(path string) {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()

	// Reset only a timer Stop actually caught; one that already fired
	// has a callback in flight that will retire itself, so it gets a
	// fresh timer instead of a re-arm that would run its callback twice.
	if t, ok := w.timers[path]; ok && t.Stop() {
		t.Reset(w.debounce)
		return
	}
	w.timerWG.Add(1)
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		defer w.timerWG.Done()

		w.timerMu.Lock()
		delete(w.timers, path)
		w.timerMu.Unlock()

		select {
		case w.triggers <- Trigger{Path: path}:
		case <-w.done:
		}
	})
}
