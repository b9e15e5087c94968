package preset

import (
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces bursts of filesystem events (editors often
// write a file several times in quick succession).
const reloadDebounce = 500 * time.Millisecond

// Watcher observes the preset directory and invokes a reload callback
// when JSON files are created, modified, renamed, or removed.
type Watcher struct {
	dir      string
	onChange func()
	watcher  *fsnotify.Watcher

	mu    sync.Mutex
	timer *time.Timer
	done  chan struct{}
}

// NewWatcher starts watching dir. onChange runs on a watcher-owned
// goroutine after the debounce window closes.
func NewWatcher(dir string, onChange func()) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	w := &Watcher{
		dir:      dir,
		onChange: onChange,
		watcher:  fsw,
		done:     make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Close stops the watcher and releases its resources.
func (w *Watcher) Close() error {
	close(w.done)
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	return w.watcher.Close()
}

// loop drains fsnotify events until Close.
func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !strings.EqualFold(filepath.Ext(event.Name), ".json") {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("preset watcher error", "dir", w.dir, "error", err)
		}
	}
}

// scheduleReload arms the debounce timer, restarting it on each event.
func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(reloadDebounce, func() {
		select {
		case <-w.done:
		default:
			w.onChange()
		}
	})
}
