package autostart

import (
	"log"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher drives Manager.Reconcile off fsnotify events on the autostart
// directory, the same debounced-coalescing shape as catalog.Watcher.
type Watcher struct {
	mgr      *Manager
	fsw      *fsnotify.Watcher
	debounce time.Duration
	stop     chan struct{}
}

// NewWatcher watches mgr's autostart directory for external changes.
func NewWatcher(mgr *Manager) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(mgr.dir); err != nil {
		fsw.Close()
		return nil, err
	}
	return &Watcher{mgr: mgr, fsw: fsw, debounce: 200 * time.Millisecond, stop: make(chan struct{})}, nil
}

// Run drains fsnotify events until Close is called, coalescing bursts
// into a single Reconcile pass.
func (w *Watcher) Run() {
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	dirty := false

	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				if dirty {
					w.mgr.Reconcile()
				}
				return
			}
			log.Printf("autostart: observed %s", ev)
			dirty = true
			timer.Reset(w.debounce)
		case <-timer.C:
			if dirty {
				dirty = false
				w.mgr.Reconcile()
			}
		case <-w.stop:
			if dirty {
				w.mgr.Reconcile()
			}
			return
		}
	}
}

// Close stops the watcher goroutine and releases the fsnotify watcher.
func (w *Watcher) Close() error {
	close(w.stop)
	return w.fsw.Close()
}
