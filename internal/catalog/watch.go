package catalog

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/linuxdeepin/dde-application-manager/internal/xdgpaths"
)

// ScanAll walks every application search directory and adds every
// .desktop file found, in search-path order. Parse failures for
// individual files are logged and skipped rather than aborting the scan.
func (c *Catalog) ScanAll() {
	for _, dir := range xdgpaths.ApplicationDirs() {
		c.scanDir(dir)
	}
}

func (c *Catalog) scanDir(dir string) {
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".desktop") {
			return nil
		}
		if _, addErr := c.Add(path); addErr != nil {
			log.Printf("catalog: skipping %s: %v", path, addErr)
		}
		return nil
	})
}

// Watcher drives Catalog.Refresh off fsnotify events, coalescing bursts
// of events into a single refresh pass per §5 ("if a scan is still
// running when a new event arrives, coalesce").
type Watcher struct {
	catalog *Catalog
	fsw     *fsnotify.Watcher
	debounce time.Duration
	stop    chan struct{}
}

// NewWatcher creates an fsnotify-backed watcher over every application
// search directory that exists on disk.
func NewWatcher(c *Catalog) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, dir := range xdgpaths.ApplicationDirs() {
		if _, statErr := os.Stat(dir); statErr == nil {
			if err := fsw.Add(dir); err != nil {
				log.Printf("catalog: watch %s: %v", dir, err)
			}
		}
	}
	return &Watcher{catalog: c, fsw: fsw, debounce: 200 * time.Millisecond, stop: make(chan struct{})}, nil
}

// Run drains fsnotify events until Close is called, coalescing bursts and
// calling Catalog.Refresh with the affected app ids.
func (w *Watcher) Run() {
	pending := map[string]bool{}
	timer := time.NewTimer(w.debounce)
	timer.Stop()

	flush := func() {
		if len(pending) == 0 {
			return
		}
		ids := make([]string, 0, len(pending))
		for id := range pending {
			ids = append(ids, id)
		}
		pending = map[string]bool{}
		w.catalog.Refresh(ids)
	}

	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				flush()
				return
			}
			if !strings.HasSuffix(ev.Name, ".desktop") {
				continue
			}
			appID := appIDForWatchedPath(ev.Name)
			pending[appID] = true
			timer.Reset(w.debounce)
		case <-timer.C:
			flush()
		case <-w.stop:
			flush()
			return
		}
	}
}

func appIDForWatchedPath(path string) string {
	for _, dir := range xdgpaths.ApplicationDirs() {
		if within(dir, path) {
			return xdgpaths.AppIDFromRel(dir, path)
		}
	}
	return xdgpaths.AppIDFromPath(path)
}

// Close stops the watcher goroutine and releases the underlying fsnotify
// watcher.
func (w *Watcher) Close() error {
	close(w.stop)
	return w.fsw.Close()
}
