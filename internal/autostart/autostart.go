// Package autostart owns the user autostart directory (component H):
// copying desktop entries into it on request, rewriting the copy so it
// is guaranteed visible, and reconciling with edits made directly to the
// directory by something other than this process.
package autostart

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/linuxdeepin/dde-application-manager/internal/apperr"
	"github.com/linuxdeepin/dde-application-manager/internal/desktopentry"
	"github.com/linuxdeepin/dde-application-manager/internal/xdgpaths"
)

// ChangeKind distinguishes the two AutostartChanged signal kinds.
type ChangeKind int

const (
	Added ChangeKind = iota
	Removed
)

func (k ChangeKind) String() string {
	if k == Added {
		return "Added"
	}
	return "Removed"
}

// Change is one AutostartChanged event, matching §6's signal shape.
type Change struct {
	Kind ChangeKind
	Path string // the original desktop-entry path, not the autostart copy
}

// serviceName is the X-Deepin-CreatedBy marker value stamped into every
// autostart copy this manager writes, per §4.H.
const serviceName = "dde-application-manager"

// Manager owns the autostart directory state: the set of live copies plus
// the reverse mapping from original desktop path to autostart copy path.
type Manager struct {
	mu       sync.Mutex
	byOrigin map[string]string // original desktop path -> copy path
	dir      string

	dbusCalled bool // guards reconciliation from re-emitting API-originated changes

	subsMu sync.Mutex
	subs   []chan Change
}

// New returns a Manager rooted at the writable user autostart directory,
// with its initial state loaded from whatever is already on disk.
func New() (*Manager, error) {
	dir := xdgpaths.AutostartUserDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperr.New("autostart.New", apperr.IOError, err)
	}
	m := &Manager{dir: dir, byOrigin: map[string]string{}}
	m.loadExisting()
	return m, nil
}

func (m *Manager) loadExisting() {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".desktop") {
			continue
		}
		copyPath := filepath.Join(m.dir, e.Name())
		entry, outcome := desktopentry.Parse(copyPath)
		if outcome == desktopentry.Invalid || outcome == desktopentry.IOError {
			continue
		}
		origin := entry.Main().Get("X-Deepin-AppID")
		if origin == "" {
			origin = e.Name()
		}
		if srcPath, ok := xdgpaths.FindDesktopFile(strings.TrimSuffix(origin, ".desktop")); ok {
			m.byOrigin[srcPath] = copyPath
		} else {
			m.byOrigin[origin] = copyPath
		}
	}
}

// Subscribe registers a new Change receiver; cancel releases it.
func (m *Manager) Subscribe() (ch <-chan Change, cancel func()) {
	c := make(chan Change, 16)
	m.subsMu.Lock()
	m.subs = append(m.subs, c)
	m.subsMu.Unlock()
	return c, func() {
		m.subsMu.Lock()
		defer m.subsMu.Unlock()
		for i, sub := range m.subs {
			if sub == c {
				m.subs = append(m.subs[:i], m.subs[i+1:]...)
				close(c)
				break
			}
		}
	}
}

func (m *Manager) emit(ch Change) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, sub := range m.subs {
		select {
		case sub <- ch:
		default:
		}
	}
}

// Add verifies desktopPath exists under one of the application search
// directories, copies it into the autostart directory, rewrites the copy
// so Hidden=false and the X-Deepin-* markers are present, and emits
// Changed(Added, desktopPath).
func (m *Manager) Add(desktopPath string) error {
	if !underSearchDir(desktopPath) {
		return apperr.New("autostart.Add", apperr.InvalidDesktop, fmt.Errorf("%s is not under an application search directory", desktopPath))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.dbusCalled = true
	defer func() { m.dbusCalled = false }()

	if _, already := m.byOrigin[desktopPath]; already {
		return nil // idempotent, invariant 5
	}

	copyPath := filepath.Join(m.dir, filepath.Base(desktopPath))
	if err := writeGuaranteedVisible(desktopPath, copyPath); err != nil {
		return apperr.New("autostart.Add", apperr.IOError, err)
	}

	m.byOrigin[desktopPath] = copyPath
	m.emit(Change{Kind: Added, Path: desktopPath})
	return nil
}

// Remove deletes the autostart copy for desktopPath and emits
// Changed(Removed, desktopPath). Removing a path that is not an autostart
// entry changes nothing and returns a NotFound error, which the adaptor
// layer turns into the false result of RemoveAutostart.
func (m *Manager) Remove(desktopPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dbusCalled = true
	defer func() { m.dbusCalled = false }()

	copyPath, ok := m.byOrigin[desktopPath]
	if !ok {
		return apperr.New("autostart.Remove", apperr.NotFound, fmt.Errorf("%s is not an autostart entry", desktopPath))
	}
	if err := os.Remove(copyPath); err != nil && !os.IsNotExist(err) {
		return apperr.New("autostart.Remove", apperr.IOError, err)
	}
	delete(m.byOrigin, desktopPath)
	m.emit(Change{Kind: Removed, Path: desktopPath})
	return nil
}

// IsAutostart reports whether desktopPath has a valid, non-hidden
// autostart copy.
func (m *Manager) IsAutostart(desktopPath string) bool {
	m.mu.Lock()
	copyPath, ok := m.byOrigin[desktopPath]
	m.mu.Unlock()
	if !ok {
		return false
	}
	entry, outcome := desktopentry.Parse(copyPath)
	if outcome == desktopentry.Invalid || outcome == desktopentry.IOError {
		return false
	}
	return !entry.Main().GetBool("Hidden")
}

// List returns every original desktop path currently autostarted.
func (m *Manager) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.byOrigin))
	for origin := range m.byOrigin {
		out = append(out, origin)
	}
	return out
}

// Reconcile compares the current directory listing against the known
// state and emits Changed events for anything that moved outside of an
// in-flight Add/Remove call — the filesystem-watcher-driven counterpart
// to the API path, per §4.H's external-change rule.
func (m *Manager) Reconcile() {
	m.mu.Lock()
	if m.dbusCalled {
		m.mu.Unlock()
		return
	}

	onDisk := map[string]bool{}
	entries, _ := os.ReadDir(m.dir)
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".desktop") {
			onDisk[filepath.Join(m.dir, e.Name())] = true
		}
	}

	var disappeared, appeared []string
	for origin, copyPath := range m.byOrigin {
		if !onDisk[copyPath] {
			disappeared = append(disappeared, origin)
		}
	}
	for copyPath := range onDisk {
		found := false
		for _, existing := range m.byOrigin {
			if existing == copyPath {
				found = true
				break
			}
		}
		if !found {
			appeared = append(appeared, copyPath)
		}
	}
	for _, origin := range disappeared {
		delete(m.byOrigin, origin)
	}
	m.mu.Unlock()

	for _, origin := range disappeared {
		m.emit(Change{Kind: Removed, Path: origin})
	}
	for _, copyPath := range appeared {
		m.adoptExternal(copyPath)
	}
}

// adoptExternal handles a file that appeared in the autostart directory
// without going through Add: it still gets the Hidden/X-Deepin-* rewrite
// so every copy this manager knows about satisfies the same guarantee.
func (m *Manager) adoptExternal(copyPath string) {
	entry, outcome := desktopentry.Parse(copyPath)
	if outcome == desktopentry.Invalid || outcome == desktopentry.IOError {
		return
	}
	origin := entry.Main().Get("X-Deepin-AppID")
	appID := strings.TrimSuffix(filepath.Base(copyPath), ".desktop")
	if srcPath, ok := xdgpaths.FindDesktopFile(appID); ok {
		origin = srcPath
	} else if origin == "" {
		origin = copyPath
	}

	if err := rewriteGuaranteedVisible(copyPath); err != nil {
		return
	}

	m.mu.Lock()
	m.byOrigin[origin] = copyPath
	m.mu.Unlock()
	m.emit(Change{Kind: Added, Path: origin})
}

func underSearchDir(path string) bool {
	for _, dir := range xdgpaths.ApplicationDirs() {
		if strings.HasPrefix(path, dir+"/") {
			return true
		}
	}
	return false
}

// writeGuaranteedVisible copies src to dst, then rewrites dst's main
// group so Hidden=false, X-Deepin-CreatedBy=<service>, and
// X-Deepin-AppID=<base name> are present, per §4.H.
func writeGuaranteedVisible(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return err
	}
	return rewriteGuaranteedVisible(dst)
}

func rewriteGuaranteedVisible(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	lines := strings.Split(string(data), "\n")
	out := make([]string, 0, len(lines)+3)
	inMain := false
	seenMain := false
	sawHidden, sawCreatedBy, sawAppID := false, false, false
	appIDValue := strings.TrimSuffix(filepath.Base(path), ".desktop")

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") {
			if inMain {
				out = appendMissing(out, sawHidden, sawCreatedBy, sawAppID, appIDValue)
			}
			inMain = trimmed == "[Desktop Entry]"
			if inMain {
				seenMain = true
			}
			out = append(out, line)
			continue
		}
		if inMain {
			switch {
			case strings.HasPrefix(trimmed, "Hidden="):
				out = append(out, "Hidden=false")
				sawHidden = true
				continue
			case strings.HasPrefix(trimmed, "X-Deepin-CreatedBy="):
				out = append(out, "X-Deepin-CreatedBy="+serviceName)
				sawCreatedBy = true
				continue
			case strings.HasPrefix(trimmed, "X-Deepin-AppID="):
				out = append(out, "X-Deepin-AppID="+appIDValue)
				sawAppID = true
				continue
			}
		}
		out = append(out, line)
	}
	if inMain {
		out = appendMissing(out, sawHidden, sawCreatedBy, sawAppID, appIDValue)
	}
	if !seenMain {
		return fmt.Errorf("%s: missing [Desktop Entry] group", path)
	}

	return os.WriteFile(path, []byte(strings.Join(out, "\n")), 0o644)
}

func appendMissing(lines []string, sawHidden, sawCreatedBy, sawAppID bool, appIDValue string) []string {
	if !sawHidden {
		lines = append(lines, "Hidden=false")
	}
	if !sawCreatedBy {
		lines = append(lines, "X-Deepin-CreatedBy="+serviceName)
	}
	if !sawAppID {
		lines = append(lines, "X-Deepin-AppID="+appIDValue)
	}
	return lines
}
