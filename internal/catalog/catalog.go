package catalog

import (
	"fmt"
	"os"
	"sync"

	"github.com/linuxdeepin/dde-application-manager/internal/apperr"
	"github.com/linuxdeepin/dde-application-manager/internal/desktopentry"
	"github.com/linuxdeepin/dde-application-manager/internal/xdgpaths"
)

// Catalog owns every ApplicationRecord known to the system. It is safe
// for concurrent reads; mutation is single-writer, driven by the main
// event loop (§5).
type Catalog struct {
	mu      sync.RWMutex
	byAppID map[string]*ApplicationRecord
	order   []string // insertion-stable order of app ids, for List()
}

// New returns an empty Catalog.
func New() *Catalog {
	return &Catalog{byAppID: map[string]*ApplicationRecord{}}
}

// List returns the set of application object ids in insertion-stable
// order, a point-in-time snapshot (§5) that need not reflect an in-flight
// Launch.
func (c *Catalog) List() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.order))
	for _, id := range c.order {
		if rec, ok := c.byAppID[id]; ok {
			out = append(out, rec.ObjectID)
		}
	}
	return out
}

// Lookup returns the object id for app_id, or "" if absent.
func (c *Catalog) Lookup(appID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rec, ok := c.byAppID[appID]
	if !ok {
		return "", false
	}
	return rec.ObjectID, true
}

// Record returns the ApplicationRecord for app_id, or nil.
func (c *Catalog) Record(appID string) *ApplicationRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.byAppID[appID]
}

// RecordByObjectID linear-scans for the record owning objectID. The
// catalog is expected to hold at most a few hundred entries, so this
// trades an extra index for simplicity.
func (c *Catalog) RecordByObjectID(objectID string) *ApplicationRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, rec := range c.byAppID {
		if rec.ObjectID == objectID {
			return rec
		}
	}
	return nil
}

// Add parses desktopPath and inserts it. Fails AlreadyPresent if app_id
// collides with an existing record.
func (c *Catalog) Add(desktopPath string) (*ApplicationRecord, error) {
	appID, rec, err := c.parseRecord(desktopPath)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.byAppID[appID]; exists {
		return nil, apperr.New("catalog.Add", apperr.AlreadyPresent, fmt.Errorf("app_id %q already present", appID))
	}
	c.byAppID[appID] = rec
	c.order = append(c.order, appID)
	return rec, nil
}

// Remove drops the record owning objectID and all of its instances.
// Idempotent: removing an unknown object id is not an error.
func (c *Catalog) Remove(objectID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for appID, rec := range c.byAppID {
		if rec.ObjectID == objectID {
			delete(c.byAppID, appID)
			for i, id := range c.order {
				if id == appID {
					c.order = append(c.order[:i], c.order[i+1:]...)
					break
				}
			}
			return
		}
	}
}

// RemoveByAppID is Remove's app_id-keyed counterpart, used internally by
// refresh when an app's desktop file is gone.
func (c *Catalog) RemoveByAppID(appID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.byAppID[appID]; !ok {
		return
	}
	delete(c.byAppID, appID)
	for i, id := range c.order {
		if id == appID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Refresh re-syncs the given app ids against their on-disk desktop files:
// found+present+mtime-changed re-parses (keeping the old entry if the
// reparse result is worse than OkWithInvalidKeys); found+absent adds;
// not-found removes.
func (c *Catalog) Refresh(appIDs []string) {
	for _, appID := range appIDs {
		c.refreshOne(appID)
	}
}

func (c *Catalog) refreshOne(appID string) {
	path, found := xdgpaths.FindDesktopFile(appID)

	c.mu.RLock()
	existing, present := c.byAppID[appID]
	c.mu.RUnlock()

	if !found {
		if present {
			c.RemoveByAppID(appID)
		}
		return
	}

	st, err := os.Stat(path)
	if err != nil {
		if present {
			c.RemoveByAppID(appID)
		}
		return
	}
	mtimeNs := st.ModTime().UnixNano()

	if !present {
		if _, err := c.Add(path); err != nil {
			// A concurrent Add may have raced us; not fatal to the process.
			return
		}
		return
	}

	if existing.SourceMtimeNs == mtimeNs {
		return // unchanged: refresh is a no-op (invariant 6)
	}

	entry, outcome := desktopentry.Parse(path)
	if outcome == desktopentry.Invalid || outcome == desktopentry.IOError {
		// Keep the old entry; a bad reparse must not destroy a working one.
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.byAppID[appID]
	if !ok {
		return
	}
	rec.Entry = entry
	rec.SourceMtimeNs = mtimeNs
}

func (c *Catalog) parseRecord(desktopPath string) (string, *ApplicationRecord, error) {
	entry, outcome := desktopentry.Parse(desktopPath)
	if outcome == desktopentry.IOError {
		return "", nil, apperr.New("catalog.Add", apperr.IOError, fmt.Errorf("reading %s", desktopPath))
	}
	if outcome == desktopentry.Invalid {
		return "", nil, apperr.New("catalog.Add", apperr.InvalidDesktop, fmt.Errorf("%s is not a valid application entry", desktopPath))
	}

	st, err := os.Stat(desktopPath)
	if err != nil {
		return "", nil, apperr.New("catalog.Add", apperr.IOError, err)
	}

	var appID string
	for _, dir := range xdgpaths.ApplicationDirs() {
		if within(dir, desktopPath) {
			appID = xdgpaths.AppIDFromRel(dir, desktopPath)
			break
		}
	}
	if appID == "" {
		appID = xdgpaths.AppIDFromPath(desktopPath)
	}

	rec := &ApplicationRecord{
		AppID:         appID,
		SourcePath:    desktopPath,
		Entry:         entry,
		SourceMtimeNs: st.ModTime().UnixNano(),
		ObjectID:      ObjectIDForApp(appID),
		Instances:     map[string]*InstanceRecord{},
	}
	return appID, rec, nil
}

func within(dir, path string) bool {
	if len(path) <= len(dir) {
		return false
	}
	return path[:len(dir)] == dir && path[len(dir)] == '/'
}

// AddInstance attaches inst to the application identified by appID.
// Returns false if the application is not present (the InstanceTracker
// drops such events as a race with shutdown, per §4.D).
func (c *Catalog) AddInstance(appID string, inst *InstanceRecord) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.byAppID[appID]
	if !ok {
		return false
	}
	if _, dup := rec.Instances[inst.InstanceID]; dup {
		return true // idempotent on duplicate UnitNew for the same unit
	}
	rec.Instances[inst.InstanceID] = inst
	return true
}

// RemoveInstanceByUnitPath removes the instance of appID whose UnitPath
// equals unitPath. Returns the removed record, or nil if none matched.
func (c *Catalog) RemoveInstanceByUnitPath(appID, unitPath string) *InstanceRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.byAppID[appID]
	if !ok {
		return nil
	}
	for id, inst := range rec.Instances {
		if inst.UnitPath == unitPath {
			delete(rec.Instances, id)
			return inst
		}
	}
	return nil
}

// HasInstanceWithUnitPath reports whether any instance of appID already
// has unitPath, used to make duplicate UnitNew delivery idempotent.
func (c *Catalog) HasInstanceWithUnitPath(appID, unitPath string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.byAppID[appID]
	if !ok {
		return false
	}
	for _, inst := range rec.Instances {
		if inst.UnitPath == unitPath {
			return true
		}
	}
	return false
}
