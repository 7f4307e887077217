// Package instancetracker turns the service manager's UnitNew/UnitRemoved
// signals into catalog instance records, the way the teacher's terminal
// session code turns pty output into stream events for its subscribers.
package instancetracker

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/linuxdeepin/dde-application-manager/internal/catalog"
	"github.com/linuxdeepin/dde-application-manager/internal/servicemanager"
	"github.com/linuxdeepin/dde-application-manager/internal/unitname"
)

// gracePeriod bounds how long a UnitRemoved that arrives before its
// matching UnitNew is remembered, guarding against the two signals being
// delivered out of order across the bus.
const gracePeriod = 5 * time.Second

// Tracker subscribes to a service manager's unit lifecycle events and
// keeps a Catalog's instance records in sync with them.
type Tracker struct {
	catalog *catalog.Catalog
	service servicemanager.Client

	mu             sync.Mutex
	pendingRemoved map[string]time.Time // unit_path -> time UnitRemoved was seen before UnitNew
}

// New returns a Tracker wired to cat and sm.
func New(cat *catalog.Catalog, sm servicemanager.Client) *Tracker {
	return &Tracker{
		catalog:        cat,
		service:        sm,
		pendingRemoved: map[string]time.Time{},
	}
}

// Run subscribes to sm and processes events until ctx is cancelled or the
// subscription ends. It is meant to be run from the main event loop's
// goroutine, per the single-writer concurrency model.
func (t *Tracker) Run(ctx context.Context) error {
	events, cancel, err := t.service.Subscribe(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	sweep := time.NewTicker(gracePeriod)
	defer sweep.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			t.handle(ev)
		case <-sweep.C:
			t.sweepPending()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (t *Tracker) handle(ev servicemanager.UnitEvent) {
	appID, instanceID := unitname.Decode(ev.UnitName)
	if appID == "" {
		return // not one of our units, e.g. a foreign systemd unit
	}

	switch ev.Kind {
	case servicemanager.UnitNew:
		t.handleUnitNew(appID, instanceID, ev.UnitPath)
	case servicemanager.UnitRemoved:
		t.handleUnitRemoved(appID, ev.UnitPath)
	}
}

func (t *Tracker) handleUnitNew(appID, instanceID, unitPath string) {
	t.mu.Lock()
	_, alreadyRemoved := t.pendingRemoved[unitPath]
	delete(t.pendingRemoved, unitPath)
	t.mu.Unlock()

	if alreadyRemoved {
		// UnitRemoved raced ahead of UnitNew for the same unit; the
		// instance never existed from our point of view.
		return
	}

	if t.catalog.HasInstanceWithUnitPath(appID, unitPath) {
		return // duplicate delivery, idempotent per invariant
	}

	if instanceID == "" {
		// The unit name carried no "@<instance_id>" portion; generate one
		// the way the original implementation does for such units
		// (QUuid::createUuid().toString(QUuid::Id128)).
		instanceID = unitname.NewInstanceID()
	}

	inst := &catalog.InstanceRecord{
		AppID:      appID,
		InstanceID: instanceID,
		UnitPath:   unitPath,
		ObjectID:   catalog.ObjectIDForInstance(catalog.ObjectIDForApp(appID), instanceID),
		LaunchTime: time.Now(),
	}
	if !t.catalog.AddInstance(appID, inst) {
		log.Printf("instancetracker: dropping UnitNew for unknown application %q (unit %s)", appID, unitPath)
	}
}

func (t *Tracker) handleUnitRemoved(appID, unitPath string) {
	if t.catalog.RemoveInstanceByUnitPath(appID, unitPath) != nil {
		return
	}
	// No matching instance yet: UnitNew may still be in flight. Remember
	// this removal so the eventual UnitNew is suppressed instead of
	// leaving a phantom instance behind.
	t.mu.Lock()
	t.pendingRemoved[unitPath] = time.Now()
	t.mu.Unlock()
}

func (t *Tracker) sweepPending() {
	cutoff := time.Now().Add(-gracePeriod)
	t.mu.Lock()
	defer t.mu.Unlock()
	for unitPath, seenAt := range t.pendingRemoved {
		if seenAt.Before(cutoff) {
			delete(t.pendingRemoved, unitPath)
		}
	}
}
