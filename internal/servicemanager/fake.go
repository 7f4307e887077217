package servicemanager

import (
	"context"
	"fmt"
	"sync"
)

// Fake is an in-memory Client double for launcher/instancetracker tests,
// standing in for the real bus the way the teacher's services tests stub
// exec.Cmd rather than spawning real processes.
type Fake struct {
	mu        sync.Mutex
	available bool
	units     map[string]Properties
	paths     map[string]string // unit name -> unit path reported by StartTransientUnit
	seq       int

	subsMu sync.Mutex
	subs   []chan UnitEvent
}

// NewFake returns a Fake with Available() true.
func NewFake() *Fake {
	return &Fake{available: true, units: make(map[string]Properties), paths: make(map[string]string)}
}

// SetAvailable lets a test simulate the service manager going away.
func (f *Fake) SetAvailable(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.available = v
}

func (f *Fake) Available() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.available
}

// StartTransientUnit records the unit and, as systemd would, broadcasts a
// UnitNew event to every subscriber.
func (f *Fake) StartTransientUnit(ctx context.Context, name string, props Properties) (string, error) {
	f.mu.Lock()
	if !f.available {
		f.mu.Unlock()
		return "", fmt.Errorf("fake service manager unavailable")
	}
	if _, exists := f.units[name]; exists {
		f.mu.Unlock()
		return "", fmt.Errorf("unit %s already exists", name)
	}
	f.units[name] = props
	f.seq++
	unitPath := fmt.Sprintf("/org/freedesktop/systemd1/unit/%d", f.seq)
	f.paths[name] = unitPath
	f.mu.Unlock()

	f.broadcast(UnitEvent{Kind: UnitNew, UnitName: name, UnitPath: unitPath})
	return unitPath, nil
}

// StopUnit removes the recorded unit and broadcasts UnitRemoved carrying
// the unit path StartTransientUnit reported for it, as systemd would.
func (f *Fake) StopUnit(ctx context.Context, name string) (string, error) {
	f.mu.Lock()
	if !f.available {
		f.mu.Unlock()
		return "", fmt.Errorf("fake service manager unavailable")
	}
	unitPath := f.paths[name]
	delete(f.units, name)
	delete(f.paths, name)
	f.seq++
	jobPath := fmt.Sprintf("/org/freedesktop/systemd1/job/%d", f.seq)
	f.mu.Unlock()

	f.broadcast(UnitEvent{Kind: UnitRemoved, UnitName: name, UnitPath: unitPath})
	return jobPath, nil
}

// Subscribe registers a new event channel.
func (f *Fake) Subscribe(ctx context.Context) (<-chan UnitEvent, func(), error) {
	ch := make(chan UnitEvent, 16)
	f.subsMu.Lock()
	f.subs = append(f.subs, ch)
	f.subsMu.Unlock()

	cancel := func() {
		f.subsMu.Lock()
		defer f.subsMu.Unlock()
		for i, c := range f.subs {
			if c == ch {
				f.subs = append(f.subs[:i], f.subs[i+1:]...)
				break
			}
		}
		close(ch)
	}
	return ch, cancel, nil
}

// Emit lets a test inject an out-of-band event, e.g. to simulate
// out-of-order UnitRemoved delivery.
func (f *Fake) Emit(ev UnitEvent) {
	f.broadcast(ev)
}

// UnitProperties returns the Properties last submitted for name, for
// tests asserting on the argv/env a Launch call assembled.
func (f *Fake) UnitProperties(name string) (Properties, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.units[name]
	return p, ok
}

func (f *Fake) broadcast(ev UnitEvent) {
	f.subsMu.Lock()
	defer f.subsMu.Unlock()
	for _, ch := range f.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
