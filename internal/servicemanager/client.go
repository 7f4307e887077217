// Package servicemanager is the collaborator the core consumes for
// process supervision: the specification relies on the host's signals
// and unit-start APIs rather than reimplementing the service-manager
// protocol itself (§1 Non-goals). This package defines that interface
// and a systemd-over-D-Bus implementation.
package servicemanager

import (
	"context"
	"time"
)

// UnitEvent is a decoded UnitNew/UnitRemoved signal.
type UnitEvent struct {
	Kind     EventKind
	UnitName string
	UnitPath string
}

// EventKind distinguishes UnitNew from UnitRemoved.
type EventKind int

const (
	UnitNew EventKind = iota
	UnitRemoved
)

// Properties are the transient-unit properties submitted with
// StartTransientUnit: argv, environment, and working directory, the same
// three things the teacher's executor assembles for exec.CommandContext.
type Properties struct {
	Argv       []string
	Env        []string
	WorkingDir string
	Mode       string // "service" or "scope", selects which unit-name style the caller already encoded into Name
}

// Client is the service-manager collaborator consumed by the Launcher
// (to start units) and the InstanceTracker (to observe their lifecycle).
type Client interface {
	// StartTransientUnit submits name (already unit-name-encoded by the
	// caller via internal/unitname) with the given properties, returning
	// an object path once the service manager accepts the job: Fake
	// returns the unit's path, SystemdClient returns systemd's job path
	// rather than the unit's path.
	StartTransientUnit(ctx context.Context, name string, props Properties) (unitPath string, err error)

	// StopUnit requests termination of the named unit.
	StopUnit(ctx context.Context, name string) (jobPath string, err error)

	// Subscribe returns a channel of unit lifecycle events. Cancel stops
	// delivery and releases the subscription.
	Subscribe(ctx context.Context) (events <-chan UnitEvent, cancel func(), err error)

	// Available reports whether the service manager can currently be
	// reached, backing the Launcher's direct-spawn fallback decision.
	Available() bool
}

// DefaultCallTimeout bounds every blocking call into the service
// manager, per §5 "service-manager calls use a bounded timeout".
const DefaultCallTimeout = 10 * time.Second
