package servicemanager

import (
	"context"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
)

const (
	systemdDest      = "org.freedesktop.systemd1"
	systemdPath      = dbus.ObjectPath("/org/freedesktop/systemd1")
	managerInterface = "org.freedesktop.systemd1.Manager"
)

// property is the wire shape systemd's StartTransientUnit expects for
// each unit property: (name, value) where value is a variant.
type property struct {
	Name  string
	Value dbus.Variant
}

// SystemdClient talks to systemd over the session bus via godbus, the
// library other_examples/timdodge-DankMaterialShell__types.go uses for
// the same class of desktop-shell/systemd introspection.
type SystemdClient struct {
	conn      *dbus.Conn
	available bool

	mu   sync.Mutex
	subs []chan UnitEvent
}

// Connect opens a session-bus connection; it does not check that systemd1
// answers on it. If the connection fails it returns a client whose
// Available reports false, together with a nil error.
func Connect() (*SystemdClient, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return &SystemdClient{available: false}, nil
	}
	c := &SystemdClient{conn: conn, available: true}
	return c, nil
}

// Available reports whether the bus connection is live.
func (c *SystemdClient) Available() bool {
	return c != nil && c.available && c.conn != nil
}

func (c *SystemdClient) managerObject() dbus.BusObject {
	return c.conn.Object(systemdDest, systemdPath)
}

// StartTransientUnit submits a transient service or scope unit. It returns
// the job object path systemd replies with, not the unit's object path.
func (c *SystemdClient) StartTransientUnit(ctx context.Context, name string, props Properties) (string, error) {
	if !c.Available() {
		return "", fmt.Errorf("servicemanager: bus connection unavailable")
	}

	var wireProps []property
	if len(props.Argv) > 0 {
		// ExecStart is an array of (path, argv, ignore-failure) tuples.
		type execStartEntry struct {
			Path          string
			Argv          []string
			IgnoreFailure bool
		}
		wireProps = append(wireProps, property{
			Name:  "ExecStart",
			Value: dbus.MakeVariant([]execStartEntry{{Path: props.Argv[0], Argv: props.Argv, IgnoreFailure: false}}),
		})
	}
	if len(props.Env) > 0 {
		wireProps = append(wireProps, property{Name: "Environment", Value: dbus.MakeVariant(props.Env)})
	}
	if props.WorkingDir != "" {
		wireProps = append(wireProps, property{Name: "WorkingDirectory", Value: dbus.MakeVariant(props.WorkingDir)})
	}

	var jobPath dbus.ObjectPath
	call := c.managerObject().CallWithContext(ctx, managerInterface+".StartTransientUnit", 0, name, "fail", wireProps, []struct {
		Name string
		Aux  []property
	}{})
	if err := call.Store(&jobPath); err != nil {
		return "", fmt.Errorf("StartTransientUnit(%s): %w", name, err)
	}
	return string(jobPath), nil
}

// StopUnit requests termination of name.
func (c *SystemdClient) StopUnit(ctx context.Context, name string) (string, error) {
	if !c.Available() {
		return "", fmt.Errorf("servicemanager: bus connection unavailable")
	}
	var jobPath dbus.ObjectPath
	call := c.managerObject().CallWithContext(ctx, managerInterface+".StopUnit", 0, name, "fail")
	if err := call.Store(&jobPath); err != nil {
		return "", fmt.Errorf("StopUnit(%s): %w", name, err)
	}
	return string(jobPath), nil
}

// Subscribe listens for UnitNew/UnitRemoved signals and decodes them into
// UnitEvent values.
func (c *SystemdClient) Subscribe(ctx context.Context) (<-chan UnitEvent, func(), error) {
	if !c.Available() {
		return nil, func() {}, fmt.Errorf("servicemanager: bus connection unavailable")
	}

	if err := c.conn.AddMatchSignal(
		dbus.WithMatchInterface(managerInterface),
		dbus.WithMatchMember("UnitNew"),
	); err != nil {
		return nil, func() {}, err
	}
	if err := c.conn.AddMatchSignal(
		dbus.WithMatchInterface(managerInterface),
		dbus.WithMatchMember("UnitRemoved"),
	); err != nil {
		return nil, func() {}, err
	}

	raw := make(chan *dbus.Signal, 64)
	c.conn.Signal(raw)

	out := make(chan UnitEvent, 64)
	done := make(chan struct{})
	go func() {
		defer close(out)
		for {
			select {
			case sig, ok := <-raw:
				if !ok {
					return
				}
				ev, ok := decodeSignal(sig)
				if !ok {
					continue
				}
				select {
				case out <- ev:
				case <-done:
					return
				}
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
	}()

	cancel := func() {
		close(done)
		c.conn.RemoveSignal(raw)
	}
	return out, cancel, nil
}

func decodeSignal(sig *dbus.Signal) (UnitEvent, bool) {
	if len(sig.Body) < 2 {
		return UnitEvent{}, false
	}
	name, ok := sig.Body[0].(string)
	if !ok {
		return UnitEvent{}, false
	}
	path, ok := sig.Body[1].(dbus.ObjectPath)
	if !ok {
		return UnitEvent{}, false
	}

	var kind EventKind
	switch sig.Name {
	case managerInterface + ".UnitNew":
		kind = UnitNew
	case managerInterface + ".UnitRemoved":
		kind = UnitRemoved
	default:
		return UnitEvent{}, false
	}
	return UnitEvent{Kind: kind, UnitName: name, UnitPath: string(path)}, true
}

// Close releases the underlying bus connection.
func (c *SystemdClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
