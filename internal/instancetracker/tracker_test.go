package instancetracker_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/linuxdeepin/dde-application-manager/internal/catalog"
	"github.com/linuxdeepin/dde-application-manager/internal/instancetracker"
	"github.com/linuxdeepin/dde-application-manager/internal/servicemanager"
	"github.com/linuxdeepin/dde-application-manager/internal/unitname"
)

func setupCatalog(t *testing.T) (*catalog.Catalog, string) {
	dataHome := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dataHome)
	t.Setenv("XDG_DATA_DIRS", t.TempDir())
	appDir := filepath.Join(dataHome, "applications")
	if err := os.MkdirAll(appDir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	path := filepath.Join(appDir, "org.example.Edit.desktop")
	if err := os.WriteFile(path, []byte(`[Desktop Entry]
Type=Application
Name=Edit
Exec=/usr/bin/edit
`), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	c := catalog.New()
	if _, err := c.Add(path); err != nil {
		t.Fatalf("Add: %v", err)
	}
	return c, "org.example.Edit"
}

func TestUnitNewCreatesInstance(t *testing.T) {
	c, appID := setupCatalog(t)
	sm := servicemanager.NewFake()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	startTracker(ctx, c, sm)

	unitName := unitname.EncodeService("dde-launcher", appID, "u1")
	unitPath, err := sm.StartTransientUnit(context.Background(), unitName, servicemanager.Properties{Argv: []string{"/usr/bin/edit"}})
	if err != nil {
		t.Fatalf("StartTransientUnit: %v", err)
	}

	waitFor(t, func() bool {
		return c.HasInstanceWithUnitPath(appID, unitPath)
	})
}

func TestUnitRemovedClearsInstance(t *testing.T) {
	c, appID := setupCatalog(t)
	sm := servicemanager.NewFake()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	startTracker(ctx, c, sm)

	unitName := unitname.EncodeService("dde-launcher", appID, "u1")
	unitPath, _ := sm.StartTransientUnit(context.Background(), unitName, servicemanager.Properties{Argv: []string{"/usr/bin/edit"}})
	waitFor(t, func() bool { return c.HasInstanceWithUnitPath(appID, unitPath) })

	sm.StopUnit(context.Background(), unitName)
	waitFor(t, func() bool { return !c.HasInstanceWithUnitPath(appID, unitPath) })
}

func TestDuplicateUnitNewIsIdempotent(t *testing.T) {
	c, appID := setupCatalog(t)
	sm := servicemanager.NewFake()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	startTracker(ctx, c, sm)

	unitName := unitname.EncodeService("dde-launcher", appID, "u1")
	unitPath, _ := sm.StartTransientUnit(context.Background(), unitName, servicemanager.Properties{Argv: []string{"/usr/bin/edit"}})
	waitFor(t, func() bool { return c.HasInstanceWithUnitPath(appID, unitPath) })

	sm.Emit(servicemanager.UnitEvent{Kind: servicemanager.UnitNew, UnitName: unitName, UnitPath: unitPath})
	time.Sleep(50 * time.Millisecond)

	rec := c.Record(appID)
	if len(rec.Instances) != 1 {
		t.Fatalf("expected exactly one instance after duplicate UnitNew, got %d", len(rec.Instances))
	}
}

func TestUnitNewWithoutInstanceIDGeneratesOne(t *testing.T) {
	c, appID := setupCatalog(t)
	sm := servicemanager.NewFake()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	startTracker(ctx, c, sm)

	// No "@instance_id" portion at all, matching a bare service-style launch.
	unitName := unitname.EncodeService("dde-launcher", appID, "")
	unitPath, err := sm.StartTransientUnit(context.Background(), unitName, servicemanager.Properties{Argv: []string{"/usr/bin/edit"}})
	if err != nil {
		t.Fatalf("StartTransientUnit: %v", err)
	}

	waitFor(t, func() bool { return c.HasInstanceWithUnitPath(appID, unitPath) })

	rec := c.Record(appID)
	var inst *catalog.InstanceRecord
	for _, i := range rec.Instances {
		if i.UnitPath == unitPath {
			inst = i
		}
	}
	if inst == nil {
		t.Fatalf("expected an instance record for %s", unitPath)
	}
	if inst.InstanceID == "" {
		t.Fatalf("expected a generated instance id, got empty string")
	}
}

func TestUnrecognizedUnitNameIsIgnored(t *testing.T) {
	c, appID := setupCatalog(t)
	sm := servicemanager.NewFake()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	startTracker(ctx, c, sm)

	sm.Emit(servicemanager.UnitEvent{Kind: servicemanager.UnitNew, UnitName: "cron.service", UnitPath: "/org/freedesktop/systemd1/unit/99"})
	time.Sleep(50 * time.Millisecond)

	rec := c.Record(appID)
	if len(rec.Instances) != 0 {
		t.Fatalf("expected foreign unit to be ignored")
	}
}

// subscribedFake closes ready once the tracker has subscribed, since the
// fake service manager only delivers events to channels already
// subscribed when they are sent.
type subscribedFake struct {
	*servicemanager.Fake
	ready chan struct{}
}

func (f subscribedFake) Subscribe(ctx context.Context) (<-chan servicemanager.UnitEvent, func(), error) {
	defer close(f.ready)
	return f.Fake.Subscribe(ctx)
}

// startTracker runs a tracker over c and sm in the background and returns
// once it is subscribed to sm's events.
func startTracker(ctx context.Context, c *catalog.Catalog, sm *servicemanager.Fake) {
	sf := subscribedFake{Fake: sm, ready: make(chan struct{})}
	go instancetracker.New(c, sf).Run(ctx)
	<-sf.ready
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within deadline")
}
