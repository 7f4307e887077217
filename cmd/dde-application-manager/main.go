// Command dde-application-manager is the daemon entrypoint: it loads the
// settings store, builds the application catalog, wires the launcher,
// instance tracker, identifier, and autostart manager together behind a
// busapi.Manager, and exports that manager on the session bus — the same
// config-then-services-then-serve shape as the teacher's cmd/server/main.go.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/godbus/dbus/v5"

	"github.com/linuxdeepin/dde-application-manager/internal/autostart"
	"github.com/linuxdeepin/dde-application-manager/internal/busapi"
	"github.com/linuxdeepin/dde-application-manager/internal/catalog"
	"github.com/linuxdeepin/dde-application-manager/internal/identifier"
	"github.com/linuxdeepin/dde-application-manager/internal/instancetracker"
	"github.com/linuxdeepin/dde-application-manager/internal/launcher"
	"github.com/linuxdeepin/dde-application-manager/internal/memgate"
	"github.com/linuxdeepin/dde-application-manager/internal/servicemanager"
	"github.com/linuxdeepin/dde-application-manager/internal/settings"
	"github.com/linuxdeepin/dde-application-manager/internal/version"
)

func main() {
	configPath := flag.String("config", "", "path to the settings YAML file (optional)")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("dde-application-manager %s (built %s, commit %s)\n", version.Version, version.BuildTime, version.GitCommit)
		return
	}

	if err := run(*configPath); err != nil {
		log.Fatalf("dde-application-manager: %v", err)
	}
}

func run(configPath string) error {
	store, err := settings.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading settings: %w", err)
	}
	snap := store.Get()
	// Log level *selection* is an external concern (§1); this just tags
	// every line with the configured level so a log collector downstream
	// can filter without this process needing to know how.
	log.SetPrefix("[" + snap.LogLevel + "] ")

	cat := catalog.New()
	cat.ScanAll()

	catWatcher, err := catalog.NewWatcher(cat)
	if err != nil {
		log.Printf("dde-application-manager: catalog watcher unavailable: %v", err)
	} else {
		go catWatcher.Run()
		defer catWatcher.Close()
	}

	sm, err := servicemanager.Connect()
	if err != nil {
		return fmt.Errorf("connecting to service manager bus: %w", err)
	}
	defer sm.Close()
	if !sm.Available() {
		log.Printf("dde-application-manager: systemd session bus unavailable, launches will fall back to direct spawn")
	}

	gate := memgate.New(memgate.Thresholds{
		MinAvailable: snap.MinMemAvailable,
		MaxSwapUsed:  snap.MaxSwapUsed,
	})

	l := launcher.New(cat, sm, gate, store, snap.LauncherUnitPrefix)

	tracker := instancetracker.New(cat, sm)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	trackerErrCh := make(chan error, 1)
	go func() { trackerErrCh <- tracker.Run(ctx) }()

	id := identifier.New()

	asMgr, err := autostart.New()
	if err != nil {
		return fmt.Errorf("opening autostart directory: %w", err)
	}
	asWatcher, err := autostart.NewWatcher(asMgr)
	if err != nil {
		log.Printf("dde-application-manager: autostart watcher unavailable: %v", err)
	} else {
		go asWatcher.Run()
		defer asWatcher.Close()
	}

	mgr := busapi.New(cat, l, tracker, id, asMgr)

	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return fmt.Errorf("connecting session bus for export: %w", err)
	}
	defer conn.Close()

	if err := busapi.ExportOn(ctx, conn, mgr); err != nil {
		return fmt.Errorf("exporting bus API: %w", err)
	}
	log.Printf("dde-application-manager: ready, %d applications cataloged", len(cat.List()))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sig:
		log.Printf("dde-application-manager: shutting down")
	case err := <-trackerErrCh:
		if err != nil {
			log.Printf("dde-application-manager: instance tracker stopped: %v", err)
		}
	}
	return nil
}
