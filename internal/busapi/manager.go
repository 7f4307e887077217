// Package busapi is the Manager facade (component L) that composes the
// catalog, launcher, instance tracker, identifier, and autostart manager
// into the single object the §6 bus surface exposes. It mirrors the
// teacher's thin-handler-delegates-to-service shape (internal/handlers +
// internal/router): the real work lives in the core packages, this layer
// only translates calls. Core errors are passed through unchanged; the bus
// adaptor (bus.go) reports them as a generic D-Bus failure carrying the
// error's full text, and does not map the apperr kind to its own string.
package busapi

import (
	"context"
	"strconv"

	"github.com/linuxdeepin/dde-application-manager/internal/apperr"
	"github.com/linuxdeepin/dde-application-manager/internal/autostart"
	"github.com/linuxdeepin/dde-application-manager/internal/catalog"
	"github.com/linuxdeepin/dde-application-manager/internal/fieldcode"
	"github.com/linuxdeepin/dde-application-manager/internal/identifier"
	"github.com/linuxdeepin/dde-application-manager/internal/instancetracker"
	"github.com/linuxdeepin/dde-application-manager/internal/launcher"
)

// Manager composes every core collaborator behind the operations named in
// §6. It holds no bus-specific state; ExportOn (bus.go) is what wires it
// to a live connection.
type Manager struct {
	Catalog    *catalog.Catalog
	Launcher   *launcher.Launcher
	Tracker    *instancetracker.Tracker
	Identifier *identifier.Identifier
	Autostart  *autostart.Manager
}

// New returns a Manager composing the given collaborators.
func New(cat *catalog.Catalog, l *launcher.Launcher, t *instancetracker.Tracker, id *identifier.Identifier, as *autostart.Manager) *Manager {
	return &Manager{Catalog: cat, Launcher: l, Tracker: t, Identifier: id, Autostart: as}
}

// List returns every known application's object id, per §6 List().
func (m *Manager) List() []string {
	return m.Catalog.List()
}

// Application resolves app_id to its object id, or "" if absent, per §6
// Application(app_id).
func (m *Manager) Application(appID string) string {
	objID, _ := m.Catalog.Lookup(appID)
	return objID
}

// LaunchOptions carries the §4.F option bag, keyed the way the object-bus
// adaptor would decode an a{sv} argument.
type LaunchOptions struct {
	Path                string
	DesktopOverrideExec string
	Env                 []string
}

// Launch starts app_id (optionally one of its actions) against fields,
// returning the new instance's object id, per §6 Launch(...).
func (m *Manager) Launch(ctx context.Context, appID, action string, fields fieldcode.Files, opts LaunchOptions) (string, error) {
	instanceID, err := m.Launcher.Launch(ctx, appID, action, fields, launcher.Options{
		Path:                opts.Path,
		DesktopOverrideExec: opts.DesktopOverrideExec,
		Env:                 opts.Env,
	})
	if err != nil {
		return "", err
	}
	appObjID, _ := m.Catalog.Lookup(appID)
	return catalog.ObjectIDForInstance(appObjID, instanceID), nil
}

// UpdateApplicationInfo drives Catalog.Refresh for the given app ids, per
// §6 UpdateApplicationInfo(app_id_list).
func (m *Manager) UpdateApplicationInfo(appIDs []string) {
	m.Catalog.Refresh(appIDs)
}

// Identify resolves a pid-fd to (app_id, application_object,
// instance_object), per §6 Identify(pid_fd).
func (m *Manager) Identify(pidfd int) (appID, appObjectID, instanceObjectID string, err error) {
	appID, instanceID, err := m.Identifier.Identify(pidfd)
	if err != nil {
		return "", "", "", err
	}
	rec := m.Catalog.Record(appID)
	if rec == nil {
		return "", "", "", apperr.New("busapi.Identify", apperr.NotFound, errNotAttributable(appID))
	}
	inst, ok := rec.Instances[instanceID]
	if !ok {
		return appID, rec.ObjectID, "", nil
	}
	return appID, rec.ObjectID, inst.ObjectID, nil
}

func errNotAttributable(appID string) error {
	return &notFoundErr{appID: appID}
}

type notFoundErr struct{ appID string }

func (e *notFoundErr) Error() string {
	return "application " + strconv.Quote(e.appID) + " is no longer in the catalog"
}

// AddAutostart adds desktopPath to the user autostart set, per §6
// AddAutostart(path).
func (m *Manager) AddAutostart(desktopPath string) bool {
	return m.Autostart.Add(desktopPath) == nil
}

// RemoveAutostart removes desktopPath from the user autostart set, per §6
// RemoveAutostart(path).
func (m *Manager) RemoveAutostart(desktopPath string) bool {
	return m.Autostart.Remove(desktopPath) == nil
}

// IsAutostart reports whether desktopPath currently autostarts, per §6
// IsAutostart(path).
func (m *Manager) IsAutostart(desktopPath string) bool {
	return m.Autostart.IsAutostart(desktopPath)
}

// AutostartList returns every autostarted desktop path, per §6
// AutostartList().
func (m *Manager) AutostartList() []string {
	return m.Autostart.List()
}
