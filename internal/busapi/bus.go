// bus.go exports a Manager on the session bus, the thin adaptor layer
// the teacher's loader.Module.start wires via service.Export/RequestName
// (other_examples/linuxdeepin-dde-daemon__module.go) — except this repo
// talks to godbus directly rather than through go-lib's dbusutil, since
// nothing else in this module depends on go-lib.
package busapi

import (
	"context"
	"log"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"github.com/linuxdeepin/dde-application-manager/internal/fieldcode"
)

const (
	busName       = "org.deepin.ApplicationManager1"
	objectPath    = dbus.ObjectPath("/org/deepin/ApplicationManager1")
	ifaceName     = "org.deepin.ApplicationManager1"
	introspectXML = `
<node>
	<interface name="` + ifaceName + `">
		<method name="List">
			<arg direction="out" type="as"/>
		</method>
		<method name="Application">
			<arg direction="in" type="s" name="app_id"/>
			<arg direction="out" type="s"/>
		</method>
		<method name="Launch">
			<arg direction="in" type="s" name="app_id"/>
			<arg direction="in" type="s" name="action"/>
			<arg direction="in" type="as" name="files"/>
			<arg direction="in" type="a{sv}" name="options"/>
			<arg direction="out" type="s"/>
		</method>
		<method name="UpdateApplicationInfo">
			<arg direction="in" type="as" name="app_id_list"/>
		</method>
		<method name="Identify">
			<arg direction="in" type="h" name="pid_fd"/>
			<arg direction="out" type="s"/>
			<arg direction="out" type="s"/>
			<arg direction="out" type="s"/>
		</method>
		<method name="AddAutostart">
			<arg direction="in" type="s" name="file_path"/>
			<arg direction="out" type="b"/>
		</method>
		<method name="RemoveAutostart">
			<arg direction="in" type="s" name="file_path"/>
			<arg direction="out" type="b"/>
		</method>
		<method name="IsAutostart">
			<arg direction="in" type="s" name="file_path"/>
			<arg direction="out" type="b"/>
		</method>
		<method name="AutostartList">
			<arg direction="out" type="as"/>
		</method>
		<signal name="AutostartChanged">
			<arg type="s" name="kind"/>
			<arg type="s" name="file_path"/>
		</signal>
	</interface>` + introspect.IntrospectDataString + `
</node>`
)

// adaptor is the reflection-friendly surface conn.Export dispatches
// method calls against; every method returns a trailing *dbus.Error so
// godbus can report application errors back to the caller instead of
// panicking, the convention its own documentation and examples use.
type adaptor struct {
	m *Manager
}

// ExportOn publishes m on conn at the fixed well-known name and object
// path, and starts a goroutine that forwards the autostart manager's
// Change events as AutostartChanged signals until ctx is cancelled.
func ExportOn(ctx context.Context, conn *dbus.Conn, m *Manager) error {
	a := &adaptor{m: m}
	if err := conn.Export(a, objectPath, ifaceName); err != nil {
		return err
	}
	if err := conn.Export(introspect.Introspectable(introspectXML), objectPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		return err
	}
	reply, err := conn.RequestName(busName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return err
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		log.Printf("busapi: %s already owned elsewhere on this bus; exporting anyway for introspection", busName)
	}

	changes, cancel := m.Autostart.Subscribe()
	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case ch, ok := <-changes:
				if !ok {
					return
				}
				if emitErr := conn.Emit(objectPath, ifaceName+".AutostartChanged", ch.Kind.String(), ch.Path); emitErr != nil {
					log.Printf("busapi: emitting AutostartChanged: %v", emitErr)
				}
			}
		}
	}()
	return nil
}

func (a *adaptor) List() ([]string, *dbus.Error) {
	return a.m.List(), nil
}

func (a *adaptor) Application(appID string) (string, *dbus.Error) {
	return a.m.Application(appID), nil
}

func (a *adaptor) Launch(appID, action string, files []string, options map[string]dbus.Variant) (string, *dbus.Error) {
	objID, err := a.m.Launch(context.Background(), appID, action, fieldcode.Files{Local: files}, decodeLaunchOptions(options))
	if err != nil {
		return "", dbus.MakeFailedError(err)
	}
	return objID, nil
}

// decodeLaunchOptions reads the §4.F option bag out of an a{sv} dict,
// the way an object-bus caller would pass it. Absent or wrong-typed keys
// are left at their zero value rather than rejected, matching the rest
// of this adaptor's tolerance for partial input.
func decodeLaunchOptions(options map[string]dbus.Variant) LaunchOptions {
	var opts LaunchOptions
	if v, ok := options["path"]; ok {
		if s, ok := v.Value().(string); ok {
			opts.Path = s
		}
	}
	if v, ok := options["desktop-override-exec"]; ok {
		if s, ok := v.Value().(string); ok {
			opts.DesktopOverrideExec = s
		}
	}
	if v, ok := options["env"]; ok {
		if e, ok := v.Value().([]string); ok {
			opts.Env = e
		}
	}
	return opts
}

func (a *adaptor) UpdateApplicationInfo(appIDs []string) *dbus.Error {
	a.m.UpdateApplicationInfo(appIDs)
	return nil
}

func (a *adaptor) Identify(pidFD dbus.UnixFD) (string, string, string, *dbus.Error) {
	appID, appObj, instObj, err := a.m.Identify(int(pidFD))
	if err != nil {
		return "", "", "", dbus.MakeFailedError(err)
	}
	return appID, appObj, instObj, nil
}

func (a *adaptor) AddAutostart(path string) (bool, *dbus.Error) {
	return a.m.AddAutostart(path), nil
}

func (a *adaptor) RemoveAutostart(path string) (bool, *dbus.Error) {
	return a.m.RemoveAutostart(path), nil
}

func (a *adaptor) IsAutostart(path string) (bool, *dbus.Error) {
	return a.m.IsAutostart(path), nil
}

func (a *adaptor) AutostartList() ([]string, *dbus.Error) {
	return a.m.AutostartList(), nil
}
