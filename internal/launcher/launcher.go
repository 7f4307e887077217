// Package launcher resolves a desktop entry (or one of its actions) into
// an argv, expands its field codes against the caller's file list, and
// hands the result to the service manager as a transient unit — falling
// back to a directly spawned, unsupervised child process when no service manager is
// reachable, the way the teacher's ExecutorService falls back to plain
// exec.CommandContext when nothing fancier is available.
package launcher

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/creack/pty"
	"github.com/mattn/go-shellwords"

	"github.com/linuxdeepin/dde-application-manager/internal/apperr"
	"github.com/linuxdeepin/dde-application-manager/internal/catalog"
	"github.com/linuxdeepin/dde-application-manager/internal/desktopentry"
	"github.com/linuxdeepin/dde-application-manager/internal/fieldcode"
	"github.com/linuxdeepin/dde-application-manager/internal/memgate"
	"github.com/linuxdeepin/dde-application-manager/internal/servicemanager"
	"github.com/linuxdeepin/dde-application-manager/internal/settings"
	"github.com/linuxdeepin/dde-application-manager/internal/unitname"
)

// proxyEnvVars are stripped from a launched process's environment when
// shouldStripProxy says so (its app_id is in the settings store's
// proxy-enabled set and proxying is active), per §4.F:
// "{auto,http,https,ftp,no}_proxy and upper-case forms, SOCKS_SERVER".
var proxyEnvVars = []string{
	"auto_proxy", "http_proxy", "https_proxy", "ftp_proxy", "no_proxy",
	"AUTO_PROXY", "HTTP_PROXY", "HTTPS_PROXY", "FTP_PROXY", "NO_PROXY",
	"SOCKS_SERVER",
}

// ProxyConfig is the proxy-config collaborator consulted in §4.F step 4:
// for an app in the proxy-enabled set, a non-empty Message means proxying
// is actually active and its variables must be stripped from the child's
// environment so the app falls back to its own (non-env-based) proxy
// handling instead of fighting the system one.
type ProxyConfig interface {
	Message(appID string) string
}

// Options carries the caller-supplied overrides enumerated in §4.F: a
// working-directory override, a replacement Exec line applied before
// field-code expansion, and extra environment variables appended last so
// they win over the base set.
type Options struct {
	Path                string   // overrides the entry's Path (working directory)
	DesktopOverrideExec string   // replaces the entry's Exec before expansion
	Env                 []string // appended last, winning over the base set
}

// Launcher is the component that turns "launch app_id [action]" into a
// running instance.
type Launcher struct {
	Catalog  *catalog.Catalog
	Service  servicemanager.Client
	Gate     memgate.Gate
	Settings settings.Store
	Proxy    ProxyConfig // optional; nil means "assume proxying is active"
	Launcher string      // the launcher token baked into service-style unit names

	mu        sync.Mutex
	directPid map[string]*os.Process // instance_id -> child, for the direct-spawn fallback
}

// New returns a Launcher wired to its collaborators. launcherName is the
// fixed token (e.g. "dde-launcher") embedded in every service-style unit
// name this Launcher produces.
func New(cat *catalog.Catalog, sm servicemanager.Client, gate memgate.Gate, store settings.Store, launcherName string) *Launcher {
	return &Launcher{
		Catalog:   cat,
		Service:   sm,
		Gate:      gate,
		Settings:  store,
		Launcher:  launcherName,
		directPid: map[string]*os.Process{},
	}
}

// WithProxy attaches a proxy-config collaborator, returning the same
// Launcher for chaining at construction time.
func (l *Launcher) WithProxy(p ProxyConfig) *Launcher {
	l.Proxy = p
	return l
}

// Launch starts app_id's default action (actionName == "") or one of its
// declared actions, against the given file arguments, returning the new
// instance's id.
func (l *Launcher) Launch(ctx context.Context, appID, actionName string, files fieldcode.Files, opts Options) (string, error) {
	rec := l.Catalog.Record(appID)
	if rec == nil {
		return "", apperr.New("launcher.Launch", apperr.NotFound, fmt.Errorf("app_id %q not found", appID))
	}

	group, err := resolveGroup(rec.Entry, actionName)
	if err != nil {
		return "", err
	}

	execLine := group.Get("Exec")
	if opts.DesktopOverrideExec != "" {
		execLine = opts.DesktopOverrideExec
	}
	if strings.TrimSpace(execLine) == "" {
		return "", apperr.New("launcher.Launch", apperr.EmptyCommand, fmt.Errorf("%q has no Exec line", appID))
	}

	argv, err := shellwords.Parse(execLine)
	if err != nil {
		return "", apperr.New("launcher.Launch", apperr.BadExec, fmt.Errorf("parsing Exec %q: %w", execLine, err))
	}

	locale := os.Getenv("LC_MESSAGES")
	if locale == "" {
		locale = os.Getenv("LANG")
	}
	if dot := strings.IndexByte(locale, '.'); dot >= 0 {
		// Drop the codeset ("en_US.UTF-8" -> "en_US"), keeping any @modifier.
		mod := ""
		if at := strings.IndexByte(locale[dot:], '@'); at >= 0 {
			mod = locale[dot+at:]
		}
		locale = locale[:dot] + mod
	}
	argv = fieldcode.Expand(argv, files, fieldcode.Context{
		Icon:       group.Get("Icon"),
		Name:       group.GetLocalized("Name", locale),
		SourcePath: rec.SourcePath,
	})

	terminal := group.GetBool("Terminal")
	if terminal {
		term, termArg := l.terminalCommand()
		if term != "" {
			argv = append([]string{term, termArg}, argv...)
		}
	}
	if len(argv) == 0 {
		return "", apperr.New("launcher.Launch", apperr.EmptyCommand, fmt.Errorf("%q expanded to an empty command line", appID))
	}

	if l.Gate != nil {
		if ok, reason := l.Gate.MayLaunch(); !ok {
			return "", apperr.New("launcher.Launch", apperr.LaunchRejected, fmt.Errorf("%s", reason))
		}
	}

	instanceID := unitname.NewInstanceID()
	env := l.buildEnviron(appID, rec.SourcePath, opts.Env)
	workingDir := group.Get("Path")
	if opts.Path != "" {
		workingDir = opts.Path
	}
	argv = wrapWithPidMarker(argv)

	if l.Service != nil && l.Service.Available() {
		return l.launchViaServiceManager(ctx, appID, instanceID, argv, env, workingDir)
	}

	log.Printf("launcher: service manager unavailable, direct-spawning %q", appID)
	return l.launchDirect(rec, instanceID, argv, env, workingDir, terminal)
}

// wrapWithPidMarker runs argv under a shell that exports
// GIO_LAUNCHED_DESKTOP_FILE_PID=$$ before exec'ing it: $$ is the shell's
// own pid, and exec replaces the shell image without forking, so the
// variable ends up correctly naming the real child's pid by the time it
// runs, something that can't be known from the launcher side before argv
// is ever exec'd.
func wrapWithPidMarker(argv []string) []string {
	wrapped := append([]string{"/bin/sh", "-c", `export GIO_LAUNCHED_DESKTOP_FILE_PID=$$; exec "$@"`, "sh"}, argv...)
	return wrapped
}

// terminalCommand returns the configured default terminal emulator and
// its exec-arg flag, prepended to argv when Terminal=true, per §4.F step
// 3. Launch prepends it before choosing between the service-manager path
// and the direct-spawn fallback, so both paths run the app inside the
// terminal emulator; the direct-spawn path additionally gives it a pty.
func (l *Launcher) terminalCommand() (term, execArg string) {
	if l.Settings == nil {
		return "", ""
	}
	snap := l.Settings.Get()
	return snap.DefaultTerminal, snap.DefaultTerminalExecArg
}

func resolveGroup(entry *desktopentry.Entry, actionName string) (desktopentry.Group, error) {
	if actionName == "" {
		return entry.Main(), nil
	}
	g, ok := entry.Action(actionName)
	if !ok {
		return nil, apperr.New("launcher.Launch", apperr.NotFound, fmt.Errorf("action %q not declared", actionName))
	}
	return g, nil
}

func (l *Launcher) launchViaServiceManager(ctx context.Context, appID, instanceID string, argv, env []string, workingDir string) (string, error) {
	unitName := unitname.EncodeService(l.Launcher, appID, instanceID)

	callCtx, cancel := context.WithTimeout(ctx, servicemanager.DefaultCallTimeout)
	defer cancel()

	if _, err := l.Service.StartTransientUnit(callCtx, unitName, servicemanager.Properties{
		Argv:       argv,
		Env:        env,
		WorkingDir: workingDir,
		Mode:       "service",
	}); err != nil {
		return "", apperr.New("launcher.Launch", apperr.LaunchRejected, fmt.Errorf("submitting %s: %w", unitName, err))
	}
	// The InstanceTracker owns catalog.AddInstance for service-manager
	// launches, triggered by the UnitNew signal this call provokes.
	return instanceID, nil
}

// launchDirect spawns argv itself when no service manager is reachable,
// immediately registering the instance as Unsupervised since no systemd
// unit will ever emit the lifecycle signals the InstanceTracker expects.
func (l *Launcher) launchDirect(rec *catalog.ApplicationRecord, instanceID string, argv, env []string, workingDir string, terminal bool) (string, error) {
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = env
	if workingDir != "" {
		cmd.Dir = workingDir
	}

	var err error
	if terminal {
		var f *os.File
		f, err = pty.Start(cmd)
		if f != nil {
			go func() { _ = f.Close() }()
		}
	} else {
		err = cmd.Start()
	}
	if err != nil {
		return "", apperr.New("launcher.Launch", apperr.BadExec, fmt.Errorf("starting %q: %w", argv[0], err))
	}

	unitPath := fmt.Sprintf("/direct/%d", cmd.Process.Pid)
	inst := &catalog.InstanceRecord{
		AppID:        rec.AppID,
		InstanceID:   instanceID,
		UnitPath:     unitPath,
		ObjectID:     catalog.ObjectIDForInstance(rec.ObjectID, instanceID),
		Unsupervised: true,
	}
	l.Catalog.AddInstance(rec.AppID, inst)

	l.mu.Lock()
	l.directPid[instanceID] = cmd.Process
	l.mu.Unlock()

	go l.reap(rec.AppID, instanceID, unitPath, cmd)

	return instanceID, nil
}

func (l *Launcher) reap(appID, instanceID, unitPath string, cmd *exec.Cmd) {
	err := cmd.Wait()
	if err != nil {
		log.Printf("launcher: direct-spawned instance %s of %s exited: %v", instanceID, appID, err)
	}
	l.Catalog.RemoveInstanceByUnitPath(appID, unitPath)
	l.mu.Lock()
	delete(l.directPid, instanceID)
	l.mu.Unlock()
}

// buildEnviron assembles the child environment: the ambient process
// environment, minus proxy variables when shouldStripProxy reports true,
// plus GIO_LAUNCHED_DESKTOP_FILE, which gio-aware apps use to discover
// which desktop entry launched them (its GIO_LAUNCHED_DESKTOP_FILE_PID
// partner is exported by wrapWithPidMarker), plus a scale factor
// for apps that haven't disabled scaling, with the caller's env option
// overlaid last so it wins over every base entry (§4.F step 4). Per §9's
// "uninitialized environment reads" note, everything here is copied into
// freshly allocated strings so the result outlives this call by more than
// accident.
func (l *Launcher) buildEnviron(appID, sourcePath string, overlay []string) []string {
	stripProxy := l.shouldStripProxy(appID)

	base := os.Environ()
	env := make([]string, 0, len(base)+len(overlay)+3)
	for _, kv := range base {
		if stripProxy && isProxyVar(kv) {
			continue
		}
		env = append(env, kv)
	}

	env = append(env, "GIO_LAUNCHED_DESKTOP_FILE="+sourcePath)
	// GIO_LAUNCHED_DESKTOP_FILE_PID itself is set by the shell wrapper in
	// wrapWithPidMarker, since the child's own pid isn't known until after
	// it has already been exec'd.

	if l.Settings != nil && !l.Settings.ScalingDisabled(appID) {
		if scale := l.scaleFactor(); scale != "" {
			env = append(env, "DEEPIN_WINE_SCALE="+scale)
		}
	}

	env = append(env, overlay...)
	return env
}

// shouldStripProxy implements §4.F step 4's proxy rule exactly: proxy
// variables are removed only when the app is in the proxy-enabled set AND
// the proxy-config collaborator reports a non-empty message (i.e.
// proxying is actually configured); otherwise they are left untouched.
func (l *Launcher) shouldStripProxy(appID string) bool {
	if l.Settings == nil || !l.Settings.UseProxy(appID) {
		return false
	}
	if l.Proxy == nil {
		return true // no collaborator wired: assume proxying is active
	}
	return l.Proxy.Message(appID) != ""
}

// scaleFactor is the display-settings collaborator's scale factor,
// consulted per §4.F step 4 for apps not in the scale-disabled set. The
// settings store is the only display-settings source this core wires in;
// a dedicated display-settings collaborator is an external concern (§1).
func (l *Launcher) scaleFactor() string {
	if l.Settings == nil {
		return ""
	}
	return l.Settings.Get().DefaultScaleFactor
}

func isProxyVar(kv string) bool {
	eq := strings.IndexByte(kv, '=')
	if eq < 0 {
		return false
	}
	name := kv[:eq]
	for _, p := range proxyEnvVars {
		if name == p {
			return true
		}
	}
	return false
}
