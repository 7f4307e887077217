// Package settings is the collaborator the core consumes for policy
// knobs (§6 "Settings store"): memory-gate thresholds, the proxy/scale
// app sets, and the default terminal. The persistence format is an
// external concern (§1) — this package owns only the interface and a
// YAML-file-backed default implementation, mirroring the teacher's
// internal/config package shape.
package settings

import (
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Snapshot is the policy data the core reads. It is a value type so
// callers get a consistent point-in-time view without holding a lock.
type Snapshot struct {
	MinMemAvailable        uint64          `yaml:"min_mem_available"`
	MaxSwapUsed            uint64          `yaml:"max_swap_used"`
	UseProxyApps           map[string]bool `yaml:"use_proxy_apps"`
	DisableScalingApps     map[string]bool `yaml:"disable_scaling_apps"`
	DefaultTerminal        string          `yaml:"default_terminal"`
	DefaultTerminalExecArg string          `yaml:"default_terminal_exec_arg"`
	// DefaultScaleFactor stands in for the display-settings collaborator
	// (§1/§4.F): the real scale factor is owned by the display subsystem,
	// out of scope here, so this core only forwards whatever value the
	// settings store was told to report.
	DefaultScaleFactor string `yaml:"default_scale_factor"`
	// LauncherUnitPrefix is the token cmd/dde-application-manager embeds in
	// every service-style unit name it produces (§6 "Unit naming"),
	// mirroring the teacher's ServerConfig carrying ambient
	// server-identity fields alongside its domain config.
	LauncherUnitPrefix string `yaml:"launcher_unit_prefix"`
	LogLevel           string `yaml:"log_level"`
}

// Store is the interface the launcher consumes (the memory gate gets its
// thresholds from a Snapshot passed in by the entrypoint). It offers no
// change notification; FileStore.Reload re-reads the backing file on
// demand.
type Store interface {
	Get() Snapshot
	UseProxy(appID string) bool
	ScalingDisabled(appID string) bool
}

// fileConfig is the on-disk shape, following the teacher's ServerConfig/
// DatabaseConfig-per-concern nesting even though this store only has one
// concern worth nesting.
type fileConfig struct {
	Memory   memoryConfig   `yaml:"memory"`
	Apps     appsConfig     `yaml:"apps"`
	Terminal terminalConfig `yaml:"terminal"`
	Display  displayConfig  `yaml:"display"`
	Logging  loggingConfig  `yaml:"logging"`
	Launcher launcherConfig `yaml:"launcher"`
}

type launcherConfig struct {
	UnitPrefix string `yaml:"unit_prefix"`
}

type displayConfig struct {
	ScaleFactor string `yaml:"scale_factor"`
}

type memoryConfig struct {
	MinAvailableBytes uint64 `yaml:"min_available_bytes"`
	MaxSwapUsedBytes  uint64 `yaml:"max_swap_used_bytes"`
}

type appsConfig struct {
	UseProxy        []string `yaml:"use_proxy"`
	DisableScaling  []string `yaml:"disable_scaling"`
}

type terminalConfig struct {
	Default        string `yaml:"default"`
	DefaultExecArg string `yaml:"default_exec_arg"`
}

type loggingConfig struct {
	Level string `yaml:"level"`
}

// FileStore is the default Store implementation, reloadable from a YAML
// file on disk.
type FileStore struct {
	mu   sync.RWMutex
	snap Snapshot
	path string
}

// Load reads path and applies defaults for any unset field, matching the
// teacher's Load/setDefaults pair.
func Load(path string) (*FileStore, error) {
	fs := &FileStore{path: path}
	if err := fs.reload(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (fs *FileStore) reload() error {
	var fc fileConfig
	if fs.path != "" {
		data, err := os.ReadFile(fs.path)
		if err != nil {
			if !os.IsNotExist(err) {
				return err
			}
		} else if err := yaml.Unmarshal(data, &fc); err != nil {
			return err
		}
	}
	setDefaults(&fc)

	snap := Snapshot{
		MinMemAvailable:        fc.Memory.MinAvailableBytes,
		MaxSwapUsed:            fc.Memory.MaxSwapUsedBytes,
		UseProxyApps:           toSet(fc.Apps.UseProxy),
		DisableScalingApps:     toSet(fc.Apps.DisableScaling),
		DefaultTerminal:        fc.Terminal.Default,
		DefaultTerminalExecArg: fc.Terminal.DefaultExecArg,
		DefaultScaleFactor:     fc.Display.ScaleFactor,
		LauncherUnitPrefix:     fc.Launcher.UnitPrefix,
		LogLevel:               fc.Logging.Level,
	}

	fs.mu.Lock()
	fs.snap = snap
	fs.mu.Unlock()
	return nil
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[it] = true
	}
	return set
}

func setDefaults(fc *fileConfig) {
	if fc.Memory.MinAvailableBytes == 0 {
		fc.Memory.MinAvailableBytes = 200 * 1024 * 1024
	}
	if fc.Memory.MaxSwapUsedBytes == 0 {
		fc.Memory.MaxSwapUsedBytes = 1024 * 1024 * 1024
	}
	if fc.Terminal.Default == "" {
		fc.Terminal.Default = "x-terminal-emulator"
	}
	if fc.Terminal.DefaultExecArg == "" {
		fc.Terminal.DefaultExecArg = "-e"
	}
	if fc.Logging.Level == "" {
		fc.Logging.Level = "info"
	}
	if fc.Launcher.UnitPrefix == "" {
		fc.Launcher.UnitPrefix = "dde-launcher"
	}
}

// Get returns the current Snapshot.
func (fs *FileStore) Get() Snapshot {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.snap
}

// UseProxy reports whether appID is in the proxy-enabled set.
func (fs *FileStore) UseProxy(appID string) bool {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.snap.UseProxyApps[appID]
}

// ScalingDisabled reports whether appID is in the scale-disabled set.
func (fs *FileStore) ScalingDisabled(appID string) bool {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.snap.DisableScalingApps[appID]
}

// Reload re-reads the backing file, picking up edits made while running.
func (fs *FileStore) Reload() error { return fs.reload() }
