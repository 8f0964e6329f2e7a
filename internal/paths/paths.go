// Package paths resolves where the pantry CLI keeps its config file, schema
// and state snapshot.
package paths

import (
	"os"
	"path/filepath"
	"runtime"
)

// WorkspaceDirName is the project-local config directory. When it exists in
// the working directory it is used instead of the platform config dir.
const WorkspaceDirName = ".pantry"

// ConfigFileName is the config file inside the config directory.
const ConfigFileName = "config.yaml"

// Environment variable names for directory overrides.
const (
	EnvConfigDir = "PANTRY_CONFIG_DIR"
	EnvDataDir   = "PANTRY_DATA_DIR"
)

const appName = "pantry"

// platformDir holds platform lookups that tests override.
var platformDir = struct {
	homeDir       func() (string, error)
	userConfigDir func() (string, error)
	getwd         func() (string, error)
}{
	homeDir:       os.UserHomeDir,
	userConfigDir: os.UserConfigDir,
	getwd:         os.Getwd,
}

// Dirs is a resolved pair of directories.
type Dirs struct {
	Config string
	Data   string
}

// ConfigFile returns the config file path inside d.Config.
func (d Dirs) ConfigFile() string {
	return filepath.Join(d.Config, ConfigFileName)
}

// xdgDir returns $env/pantry on Linux, falling back to ~/<fallback...>/pantry,
// and the user config dir elsewhere.
func xdgDir(env string, fallback ...string) (string, error) {
	if runtime.GOOS != "linux" {
		dir, err := platformDir.userConfigDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(dir, appName), nil
	}
	if xdg := os.Getenv(env); xdg != "" {
		return filepath.Join(xdg, appName), nil
	}
	home, err := platformDir.homeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(append(append([]string{home}, fallback...), appName)...), nil
}

// DefaultConfigDir returns the platform config directory:
// $XDG_CONFIG_HOME/pantry or ~/.config/pantry on Linux, the user config dir
// elsewhere.
func DefaultConfigDir() (string, error) {
	return xdgDir("XDG_CONFIG_HOME", ".config")
}

// DefaultDataDir returns the platform data directory:
// $XDG_DATA_HOME/pantry or ~/.local/share/pantry on Linux, the user config
// dir elsewhere.
func DefaultDataDir() (string, error) {
	return xdgDir("XDG_DATA_HOME", ".local", "share")
}

// ResolveConfigDir picks the config directory: flag, then PANTRY_CONFIG_DIR,
// then ./.pantry when it exists, then DefaultConfigDir. The result is
// absolute.
func ResolveConfigDir(flag string) (string, error) {
	if flag != "" {
		return filepath.Abs(flag)
	}
	if env := os.Getenv(EnvConfigDir); env != "" {
		return filepath.Abs(env)
	}
	cwd, err := platformDir.getwd()
	if err != nil {
		return "", err
	}
	local := filepath.Join(cwd, WorkspaceDirName)
	if info, err := os.Stat(local); err == nil && info.IsDir() {
		return local, nil
	}
	return DefaultConfigDir()
}

// ResolveDataDir picks the data directory: flag, then the config file's
// data_dir (relative values are taken from configDir), then
// PANTRY_DATA_DIR, then configDir itself for a workspace config, then
// DefaultDataDir.
func ResolveDataDir(flag, configValue, configDir string) (string, error) {
	if flag != "" {
		return filepath.Abs(flag)
	}
	if configValue != "" {
		if !filepath.IsAbs(configValue) && configDir != "" {
			configValue = filepath.Join(configDir, configValue)
		}
		return filepath.Abs(configValue)
	}
	if env := os.Getenv(EnvDataDir); env != "" {
		return filepath.Abs(env)
	}
	if filepath.Base(configDir) == WorkspaceDirName {
		return configDir, nil
	}
	return DefaultDataDir()
}
