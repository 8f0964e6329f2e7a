package paths

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdir points the working-directory lookup at dir for the test.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev := platformDir.getwd
	platformDir.getwd = func() (string, error) { return dir, nil }
	t.Cleanup(func() { platformDir.getwd = prev })
}

func TestDefaultDirs_Linux(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("linux-only test")
	}

	t.Run("XDG variables win", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg-config")
		t.Setenv("XDG_DATA_HOME", "/tmp/xdg-data")
		cfg, err := DefaultConfigDir()
		require.NoError(t, err)
		assert.Equal(t, "/tmp/xdg-config/pantry", cfg)
		data, err := DefaultDataDir()
		require.NoError(t, err)
		assert.Equal(t, "/tmp/xdg-data/pantry", data)
	})

	t.Run("home fallbacks", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "")
		t.Setenv("XDG_DATA_HOME", "")
		prev := platformDir.homeDir
		platformDir.homeDir = func() (string, error) { return "/home/cook", nil }
		t.Cleanup(func() { platformDir.homeDir = prev })

		cfg, err := DefaultConfigDir()
		require.NoError(t, err)
		assert.Equal(t, "/home/cook/.config/pantry", cfg)
		data, err := DefaultDataDir()
		require.NoError(t, err)
		assert.Equal(t, "/home/cook/.local/share/pantry", data)
	})
}

func TestResolveConfigDir(t *testing.T) {
	workspace := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(workspace, WorkspaceDirName), 0o755))
	bare := t.TempDir()

	tests := []struct {
		name    string
		flag    string
		env     string
		cwd     string
		wantSub string
	}{
		{"flag wins over env", "/explicit/config", "/env/config", workspace, "/explicit/config"},
		{"env wins when flag empty", "", "/env/config", workspace, "/env/config"},
		{"workspace directory when present", "", "", workspace, filepath.Join(workspace, WorkspaceDirName)},
		{"platform default otherwise", "", "", bare, "pantry"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvConfigDir, tt.env)
			chdir(t, tt.cwd)
			got, err := ResolveConfigDir(tt.flag)
			require.NoError(t, err)
			assert.Contains(t, got, tt.wantSub)
			assert.True(t, filepath.IsAbs(got))
		})
	}
}

func TestResolveDataDir(t *testing.T) {
	tests := []struct {
		name      string
		flag      string
		cfgValue  string
		configDir string
		env       string
		want      string
	}{
		{"flag wins over all", "/flag/data", "/config/data", "/cfg", "/env/data", "/flag/data"},
		{"config value wins over env", "", "/config/data", "/cfg", "/env/data", "/config/data"},
		{"relative config value joins config dir", "", "data", "/cfg", "/env/data", "/cfg/data"},
		{"env when flag and config empty", "", "", "/cfg", "/env/data", "/env/data"},
		{"workspace config dir holds data", "", "", "/proj/.pantry", "", "/proj/.pantry"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvDataDir, tt.env)
			got, err := ResolveDataDir(tt.flag, tt.cfgValue, tt.configDir)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("platform default otherwise", func(t *testing.T) {
		t.Setenv(EnvDataDir, "")
		got, err := ResolveDataDir("", "", "/home/cook/.config/pantry")
		require.NoError(t, err)
		assert.Contains(t, got, "pantry")
	})
}

func TestDirsConfigFile(t *testing.T) {
	d := Dirs{Config: "/cfg", Data: "/data"}
	assert.Equal(t, "/cfg/config.yaml", d.ConfigFile())
}
