package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mesh-intelligence/pantry/internal/paths"
	"github.com/mesh-intelligence/pantry/pkg/types"
)

const (
	configFileName = "config"
	configFileType = "yaml"

	cfgKeySchema    = "schema"
	cfgKeyDataDir   = "data_dir"
	cfgKeyStateFile = "state_file"
	cfgKeyMutable   = "mutable"
	cfgKeyLogLevel  = "log_level"

	defaultSchemaFile = "schema.yaml"
)

// defaultConfigYAML is written by init. %s is the schema path.
const defaultConfigYAML = `# pantry configuration

# Schema file (.yaml, .yml or .cue), relative to this directory
schema: %s

# State snapshot inside the data directory
state_file: state.json

# Apply writes in place within a command's session
mutable: false

# debug, info, warn or error
log_level: info

# Data directory (optional; overridable by --data-dir)
# data_dir:
`

// loadConfig reads config.yaml from configDir. A missing file is not an
// error; every key then has its default. PANTRY_SCHEMA, PANTRY_MUTABLE and
// PANTRY_LOG_LEVEL override the file.
func loadConfig(configDir string) (*viper.Viper, error) {
	v := viper.New()
	v.SetDefault(cfgKeySchema, defaultSchemaFile)
	v.SetDefault(cfgKeyStateFile, types.DefaultStateFile)
	v.SetDefault(cfgKeyMutable, false)
	v.SetDefault(cfgKeyLogLevel, types.DefaultLogLevel)
	for key, env := range map[string]string{
		cfgKeySchema:   "PANTRY_SCHEMA",
		cfgKeyMutable:  "PANTRY_MUTABLE",
		cfgKeyLogLevel: "PANTRY_LOG_LEVEL",
	} {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("binding %s: %w", env, err)
		}
	}

	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.AddConfigPath(configDir)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return v, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	return v, nil
}

// configure resolves directories, reads the config file and sets up logging.
func (a *app) configure(cmd *cobra.Command) error {
	configDir, err := paths.ResolveConfigDir(a.configDir)
	if err != nil {
		return fmt.Errorf("resolve config dir: %w", err)
	}
	v, err := loadConfig(configDir)
	if err != nil {
		return err
	}
	if f := cmd.Flags().Lookup(cfgKeyMutable); f != nil {
		if err := v.BindPFlag(cfgKeyMutable, f); err != nil {
			return fmt.Errorf("binding --mutable: %w", err)
		}
	}
	dataDir, err := paths.ResolveDataDir(a.dataDir, v.GetString(cfgKeyDataDir), configDir)
	if err != nil {
		return fmt.Errorf("resolve data dir: %w", err)
	}

	schemaPath := v.GetString(cfgKeySchema)
	if schemaPath != "" && !filepath.IsAbs(schemaPath) {
		schemaPath = filepath.Join(configDir, schemaPath)
	}
	a.dirs = paths.Dirs{Config: configDir, Data: dataDir}
	a.cfg = types.Config{
		SchemaPath: schemaPath,
		DataDir:    dataDir,
		StateFile:  v.GetString(cfgKeyStateFile),
		Mutable:    v.GetBool(cfgKeyMutable),
		LogLevel:   strings.ToLower(v.GetString(cfgKeyLogLevel)),
	}
	setupLogging(cmd.ErrOrStderr(), a.cfg.LogLevel, a.verbose)
	slog.Debug("configured", "config", a.dirs.Config, "data", a.dirs.Data, "schema", a.cfg.SchemaPath, "mutable", a.cfg.Mutable)
	return nil
}

// writeConfigIfMissing creates config.yaml naming schema. An existing file is
// left alone; the return value reports whether one was written.
func writeConfigIfMissing(configDir, schema string) (bool, error) {
	path := filepath.Join(configDir, paths.ConfigFileName)
	_, err := os.Stat(path)
	if err == nil {
		return false, nil
	}
	if !os.IsNotExist(err) {
		return false, fmt.Errorf("stat config file: %w", err)
	}
	if err := os.WriteFile(path, []byte(fmt.Sprintf(defaultConfigYAML, schema)), 0o644); err != nil {
		return false, err
	}
	return true, nil
}
