package types

import (
	"errors"
	"path/filepath"
	"strings"
)

// Config holds the settings the pantry CLI needs to open a workspace.
type Config struct {
	SchemaPath string `json:"schema" yaml:"schema"`
	DataDir    string `json:"data_dir" yaml:"data_dir"`
	StateFile  string `json:"state_file" yaml:"state_file"`
	Mutable    bool   `json:"mutable" yaml:"mutable"`
	LogLevel   string `json:"log_level" yaml:"log_level"`
}

// Defaults applied by StatePath and the CLI config loader.
const (
	DefaultStateFile = "state.json"
	DefaultLogLevel  = "info"
)

// Config validation errors.
var (
	ErrSchemaPathEmpty      = errors.New("schema path must not be empty")
	ErrSchemaFormat         = errors.New("unsupported schema file format")
	ErrLogLevelUnknown      = errors.New("unknown log level")
	ErrStateFileNotRelative = errors.New("state file must be relative to the data directory")
)

// schemaExtensions lists the schema file formats Validate accepts.
var schemaExtensions = map[string]bool{
	".yaml": true,
	".yml":  true,
	".cue":  true,
}

// knownLogLevels lists the log levels Validate accepts.
var knownLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks that the Config is well-formed. It returns a sentinel error
// from this package on failure.
func (c Config) Validate() error {
	if c.SchemaPath == "" {
		return ErrSchemaPathEmpty
	}
	if !schemaExtensions[strings.ToLower(filepath.Ext(c.SchemaPath))] {
		return ErrSchemaFormat
	}
	if c.LogLevel != "" && !knownLogLevels[strings.ToLower(c.LogLevel)] {
		return ErrLogLevelUnknown
	}
	if filepath.IsAbs(c.StateFile) {
		return ErrStateFileNotRelative
	}
	return nil
}

// StatePath returns the state snapshot location inside DataDir.
func (c Config) StatePath() string {
	name := c.StateFile
	if name == "" {
		name = DefaultStateFile
	}
	return filepath.Join(c.DataDir, name)
}
