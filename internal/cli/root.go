// Package cli implements the pantry command-line interface: a cobra command
// tree that loads a schema file, opens a session over the state snapshot,
// applies one operation and saves the snapshot again.
package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/pantry/internal/paths"
	"github.com/mesh-intelligence/pantry/internal/schemafile"
	"github.com/mesh-intelligence/pantry/pkg/schema"
	"github.com/mesh-intelligence/pantry/pkg/types"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// app holds the global flag values and what PersistentPreRunE resolved from
// them. Each NewRootCmd call gets its own.
type app struct {
	configDir string
	dataDir   string
	jsonMode  bool
	verbose   bool

	dirs paths.Dirs
	cfg  types.Config
}

// NewRootCmd creates the top-level "pantry" command with global flags and
// all subcommands registered.
func NewRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:     "pantry",
		Short:   "A normalized in-memory relational store",
		Long:    "Pantry keeps schema-defined entities in a normalized state tree.\nEach command loads the snapshot, applies one operation in a session and saves it.",
		Version: Version,
		// Errors are printed once by Execute.
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return a.configure(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configDir, "config-dir", "", "configuration directory (default: ./.pantry or the platform config dir)")
	pf.StringVar(&a.dataDir, "data-dir", "", "data directory holding the state snapshot")
	pf.BoolVar(&a.jsonMode, "json", false, "output in JSON format")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "log debug output to stderr")
	pf.Bool("mutable", false, "apply writes in place within the command's session")

	root.AddCommand(
		newVersionCmd(),
		newInitCmd(a),
		newSchemaCmd(a),
		newCreateCmd(a),
		newGetCmd(a),
		newListCmd(a),
		newUpdateCmd(a),
		newDeleteCmd(a),
		newRelationCmd(a, "add"),
		newRelationCmd(a, "remove"),
		newVerifyCmd(a),
		newSQLCmd(a),
		newExportCmd(a),
		newImportCmd(a),
	)
	return root
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(root.ErrOrStderr(), errorStyle.Render("error:"), err)
		return exitCode(err)
	}
	return exitSuccess
}

// userErrors are the failures caused by the command's input rather than the
// environment.
var userErrors = []error{
	types.ErrNotFound,
	types.ErrTableNotFound,
	types.ErrFieldNotFound,
	types.ErrNotRelationSet,
	types.ErrMissingField,
	types.ErrMissingID,
	types.ErrDuplicateID,
	types.ErrInvalidID,
	types.ErrIDImmutable,
	types.ErrAmbiguous,
	types.ErrUnresolvedReference,
	types.ErrOneToOneConflict,
	types.ErrInvalidFilter,
	types.ErrInvalidOrder,
	types.ErrAlreadyRelated,
	types.ErrNotRelated,
	types.ErrThroughNotCreatable,
	types.ErrSchemaPathEmpty,
	types.ErrSchemaFormat,
	types.ErrLogLevelUnknown,
	types.ErrStateFileNotRelative,
	schemafile.ErrNoEntities,
	errUsage,
	errVerifyFailed,
}

var errUsage = errors.New("usage")

func exitCode(err error) int {
	var regErr *schema.RegistrationError
	if errors.As(err, &regErr) {
		return exitUserError
	}
	for _, target := range userErrors {
		if errors.Is(err, target) {
			return exitUserError
		}
	}
	return exitSysError
}

// usageErrorf reports bad arguments.
func usageErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{errUsage}, args...)...)
}

// setupLogging installs the default slog handler. --verbose wins over the
// configured level.
func setupLogging(w io.Writer, level string, verbose bool) {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	if verbose {
		lvl = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})))
}
