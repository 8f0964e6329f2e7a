package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/pantry/internal/snapshot"
)

// starterSchema is written by init when the configured schema file does not
// exist yet.
const starterSchema = `entities:
  - name: Author
    fields:
      name: {type: attr}
  - name: Book
    fields:
      title: {type: attr}
      authorId: {type: fk, to: Author, as: author, relatedName: books}
`

func newInitCmd(a *app) *cobra.Command {
	var schemaFlag string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a pantry workspace",
		Long: `Create the config and data directories, write config.yaml and a starter
schema if they are missing, and save an empty state snapshot for the schema.
Running init again keeps existing files.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runInit(cmd, schemaFlag)
		},
	}
	cmd.Flags().StringVar(&schemaFlag, "schema", defaultSchemaFile, "schema file to reference from config.yaml")
	return cmd
}

func (a *app) runInit(cmd *cobra.Command, schemaFlag string) error {
	out := cmd.OutOrStdout()
	if err := os.MkdirAll(a.dirs.Config, 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	wrote, err := writeConfigIfMissing(a.dirs.Config, schemaFlag)
	if err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if wrote {
		// Re-read so the new file's schema path applies.
		if err := a.configure(cmd); err != nil {
			return err
		}
		fmt.Fprintln(out, mutedStyle.Render("wrote "+a.dirs.ConfigFile()))
	}

	if _, err := os.Stat(a.cfg.SchemaPath); errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(a.cfg.SchemaPath), 0o755); err != nil {
			return fmt.Errorf("create schema directory: %w", err)
		}
		if err := os.WriteFile(a.cfg.SchemaPath, []byte(starterSchema), 0o644); err != nil {
			return fmt.Errorf("write starter schema: %w", err)
		}
		fmt.Fprintln(out, mutedStyle.Render("wrote "+a.cfg.SchemaPath))
	}

	w, err := a.openWorkspace()
	if err != nil {
		return err
	}
	if _, err := os.Stat(w.statePath); errors.Is(err, os.ErrNotExist) {
		if err := snapshot.Save(w.statePath, w.state); err != nil {
			return fmt.Errorf("initialize state: %w", err)
		}
	}
	return a.printDone(out, map[string]string{
		"config": a.dirs.ConfigFile(),
		"schema": a.cfg.SchemaPath,
		"state":  w.statePath,
	}, "pantry initialized in %s", a.dirs.Data)
}
