package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/pantry/internal/snapshot"
	"github.com/mesh-intelligence/pantry/internal/sqlmirror"
	"github.com/mesh-intelligence/pantry/pkg/orm"
	"github.com/mesh-intelligence/pantry/pkg/types"
)

var errVerifyFailed = errors.New("state verification failed")

func newVerifyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check the state snapshot for consistency",
		Long: `Verify checks every table branch: ids are unique, the id list and the
record map agree, and every foreign-key index matches the records.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.read(func(w *workspace, _ *orm.Session) error {
				problems := w.orm.Database().Verify(w.state)
				msgs := make([]string, len(problems))
				for i, p := range problems {
					msgs[i] = p.Error()
				}
				out := cmd.OutOrStdout()
				if a.jsonMode {
					if err := printJSON(out, map[string]any{"ok": len(msgs) == 0, "problems": msgs}); err != nil {
						return err
					}
				} else if len(msgs) == 0 {
					fmt.Fprintln(out, okStyle.Render("state is consistent"))
				} else {
					for _, m := range msgs {
						fmt.Fprintln(out, errorStyle.Render("✗"), m)
					}
				}
				if len(msgs) > 0 {
					return fmt.Errorf("%w: %d problems", errVerifyFailed, len(msgs))
				}
				return nil
			})
		},
	}
}

func newSQLCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sql <query> [args...]",
		Short: "Run a read-only SQL query against the state",
		Long: `SQL loads the state snapshot into an in-memory SQLite database, one table
per entity and through entity, and runs the query there. Extra arguments bind
to ? placeholders. Structured field values are stored as JSON text, so the
SQLite json functions work on them.

Example:
  pantry sql 'SELECT title FROM "Book" WHERE authorId = ?' 1`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.read(func(w *workspace, _ *orm.Session) error {
				ctx := cmd.Context()
				m, err := sqlmirror.Build(ctx, w.orm.Registry(), w.state)
				if err != nil {
					return err
				}
				defer m.Close()

				binds := make([]any, len(args)-1)
				for i, arg := range args[1:] {
					binds[i] = parseID(arg)
				}
				rows, err := m.Query(ctx, args[0], binds...)
				if err != nil {
					return err
				}
				if a.jsonMode {
					records := make([]map[string]any, len(rows.Values))
					for i, vals := range rows.Values {
						rec := make(map[string]any, len(vals))
						for j, c := range rows.Columns {
							rec[c] = vals[j]
						}
						records[i] = rec
					}
					return printJSON(cmd.OutOrStdout(), records)
				}
				cells := make([][]string, len(rows.Values))
				for i, vals := range rows.Values {
					cells[i] = make([]string, len(vals))
					for j, v := range vals {
						cells[i][j] = cell(v)
					}
				}
				return printTable(cmd.OutOrStdout(), rows.Columns, cells)
			})
		},
	}
}

func newExportCmd(a *app) *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "export <Entity>",
		Short: "Export one table as JSONL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.read(func(w *workspace, s *orm.Session) error {
				if _, err := s.Model(args[0]); err != nil {
					return err
				}
				ts := s.GetDataForModel(args[0])
				if outPath == "" {
					return snapshot.ExportJSONL(cmd.OutOrStdout(), ts)
				}
				if err := snapshot.WriteJSONL(outPath, ts); err != nil {
					return err
				}
				fmt.Fprintln(cmd.ErrOrStderr(), mutedStyle.Render(fmt.Sprintf("exported %d %s records to %s", ts.Len(), args[0], outPath)))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write to a file instead of stdout")
	return cmd
}

func newImportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import <Entity> <file.jsonl>",
		Short: "Import records from JSONL",
		Long: `Import reads one JSON object per line. Records carrying an id are upserted,
the rest are created. Malformed lines are skipped and counted. The import
stops at the first record that fails and saves nothing.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				records []types.Ref
				skipped int
				err     error
			)
			if args[1] == "-" {
				records, skipped, err = snapshot.ImportJSONL(cmd.InOrStdin())
			} else {
				records, skipped, err = snapshot.ReadJSONL(args[1])
			}
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					return usageErrorf("%v", err)
				}
				return err
			}
			return a.mutate(func(s *orm.Session) error {
				mt, err := s.Model(args[0])
				if err != nil {
					return err
				}
				idAttr := mt.Entity().IDAttribute
				for i, rec := range records {
					if rec[idAttr] != nil {
						_, err = mt.Upsert(rec)
					} else {
						_, err = mt.Create(rec)
					}
					if err != nil {
						return fmt.Errorf("record %d: %w", i+1, err)
					}
				}
				return a.printDone(cmd.OutOrStdout(), map[string]int{"imported": len(records), "skipped": skipped},
					"imported %d %s records, skipped %d lines", len(records), mt.Name(), skipped)
			})
		},
	}
}
