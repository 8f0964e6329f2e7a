package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/pantry/pkg/orm"
	"github.com/mesh-intelligence/pantry/pkg/types"
)

func newCreateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "create <Entity> <json>",
		Short: "Create a record",
		Long: `Create stores a new record. The JSON object holds field values; relation
fields take the related id, and many-to-many fields a list of ids.

Example:
  pantry create Book '{"title": "Dune", "authorId": 0}'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			props, err := parseRef(args[1])
			if err != nil {
				return err
			}
			return a.mutate(func(s *orm.Session) error {
				mt, err := s.Model(args[0])
				if err != nil {
					return err
				}
				m, err := mt.Create(props)
				if err != nil {
					return err
				}
				return a.printRecords(cmd.OutOrStdout(), mt.Entity().IDAttribute, []types.Ref{m.Ref()})
			})
		},
	}
}

func newGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <Entity> <id>",
		Short: "Show one record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.read(func(_ *workspace, s *orm.Session) error {
				m, err := modelByID(s, args[0], args[1])
				if err != nil {
					return err
				}
				return a.printRecords(cmd.OutOrStdout(), m.ModelType().Entity().IDAttribute, []types.Ref{m.Ref()})
			})
		},
	}
}

type listFlags struct {
	filters  []string
	excludes []string
	orders   []string
	related  string
}

func newListCmd(a *app) *cobra.Command {
	var f listFlags
	cmd := &cobra.Command{
		Use:   "list <Entity> [id]",
		Short: "List records",
		Long: `List queries an entity's records. Filters and excludes are JSON objects of
field values and may be repeated; all of them apply in order. Orders are
field names with an optional ":desc" suffix.

With an id and --related, list the records behind a to-many accessor of that
record instead.

Example:
  pantry list Book --filter '{"authorId": 1}' --order year:desc --order title
  pantry list Author 1 --related books`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.read(func(_ *workspace, s *orm.Session) error {
				qs, err := buildQuerySet(s, args, f)
				if err != nil {
					return err
				}
				refs, err := qs.ToRefArray()
				if err != nil {
					return err
				}
				return a.printRecords(cmd.OutOrStdout(), qs.Model().Entity().IDAttribute, refs)
			})
		},
	}
	cmd.Flags().StringArrayVar(&f.filters, "filter", nil, "keep records matching a JSON object of field values")
	cmd.Flags().StringArrayVar(&f.excludes, "exclude", nil, "drop records matching a JSON object of field values")
	cmd.Flags().StringArrayVar(&f.orders, "order", nil, "sort by field, optionally field:desc")
	cmd.Flags().StringVar(&f.related, "related", "", "to-many accessor of the record given by id")
	return cmd
}

func buildQuerySet(s *orm.Session, args []string, f listFlags) (*orm.QuerySet, error) {
	var qs *orm.QuerySet
	switch {
	case len(args) == 2 && f.related != "":
		m, err := modelByID(s, args[0], args[1])
		if err != nil {
			return nil, err
		}
		if qs, err = m.QuerySet(f.related); err != nil {
			return nil, err
		}
	case len(args) == 2 || f.related != "":
		return nil, usageErrorf("an id and --related go together")
	default:
		mt, err := s.Model(args[0])
		if err != nil {
			return nil, err
		}
		qs = mt.All()
	}

	for _, arg := range f.filters {
		lookup, err := parseRef(arg)
		if err != nil {
			return nil, err
		}
		qs = qs.Filter(types.Lookup(lookup))
	}
	for _, arg := range f.excludes {
		lookup, err := parseRef(arg)
		if err != nil {
			return nil, err
		}
		qs = qs.Exclude(types.Lookup(lookup))
	}
	if len(f.orders) > 0 {
		fields := make([]any, len(f.orders))
		orders := make([]any, len(f.orders))
		for i, o := range f.orders {
			field, dir, _ := strings.Cut(o, ":")
			if dir == "" {
				dir = types.Asc
			}
			if dir != types.Asc && dir != types.Desc {
				return nil, usageErrorf("order %q: direction must be asc or desc", o)
			}
			fields[i], orders[i] = field, dir
		}
		qs = qs.OrderBy(fields, orders...)
	}
	return qs, nil
}

func newUpdateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "update <Entity> <id> <json>",
		Short: "Update a record",
		Long: `Update merges the JSON object into the record. A many-to-many field
replaces the whole related set.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			props, err := parseRef(args[2])
			if err != nil {
				return err
			}
			return a.mutate(func(s *orm.Session) error {
				m, err := modelByID(s, args[0], args[1])
				if err != nil {
					return err
				}
				if err := m.Update(props); err != nil {
					return err
				}
				return a.printRecords(cmd.OutOrStdout(), m.ModelType().Entity().IDAttribute, []types.Ref{m.Ref()})
			})
		},
	}
}

func newDeleteCmd(a *app) *cobra.Command {
	var where string
	cmd := &cobra.Command{
		Use:   "delete <Entity> [id]",
		Short: "Delete records",
		Long: `Delete removes the record with the given id, or every record matching
--where. Records referencing a deleted record keep their foreign keys.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (len(args) == 2) == (where != "") {
				return usageErrorf("give either an id or --where")
			}
			return a.mutate(func(s *orm.Session) error {
				mt, err := s.Model(args[0])
				if err != nil {
					return err
				}
				if len(args) == 2 {
					m, err := modelByID(s, args[0], args[1])
					if err != nil {
						return err
					}
					if err := m.Delete(); err != nil {
						return err
					}
					return a.printDone(cmd.OutOrStdout(), []any{m.GetID()}, "deleted %s %v", mt.Name(), m.GetID())
				}

				lookup, err := parseRef(where)
				if err != nil {
					return err
				}
				qs := mt.Filter(types.Lookup(lookup))
				ids, err := qs.IDs()
				if err != nil {
					return err
				}
				if err := qs.Delete(); err != nil {
					return err
				}
				return a.printDone(cmd.OutOrStdout(), ids, "deleted %d %s records", len(ids), mt.Name())
			})
		},
	}
	cmd.Flags().StringVar(&where, "where", "", "delete every record matching a JSON object of field values")
	return cmd
}

func newRelationCmd(a *app, verb string) *cobra.Command {
	short := "Relate records through a to-many accessor"
	if verb == "remove" {
		short = "Unrelate records from a to-many accessor"
	}
	return &cobra.Command{
		Use:   fmt.Sprintf("%s <Entity> <id> <accessor> <ids...>", verb),
		Short: short,
		Long: `The accessor is a many-to-many field, the reverse side of one, or the
reverse side of a foreign key. For a reverse foreign key the related records'
keys are pointed at the record, or cleared on remove.

Example:
  pantry ` + verb + ` Book 0 genres 1 2
  pantry ` + verb + ` Author 1 books 4`,
		Args: cobra.MinimumNArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.mutate(func(s *orm.Session) error {
				m, err := modelByID(s, args[0], args[1])
				if err != nil {
					return err
				}
				set, err := m.Many(args[2])
				if err != nil {
					return err
				}
				targets := make([]any, len(args)-3)
				for i, arg := range args[3:] {
					targets[i] = parseID(arg)
				}
				if verb == "remove" {
					err = set.Remove(targets...)
				} else {
					err = set.Add(targets...)
				}
				if err != nil {
					return err
				}
				ids, err := set.IDs()
				if err != nil {
					return err
				}
				return a.printDone(cmd.OutOrStdout(), ids, "%s %v %s: %d related", m.ModelType().Name(), m.GetID(), args[2], len(ids))
			})
		},
	}
}
