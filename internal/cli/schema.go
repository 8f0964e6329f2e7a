package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/pantry/pkg/orm"
	"github.com/mesh-intelligence/pantry/pkg/schema"
)

type entityInfo struct {
	Name      string            `json:"name"`
	ID        string            `json:"idAttribute"`
	Policy    string            `json:"idPolicy"`
	Derived   bool              `json:"derived,omitempty"`
	Fields    map[string]string `json:"fields"`
	Accessors map[string]string `json:"accessors"`
}

func newSchemaCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Show the registered entities",
		Long: `Schema lists every registered entity with its fields and accessors,
including the through entities derived for many-to-many fields.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.read(func(w *workspace, _ *orm.Session) error {
				infos := describeEntities(w.orm.Registry())
				if a.jsonMode {
					return printJSON(cmd.OutOrStdout(), infos)
				}
				rows := make([][]string, len(infos))
				for i, e := range infos {
					name := e.Name
					if e.Derived {
						name += mutedStyle.Render(" (through)")
					}
					rows[i] = []string{name, e.ID, e.Policy, joinPairs(e.Fields), joinPairs(e.Accessors)}
				}
				return printTable(cmd.OutOrStdout(), []string{"entity", "id", "policy", "fields", "accessors"}, rows)
			})
		},
	}
}

func describeEntities(reg *schema.Registry) []entityInfo {
	var infos []entityInfo
	for _, e := range reg.Entities() {
		info := entityInfo{
			Name:      e.Name,
			ID:        e.IDAttribute,
			Policy:    string(e.IDPolicy),
			Derived:   e.Derived(),
			Fields:    map[string]string{},
			Accessors: map[string]string{},
		}
		for _, name := range e.FieldNames() {
			f, _ := e.Field(name)
			desc := string(f.Kind())
			if rel, ok := e.Relation(name); ok {
				desc += " -> " + rel.To
			}
			info.Fields[name] = desc
		}
		for _, name := range e.AccessorNames() {
			acc, _ := e.Accessor(name)
			info.Accessors[name] = fmt.Sprintf("%s %s", acc.Kind, acc.Target)
		}
		infos = append(infos, info)
	}
	return infos
}

// joinPairs renders a map as "k: v" lines in key order.
func joinPairs(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, len(keys))
	for i, k := range keys {
		lines[i] = k + ": " + m[k]
	}
	return strings.Join(lines, "\n")
}
