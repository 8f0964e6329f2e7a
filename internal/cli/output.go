package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/mesh-intelligence/pantry/pkg/types"
)

var (
	accentColor = lipgloss.AdaptiveColor{Light: "#5A56E0", Dark: "#7C79FF"}
	mutedColor  = lipgloss.AdaptiveColor{Light: "#9B9B9B", Dark: "#5C5C5C"}
	okColor     = lipgloss.AdaptiveColor{Light: "#02BA84", Dark: "#02D98E"}
	errColor    = lipgloss.AdaptiveColor{Light: "#FF5F56", Dark: "#FF6B6B"}

	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(accentColor).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	mutedStyle  = lipgloss.NewStyle().Foreground(mutedColor)
	okStyle     = lipgloss.NewStyle().Foreground(okColor)
	errorStyle  = lipgloss.NewStyle().Bold(true).Foreground(errColor)
)

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// printTable renders rows under headers.
func printTable(w io.Writer, headers []string, rows [][]string) error {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(mutedStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...).
		Rows(rows...)
	_, err := fmt.Fprintln(w, t.String())
	return err
}

// printRecords writes records as JSON or as a table with idAttr first and
// the remaining fields in name order.
func (a *app) printRecords(w io.Writer, idAttr string, records []types.Ref) error {
	if a.jsonMode {
		if records == nil {
			records = []types.Ref{}
		}
		return printJSON(w, records)
	}
	if len(records) == 0 {
		_, err := fmt.Fprintln(w, mutedStyle.Render("no records"))
		return err
	}
	cols := recordColumns(idAttr, records)
	rows := make([][]string, len(records))
	for i, r := range records {
		row := make([]string, len(cols))
		for j, c := range cols {
			row[j] = cell(r[c])
		}
		rows[i] = row
	}
	return printTable(w, cols, rows)
}

// printDone writes a one-line confirmation in table mode, or v in JSON mode.
func (a *app) printDone(w io.Writer, v any, format string, args ...any) error {
	if a.jsonMode {
		return printJSON(w, v)
	}
	_, err := fmt.Fprintln(w, okStyle.Render(fmt.Sprintf(format, args...)))
	return err
}

func recordColumns(idAttr string, records []types.Ref) []string {
	seen := map[string]bool{idAttr: true}
	var rest []string
	for _, r := range records {
		for k := range r {
			if !seen[k] {
				seen[k] = true
				rest = append(rest, k)
			}
		}
	}
	sort.Strings(rest)
	return append([]string{idAttr}, rest...)
}

// cell renders one value for a table cell. Strings print bare, nil prints
// empty, everything else as JSON.
func cell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
