package server

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/harshithgowdakt/partdb/internal/engine"
	"github.com/harshithgowdakt/partdb/internal/types"
)

// OutputFormat specifies the result format.
type OutputFormat string

const (
	FormatTabSeparated OutputFormat = "TabSeparated"
	FormatJSON         OutputFormat = "JSON"
	FormatCSV          OutputFormat = "CSV"
)

// ParseFormat parses a format string (case-insensitive).
func ParseFormat(s string) OutputFormat {
	switch strings.ToLower(s) {
	case "json":
		return FormatJSON
	case "csv":
		return FormatCSV
	default:
		return FormatTabSeparated
	}
}

// ContentType returns the MIME type of a format.
func (f OutputFormat) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatCSV:
		return "text/csv"
	default:
		return "text/tab-separated-values"
	}
}

// FormatResult writes the rows of a result in the specified format.
func FormatResult(w io.Writer, res *engine.Result, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return formatJSON(w, res)
	case FormatCSV:
		return formatCSV(w, res)
	default:
		return formatTabSeparated(w, res)
	}
}

func formatTabSeparated(w io.Writer, res *engine.Result) error {
	if _, err := fmt.Fprintln(w, strings.Join(res.Columns, "\t")); err != nil {
		return err
	}
	for _, row := range res.Rows {
		vals := make([]string, len(row))
		for c, v := range row {
			vals[c] = escapeTSV(types.ValueToString(res.Types[c], v))
		}
		if _, err := fmt.Fprintln(w, strings.Join(vals, "\t")); err != nil {
			return err
		}
	}
	return nil
}

func formatCSV(w io.Writer, res *engine.Result) error {
	if _, err := fmt.Fprintln(w, strings.Join(quoteCSV(res.Columns), ",")); err != nil {
		return err
	}
	for _, row := range res.Rows {
		vals := make([]string, len(row))
		for c, v := range row {
			s := types.ValueToString(res.Types[c], v)
			if res.Types[c] == types.TypeString && v != nil {
				s = `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
			}
			vals[c] = s
		}
		if _, err := fmt.Fprintln(w, strings.Join(vals, ",")); err != nil {
			return err
		}
	}
	return nil
}

type resultJSON struct {
	Meta []columnJSON     `json:"meta"`
	Data []map[string]any `json:"data"`
	Rows int              `json:"rows"`
}

type columnJSON struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

func formatJSON(w io.Writer, res *engine.Result) error {
	out := resultJSON{Meta: []columnJSON{}, Data: []map[string]any{}, Rows: len(res.Rows)}
	for i, name := range res.Columns {
		out.Meta = append(out.Meta, columnJSON{Name: name, Type: res.Types[i].Name()})
	}
	for _, row := range res.Rows {
		m := make(map[string]any, len(row))
		for c, v := range row {
			if res.Types[c] == types.TypeDateTime && v != nil {
				v = types.ValueToString(types.TypeDateTime, v)
			}
			m[res.Columns[c]] = v
		}
		out.Data = append(out.Data, m)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

var tsvEscaper = strings.NewReplacer("\\", "\\\\", "\t", "\\t", "\n", "\\n")

func escapeTSV(s string) string { return tsvEscaper.Replace(s) }

func quoteCSV(vals []string) []string {
	result := make([]string, len(vals))
	for i, v := range vals {
		if strings.ContainsAny(v, ",\"\n") {
			result[i] = `"` + strings.ReplaceAll(v, `"`, `""`) + `"`
		} else {
			result[i] = v
		}
	}
	return result
}
