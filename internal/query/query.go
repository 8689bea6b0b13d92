package query

import (
	"fmt"
	"io"
	"strings"
	"time"
)

type Format string

const (
	FormatDelta   Format = "delta"
	FormatParquet Format = "parquet"
)

func ParseFormat(raw string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(raw))) {
	case "", FormatDelta:
		return FormatDelta, nil
	case FormatParquet:
		return FormatParquet, nil
	default:
		return "", fmt.Errorf("unsupported table format %q", raw)
	}
}

type Column struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

type Schema []Column

func (s Schema) Names() []string {
	names := make([]string, 0, len(s))
	for _, column := range s {
		names = append(names, column.Name)
	}
	return names
}

// Print writes the schema as an indented tree.
func (s Schema) Print(w io.Writer) error {
	if _, err := fmt.Fprintln(w, "root"); err != nil {
		return err
	}
	for _, column := range s {
		if _, err := fmt.Fprintf(w, " |-- %s: %s (nullable = %t)\n", column.Name, column.Type, column.Nullable); err != nil {
			return err
		}
	}
	return nil
}

func (s Schema) String() string {
	var b strings.Builder
	_ = s.Print(&b)
	return b.String()
}

// Dataset is a table loaded by an engine session but not yet registered.
type Dataset struct {
	Path     string
	Source   string
	RowCount int64
	Schema   Schema
}

type Request struct {
	SQL      string
	RowLimit int
}

type Result struct {
	Schema   Schema
	Rows     [][]any
	Duration time.Duration
}

func (r Result) RowCount() int {
	return len(r.Rows)
}

func (r Result) Columns() []string {
	return r.Schema.Names()
}
