// Package export writes query results to object storage as Parquet.
package export

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/duckmesh/lakequery/internal/query"
)

type columnKind int

const (
	kindString columnKind = iota
	kindInt
	kindFloat
	kindBool
	kindTime
)

// EncodeParquet writes the result as a single Parquet file. Every column is
// optional; its physical type is inferred from the non-null values and falls
// back to string when they disagree.
func EncodeParquet(result query.Result) ([]byte, error) {
	if len(result.Schema) == 0 {
		return nil, fmt.Errorf("result has no columns")
	}

	names := uniqueColumnNames(result.Schema)
	kinds := make([]columnKind, len(names))
	group := parquet.Group{}
	for i, name := range names {
		kinds[i] = inferKind(result.Rows, i)
		group[name] = parquet.Optional(nodeFor(kinds[i]))
	}
	schema := parquet.NewSchema("result", group)

	// parquet.Group orders fields by name, so map result positions onto leaf indexes.
	leafIndex := make(map[string]int, len(names))
	for i, field := range schema.Fields() {
		leafIndex[field.Name()] = i
	}

	rows := make([]parquet.Row, 0, len(result.Rows))
	for rowNumber, values := range result.Rows {
		if len(values) != len(names) {
			return nil, fmt.Errorf("row %d has %d values, want %d", rowNumber, len(values), len(names))
		}
		row := make(parquet.Row, len(names))
		for i, value := range values {
			column := leafIndex[names[i]]
			if value == nil {
				row[column] = parquet.Value{}.Level(0, 0, column)
				continue
			}
			row[column] = valueFor(kinds[i], value).Level(0, 1, column)
		}
		rows = append(rows, row)
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewWriter(buf, schema)
	if _, err := writer.WriteRows(rows); err != nil {
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

func uniqueColumnNames(schema query.Schema) []string {
	names := make([]string, len(schema))
	used := make(map[string]bool, len(schema))
	for i, column := range schema {
		name := column.Name
		if name == "" {
			name = "column_" + strconv.Itoa(i+1)
		}
		candidate := name
		for n := 2; used[candidate]; n++ {
			candidate = name + "_" + strconv.Itoa(n)
		}
		used[candidate] = true
		names[i] = candidate
	}
	return names
}

func inferKind(rows [][]any, column int) columnKind {
	kind, seen := kindString, false
	for _, row := range rows {
		if column >= len(row) || row[column] == nil {
			continue
		}
		current := kindOf(row[column])
		if !seen {
			kind, seen = current, true
			continue
		}
		if current != kind {
			return kindString
		}
	}
	return kind
}

func kindOf(value any) columnKind {
	switch value.(type) {
	case int, int8, int16, int32, int64, uint8, uint16, uint32:
		return kindInt
	case float32, float64:
		return kindFloat
	case bool:
		return kindBool
	case time.Time:
		return kindTime
	default:
		return kindString
	}
}

func nodeFor(kind columnKind) parquet.Node {
	switch kind {
	case kindInt:
		return parquet.Int(64)
	case kindFloat:
		return parquet.Leaf(parquet.DoubleType)
	case kindBool:
		return parquet.Leaf(parquet.BooleanType)
	case kindTime:
		return parquet.Timestamp(parquet.Microsecond)
	default:
		return parquet.String()
	}
}

func valueFor(kind columnKind, value any) parquet.Value {
	switch kind {
	case kindInt:
		return parquet.Int64Value(toInt64(value))
	case kindFloat:
		switch typed := value.(type) {
		case float32:
			return parquet.DoubleValue(float64(typed))
		case float64:
			return parquet.DoubleValue(typed)
		}
	case kindBool:
		return parquet.BooleanValue(value.(bool))
	case kindTime:
		return parquet.Int64Value(value.(time.Time).UnixMicro())
	}
	return parquet.ByteArrayValue([]byte(toString(value)))
}

func toInt64(value any) int64 {
	switch typed := value.(type) {
	case int:
		return int64(typed)
	case int8:
		return int64(typed)
	case int16:
		return int64(typed)
	case int32:
		return int64(typed)
	case int64:
		return typed
	case uint8:
		return int64(typed)
	case uint16:
		return int64(typed)
	case uint32:
		return int64(typed)
	default:
		return 0
	}
}

func toString(value any) string {
	switch typed := value.(type) {
	case string:
		return typed
	case []byte:
		return string(typed)
	case fmt.Stringer:
		return typed.String()
	default:
		return fmt.Sprint(typed)
	}
}
