package dataset

import (
	"bytes"
	stdcsv "encoding/csv"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/csv"
)

// KLPrefix marks Kellgren-Lawrence grade columns
const KLPrefix = "KL_"

// KLRow holds the grades of one subject; missing grades are NaN
type KLRow struct {
	ID     int       `json:"id"`
	Grades []float64 `json:"grades"`
}

// KLTable is the clinical reference table, one row per subject
type KLTable struct {
	Columns []string `json:"columns"`
	Rows    []KLRow  `json:"rows"`
}

// LoadKLTable reads the ID column and every KL_* column of a CSV file.
// Other columns are read as text and dropped.
func LoadKLTable(path string) (*KLTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("KL table %s: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read KL table: %w", err)
	}

	header, err := stdcsv.NewReader(bytes.NewReader(data)).Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read KL table header: %w", err)
	}

	fields := make([]arrow.Field, len(header))
	idCol := -1
	var klCols []int
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		switch {
		case name == "ID":
			idCol = i
			fields[i] = arrow.Field{Name: name, Type: arrow.PrimitiveTypes.Int64}
		case strings.HasPrefix(name, KLPrefix):
			klCols = append(klCols, i)
			fields[i] = arrow.Field{Name: name, Type: arrow.PrimitiveTypes.Float64, Nullable: true}
		default:
			fields[i] = arrow.Field{Name: name, Type: arrow.BinaryTypes.String, Nullable: true}
		}
	}
	if idCol < 0 {
		return nil, fmt.Errorf("KL table %s has no ID column", path)
	}

	schema := arrow.NewSchema(fields, nil)
	r := csv.NewReader(bytes.NewReader(data), schema,
		csv.WithHeader(true),
		csv.WithChunk(1024),
		csv.WithNullReader(true, "", "NA", "N/A"),
	)
	defer r.Release()

	table := &KLTable{}
	for _, c := range klCols {
		table.Columns = append(table.Columns, fields[c].Name)
	}

	for r.Next() {
		rec := r.Record()
		ids, ok := rec.Column(idCol).(*array.Int64)
		if !ok {
			return nil, fmt.Errorf("KL table ID column has type %s", rec.Column(idCol).DataType())
		}
		for row := 0; row < int(rec.NumRows()); row++ {
			if ids.IsNull(row) {
				continue
			}
			grades := make([]float64, len(klCols))
			for j, c := range klCols {
				col := rec.Column(c).(*array.Float64)
				if col.IsNull(row) {
					grades[j] = math.NaN()
				} else {
					grades[j] = col.Value(row)
				}
			}
			table.Rows = append(table.Rows, KLRow{ID: int(ids.Value(row)), Grades: grades})
		}
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("failed to parse KL table %s: %w", path, err)
	}

	return table, nil
}

// Filter keeps the rows whose ID is in ids, dropping exact duplicate rows
func (t *KLTable) Filter(ids []int) *KLTable {
	keep := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		keep[id] = struct{}{}
	}

	out := &KLTable{Columns: t.Columns}
	seen := make(map[string]struct{})
	for _, row := range t.Rows {
		if _, ok := keep[row.ID]; !ok {
			continue
		}
		key := fmt.Sprint(row.ID, row.Grades)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out.Rows = append(out.Rows, row)
	}
	return out
}

// IDs returns the distinct subject IDs in row order
func (t *KLTable) IDs() []int {
	seen := make(map[int]struct{})
	var ids []int
	for _, row := range t.Rows {
		if _, ok := seen[row.ID]; ok {
			continue
		}
		seen[row.ID] = struct{}{}
		ids = append(ids, row.ID)
	}
	return ids
}

// Row returns the first row of a subject
func (t *KLTable) Row(id int) (KLRow, bool) {
	for _, row := range t.Rows {
		if row.ID == id {
			return row, true
		}
	}
	return KLRow{}, false
}
