// Package table is a small string-typed data frame used by the CSV stages.
package table

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// Latin1 decodes ISO-8859-1 input, the encoding of INEGI open-data CSVs.
var Latin1 = charmap.ISO8859_1

// Table holds named columns and rows of string cells. Every row has
// len(Columns) cells.
type Table struct {
	Columns []string
	Rows    [][]string
}

// New returns an empty table with the given columns.
func New(columns ...string) *Table {
	return &Table{Columns: append([]string(nil), columns...)}
}

// ReadCSV parses a CSV with a header row. When enc is non-nil the input is
// decoded with it first.
func ReadCSV(r io.Reader, enc encoding.Encoding) (*Table, error) {
	if enc != nil {
		r = transform.NewReader(r, enc.NewDecoder())
	}
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err == io.EOF {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	t := New(header...)
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", len(t.Rows)+1, err)
		}
		t.Rows = append(t.Rows, fit(rec, len(header)))
	}
	return t, nil
}

// ReadCSVFile is ReadCSV on a file path.
func ReadCSVFile(path string, enc encoding.Encoding) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	t, err := ReadCSV(f, enc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return t, nil
}

func fit(rec []string, n int) []string {
	if len(rec) == n {
		return rec
	}
	out := make([]string, n)
	copy(out, rec)
	return out
}

// WriteCSV writes the header and rows as UTF-8 CSV.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return err
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return err
	}
	return cw.Error()
}

// WriteCSVFile writes the table to path, creating parent directories.
func (t *Table) WriteCSVFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := t.WriteCSV(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

func (t *Table) Len() int { return len(t.Rows) }

// Index returns the position of col, or -1.
func (t *Table) Index(col string) int {
	for i, c := range t.Columns {
		if c == col {
			return i
		}
	}
	return -1
}

// Has reports whether every named column is present.
func (t *Table) Has(cols ...string) bool {
	for _, c := range cols {
		if t.Index(c) < 0 {
			return false
		}
	}
	return true
}

// Row is a read-only view of one row.
type Row struct {
	t     *Table
	cells []string
}

// Get returns the cell for col, or "" when the column is absent.
func (r Row) Get(col string) string {
	if i := r.t.Index(col); i >= 0 {
		return r.cells[i]
	}
	return ""
}

// Row returns row i.
func (t *Table) Row(i int) Row { return Row{t: t, cells: t.Rows[i]} }

// Column returns a copy of the values in col.
func (t *Table) Column(col string) []string {
	i := t.Index(col)
	if i < 0 {
		return nil
	}
	out := make([]string, len(t.Rows))
	for r, row := range t.Rows {
		out[r] = row[i]
	}
	return out
}

// Concat stacks tables. Columns are the union in first-seen order; cells of
// columns a table lacks are left empty.
func Concat(tables ...*Table) *Table {
	out := New()
	for _, t := range tables {
		for _, c := range t.Columns {
			if out.Index(c) < 0 {
				out.Columns = append(out.Columns, c)
			}
		}
	}
	for _, t := range tables {
		pos := make([]int, len(t.Columns))
		for i, c := range t.Columns {
			pos[i] = out.Index(c)
		}
		for _, row := range t.Rows {
			nr := make([]string, len(out.Columns))
			for i, v := range row {
				nr[pos[i]] = v
			}
			out.Rows = append(out.Rows, nr)
		}
	}
	return out
}

// LowerColumns lower-cases every column name.
func (t *Table) LowerColumns() {
	for i, c := range t.Columns {
		t.Columns[i] = strings.ToLower(c)
	}
}

// LowerValues lower-cases every non-numeric cell.
func (t *Table) LowerValues() {
	for _, row := range t.Rows {
		for i, v := range row {
			if !IsNumber(v) {
				row[i] = strings.ToLower(v)
			}
		}
	}
}

// IsNumber reports whether s is a decimal number. Words ParseFloat accepts,
// such as "NaN" or "Inf", are text.
func IsNumber(s string) bool {
	s = strings.TrimSpace(s)
	d := strings.TrimLeft(s, "+-")
	if d == "" || (d[0] != '.' && (d[0] < '0' || d[0] > '9')) {
		return false
	}
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

// Drop removes the named columns; absent names are ignored.
func (t *Table) Drop(cols ...string) {
	drop := make(map[string]bool, len(cols))
	for _, c := range cols {
		drop[c] = true
	}
	var keep []int
	var names []string
	for i, c := range t.Columns {
		if !drop[c] {
			keep = append(keep, i)
			names = append(names, c)
		}
	}
	if len(keep) == len(t.Columns) {
		return
	}
	for r, row := range t.Rows {
		nr := make([]string, len(keep))
		for j, i := range keep {
			nr[j] = row[i]
		}
		t.Rows[r] = nr
	}
	t.Columns = names
}

// Rename renames columns by old→new; absent names are ignored.
func (t *Table) Rename(names map[string]string) {
	for i, c := range t.Columns {
		if n, ok := names[c]; ok {
			t.Columns[i] = n
		}
	}
}

// Apply replaces every cell of col with fn(cell).
func (t *Table) Apply(col string, fn func(string) string) {
	i := t.Index(col)
	if i < 0 {
		return
	}
	for _, row := range t.Rows {
		row[i] = fn(row[i])
	}
}

// Filter keeps the rows for which keep returns true.
func (t *Table) Filter(keep func(Row) bool) {
	rows := t.Rows[:0]
	for _, row := range t.Rows {
		if keep(Row{t: t, cells: row}) {
			rows = append(rows, row)
		}
	}
	t.Rows = rows
}

// AddColumn appends (or overwrites) col with values computed per row.
func (t *Table) AddColumn(col string, fn func(Row) string) {
	i := t.Index(col)
	if i < 0 {
		t.Columns = append(t.Columns, col)
		i = len(t.Columns) - 1
		for r, row := range t.Rows {
			t.Rows[r] = append(row, "")
		}
	}
	for _, row := range t.Rows {
		row[i] = fn(Row{t: t, cells: row})
	}
}
