package table

import (
	"bytes"
	"reflect"
	"strings"
	"testing"
)

func TestReadCSV_Latin1(t *testing.T) {
	// "Año,Dirección" followed by a row, encoded as ISO-8859-1.
	raw := []byte("A\xf1o,Direcci\xf3n\n2021,Bulevar Col\xf3n\n")

	tbl, err := ReadCSV(bytes.NewReader(raw), Latin1)
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if want := []string{"Año", "Dirección"}; !reflect.DeepEqual(tbl.Columns, want) {
		t.Errorf("Columns = %v, want %v", tbl.Columns, want)
	}
	if got := tbl.Row(0).Get("Dirección"); got != "Bulevar Colón" {
		t.Errorf("cell = %q, want %q", got, "Bulevar Colón")
	}
}

func TestReadCSV_PadsShortRows(t *testing.T) {
	tbl, err := ReadCSV(strings.NewReader("\ufeffa,b,c\n1,2\n"), nil)
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if tbl.Columns[0] != "a" {
		t.Errorf("BOM not stripped: %q", tbl.Columns[0])
	}
	if len(tbl.Rows[0]) != 3 || tbl.Rows[0][2] != "" {
		t.Errorf("row = %v, want 3 cells with empty tail", tbl.Rows[0])
	}
}

func TestWriteCSV(t *testing.T) {
	tbl := New("a", "b")
	tbl.Rows = [][]string{{"1", "x,y"}}
	var buf bytes.Buffer
	if err := tbl.WriteCSV(&buf); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	if got, want := buf.String(), "a,b\n1,\"x,y\"\n"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestConcat(t *testing.T) {
	a := &Table{Columns: []string{"x", "y"}, Rows: [][]string{{"1", "2"}}}
	b := &Table{Columns: []string{"y", "z"}, Rows: [][]string{{"3", "4"}}}

	got := Concat(a, b)
	if want := []string{"x", "y", "z"}; !reflect.DeepEqual(got.Columns, want) {
		t.Errorf("Columns = %v, want %v", got.Columns, want)
	}
	want := [][]string{{"1", "2", ""}, {"", "3", "4"}}
	if !reflect.DeepEqual(got.Rows, want) {
		t.Errorf("Rows = %v, want %v", got.Rows, want)
	}
}

func TestLowerAndRename_Idempotent(t *testing.T) {
	build := func() *Table {
		return &Table{
			Columns: []string{"EDO", "Colonia", "ID"},
			Rows:    [][]string{{"26", "Centro NORTE", "1.5"}},
		}
	}
	rename := map[string]string{"colonia": "nombre"}

	once := build()
	once.LowerColumns()
	once.LowerValues()
	once.Rename(rename)

	twice := build()
	for i := 0; i < 2; i++ {
		twice.LowerColumns()
		twice.LowerValues()
		twice.Rename(rename)
	}

	if !reflect.DeepEqual(once, twice) {
		t.Errorf("not idempotent: once=%+v twice=%+v", once, twice)
	}
	if want := []string{"edo", "nombre", "id"}; !reflect.DeepEqual(once.Columns, want) {
		t.Errorf("Columns = %v, want %v", once.Columns, want)
	}
	if once.Rows[0][1] != "centro norte" {
		t.Errorf("value = %q, want lower-case", once.Rows[0][1])
	}
}

func TestDrop(t *testing.T) {
	tbl := &Table{Columns: []string{"a", "b", "c"}, Rows: [][]string{{"1", "2", "3"}}}
	tbl.Drop("b", "missing")
	if want := []string{"a", "c"}; !reflect.DeepEqual(tbl.Columns, want) {
		t.Errorf("Columns = %v, want %v", tbl.Columns, want)
	}
	if want := []string{"1", "3"}; !reflect.DeepEqual(tbl.Rows[0], want) {
		t.Errorf("Row = %v, want %v", tbl.Rows[0], want)
	}
}

func TestFilterApplyAddColumn(t *testing.T) {
	tbl := &Table{
		Columns: []string{"edo", "mpio"},
		Rows:    [][]string{{"26", "30"}, {"26", "18"}, {"2", "30"}},
	}
	tbl.Filter(func(r Row) bool { return r.Get("edo") == "26" && r.Get("mpio") == "30" })
	if tbl.Len() != 1 {
		t.Fatalf("Len = %d, want 1", tbl.Len())
	}

	tbl.Apply("mpio", func(s string) string { return "0" + s })
	tbl.AddColumn("clave", func(r Row) string { return r.Get("edo") + r.Get("mpio") })
	if got := tbl.Row(0).Get("clave"); got != "26030" {
		t.Errorf("clave = %q, want 26030", got)
	}
	if got := tbl.Column("missing"); got != nil {
		t.Errorf("Column(missing) = %v, want nil", got)
	}
}

func TestLowerValues_NumberLikeWords(t *testing.T) {
	tbl := New("dia", "valor")
	tbl.Rows = [][]string{{"NaN", "12.5"}, {"Infinity", "-3"}}
	tbl.LowerValues()
	want := [][]string{{"nan", "12.5"}, {"infinity", "-3"}}
	if !reflect.DeepEqual(tbl.Rows, want) {
		t.Errorf("Rows = %v, want %v", tbl.Rows, want)
	}
}

func TestIsNumber(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"26", true},
		{"-110.97", true},
		{" 3 ", true},
		{"", false},
		{"Lunes", false},
		{".5", true},
		{"NaN", false},
		{"Inf", false},
		{"-infinity", false},
	}
	for _, tt := range tests {
		if got := IsNumber(tt.in); got != tt.want {
			t.Errorf("IsNumber(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
