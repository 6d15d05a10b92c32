package atus

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jonboulle/clockwork"

	"github.com/lox/hmomobility/internal/config"
	"github.com/lox/hmomobility/internal/logging"
	"github.com/lox/hmomobility/internal/table"
)

func TestURL(t *testing.T) {
	want := "https://www.inegi.org.mx/contenidos/programas/accidentes/datosabiertos/atus_2022_shp.zip"
	if got := URL(2022); got != want {
		t.Errorf("URL(2022) = %q, want %q", got, want)
	}
}

func TestDecodeTables(t *testing.T) {
	tests := []struct {
		column string
		codes  map[string]string
	}{
		{"diasemana", map[string]string{
			"1": "lunes", "2": "martes", "3": "miércoles", "4": "jueves",
			"5": "viernes", "6": "sábado", "7": "domingo", "0": "", "8": "",
		}},
		{"urbana", map[string]string{
			"0": "suburbana", "1": "intersección", "2": "no intersección", "3": "",
		}},
		{"suburbana", map[string]string{
			"0": "urbana", "1": "camino rural", "2": "carretera estatal", "3": "otro camino", "4": "",
		}},
		{"tipaccid", map[string]string{
			"0": "certificado cero", "1": "colisión con vehículo automotor", "2": "atropellamiento",
			"3": "colisión con animal", "4": "colisión con objeto fijo", "5": "volcadura",
			"6": "caída de pasajero", "7": "salida del camino", "8": "incendio",
			"9": "colisión con ferrocarril", "10": "colisión con motocicleta",
			"11": "colisión con ciclista", "12": "otro", "13": "",
		}},
		{"causaacci", map[string]string{
			"1": "conductor", "2": "peatón/pasajero", "3": "falla del vehículo",
			"4": "mala condición del camino", "5": "otra", "0": "",
		}},
		{"caparod", map[string]string{"1": "pavimentada", "2": "no pavimentada", "3": ""}},
		{"sexo", map[string]string{"1": "se fugó", "2": "hombre", "3": "mujer", "0": ""}},
		{"aliento", map[string]string{"4": "sí", "5": "no", "6": "se ignora", "1": ""}},
		{"cinturon", map[string]string{"7": "sí", "8": "no", "9": "se ignora", "1": ""}},
		{"clase", map[string]string{"1": "fatal", "2": "no fatal", "3": "solo daños", "4": ""}},
	}
	for _, tt := range tests {
		t.Run(tt.column, func(t *testing.T) {
			labels, ok := Decoders[tt.column]
			if !ok {
				t.Fatalf("no decoder for %s", tt.column)
			}
			for in, want := range tt.codes {
				if got := Decode(labels, in); got != want {
					t.Errorf("Decode(%s) = %q, want %q", in, got, want)
				}
			}
			if got := Decode(labels, "abc"); got != "" {
				t.Errorf("Decode(abc) = %q, want empty", got)
			}
			if got := Decode(labels, ""); got != "" {
				t.Errorf("Decode(\"\") = %q, want empty", got)
			}
		})
	}
}

func TestDecode_FloatCodes(t *testing.T) {
	if got := Decode(Clase, "2.0"); got != "no fatal" {
		t.Errorf("Decode(2.0) = %q, want no fatal", got)
	}
	if got := Decode(Clase, "2.5"); got != "" {
		t.Errorf("Decode(2.5) = %q, want empty", got)
	}
}

func TestDatetime(t *testing.T) {
	tests := []struct {
		parts [5]string
		want  string
	}{
		{[5]string{"2021", "1", "5", "7", "3"}, "2021-01-05 07:03:00"},
		{[5]string{"2023", "12", "31", "23", "59"}, "2023-12-31 23:59:00"},
		{[5]string{"2022", "2", "30", "10", "0"}, ""},
		{[5]string{"2022", "3", "1", "99", "0"}, ""},
		{[5]string{"2022", "", "1", "1", "0"}, ""},
	}
	for _, tt := range tests {
		p := tt.parts
		if got := Datetime(p[0], p[1], p[2], p[3], p[4]); got != tt.want {
			t.Errorf("Datetime(%v) = %q, want %q", p, got, tt.want)
		}
	}
}

func TestFilterHermosillo(t *testing.T) {
	tbl := &table.Table{
		Columns: []string{"EDO", "MPIO", "ANIO"},
		Rows: [][]string{
			{"26", "30", "2021"},
			{"26", "18", "2021"},
			{"25", "30", "2021"},
			{"26", "030", "2022"},
		},
	}
	if err := FilterHermosillo(tbl); err != nil {
		t.Fatalf("FilterHermosillo: %v", err)
	}
	if tbl.Len() != 2 {
		t.Errorf("Len = %d, want 2", tbl.Len())
	}

	dict := &table.Table{Columns: []string{"ID_EDO", "NOM_EDO"}}
	if err := FilterHermosillo(dict); err == nil {
		t.Error("expected error for table without EDO/MPIO")
	}
}

func TestCleanTable(t *testing.T) {
	tbl := &table.Table{
		Columns: []string{"EDO", "MPIO", "ANIO", "MES", "DIA", "HORA", "MINUTOS", "DIASEMANA", "CLASE", "ZONA"},
		Rows: [][]string{
			{"26", "30", "2021", "3", "4", "18", "5", "4", "3", "Zona URBANA"},
		},
	}
	CleanTable(tbl)

	row := tbl.Row(0)
	if tbl.Index("edo") >= 0 || tbl.Index("mpio") >= 0 {
		t.Errorf("edo/mpio not dropped: %v", tbl.Columns)
	}
	checks := map[string]string{
		"datetime":  "2021-03-04 18:05:00",
		"diasemana": "jueves",
		"clase":     "solo daños",
		"zona":      "zona urbana",
		"anio":      "2021",
	}
	for col, want := range checks {
		if got := row.Get(col); got != want {
			t.Errorf("%s = %q, want %q", col, got, want)
		}
	}
}

func latin1(s string) string {
	enc, err := table.Latin1.NewEncoder().String(s)
	if err != nil {
		panic(err)
	}
	return enc
}

func atusZip(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	files := map[string]string{
		"conjunto_de_datos/atus_anual_2021.csv": latin1(
			"EDO,MPIO,ANIO,MES,DIA,HORA,MINUTOS,DIASEMANA,URBANA,SUBURBANA,TIPACCID,CAUSAACCI,CAPAROD,SEXO,ALIENTO,CINTURON,CLASE,ESTATUS\n" +
				"26,30,2021,1,2,13,45,6,1,0,1,1,1,2,5,8,3,Cifras Definitivas\n" +
				"26,18,2021,1,2,13,45,6,1,0,1,1,1,2,5,8,3,Cifras Definitivas\n" +
				"26,30,2021,5,20,8,0,4,2,0,2,2,1,3,6,9,2,Cifras Definitivas\n"),
		"catalogos/tc_dia.csv": latin1("ID_DIA,DESCRIPCIÓN\n1,Lunes\n"),
	}
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		w.Write([]byte(content))
	}
	zw.Close()
	return buf.Bytes()
}

func newTestPipeline(t *testing.T) *Pipeline {
	t.Helper()
	paths := config.NewPaths(filepath.Join(t.TempDir(), "data"))
	if err := paths.Init(); err != nil {
		t.Fatal(err)
	}
	p := New(paths, nil, logging.Discard(), clockwork.NewFakeClock())
	p.Progress = nil
	return p
}

func TestPipeline_EndToEnd(t *testing.T) {
	body := atusZip(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "2022") {
			http.NotFound(w, r)
			return
		}
		w.Write(body)
	}))
	defer srv.Close()

	p := newTestPipeline(t)
	p.URLFor = func(year int) string {
		return fmt.Sprintf("%s/atus_%d_shp.zip", srv.URL, year)
	}

	zips, err := p.Download(context.Background(), []int{2021, 2022})
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if len(zips) != 1 {
		t.Fatalf("downloaded %v, want only the 2021 archive", zips)
	}

	interim, err := p.Extract(true)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(interim) != 1 || filepath.Base(interim[0]) != "atus_anual_2021_HMO.csv" {
		t.Fatalf("interim = %v", interim)
	}
	if _, err := os.Stat(p.RawDir()); !os.IsNotExist(err) {
		t.Error("raw directory should be removed")
	}

	out, err := p.Clean(nil)
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	got, err := table.ReadCSVFile(out, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got.Len() != 2 {
		t.Fatalf("clean rows = %d, want 2", got.Len())
	}
	first := got.Row(0)
	checks := map[string]string{
		"datetime":  "2021-01-02 13:45:00",
		"diasemana": "sábado",
		"urbana":    "intersección",
		"suburbana": "urbana",
		"tipaccid":  "colisión con vehículo automotor",
		"causaacci": "conductor",
		"caparod":   "pavimentada",
		"sexo":      "hombre",
		"aliento":   "no",
		"cinturon":  "no",
		"clase":     "solo daños",
		"estatus":   "cifras definitivas",
	}
	for col, want := range checks {
		if v := first.Get(col); v != want {
			t.Errorf("%s = %q, want %q", col, v, want)
		}
	}
}
