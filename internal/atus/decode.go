package atus

import (
	"fmt"
	"time"

	"github.com/lox/hmomobility/internal/table"
)

// Category labels from the ATUS data dictionary.
var (
	DiaSemana = map[int]string{
		1: "lunes", 2: "martes", 3: "miércoles", 4: "jueves",
		5: "viernes", 6: "sábado", 7: "domingo",
	}
	Urbana = map[int]string{
		0: "suburbana", 1: "intersección", 2: "no intersección",
	}
	Suburbana = map[int]string{
		0: "urbana", 1: "camino rural", 2: "carretera estatal", 3: "otro camino",
	}
	TipoAccidente = map[int]string{
		0:  "certificado cero",
		1:  "colisión con vehículo automotor",
		2:  "atropellamiento",
		3:  "colisión con animal",
		4:  "colisión con objeto fijo",
		5:  "volcadura",
		6:  "caída de pasajero",
		7:  "salida del camino",
		8:  "incendio",
		9:  "colisión con ferrocarril",
		10: "colisión con motocicleta",
		11: "colisión con ciclista",
		12: "otro",
	}
	CausaAccidente = map[int]string{
		1: "conductor", 2: "peatón/pasajero", 3: "falla del vehículo",
		4: "mala condición del camino", 5: "otra",
	}
	CapaRodamiento = map[int]string{1: "pavimentada", 2: "no pavimentada"}
	Sexo           = map[int]string{1: "se fugó", 2: "hombre", 3: "mujer"}
	Aliento        = map[int]string{4: "sí", 5: "no", 6: "se ignora"}
	Cinturon       = map[int]string{7: "sí", 8: "no", 9: "se ignora"}
	Clase          = map[int]string{1: "fatal", 2: "no fatal", 3: "solo daños"}
)

// Decoders maps each categorical column to its label table.
var Decoders = map[string]map[int]string{
	"diasemana": DiaSemana,
	"urbana":    Urbana,
	"suburbana": Suburbana,
	"tipaccid":  TipoAccidente,
	"causaacci": CausaAccidente,
	"caparod":   CapaRodamiento,
	"sexo":      Sexo,
	"aliento":   Aliento,
	"cinturon":  Cinturon,
	"clase":     Clase,
}

// Decode returns the label for a code, or "" for unknown or non-numeric values.
func Decode(labels map[int]string, value string) string {
	n, ok := code(value)
	if !ok {
		return ""
	}
	return labels[n]
}

// DecodeAll replaces the codes of every categorical column present in t.
func DecodeAll(t *table.Table) {
	for col, labels := range Decoders {
		t.Apply(col, func(v string) string { return Decode(labels, v) })
	}
}

// Datetime joins the date and time parts as "YYYY-MM-DD HH:MM:SS". Parts that
// do not form a valid time yield "".
func Datetime(anio, mes, dia, hora, minutos string) string {
	parts := []string{anio, mes, dia, hora, minutos}
	nums := make([]int, len(parts))
	for i, s := range parts {
		n, ok := code(s)
		if !ok {
			return ""
		}
		nums[i] = n
	}
	s := fmt.Sprintf("%d-%02d-%02d %02d:%02d", nums[0], nums[1], nums[2], nums[3], nums[4])
	ts, err := time.Parse("2006-01-02 15:04", s)
	if err != nil {
		return ""
	}
	return ts.Format(time.DateTime)
}
