package clima

import (
	"sort"
	"strconv"
	"strings"

	"github.com/lox/hmomobility/internal/table"
)

const (
	FlagTempOutOfRange     = "temp_out_of_range"
	FlagHumidityInvalid    = "humidity_invalid"
	FlagCloudCoverInvalid  = "cloud_cover_invalid"
	FlagWindSpeedUnlikely  = "wind_speed_unlikely"
	FlagPrecipNegative     = "precip_negative"
	FlagWeatherCodeUnknown = "weather_code_unknown"
	FlagIsDayInvalid       = "is_day_invalid"
)

// HourlyValues is one cleaned hour. Nil fields are missing values.
type HourlyValues struct {
	Temperature   *float64
	Precipitation *float64
	WeatherCode   *float64
	IsDay         *float64
	Humidity      *float64
	CloudCover    *float64
	WindSpeed     *float64
}

// ValidateHour returns the quality flags raised by an hour of data. Bounds
// are generous for Hermosillo's desert climate.
func ValidateHour(h HourlyValues) []string {
	var flags []string

	if h.Temperature != nil {
		if *h.Temperature < -10 || *h.Temperature > 55 {
			flags = append(flags, FlagTempOutOfRange)
		}
	}

	if h.Humidity != nil {
		if *h.Humidity < 0 || *h.Humidity > 100 {
			flags = append(flags, FlagHumidityInvalid)
		}
	}

	if h.CloudCover != nil {
		if *h.CloudCover < 0 || *h.CloudCover > 100 {
			flags = append(flags, FlagCloudCoverInvalid)
		}
	}

	if h.WindSpeed != nil {
		if *h.WindSpeed < 0 || *h.WindSpeed > 200 {
			flags = append(flags, FlagWindSpeedUnlikely)
		}
	}

	if h.Precipitation != nil && *h.Precipitation < 0 {
		flags = append(flags, FlagPrecipNegative)
	}

	// WMO 4677 codes run 0-99.
	if h.WeatherCode != nil {
		if c := *h.WeatherCode; c < 0 || c > 99 || c != float64(int(c)) {
			flags = append(flags, FlagWeatherCodeUnknown)
		}
	}

	if h.IsDay != nil && *h.IsDay != 0 && *h.IsDay != 1 {
		flags = append(flags, FlagIsDayInvalid)
	}

	return flags
}

// hourFromRow reads a cleaned table row. Unparseable cells count as missing.
func hourFromRow(r table.Row) HourlyValues {
	return HourlyValues{
		Temperature:   cell(r, "temperatura"),
		Precipitation: cell(r, "precipitacion"),
		WeatherCode:   cell(r, "codigo_clima"),
		IsDay:         cell(r, "es_de_dia"),
		Humidity:      cell(r, "humedad"),
		CloudCover:    cell(r, "nubosidad"),
		WindSpeed:     cell(r, "velocidad_viento"),
	}
}

func cell(r table.Row, col string) *float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(r.Get(col)), 64)
	if err != nil {
		return nil
	}
	return &v
}

// QualityReport counts flags over a cleaned table.
func QualityReport(t *table.Table) map[string]int {
	counts := make(map[string]int)
	for i := range t.Rows {
		for _, f := range ValidateHour(hourFromRow(t.Row(i))) {
			counts[f]++
		}
	}
	return counts
}

// flagNames returns the flags of a report in a stable order for logging.
func flagNames(report map[string]int) []string {
	names := make([]string, 0, len(report))
	for f := range report {
		names = append(names, f)
	}
	sort.Strings(names)
	return names
}
