package clima

import (
	"fmt"
	"time"

	"github.com/lox/hmomobility/internal/config"
)

const (
	sourceName = "Open-Meteo Archive API (Clima)"
	sourceURL  = "https://open-meteo.com/en/docs/archive-api"
)

// Documentation renders the source description saved next to the raw CSV.
func Documentation(req Request, downloadedAt time.Time) string {
	return fmt.Sprintf(`
# ===============================================
# DESCRIPCIÓN DE FUENTES DE DATOS - CLIMA HMO
# ===============================================

## Fuente 1: Datos Meteorológicos Históricos
- **Nombre de la Fuente:** %s
- **Enlace:** %s
- **Fecha de Descarga:** %s
- **Ubicación:** %s (Lat: %v, Lon: %v)
- **Rango de Fechas de los Datos:** %s a %s
- **Descripción de los Datos (Naturaleza):**
    Datos de reanálisis histórico del clima, a nivel horario. Proporcionan mediciones detalladas a nivel superficial.

- **Variables Descargadas:**
    - **temperature_2m:** Temperatura del aire a 2 metros (°C).
    - **precipitation:** Precipitación total (mm).
    - **weather_code (WMO):** Código que describe las condiciones del clima.
    - **is_day:** Indicador de día o noche.
    - **relative_humidity_2m:** Humedad relativa a 2 metros (%%).
    - **cloud_cover:** Porcentaje de cobertura de nubes (%%).
    - **wind_speed_10m:** Velocidad del viento a 10 metros (km/h).
    - **Frecuencia Temporal:** Horaria
    - **Formato de los Datos:** CSV
`, sourceName, sourceURL, downloadedAt.Format(time.DateTime), config.CityName,
		req.Latitude, req.Longitude, req.StartDate, req.EndDate)
}
