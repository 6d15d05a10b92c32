package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Hermosillo geostatistical keys and location.
const (
	StateKey        = 26 // Sonora
	MunicipalityKey = 30 // Hermosillo
	UrbanLocality   = 1  // Hermosillo (cabecera)

	Latitude  = 29.1026
	Longitude = -110.9773

	CityName  = "Hermosillo"
	PlaceName = "Hermosillo, Sonora, México"
)

// Urban bounding box of Hermosillo (x = longitude, y = latitude).
const (
	UrbanMinX = -111.075
	UrbanMaxX = -110.900
	UrbanMinY = 28.000
	UrbanMaxY = 29.250
)

// Paths holds the data directory layout shared by every stage.
type Paths struct {
	Root      string
	Raw       string
	Interim   string
	Processed string
}

// NewPaths derives the raw/interim/processed layout under root.
func NewPaths(root string) Paths {
	return Paths{
		Root:      root,
		Raw:       filepath.Join(root, "raw"),
		Interim:   filepath.Join(root, "interim"),
		Processed: filepath.Join(root, "processed"),
	}
}

// Init creates every directory of the layout.
func (p Paths) Init() error {
	for _, dir := range []string{p.Root, p.Raw, p.Interim, p.Processed} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// Dir returns a directory under base, creating it if needed.
func (p Paths) Dir(base string, elem ...string) (string, error) {
	dir := filepath.Join(append([]string{base}, elem...)...)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	return dir, nil
}

// Rel renders path relative to the parent of the data directory, for logs.
func (p Paths) Rel(path string) string {
	base := filepath.Dir(filepath.Clean(p.Root))
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return path
	}
	return rel
}
