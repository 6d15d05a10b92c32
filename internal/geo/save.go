package geo

import (
	"fmt"
	"path/filepath"
	"strings"
)

// SaveLayer writes <dir>/<stem>.gpkg in the layer's own SRS and
// <dir>/<stem>.geojson in WGS 84.
func SaveLayer(layer *Layer, dir, stem string) (gpkgPath, geojsonPath string, err error) {
	named := *layer
	named.Name = stem

	gpkgPath = filepath.Join(dir, stem+".gpkg")
	if err := WriteGeoPackage(gpkgPath, &named); err != nil {
		return "", "", err
	}
	geojsonPath = filepath.Join(dir, stem+".geojson")
	if err := WriteGeoJSON(geojsonPath, &named); err != nil {
		return "", "", fmt.Errorf("write %s: %w", filepath.Base(geojsonPath), err)
	}
	return gpkgPath, geojsonPath, nil
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
