package geo

import "github.com/wroge/wgs84"

// LCC is a Lambert Conformal Conic projection with two standard parallels on
// an ellipsoid (EPSG method 9802). No datum shift is applied.
type LCC struct {
	proj     wgs84.Projection
	spheroid wgs84.Spheroid
}

// NewLCC builds the projection. Angles are in degrees.
func NewLCC(spheroid wgs84.Spheroid, lat1, lat2, lat0, lon0, falseEasting, falseNorthing float64) *LCC {
	crs := wgs84.Datum{Spheroid: spheroid}.LambertConformalConic2SP(lon0, lat0, lat1, lat2, falseEasting, falseNorthing)
	return &LCC{proj: crs.Projection, spheroid: spheroid}
}

func (p *LCC) Forward(lon, lat float64) (x, y float64) {
	return p.proj.FromLonLat(lon, lat, p.spheroid)
}

func (p *LCC) Inverse(x, y float64) (lon, lat float64) {
	return p.proj.ToLonLat(x, y, p.spheroid)
}
