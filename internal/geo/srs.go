package geo

import (
	"os"
	"strings"

	"github.com/twpayne/go-geom"
	"github.com/wroge/wgs84"
)

// Projection converts between geographic degrees and projected metres.
type Projection interface {
	Forward(lon, lat float64) (x, y float64)
	Inverse(x, y float64) (lon, lat float64)
}

// SRS is a spatial reference system as declared in gpkg_spatial_ref_sys.
// Proj is nil for geographic systems.
type SRS struct {
	ID           int
	Name         string
	Organization string
	OrgID        int
	Definition   string
	Proj         Projection
}

var WGS84 = &SRS{
	ID:           4326,
	Name:         "WGS 84 geodetic",
	Organization: "EPSG",
	OrgID:        4326,
	Definition: `GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563,AUTHORITY["EPSG","7030"]],` +
		`AUTHORITY["EPSG","6326"]],PRIMEM["Greenwich",0,AUTHORITY["EPSG","8901"]],` +
		`UNIT["degree",0.0174532925199433,AUTHORITY["EPSG","9122"]],AUTHORITY["EPSG","4326"]]`,
}

// INEGILCC is the projected CRS of INEGI's geostatistical framework.
// ITRF2008 is treated as coincident with WGS 84.
var INEGILCC = &SRS{
	ID:           900914,
	Name:         "ITRF2008 / LCC Mexico",
	Organization: "NONE",
	OrgID:        900914,
	Definition: `PROJCS["ITRF2008 / LCC Mexico",` +
		`GEOGCS["ITRF2008",DATUM["ITRF_2008",SPHEROID["GRS 1980",6378137,298.257222101]],` +
		`PRIMEM["Greenwich",0],UNIT["degree",0.0174532925199433]],` +
		`PROJECTION["Lambert_Conformal_Conic_2SP"],` +
		`PARAMETER["standard_parallel_1",17.5],` +
		`PARAMETER["standard_parallel_2",29.5],` +
		`PARAMETER["latitude_of_origin",12],` +
		`PARAMETER["central_meridian",-102],` +
		`PARAMETER["false_easting",2500000],` +
		`PARAMETER["false_northing",0],` +
		`UNIT["metre",1]]`,
	Proj: NewLCC(wgs84.GRS80{}, 17.5, 29.5, 12, -102, 2500000, 0),
}

// readPRJ guesses the SRS from the .prj next to a shapefile. Unknown or
// missing definitions return nil.
func readPRJ(shpPath string) *SRS {
	b, err := os.ReadFile(strings.TrimSuffix(shpPath, ".shp") + ".prj")
	if err != nil {
		b, err = os.ReadFile(strings.TrimSuffix(shpPath, ".SHP") + ".PRJ")
		if err != nil {
			return nil
		}
	}
	wkt := string(b)
	switch {
	case strings.Contains(wkt, "Lambert_Conformal_Conic"):
		return INEGILCC
	case strings.HasPrefix(strings.TrimSpace(wkt), "GEOGCS"):
		return WGS84
	}
	return nil
}

// transform copies g from one SRS to another. A nil SRS means coordinates are
// already in the target system.
func transform(g geom.T, from, to *SRS) (geom.T, error) {
	if g == nil {
		return nil, nil
	}
	c, err := cloneGeometry(g)
	if err != nil {
		return nil, err
	}
	if from == nil || to == nil || from.ID == to.ID {
		return c, nil
	}
	geom.TransformInPlace(c, func(coord geom.Coord) {
		lon, lat := coord[0], coord[1]
		if from.Proj != nil {
			lon, lat = from.Proj.Inverse(coord[0], coord[1])
		}
		x, y := lon, lat
		if to.Proj != nil {
			x, y = to.Proj.Forward(lon, lat)
		}
		coord[0], coord[1] = x, y
	})
	return c, nil
}
