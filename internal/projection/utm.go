package projection

import (
	"fmt"
	"math"
	"strconv"

	utm "github.com/im7mortal/UTM"
)

// UTM bands stop at 80°S and 84°N.
const (
	minBandLat = -80.0
	maxBandLat = 84.0
)

// UTM is a position in Universal Transverse Mercator coordinates, with
// metres truncated to whole numbers.
type UTM struct {
	Northing int64
	Easting  int64
	Zone     string // zone number and band letter, e.g. "30U"
}

// ToUTM projects a WGS84 latitude/longitude. The zone number honours the
// Norway and Svalbard exceptions. Polar positions have no UTM grid: they
// keep a zone with band letter "Z" and zero coordinates.
func ToUTM(lat, lon float64) (UTM, error) {
	if math.IsNaN(lat) || math.IsNaN(lon) || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return UTM{}, fmt.Errorf("coordinates out of range: %v, %v", lat, lon)
	}
	if lat < minBandLat || lat > maxBandLat {
		return UTM{Zone: strconv.Itoa(longitudeZone(lon)) + "Z"}, nil
	}

	easting, northing, zone, band, err := utm.FromLatLon(lat, lon, lat >= 0)
	if err != nil {
		return UTM{}, fmt.Errorf("project %v, %v: %w", lat, lon, err)
	}
	return UTM{
		Northing: int64(northing),
		Easting:  int64(easting),
		Zone:     strconv.Itoa(zone) + band,
	}, nil
}

// longitudeZone is the plain 6° zone number, 1 to 60.
func longitudeZone(lon float64) int {
	zone := int((lon+180)/6) + 1
	if zone > 60 {
		zone = 60
	}
	return zone
}
