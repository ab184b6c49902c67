package ingest

import (
	"math"

	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/models"
)

const (
	FlagConcentrationNegative = "concentration_negative"
	FlagConcentrationNaN      = "concentration_nan"
	FlagConcentrationUnlikely = "concentration_unlikely"
	FlagLatitudeInvalid       = "latitude_invalid"
	FlagLongitudeInvalid      = "longitude_invalid"
	FlagLeadNegative          = "lead_negative"
)

// maxPlausiblePM25 is well above the worst wildfire smoke hours recorded by
// US monitors.
const maxPlausiblePM25 = 2000.0

func ValidateReading(r models.Reading) []string {
	var flags []string

	switch {
	case math.IsNaN(r.PM25) || math.IsInf(r.PM25, 0):
		flags = append(flags, FlagConcentrationNaN)
	case r.PM25 < 0:
		flags = append(flags, FlagConcentrationNegative)
	case r.PM25 > maxPlausiblePM25:
		flags = append(flags, FlagConcentrationUnlikely)
	}

	if r.Latitude < -90 || r.Latitude > 90 || math.IsNaN(r.Latitude) {
		flags = append(flags, FlagLatitudeInvalid)
	}
	if r.Longitude < -180 || r.Longitude > 180 || math.IsNaN(r.Longitude) {
		flags = append(flags, FlagLongitudeInvalid)
	}
	if r.ValidTime < 0 {
		flags = append(flags, FlagLeadNegative)
	}

	return flags
}

// rejects reports whether any flag makes the reading unusable. Unlikely but
// well-formed values are kept.
func rejects(flags []string) bool {
	for _, f := range flags {
		if f != FlagConcentrationUnlikely {
			return true
		}
	}
	return false
}

// BBox is an inclusive latitude/longitude rectangle.
type BBox struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
}

// CONUS roughly bounds the contiguous United States.
var CONUS = BBox{MinLat: 24.396308, MaxLat: 49.384358, MinLon: -125.0, MaxLon: -66.93457}

func (b BBox) Contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}

// IsZero reports whether the box is unset, meaning no spatial filter.
func (b BBox) IsZero() bool {
	return b == BBox{}
}
