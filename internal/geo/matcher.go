package geo

import (
	"fmt"
	"math"
	"sort"

	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/models"
)

const EarthRadiusKm = 6371.0

// Haversine returns the great-circle distance between a and b in kilometres.
func Haversine(a, b models.Point) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

type Mode int

const (
	// Nearest keeps the K closest distinct station points (point networks).
	Nearest Mode = iota
	// Radius keeps every reading inside the distance cutoff (gridded models).
	Radius
)

func (m Mode) String() string {
	switch m {
	case Nearest:
		return "nearest"
	case Radius:
		return "radius"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

type Matcher struct {
	Mode          Mode
	MaxDistanceKm float64
	MaxNeighbors  int
}

func (m Matcher) String() string {
	if m.Mode == Nearest {
		return fmt.Sprintf("nearest(k=%d, %.1fkm)", m.MaxNeighbors, m.MaxDistanceKm)
	}
	return fmt.Sprintf("radius(%.1fkm)", m.MaxDistanceKm)
}

// Match reduces set to the readings relevant to target. An empty set yields
// an empty result.
func (m Matcher) Match(set models.ReadingSet, target models.Point) models.ReadingSet {
	if len(set) == 0 {
		return models.ReadingSet{}
	}
	switch m.Mode {
	case Nearest:
		return m.nearest(set, target)
	default:
		return m.radius(set, target)
	}
}

func (m Matcher) radius(set models.ReadingSet, target models.Point) models.ReadingSet {
	out := models.ReadingSet{}
	for _, r := range set {
		if Haversine(r.Point(), target) <= m.MaxDistanceKm {
			out = append(out, r)
		}
	}
	return out
}

type candidate struct {
	key  models.PointKey
	dist float64
}

func (m Matcher) nearest(set models.ReadingSet, target models.Point) models.ReadingSet {
	pts := set.Points()
	cands := make([]candidate, len(pts))
	for i, p := range pts {
		cands[i] = candidate{key: models.KeyOf(p), dist: Haversine(p, target)}
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].dist < cands[j].dist })

	if m.MaxNeighbors > 0 && len(cands) > m.MaxNeighbors {
		cands = cands[:m.MaxNeighbors]
	}

	keep := make(map[models.PointKey]bool, len(cands))
	for _, c := range cands {
		if c.dist <= m.MaxDistanceKm {
			keep[c.key] = true
		}
	}

	out := models.ReadingSet{}
	for _, r := range set {
		if keep[models.KeyOf(r.Point())] {
			out = append(out, r)
		}
	}
	return out
}
