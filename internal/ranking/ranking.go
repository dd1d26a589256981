// Package ranking orders a vendor set by great-circle distance to a pickup
// and filters out excluded vendors, following the teacher's offerpool
// Matcher (hostmgr/offer/offerpool/pool.go's ClaimForPlace) in spirit: a
// single pass over the candidate set producing an ordered, filtered
// result, with no hidden global state.
package ranking

import (
	"math"
	"sort"

	"github.com/kbdon7718-ui/ScrapCo-web-backend/internal/model"
)

// earthRadiusKm is the great-circle radius used throughout the ranking
// computation.
const earthRadiusKm = 6371.0

// Candidate is a ranked vendor, distance ascending.
type Candidate struct {
	Vendor     model.VendorBackend
	DistanceKm float64
}

// Rank orders vendors by haversine distance to (lat, lon), ascending and
// stable, with vendors missing either coordinate sorted to the end, then
// removes anything in exclude.
func Rank(lat, lon float64, vendors []model.VendorBackend, exclude map[string]bool) []Candidate {
	candidates := make([]Candidate, 0, len(vendors))
	for _, v := range vendors {
		if exclude[v.VendorRef] {
			continue
		}
		candidates = append(candidates, Candidate{
			Vendor:     v,
			DistanceKm: distanceOf(lat, lon, v),
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].DistanceKm < candidates[j].DistanceKm
	})

	return candidates
}

func distanceOf(lat, lon float64, v model.VendorBackend) float64 {
	if v.Latitude == nil || v.Longitude == nil {
		return math.Inf(1)
	}
	return Haversine(lat, lon, *v.Latitude, *v.Longitude)
}

// Haversine returns the great-circle distance in kilometers between two
// (lat, lon) points given in degrees.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := toRadians(lat1)
	phi2 := toRadians(lat2)
	deltaPhi := toRadians(lat2 - lat1)
	deltaLambda := toRadians(lon2 - lon1)

	a := math.Sin(deltaPhi/2)*math.Sin(deltaPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*
			math.Sin(deltaLambda/2)*math.Sin(deltaLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
