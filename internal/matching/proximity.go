package matching

import (
	"sort"

	"github.com/example/cash-exchange/internal/geo"
	"github.com/example/cash-exchange/internal/models"
)

// Nearby filters candidates down to pending requests within radiusKm of ref,
// annotated with their distance and ordered nearest-first. The sort is stable
// so candidates at equal distance keep their input order. excludeOwner, when
// non-empty, drops that user's own requests.
//
// A sentinel or out-of-range reference is rejected before any computation.
// An empty result is not an error.
func Nearby(ref models.Coord, radiusKm float64, candidates []models.ExchangeRequest, excludeOwner string) ([]models.NearbyRequest, error) {
	if ref.IsUnset() || !ref.InRange() {
		return nil, ErrInvalidLocation
	}
	out := make([]models.NearbyRequest, 0, len(candidates))
	for _, req := range candidates {
		if req.Status != models.StatusPending {
			continue
		}
		if excludeOwner != "" && req.UserID == excludeOwner {
			continue
		}
		d := geo.DistanceKm(ref, req.Loc)
		if d <= radiusKm {
			out = append(out, models.NearbyRequest{ExchangeRequest: req, DistanceKm: d})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	return out, nil
}
