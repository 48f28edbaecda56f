// Package geometry computes along-traverse distance and splits uploaded
// measurements into train and predict row sets. All functions are pure:
// they read the in-memory row set and return new slices.
package geometry

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/gaiageo/gaia/internal/domain"
)

const (
	// earthRadiusMeters is the mean Earth radius used by the haversine formula.
	earthRadiusMeters = 6371000.0

	// stationProximityFraction drops a synthesized station when it lands
	// within this fraction of the spacing of a measured point.
	stationProximityFraction = 0.1
)

// Options selects the split behavior for one job.
type Options struct {
	Scenario         domain.Scenario
	XColumn          string
	YColumn          string
	ValueColumn      string
	StationSpacing   float64
	CoordinateSystem domain.CoordinateSystem
}

// point is one input row with parsed coordinates.
type point struct {
	x, y     float64
	value    *float64
	distance float64
}

// Split partitions the uploaded rows into a train set (rows carrying a
// measured value) and a predict set (target locations lacking one),
// attaching cumulative along-traverse distance to every row.
//
// In explicit mode the predict set is exactly the rows whose value cell is
// empty. In sparse mode target stations are synthesized at fixed arc-length
// intervals along the polyline through the measured points.
func Split(rows []domain.InputRow, opts Options) (train, predict []domain.Row, err error) {
	switch opts.Scenario {
	case domain.ScenarioExplicit:
		return splitExplicit(rows, opts)
	default:
		return splitSparse(rows, opts)
	}
}

// Haversine returns the great-circle distance in meters between two
// geographic points given as (lon, lat) degree pairs.
func Haversine(lon1, lat1, lon2, lat2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	deltaLat := (lat2 - lat1) * math.Pi / 180
	deltaLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*math.Sin(deltaLon/2)*math.Sin(deltaLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c
}

// Euclidean returns the planar distance between two points in input units.
func Euclidean(x1, y1, x2, y2 float64) float64 {
	return math.Hypot(x2-x1, y2-y1)
}

func stepDistance(cs domain.CoordinateSystem, x1, y1, x2, y2 float64) float64 {
	if cs == domain.CoordinateSystemGeographic {
		return Haversine(x1, y1, x2, y2)
	}
	return Euclidean(x1, y1, x2, y2)
}

// parsePoints converts raw input rows into coordinate points, dropping rows
// whose coordinate cells cannot be parsed. A non-empty but unparsable value
// cell also drops the row: it is neither a measurement nor a target.
func parsePoints(rows []domain.InputRow, opts Options) []point {
	points := make([]point, 0, len(rows))
	for _, row := range rows {
		x, okX := parseFloat(row[opts.XColumn])
		y, okY := parseFloat(row[opts.YColumn])
		if !okX || !okY {
			continue
		}
		p := point{x: x, y: y}
		raw := strings.TrimSpace(row[opts.ValueColumn])
		if raw != "" {
			v, ok := parseFloat(raw)
			if !ok {
				continue
			}
			p.value = &v
		}
		points = append(points, p)
	}
	return points
}

func parseFloat(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// attachDistances sets cumulative path length over points in input order.
func attachDistances(points []point, cs domain.CoordinateSystem) {
	total := 0.0
	for i := range points {
		if i > 0 {
			total += stepDistance(cs, points[i-1].x, points[i-1].y, points[i].x, points[i].y)
		}
		points[i].distance = total
	}
}

func splitExplicit(rows []domain.InputRow, opts Options) (train, predict []domain.Row, err error) {
	points := parsePoints(rows, opts)

	// Distance is computed over the full input order, measured and target
	// rows alike, so targets keep their position along the traverse.
	attachDistances(points, opts.CoordinateSystem)

	for _, p := range points {
		row := domain.Row{Distance: p.distance, X: p.x, Y: p.y, Value: p.value}
		if p.value != nil {
			train = append(train, row)
		} else {
			predict = append(predict, row)
		}
	}

	if len(train) == 0 {
		return nil, nil, &domain.InsufficientDataError{Reason: "no rows carry a measured value"}
	}
	return train, predict, nil
}

func splitSparse(rows []domain.InputRow, opts Options) (train, predict []domain.Row, err error) {
	points := parsePoints(rows, opts)

	// Sparse mode trains on measured rows only; the traverse path is the
	// polyline through them in input order.
	measured := points[:0:0]
	for _, p := range points {
		if p.value != nil {
			measured = append(measured, p)
		}
	}
	if len(measured) == 0 {
		return nil, nil, &domain.InsufficientDataError{Reason: "no rows carry a measured value"}
	}
	if countDistinct(measured) < 2 {
		return nil, nil, &domain.InsufficientDataError{Reason: "need at least 2 distinct measured points to define a traverse"}
	}

	attachDistances(measured, opts.CoordinateSystem)

	for _, p := range measured {
		train = append(train, domain.Row{Distance: p.distance, X: p.x, Y: p.y, Value: p.value})
	}

	minDist := measured[0].distance
	maxDist := measured[0].distance
	for _, p := range measured {
		if p.distance < minDist {
			minDist = p.distance
		}
		if p.distance > maxDist {
			maxDist = p.distance
		}
	}

	stations := generateStations(minDist, maxDist, opts.StationSpacing)
	stations = dropNearMeasured(stations, measured, opts.StationSpacing)

	sorted := make([]point, len(measured))
	copy(sorted, measured)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].distance < sorted[j].distance })

	for _, d := range stations {
		x, y := interpolateAt(sorted, d)
		predict = append(predict, domain.Row{Distance: d, X: x, Y: y})
	}

	return train, predict, nil
}

func countDistinct(points []point) int {
	seen := make(map[[2]float64]struct{}, len(points))
	for _, p := range points {
		seen[[2]float64{p.x, p.y}] = struct{}{}
	}
	return len(seen)
}

// generateStations returns evenly spaced distances covering [min, max].
func generateStations(minDist, maxDist, spacing float64) []float64 {
	var stations []float64
	// Tolerance keeps a station landing exactly on maxDist despite float
	// accumulation error.
	for d := minDist; d <= maxDist+spacing*1e-9; d += spacing {
		stations = append(stations, d)
	}
	return stations
}

// dropNearMeasured removes stations that coincide with a measured point,
// within 10% of the station spacing, to avoid duplicate predictions.
func dropNearMeasured(stations []float64, measured []point, spacing float64) []float64 {
	threshold := spacing * stationProximityFraction
	kept := stations[:0]
	for _, d := range stations {
		nearest := math.Inf(1)
		for _, p := range measured {
			if diff := math.Abs(p.distance - d); diff < nearest {
				nearest = diff
			}
		}
		if nearest > threshold {
			kept = append(kept, d)
		}
	}
	return kept
}

// interpolateAt linearly interpolates (x, y) at path distance d over
// measured points sorted by distance, clamping beyond the ends.
func interpolateAt(sorted []point, d float64) (float64, float64) {
	if d <= sorted[0].distance {
		return sorted[0].x, sorted[0].y
	}
	last := sorted[len(sorted)-1]
	if d >= last.distance {
		return last.x, last.y
	}
	i := sort.Search(len(sorted), func(i int) bool { return sorted[i].distance >= d })
	lo, hi := sorted[i-1], sorted[i]
	span := hi.distance - lo.distance
	if span == 0 {
		return lo.x, lo.y
	}
	t := (d - lo.distance) / span
	return lo.x + t*(hi.x-lo.x), lo.y + t*(hi.y-lo.y)
}
