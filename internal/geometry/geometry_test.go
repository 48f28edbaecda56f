package geometry

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/gaiageo/gaia/internal/domain"
)

func makeRow(x, y float64, value string) domain.InputRow {
	return domain.InputRow{
		"easting":  fmt.Sprintf("%g", x),
		"northing": fmt.Sprintf("%g", y),
		"magnetic": value,
	}
}

func defaultOptions(scenario domain.Scenario) Options {
	return Options{
		Scenario:         scenario,
		XColumn:          "easting",
		YColumn:          "northing",
		ValueColumn:      "magnetic",
		StationSpacing:   10,
		CoordinateSystem: domain.CoordinateSystemProjected,
	}
}

// TestSplitExplicitPartition verifies that explicit mode partitions the
// input without overlap: every row lands in exactly one of the two sets.
func TestSplitExplicitPartition(t *testing.T) {
	var rows []domain.InputRow
	for i := 0; i < 20; i++ {
		value := fmt.Sprintf("%d.5", i)
		if i%4 == 3 { // 5 of 20 rows blank
			value = ""
		}
		rows = append(rows, makeRow(float64(i*10), 0, value))
	}

	train, predict, err := Split(rows, defaultOptions(domain.ScenarioExplicit))
	if err != nil {
		t.Fatalf("Split returned error: %v", err)
	}

	if len(train) != 15 {
		t.Errorf("train rows = %d, want 15", len(train))
	}
	if len(predict) != 5 {
		t.Errorf("predict rows = %d, want 5", len(predict))
	}
	if len(train)+len(predict) != len(rows) {
		t.Errorf("train+predict = %d, want %d", len(train)+len(predict), len(rows))
	}
	for _, r := range train {
		if r.Value == nil {
			t.Error("train row missing value")
		}
	}
	for _, r := range predict {
		if r.Value != nil {
			t.Error("predict row carries a value")
		}
	}
}

// TestSplitExplicitDistances verifies cumulative distance is computed over
// the full input order, targets included.
func TestSplitExplicitDistances(t *testing.T) {
	rows := []domain.InputRow{
		makeRow(0, 0, "1.0"),
		makeRow(10, 0, ""),
		makeRow(20, 0, "2.0"),
	}

	train, predict, err := Split(rows, defaultOptions(domain.ScenarioExplicit))
	if err != nil {
		t.Fatalf("Split returned error: %v", err)
	}
	if len(predict) != 1 {
		t.Fatalf("predict rows = %d, want 1", len(predict))
	}
	if predict[0].Distance != 10 {
		t.Errorf("target distance = %v, want 10", predict[0].Distance)
	}
	if train[1].Distance != 20 {
		t.Errorf("second train distance = %v, want 20", train[1].Distance)
	}
}

// TestSplitSparseTwoPointTraverse verifies station count and spacing for a
// straight two-point traverse: floor(L/s) stations, each exactly s apart.
func TestSplitSparseTwoPointTraverse(t *testing.T) {
	rows := []domain.InputRow{
		makeRow(0, 0, "100"),
		makeRow(95, 0, "200"),
	}

	train, predict, err := Split(rows, defaultOptions(domain.ScenarioSparse))
	if err != nil {
		t.Fatalf("Split returned error: %v", err)
	}
	if len(train) != 2 {
		t.Fatalf("train rows = %d, want 2", len(train))
	}

	want := int(math.Floor(95.0 / 10.0))
	if len(predict) != want {
		t.Fatalf("predict rows = %d, want %d", len(predict), want)
	}
	for i, r := range predict {
		wantDist := float64((i + 1) * 10)
		if math.Abs(r.Distance-wantDist) > 1e-9 {
			t.Errorf("station %d distance = %v, want %v", i, r.Distance, wantDist)
		}
		if i > 0 {
			gap := r.Distance - predict[i-1].Distance
			if math.Abs(gap-10) > 1e-9 {
				t.Errorf("station gap = %v, want 10", gap)
			}
		}
	}
}

// TestSplitSparseSurveyLine runs the reference traverse: ten measured
// points from (0,0) to (90,0), spacing 10. Stations that coincide with the
// measured endpoints are excluded, leaving eight interior targets.
func TestSplitSparseSurveyLine(t *testing.T) {
	xs := []float64{0, 5, 15, 25, 35, 45, 55, 65, 75, 90}
	var rows []domain.InputRow
	for i, x := range xs {
		rows = append(rows, makeRow(x, 0, fmt.Sprintf("%d", 100+i)))
	}

	train, predict, err := Split(rows, defaultOptions(domain.ScenarioSparse))
	if err != nil {
		t.Fatalf("Split returned error: %v", err)
	}
	if len(train) != 10 {
		t.Errorf("train rows = %d, want 10", len(train))
	}
	if len(predict) != 8 {
		t.Fatalf("predict rows = %d, want 8", len(predict))
	}
	for i, r := range predict {
		wantX := float64((i + 1) * 10)
		if math.Abs(r.X-wantX) > 1e-9 {
			t.Errorf("station %d x = %v, want %v", i, r.X, wantX)
		}
		if r.Y != 0 {
			t.Errorf("station %d y = %v, want 0", i, r.Y)
		}
	}
}

// TestSplitSparseInterpolatesCoordinates verifies that station coordinates
// follow the polyline, not just the straight line between endpoints.
func TestSplitSparseInterpolatesCoordinates(t *testing.T) {
	// Right-angle traverse: east 20, then north 20.
	rows := []domain.InputRow{
		makeRow(0, 0, "1"),
		makeRow(20, 0, "2"),
		makeRow(20, 20, "3"),
	}
	opts := defaultOptions(domain.ScenarioSparse)
	opts.StationSpacing = 8

	_, predict, err := Split(rows, opts)
	if err != nil {
		t.Fatalf("Split returned error: %v", err)
	}

	for _, r := range predict {
		if r.Distance <= 20 {
			if math.Abs(r.X-r.Distance) > 1e-9 || r.Y != 0 {
				t.Errorf("station at d=%v: got (%v, %v), want (%v, 0)", r.Distance, r.X, r.Y, r.Distance)
			}
		} else {
			wantY := r.Distance - 20
			if math.Abs(r.X-20) > 1e-9 || math.Abs(r.Y-wantY) > 1e-9 {
				t.Errorf("station at d=%v: got (%v, %v), want (20, %v)", r.Distance, r.X, r.Y, wantY)
			}
		}
	}
}

func TestSplitInsufficientData(t *testing.T) {
	testCases := []struct {
		name     string
		rows     []domain.InputRow
		scenario domain.Scenario
	}{
		{
			name: "no measured values explicit",
			rows: []domain.InputRow{
				makeRow(0, 0, ""),
				makeRow(10, 0, ""),
			},
			scenario: domain.ScenarioExplicit,
		},
		{
			name: "no measured values sparse",
			rows: []domain.InputRow{
				makeRow(0, 0, ""),
				makeRow(10, 0, ""),
			},
			scenario: domain.ScenarioSparse,
		},
		{
			name: "single distinct point sparse",
			rows: []domain.InputRow{
				makeRow(5, 5, "1.0"),
				makeRow(5, 5, "2.0"),
			},
			scenario: domain.ScenarioSparse,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := Split(tc.rows, defaultOptions(tc.scenario))
			var dataErr *domain.InsufficientDataError
			if !errors.As(err, &dataErr) {
				t.Fatalf("got err %v, want InsufficientDataError", err)
			}
		})
	}
}

// TestHaversine checks the geographic distance approximation against a
// known value: one degree of longitude at the equator.
func TestHaversine(t *testing.T) {
	d := Haversine(0, 0, 1, 0)
	want := 2 * math.Pi * earthRadiusMeters / 360
	if math.Abs(d-want) > 1 {
		t.Errorf("haversine(1 deg lon at equator) = %v, want ~%v", d, want)
	}

	if Haversine(30, 10, 30, 10) != 0 {
		t.Error("haversine of identical points should be 0")
	}
}

func TestSplitGeographicUsesHaversine(t *testing.T) {
	rows := []domain.InputRow{
		makeRow(0, 0, "1"),
		makeRow(1, 0, "2"),
	}
	opts := defaultOptions(domain.ScenarioExplicit)
	opts.CoordinateSystem = domain.CoordinateSystemGeographic

	train, _, err := Split(rows, opts)
	if err != nil {
		t.Fatalf("Split returned error: %v", err)
	}
	want := Haversine(0, 0, 1, 0)
	if math.Abs(train[1].Distance-want) > 1e-6 {
		t.Errorf("geographic distance = %v, want %v", train[1].Distance, want)
	}
}
