// Package merge combines measured rows with the model's predicted values
// into the final ordered output.
package merge

import (
	"fmt"
	"math"
	"sort"

	"github.com/gaiageo/gaia/internal/domain"
)

const (
	// baseUncertainty is the floor for predicted-value uncertainty.
	baseUncertainty = 1.0
	// distanceFactor grows uncertainty per unit of distance to the
	// nearest measured point.
	distanceFactor = 0.1
)

// Summary reports the composition of a merged result.
type Summary struct {
	MeasuredCount  int `json:"measured_count"`
	PredictedCount int `json:"predicted_count"`
	TotalRows      int `json:"total_rows"`
}

// Merge tags the train rows as measured and the predict rows as predicted
// (attaching the returned values), sorts everything by distance along the
// traverse, and rounds numeric fields to 4 decimal places.
//
// A prediction count that does not match the predict set is a contract
// violation by the external service and fails with MergeError.
func Merge(train, predict []domain.Row, predictions []float64) ([]domain.Row, Summary, error) {
	if len(predictions) != len(predict) {
		return nil, Summary{}, &domain.MergeError{
			Reason: fmt.Sprintf("service returned %d predictions for %d predict rows", len(predictions), len(predict)),
		}
	}

	measuredDistances := make([]float64, len(train))
	for i, r := range train {
		measuredDistances[i] = r.Distance
	}

	merged := make([]domain.Row, 0, len(train)+len(predict))
	for _, r := range train {
		row := roundRow(r)
		row.Source = domain.RowSourceMeasured
		zero := 0.0
		row.Uncertainty = &zero
		merged = append(merged, row)
	}
	for i, r := range predict {
		value := round4(predictions[i])
		uncertainty := round4(uncertaintyAt(r.Distance, measuredDistances))
		row := roundRow(r)
		row.Value = &value
		row.Source = domain.RowSourcePredicted
		row.Uncertainty = &uncertainty
		merged = append(merged, row)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Distance < merged[j].Distance
	})

	summary := Summary{
		MeasuredCount:  len(train),
		PredictedCount: len(predict),
		TotalRows:      len(merged),
	}
	return merged, summary, nil
}

// uncertaintyAt estimates prediction uncertainty from the distance to the
// nearest measured point: far from measurements, the model is on its own.
func uncertaintyAt(distance float64, measuredDistances []float64) float64 {
	nearest := math.Inf(1)
	for _, d := range measuredDistances {
		if diff := math.Abs(d - distance); diff < nearest {
			nearest = diff
		}
	}
	if math.IsInf(nearest, 1) {
		nearest = 0
	}
	return baseUncertainty + nearest*distanceFactor
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

func roundRow(r domain.Row) domain.Row {
	out := r
	out.Distance = round4(r.Distance)
	out.X = round4(r.X)
	out.Y = round4(r.Y)
	if r.Value != nil {
		v := round4(*r.Value)
		out.Value = &v
	}
	return out
}
