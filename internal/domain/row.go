package domain

// RowSource tags whether a row's value was measured in the field or
// produced by the model.
type RowSource string

const (
	RowSourceMeasured  RowSource = "measured"
	RowSourcePredicted RowSource = "predicted"
)

// Row is the unit of data exchanged between the geometry engine, the
// artifact stager, the model client, and the merger. Distance is the
// cumulative path length from the first measured point; it is derived
// once by the geometry engine and never stored in the database.
type Row struct {
	Distance    float64   `json:"distance"`
	X           float64   `json:"x"`
	Y           float64   `json:"y"`
	Value       *float64  `json:"value,omitempty"`
	Uncertainty *float64  `json:"uncertainty,omitempty"`
	Source      RowSource `json:"source,omitempty"`
}

// HasValue reports whether the row carries a measured value.
func (r Row) HasValue() bool {
	return r.Value != nil
}

// InputRow is a raw uploaded record keyed by the user's column names.
// The upload layer hands these to the service already parsed.
type InputRow map[string]string
