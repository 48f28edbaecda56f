package storage

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/gaiageo/gaia/internal/domain"
)

// Artifact names under a job's storage prefix. The *_model variants are
// headerless and shaped for the training service: label-first for training
// input, features only for inference input.
const (
	ArtifactRaw          = "raw.csv"
	ArtifactTrain        = "train.csv"
	ArtifactPredict      = "predict.csv"
	ArtifactTrainModel   = "train_model.csv"
	ArtifactPredictModel = "predict_model.csv"
	ArtifactResult       = "result.csv"
)

// Stager persists train/predict/result row sets as CSV blobs under a
// per-job prefix. Any I/O fault surfaces as a StorageError, which the
// orchestrator treats as retryable.
type Stager struct {
	store ObjectStorage
}

// NewStager creates a Stager on top of an ObjectStorage backend.
func NewStager(store ObjectStorage) *Stager {
	return &Stager{store: store}
}

// Ref returns the addressable location of a named artifact for a prefix.
func Ref(prefix, name string) string {
	return prefix + name
}

// StageSplit uploads the train and predict sets, both the headered form
// used for merging and the headerless form consumed by the model service.
// Returns the model-facing train and predict blob refs.
func (s *Stager) StageSplit(ctx context.Context, prefix string, train, predict []domain.Row) (trainRef, predictRef string, err error) {
	if err := s.put(ctx, Ref(prefix, ArtifactTrain), encodeRows(train, true)); err != nil {
		return "", "", err
	}
	if err := s.put(ctx, Ref(prefix, ArtifactPredict), encodeRows(predict, false)); err != nil {
		return "", "", err
	}
	if err := s.put(ctx, Ref(prefix, ArtifactTrainModel), encodeTrainModel(train)); err != nil {
		return "", "", err
	}
	if err := s.put(ctx, Ref(prefix, ArtifactPredictModel), encodePredictModel(predict)); err != nil {
		return "", "", err
	}
	return Ref(prefix, ArtifactTrainModel), Ref(prefix, ArtifactPredictModel), nil
}

// StageRaw uploads the submitted input rows as a backup artifact.
func (s *Stager) StageRaw(ctx context.Context, prefix string, columns []string, rows []domain.InputRow) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write(columns)
	record := make([]string, len(columns))
	for _, row := range rows {
		for i, col := range columns {
			record[i] = row[col]
		}
		_ = w.Write(record)
	}
	w.Flush()
	return s.put(ctx, Ref(prefix, ArtifactRaw), buf.Bytes())
}

// FetchRaw downloads the raw input artifact and decodes it back into the
// submitted column order and rows.
func (s *Stager) FetchRaw(ctx context.Context, prefix string) ([]string, []domain.InputRow, error) {
	key := Ref(prefix, ArtifactRaw)
	data, err := s.get(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	records, rerr := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if rerr != nil {
		return nil, nil, &domain.StorageError{Op: "decode", Key: key, Err: rerr}
	}
	if len(records) == 0 {
		return nil, nil, &domain.StorageError{Op: "decode", Key: key, Err: fmt.Errorf("empty artifact")}
	}
	columns := records[0]
	rows := make([]domain.InputRow, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make(domain.InputRow, len(columns))
		for i, col := range columns {
			if i < len(rec) {
				row[col] = rec[i]
			}
		}
		rows = append(rows, row)
	}
	return columns, rows, nil
}

// FetchTrain downloads and decodes the staged train set.
func (s *Stager) FetchTrain(ctx context.Context, prefix string) ([]domain.Row, error) {
	return s.fetchRows(ctx, Ref(prefix, ArtifactTrain), true)
}

// FetchPredict downloads and decodes the staged predict set.
func (s *Stager) FetchPredict(ctx context.Context, prefix string) ([]domain.Row, error) {
	return s.fetchRows(ctx, Ref(prefix, ArtifactPredict), false)
}

// StageResult uploads the merged output rows.
func (s *Stager) StageResult(ctx context.Context, prefix string, rows []domain.Row) error {
	return s.put(ctx, Ref(prefix, ArtifactResult), encodeResult(rows))
}

// FetchResult downloads and decodes the merged output rows.
func (s *Stager) FetchResult(ctx context.Context, prefix string) ([]domain.Row, error) {
	data, err := s.get(ctx, Ref(prefix, ArtifactResult))
	if err != nil {
		return nil, err
	}
	return decodeResult(data)
}

// DeleteAll removes every staged artifact under the prefix.
func (s *Stager) DeleteAll(ctx context.Context, prefix string) error {
	if err := s.store.DeletePrefix(ctx, prefix); err != nil {
		return &domain.StorageError{Op: "delete", Key: prefix, Err: err}
	}
	return nil
}

func (s *Stager) put(ctx context.Context, key string, data []byte) error {
	err := s.store.Upload(ctx, key, bytes.NewReader(data), int64(len(data)), "text/csv")
	if err != nil {
		return &domain.StorageError{Op: "upload", Key: key, Err: err}
	}
	return nil
}

func (s *Stager) get(ctx context.Context, key string) ([]byte, error) {
	rc, err := s.store.Download(ctx, key)
	if err != nil {
		return nil, &domain.StorageError{Op: "download", Key: key, Err: err}
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, &domain.StorageError{Op: "read", Key: key, Err: err}
	}
	return data, nil
}

func (s *Stager) fetchRows(ctx context.Context, key string, withValue bool) ([]domain.Row, error) {
	data, err := s.get(ctx, key)
	if err != nil {
		return nil, err
	}
	rows, derr := decodeRows(data, withValue)
	if derr != nil {
		return nil, &domain.StorageError{Op: "decode", Key: key, Err: derr}
	}
	return rows, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func encodeRows(rows []domain.Row, withValue bool) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if withValue {
		_ = w.Write([]string{"distance", "x", "y", "value"})
	} else {
		_ = w.Write([]string{"distance", "x", "y"})
	}
	for _, r := range rows {
		record := []string{formatFloat(r.Distance), formatFloat(r.X), formatFloat(r.Y)}
		if withValue {
			value := ""
			if r.Value != nil {
				value = formatFloat(*r.Value)
			}
			record = append(record, value)
		}
		_ = w.Write(record)
	}
	w.Flush()
	return buf.Bytes()
}

// encodeTrainModel writes headerless label,feature records: value,distance.
func encodeTrainModel(rows []domain.Row) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	for _, r := range rows {
		value := ""
		if r.Value != nil {
			value = formatFloat(*r.Value)
		}
		_ = w.Write([]string{value, formatFloat(r.Distance)})
	}
	w.Flush()
	return buf.Bytes()
}

// encodePredictModel writes headerless feature-only records: distance.
func encodePredictModel(rows []domain.Row) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	for _, r := range rows {
		_ = w.Write([]string{formatFloat(r.Distance)})
	}
	w.Flush()
	return buf.Bytes()
}

func decodeRows(data []byte, withValue bool) ([]domain.Row, error) {
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("empty artifact")
	}

	rows := make([]domain.Row, 0, len(records)-1)
	for _, rec := range records[1:] { // skip header
		if len(rec) < 3 {
			return nil, fmt.Errorf("short record: %v", rec)
		}
		row, err := parseRowFields(rec[0], rec[1], rec[2])
		if err != nil {
			return nil, err
		}
		if withValue && len(rec) > 3 && rec[3] != "" {
			v, err := strconv.ParseFloat(rec[3], 64)
			if err != nil {
				return nil, fmt.Errorf("bad value %q: %w", rec[3], err)
			}
			row.Value = &v
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func encodeResult(rows []domain.Row) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"distance", "x", "y", "value", "source", "uncertainty"})
	for _, r := range rows {
		value := ""
		if r.Value != nil {
			value = formatFloat(*r.Value)
		}
		uncertainty := ""
		if r.Uncertainty != nil {
			uncertainty = formatFloat(*r.Uncertainty)
		}
		_ = w.Write([]string{
			formatFloat(r.Distance), formatFloat(r.X), formatFloat(r.Y),
			value, string(r.Source), uncertainty,
		})
	}
	w.Flush()
	return buf.Bytes()
}

func decodeResult(data []byte) ([]domain.Row, error) {
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		return nil, &domain.StorageError{Op: "decode", Key: ArtifactResult, Err: err}
	}
	if len(records) == 0 {
		return nil, &domain.StorageError{Op: "decode", Key: ArtifactResult, Err: fmt.Errorf("empty artifact")}
	}

	rows := make([]domain.Row, 0, len(records)-1)
	for _, rec := range records[1:] {
		if len(rec) < 6 {
			return nil, &domain.StorageError{Op: "decode", Key: ArtifactResult, Err: fmt.Errorf("short record: %v", rec)}
		}
		row, err := parseRowFields(rec[0], rec[1], rec[2])
		if err != nil {
			return nil, &domain.StorageError{Op: "decode", Key: ArtifactResult, Err: err}
		}
		if rec[3] != "" {
			v, err := strconv.ParseFloat(rec[3], 64)
			if err != nil {
				return nil, &domain.StorageError{Op: "decode", Key: ArtifactResult, Err: err}
			}
			row.Value = &v
		}
		row.Source = domain.RowSource(rec[4])
		if rec[5] != "" {
			u, err := strconv.ParseFloat(rec[5], 64)
			if err != nil {
				return nil, &domain.StorageError{Op: "decode", Key: ArtifactResult, Err: err}
			}
			row.Uncertainty = &u
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseRowFields(distance, x, y string) (domain.Row, error) {
	d, err := strconv.ParseFloat(distance, 64)
	if err != nil {
		return domain.Row{}, fmt.Errorf("bad distance %q: %w", distance, err)
	}
	xv, err := strconv.ParseFloat(x, 64)
	if err != nil {
		return domain.Row{}, fmt.Errorf("bad x %q: %w", x, err)
	}
	yv, err := strconv.ParseFloat(y, 64)
	if err != nil {
		return domain.Row{}, fmt.Errorf("bad y %q: %w", y, err)
	}
	return domain.Row{Distance: d, X: xv, Y: yv}, nil
}
