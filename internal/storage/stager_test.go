package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/gaiageo/gaia/internal/domain"
)

func floatPtr(v float64) *float64 { return &v }

func TestStagerSplitRoundTrip(t *testing.T) {
	stager := NewStager(NewMemoryStorage())
	ctx := context.Background()
	prefix := "jobs/gaia-abc123def456/"

	train := []domain.Row{
		{Distance: 0, X: 0, Y: 0, Value: floatPtr(101.25)},
		{Distance: 10, X: 10, Y: 0, Value: floatPtr(102.5)},
	}
	predict := []domain.Row{
		{Distance: 5, X: 5, Y: 0},
	}

	trainRef, predictRef, err := stager.StageSplit(ctx, prefix, train, predict)
	if err != nil {
		t.Fatalf("StageSplit returned error: %v", err)
	}
	if trainRef != prefix+ArtifactTrainModel {
		t.Errorf("train ref = %q, want %q", trainRef, prefix+ArtifactTrainModel)
	}
	if predictRef != prefix+ArtifactPredictModel {
		t.Errorf("predict ref = %q, want %q", predictRef, prefix+ArtifactPredictModel)
	}

	gotTrain, err := stager.FetchTrain(ctx, prefix)
	if err != nil {
		t.Fatalf("FetchTrain returned error: %v", err)
	}
	if len(gotTrain) != 2 {
		t.Fatalf("train rows = %d, want 2", len(gotTrain))
	}
	if gotTrain[0].Value == nil || *gotTrain[0].Value != 101.25 {
		t.Errorf("train value = %v, want 101.25", gotTrain[0].Value)
	}

	gotPredict, err := stager.FetchPredict(ctx, prefix)
	if err != nil {
		t.Fatalf("FetchPredict returned error: %v", err)
	}
	if len(gotPredict) != 1 {
		t.Fatalf("predict rows = %d, want 1", len(gotPredict))
	}
	if gotPredict[0].Value != nil {
		t.Error("predict row should not carry a value")
	}
	if gotPredict[0].Distance != 5 {
		t.Errorf("predict distance = %v, want 5", gotPredict[0].Distance)
	}
}

func TestStagerResultRoundTrip(t *testing.T) {
	stager := NewStager(NewMemoryStorage())
	ctx := context.Background()
	prefix := "jobs/gaia-000000000001/"

	rows := []domain.Row{
		{Distance: 0, X: 0, Y: 0, Value: floatPtr(100), Source: domain.RowSourceMeasured, Uncertainty: floatPtr(0)},
		{Distance: 5, X: 5, Y: 0, Value: floatPtr(105.5), Source: domain.RowSourcePredicted, Uncertainty: floatPtr(1.5)},
	}

	if err := stager.StageResult(ctx, prefix, rows); err != nil {
		t.Fatalf("StageResult returned error: %v", err)
	}

	got, err := stager.FetchResult(ctx, prefix)
	if err != nil {
		t.Fatalf("FetchResult returned error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("result rows = %d, want 2", len(got))
	}
	if got[0].Source != domain.RowSourceMeasured {
		t.Errorf("source = %q, want measured", got[0].Source)
	}
	if got[1].Uncertainty == nil || *got[1].Uncertainty != 1.5 {
		t.Errorf("uncertainty = %v, want 1.5", got[1].Uncertainty)
	}
}

func TestStagerDeleteAll(t *testing.T) {
	store := NewMemoryStorage()
	stager := NewStager(store)
	ctx := context.Background()
	prefix := "jobs/gaia-deadbeef0000/"

	train := []domain.Row{{Distance: 0, X: 0, Y: 0, Value: floatPtr(1)}}
	if _, _, err := stager.StageSplit(ctx, prefix, train, nil); err != nil {
		t.Fatalf("StageSplit returned error: %v", err)
	}
	if _, _, err := stager.StageSplit(ctx, "jobs/gaia-other0000000/", train, nil); err != nil {
		t.Fatalf("StageSplit returned error: %v", err)
	}

	if err := stager.DeleteAll(ctx, prefix); err != nil {
		t.Fatalf("DeleteAll returned error: %v", err)
	}

	if exists, _ := store.Exists(ctx, prefix+ArtifactTrain); exists {
		t.Error("artifact under deleted prefix still present")
	}
	if exists, _ := store.Exists(ctx, "jobs/gaia-other0000000/"+ArtifactTrain); !exists {
		t.Error("artifact under other prefix was deleted")
	}
}

func TestStagerMissingArtifactIsStorageError(t *testing.T) {
	stager := NewStager(NewMemoryStorage())

	_, err := stager.FetchResult(context.Background(), "jobs/gaia-missing00000/")
	var storageErr *domain.StorageError
	if !errors.As(err, &storageErr) {
		t.Fatalf("got err %v, want StorageError", err)
	}
	if !domain.IsRetryable(err) {
		t.Error("storage errors should be retryable")
	}
}
