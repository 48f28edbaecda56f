package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/gaiageo/gaia/internal/domain"
	"github.com/gaiageo/gaia/internal/repository"
	"github.com/gaiageo/gaia/internal/storage"
)

func newTestService(t *testing.T) (*JobService, *repository.JobRepository, *storage.Stager) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: gormlogger.Discard})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&domain.Job{}, &domain.JobLog{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	repo := repository.NewJobRepository(db)
	stager := storage.NewStager(storage.NewMemoryStorage())
	return NewJobService(repo, stager, nil), repo, stager
}

func validRequest() *SubmitRequest {
	spacing := 10.0
	return &SubmitRequest{
		Scenario:       "sparse",
		XColumn:        "x",
		YColumn:        "y",
		ValueColumn:    "value",
		StationSpacing: &spacing,
		Columns:        []string{"x", "y", "value"},
		Rows: []domain.InputRow{
			{"x": "0", "y": "0", "value": "1.5"},
			{"x": "10", "y": "0", "value": "2.5"},
		},
	}
}

func TestSubmitCreatesPendingJob(t *testing.T) {
	svc, repo, stager := newTestService(t)
	ctx := context.Background()

	job, err := svc.Submit(ctx, validRequest())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !regexp.MustCompile(`^gaia-[0-9a-f]{12}$`).MatchString(job.ID) {
		t.Errorf("job ID = %q, want gaia-{12 hex}", job.ID)
	}
	if job.Status != domain.JobStatusPending {
		t.Errorf("status = %s, want pending", job.Status)
	}
	if job.InputRows == nil || *job.InputRows != 2 {
		t.Errorf("input_rows = %v, want 2", job.InputRows)
	}
	if job.StoragePrefix != fmt.Sprintf("jobs/%s/", job.ID) {
		t.Errorf("storage prefix = %q", job.StoragePrefix)
	}

	stored, err := repo.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Scenario != domain.ScenarioSparse {
		t.Errorf("scenario = %s, want sparse", stored.Scenario)
	}

	columns, rows, err := stager.FetchRaw(ctx, job.StoragePrefix)
	if err != nil {
		t.Fatalf("fetch raw: %v", err)
	}
	if len(columns) != 3 || len(rows) != 2 {
		t.Errorf("raw artifact = %d columns / %d rows, want 3 / 2", len(columns), len(rows))
	}
}

func TestSubmitValidation(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*SubmitRequest)
		field  string
	}{
		{
			name:   "unknown scenario",
			mutate: func(r *SubmitRequest) { r.Scenario = "dense" },
			field:  "scenario",
		},
		{
			name:   "sparse without spacing",
			mutate: func(r *SubmitRequest) { r.StationSpacing = nil },
			field:  "station_spacing",
		},
		{
			name: "non-positive spacing",
			mutate: func(r *SubmitRequest) {
				zero := 0.0
				r.StationSpacing = &zero
			},
			field: "station_spacing",
		},
		{
			name:   "unknown coordinate system",
			mutate: func(r *SubmitRequest) { r.CoordinateSystem = "polar" },
			field:  "coordinate_system",
		},
		{
			name:   "empty value column",
			mutate: func(r *SubmitRequest) { r.ValueColumn = "" },
			field:  "value_column",
		},
		{
			name:   "no rows",
			mutate: func(r *SubmitRequest) { r.Rows = nil },
			field:  "rows",
		},
		{
			name:   "missing bound column",
			mutate: func(r *SubmitRequest) { r.ValueColumn = "reading" },
			field:  "columns",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(req)

			_, err := svc.Submit(ctx, req)
			var verr *domain.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			if verr.Field != tt.field {
				t.Errorf("field = %q, want %q", verr.Field, tt.field)
			}
		})
	}

	// No rejected submission may leave a job behind.
	jobs, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 0 {
		t.Errorf("jobs after rejected submissions = %d, want 0", len(jobs))
	}
}

func TestGetStatusProgressText(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	job, err := svc.Submit(ctx, validRequest())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	status, err := svc.GetStatus(ctx, job.ID)
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if status.Progress != "Waiting to start..." {
		t.Errorf("progress = %q, want pending text", status.Progress)
	}

	if err := repo.SetStatus(ctx, job.ID, domain.JobStatusTraining, nil); err != nil {
		t.Fatalf("set status: %v", err)
	}
	status, err = svc.GetStatus(ctx, job.ID)
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if status.Progress != "Training model on measured data..." {
		t.Errorf("progress = %q, want training text", status.Progress)
	}
}

func TestGetResultRequiresComplete(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	job, err := svc.Submit(ctx, validRequest())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	_, err = svc.GetResult(ctx, job.ID)
	if !errors.Is(err, domain.ErrJobNotReady) {
		t.Fatalf("err = %v, want ErrJobNotReady", err)
	}
}

func TestGetResultCounts(t *testing.T) {
	svc, repo, stager := newTestService(t)
	ctx := context.Background()

	job, err := svc.Submit(ctx, validRequest())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	value := 1.5
	uncertainty := 0.0
	predicted := 2.25
	predUncertainty := 1.5
	rows := []domain.Row{
		{Distance: 0, X: 0, Value: &value, Uncertainty: &uncertainty, Source: domain.RowSourceMeasured},
		{Distance: 5, X: 5, Value: &predicted, Uncertainty: &predUncertainty, Source: domain.RowSourcePredicted},
	}
	if err := stager.StageResult(ctx, job.StoragePrefix, rows); err != nil {
		t.Fatalf("stage result: %v", err)
	}
	if err := repo.SetStatus(ctx, job.ID, domain.JobStatusComplete, nil); err != nil {
		t.Fatalf("set status: %v", err)
	}

	result, err := svc.GetResult(ctx, job.ID)
	if err != nil {
		t.Fatalf("get result: %v", err)
	}
	if result.TotalRows != 2 || result.MeasuredCount != 1 || result.PredictedCount != 1 {
		t.Errorf("counts = %d/%d/%d, want 2/1/1", result.TotalRows, result.MeasuredCount, result.PredictedCount)
	}
}

func TestDeleteJobRemovesArtifacts(t *testing.T) {
	svc, _, stager := newTestService(t)
	ctx := context.Background()

	job, err := svc.Submit(ctx, validRequest())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if err := svc.DeleteJob(ctx, job.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.GetJob(ctx, job.ID); !errors.Is(err, domain.ErrJobNotFound) {
		t.Fatalf("get after delete: err = %v, want ErrJobNotFound", err)
	}
	if _, err := svc.GetStatus(ctx, job.ID); !errors.Is(err, domain.ErrJobNotFound) {
		t.Fatalf("status after delete: err = %v, want ErrJobNotFound", err)
	}
	if _, err := svc.GetResult(ctx, job.ID); !errors.Is(err, domain.ErrJobNotFound) {
		t.Fatalf("result after delete: err = %v, want ErrJobNotFound", err)
	}
	if _, _, err := stager.FetchRaw(ctx, job.StoragePrefix); err == nil {
		t.Fatal("raw artifact survived deletion")
	}
}

func TestDeleteJobNotFound(t *testing.T) {
	svc, _, _ := newTestService(t)
	if err := svc.DeleteJob(context.Background(), "gaia-missing00000"); !errors.Is(err, domain.ErrJobNotFound) {
		t.Fatalf("err = %v, want ErrJobNotFound", err)
	}
}
