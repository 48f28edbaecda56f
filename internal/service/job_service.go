// Package service implements the submission and read boundary for
// prediction jobs. Submissions are validated before any job record exists;
// everything downstream of a created job belongs to the worker pipeline.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/gaiageo/gaia/internal/domain"
	"github.com/gaiageo/gaia/internal/logger"
	"github.com/gaiageo/gaia/internal/repository"
	"github.com/gaiageo/gaia/internal/storage"
)

// SubmitRequest carries a parsed job submission: the prediction
// configuration plus the materialized input rows.
type SubmitRequest struct {
	Scenario         string            `json:"scenario"`
	XColumn          string            `json:"x_column"`
	YColumn          string            `json:"y_column"`
	ValueColumn      string            `json:"value_column"`
	StationSpacing   *float64          `json:"station_spacing,omitempty"`
	CoordinateSystem string            `json:"coordinate_system,omitempty"`
	Columns          []string          `json:"columns"`
	Rows             []domain.InputRow `json:"rows"`
}

// StatusInfo is the minimal view served to status pollers.
type StatusInfo struct {
	ID           string  `json:"id"`
	Status       string  `json:"status"`
	ErrorMessage *string `json:"error_message,omitempty"`
	Progress     string  `json:"progress"`
}

// Result is the merged output of a complete job.
type Result struct {
	JobID          string       `json:"job_id"`
	Columns        []string     `json:"columns"`
	Data           []domain.Row `json:"data"`
	TotalRows      int          `json:"total_rows"`
	MeasuredCount  int          `json:"measured_count"`
	PredictedCount int          `json:"predicted_count"`
}

// progressMessages maps a job status to the human text shown to pollers.
var progressMessages = map[domain.JobStatus]string{
	domain.JobStatusPending:    "Waiting to start...",
	domain.JobStatusProcessing: "Computing geometry and splitting data...",
	domain.JobStatusTraining:   "Training model on measured data...",
	domain.JobStatusPredicting: "Generating predictions...",
	domain.JobStatusMerging:    "Combining results...",
	domain.JobStatusComplete:   "Job complete!",
	domain.JobStatusFailed:     "Job failed",
}

// resultColumns is the column order of the merged result.
var resultColumns = []string{"distance", "x", "y", "value", "source", "uncertainty"}

// JobService handles job submission and read operations.
type JobService struct {
	jobs   *repository.JobRepository
	stager *storage.Stager
	logger *logger.Logger
}

// NewJobService creates a new job service.
// Parameters:
//   - jobs: repository for job records.
//   - stager: artifact stager for the raw input and result blobs.
//   - log: logger instance.
// Returns:
//   - *JobService: initialized job service.
func NewJobService(jobs *repository.JobRepository, stager *storage.Stager, log *logger.Logger) *JobService {
	if log == nil {
		log = logger.GetDefault()
	}
	return &JobService{
		jobs:   jobs,
		stager: stager,
		logger: log,
	}
}

func (s *JobService) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return s.logger
}

// newJobID generates a job identifier of the form gaia-{12 hex chars}.
func newJobID() string {
	hexID := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "gaia-" + hexID[:12]
}

// Submit validates a submission, stages the raw input, and creates the
// pending job record. Validation failures reject the submission before any
// state is written.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - req: parsed submission.
// Returns:
//   - *domain.Job: the created pending job.
//   - error: *domain.ValidationError for a rejected submission.
func (s *JobService) Submit(ctx context.Context, req *SubmitRequest) (*domain.Job, error) {
	if err := validateSubmit(req); err != nil {
		return nil, err
	}

	coordSystem := domain.CoordinateSystem(req.CoordinateSystem)
	if req.CoordinateSystem == "" {
		coordSystem = domain.CoordinateSystemProjected
	}

	jobID := newJobID()
	prefix := fmt.Sprintf("jobs/%s/", jobID)

	if err := s.stager.StageRaw(ctx, prefix, req.Columns, req.Rows); err != nil {
		return nil, err
	}

	inputRows := len(req.Rows)
	job := &domain.Job{
		ID:               jobID,
		Scenario:         domain.Scenario(req.Scenario),
		XColumn:          req.XColumn,
		YColumn:          req.YColumn,
		ValueColumn:      req.ValueColumn,
		StationSpacing:   req.StationSpacing,
		CoordinateSystem: coordSystem,
		Status:           domain.JobStatusPending,
		InputRows:        &inputRows,
		StoragePrefix:    prefix,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		// The raw artifact is orphaned without a job row pointing at it.
		if derr := s.stager.DeleteAll(ctx, prefix); derr != nil {
			s.log(ctx).WithError(derr).Warn("Failed to clean up staged input after create failure")
		}
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	s.log(ctx).WithFields(logger.Fields{
		logger.FieldJobID: jobID,
		"scenario":        req.Scenario,
		"input_rows":      inputRows,
	}).Info("Job submitted")

	return job, nil
}

// validateSubmit checks a submission against the configuration rules.
func validateSubmit(req *SubmitRequest) error {
	switch domain.Scenario(req.Scenario) {
	case domain.ScenarioSparse, domain.ScenarioExplicit:
	default:
		return &domain.ValidationError{Field: "scenario", Reason: "must be 'sparse' or 'explicit'"}
	}

	if domain.Scenario(req.Scenario) == domain.ScenarioSparse {
		if req.StationSpacing == nil {
			return &domain.ValidationError{Field: "station_spacing", Reason: "required for sparse scenario"}
		}
		if *req.StationSpacing <= 0 {
			return &domain.ValidationError{Field: "station_spacing", Reason: "must be positive"}
		}
	}

	switch domain.CoordinateSystem(req.CoordinateSystem) {
	case domain.CoordinateSystemProjected, domain.CoordinateSystemGeographic, "":
	default:
		return &domain.ValidationError{Field: "coordinate_system", Reason: "must be 'projected' or 'geographic'"}
	}

	for field, col := range map[string]string{
		"x_column":     req.XColumn,
		"y_column":     req.YColumn,
		"value_column": req.ValueColumn,
	} {
		if col == "" {
			return &domain.ValidationError{Field: field, Reason: "must not be empty"}
		}
	}

	if len(req.Rows) == 0 {
		return &domain.ValidationError{Field: "rows", Reason: "must not be empty"}
	}

	present := make(map[string]bool, len(req.Columns))
	for _, col := range req.Columns {
		present[col] = true
	}
	var missing []string
	for _, col := range []string{req.XColumn, req.YColumn, req.ValueColumn} {
		if !present[col] {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return &domain.ValidationError{
			Field:  "columns",
			Reason: "not found in input: " + strings.Join(missing, ", "),
		}
	}
	return nil
}

// GetJob retrieves full job details.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: job ID.
// Returns:
//   - *domain.Job: job record.
//   - error: domain.ErrJobNotFound if the ID does not exist.
func (s *JobService) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	return s.jobs.GetByID(ctx, id)
}

// ListJobs retrieves all jobs, newest first.
func (s *JobService) ListJobs(ctx context.Context) ([]domain.Job, error) {
	return s.jobs.List(ctx)
}

// GetStatus retrieves the minimal polling view of a job.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: job ID.
// Returns:
//   - *StatusInfo: status with human-readable progress text.
//   - error: domain.ErrJobNotFound if the ID does not exist.
func (s *JobService) GetStatus(ctx context.Context, id string) (*StatusInfo, error) {
	job, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	progress, ok := progressMessages[job.Status]
	if !ok {
		progress = string(job.Status)
	}
	return &StatusInfo{
		ID:           job.ID,
		Status:       string(job.Status),
		ErrorMessage: job.ErrorMessage,
		Progress:     progress,
	}, nil
}

// GetResult loads the merged result of a complete job.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: job ID.
// Returns:
//   - *Result: merged rows plus source counts.
//   - error: domain.ErrJobNotReady unless the job status is complete.
func (s *JobService) GetResult(ctx context.Context, id string) (*Result, error) {
	job, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.JobStatusComplete {
		return nil, fmt.Errorf("%w: status is %s", domain.ErrJobNotReady, job.Status)
	}

	rows, err := s.stager.FetchResult(ctx, job.StoragePrefix)
	if err != nil {
		return nil, err
	}

	measured, predicted := 0, 0
	for _, r := range rows {
		switch r.Source {
		case domain.RowSourceMeasured:
			measured++
		case domain.RowSourcePredicted:
			predicted++
		}
	}
	return &Result{
		JobID:          job.ID,
		Columns:        resultColumns,
		Data:           rows,
		TotalRows:      len(rows),
		MeasuredCount:  measured,
		PredictedCount: predicted,
	}, nil
}

// DeleteJob removes a job's staged artifacts and then its database record.
// Artifact cleanup is best-effort; a storage fault never strands the row.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: job ID.
// Returns:
//   - error: domain.ErrJobNotFound if the ID does not exist.
func (s *JobService) DeleteJob(ctx context.Context, id string) error {
	job, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if err := s.stager.DeleteAll(ctx, job.StoragePrefix); err != nil {
		s.log(ctx).WithFields(logger.Fields{
			logger.FieldJobID: id,
		}).WithError(err).Warn("Failed to delete job artifacts")
	}

	if err := s.jobs.Delete(ctx, id); err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			return err
		}
		return fmt.Errorf("failed to delete job: %w", err)
	}

	s.log(ctx).WithField(logger.FieldJobID, id).Info("Job deleted")
	return nil
}
