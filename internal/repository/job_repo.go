package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gaiageo/gaia/internal/domain"
	"gorm.io/gorm"
)

// JobRepository handles job and job log persistence.
type JobRepository struct {
	db *gorm.DB
}

// NewJobRepository creates a new JobRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *JobRepository: repository instance bound to db.
func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create inserts a new job record.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - job: job record to persist.
// Returns:
//   - error: non-nil if the insert fails.
func (r *JobRepository) Create(ctx context.Context, job *domain.Job) error {
	return r.db.WithContext(ctx).Create(job).Error
}

// GetByID retrieves a job by its ID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: job ID.
// Returns:
//   - *domain.Job: job record if found.
//   - error: domain.ErrJobNotFound if the ID does not exist.
func (r *JobRepository) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	var job domain.Job
	if err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrJobNotFound
		}
		return nil, err
	}
	return &job, nil
}

// List retrieves all jobs ordered by creation time, newest first.
// Parameters:
//   - ctx: context for cancellation and deadlines.
// Returns:
//   - []domain.Job: job records.
//   - error: non-nil if the query fails.
func (r *JobRepository) List(ctx context.Context) ([]domain.Job, error) {
	var jobs []domain.Job
	if err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// UpdateFields applies a partial column update to a job. Writes are atomic
// per job; concurrent readers never observe a half-applied update.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: job ID.
//   - fields: column name to value map.
// Returns:
//   - error: non-nil if the update fails.
func (r *JobRepository) UpdateFields(ctx context.Context, id string, fields map[string]interface{}) error {
	res := r.db.WithContext(ctx).Model(&domain.Job{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

// SetStatus transitions a job to the given status and maintains the
// started/completed timestamps. Each timestamp is set at most once.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: job ID.
//   - status: new status.
//   - errorMessage: terminal error cause; nil for non-failure transitions.
// Returns:
//   - error: non-nil if the update fails.
func (r *JobRepository) SetStatus(ctx context.Context, id string, status domain.JobStatus, errorMessage *string) error {
	job, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	fields := map[string]interface{}{"status": status}
	if errorMessage != nil {
		fields["error_message"] = *errorMessage
	}
	if status == domain.JobStatusProcessing && job.StartedAt == nil {
		fields["started_at"] = now
	}
	if (status == domain.JobStatusComplete || status == domain.JobStatusFailed) && job.CompletedAt == nil {
		fields["completed_at"] = now
	}
	return r.UpdateFields(ctx, id, fields)
}

// Claim atomically transitions a job from one status to another and takes
// a worker lease on it. The transition succeeds only when the job is still
// in the expected prior status and no live lease is held, so two workers
// can never advance the same job concurrently. The first claim out of
// pending also stamps started_at.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: job ID.
//   - from: expected current status.
//   - to: status to transition to.
//   - workerID: identifier of the claiming worker.
//   - leaseTTL: how long the claim remains exclusive.
// Returns:
//   - bool: true if this worker won the claim.
//   - error: non-nil if the update fails.
func (r *JobRepository) Claim(ctx context.Context, id string, from, to domain.JobStatus, workerID string, leaseTTL time.Duration) (bool, error) {
	now := time.Now().UTC()
	fields := map[string]interface{}{
		"status":           to,
		"claimed_by":       workerID,
		"lease_expires_at": now.Add(leaseTTL),
	}
	if from == domain.JobStatusPending {
		// First claim of the job; set once.
		fields["started_at"] = gorm.Expr("COALESCE(started_at, ?)", now)
	}
	res := r.db.WithContext(ctx).Model(&domain.Job{}).
		Where("id = ? AND status = ? AND (lease_expires_at IS NULL OR lease_expires_at < ?)", id, from, now).
		Updates(fields)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// RenewLease extends a worker's lease while a long-running stage is in
// flight. A no-op when the lease has been taken over by another worker.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: job ID.
//   - workerID: identifier of the lease holder.
//   - leaseTTL: new lease duration from now.
// Returns:
//   - error: non-nil if the update fails.
func (r *JobRepository) RenewLease(ctx context.Context, id, workerID string, leaseTTL time.Duration) error {
	return r.db.WithContext(ctx).Model(&domain.Job{}).
		Where("id = ? AND claimed_by = ?", id, workerID).
		Update("lease_expires_at", time.Now().UTC().Add(leaseTTL)).Error
}

// ReleaseLease drops a worker's lease on a job so it becomes claimable for
// its next stage. A no-op when another worker holds the lease.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: job ID.
//   - workerID: identifier of the releasing worker.
// Returns:
//   - error: non-nil if the update fails.
func (r *JobRepository) ReleaseLease(ctx context.Context, id, workerID string) error {
	return r.db.WithContext(ctx).Model(&domain.Job{}).
		Where("id = ? AND claimed_by = ?", id, workerID).
		Updates(map[string]interface{}{
			"claimed_by":       "",
			"lease_expires_at": nil,
		}).Error
}

// NextClaimable scans for jobs a worker could claim: any non-terminal job
// whose lease is absent or expired, oldest first. Jobs left mid-stage by a
// crashed worker reappear here once their lease runs out.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - limit: maximum number of jobs to return.
// Returns:
//   - []domain.Job: claimable jobs in FIFO order.
//   - error: non-nil if the query fails.
func (r *JobRepository) NextClaimable(ctx context.Context, limit int) ([]domain.Job, error) {
	now := time.Now().UTC()
	var jobs []domain.Job
	if err := r.db.WithContext(ctx).
		Where("status NOT IN ? AND (lease_expires_at IS NULL OR lease_expires_at < ?)",
			[]domain.JobStatus{domain.JobStatusComplete, domain.JobStatusFailed}, now).
		Order("created_at ASC").
		Limit(limit).
		Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// AppendLog records a pipeline stage transition for a job.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - jobID: owning job ID.
//   - stage: pipeline stage name.
//   - message: free-text detail.
// Returns:
//   - error: non-nil if the insert fails.
func (r *JobRepository) AppendLog(ctx context.Context, jobID, stage, message string) error {
	entry := domain.JobLog{
		JobID:   jobID,
		Stage:   stage,
		Message: message,
	}
	return r.db.WithContext(ctx).Create(&entry).Error
}

// ListLogs retrieves a job's log entries in append order.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - jobID: owning job ID.
// Returns:
//   - []domain.JobLog: log entries oldest first.
//   - error: non-nil if the query fails.
func (r *JobRepository) ListLogs(ctx context.Context, jobID string) ([]domain.JobLog, error) {
	var logs []domain.JobLog
	if err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("created_at ASC, id ASC").
		Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}

// Delete removes a job and all of its log entries in one transaction.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: job ID to delete.
// Returns:
//   - error: domain.ErrJobNotFound if the ID does not exist.
func (r *JobRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("job_id = ?", id).Delete(&domain.JobLog{}).Error; err != nil {
			return fmt.Errorf("failed to delete job logs: %w", err)
		}
		res := tx.Delete(&domain.Job{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrJobNotFound
		}
		return nil
	})
}

// Exists reports whether a job row is still present. The orchestrator uses
// this at stage boundaries to observe mid-flight deletion.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: job ID.
// Returns:
//   - bool: true if the job exists.
//   - error: non-nil if the lookup fails.
func (r *JobRepository) Exists(ctx context.Context, id string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.Job{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
