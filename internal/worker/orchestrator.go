// Package worker drives prediction jobs through the pipeline stages:
// geometry split and staging, external training, external inference, and
// result merging. Jobs are advanced one stage per claim so a worker crash
// never loses more than the stage in flight.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gaiageo/gaia/internal/config"
	"github.com/gaiageo/gaia/internal/domain"
	"github.com/gaiageo/gaia/internal/geometry"
	"github.com/gaiageo/gaia/internal/logger"
	"github.com/gaiageo/gaia/internal/merge"
	"github.com/gaiageo/gaia/internal/model"
	"github.com/gaiageo/gaia/internal/repository"
	"github.com/gaiageo/gaia/internal/storage"
)

// Orchestrator advances a single claimed job through its current stage.
type Orchestrator struct {
	jobs   *repository.JobRepository
	stager *storage.Stager
	model  model.Client
	cfg    config.WorkerConfig
}

// NewOrchestrator creates an Orchestrator.
// Parameters:
//   - jobs: job repository for state transitions and leases.
//   - stager: artifact stager for staged row sets.
//   - client: external model service client.
//   - cfg: worker timing and retry configuration.
// Returns:
//   - *Orchestrator: orchestrator instance.
func NewOrchestrator(jobs *repository.JobRepository, stager *storage.Stager, client model.Client, cfg config.WorkerConfig) *Orchestrator {
	return &Orchestrator{
		jobs:   jobs,
		stager: stager,
		model:  client,
		cfg:    cfg,
	}
}

// Advance tries to claim the job and, on success, runs exactly one pipeline
// stage before releasing the lease. Losing the claim race is not an error;
// the job is simply left for whichever worker won it.
func (o *Orchestrator) Advance(ctx context.Context, workerID string, job *domain.Job) error {
	var target domain.JobStatus
	switch job.Status {
	case domain.JobStatusPending, domain.JobStatusProcessing:
		target = domain.JobStatusProcessing
	case domain.JobStatusTraining, domain.JobStatusPredicting, domain.JobStatusMerging:
		target = job.Status
	default:
		return nil
	}

	claimed, err := o.jobs.Claim(ctx, job.ID, job.Status, target, workerID, o.cfg.LeaseTTL)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	ctx = logger.SetWorkerID(logger.SetJobID(ctx, job.ID), workerID)
	ctx = logger.SetStage(ctx, string(target))
	log := logger.FromContext(ctx)
	log.Info("Claimed job")

	// Re-read after the claim so the stage sees handles and refs written
	// by earlier stages.
	current, err := o.jobs.GetByID(ctx, job.ID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			return nil
		}
		return err
	}

	stageCtx, cancel := context.WithTimeout(ctx, o.cfg.StageTimeout)
	defer cancel()

	switch target {
	case domain.JobStatusProcessing:
		err = o.runProcessing(stageCtx, workerID, current)
	case domain.JobStatusTraining:
		err = o.runTraining(stageCtx, workerID, current)
	case domain.JobStatusPredicting:
		err = o.runPredicting(stageCtx, workerID, current)
	case domain.JobStatusMerging:
		err = o.runMerging(stageCtx, workerID, current)
	}

	if err != nil {
		return o.handleStageError(ctx, workerID, current, string(target), err)
	}

	return o.jobs.ReleaseLease(ctx, job.ID, workerID)
}

// handleStageError maps a stage failure to a job outcome. Transient faults
// have already been retried inside the stage, so anything surfacing here is
// terminal except worker shutdown and mid-stage deletion.
func (o *Orchestrator) handleStageError(ctx context.Context, workerID string, job *domain.Job, stage string, err error) error {
	if errors.Is(err, domain.ErrJobNotFound) {
		logger.FromContext(ctx).Info("Job deleted mid-stage, dropping work")
		return nil
	}
	if errors.Is(err, context.Canceled) {
		// Shutdown, not a job fault. Release so another worker resumes.
		return o.jobs.ReleaseLease(context.WithoutCancel(ctx), job.ID, workerID)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		msg := fmt.Sprintf("%s stage exceeded %s timeout", stage, o.cfg.StageTimeout)
		return o.failJob(ctx, job.ID, stage, msg)
	}
	return o.failJob(ctx, job.ID, stage, err.Error())
}

// failJob marks the job failed and records the cause.
func (o *Orchestrator) failJob(ctx context.Context, jobID, stage, message string) error {
	logger.FromContext(ctx).WithFields(logger.Fields{
		"stage": stage,
		"cause": message,
	}).Error("Job failed")

	_ = o.jobs.AppendLog(ctx, jobID, stage, "failed: "+message)
	err := o.jobs.SetStatus(ctx, jobID, domain.JobStatusFailed, &message)
	if errors.Is(err, domain.ErrJobNotFound) {
		return nil
	}
	return err
}

// runProcessing splits the raw input into train and predict sets, stages
// all four derived artifacts, and hands the job to the training stage.
// The split is a pure function of the raw artifact, so re-running it after
// a crash produces identical output.
func (o *Orchestrator) runProcessing(ctx context.Context, workerID string, job *domain.Job) error {
	if err := o.jobs.AppendLog(ctx, job.ID, string(domain.JobStatusProcessing), "splitting input rows"); err != nil {
		return err
	}

	var raw []domain.InputRow
	err := o.withStorageRetry(ctx, func() error {
		var ferr error
		_, raw, ferr = o.stager.FetchRaw(ctx, job.StoragePrefix)
		return ferr
	})
	if err != nil {
		return err
	}

	opts := geometry.Options{
		Scenario:         job.Scenario,
		XColumn:          job.XColumn,
		YColumn:          job.YColumn,
		ValueColumn:      job.ValueColumn,
		CoordinateSystem: job.CoordinateSystem,
	}
	if job.StationSpacing != nil {
		opts.StationSpacing = *job.StationSpacing
	}

	train, predict, err := geometry.Split(raw, opts)
	if err != nil {
		return err
	}

	err = o.withStorageRetry(ctx, func() error {
		_, _, serr := o.stager.StageSplit(ctx, job.StoragePrefix, train, predict)
		return serr
	})
	if err != nil {
		return err
	}

	inputRows := len(raw)
	trainRows := len(train)
	predictRows := len(predict)
	if err := o.jobs.UpdateFields(ctx, job.ID, map[string]interface{}{
		"input_rows":   inputRows,
		"train_rows":   trainRows,
		"predict_rows": predictRows,
	}); err != nil {
		return err
	}

	logger.FromContext(ctx).WithFields(logger.Fields{
		"input_rows":   inputRows,
		"train_rows":   trainRows,
		"predict_rows": predictRows,
	}).Info("Input split staged")

	msg := fmt.Sprintf("split %d rows into %d train / %d predict", inputRows, trainRows, predictRows)
	_ = o.jobs.AppendLog(ctx, job.ID, string(domain.JobStatusProcessing), msg)
	return o.jobs.SetStatus(ctx, job.ID, domain.JobStatusTraining, nil)
}

// runTraining submits the training job if no handle is recorded yet, then
// polls until the external service reports a terminal state. The handle is
// persisted before the first poll so a re-claimed job resumes polling
// instead of resubmitting.
func (o *Orchestrator) runTraining(ctx context.Context, workerID string, job *domain.Job) error {
	handle := job.TrainingHandle
	if handle == "" {
		trainRef := storage.Ref(job.StoragePrefix, storage.ArtifactTrainModel)
		h, err := o.model.SubmitTrain(ctx, job.ID, trainRef)
		if err != nil {
			return err
		}
		handle = h
		if err := o.jobs.UpdateFields(ctx, job.ID, map[string]interface{}{"training_handle": handle}); err != nil {
			return err
		}
		_ = o.jobs.AppendLog(ctx, job.ID, string(domain.JobStatusTraining), "submitted training job "+handle)
		logger.FromContext(ctx).WithField("handle", handle).Info("Training job submitted")
	}

	status, err := o.pollTraining(ctx, workerID, job.ID, handle)
	if err != nil {
		return err
	}
	if status.State == model.JobStateFailed {
		return &domain.ExternalServiceError{Op: "train", Reason: status.Reason}
	}

	if err := o.jobs.UpdateFields(ctx, job.ID, map[string]interface{}{"model_artifact_ref": status.ModelRef}); err != nil {
		return err
	}
	_ = o.jobs.AppendLog(ctx, job.ID, string(domain.JobStatusTraining), "training complete, model at "+status.ModelRef)
	return o.jobs.SetStatus(ctx, job.ID, domain.JobStatusPredicting, nil)
}

// runPredicting mirrors runTraining for the inference job.
func (o *Orchestrator) runPredicting(ctx context.Context, workerID string, job *domain.Job) error {
	handle := job.PredictHandle
	if handle == "" {
		predictRef := storage.Ref(job.StoragePrefix, storage.ArtifactPredictModel)
		h, err := o.model.SubmitPredict(ctx, job.ID, job.ModelArtifactRef, predictRef)
		if err != nil {
			return err
		}
		handle = h
		if err := o.jobs.UpdateFields(ctx, job.ID, map[string]interface{}{"predict_handle": handle}); err != nil {
			return err
		}
		_ = o.jobs.AppendLog(ctx, job.ID, string(domain.JobStatusPredicting), "submitted inference job "+handle)
		logger.FromContext(ctx).WithField("handle", handle).Info("Inference job submitted")
	}

	status, err := o.pollPredicting(ctx, workerID, job.ID, handle)
	if err != nil {
		return err
	}
	if status.State == model.JobStateFailed {
		return &domain.ExternalServiceError{Op: "predict", Reason: status.Reason}
	}

	if err := o.jobs.UpdateFields(ctx, job.ID, map[string]interface{}{"result_ref": status.ResultRef}); err != nil {
		return err
	}
	_ = o.jobs.AppendLog(ctx, job.ID, string(domain.JobStatusPredicting), "inference complete")
	return o.jobs.SetStatus(ctx, job.ID, domain.JobStatusMerging, nil)
}

// runMerging combines measured rows with the predicted values and stages
// the final result.
func (o *Orchestrator) runMerging(ctx context.Context, workerID string, job *domain.Job) error {
	var train, predict []domain.Row
	err := o.withStorageRetry(ctx, func() error {
		var ferr error
		train, ferr = o.stager.FetchTrain(ctx, job.StoragePrefix)
		if ferr != nil {
			return ferr
		}
		predict, ferr = o.stager.FetchPredict(ctx, job.StoragePrefix)
		return ferr
	})
	if err != nil {
		return err
	}

	predictions, err := o.model.FetchPredictions(ctx, job.PredictHandle)
	if err != nil {
		return err
	}

	rows, summary, err := merge.Merge(train, predict, predictions)
	if err != nil {
		return err
	}

	err = o.withStorageRetry(ctx, func() error {
		return o.stager.StageResult(ctx, job.StoragePrefix, rows)
	})
	if err != nil {
		return err
	}

	if err := o.jobs.UpdateFields(ctx, job.ID, map[string]interface{}{"output_rows": summary.TotalRows}); err != nil {
		return err
	}

	logger.FromContext(ctx).WithFields(logger.Fields{
		"measured":  summary.MeasuredCount,
		"predicted": summary.PredictedCount,
		"total":     summary.TotalRows,
	}).Info("Result merged")

	msg := fmt.Sprintf("merged %d measured + %d predicted rows", summary.MeasuredCount, summary.PredictedCount)
	_ = o.jobs.AppendLog(ctx, job.ID, string(domain.JobStatusMerging), msg)
	return o.jobs.SetStatus(ctx, job.ID, domain.JobStatusComplete, nil)
}

func (o *Orchestrator) pollTraining(ctx context.Context, workerID, jobID, handle string) (model.TrainStatus, error) {
	var status model.TrainStatus
	err := o.pollUntilDone(ctx, workerID, jobID, func() (model.JobState, error) {
		var perr error
		status, perr = o.model.PollTrain(ctx, handle)
		return status.State, perr
	})
	return status, err
}

func (o *Orchestrator) pollPredicting(ctx context.Context, workerID, jobID, handle string) (model.PredictStatus, error) {
	var status model.PredictStatus
	err := o.pollUntilDone(ctx, workerID, jobID, func() (model.JobState, error) {
		var perr error
		status, perr = o.model.PollPredict(ctx, handle)
		return status.State, perr
	})
	return status, err
}

// pollUntilDone polls the external service with exponential backoff until
// it reports a terminal state. The worker's lease is renewed on every
// iteration; the stage deadline on ctx bounds the total wait.
func (o *Orchestrator) pollUntilDone(ctx context.Context, workerID, jobID string, poll func() (model.JobState, error)) error {
	wait := o.cfg.PollInitial
	for {
		state, err := poll()
		if err != nil {
			return err
		}
		if state != model.JobStateRunning {
			return nil
		}

		if err := o.jobs.RenewLease(ctx, jobID, workerID, o.cfg.LeaseTTL); err != nil {
			return err
		}
		ok, err := o.jobs.Exists(ctx, jobID)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrJobNotFound
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		wait *= 2
		if wait > o.cfg.PollMax {
			wait = o.cfg.PollMax
		}
	}
}

// withStorageRetry runs a storage operation with bounded retries and
// linear backoff. Terminal faults surface immediately.
func (o *Orchestrator) withStorageRetry(ctx context.Context, op func() error) error {
	attempts := o.cfg.StorageAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		if err = op(); err == nil {
			return nil
		}
		if !domain.IsRetryable(err) {
			return err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(o.cfg.StorageBackoff * time.Duration(i+1)):
		}
	}
	return err
}
