package domain

import "time"

// JobStatus represents the pipeline state of a prediction job.
// A job moves pending → processing → training → predicting → merging →
// complete, or drops into failed from any non-terminal state.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusTraining   JobStatus = "training"
	JobStatusPredicting JobStatus = "predicting"
	JobStatusMerging    JobStatus = "merging"
	JobStatusComplete   JobStatus = "complete"
	JobStatusFailed     JobStatus = "failed"
)

// Scenario selects how prediction targets are determined.
type Scenario string

const (
	// ScenarioSparse synthesizes target stations at even spacing along the traverse.
	ScenarioSparse Scenario = "sparse"
	// ScenarioExplicit uses input rows with an empty value cell as targets.
	ScenarioExplicit Scenario = "explicit"
)

// CoordinateSystem selects the distance formula used along the traverse.
type CoordinateSystem string

const (
	CoordinateSystemProjected  CoordinateSystem = "projected"
	CoordinateSystemGeographic CoordinateSystem = "geographic"
)

// Job represents a traverse prediction job and its pipeline state.
type Job struct {
	ID string `gorm:"type:text;primaryKey" json:"id"`

	// Configuration from submission
	Scenario         Scenario         `gorm:"type:text;not null" json:"scenario"`
	XColumn          string           `gorm:"type:text;not null" json:"x_column"`
	YColumn          string           `gorm:"type:text;not null" json:"y_column"`
	ValueColumn      string           `gorm:"type:text;not null" json:"value_column"`
	StationSpacing   *float64         `json:"station_spacing,omitempty"`
	CoordinateSystem CoordinateSystem `gorm:"type:text;default:projected" json:"coordinate_system"`

	// Pipeline state
	Status       JobStatus `gorm:"type:text;index:idx_jobs_status;default:pending" json:"status"`
	ErrorMessage *string   `json:"error_message,omitempty"`

	// Row counts, filled in as the pipeline computes them
	InputRows   *int `json:"input_rows,omitempty"`
	TrainRows   *int `json:"train_rows,omitempty"`
	PredictRows *int `json:"predict_rows,omitempty"`
	OutputRows  *int `json:"output_rows,omitempty"`

	// External service bookkeeping. Handles are recorded before polling so
	// a re-claimed job never resubmits work already running remotely.
	TrainingHandle   string `gorm:"type:text" json:"-"`
	ModelArtifactRef string `gorm:"type:text" json:"-"`
	PredictHandle    string `gorm:"type:text" json:"-"`
	ResultRef        string `gorm:"type:text" json:"-"`

	// Worker lease. A job is advanced by at most one worker at a time.
	ClaimedBy      string     `gorm:"type:text" json:"-"`
	LeaseExpiresAt *time.Time `json:"-"`

	// Storage prefix under which all staged artifacts for this job live
	StoragePrefix string `gorm:"type:text" json:"-"`

	CreatedAt   time.Time  `gorm:"index:idx_jobs_created_at" json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Logs []JobLog `gorm:"foreignKey:JobID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName returns the database table name for Job.
func (Job) TableName() string {
	return "jobs"
}

// IsTerminal reports whether the job has finished, successfully or not.
func (j *Job) IsTerminal() bool {
	return j.Status == JobStatusComplete || j.Status == JobStatusFailed
}

// IsRunning reports whether a worker is actively advancing the job.
func (j *Job) IsRunning() bool {
	switch j.Status {
	case JobStatusProcessing, JobStatusTraining, JobStatusPredicting, JobStatusMerging:
		return true
	}
	return false
}

// JobLog is an append-only record of a pipeline stage transition.
// Log entries are owned by their job and removed with it.
type JobLog struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	JobID     string    `gorm:"type:text;not null;index:idx_job_logs_job_id" json:"job_id"`
	Stage     string    `gorm:"type:text;not null" json:"stage"`
	Message   string    `gorm:"type:text" json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for JobLog.
func (JobLog) TableName() string {
	return "job_logs"
}
