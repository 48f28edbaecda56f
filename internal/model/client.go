// Package model is the protocol adapter for the external training and
// inference service. The service is an opaque request/poll capability;
// this package only knows its small REST surface.
package model

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gaiageo/gaia/internal/domain"
	"github.com/go-resty/resty/v2"
)

// JobState is the lifecycle state reported by the external service.
type JobState string

const (
	JobStateRunning   JobState = "running"
	JobStateSucceeded JobState = "succeeded"
	JobStateFailed    JobState = "failed"
)

// TrainStatus is the result of polling a training job.
type TrainStatus struct {
	State    JobState
	ModelRef string // set when succeeded
	Reason   string // set when failed
}

// PredictStatus is the result of polling an inference job.
type PredictStatus struct {
	State     JobState
	ResultRef string // set when succeeded
	Reason    string // set when failed
}

// Client is the narrow contract the orchestrator needs from the external
// service. Submissions are idempotent: the same job never spawns two
// external jobs, no matter how often a submit is retried.
type Client interface {
	SubmitTrain(ctx context.Context, jobID, trainRef string) (string, error)
	PollTrain(ctx context.Context, handle string) (TrainStatus, error)
	SubmitPredict(ctx context.Context, jobID, modelRef, predictRef string) (string, error)
	PollPredict(ctx context.Context, handle string) (PredictStatus, error)
	FetchPredictions(ctx context.Context, handle string) ([]float64, error)
}

// Config holds configuration for the HTTP client.
type Config struct {
	BaseURL       string
	APIKey        string
	Timeout       time.Duration
	RetryCount    int
	RetryWaitTime time.Duration
	RetryMaxWait  time.Duration
}

// HTTPClient implements Client against the service's REST API.
type HTTPClient struct {
	client  *resty.Client
	baseURL string
}

// NewHTTPClient creates the REST adapter. Transient transport failures and
// 5xx responses are retried with backoff inside the client; definitive
// failure responses are surfaced immediately as ExternalServiceError.
func NewHTTPClient(cfg *Config) *HTTPClient {
	client := resty.New()
	client.SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	}
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}
	client.SetRetryCount(cfg.RetryCount)
	if cfg.RetryWaitTime > 0 {
		client.SetRetryWaitTime(cfg.RetryWaitTime)
	}
	if cfg.RetryMaxWait > 0 {
		client.SetRetryMaxWaitTime(cfg.RetryMaxWait)
	}
	client.AddRetryCondition(func(r *resty.Response, err error) bool {
		// Network errors and server-side faults are transient; anything
		// the service answered with a 4xx is definitive.
		return err != nil || r.StatusCode() >= http.StatusInternalServerError
	})

	return &HTTPClient{
		client:  client,
		baseURL: cfg.BaseURL,
	}
}

// trainRequest mirrors the service's training job creation body. The
// hyperparameters are the regression defaults the platform has always
// trained traverses with.
type trainRequest struct {
	Name            string            `json:"name"`
	InputRef        string            `json:"input_ref"`
	Hyperparameters map[string]string `json:"hyperparameters,omitempty"`
}

type predictRequest struct {
	Name     string `json:"name"`
	ModelRef string `json:"model_ref"`
	InputRef string `json:"input_ref"`
}

type jobStatusResponse struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	ModelRef  string `json:"model_ref,omitempty"`
	ResultRef string `json:"result_ref,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

type predictionsResponse struct {
	Predictions []float64 `json:"predictions"`
}

func defaultHyperparameters() map[string]string {
	return map[string]string{
		"objective":   "reg:squarederror",
		"num_round":   "100",
		"max_depth":   "6",
		"eta":         "0.3",
		"subsample":   "0.8",
		"eval_metric": "rmse",
	}
}

// trainHandleFor derives the external training job name from the job ID.
// Submissions keyed this way make a retried submit a server-side no-op.
func trainHandleFor(jobID string) string {
	return "gaia-train-" + jobID
}

func predictHandleFor(jobID string) string {
	return "gaia-predict-" + jobID
}

// SubmitTrain starts a training job for the staged train blob. Safe to
// retry: a name conflict means the job already exists and is returned as
// success.
func (c *HTTPClient) SubmitTrain(ctx context.Context, jobID, trainRef string) (string, error) {
	handle := trainHandleFor(jobID)
	body := trainRequest{
		Name:            handle,
		InputRef:        trainRef,
		Hyperparameters: defaultHyperparameters(),
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(body).
		Post(c.baseURL + "/v1/training-jobs")
	if err != nil {
		return "", fmt.Errorf("submit train: %w", err)
	}
	if err := c.checkSubmit(resp, "train submit"); err != nil {
		return "", err
	}
	return handle, nil
}

// PollTrain fetches the current state of a training job.
func (c *HTTPClient) PollTrain(ctx context.Context, handle string) (TrainStatus, error) {
	var status jobStatusResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&status).
		Get(c.baseURL + "/v1/training-jobs/" + handle)
	if err != nil {
		return TrainStatus{}, fmt.Errorf("poll train: %w", err)
	}
	if resp.IsError() {
		return TrainStatus{}, &domain.ExternalServiceError{
			Op:     "train poll",
			Reason: fmt.Sprintf("HTTP %d: %s", resp.StatusCode(), resp.String()),
		}
	}

	switch JobState(status.Status) {
	case JobStateSucceeded:
		return TrainStatus{State: JobStateSucceeded, ModelRef: status.ModelRef}, nil
	case JobStateFailed:
		return TrainStatus{State: JobStateFailed, Reason: status.Reason}, nil
	default:
		return TrainStatus{State: JobStateRunning}, nil
	}
}

// SubmitPredict starts an inference job for the staged predict blob
// against a trained model. Idempotent like SubmitTrain.
func (c *HTTPClient) SubmitPredict(ctx context.Context, jobID, modelRef, predictRef string) (string, error) {
	handle := predictHandleFor(jobID)
	body := predictRequest{
		Name:     handle,
		ModelRef: modelRef,
		InputRef: predictRef,
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(body).
		Post(c.baseURL + "/v1/inference-jobs")
	if err != nil {
		return "", fmt.Errorf("submit predict: %w", err)
	}
	if err := c.checkSubmit(resp, "predict submit"); err != nil {
		return "", err
	}
	return handle, nil
}

// PollPredict fetches the current state of an inference job.
func (c *HTTPClient) PollPredict(ctx context.Context, handle string) (PredictStatus, error) {
	var status jobStatusResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&status).
		Get(c.baseURL + "/v1/inference-jobs/" + handle)
	if err != nil {
		return PredictStatus{}, fmt.Errorf("poll predict: %w", err)
	}
	if resp.IsError() {
		return PredictStatus{}, &domain.ExternalServiceError{
			Op:     "predict poll",
			Reason: fmt.Sprintf("HTTP %d: %s", resp.StatusCode(), resp.String()),
		}
	}

	switch JobState(status.Status) {
	case JobStateSucceeded:
		return PredictStatus{State: JobStateSucceeded, ResultRef: status.ResultRef}, nil
	case JobStateFailed:
		return PredictStatus{State: JobStateFailed, Reason: status.Reason}, nil
	default:
		return PredictStatus{State: JobStateRunning}, nil
	}
}

// FetchPredictions downloads the predicted values of a completed
// inference job, one value per predict row, in input order.
func (c *HTTPClient) FetchPredictions(ctx context.Context, handle string) ([]float64, error) {
	var out predictionsResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&out).
		Get(c.baseURL + "/v1/inference-jobs/" + handle + "/output")
	if err != nil {
		return nil, fmt.Errorf("fetch predictions: %w", err)
	}
	if resp.IsError() {
		return nil, &domain.ExternalServiceError{
			Op:     "fetch predictions",
			Reason: fmt.Sprintf("HTTP %d: %s", resp.StatusCode(), resp.String()),
		}
	}
	return out.Predictions, nil
}

// checkSubmit classifies a submit response. 409 means the named job
// already exists, which is the idempotent-resubmit case and counts as
// success; other 4xx are definitive failures.
func (c *HTTPClient) checkSubmit(resp *resty.Response, op string) error {
	if !resp.IsError() || resp.StatusCode() == http.StatusConflict {
		return nil
	}
	return &domain.ExternalServiceError{
		Op:     op,
		Reason: fmt.Sprintf("HTTP %d: %s", resp.StatusCode(), resp.String()),
	}
}
