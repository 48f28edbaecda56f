package model

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gaiageo/gaia/internal/domain"
)

func newTestClient(baseURL string) *HTTPClient {
	return NewHTTPClient(&Config{
		BaseURL:       baseURL,
		Timeout:       5 * time.Second,
		RetryCount:    2,
		RetryWaitTime: 10 * time.Millisecond,
		RetryMaxWait:  50 * time.Millisecond,
	})
}

func TestSubmitTrainIdempotent(t *testing.T) {
	var submissions int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/training-jobs" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var req trainRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Name != "gaia-train-gaia-abc123def456" {
			t.Errorf("train name = %q, want job-keyed name", req.Name)
		}
		if atomic.AddInt32(&submissions, 1) > 1 {
			// Name conflict: the job already exists server-side.
			w.WriteHeader(http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	ctx := context.Background()

	handle1, err := client.SubmitTrain(ctx, "gaia-abc123def456", "jobs/gaia-abc123def456/train_model.csv")
	if err != nil {
		t.Fatalf("first submit returned error: %v", err)
	}
	handle2, err := client.SubmitTrain(ctx, "gaia-abc123def456", "jobs/gaia-abc123def456/train_model.csv")
	if err != nil {
		t.Fatalf("resubmit returned error: %v", err)
	}
	if handle1 != handle2 {
		t.Errorf("handles differ: %q vs %q", handle1, handle2)
	}
}

func TestSubmitTrainRetriesTransientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	if _, err := client.SubmitTrain(context.Background(), "gaia-000000000001", "ref"); err != nil {
		t.Fatalf("submit should succeed after transient 502, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestSubmitTrainDefinitiveFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad hyperparameters", http.StatusBadRequest)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, err := client.SubmitTrain(context.Background(), "gaia-000000000001", "ref")
	var extErr *domain.ExternalServiceError
	if !errors.As(err, &extErr) {
		t.Fatalf("got err %v, want ExternalServiceError", err)
	}
	if domain.IsRetryable(err) {
		t.Error("definitive service failures must not be retryable")
	}
}

func TestPollTrainStates(t *testing.T) {
	testCases := []struct {
		name      string
		response  jobStatusResponse
		wantState JobState
		wantModel string
	}{
		{
			name:      "running",
			response:  jobStatusResponse{Status: "running"},
			wantState: JobStateRunning,
		},
		{
			name:      "succeeded",
			response:  jobStatusResponse{Status: "succeeded", ModelRef: "models/m1"},
			wantState: JobStateSucceeded,
			wantModel: "models/m1",
		},
		{
			name:      "failed",
			response:  jobStatusResponse{Status: "failed", Reason: "diverged"},
			wantState: JobStateFailed,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(tc.response)
			}))
			defer srv.Close()

			status, err := newTestClient(srv.URL).PollTrain(context.Background(), "gaia-train-x")
			if err != nil {
				t.Fatalf("PollTrain returned error: %v", err)
			}
			if status.State != tc.wantState {
				t.Errorf("state = %q, want %q", status.State, tc.wantState)
			}
			if status.ModelRef != tc.wantModel {
				t.Errorf("model ref = %q, want %q", status.ModelRef, tc.wantModel)
			}
		})
	}
}

func TestFetchPredictions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/inference-jobs/gaia-predict-j1/output" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(predictionsResponse{Predictions: []float64{1.5, 2.5, 3.5}})
	}))
	defer srv.Close()

	values, err := newTestClient(srv.URL).FetchPredictions(context.Background(), "gaia-predict-j1")
	if err != nil {
		t.Fatalf("FetchPredictions returned error: %v", err)
	}
	if len(values) != 3 || values[1] != 2.5 {
		t.Errorf("predictions = %v, want [1.5 2.5 3.5]", values)
	}
}
