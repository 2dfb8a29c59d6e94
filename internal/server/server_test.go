package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/expirytrack/collector/internal/config"
	"github.com/expirytrack/collector/internal/model"
	"github.com/expirytrack/collector/internal/progress"
	"github.com/expirytrack/collector/internal/rategate"
	"github.com/expirytrack/collector/internal/scheduler"
)

// fakeRuns is a canned RunService.
type fakeRuns struct {
	run       model.Run
	progress  model.RunProgress
	failed    []model.Unit
	startErr  error
	cancelErr error
	resumed   []model.Run
}

func (f *fakeRuns) StartRun(_ context.Context, sel model.Selection, opts model.RunOptions) (model.Run, error) {
	if f.startErr != nil {
		return model.Run{}, f.startErr
	}
	return f.run, nil
}

func (f *fakeRuns) Progress(_ context.Context, runID uuid.UUID) (model.RunProgress, error) {
	if runID != f.run.ID {
		return model.RunProgress{}, progress.ErrNotFound
	}
	return f.progress, nil
}

func (f *fakeRuns) FailedUnits(_ context.Context, runID uuid.UUID) ([]model.Unit, error) {
	if runID != f.run.ID {
		return nil, progress.ErrNotFound
	}
	return f.failed, nil
}

func (f *fakeRuns) Cancel(_ context.Context, runID uuid.UUID) error {
	if runID != f.run.ID {
		return scheduler.ErrRunNotActive
	}
	return f.cancelErr
}

func (f *fakeRuns) ResumeIncomplete(_ context.Context) ([]model.Run, error) {
	return f.resumed, nil
}

type fakeGate struct{ stats rategate.Stats }

func (f *fakeGate) Snapshot() rategate.Stats { return f.stats }

func newTestServer(t *testing.T, runs RunService, gate GateStats) *httptest.Server {
	t.Helper()
	s := New(config.ServerConfig{Port: 0}, runs, gate, nil)
	ts := httptest.NewServer(s.routes())
	t.Cleanup(ts.Close)
	return ts
}

func defaultFakeRuns() *fakeRuns {
	runID := uuid.New()
	return &fakeRuns{
		run: model.Run{
			ID:        runID,
			Status:    model.RunRunning,
			CreatedAt: time.Now().UTC(),
		},
		progress: model.RunProgress{
			RunID:   runID,
			Status:  model.RunRunning,
			Phase:   model.PhaseFetchSeries,
			Percent: 40,
			Counts:  model.RunCounts{Pending: 4, InFlight: 2, Done: 4},
		},
	}
}

func TestServer_Health(t *testing.T) {
	ts := newTestServer(t, defaultFakeRuns(), &fakeGate{})

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Errorf(`body["status"] = %q, want "ok"`, body["status"])
	}
}

func TestServer_StartRun(t *testing.T) {
	runs := defaultFakeRuns()
	ts := newTestServer(t, runs, &fakeGate{})

	req := map[string]any{
		"instrument_keys": []string{"NSE_INDEX|Nifty 50"},
		"months_back":     3,
		"interval":        "1minute",
	}
	payload, _ := json.Marshal(req)

	resp, err := http.Post(ts.URL+"/api/runs", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST /api/runs error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Errorf("status = %d, want 201", resp.StatusCode)
	}
	var body runResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if body.RunID != runs.run.ID {
		t.Errorf("run_id = %s, want %s", body.RunID, runs.run.ID)
	}
}

func TestServer_StartRun_BadRequest(t *testing.T) {
	runs := defaultFakeRuns()
	runs.startErr = errors.New("selection has no instruments")
	ts := newTestServer(t, runs, &fakeGate{})

	resp, err := http.Post(ts.URL+"/api/runs", "application/json", bytes.NewReader([]byte(`{}`)))
	if err != nil {
		t.Fatalf("POST /api/runs error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestServer_StartRun_InvalidJSON(t *testing.T) {
	ts := newTestServer(t, defaultFakeRuns(), &fakeGate{})

	resp, err := http.Post(ts.URL+"/api/runs", "application/json", bytes.NewReader([]byte(`{not json`)))
	if err != nil {
		t.Fatalf("POST runs error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestServer_Progress(t *testing.T) {
	runs := defaultFakeRuns()
	ts := newTestServer(t, runs, &fakeGate{})

	resp, err := http.Get(fmt.Sprintf("%s/api/runs/%s/progress", ts.URL, runs.run.ID))
	if err != nil {
		t.Fatalf("GET progress error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	var p model.RunProgress
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if p.Percent != 40 || p.Phase != model.PhaseFetchSeries {
		t.Errorf("progress = %+v", p)
	}
}

func TestServer_Progress_NotFound(t *testing.T) {
	ts := newTestServer(t, defaultFakeRuns(), &fakeGate{})

	resp, err := http.Get(fmt.Sprintf("%s/api/runs/%s/progress", ts.URL, uuid.New()))
	if err != nil {
		t.Fatalf("GET progress error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestServer_Progress_BadID(t *testing.T) {
	ts := newTestServer(t, defaultFakeRuns(), &fakeGate{})

	resp, err := http.Get(ts.URL + "/api/runs/not-a-uuid/progress")
	if err != nil {
		t.Fatalf("GET progress error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestServer_Failures(t *testing.T) {
	runs := defaultFakeRuns()
	runs.failed = []model.Unit{{
		RunID:     runs.run.ID,
		Phase:     model.PhaseFetchSeries,
		Key:       "NSE_FO|51234~2026-01-01~2026-01-30",
		Attempts:  4,
		LastError: "upstream api error 502: Bad Gateway",
	}}
	ts := newTestServer(t, runs, &fakeGate{})

	resp, err := http.Get(fmt.Sprintf("%s/api/runs/%s/failures", ts.URL, runs.run.ID))
	if err != nil {
		t.Fatalf("GET failures error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		Failures []struct {
			Phase    string `json:"phase"`
			Key      string `json:"key"`
			Attempts int    `json:"attempts"`
			Error    string `json:"error"`
		} `json:"failures"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(body.Failures) != 1 || body.Failures[0].Attempts != 4 {
		t.Errorf("failures = %+v", body.Failures)
	}
}

func TestServer_Cancel(t *testing.T) {
	runs := defaultFakeRuns()
	ts := newTestServer(t, runs, &fakeGate{})

	resp, err := http.Post(fmt.Sprintf("%s/api/runs/%s/cancel", ts.URL, runs.run.ID), "", nil)
	if err != nil {
		t.Fatalf("POST cancel error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestServer_Cancel_NotActive(t *testing.T) {
	ts := newTestServer(t, defaultFakeRuns(), &fakeGate{})

	resp, err := http.Post(fmt.Sprintf("%s/api/runs/%s/cancel", ts.URL, uuid.New()), "", nil)
	if err != nil {
		t.Fatalf("POST cancel error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
}

func TestServer_Resume(t *testing.T) {
	runs := defaultFakeRuns()
	runs.resumed = []model.Run{runs.run}
	ts := newTestServer(t, runs, &fakeGate{})

	resp, err := http.Post(ts.URL+"/api/runs/resume", "", nil)
	if err != nil {
		t.Fatalf("POST resume error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		Resumed []runResponse `json:"resumed"`
	}
	json.NewDecoder(resp.Body).Decode(&body)
	if len(body.Resumed) != 1 {
		t.Errorf("resumed = %d runs, want 1", len(body.Resumed))
	}
}

func TestServer_RateLimit(t *testing.T) {
	gate := &fakeGate{stats: rategate.Stats{
		TotalRequests: 1234,
		BackoffFactor: 1.2,
		Windows: []rategate.WindowStats{
			{Capacity: 45, Effective: 45, Duration: time.Second, Used: 12},
		},
	}}
	ts := newTestServer(t, defaultFakeRuns(), gate)

	resp, err := http.Get(ts.URL + "/api/ratelimit")
	if err != nil {
		t.Fatalf("GET ratelimit error = %v", err)
	}
	defer resp.Body.Close()

	var stats rategate.Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if stats.TotalRequests != 1234 || stats.BackoffFactor != 1.2 {
		t.Errorf("stats = %+v", stats)
	}
}
