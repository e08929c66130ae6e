package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/softcane/scaledown-agent/internal/controller"
)

type stubRunner struct {
	report controller.Report
	sweep  controller.SweepReport
	err    error
	runs   int
	sweeps int
}

func (s *stubRunner) RunOnce(ctx context.Context) (controller.Report, error) {
	s.runs++
	return s.report, s.err
}

func (s *stubRunner) Sweep(ctx context.Context) (controller.SweepReport, error) {
	s.sweeps++
	return s.sweep, s.err
}

func do(t *testing.T, h http.Handler, method, target string) (*http.Response, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	resp := rec.Result()
	body, _ := io.ReadAll(resp.Body)
	return resp, string(body)
}

func TestScaleDown_PlainText(t *testing.T) {
	runner := &stubRunner{report: controller.Report{Outcome: controller.OutcomeRemoved, Removed: []string{"a", "b"}}}
	h := New(Config{Runner: runner}).Handler()

	for _, method := range []string{http.MethodGet, http.MethodPost} {
		resp, body := do(t, h, method, "/api/scaledown")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", method, resp.StatusCode)
		}
		if body != "Done, number of deallocated instances 2: a, b" {
			t.Errorf("%s: unexpected body %q", method, body)
		}
	}
	if runner.runs != 2 {
		t.Errorf("expected 2 runs, got %d", runner.runs)
	}
}

func TestScaleDown_JSON(t *testing.T) {
	runner := &stubRunner{report: controller.Report{Outcome: controller.OutcomeAllBusy, ScaleSetID: "web", Removed: []string{}}}
	h := New(Config{Runner: runner}).Handler()

	resp, body := do(t, h, http.MethodGet, "/api/scaledown?format=json")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("unexpected content type %q", ct)
	}

	var got struct {
		Message    string `json:"message"`
		Outcome    string `json:"outcome"`
		ScaleSetID string `json:"scale_set_id"`
	}
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Message != "All instances are busy" || got.Outcome != "all_busy" || got.ScaleSetID != "web" {
		t.Errorf("unexpected response %+v", got)
	}
}

func TestScaleDown_ErrorIs500(t *testing.T) {
	runner := &stubRunner{err: errors.New("metrics: no metric table found for prefix")}
	h := New(Config{Runner: runner}).Handler()

	resp, body := do(t, h, http.MethodPost, "/api/scaledown")
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
	if !strings.Contains(body, "no metric table") {
		t.Errorf("unexpected body %q", body)
	}
}

func TestSweep(t *testing.T) {
	runner := &stubRunner{sweep: controller.SweepReport{Removed: []string{"i-1"}}}
	h := New(Config{Runner: runner}).Handler()

	resp, body := do(t, h, http.MethodPost, "/api/sweep")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body != "Done, number of removed stopped instances 1: i-1" {
		t.Errorf("unexpected body %q", body)
	}
	if runner.sweeps != 1 {
		t.Errorf("expected 1 sweep, got %d", runner.sweeps)
	}
}

func TestRoutes(t *testing.T) {
	h := New(Config{Runner: &stubRunner{}}).Handler()

	if resp, body := do(t, h, http.MethodGet, "/healthz"); resp.StatusCode != http.StatusOK || body != "ok" {
		t.Errorf("healthz: %d %q", resp.StatusCode, body)
	}
	if resp, _ := do(t, h, http.MethodGet, "/metrics"); resp.StatusCode != http.StatusOK {
		t.Errorf("metrics: %d", resp.StatusCode)
	}
	if resp, _ := do(t, h, http.MethodDelete, "/api/scaledown"); resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 for DELETE, got %d", resp.StatusCode)
	}
}
