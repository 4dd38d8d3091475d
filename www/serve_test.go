package www

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"

	"github.com/ssankko/speechkit/health"
)

func TestHealthEndpoint(t *testing.T) {
	tracker := &health.Tracker{}
	poller := health.NewPoller(log.New(io.Discard))
	poller.Interval = time.Hour
	poller.Start(context.Background())
	defer poller.Stop()

	r := chi.NewRouter()
	Routes(r, tracker, poller)

	tok := tracker.Acquire()
	defer tok.Release()

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}

	var report health.Report
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if !report.Busy {
		t.Error("report idle while a busy token is held")
	}
	if report.System.TakenAt.IsZero() {
		t.Error("report carries no telemetry snapshot")
	}
}
