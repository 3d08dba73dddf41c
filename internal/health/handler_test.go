package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/inkvoice/inkvoice/internal/audio"
)

func TestRunChecksAggregation(t *testing.T) {
	healthy := func(ctx context.Context) (Status, error) { return StatusHealthy, nil }
	degraded := func(ctx context.Context) (Status, error) { return StatusDegraded, errors.New("slow") }
	unhealthy := func(ctx context.Context) (Status, error) { return StatusUnhealthy, errors.New("down") }

	t.Run("all healthy", func(t *testing.T) {
		h := NewHandler("test")
		h.Register("a", healthy)
		h.Register("b", healthy)
		resp := h.RunChecks(context.Background())
		if resp.Status != StatusHealthy {
			t.Errorf("status = %s, want healthy", resp.Status)
		}
	})

	t.Run("degraded check degrades the aggregate", func(t *testing.T) {
		h := NewHandler("test")
		h.Register("a", healthy)
		h.Register("b", degraded)
		resp := h.RunChecks(context.Background())
		if resp.Status != StatusDegraded {
			t.Errorf("status = %s, want degraded", resp.Status)
		}
		if resp.Checks["b"].Error == "" {
			t.Error("expected the check error in the result")
		}
	})

	t.Run("unhealthy wins over degraded", func(t *testing.T) {
		h := NewHandler("test")
		h.Register("a", degraded)
		h.Register("b", unhealthy)
		resp := h.RunChecks(context.Background())
		if resp.Status != StatusUnhealthy {
			t.Errorf("status = %s, want unhealthy", resp.Status)
		}
	})
}

func TestReadinessReflectsChecks(t *testing.T) {
	h := NewHandler("test")
	h.Register("dep", func(ctx context.Context) (Status, error) {
		return StatusUnhealthy, errors.New("down")
	})

	rec := httptest.NewRecorder()
	h.ReadinessHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readiness status = %d, want 503", rec.Code)
	}

	var resp Response
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != StatusUnhealthy {
		t.Errorf("body status = %s, want unhealthy", resp.Status)
	}
}

func TestFFmpegCheck(t *testing.T) {
	engine := &audio.FFmpegEngine{}
	status, err := FFmpegCheck(engine)(context.Background())

	// The check mirrors whatever the engine reports on this host: healthy
	// when the binaries exist, degraded otherwise.
	if avail := engine.CheckAvailable(); avail == nil {
		if status != StatusHealthy || err != nil {
			t.Errorf("expected healthy with ffmpeg installed, got %s (%v)", status, err)
		}
	} else {
		if status != StatusDegraded || err == nil {
			t.Errorf("expected degraded without ffmpeg, got %s (%v)", status, err)
		}
	}
}
