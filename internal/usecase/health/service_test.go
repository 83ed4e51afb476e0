package health

import (
	"context"
	"errors"
	"testing"
)

type mockPinger struct{ err error }

func (m *mockPinger) Ping(_ context.Context) error { return m.err }

type mockChecker struct{ err error }

func (m *mockChecker) HealthCheck(_ context.Context) error { return m.err }

func TestCheck_AllHealthy(t *testing.T) {
	svc := New(&mockPinger{}, &mockChecker{})
	report := svc.Check(context.Background())

	if report.Status != Healthy {
		t.Errorf("expected ok, got %s", report.Status)
	}
	if report.Checks["database"] != CheckOK || report.Checks["embedding"] != CheckOK {
		t.Errorf("unexpected checks: %v", report.Checks)
	}
}

func TestCheck_DatabaseDownIsUnhealthy(t *testing.T) {
	svc := New(&mockPinger{err: errors.New("refused")}, &mockChecker{})
	report := svc.Check(context.Background())

	if report.Status != Unhealthy {
		t.Errorf("expected error status, got %s", report.Status)
	}
}

func TestCheck_EmbeddingDownIsDegraded(t *testing.T) {
	svc := New(&mockPinger{}, &mockChecker{err: errors.New("401")})
	report := svc.Check(context.Background())

	if report.Status != Degraded {
		t.Errorf("expected degraded, got %s", report.Status)
	}
	if report.Checks["embedding"] != CheckError {
		t.Errorf("unexpected checks: %v", report.Checks)
	}
}

func TestCheck_NilEmbeddingSkipsProbe(t *testing.T) {
	svc := New(&mockPinger{}, nil)
	report := svc.Check(context.Background())

	if _, ok := report.Checks["embedding"]; ok {
		t.Error("nil checker must not be probed")
	}
	if report.Status != Healthy {
		t.Errorf("expected ok, got %s", report.Status)
	}
}
