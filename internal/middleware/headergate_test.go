package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestServiceGate_HealthExempt(t *testing.T) {
	handler := ServiceGateMiddleware("test-secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestServiceGate_MetricsExempt(t *testing.T) {
	handler := ServiceGateMiddleware("test-secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestServiceGate_MissingHeaders(t *testing.T) {
	handler := ServiceGateMiddleware("test-secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/board/tasks", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestServiceGate_MissingServiceName(t *testing.T) {
	handler := ServiceGateMiddleware("test-secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/board/tasks", nil)
	req.Header.Set("X-Internal-Service-Token", "test-secret")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestServiceGate_MissingSecret(t *testing.T) {
	handler := ServiceGateMiddleware("test-secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/board/tasks", nil)
	req.Header.Set("X-Internal-Service-Name", "court")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestServiceGate_WrongSecret(t *testing.T) {
	handler := ServiceGateMiddleware("correct-secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/board/tasks", nil)
	req.Header.Set("X-Internal-Service-Name", "court")
	req.Header.Set("X-Internal-Service-Token", "wrong-secret")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestServiceGate_CorrectHeaders(t *testing.T) {
	handler := ServiceGateMiddleware("test-secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/board/tasks", nil)
	req.Header.Set("X-Internal-Service-Name", "court")
	req.Header.Set("X-Internal-Service-Token", "test-secret")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestServiceGate_ConstantTimeCompare(t *testing.T) {
	// Verify that different length secrets don't short-circuit
	handler := ServiceGateMiddleware("short")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/board/tasks", nil)
	req.Header.Set("X-Internal-Service-Name", "court")
	req.Header.Set("X-Internal-Service-Token", "a-much-longer-secret-that-is-different")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func BenchmarkServiceGate(b *testing.B) {
	handler := ServiceGateMiddleware("benchmark-secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/board/tasks", nil)
	req.Header.Set("X-Internal-Service-Name", "court")
	req.Header.Set("X-Internal-Service-Token", "benchmark-secret")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
	}
}
