package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequestIDGenerated(t *testing.T) {
	var captured string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = GetRequestID(r.Context())
	})

	rec := httptest.NewRecorder()
	RequestID()(inner).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if captured == "" {
		t.Fatal("no request id in context")
	}
	if rec.Header().Get(RequestIDHeader) != captured {
		t.Errorf("header %q does not match context id %q",
			rec.Header().Get(RequestIDHeader), captured)
	}
}

func TestRequestIDHonorsInbound(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "trace-42")

	rec := httptest.NewRecorder()
	RequestID()(okHandler()).ServeHTTP(rec, req)

	if rec.Header().Get(RequestIDHeader) != "trace-42" {
		t.Errorf("inbound id not echoed: %q", rec.Header().Get(RequestIDHeader))
	}
}

func TestGetRequestIDMissing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if GetRequestID(req.Context()) != "" {
		t.Error("expected empty id for bare context")
	}
}

func TestRecoveryTurnsPanicInto500(t *testing.T) {
	panicking := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	rec := httptest.NewRecorder()
	Recovery(zap.NewNop())(panicking).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status: got %d, want 500", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct == "" {
		t.Error("missing content type on panic response")
	}
}

func TestRecoveryPassesThrough(t *testing.T) {
	rec := httptest.NewRecorder()
	Recovery(zap.NewNop())(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status: got %d, want 200", rec.Code)
	}
}

func TestLoggingPreservesResponse(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout"))
	})

	rec := httptest.NewRecorder()
	Logging(zap.NewNop())(inner).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusTeapot {
		t.Errorf("status: got %d, want 418", rec.Code)
	}
	if rec.Body.String() != "short and stout" {
		t.Errorf("body: got %q", rec.Body.String())
	}
}

func TestResponseWriterDefaultsTo200(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("implicit"))
	})

	rec := httptest.NewRecorder()
	Logging(zap.NewNop())(inner).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status: got %d, want 200", rec.Code)
	}
}
