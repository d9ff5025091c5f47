package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                        "/",
		"/":                       "/",
		"/healthz":                "/healthz",
		"/metrics":                "/metrics",
		"/auth/login":             "/auth",
		"/api":                    "/api",
		"/api/input":              "/api/input",
		"/api/stream":             "/api/stream",
		"/api/admin":              "/api/admin",
		"/api/admin/batches":      "/api/admin/batches",
		"/api/admin/devices/123":  "/api/admin/devices",
		"/api/input/extra/depth":  "/api/input",
		"/api/admin/stats/deeper": "/api/admin/stats",
	}
	for raw, want := range cases {
		if got := canonicalPath(raw); got != want {
			t.Fatalf("canonicalPath(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestInstrumentHandlerPreservesResponse(t *testing.T) {
	h := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/input", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusTeapot {
		t.Fatalf("unexpected status %d", rr.Code)
	}
	if rr.Body.String() != "short and stout" {
		t.Fatalf("unexpected body %q", rr.Body.String())
	}
}

func TestMetricsHandlerServes(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rr.Code)
	}
	if rr.Body.Len() == 0 {
		t.Fatal("expected metric exposition output")
	}
}
