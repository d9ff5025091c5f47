// Package httpapi exposes the overlandd HTTP surface: the Overland upload
// endpoint, the live stream, health and metrics probes, and the optional
// operator API.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/overland-tools/overlandd/internal/app/metrics"
	"github.com/overland-tools/overlandd/internal/app/services/ingest"
	"github.com/overland-tools/overlandd/internal/middleware"
	"github.com/overland-tools/overlandd/pkg/logger"
)

// handler bundles the HTTP endpoints over the application services.
type handler struct {
	deps Deps
}

// NewHandler builds the router with the full middleware chain applied.
func NewHandler(deps Deps) http.Handler {
	if deps.Log == nil {
		deps.Log = logger.NewDefault("httpapi")
	}
	h := &handler{deps: deps}

	r := mux.NewRouter()
	r.HandleFunc("/api/input", h.input).Methods(http.MethodPost)
	r.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	if deps.Stream != nil {
		r.HandleFunc("/api/stream", h.stream).Methods(http.MethodGet)
	}
	h.registerAdmin(r)

	r.Use(middleware.NewTracingMiddleware(deps.Log).Handler)
	r.Use(metrics.InstrumentHandler)
	if origins := deps.Config.CORS.Origins(); len(origins) > 0 {
		r.Use(middleware.NewCORSMiddleware(origins).Handler)
	}
	if limiter := deps.rateLimiter(); limiter != nil {
		r.Use(limiter.Handler)
	}

	return r
}

// input is the Overland upload endpoint. Response bodies and status codes
// match what the deployed Overland apps already expect.
func (h *handler) input(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Ingest.Authorize(r.URL.Query().Get("token"), r.Header.Get("Authorization")); err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.deps.Config.Server.MaxBodyBytes)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, errors.New("request body too large"))
			return
		}
		writeError(w, http.StatusBadRequest, errors.New("read request body"))
		return
	}

	meta := ingest.Meta{
		RemoteIP:  clientIP(r, h.deps.Config.Ingest.TrustProxy),
		UserAgent: r.Header.Get("User-Agent"),
	}
	if _, err := h.deps.Ingest.Accept(r.Context(), payload, meta); err != nil {
		if errors.Is(err, ingest.ErrInvalidJSON) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeError(w, http.StatusInternalServerError, errors.New("journal write failed"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// stream upgrades authenticated subscribers onto the broadcast hub.
func (h *handler) stream(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Ingest.Authorize(r.URL.Query().Get("token"), r.Header.Get("Authorization")); err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	h.deps.Stream.Subscribe(w, r)
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	status := h.deps.Health.Check(r.Context())
	writeJSON(w, http.StatusOK, status)
}

// clientIP resolves the address recorded in the journal. Only the first
// X-Forwarded-For hop is trusted, and only when the deployment says there is
// a proxy in front.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first := strings.TrimSpace(strings.Split(fwd, ",")[0])
			if first != "" {
				return first
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// uptime is shared by the admin stats endpoint.
func uptime(started time.Time) int64 {
	return int64(time.Since(started).Seconds())
}
