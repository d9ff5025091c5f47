package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/overland-tools/overlandd/internal/app/domain/location"
	"github.com/overland-tools/overlandd/internal/app/storage"
	"github.com/overland-tools/overlandd/internal/middleware"
)

const defaultBatchLimit = 50

// registerAdmin mounts the operator API when credentials are configured. An
// unconfigured deployment has no /auth or /api/admin routes at all.
func (h *handler) registerAdmin(r *mux.Router) {
	if h.deps.Auth == nil || !h.deps.Auth.Enabled() {
		return
	}

	r.HandleFunc("/auth/login", h.login).Methods(http.MethodPost)

	admin := r.PathPrefix("/api/admin").Subrouter()
	admin.Use(middleware.NewAuthMiddleware(h.deps.Auth).Handler)
	admin.HandleFunc("/batches", h.adminBatches).Methods(http.MethodGet)
	admin.HandleFunc("/devices", h.adminDevices).Methods(http.MethodGet)
	admin.HandleFunc("/devices/{id}", h.adminDevice).Methods(http.MethodGet)
	admin.HandleFunc("/stats", h.adminStats).Methods(http.MethodGet)
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	token, expires, err := h.deps.Auth.Login(payload.Username, payload.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, errors.New("invalid credentials"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":      token,
		"expires_at": expires.UTC().Format(time.RFC3339),
	})
}

type batchResponse struct {
	ID         string          `json:"id"`
	ReceivedAt time.Time       `json:"received_at"`
	RemoteIP   string          `json:"remote_ip,omitempty"`
	UserAgent  string          `json:"user_agent,omitempty"`
	DeviceID   string          `json:"device_id,omitempty"`
	Locations  int             `json:"locations"`
	Payload    json.RawMessage `json:"payload"`
}

func toBatchResponse(rec location.Record) batchResponse {
	return batchResponse{
		ID:         rec.ID,
		ReceivedAt: rec.ReceivedAt,
		RemoteIP:   rec.RemoteIP,
		UserAgent:  rec.UserAgent,
		DeviceID:   rec.DeviceID,
		Locations:  rec.Locations,
		Payload:    rec.Payload,
	}
}

func (h *handler) adminBatches(w http.ResponseWriter, r *http.Request) {
	limit := defaultBatchLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = parsed
	}

	recs, err := h.deps.Batches.RecentBatches(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	out := make([]batchResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toBatchResponse(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

type fixResponse struct {
	DeviceID   string    `json:"device_id"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Altitude   float64   `json:"altitude,omitempty"`
	Speed      float64   `json:"speed,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
	ReceivedAt time.Time `json:"received_at"`
}

func toFixResponse(fix location.Fix) fixResponse {
	return fixResponse{
		DeviceID:   fix.DeviceID,
		Latitude:   fix.Latitude,
		Longitude:  fix.Longitude,
		Altitude:   fix.Altitude,
		Speed:      fix.Speed,
		RecordedAt: fix.RecordedAt,
		ReceivedAt: fix.ReceivedAt,
	}
}

func (h *handler) adminDevices(w http.ResponseWriter, r *http.Request) {
	fixes, err := h.deps.Devices.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	out := make([]fixResponse, 0, len(fixes))
	for _, fix := range fixes {
		out = append(out, toFixResponse(fix))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) adminDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["id"]
	fix, err := h.deps.Devices.Get(r.Context(), deviceID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, errors.New("unknown device"))
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, toFixResponse(fix))
}

func (h *handler) adminStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.deps.Batches.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	body := map[string]interface{}{
		"uptime_seconds": uptime(h.deps.Started),
		"batches":        stats.Batches,
		"locations":      stats.Locations,
		"devices":        stats.Devices,
	}
	if !stats.LastUpload.IsZero() {
		body["last_upload"] = stats.LastUpload.UTC().Format(time.RFC3339)
	}
	if h.deps.Journal != nil {
		body["journal"] = map[string]interface{}{
			"path":  h.deps.Journal.Path(),
			"bytes": h.deps.Journal.Size(),
		}
	}
	if h.deps.Stream != nil {
		body["stream_clients"] = h.deps.Stream.ClientCount()
	}
	writeJSON(w, http.StatusOK, body)
}
