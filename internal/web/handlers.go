package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jandubois/mon/internal/db"
	"github.com/jandubois/mon/internal/ingest"
	"github.com/jandubois/mon/internal/plugin"
	"github.com/samber/lo"
)

// naiveTimestamp is an ISO-8601 timestamp without zone, read as UTC.
const naiveTimestamp = "2006-01-02T15:04:05.999999999"

type registerRequest struct {
	Name     string               `json:"name"`
	Services []*plugin.Descriptor `json:"services"`
}

type readingRequest struct {
	Instance  int64  `json:"service"`
	Reading   string `json:"reading"`
	Value     *int64 `json:"value"`
	Timestamp string `json:"timestamp"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// writeStoreError maps storage errors to a response.
func writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, db.ErrProbeNotFound), errors.Is(err, db.ErrServiceNotFound), errors.Is(err, db.ErrInstanceNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, db.ErrUnknownStatus):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		id, _ := RequestIDFromContext(r.Context())
		slog.Error("request failed", "request_id", id, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	for _, svc := range req.Services {
		if svc == nil || svc.Name == "" {
			writeError(w, http.StatusBadRequest, "service name is required")
			return
		}
	}

	res, err := s.db.RegisterProbe(r.Context(), req.Name, req.Services, s.levels)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	slog.Info("probe registered", "probe", req.Name, "services", len(req.Services), "added", res.Added, "removed", res.Removed)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleMappings(w http.ResponseWriter, r *http.Request) {
	var activeOnly bool
	switch r.URL.Query().Get("status") {
	case "":
	case db.LifecycleActive:
		activeOnly = true
	default:
		writeError(w, http.StatusBadRequest, "status filter must be \"active\"")
		return
	}

	mappings, err := s.db.Mappings(r.Context(), r.PathValue("probe"), activeOnly)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mappings)
}

func (s *Server) handleReadings(w http.ResponseWriter, r *http.Request) {
	var req []readingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	batch := make([]ingest.Tuple, 0, len(req))
	for i, rr := range req {
		t, err := rr.tuple()
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("reading %d: %s", i, err))
			return
		}
		batch = append(batch, t)
	}

	if _, err := s.pipeline.Ingest(r.Context(), r.PathValue("probe"), batch); err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "OK"})
}

func (rr readingRequest) tuple() (ingest.Tuple, error) {
	if rr.Reading == "" {
		return ingest.Tuple{}, errors.New("reading name is required")
	}
	if rr.Value == nil {
		return ingest.Tuple{}, errors.New("value is required")
	}
	ts, err := parseTimestamp(rr.Timestamp)
	if err != nil {
		return ingest.Tuple{}, err
	}
	return ingest.Tuple{
		InstanceID: rr.Instance,
		Reading:    rr.Reading,
		Value:      *rr.Value,
		Timestamp:  ts,
	}, nil
}

// parseTimestamp accepts RFC 3339 and zone-less ISO-8601 timestamps.
func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.ParseInLocation(naiveTimestamp, s, time.UTC); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

func (s *Server) handleGetThresholds(w http.ResponseWriter, r *http.Request) {
	thresholds, err := s.db.Thresholds(r.Context(), r.PathValue("probe"), r.PathValue("service"))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lo.Ternary(thresholds == nil, []db.Threshold{}, thresholds))
}

func (s *Server) handlePutThresholds(w http.ResponseWriter, r *http.Request) {
	var req []db.Threshold
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	for _, t := range req {
		if t.Reading == "" || t.Status == "" {
			writeError(w, http.StatusBadRequest, "reading and status are required")
			return
		}
	}

	probe, service := r.PathValue("probe"), r.PathValue("service")
	if err := s.db.SetThresholds(r.Context(), probe, service, req, s.levels); err != nil {
		writeStoreError(w, r, err)
		return
	}
	slog.Info("threshold overrides stored", "probe", probe, "service", service, "count", len(req))
	s.handleGetThresholds(w, r)
}
