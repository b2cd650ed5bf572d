package pipeline

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"time"

	"call-insights-go/internal/aggregator"
	"call-insights-go/internal/queue"
	"call-insights-go/internal/watcher"
)

type statusResponse struct {
	Watcher     watcher.Status `json:"watcher"`
	Queue       queue.Stats    `json:"queue"`
	InFlight    int            `json:"in_flight"`
	SyncEnabled bool           `json:"sync_enabled"`
	Uptime      string         `json:"uptime"`
}

// Handler serves the ops endpoints.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /reprocess", s.handleReprocess)
	return mux
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.log.WithRequest(r).Debug("health check")
	if !s.queue.Healthy() {
		http.Error(w, "queue not running", http.StatusServiceUnavailable)
		return
	}
	w.Write([]byte("ok"))
}

// handleStats reports an empty summary, not an error, when the store
// cannot be read.
func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	reqLog := s.log.WithRequest(r).WithField("handler", "stats")
	recs, err := s.store.Scan(r.Context())
	if err != nil {
		reqLog.WithError(err).Error("error getting processing stats")
		recs = nil
	}
	writeJSON(w, http.StatusOK, aggregator.Aggregate(recs))
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.log.WithRequest(r).Debug("status")
	uptime := ""
	if !s.started.IsZero() {
		uptime = time.Since(s.started).Round(time.Second).String()
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Watcher:     s.watcher.Status(),
		Queue:       s.queue.Stats(),
		InFlight:    s.proc.InFlight(),
		SyncEnabled: s.sync != nil,
		Uptime:      uptime,
	})
}

func (s *Service) handleReprocess(w http.ResponseWriter, r *http.Request) {
	reqLog := s.log.WithRequest(r).WithField("handler", "reprocess")
	name := r.URL.Query().Get("filename")
	if name == "" {
		http.Error(w, "missing filename", http.StatusBadRequest)
		return
	}
	reqLog = reqLog.WithField("filename", name)
	res, err := s.proc.Reprocess(r.Context(), name)
	if err != nil {
		reqLog.WithError(err).Warn("reprocess failed")
		code := http.StatusInternalServerError
		if errors.Is(err, fs.ErrNotExist) {
			code = http.StatusNotFound
		}
		http.Error(w, err.Error(), code)
		return
	}
	reqLog.WithField("outcome", res.Outcome).Info("reprocess finished")
	writeJSON(w, http.StatusOK, res)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
