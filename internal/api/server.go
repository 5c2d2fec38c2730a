// Package api serves the session status and the user actions (calibrate,
// volume) over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"posturewatch/internal/alerting"
	"posturewatch/internal/alerts"
	"posturewatch/internal/calibration"
	"posturewatch/internal/config"
	"posturewatch/internal/engine"
	"posturewatch/internal/metrics"
	"posturewatch/internal/model"
)

// Controller is the part of the engine the API drives.
type Controller interface {
	Status() model.Status
	Calibrate(ctx context.Context) (model.Calibration, error)
	SetVolume(ctx context.Context, level float64) error
	UpdateConfig(ctx context.Context, cfg *config.Config) error
	Reset(ctx context.Context) error
}

type Server struct {
	cfg     *config.Manager
	metrics *metrics.Store
	alerts  *alerts.Store
	engine  Controller
	logger  *slog.Logger
	version string
}

type statusResponse struct {
	model.Status
	Time       string       `json:"time"`
	Version    string       `json:"version"`
	ConfigPath string       `json:"config_path,omitempty"`
	Ingest     ingestStatus `json:"ingest"`
}

type ingestStatus struct {
	REST      bool `json:"rest"`
	WebSocket bool `json:"websocket"`
	FileTail  bool `json:"file_tail"`
	TCPStream bool `json:"tcp_stream"`
	Kafka     bool `json:"kafka"`
}

func NewServer(cfg *config.Manager, metricsStore *metrics.Store, alertsStore *alerts.Store, ctrl Controller, logger *slog.Logger, version string) *Server {
	return &Server{
		cfg:     cfg,
		metrics: metricsStore,
		alerts:  alertsStore,
		engine:  ctrl,
		logger:  logger,
		version: version,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/calibrate", s.handleCalibrate)
	mux.HandleFunc("/volume", s.handleVolume)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/metrics/", s.handleMetrics)
	mux.HandleFunc("/alerts", s.handleAlerts)
	mux.HandleFunc("/config/classifier", s.handleClassifier)
	mux.HandleFunc("/admin/clear", s.handleClear)
	mux.HandleFunc("/admin/reset", s.handleReset)
	return mux
}

func Start(ctx context.Context, cfg *config.Manager, metricsStore *metrics.Store, alertsStore *alerts.Store, ctrl Controller, logger *slog.Logger, version string) *http.Server {
	if cfg == nil {
		return nil
	}
	current := cfg.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	server := NewServer(cfg, metricsStore, alertsStore, ctrl, logger, version)
	httpServer := &http.Server{Addr: current.Addr, Handler: server.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.cfg.Get()
	resp := statusResponse{
		Status:     s.engine.Status(),
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Version:    s.version,
		ConfigPath: s.cfg.Path(),
		Ingest: ingestStatus{
			REST:      cfg.Ingest.REST.Enabled,
			WebSocket: cfg.Ingest.WebSocket.Enabled,
			FileTail:  cfg.Ingest.FileTail.Enabled,
			TCPStream: cfg.Ingest.TCPStream.Enabled,
			Kafka:     cfg.Ingest.Kafka.Enabled,
		},
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleCalibrate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cal, err := s.engine.Calibrate(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"calibration": cal})
	case errors.Is(err, calibration.ErrNoLandmarks):
		writeError(w, http.StatusConflict, "no_landmarks", err)
	default:
		s.engineError(w, err)
	}
}

func (s *Server) handleVolume(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"volume": s.engine.Status().Volume})
	case http.MethodPost:
		var req struct {
			Volume *float64 `json:"volume"`
		}
		if err := decodeBody(w, r, &req); err != nil || req.Volume == nil {
			writeError(w, http.StatusBadRequest, "invalid_body", err)
			return
		}
		err := s.engine.SetVolume(r.Context(), *req.Volume)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, map[string]any{"volume": *req.Volume})
		case errors.Is(err, alerting.ErrVolumeRange):
			writeError(w, http.StatusBadRequest, "volume_out_of_range", err)
		default:
			s.engineError(w, err)
		}
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/metrics")
	path = strings.TrimPrefix(path, "/")
	if path != "" {
		stats, updated, ok := s.metrics.Get(path)
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"source":     path,
			"updated_at": updated.Format(time.RFC3339Nano),
			"stats":      stats,
		})
		return
	}
	all := s.metrics.GetAll()
	writeJSON(w, http.StatusOK, map[string]any{
		"stats": all,
		"count": len(all),
	})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	sinceStr := r.URL.Query().Get("since")
	var list []model.AlertEvent
	if sinceStr != "" {
		ts, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		list = s.alerts.Since(ts)
		if limit > 0 && len(list) > limit {
			list = list[len(list)-limit:]
		}
	} else {
		list = s.alerts.List(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": list,
		"count":  len(list),
	})
}

func (s *Server) handleClassifier(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"classifier": s.cfg.Get().Classifier})
	case http.MethodPost:
		current := s.cfg.Get()
		next := *current
		// Fields absent from the body keep their current values.
		classifier := current.Classifier
		if err := decodeBody(w, r, &classifier); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body", err)
			return
		}
		if err := config.ValidateClassifier(classifier); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_classifier", err)
			return
		}
		next.Classifier = classifier
		if err := s.cfg.Update(&next); err != nil {
			if s.logger != nil {
				s.logger.Error("config update failed", "err", err)
			}
			writeError(w, http.StatusInternalServerError, "config_update_failed", err)
			return
		}
		if err := s.engine.UpdateConfig(r.Context(), &next); err != nil {
			s.engineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"classifier": classifier})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, _ := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	var req struct {
		Target string `json:"target"`
	}
	_ = json.Unmarshal(body, &req)
	target := strings.ToLower(strings.TrimSpace(req.Target))
	if target == "" {
		target = "all"
	}
	switch target {
	case "all":
		s.metrics.Clear()
		s.alerts.Clear()
	case "alerts":
		s.alerts.Clear()
	case "metrics":
		s.metrics.Clear()
	default:
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := s.engine.Reset(r.Context()); err != nil {
		s.engineError(w, err)
		return
	}
	s.alerts.Clear()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) engineError(w http.ResponseWriter, err error) {
	if errors.Is(err, engine.ErrStopped) {
		writeError(w, http.StatusServiceUnavailable, "engine_stopped", err)
		return
	}
	if s.logger != nil {
		s.logger.Error("engine request failed", "err", err)
	}
	writeError(w, http.StatusInternalServerError, "internal", err)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		return err
	}
	return json.Unmarshal(body, dst)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	payload := map[string]any{"error": code}
	if err != nil {
		payload["message"] = err.Error()
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
