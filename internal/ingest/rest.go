package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"posturewatch/internal/config"
	"posturewatch/internal/model"
)

const maxFrameBody = 2 << 20

type RESTServer struct {
	sink *sink
}

func NewRESTServer(cfg *config.Manager, parser *Parser, out chan<- model.Frame, logger *slog.Logger) *RESTServer {
	return &RESTServer{sink: newSink("rest", cfg, parser, out, logger)}
}

func (s *RESTServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/frames", s.handleFrames)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

func StartREST(ctx context.Context, cfg *config.Manager, parser *Parser, out chan<- model.Frame, logger *slog.Logger) *http.Server {
	current := cfg.Get().Ingest.REST
	if !current.Enabled {
		if logger != nil {
			logger.Info("rest ingest disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("rest ingest enabled", "addr", current.Addr)
	}
	server := NewRESTServer(cfg, parser, out, logger)
	return serveHTTP(ctx, "rest ingest", current.Addr, server.Handler(), logger)
}

func serveHTTP(ctx context.Context, name, addr string, handler http.Handler, logger *slog.Logger) *http.Server {
	httpServer := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			if logger != nil {
				logger.Error(name+" server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *RESTServer) handleFrames(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxFrameBody))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	fields, err := s.sink.parser.Parse(body)
	if err != nil || len(fields) == 0 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	accepted, failed := s.sink.forward(r.Context(), fields)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"accepted": accepted,
		"failed":   failed,
	})
}
