package ingest

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"posturewatch/internal/config"
	"posturewatch/internal/model"
)

const (
	wsReadLimit  = 1 << 20
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 50 * time.Second
	wsWriteWait  = 5 * time.Second
)

// WSServer accepts one JSON frame per text message, typically from a browser
// page running the pose estimator.
type WSServer struct {
	sink     *sink
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewWSServer(cfg *config.Manager, parser *Parser, out chan<- model.Frame, logger *slog.Logger) *WSServer {
	allowed := cfg.Get().Ingest.WebSocket.AllowedOrigins
	return &WSServer{
		sink:   newSink("websocket", cfg, parser, out, logger),
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowed),
		},
	}
}

func (s *WSServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/landmarks", s.handleLandmarks)
	return mux
}

func StartWebSocket(ctx context.Context, cfg *config.Manager, parser *Parser, out chan<- model.Frame, logger *slog.Logger) *http.Server {
	current := cfg.Get().Ingest.WebSocket
	if !current.Enabled {
		if logger != nil {
			logger.Info("websocket ingest disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("websocket ingest enabled", "addr", current.Addr)
	}
	server := NewWSServer(cfg, parser, out, logger)
	return serveHTTP(ctx, "websocket ingest", current.Addr, server.Handler(), logger)
}

func (s *WSServer) handleLandmarks(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		}
		return
	}
	defer conn.Close()
	if s.logger != nil {
		s.logger.Info("websocket estimator connected", "remote", r.RemoteAddr)
	}

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go s.ping(ctx, conn)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && s.logger != nil {
				s.logger.Warn("websocket read error", "remote", r.RemoteAddr, "err", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		s.sink.accept(ctx, data)
	}
}

// ping is the only writer on conn.
func (s *WSServer) ping(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.ToLower(strings.TrimRight(origin, "/"))]
		return ok
	}
}
