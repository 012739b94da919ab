// Package server wires Pulse's HTTP surface, admission control, and the
// router/connection layers together into one runnable process (spec §5, §9
// operational surface).
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/tenvisio/pulse/internal/config"
	"github.com/tenvisio/pulse/internal/connection"
	"github.com/tenvisio/pulse/internal/limits"
	"github.com/tenvisio/pulse/internal/monitoring"
	"github.com/tenvisio/pulse/internal/router"
	"github.com/tenvisio/pulse/internal/transport"
)

// Server owns the listener, the router, and every live connection actor.
type Server struct {
	cfg    *config.Config
	logger zerolog.Logger

	router        *router.Router
	rateLimiter   *limits.ConnectionRateLimiter
	resourceGuard *limits.ResourceGuard

	listener   net.Listener
	httpServer *http.Server

	currentConns int64
	connIDSeq    int64
	shuttingDown int32

	activeMu sync.Mutex
	active   map[router.ConnectionID]*connection.Connection

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Server from cfg. Call Start to begin listening.
func New(cfg *config.Config, logger zerolog.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		cfg:    cfg,
		logger: logger,
		router: router.New(router.Config{
			MaxChannels:       cfg.MaxChannels,
			BroadcastQueueLen: cfg.BroadcastQueueDepth,
		}, logger),
		active: make(map[router.ConnectionID]*connection.Connection),
		ctx:    ctx,
		cancel: cancel,
	}

	s.resourceGuard = limits.NewResourceGuard(cfg, logger, &s.currentConns)

	if cfg.ConnRateLimitEnabled {
		s.rateLimiter = limits.NewConnectionRateLimiter(limits.ConnectionRateLimiterConfig{
			IPBurst:     cfg.ConnRateLimitIPBurst,
			IPRate:      cfg.ConnRateLimitIPRate,
			IPTTL:       5 * time.Minute,
			GlobalBurst: cfg.ConnRateLimitGlobalBurst,
			GlobalRate:  cfg.ConnRateLimitGlobalRate,
			Logger:      logger,
		})
	}

	return s
}

// Start binds the listener and begins serving /ws, /health, and /metrics.
// It returns once the listener is up; Serve and the background monitors run
// in goroutines tracked by the server's WaitGroup.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/metrics", monitoring.HandleMetrics)

	s.httpServer = &http.Server{
		Handler:        mux,
		ReadTimeout:    s.cfg.HTTPReadTimeout,
		WriteTimeout:   s.cfg.HTTPWriteTimeout,
		IdleTimeout:    s.cfg.HTTPIdleTimeout,
		MaxHeaderBytes: 1 << 20,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer monitoring.RecoverPanic(s.logger, "server.Serve", nil)
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("accept loop error")
		}
	}()

	s.resourceGuard.StartMonitoring(s.ctx, s.cfg.MetricsInterval)

	s.logger.Info().Str("addr", s.cfg.Addr).Msg("pulse server listening")
	return nil
}

// handleWebSocket is the admission-controlled upgrade path (spec §5's
// Awaiting-Connect entry point): rate limit, resource guard, upgrade, spawn
// a connection actor.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if atomic.LoadInt32(&s.shuttingDown) == 1 {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}

	clientIP := clientIP(r)

	if s.rateLimiter != nil && !s.rateLimiter.Allow(clientIP) {
		monitoring.IncrementConnectionsRejected("rate_limited")
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	if accept, reason := s.resourceGuard.ShouldAcceptConnection(); !accept {
		s.logger.Warn().Str("client_ip", clientIP).Str("reason", reason).Msg("connection rejected")
		monitoring.IncrementConnectionsRejected(reason)
		http.Error(w, "server overloaded", http.StatusServiceUnavailable)
		return
	}

	trans, err := transport.UpgradeHTTP(w, r, time.Duration(s.cfg.HeartbeatTimeoutMs)*time.Millisecond, 5*time.Second)
	if err != nil {
		s.logger.Debug().Err(err).Str("client_ip", clientIP).Msg("websocket upgrade failed")
		monitoring.IncrementConnectionsRejected("upgrade_failed")
		return
	}

	id := router.ConnectionID("conn-" + strconv.FormatInt(atomic.AddInt64(&s.connIDSeq, 1), 10))
	conn := connection.New(id, trans, s.router, s.cfg, s.logger)

	s.activeMu.Lock()
	s.active[id] = conn
	s.activeMu.Unlock()
	atomic.AddInt64(&s.currentConns, 1)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		conn.Run(s.ctx)

		s.activeMu.Lock()
		delete(s.active, id)
		s.activeMu.Unlock()
		atomic.AddInt64(&s.currentConns, -1)
	}()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if atomic.LoadInt32(&s.shuttingDown) == 1 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"shutting_down"}`))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(fmt.Sprintf(`{"status":"ok","connections":%d,"channels":%d}`,
		atomic.LoadInt64(&s.currentConns), s.router.ChannelCount())))
}

// Shutdown stops accepting new connections, drains active ones for up to
// cfg.ShutdownGracePeriod, then force-closes whatever remains (spec §9
// "graceful drain on shutdown").
func (s *Server) Shutdown(ctx context.Context) error {
	atomic.StoreInt32(&s.shuttingDown, 1)
	s.logger.Info().Msg("shutdown initiated")

	if s.listener != nil {
		_ = s.listener.Close()
	}
	if s.httpServer != nil {
		_ = s.httpServer.Shutdown(ctx)
	}

	grace := s.cfg.ShutdownGracePeriod
	deadline := time.NewTimer(grace)
	defer deadline.Stop()
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

drain:
	for {
		select {
		case <-deadline.C:
			break drain
		case <-ticker.C:
			if atomic.LoadInt64(&s.currentConns) == 0 {
				break drain
			}
		}
	}

	s.activeMu.Lock()
	remaining := make([]*connection.Connection, 0, len(s.active))
	for _, c := range s.active {
		remaining = append(remaining, c)
	}
	s.activeMu.Unlock()

	for _, c := range remaining {
		c.Close("server shutdown")
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	s.cancel()
	s.wg.Wait()

	s.logger.Info().Msg("shutdown complete")
	return nil
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
