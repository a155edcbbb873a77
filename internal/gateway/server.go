// Package gateway is the local control plane: a WebSocket RPC endpoint,
// the embedded chat UI, health and metrics, and webhook ingestion, all on
// one listener.
package gateway

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hayahq/haya/internal/auth"
	"github.com/hayahq/haya/internal/channels"
	"github.com/hayahq/haya/internal/channels/webhook"
	"github.com/hayahq/haya/internal/config"
	"github.com/hayahq/haya/internal/cron"
	"github.com/hayahq/haya/internal/dispatch"
	"github.com/hayahq/haya/internal/errdefs"
	"github.com/hayahq/haya/internal/sessions"
)

// Deps are the collaborators the gateway exposes over RPC. Webhook and
// Registry may be nil.
type Deps struct {
	Config    *config.Config
	Store     *sessions.Store
	Processor *dispatch.Processor
	Dock      *channels.Dock
	Cron      *cron.Service
	Webhook   *webhook.Plugin
	Registry  *prometheus.Registry
	Logger    *slog.Logger
}

// Server is the gateway HTTP/WebSocket front end.
type Server struct {
	deps     Deps
	cfg      config.GatewayConfig
	verifier *auth.Verifier
	limiter  *auth.Limiter
	trust    *auth.ProxyTrust
	upgrader websocket.Upgrader
	logger   *slog.Logger

	httpSrv   *http.Server
	startedAt time.Time

	sessMu    sync.Mutex
	wsConns   map[*wsSession]struct{}
	approvals map[string]chan bool
}

// New wires the gateway. It fails when no auth token is configured: the
// control plane never runs open.
func New(deps Deps) (*Server, error) {
	if deps.Config == nil {
		return nil, errdefs.Configf("gateway: config is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gw := deps.Config.Gateway
	token := gw.EffectiveToken()
	if token == "" {
		return nil, errdefs.Configf("gateway: no auth token configured (set gateway.auth.token or %s)", config.GatewayTokenEnvVar)
	}
	trust, err := auth.NewProxyTrust(gw.TrustedProxies)
	if err != nil {
		return nil, err
	}
	s := &Server{
		deps:     deps,
		cfg:      gw,
		verifier: auth.NewVerifier(token, []byte(token)),
		limiter:  auth.NewLimiter(auth.LimiterOptions{}),
		trust:    trust,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			// The token is the access control; origins are not.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger:    logger.With("component", "gateway"),
		wsConns:   make(map[*wsSession]struct{}),
		approvals: make(map[string]chan bool),
	}
	return s, nil
}

// Handler builds the full route tree, security headers included.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/chat", s.handleChatUI)
	mux.HandleFunc("/hooks/", s.handleWebhook)
	if s.deps.Registry != nil {
		mux.Handle("/metrics", s.requireToken(promhttp.HandlerFor(
			s.deps.Registry, promhttp.HandlerOpts{})))
	}
	return securityHeaders(mux)
}

// Run serves until ctx is cancelled, then drains with a short grace
// period.
func (s *Server) Run(ctx context.Context) error {
	addr := s.cfg.ListenAddr()
	s.startedAt = time.Now()
	s.limiter.StartPruning()
	defer s.limiter.Stop()

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if s.cfg.TLS.Enabled {
			cert, err := EnsureCertificate(s.cfg.TLS.CertPath, s.cfg.TLS.KeyPath, s.bindHost(), s.logger)
			if err != nil {
				errCh <- err
				return
			}
			s.httpSrv.TLSConfig = &tls.Config{
				Certificates: []tls.Certificate{cert},
				MinVersion:   tls.VersionTLS12,
			}
			s.logger.Info("gateway listening", "addr", addr, "tls", true)
			errCh <- s.httpSrv.ListenAndServeTLS("", "")
			return
		}
		s.logger.Info("gateway listening", "addr", addr, "tls", false)
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) bindHost() string {
	host, _, err := net.SplitHostPort(s.cfg.ListenAddr())
	if err != nil || host == "" || host == "0.0.0.0" {
		return "localhost"
	}
	return host
}

// handleRoot serves the WebSocket RPC endpoint on upgrade requests and a
// small identity document otherwise.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if websocket.IsWebSocketUpgrade(r) {
		s.handleWS(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name":     "haya",
		"protocol": "ws-rpc/1",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	channelsUp := false
	if s.deps.Dock != nil {
		channelsUp = s.deps.Dock.IsRunning()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
		"channels_up":    channelsUp,
	})
}

// handleWebhook ingests POST /hooks/{source} into the webhook channel.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, errdefs.CodeInvalidRequest, "POST required")
		return
	}
	if s.deps.Webhook == nil {
		writeError(w, errdefs.CodeNotFound, "webhook channel not configured")
		return
	}
	if !s.authorize(w, r) {
		return
	}
	source := strings.TrimPrefix(r.URL.Path, "/hooks/")
	var body struct {
		Sender  string `json:"sender,omitempty"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&body); err != nil {
		writeError(w, errdefs.CodeInvalidRequest, "malformed JSON body")
		return
	}
	if err := s.deps.Webhook.Ingest(r.Context(), source, body.Sender, body.Message); err != nil {
		writeError(w, errdefs.CodeFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true})
}

// credential extracts the presented token: Authorization bearer first,
// then the token query parameter, then the X-Haya-Token header, which is
// honored only on plain listeners for loopback clients.
func (s *Server) credential(r *http.Request, clientIP string) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if cred, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(cred)
		}
	}
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok
	}
	if !s.cfg.TLS.Enabled && auth.IsLoopback(clientIP) {
		return r.Header.Get("X-Haya-Token")
	}
	return ""
}

// authorize applies rate limiting and token verification for plain HTTP
// endpoints, writing the error response itself on failure.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request) bool {
	ip := auth.ClientIP(r, s.trust)
	if !auth.IsLoopback(ip) {
		if d := s.limiter.Check(ip); !d.Allowed {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(d.RetryAfter.Seconds())))
			writeError(w, errdefs.CodeRateLimited, "too many attempts")
			return false
		}
	}
	if err := s.verifier.Verify(s.credential(r, ip)); err != nil {
		s.limiter.RecordFailure(ip)
		writeError(w, errdefs.CodeUnauthorized, "unauthorized")
		return false
	}
	s.limiter.RecordSuccess(ip)
	return true
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.authorize(w, r) {
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code errdefs.Code, msg string) {
	writeJSON(w, code.HTTPStatus(), map[string]any{
		"error": map[string]any{"code": code, "message": msg},
	})
}
