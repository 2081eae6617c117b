package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ent0n29/companion/internal/config"
	"github.com/ent0n29/companion/internal/memory"
	"github.com/ent0n29/companion/internal/observability"
	"github.com/ent0n29/companion/internal/protocol"
	"github.com/ent0n29/companion/internal/reliability"
	"github.com/ent0n29/companion/internal/report"
	"github.com/ent0n29/companion/internal/session"
)

type Orchestrator interface {
	RunConnection(ctx context.Context, s *session.Session, inbound <-chan any, outbound chan<- any) error
}

type MemorySearcher interface {
	Retrieve(ctx context.Context, userID, query string) ([]memory.Scored, error)
}

type ReportLister interface {
	List(ctx context.Context, userID string, kind report.Kind, limit int) ([]report.Report, error)
}

type LiveReporter interface {
	MaybeGenerate(ctx context.Context, userID string) (report.Report, bool, error)
}

type DailyReporter interface {
	ParseDay(s string) (time.Time, error)
	Yesterday() time.Time
	Generate(ctx context.Context, userID string, day time.Time) (report.DailyReport, bool, error)
}

// Deps are the services behind the HTTP surface. Any of them may be nil, in
// which case the routes that need it answer 501.
type Deps struct {
	Sessions     *session.Manager
	Orchestrator Orchestrator
	Memories     MemorySearcher
	Reports      ReportLister
	Live         LiveReporter
	Daily        DailyReporter
	Metrics      *observability.Metrics
	Logger       *zap.Logger
	// Ready reports whether backing stores are reachable.
	Ready func(ctx context.Context) error
}

type Server struct {
	cfg      config.Config
	deps     Deps
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func New(cfg config.Config, deps Deps) *Server {
	return &Server{
		cfg:    cfg,
		deps:   deps,
		logger: observability.OrNop(deps.Logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers unless explicitly opened up.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/v1/perf/stages", s.handlePerfStages)

	r.Post("/v1/voice/session", s.handleCreateSession)
	r.Post("/v1/voice/session/{id}/end", s.handleEndSession)
	r.Get("/v1/voice/session/ws", s.handleSessionWS)

	r.Route("/v1/users/{id}", func(r chi.Router) {
		r.Get("/memories", s.handleSearchMemories)
		r.Get("/reports", s.handleListReports)
		r.Post("/reports/run", s.handleRunLiveReport)
		r.Post("/reports/daily", s.handleRunDailyReport)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_sessions": s.activeSessions(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Ready(ctx); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "unavailable",
				"error":  err.Error(),
			})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (s *Server) handlePerfStages(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.deps.Metrics.StageSnapshot())
}

func (s *Server) activeSessions() int {
	if s.deps.Sessions == nil {
		return 0
	}
	return s.deps.Sessions.ActiveCount()
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sessions == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "sessions not configured")
		return
	}
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		respondError(w, http.StatusBadRequest, "missing_user_id", "user_id is required")
		return
	}

	sess := s.deps.Sessions.Create(req.UserID)
	s.deps.Metrics.SetActiveSessions(s.deps.Sessions.ActiveCount())
	s.deps.Metrics.IncSessionEvent("created")

	respondJSON(w, http.StatusCreated, session.CreateResponse{
		SessionID:       sess.ID,
		UserID:          sess.UserID,
		Status:          sess.Status,
		StartedAt:       sess.StartedAt,
		LastActivityAt:  sess.LastActivityAt,
		InactivityTTLMS: s.deps.Sessions.InactivityTimeout().Milliseconds(),
	})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sessions == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "sessions not configured")
		return
	}
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	sess, err := s.deps.Sessions.End(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	s.deps.Metrics.SetActiveSessions(s.deps.Sessions.ActiveCount())
	s.deps.Metrics.IncSessionEvent("ended")
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	if s.deps.Orchestrator == nil || s.deps.Sessions == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "orchestrator not configured")
		return
	}

	sess, err := s.deps.Sessions.Get(sessionID)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	if sess.Status != session.StatusActive {
		respondError(w, http.StatusConflict, "session_ended", "session is no longer active")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	metrics := s.deps.Metrics
	metrics.IncSessionEvent("ws_connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, 16)
	outbound := make(chan any, 64)
	runDone := make(chan struct{})

	go func() {
		defer close(runDone)
		// The loop returning means the session is over; stop reading.
		defer cancel()
		if err := s.deps.Orchestrator.RunConnection(ctx, sess, inbound, outbound); err != nil {
			s.logger.Warn("connection loop failed", zap.String("session_id", sess.ID), zap.Error(err))
		}
		metrics.SetActiveSessions(s.deps.Sessions.ActiveCount())
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-runDone:
				drainOutbound(conn, outbound)
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
					time.Now().Add(time.Second))
				// Unblock the read loop if the client never answers the close.
				_ = conn.SetReadDeadline(time.Now().Add(time.Second))
				return
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					metrics.IncWSWriteError("write_json")
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					metrics.IncWSMessage("outbound", string(t))
				}
			}
		}
	}()

	conn.SetReadLimit(8 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout()))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout()))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout()))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			errEvent := protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "invalid_client_message",
				Source:    "client",
				Retryable: false,
				Detail:    err.Error(),
			}
			select {
			case outbound <- errEvent:
				metrics.ObserveOutboundMessage(string(protocol.TypeErrorEvent), "queued")
			default:
				// Keep websocket writes single-threaded; drop if outbound queue is saturated.
				metrics.ObserveOutboundMessage(string(protocol.TypeErrorEvent), "drop_full")
			}
			continue
		}

		if t, ok := messageTypeOf(parsed); ok {
			metrics.IncWSMessage("inbound", string(t))
		}
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	close(inbound)
	<-runDone
	<-writerDone
	metrics.IncSessionEvent("ws_disconnected")
}

// readTimeout is how long a silent connection is kept before the read loop
// gives up; the session janitor uses the same window.
func (s *Server) readTimeout() time.Duration {
	if s.deps.Sessions != nil {
		if d := s.deps.Sessions.InactivityTimeout(); d > 0 {
			return d
		}
	}
	return 2 * time.Minute
}

func drainOutbound(conn *websocket.Conn, outbound <-chan any) {
	for {
		select {
		case msg := <-outbound:
			_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// respondServiceError maps a classified error onto an HTTP status.
func respondServiceError(w http.ResponseWriter, err error) {
	kind, _ := reliability.KindOf(err)
	switch kind {
	case reliability.KindGateway, reliability.KindIndex:
		respondError(w, http.StatusBadGateway, string(kind)+"_error", err.Error())
	case reliability.KindPersistence:
		respondError(w, http.StatusInternalServerError, "persistence_error", err.Error())
	case reliability.KindConfiguration:
		respondError(w, http.StatusInternalServerError, "configuration_error", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ClientAudio:
		return m.Type, true
	case protocol.ClientText:
		return m.Type, true
	case protocol.ClientControl:
		return m.Type, true
	case protocol.UserMessage:
		return m.Type, true
	case protocol.AIMessage:
		return m.Type, true
	case protocol.SystemEvent:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
