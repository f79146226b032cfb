// Package gateway is the real-time transport surface: it authenticates
// websocket connections once at establishment, routes inbound audio into
// the registry and orchestrator, and fans transcription results out to
// every member of the room.
package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"interview-transcription-service/internal/models"
	"interview-transcription-service/internal/observability/logging"
	"interview-transcription-service/internal/observability/metrics"
	"interview-transcription-service/internal/orchestrator"
	"interview-transcription-service/internal/session"
)

// Authenticator resolves a participant identity from the upgrade request.
// Authentication happens once per connection; every later message is
// trusted to belong to that participant.
type Authenticator func(r *http.Request) (participantID string, err error)

// QueryAuthenticator accepts the participant id from a query parameter or
// bearer token. Suitable for development and for deployments where an edge
// proxy has already verified identity.
func QueryAuthenticator(r *http.Request) (string, error) {
	if p := r.URL.Query().Get("participant"); p != "" {
		return p, nil
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		if token := strings.TrimPrefix(h, "Bearer "); token != "" {
			return token, nil
		}
	}
	return "", errors.New("no participant identity presented")
}

// audioStream is what the gateway needs from a continuous stream handle.
type audioStream interface {
	Enqueue(data []byte)
	Results() <-chan *models.TranscriptionResult
	Close()
}

// Gateway owns the websocket endpoint and the REST surface around it.
type Gateway struct {
	registry *session.Registry
	orch     *orchestrator.Orchestrator
	auth     Authenticator
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[string]*connection

	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// New creates a gateway. A nil auth falls back to QueryAuthenticator.
func New(registry *session.Registry, orch *orchestrator.Orchestrator, auth Authenticator) *Gateway {
	if auth == nil {
		auth = QueryAuthenticator
	}
	return &Gateway{
		registry: registry,
		orch:     orch,
		auth:     auth,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 << 10,
			WriteBufferSize: 32 << 10,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns:   make(map[string]*connection),
		logger:  logging.WithComponent("gateway"),
		metrics: metrics.DefaultMetrics,
	}
}

// Router builds the HTTP surface: the websocket endpoint plus read-only
// REST routes for session history and provider health.
func (g *Gateway) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/ws", g.handleWS)
		r.Get("/sessions/{sessionID}/results", g.handleSessionResults)
		r.Get("/sessions/{sessionID}/stats", g.handleSessionStats)
		r.Get("/providers/health", g.handleProviderHealth)
	})

	return r
}

func (g *Gateway) handleSessionResults(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	results, err := g.orch.ResultsBySession(r.Context(), sessionID)
	if err != nil {
		http.Error(w, "failed to load results", http.StatusInternalServerError)
		return
	}
	writeJSON(w, results)
}

func (g *Gateway) handleSessionStats(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	stats, err := g.registry.Stats(sessionID)
	if errors.Is(err, session.ErrRoomNotFound) {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}
	writeJSON(w, stats)
}

func (g *Gateway) handleProviderHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, g.orch.Health())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// register adds the connection to the broadcast index.
func (g *Gateway) register(c *connection) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.conns[c.id] = c
}

func (g *Gateway) unregister(connID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.conns, connID)
}

func (g *Gateway) connByID(connID string) (*connection, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.conns[connID]
	return c, ok
}

// broadcast delivers the event to every member of the room, including the
// originating connection; no participant has a privileged view.
func (g *Gateway) broadcast(sessionID string, msg outboundMessage) {
	for _, member := range g.registry.ConnectionsIn(sessionID) {
		if c, ok := g.connByID(member.ConnID); ok {
			c.enqueue(msg)
		}
	}
	g.metrics.BroadcastsTotal.Inc()
}

// broadcastExcept delivers the event to every room member but one, used
// for join and leave notices.
func (g *Gateway) broadcastExcept(sessionID, exceptConnID string, msg outboundMessage) {
	for _, member := range g.registry.ConnectionsIn(sessionID) {
		if member.ConnID == exceptConnID {
			continue
		}
		if c, ok := g.connByID(member.ConnID); ok {
			c.enqueue(msg)
		}
	}
	g.metrics.BroadcastsTotal.Inc()
}
