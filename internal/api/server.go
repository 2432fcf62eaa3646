// Package api provides the HTTP and WebSocket server for backtest runs.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/adrianolucasdepaula/invest-sub001/internal/marketdata"
	"github.com/adrianolucasdepaula/invest-sub001/internal/runner"
	"github.com/adrianolucasdepaula/invest-sub001/pkg/types"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// Server is the HTTP/WebSocket API server.
type Server struct {
	mu         sync.RWMutex
	logger     *zap.Logger
	config     *types.ServerConfig
	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader
	clients    map[string]*Client
	manager    *runner.Manager
	store      *marketdata.FileStore
	registry   *prometheus.Registry
}

// Client represents a connected WebSocket client.
type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte
}

// Event is the WebSocket message envelope.
type Event struct {
	Type      string      `json:"type"`
	RunID     string      `json:"runId,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// NewServer creates the API server. The store may be nil when the service
// runs with a non-file provider; asset listing is then disabled.
func NewServer(logger *zap.Logger, config *types.ServerConfig, manager *runner.Manager, store *marketdata.FileStore) *Server {
	s := &Server{
		logger:   logger,
		config:   config,
		router:   mux.NewRouter(),
		clients:  make(map[string]*Client),
		manager:  manager,
		store:    store,
		registry: prometheus.NewRegistry(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	if config.EnableMetrics {
		if err := manager.Register(s.registry); err != nil {
			logger.Warn("Failed to register run metrics", zap.Error(err))
		}
	}

	s.setupRoutes()
	return s
}

// Router exposes the underlying router for tests.
func (s *Server) Router() *mux.Router { return s.router }

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/api/v1/assets", s.handleAssets).Methods("GET")

	s.router.HandleFunc("/api/v1/backtests", s.handleSubmit).Methods("POST")
	s.router.HandleFunc("/api/v1/backtests", s.handleList).Methods("GET")
	s.router.HandleFunc("/api/v1/backtests/{id}", s.handleGet).Methods("GET")
	s.router.HandleFunc("/api/v1/backtests/{id}/trades", s.handleTrades).Methods("GET")
	s.router.HandleFunc("/api/v1/backtests/{id}/cancel", s.handleCancel).Methods("POST")

	if s.config.EnableMetrics {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	wsPath := s.config.WebSocketPath
	if wsPath == "" {
		wsPath = "/ws"
	}
	s.router.HandleFunc(wsPath, s.handleWebSocket)
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	origins := s.config.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	handler := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting API server", zap.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	for _, client := range s.clients {
		client.Conn.Close()
	}
	s.mu.Unlock()

	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

func (s *Server) handleAssets(w http.ResponseWriter, r *http.Request) {
	var assets []string
	if s.store != nil {
		assets = s.store.Assets()
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"assets": assets,
		"count":  len(assets),
	})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var config types.BacktestConfig
	if err := json.NewDecoder(r.Body).Decode(&config); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	runID, err := s.manager.Submit(r.Context(), &config)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"id":     runID,
		"status": types.RunStatusRunning,
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	runs := s.manager.List()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	summary, ok := s.manager.Get(id)
	if !ok {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}

	response := map[string]interface{}{
		"id":       summary.ID,
		"status":   summary.Status,
		"progress": summary.Progress,
	}
	if result, ok := s.manager.Result(id); ok {
		response["result"] = result
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	result, ok := s.manager.Result(id)
	if !ok {
		http.Error(w, "Run not complete", http.StatusNotFound)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":     id,
		"trades": result.Trades,
		"count":  len(result.Trades),
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := s.manager.Cancel(id); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":     id,
		"status": types.RunStatusCancelled,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("Failed to encode response", zap.Error(err))
	}
}

// handleWebSocket upgrades a connection and starts its pumps.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		ID:   uuid.New().String(),
		Conn: conn,
		Send: make(chan []byte, 256),
	}

	s.mu.Lock()
	s.clients[client.ID] = client
	s.mu.Unlock()

	s.logger.Info("WebSocket client connected", zap.String("id", client.ID))

	go s.readPump(client)
	go s.writePump(client)
}

func (s *Server) readPump(client *Client) {
	defer func() {
		s.mu.Lock()
		delete(s.clients, client.ID)
		s.mu.Unlock()
		client.Conn.Close()
		s.logger.Info("WebSocket client disconnected", zap.String("id", client.ID))
	}()

	client.Conn.SetReadLimit(64 * 1024)
	client.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	client.Conn.SetPongHandler(func(string) error {
		client.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := client.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Error("WebSocket read error", zap.Error(err))
			}
			break
		}
	}
}

func (s *Server) writePump(client *Client) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		client.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			client.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// broadcast sends an event to all connected clients, dropping it for any
// client whose buffer is full.
func (s *Server) broadcast(event *Event) {
	raw, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, client := range s.clients {
		select {
		case client.Send <- raw:
		default:
		}
	}
}

// ReportProgress implements backtester.ResultSink over the WebSocket hub.
func (s *Server) ReportProgress(runID string, percent int) {
	s.broadcast(&Event{
		Type:      "backtest:progress",
		RunID:     runID,
		Payload:   map[string]int{"percent": percent},
		Timestamp: time.Now().UnixMilli(),
	})
}

// Complete implements backtester.ResultSink.
func (s *Server) Complete(runID string, result *types.BacktestResult) {
	s.broadcast(&Event{
		Type:      "backtest:complete",
		RunID:     runID,
		Payload:   map[string]interface{}{"status": result.Status, "metrics": result.Metrics},
		Timestamp: time.Now().UnixMilli(),
	})
}

// Fail implements backtester.ResultSink.
func (s *Server) Fail(runID string, errMsg string) {
	s.broadcast(&Event{
		Type:      "backtest:failed",
		RunID:     runID,
		Payload:   map[string]string{"error": errMsg},
		Timestamp: time.Now().UnixMilli(),
	})
}
