package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"image-reducer-go/internal/config"
	"image-reducer-go/internal/statistics"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const writeWait = 5 * time.Second

// Server exposes the daemon's statistics over HTTP and streams processed and
// removed files to WebSocket clients. It implements router.Observer.
type Server struct {
	cfg        *config.Config
	log        *logrus.Logger
	stats      *statistics.Statistics
	router     *mux.Router
	httpServer *http.Server
	wsUpgrader websocket.Upgrader
	wsClients  map[*websocket.Conn]bool
	wsMutex    sync.Mutex
}

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// StatusData is the payload of GET /api/status.
type StatusData struct {
	InputDirectory  string              `json:"input_directory"`
	OutputDirectory string              `json:"output_directory"`
	Ratio           float64             `json:"ratio"`
	Statistics      statistics.Snapshot `json:"statistics"`
	Summary         string              `json:"summary"`
}

func NewServer(cfg *config.Config, log *logrus.Logger, stats *statistics.Statistics) *Server {
	s := &Server{
		cfg:       cfg,
		log:       log,
		stats:     stats,
		router:    mux.NewRouter(),
		wsClients: make(map[*websocket.Conn]bool),
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	s.setupRoutes()

	port := 0
	if cfg != nil {
		port = cfg.Server.Port
	}
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/errors", s.handleErrors).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// Handler returns the HTTP handler serving all routes.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves on the configured port until Stop is called. It returns
// http.ErrServerClosed after a clean shutdown, or immediately if Stop already
// ran.
func (s *Server) Start() error {
	s.log.Infof("Starting status server on http://localhost%s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	s.wsMutex.Lock()
	for conn := range s.wsClients {
		conn.Close()
		delete(s.wsClients, conn)
	}
	s.wsMutex.Unlock()

	return s.httpServer.Shutdown(ctx)
}

// FileProcessed broadcasts a completed file to WebSocket clients.
func (s *Server) FileProcessed(summary statistics.Summary) {
	s.broadcastWSMessage("file_processed", summary)
}

// FileRemoved broadcasts a removed output to WebSocket clients.
func (s *Server) FileRemoved(path string) {
	s.broadcastWSMessage("file_removed", map[string]interface{}{
		"output": path,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	data := StatusData{
		Statistics: s.stats.Snapshot(),
		Summary:    s.stats.GetSummary(),
	}
	if s.cfg != nil {
		data.InputDirectory = s.cfg.InputDirectory
		data.OutputDirectory = s.cfg.OutputDirectory
		data.Ratio = s.cfg.Ratio
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Data:    data,
	})
}

func (s *Server) handleErrors(w http.ResponseWriter, r *http.Request) {
	snap := s.stats.Snapshot()
	s.writeJSON(w, APIResponse{
		Success: true,
		Message: s.stats.GetErrorSummary(),
		Data:    snap.RecentErrors,
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Errorf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	s.wsMutex.Lock()
	s.wsClients[conn] = true
	s.wsMutex.Unlock()

	s.log.Debug("WebSocket client connected")

	defer func() {
		s.wsMutex.Lock()
		delete(s.wsClients, conn)
		s.wsMutex.Unlock()
		s.log.Debug("WebSocket client disconnected")
	}()

	// Keep connection alive
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			break
		}
	}
}

func (s *Server) clientCount() int {
	s.wsMutex.Lock()
	defer s.wsMutex.Unlock()
	return len(s.wsClients)
}

// broadcastWSMessage writes to every client. Writes are serialized by
// wsMutex since a connection allows only one concurrent writer.
func (s *Server) broadcastWSMessage(messageType string, data interface{}) {
	message := WSMessage{
		Type: messageType,
		Data: data,
	}

	msgBytes, err := json.Marshal(message)
	if err != nil {
		s.log.Errorf("Failed to marshal WebSocket message: %v", err)
		return
	}

	s.wsMutex.Lock()
	defer s.wsMutex.Unlock()

	for conn := range s.wsClients {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, msgBytes); err != nil {
			s.log.Warnf("Failed to write WebSocket message: %v", err)
			delete(s.wsClients, conn)
			conn.Close()
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Errorf("Failed to encode response: %v", err)
	}
}
