// Package server exposes the admin command bus over a websocket. Clients
// connect at /ws and exchange JSON request/response envelopes; every
// admin command goes through Server.dispatch, which owns the error
// taxonomy and the not-ready gate.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openhearth/hearth/archive"
	"github.com/openhearth/hearth/config"
	"github.com/openhearth/hearth/ingest"
	"github.com/openhearth/hearth/store"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Server is the websocket admin facade over the store, the producer
// host, and the archive.
type Server struct {
	log      *zap.SugaredLogger
	cfg      config.ServerConfig
	store    *store.Store
	host     *ingest.Host
	archiver *archive.Archiver
	states   *IngestStates

	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex

	// ready flips once the store and host are wired; commands arriving
	// earlier get NOT_READY.
	ready atomic.Bool

	archSizeMu sync.Mutex
	archSize   *archiveSize

	httpServer *http.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// archiveSize is the cached result of an archive directory walk, which
// is too slow to run on every stats request.
type archiveSize struct {
	Bytes      int64 `json:"bytes"`
	Files      int   `json:"files"`
	ComputedAt int64 `json:"computedAt"`
}

// New creates a server. The store and host may be nil at construction;
// call SetReady once they are wired.
func New(log *zap.SugaredLogger, cfg config.ServerConfig, st *store.Store,
	host *ingest.Host, archiver *archive.Archiver, states *IngestStates) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		log:        log,
		cfg:        cfg,
		store:      st,
		host:       host,
		archiver:   archiver,
		states:     states,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// SetReady marks the admin facade as fully wired.
func (s *Server) SetReady() {
	s.ready.Store(true)
}

// Start binds the HTTP listener and runs the client hub. It returns
// once the listener is accepting.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.HandleWebSocket)
	mux.HandleFunc("/health", s.HandleHealth)

	addr := fmt.Sprintf(":%d", s.cfg.EffectivePort())
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run()
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Errorw("HTTP server stopped", "error", err)
		}
	}()

	s.log.Infow("Admin server listening", "addr", addr)
	return nil
}

// run is the hub loop. It is the only goroutine that mutates the
// clients map through the register/unregister channels.
func (s *Server) run() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case client := <-s.register:
			s.handleRegister(client)
		case client := <-s.unregister:
			s.handleUnregister(client)
		}
	}
}

func (s *Server) handleRegister(client *Client) {
	s.mu.Lock()
	if s.cfg.MaxClients > 0 && len(s.clients) >= s.cfg.MaxClients {
		s.mu.Unlock()
		s.log.Warnw("Max clients reached, rejecting connection",
			"client_id", client.id,
			"max_clients", s.cfg.MaxClients,
		)
		client.close()
		return
	}
	s.clients[client] = true
	total := len(s.clients)
	s.mu.Unlock()

	s.log.Infow("Client connected", "client_id", client.id, "total_clients", total)
}

func (s *Server) handleUnregister(client *Client) {
	s.mu.Lock()
	if _, ok := s.clients[client]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.clients, client)
	total := len(s.clients)
	s.mu.Unlock()

	client.close()
	s.log.Infow("Client disconnected", "client_id", client.id, "total_clients", total)
}

// ClientCount reports the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Shutdown stops the listener and disconnects all clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}

	s.mu.Lock()
	for client := range s.clients {
		client.close()
		delete(s.clients, client)
	}
	s.mu.Unlock()

	s.wg.Wait()
	return err
}

// HandleWebSocket upgrades the connection and starts the client pumps.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  2048,
		WriteBufferSize: 2048,
		CheckOrigin:     s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Errorw("WebSocket upgrade failed", "error", err)
		return
	}

	client := newClient(s, conn)

	select {
	case s.register <- client:
	case <-s.ctx.Done():
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// HandleHealth reports liveness and readiness.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.ready.Load() {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"status":"ok"}`)
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	fmt.Fprint(w, `{"status":"starting"}`)
}

// checkOrigin validates the Origin header against the configured
// allowlist. Requests without an origin (direct websocket clients) are
// allowed; an empty allowlist admits localhost only.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if len(s.cfg.AllowedOrigins) == 0 {
		return strings.HasPrefix(origin, "http://localhost") ||
			strings.HasPrefix(origin, "https://localhost") ||
			strings.HasPrefix(origin, "http://127.0.0.1")
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if strings.HasPrefix(origin, allowed) {
			return true
		}
	}
	return false
}

// archiveSizeFor returns the cached archive size, re-walking the
// directory when the cache is older than maxAge.
func (s *Server) archiveSizeFor(maxAge time.Duration, now int64) (*archiveSize, error) {
	s.archSizeMu.Lock()
	defer s.archSizeMu.Unlock()

	if s.archSize != nil && maxAge > 0 && now-s.archSize.ComputedAt <= maxAge.Milliseconds() {
		return s.archSize, nil
	}

	bytes, files, err := s.archiver.Size()
	if err != nil {
		return nil, err
	}
	s.archSize = &archiveSize{Bytes: bytes, Files: files, ComputedAt: now}
	return s.archSize, nil
}
