package gateway

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"finverse/internal/instruments"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Charts connect from the separately served frontend origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server exposes the client-facing HTTP surface: the /ws/feed websocket
// and the instrument search endpoint.
type Server struct {
	hub   *Hub
	store *instruments.Store
	srv   *http.Server
}

// NewServer builds the gateway HTTP server on addr. store may be nil;
// search then answers 503.
func NewServer(addr string, hub *Hub, store *instruments.Store) *Server {
	s := &Server{hub: hub, store: store}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/feed", s.handleWS)
	mux.HandleFunc("/api/instruments/search", s.handleSearch)

	s.srv = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[gateway] listening on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[gateway] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[gateway] upgrade failed: %v", err)
		return
	}
	s.hub.Register(NewClient(s.hub, conn))
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "instrument database unavailable", http.StatusServiceUnavailable)
		return
	}
	q := r.URL.Query().Get("q")
	if q == "" {
		http.Error(w, "missing query parameter q", http.StatusBadRequest)
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	rows, err := s.store.Search(r.Context(), q, limit)
	if err != nil {
		log.Printf("[gateway] search %q failed: %v", q, err)
		http.Error(w, "instrument database error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rows)
}
