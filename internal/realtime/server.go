package realtime

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"pulsehub/internal/admin"
)

// Guard is the narrow slice of admin.Guard the server needs, so this
// package never imports gorm or postgres directly.
type Guard interface {
	Check(ctx context.Context, r *http.Request) (admin.Decision, error)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Origin is C8's job, not the library's: accept every upgrade here and
	// let Guard.Check reject before it happens.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server owns the shared collaborators used to accept and run every socket.
type Server struct {
	guard Guard
	deps  Deps
}

func NewServer(guard Guard, deps Deps) *Server {
	return &Server{guard: guard, deps: deps}
}

// ServeWS is the HTTP handler mounted at the WebSocket upgrade path. It runs
// C8's check, performs the upgrade, and then blocks for the connection's
// entire lifetime (the caller's goroutine becomes that connection's request
// goroutine, per gorilla/websocket's model).
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	decision, err := s.guard.Check(ctx, r)
	cancel()
	if err != nil {
		status := http.StatusUnauthorized
		if ge, ok := err.(*admin.GuardError); ok {
			status = ge.Status
		}
		http.Error(w, err.Error(), status)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("realtime: upgrade failed", "error", err)
		return
	}

	socketID := uuid.New().String()
	c := NewConnection(conn, socketID, decision.DomainID, s.deps)
	slog.Info("realtime: connection accepted", "socket_id", socketID, "domain_id", decision.DomainID, "domain_name", decision.DomainName)
	c.Serve()
}
