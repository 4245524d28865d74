package devauthority

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/cheese-board-client/internal/authority"
	"github.com/park285/cheese-board-client/internal/board"
	"github.com/park285/cheese-board-client/internal/obslog"
	"github.com/park285/cheese-board-client/internal/snapshot"
	"github.com/park285/cheese-board-client/pkg/boarddto"
)

const headerClientID = "X-Client-Id"

// Server exposes the manager over REST and the hub over /ws.
type Server struct {
	r      *chi.Mux
	mgr    *Manager
	hub    *Hub
	logger *zap.Logger
}

// NewServer builds the router. The hub is registered as a manager publisher.
func NewServer(mgr *Manager, hub *Hub, logger *zap.Logger) *Server {
	s := &Server{r: chi.NewRouter(), mgr: mgr, hub: hub, logger: obslog.Or(logger)}
	if hub != nil {
		mgr.AddPublisher(hub)
	}

	s.r.Use(chimw.RequestID)
	s.r.Use(chimw.RealIP)
	s.r.Use(chimw.Recoverer)

	s.r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})
	if hub != nil {
		s.r.Get("/ws", s.handleWS)
	}

	s.r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(10 * time.Second))
		r.Post("/games", s.handleCreate)
		r.Post("/games/{id}/join", s.handleJoin)
		r.Get("/games/{id}", s.handleRead)
		r.Post("/games/{id}/move", s.handleMove)
		r.Post("/games/{id}/undo", s.handleUndo)
	})

	s.r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, boarddto.ErrorBody{Message: "no route for " + r.URL.Path})
	})
	return s
}

func (s *Server) Handler() http.Handler { return s.r }

func (s *Server) Start(addr string) error { return http.ListenAndServe(addr, s.r) }

// clientID identifies the caller. Requests without the header get a one-off
// identity, which can create or join but never matches a seat afterwards.
func clientID(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(headerClientID)); v != "" {
		return v
	}
	return "anon-" + uuid.NewString()
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	g, err := s.mgr.Create(r.Context(), clientID(r))
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeSession(w, g, board.White)
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	g, side, err := s.mgr.Join(r.Context(), chi.URLParam(r, "id"), clientID(r))
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeSession(w, g, side)
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	g, err := s.mgr.Read(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeSnapshot(w, g)
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	var req boarddto.MoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, reject(authority.CodeInvalidRequest, "Malformed move request"))
		return
	}
	promo := ""
	if req.Promotion != nil {
		promo = *req.Promotion
	}
	g, err := s.mgr.Move(r.Context(), chi.URLParam(r, "id"), clientID(r), req.From, req.To, promo)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeSnapshot(w, g)
}

func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	g, err := s.mgr.Undo(r.Context(), chi.URLParam(r, "id"), clientID(r))
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeSnapshot(w, g)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	s.hub.serve(w, r, func(ctx context.Context, id string) (snapshot.Snapshot, bool) {
		g, err := s.mgr.Read(ctx, id)
		if err != nil {
			return snapshot.Snapshot{}, false
		}
		snap, err := s.mgr.Snapshot(g)
		return snap, err == nil
	})
}

func (s *Server) writeSession(w http.ResponseWriter, g *Game, side board.Side) {
	snap, err := s.mgr.Snapshot(g)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, boarddto.SessionResponse{Snapshot: snap.Wire(), Side: string(side)})
}

func (s *Server) writeSnapshot(w http.ResponseWriter, g *Game) {
	snap, err := s.mgr.Snapshot(g)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap.Wire())
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	var rej *authority.Rejection
	if errors.As(err, &rej) {
		status := rej.Status
		if status == 0 {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, boarddto.ErrorBody{Code: string(rej.Code), Message: rej.Message})
		return
	}
	s.logger.Error("authority_internal_error", zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, boarddto.ErrorBody{Message: "internal error"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
