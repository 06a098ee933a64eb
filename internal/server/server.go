// Package server exposes the battle engine over HTTP and WebSocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/openwargame/wargame-server-go/internal/config"
	"github.com/openwargame/wargame-server-go/internal/game"
	"github.com/openwargame/wargame-server-go/internal/repository"
	"github.com/openwargame/wargame-server-go/internal/session"
	"go.uber.org/zap"
)

// Server routes battle traffic: REST for setup and queries, WebSocket for
// live play. Every confirmed action is broadcast to the battle's watchers.
type Server struct {
	logger   *zap.Logger
	cfg      config.ServerConfig
	battle   config.BattleConfig
	engine   *game.BattleEngine
	sessions *session.Manager
	// repo is optional; without it battles live only in memory.
	repo     *repository.BattleRepository
	upgrader websocket.Upgrader

	mu   sync.Mutex
	hubs map[string]*hub
}

// New wires the transport to its collaborators.
func New(cfg config.ServerConfig, battle config.BattleConfig, engine *game.BattleEngine, sessions *session.Manager, repo *repository.BattleRepository, logger *zap.Logger) *Server {
	return &Server{
		logger:   logger,
		cfg:      cfg,
		battle:   battle,
		engine:   engine,
		sessions: sessions,
		repo:     repo,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		hubs: make(map[string]*hub),
	}
}

// Router builds the HTTP route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/battles", s.handleCreateBattle).Methods(http.MethodPost)
	api.HandleFunc("/battles/{id}/join", s.handleJoin).Methods(http.MethodPost)
	api.HandleFunc("/battles/{id}/state", s.handleState).Methods(http.MethodGet)
	api.HandleFunc("/battles/{id}/actions", s.handleAvailableActions).Methods(http.MethodGet)
	api.HandleFunc("/battles/{id}/actions", s.handleSubmitAction).Methods(http.MethodPost)
	api.HandleFunc("/battles/{id}/log", s.handleLog).Methods(http.MethodGet)
	r.HandleFunc("/ws/battles/{id}", s.handleWebSocket)
	return r
}

// ListenAndServe runs the HTTP server until the context is canceled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Address,
		Handler:      s.Router(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("address", s.cfg.Address))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type createBattleRequest struct {
	BattleID        string         `json:"battle_id"`
	InitialState    map[string]any `json:"initial_state"`
	JoinCode        string         `json:"join_code,omitempty"`
	DebugMode       bool           `json:"debug_mode,omitempty"`
	EngagementRange float64        `json:"engagement_range,omitempty"`
}

func (s *Server) handleCreateBattle(w http.ResponseWriter, r *http.Request) {
	var req createBattleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.BattleID == "" || req.InitialState == nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("battle_id and initial_state are required"))
		return
	}
	opts := game.BattleOptions{
		DebugMode:       req.DebugMode || s.battle.DebugMode,
		EngagementRange: req.EngagementRange,
	}
	if opts.EngagementRange <= 0 {
		opts.EngagementRange = s.battle.EngagementRange
	}
	if err := s.engine.StartBattle(req.BattleID, req.InitialState, opts); err != nil {
		s.writeError(w, http.StatusConflict, err)
		return
	}
	if req.JoinCode != "" {
		if err := s.sessions.SetJoinCode(req.BattleID, req.JoinCode); err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
	}
	if s.repo != nil {
		if err := s.repo.CreateBattle(r.Context(), req.BattleID, req.InitialState); err != nil {
			s.logger.Error("persisting battle failed",
				zap.String("battle_id", req.BattleID), zap.Error(err))
		}
	}
	phase, _ := s.engine.PhaseName(req.BattleID)
	s.writeJSON(w, http.StatusCreated, map[string]any{
		"battle_id": req.BattleID,
		"phase":     phase,
	})
}

type joinRequest struct {
	PlayerName string      `json:"player_name"`
	Seat       game.Player `json:"seat"`
	JoinCode   string      `json:"join_code,omitempty"`
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	battleID := mux.Vars(r)["id"]
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	sess, err := s.sessions.Create(req.PlayerName, battleID, req.JoinCode, req.Seat)
	if err != nil {
		s.writeError(w, http.StatusForbidden, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sess.ID,
		"seat":       sess.Seat,
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	battleID := mux.Vars(r)["id"]
	snapshot, err := s.engine.Snapshot(battleID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	phase, _ := s.engine.PhaseName(battleID)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"phase":    phase,
		"state":    snapshot,
		"checksum": game.Checksum(snapshot),
	})
}

func (s *Server) handleAvailableActions(w http.ResponseWriter, r *http.Request) {
	battleID := mux.Vars(r)["id"]
	actions, err := s.engine.AvailableActions(battleID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"actions": actions})
}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	battleID := mux.Vars(r)["id"]
	log, err := s.engine.Log(battleID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"entries": log.Entries()})
}

type submitRequest struct {
	SessionID string          `json:"session_id"`
	Action    json.RawMessage `json:"action"`
}

func (s *Server) handleSubmitAction(w http.ResponseWriter, r *http.Request) {
	battleID := mux.Vars(r)["id"]
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	result, status := s.submit(r.Context(), battleID, req.SessionID, req.Action)
	s.writeJSON(w, status, result)
}

// submit authenticates the session, decodes and runs the action, persists
// the log entry, and notifies watchers.
func (s *Server) submit(ctx context.Context, battleID, sessionID string, raw json.RawMessage) (map[string]any, int) {
	sess, ok := s.sessions.Get(sessionID)
	if !ok || sess.BattleID != battleID {
		return map[string]any{"error": "session not valid for this battle"}, http.StatusUnauthorized
	}
	s.sessions.Renew(sessionID)

	action, err := DecodeAction(raw)
	if err != nil {
		return map[string]any{"error": err.Error()}, http.StatusBadRequest
	}
	if action.ActingPlayer() != sess.Seat {
		return map[string]any{"error": "action player does not match session seat"}, http.StatusForbidden
	}
	result, err := s.engine.SubmitAction(battleID, action)
	if err != nil {
		return map[string]any{"error": err.Error()}, http.StatusNotFound
	}
	payload := map[string]any{
		"success":  result.Success,
		"changes":  result.Changes,
		"flow":     game.FlowName(result.Flow),
		"metadata": result.Metadata,
	}
	if result.Error != "" {
		payload["error"] = result.Error
	}
	if result.Success {
		if s.repo != nil {
			if log, logErr := s.engine.Log(battleID); logErr == nil {
				entries := log.Entries()
				if len(entries) > 0 {
					if err := s.repo.AppendAction(ctx, battleID, entries[len(entries)-1]); err != nil {
						s.logger.Error("persisting action failed",
							zap.String("battle_id", battleID), zap.Error(err))
					}
				}
			}
		}
		s.broadcast(battleID, payload)
	}
	return payload, http.StatusOK
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encoding response failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]any{"error": err.Error()})
}
