package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"RacePool/internal/engine"
	"RacePool/internal/observability"
	"RacePool/internal/pool"
	"RacePool/internal/room"
	"RacePool/internal/settle"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Server exposes the room and result operations over HTTP/JSON.
// Synchronous calls return explicit success/failure with a reason string;
// settlement problems are only visible through operational tooling.
type Server struct {
	addr    string
	manager *room.Manager
	coord   *settle.Coordinator
	health  *observability.HealthChecker
	metrics *observability.Metrics
	log     zerolog.Logger

	httpServer *http.Server
}

func New(addr string, manager *room.Manager, coord *settle.Coordinator, health *observability.HealthChecker, metrics *observability.Metrics) *Server {
	return &Server{
		addr:    addr,
		manager: manager,
		coord:   coord,
		health:  health,
		metrics: metrics,
		log:     observability.NewLogger("http"),
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/rooms", s.instrument("create_room", s.handleCreateRoom))
	mux.HandleFunc("POST /v1/rooms/{id}/join", s.instrument("join_room", s.handleJoinRoom))
	mux.HandleFunc("POST /v1/rooms/{id}/leave", s.instrument("leave_room", s.handleLeaveRoom))
	mux.HandleFunc("POST /v1/rooms/{id}/stakes", s.instrument("place_stake", s.handlePlaceStake))
	mux.HandleFunc("POST /v1/rooms/{id}/input", s.instrument("submit_input", s.handleSubmitInput))
	mux.HandleFunc("POST /v1/rooms/{id}/cancel", s.instrument("cancel_room", s.handleCancelRoom))
	mux.HandleFunc("GET /v1/rooms/{id}", s.instrument("get_state", s.handleGetState))
	mux.HandleFunc("GET /v1/rooms/{id}/result", s.instrument("get_result", s.handleGetResult))
	if s.health != nil {
		mux.HandleFunc("/healthz", s.health.LivenessHandler)
		mux.HandleFunc("/readyz", s.health.ReadinessHandler)
	}
	return mux
}

// Start runs the HTTP listener until the context ends.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutCtx)
	}()

	s.log.Info().Str("addr", s.addr).Msg("http server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(endpoint string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		if s.metrics != nil {
			s.metrics.APIRequests.WithLabelValues(endpoint, http.StatusText(rec.status)).Inc()
			s.metrics.APIDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		}
	}
}

type createRoomRequest struct {
	Mode             string `json:"mode"`
	Creator          string `json:"creator"`
	Capacity         int    `json:"capacity"`
	EntryStake       int64  `json:"entry_stake"`
	BettingWindowSec int64  `json:"betting_window_sec"`
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Creator == "" {
		writeError(w, http.StatusBadRequest, "creator is required")
		return
	}

	mode := room.Mode(req.Mode)
	if mode != room.ModeVersus && mode != room.ModeSolo {
		writeError(w, http.StatusBadRequest, "mode must be versus or solo")
		return
	}

	created, err := s.manager.CreateRoom(r.Context(), mode, req.Creator, req.Capacity, req.EntryStake,
		time.Duration(req.BettingWindowSec)*time.Second)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"room_id": created.ID,
		"status":  created.Status,
	})
}

type joinRoomRequest struct {
	Player    string `json:"player"`
	VehicleID string `json:"vehicle_id"`
}

func (s *Server) handleJoinRoom(w http.ResponseWriter, r *http.Request) {
	roomID, ok := s.roomID(w, r)
	if !ok {
		return
	}
	var req joinRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Player == "" {
		writeError(w, http.StatusBadRequest, "player is required")
		return
	}

	if err := s.manager.JoinRoom(r.Context(), roomID, req.Player, req.VehicleID); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "joined"})
}

type leaveRoomRequest struct {
	Player string `json:"player"`
}

func (s *Server) handleLeaveRoom(w http.ResponseWriter, r *http.Request) {
	roomID, ok := s.roomID(w, r)
	if !ok {
		return
	}
	var req leaveRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Player == "" {
		writeError(w, http.StatusBadRequest, "player is required")
		return
	}

	if err := s.manager.LeaveRoom(r.Context(), roomID, req.Player); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "left"})
}

type placeStakeRequest struct {
	Staker          string `json:"staker"`
	PredictedWinner string `json:"predicted_winner"`
	Amount          int64  `json:"amount"`
}

func (s *Server) handlePlaceStake(w http.ResponseWriter, r *http.Request) {
	roomID, ok := s.roomID(w, r)
	if !ok {
		return
	}
	var req placeStakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Staker == "" {
		writeError(w, http.StatusBadRequest, "staker is required")
		return
	}

	if err := s.manager.PlaceStake(r.Context(), roomID, req.Staker, req.PredictedWinner, req.Amount); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "staked"})
}

type submitInputRequest struct {
	Player string `json:"player"`
	Action string `json:"action"`
}

func (s *Server) handleSubmitInput(w http.ResponseWriter, r *http.Request) {
	roomID, ok := s.roomID(w, r)
	if !ok {
		return
	}
	var req submitInputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Player == "" {
		writeError(w, http.StatusBadRequest, "player is required")
		return
	}

	var action engine.Action
	switch req.Action {
	case "lane_left":
		action = engine.ActionLaneLeft
	case "lane_right":
		action = engine.ActionLaneRight
	default:
		writeError(w, http.StatusBadRequest, "action must be lane_left or lane_right")
		return
	}

	if err := s.manager.SubmitInput(roomID, req.Player, action); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"result": "queued"})
}

type cancelRoomRequest struct {
	Requester string `json:"requester"`
}

func (s *Server) handleCancelRoom(w http.ResponseWriter, r *http.Request) {
	roomID, ok := s.roomID(w, r)
	if !ok {
		return
	}
	var req cancelRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Requester == "" {
		writeError(w, http.StatusBadRequest, "requester is required")
		return
	}

	if err := s.manager.CancelRoom(r.Context(), roomID, req.Requester); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "cancelled"})
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	roomID, ok := s.roomID(w, r)
	if !ok {
		return
	}
	state, err := s.manager.GetState(r.Context(), roomID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	roomID, ok := s.roomID(w, r)
	if !ok {
		return
	}
	result, err := s.coord.GetResult(r.Context(), roomID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) roomID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid room id")
		return uuid.Nil, false
	}
	return id, true
}

// writeDomainError maps domain errors to HTTP statuses with a reason.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, room.ErrNotFound),
		errors.Is(err, room.ErrNotJoined),
		errors.Is(err, pool.ErrNotFound),
		errors.Is(err, settle.ErrNoResult):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, room.ErrRoomFull),
		errors.Is(err, room.ErrAlreadyJoined),
		errors.Is(err, room.ErrInvalidTransition),
		errors.Is(err, room.ErrNotCreator),
		errors.Is(err, room.ErrCreatorLeave),
		errors.Is(err, room.ErrNotRacing),
		errors.Is(err, pool.ErrInsufficientBalance),
		errors.Is(err, pool.ErrInvalidAmount):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.log.Error().Err(err).Msg("internal error")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, reason string) {
	writeJSON(w, status, map[string]string{"error": reason})
}
