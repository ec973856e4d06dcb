package room

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"RacePool/internal/broadcast"
	"RacePool/internal/engine"
	"RacePool/internal/observability"
	"RacePool/internal/pool"
	"RacePool/internal/settle"
	"RacePool/internal/stats"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const aiPlayerAddr = "ai:pacer"

// Config tunes room timing. Durations shrink in tests.
type Config struct {
	BettingWindow  time.Duration
	CountdownDelay time.Duration
	TickInterval   time.Duration
	MaxCapacity    int
}

func DefaultConfig() Config {
	return Config{
		BettingWindow:  60 * time.Second,
		CountdownDelay: 5 * time.Second,
		TickInterval:   engine.TickInterval,
		MaxCapacity:    engine.TrackLanes * 2,
	}
}

// MirrorSink receives advisory per-tick state snapshots. Offer must never
// block; the mirror is not authoritative and resume-on-restart is
// unsupported.
type MirrorSink interface {
	Offer(roomID uuid.UUID, s engine.State)
}

type activeRace struct {
	engine *engine.Engine
	runner *engine.Runner
}

// Manager orchestrates every room's pre-game phases and owns the
// active-games registry (room id → running engine), with insert-on-start
// and remove-on-end lifecycle. Engines are single-owner: the manager never
// writes into a running simulation, it only queues inputs.
type Manager struct {
	cfg     Config
	store   Store
	ledger  *pool.Ledger
	stats   stats.Provider
	bc      broadcast.Broadcaster
	coord   *settle.Coordinator
	mirror  MirrorSink
	metrics *observability.Metrics
	log     zerolog.Logger

	// NewSeed produces the rng seed for a race. Injection point for
	// deterministic tests.
	NewSeed func() int64

	mu     sync.Mutex
	active map[uuid.UUID]*activeRace

	baseCtx context.Context
}

func NewManager(
	ctx context.Context,
	cfg Config,
	store Store,
	ledger *pool.Ledger,
	statsProvider stats.Provider,
	bc broadcast.Broadcaster,
	coord *settle.Coordinator,
	mirror MirrorSink,
	metrics *observability.Metrics,
) *Manager {
	if bc == nil {
		bc = broadcast.Nop{}
	}
	return &Manager{
		cfg:     cfg,
		store:   store,
		ledger:  ledger,
		stats:   statsProvider,
		bc:      bc,
		coord:   coord,
		mirror:  mirror,
		metrics: metrics,
		log:     observability.NewLogger("room-manager"),
		NewSeed: func() int64 { return time.Now().UnixNano() },
		active:  make(map[uuid.UUID]*activeRace),
		baseCtx: ctx,
	}
}

// CreateRoom opens a new room in WAITING and its prediction pool. A zero
// bettingWindow falls back to the configured default.
func (m *Manager) CreateRoom(ctx context.Context, mode Mode, creator string, capacity int, entryStake int64, bettingWindow time.Duration) (*Room, error) {
	if capacity < 1 || capacity > m.cfg.MaxCapacity {
		return nil, fmt.Errorf("capacity must be between 1 and %d", m.cfg.MaxCapacity)
	}
	if entryStake < 0 {
		return nil, fmt.Errorf("entry stake must not be negative")
	}
	if bettingWindow < 0 {
		return nil, fmt.Errorf("betting window must not be negative")
	}
	if bettingWindow == 0 {
		bettingWindow = m.cfg.BettingWindow
	}

	r := &Room{
		ID:            uuid.New(),
		Mode:          mode,
		Status:        StatusWaiting,
		Creator:       creator,
		Capacity:      capacity,
		EntryStake:    entryStake,
		BettingWindow: bettingWindow,
		CreatedAt:     time.Now(),
	}
	if err := m.store.CreateRoom(ctx, r); err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}
	if _, err := m.ledger.OpenPool(ctx, r.ID); err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}

	if m.metrics != nil {
		m.metrics.RoomsCreated.WithLabelValues(string(mode)).Inc()
		m.metrics.RoomsActive.Inc()
	}
	m.log.Info().
		Str("room_id", r.ID.String()).
		Str("mode", string(mode)).
		Str("creator", creator).
		Int("capacity", capacity).
		Int64("entry_stake", entryStake).
		Msg("room created")

	return r, nil
}

// JoinRoom admits a player, places their automatic entry stake on
// themselves, and opens the betting window once the room is full.
func (m *Manager) JoinRoom(ctx context.Context, roomID uuid.UUID, player, vehicleID string) error {
	r, err := m.store.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if r.Status != StatusWaiting {
		return ErrInvalidTransition
	}

	// The capacity check lives inside the store insert, so a join racing
	// another join for the last seat loses there with ErrRoomFull.
	if err := m.store.AddPlayer(ctx, &Player{
		RoomID:    roomID,
		Addr:      player,
		VehicleID: vehicleID,
		JoinedAt:  time.Now(),
	}); err != nil {
		return err
	}

	if r.EntryStake > 0 && r.Mode == ModeVersus {
		p, err := m.ledger.GetPool(ctx, roomID)
		if err != nil {
			return fmt.Errorf("lookup pool: %w", err)
		}
		if _, err := m.ledger.PlaceEntryStake(ctx, p.ID, player, r.EntryStake); err != nil &&
			!errors.Is(err, pool.ErrDuplicateStake) {
			return fmt.Errorf("entry stake: %w", err)
		}
	}

	if m.metrics != nil {
		m.metrics.PlayersJoined.Inc()
	}
	m.bc.Publish(roomID, broadcast.EventPlayerJoined, map[string]string{
		"player":  player,
		"vehicle": vehicleID,
	})

	players, err := m.store.ListPlayers(ctx, roomID)
	if err != nil {
		return fmt.Errorf("list players: %w", err)
	}
	if len(players) >= r.Capacity {
		return m.startBetting(ctx, r)
	}
	return nil
}

// LeaveRoom removes a player from a room that has not filled yet and
// returns their automatic entry stake. The creator cannot leave their own
// room; they cancel it instead. Stakes the player placed on other
// competitors stay in the pool.
func (m *Manager) LeaveRoom(ctx context.Context, roomID uuid.UUID, player string) error {
	r, err := m.store.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if r.Status != StatusWaiting {
		return ErrInvalidTransition
	}
	if r.Creator == player {
		return ErrCreatorLeave
	}

	if err := m.store.RemovePlayer(ctx, roomID, player); err != nil {
		return err
	}

	if r.EntryStake > 0 && r.Mode == ModeVersus {
		p, err := m.ledger.GetPool(ctx, roomID)
		if err != nil {
			return fmt.Errorf("lookup pool: %w", err)
		}
		if _, err := m.ledger.RefundEntryStake(ctx, p.ID, player); err != nil {
			return fmt.Errorf("refund entry stake: %w", err)
		}
	}

	m.bc.Publish(roomID, broadcast.EventPlayerLeft, map[string]string{"player": player})
	m.log.Info().Str("room_id", roomID.String()).Str("player", player).Msg("player left")
	return nil
}

// PlaceStake lets a third party stake on a predicted winner while the
// betting window is open.
func (m *Manager) PlaceStake(ctx context.Context, roomID uuid.UUID, staker, predictedWinner string, amount int64) error {
	r, err := m.store.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if r.Status != StatusWaiting && r.Status != StatusBetting {
		return ErrInvalidTransition
	}
	p, err := m.ledger.GetPool(ctx, roomID)
	if err != nil {
		return fmt.Errorf("lookup pool: %w", err)
	}
	_, err = m.ledger.PlaceStake(ctx, p.ID, staker, predictedWinner, amount)
	return err
}

func (m *Manager) startBetting(ctx context.Context, r *Room) error {
	changed, err := m.store.TransitionRoom(ctx, r.ID, StatusBetting)
	if err != nil {
		return fmt.Errorf("enter betting: %w", err)
	}
	if !changed {
		return nil
	}

	window := r.BettingWindow
	if window <= 0 {
		window = m.cfg.BettingWindow
	}
	deadline := time.Now().Add(window)
	if err := m.store.SetBettingDeadline(ctx, r.ID, deadline); err != nil {
		m.log.Warn().Str("room_id", r.ID.String()).Err(err).Msg("set betting deadline failed")
	}

	m.bc.Publish(r.ID, broadcast.EventBettingStart, map[string]interface{}{
		"deadline":    deadline.Unix(),
		"entry_stake": r.EntryStake,
	})
	m.log.Info().Str("room_id", r.ID.String()).Time("deadline", deadline).Msg("betting window open")

	go m.runBettingWindow(r.ID, window)
	return nil
}

// runBettingWindow broadcasts a per-second countdown, then drives the room
// into COUNTDOWN and RACING. A concurrent cancellation makes the
// transition fail its guard, which ends the goroutine quietly.
func (m *Manager) runBettingWindow(roomID uuid.UUID, window time.Duration) {
	remaining := int(window / time.Second)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for remaining > 0 {
		select {
		case <-m.baseCtx.Done():
			return
		case <-ticker.C:
			remaining--
			m.bc.Publish(roomID, broadcast.EventBettingCountdown, map[string]int{"seconds": remaining})
		}
	}

	ctx := m.baseCtx
	changed, err := m.store.TransitionRoom(ctx, roomID, StatusCountdown)
	if err != nil || !changed {
		if err != nil && !errors.Is(err, ErrInvalidTransition) {
			m.log.Error().Str("room_id", roomID.String()).Err(err).Msg("enter countdown failed")
		}
		return
	}

	select {
	case <-m.baseCtx.Done():
		return
	case <-time.After(m.cfg.CountdownDelay):
	}

	if err := m.startRace(ctx, roomID); err != nil {
		m.log.Error().Str("room_id", roomID.String()).Err(err).Msg("start race failed")
	}
}

// startRace snapshots car stats, builds the engine, registers it in the
// active map, and starts the tick loop.
func (m *Manager) startRace(ctx context.Context, roomID uuid.UUID) error {
	r, err := m.store.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}

	players, err := m.store.ListPlayers(ctx, roomID)
	if err != nil {
		return fmt.Errorf("list players: %w", err)
	}
	if len(players) == 0 {
		return fmt.Errorf("room %s has no players", roomID)
	}

	seeds := make([]engine.PlayerSeed, 0, len(players)+1)
	for _, p := range players {
		carStats, err := m.stats.VehicleStats(ctx, p.Addr, p.VehicleID)
		if err != nil {
			m.log.Warn().
				Str("room_id", roomID.String()).
				Str("player", p.Addr).
				Err(err).
				Msg("stats lookup failed, using defaults")
			carStats = stats.DefaultStats
		}
		seeds = append(seeds, engine.PlayerSeed{
			Addr:      p.Addr,
			VehicleID: p.VehicleID,
			Stats:     carStats,
		})
	}
	if r.Mode == ModeSolo {
		seeds = append(seeds, engine.PlayerSeed{
			Addr:  aiPlayerAddr,
			Stats: stats.DefaultStats,
			AI:    true,
		})
	}

	changed, err := m.store.TransitionRoom(ctx, roomID, StatusRacing)
	if err != nil {
		return fmt.Errorf("enter racing: %w", err)
	}
	if !changed {
		return nil
	}

	rng := rand.New(rand.NewSource(m.NewSeed()))
	eng := engine.New(roomID, seeds, rng)
	runner := engine.NewRunner(eng, m.cfg.TickInterval, m.metrics)

	runner.OnTick = func(s engine.State) {
		m.bc.Publish(roomID, broadcast.EventGameState, s)
		if m.mirror != nil {
			m.mirror.Offer(roomID, s)
		}
	}
	runner.OnDone = func(final engine.State) {
		m.finishRace(roomID, r.Mode, final)
	}

	m.mu.Lock()
	m.active[roomID] = &activeRace{engine: eng, runner: runner}
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RoomCapacity.WithLabelValues(string(r.Mode)).Observe(float64(len(players)))
	}
	m.bc.Publish(roomID, broadcast.EventGameStart, map[string]interface{}{
		"players": len(seeds),
		"tick_hz": engine.TickRate,
	})
	m.log.Info().Str("room_id", roomID.String()).Int("players", len(seeds)).Msg("race started")

	runner.Start()
	return nil
}

// finishRace removes the engine from the registry, settles through the
// coordinator, and flips the room to FINISHED.
func (m *Manager) finishRace(roomID uuid.UUID, mode Mode, final engine.State) {
	m.mu.Lock()
	delete(m.active, roomID)
	m.mu.Unlock()

	ctx := m.baseCtx
	result, err := m.coord.Finalize(ctx, roomID, mode == ModeVersus, final)
	if err != nil {
		m.log.Error().Str("room_id", roomID.String()).Err(err).Msg("finalize failed")
		return
	}

	if _, err := m.store.TransitionRoom(ctx, roomID, StatusFinished); err != nil {
		m.log.Error().Str("room_id", roomID.String()).Err(err).Msg("enter finished failed")
	}

	if m.metrics != nil {
		m.metrics.RoomsFinished.WithLabelValues(string(StatusFinished)).Inc()
		m.metrics.RoomsActive.Dec()
	}
	m.bc.Publish(roomID, broadcast.EventGameEnd, map[string]interface{}{
		"winner":    result.Winner,
		"duration":  result.DurationTicks,
		"standings": result.Standings,
	})
}

// SubmitInput queues a lane-change intent for the room's next tick. It
// never blocks on simulation progress.
func (m *Manager) SubmitInput(roomID uuid.UUID, player string, action engine.Action) error {
	m.mu.Lock()
	race, ok := m.active[roomID]
	m.mu.Unlock()
	if !ok {
		if m.metrics != nil {
			m.metrics.InputsDropped.Inc()
		}
		return ErrNotRacing
	}
	if !race.engine.QueueInput(player, action) {
		if m.metrics != nil {
			m.metrics.InputsDropped.Inc()
		}
		return fmt.Errorf("input rejected for player %s", player)
	}
	if m.metrics != nil {
		m.metrics.InputsQueued.Inc()
	}
	return nil
}

// CancelRoom cancels a WAITING or BETTING room. Only the creator may
// cancel. Refunds, pool deletion, and the status change are one atomic
// storage transaction.
func (m *Manager) CancelRoom(ctx context.Context, roomID uuid.UUID, requester string) error {
	r, err := m.store.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if r.Creator != requester {
		return ErrNotCreator
	}
	if r.Status == StatusCancelled {
		return nil
	}
	if r.Status != StatusWaiting && r.Status != StatusBetting {
		return ErrInvalidTransition
	}

	if err := m.store.CancelRoom(ctx, roomID); err != nil {
		return err
	}

	if m.metrics != nil {
		m.metrics.RoomsFinished.WithLabelValues(string(StatusCancelled)).Inc()
		m.metrics.RoomsActive.Dec()
	}
	m.bc.Publish(roomID, broadcast.EventRoomCancelled, map[string]string{"by": requester})
	m.log.Info().Str("room_id", roomID.String()).Str("by", requester).Msg("room cancelled")
	return nil
}

// RoomState is the externally visible view of a room.
type RoomState struct {
	Room       *Room         `json:"room"`
	Players    []Player      `json:"players"`
	Simulation *engine.State `json:"simulation,omitempty"`
}

// GetState returns the room record, membership, and (while racing) a
// simulation snapshot.
func (m *Manager) GetState(ctx context.Context, roomID uuid.UUID) (*RoomState, error) {
	r, err := m.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	players, err := m.store.ListPlayers(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}

	state := &RoomState{Room: r, Players: players}

	m.mu.Lock()
	race, ok := m.active[roomID]
	m.mu.Unlock()
	if ok {
		snap := race.engine.Snapshot()
		state.Simulation = &snap
	}
	return state, nil
}

// ActiveCount reports the number of running engines.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Shutdown stops every running loop and waits for them to exit.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	races := make([]*activeRace, 0, len(m.active))
	for _, race := range m.active {
		races = append(races, race)
	}
	m.mu.Unlock()

	for _, race := range races {
		race.runner.Stop()
		<-race.runner.Done()
	}
}
