package engine

import (
	"math/rand"
	"sort"
	"sync"

	"RacePool/internal/observability"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// PlayerSeed is what the engine needs to admit one racer: identity, the
// stat snapshot taken at race start, and whether it is the AI driver.
type PlayerSeed struct {
	Addr      string
	VehicleID string
	Stats     CarStats
	AI        bool
}

// Engine is the authoritative tick-driven simulation for one race. The
// runner goroutine is the sole mutator of its State; stateMu serializes
// those writes against Snapshot reads from request goroutines. All
// randomness flows through the injected rng so tests can seed it.
type Engine struct {
	RoomID uuid.UUID

	stateMu sync.Mutex
	state   State

	rng *rand.Rand
	log zerolog.Logger

	inputMu sync.Mutex
	inputs  []Input
}

func New(roomID uuid.UUID, seeds []PlayerSeed, rng *rand.Rand) *Engine {
	e := &Engine{
		RoomID: roomID,
		rng:    rng,
		log:    observability.NewLogger("engine").With().Str("room_id", roomID.String()).Logger(),
		inputs: make([]Input, 0, InputQueueCap),
	}
	for i, seed := range seeds {
		e.state.Players = append(e.state.Players, &PlayerState{
			Addr:      seed.Addr,
			VehicleID: seed.VehicleID,
			Stats:     seed.Stats,
			Lane:      i % TrackLanes,
			Rank:      i + 1,
			AI:        seed.AI,
		})
	}
	return e
}

// QueueInput appends a lane-change intent for the next tick. Safe from any
// goroutine; never blocks on simulation progress. Returns false when the
// queue is full or the player is unknown.
func (e *Engine) QueueInput(player string, action Action) bool {
	if e.playerByAddr(player) == nil {
		return false
	}
	e.inputMu.Lock()
	defer e.inputMu.Unlock()
	if len(e.inputs) >= InputQueueCap {
		return false
	}
	e.inputs = append(e.inputs, Input{Player: player, Action: action})
	return true
}

func (e *Engine) drainInputs() []Input {
	e.inputMu.Lock()
	defer e.inputMu.Unlock()
	drained := e.inputs
	e.inputs = make([]Input, 0, InputQueueCap)
	return drained
}

// Update advances the simulation one tick. Steps run in a fixed order so
// that, modulo the seeded rng, identical state and inputs produce an
// identical result.
func (e *Engine) Update() {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	if e.state.Over {
		return
	}
	s := &e.state
	s.Tick++

	// 1. Drain queued inputs and apply lane changes instantly.
	for _, in := range e.drainInputs() {
		p := e.playerByAddr(in.Player)
		if p == nil || !p.Active() {
			continue
		}
		switch in.Action {
		case ActionLaneLeft:
			p.Lane = clampLane(p.Lane - 1)
		case ActionLaneRight:
			p.Lane = clampLane(p.Lane + 1)
		}
	}
	e.driveAI()

	// 2–3. Integrate velocity, then position.
	for _, p := range s.Players {
		if !p.Active() {
			continue
		}
		expireEffects(p, s.Tick)
		integrateVelocity(p)
		integratePosition(p, s.Tick)
	}

	// 4–5. Spawn ahead of the leader, evict behind the trailer.
	e.spawnEntities()
	e.evictEntities()

	// 6. Collisions.
	e.resolveCollisions()

	// 7. Ranking.
	e.recomputeRanks()

	// 8. Termination.
	s.Over = e.evaluateTermination()
}

// driveAI makes the AI player take a uniformly random lane decision every
// AIDecisionTicks ticks.
func (e *Engine) driveAI() {
	if e.state.Tick%AIDecisionTicks != 0 {
		return
	}
	for _, p := range e.state.Players {
		if p.AI && p.Active() {
			p.Lane = e.rng.Intn(TrackLanes)
		}
	}
}

// recomputeRanks orders finishers by finish tick, then players still
// racing by distance descending, then eliminated players. Ties on distance
// break by address so the order is deterministic.
func (e *Engine) recomputeRanks() {
	players := make([]*PlayerState, len(e.state.Players))
	copy(players, e.state.Players)

	// Finishers rank by finish order, then players still racing by
	// distance, then eliminated players.
	class := func(p *PlayerState) int {
		switch {
		case p.Finished:
			return 0
		case p.Active():
			return 1
		default:
			return 2
		}
	}

	sort.SliceStable(players, func(i, j int) bool {
		a, b := players[i], players[j]
		if ca, cb := class(a), class(b); ca != cb {
			return ca < cb
		}
		if a.Finished && b.Finished && a.FinishTick != b.FinishTick {
			return a.FinishTick < b.FinishTick
		}
		if a.Distance != b.Distance {
			return a.Distance > b.Distance
		}
		return a.Addr < b.Addr
	})

	for i, p := range players {
		p.Rank = i + 1
	}
}

func (e *Engine) evaluateTermination() bool {
	s := &e.state
	if s.Tick >= MaxDurationTicks {
		return true
	}

	surviving := 0
	racing := 0
	for _, p := range s.Players {
		if !p.Eliminated {
			surviving++
			if !p.Finished {
				racing++
			}
		}
	}

	if surviving == 0 {
		return true
	}
	if surviving == 1 && len(s.Players) > 1 {
		return true
	}
	// Natural completion: everyone still alive has crossed the line.
	if racing == 0 {
		return true
	}
	return false
}

// IsGameOver reports whether the simulation has reached a terminal state.
func (e *Engine) IsGameOver() bool {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.state.Over
}

// WinnerOf returns the player with maximum distance among non-eliminated
// players in a state snapshot. Ties break deterministically: earlier
// finish tick first, then the lexicographically smaller address.
func WinnerOf(s *State) *PlayerState {
	var best *PlayerState
	for _, p := range s.Players {
		if p.Eliminated {
			continue
		}
		if best == nil || winnerLess(best, p) {
			best = p
		}
	}
	return best
}

// winnerLess reports whether b beats the current best a.
func winnerLess(a, b *PlayerState) bool {
	if b.Distance != a.Distance {
		return b.Distance > a.Distance
	}
	if a.Finished && b.Finished && a.FinishTick != b.FinishTick {
		return b.FinishTick < a.FinishTick
	}
	return b.Addr < a.Addr
}

// Snapshot returns a deep copy of the current state for broadcast, the
// advisory mirror, and state queries. The engine keeps exclusive ownership
// of the live state; stateMu makes the copy consistent against a tick in
// progress.
func (e *Engine) Snapshot() State {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	snap := State{
		Tick:      e.state.Tick,
		Over:      e.state.Over,
		Players:   make([]*PlayerState, 0, len(e.state.Players)),
		Obstacles: make([]*Obstacle, 0, len(e.state.Obstacles)),
		PowerUps:  make([]*PowerUp, 0, len(e.state.PowerUps)),
	}
	for _, p := range e.state.Players {
		cp := *p
		cp.Effects = append([]Effect(nil), p.Effects...)
		snap.Players = append(snap.Players, &cp)
	}
	for _, o := range e.state.Obstacles {
		co := *o
		snap.Obstacles = append(snap.Obstacles, &co)
	}
	for _, pu := range e.state.PowerUps {
		cpu := *pu
		snap.PowerUps = append(snap.PowerUps, &cpu)
	}
	return snap
}

// Tick returns the elapsed tick count.
func (e *Engine) Tick() int64 {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.state.Tick
}

func (e *Engine) playerByAddr(addr string) *PlayerState {
	for _, p := range e.state.Players {
		if p.Addr == addr {
			return p
		}
	}
	return nil
}
