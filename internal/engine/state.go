package engine

import "github.com/google/uuid"

// Action is a discrete lane-change intent submitted by a player.
type Action int

const (
	ActionLaneLeft Action = iota
	ActionLaneRight
)

// Input is a queued player action, drained at the start of the next tick.
type Input struct {
	Player string
	Action Action
}

// CarStats is the immutable stat snapshot taken once at race start.
// Base stats plus equipped-item bonuses, resolved by the stats provider.
type CarStats struct {
	Speed        int64 `json:"speed"`
	Acceleration int64 `json:"acceleration"`
	Handling     int64 `json:"handling"`
}

// EffectKind classifies a timed (or shield) effect on a player.
type EffectKind int

const (
	EffectBoost EffectKind = iota
	EffectShield
	EffectSlow
)

// Effect is an active modifier on a player. Shields carry no expiry; they
// persist until consumed by a collision.
type Effect struct {
	Kind       EffectKind `json:"kind"`
	Multiplier float64    `json:"multiplier"`
	ExpiresAt  int64      `json:"expires_at"` // tick; ignored for shields
}

// PlayerState is one racer's live simulation state.
type PlayerState struct {
	Addr       string   `json:"addr"`
	VehicleID  string   `json:"vehicle_id"`
	Stats      CarStats `json:"stats"`
	Lane       int      `json:"lane"`
	Distance   float64  `json:"distance"`
	Velocity   float64  `json:"velocity"`
	Rotation   float64  `json:"rotation"`
	Effects    []Effect `json:"effects,omitempty"`
	Rank       int      `json:"rank"`
	Finished   bool     `json:"finished"`
	Eliminated bool     `json:"eliminated"`
	FinishTick int64    `json:"finish_tick,omitempty"`
	AI         bool     `json:"ai,omitempty"`
}

// Active reports whether the player still races (not finished, not out).
func (p *PlayerState) Active() bool {
	return !p.Finished && !p.Eliminated
}

// HasShield reports whether an unconsumed shield effect is active.
func (p *PlayerState) HasShield() bool {
	for _, e := range p.Effects {
		if e.Kind == EffectShield {
			return true
		}
	}
	return false
}

// ObstacleKind is chosen by weighted random selection at spawn time.
type ObstacleKind int

const (
	ObstacleBarrier  ObstacleKind = iota // eliminates unless shielded
	ObstacleOilSlick                     // timed speed reduction
)

type Obstacle struct {
	ID       uuid.UUID    `json:"id"`
	Kind     ObstacleKind `json:"kind"`
	Lane     int          `json:"lane"`
	Distance float64      `json:"distance"`
}

type PowerUpKind int

const (
	PowerUpBoost  PowerUpKind = iota // timed speed boost
	PowerUpShield                    // consumed by a collision, not by timeout
	PowerUpEMP                       // timed slow applied to all other players
)

type PowerUp struct {
	ID       uuid.UUID   `json:"id"`
	Kind     PowerUpKind `json:"kind"`
	Lane     int         `json:"lane"`
	Distance float64     `json:"distance"`
}

// State is the transient simulation state for one race, owned exclusively
// by its engine. It is destroyed (converted to a persisted result) at
// termination.
type State struct {
	Tick      int64          `json:"tick"`
	Players   []*PlayerState `json:"players"`
	Obstacles []*Obstacle    `json:"obstacles"`
	PowerUps  []*PowerUp     `json:"powerups"`
	Over      bool           `json:"over"`
}

// Leader returns the non-eliminated player with the greatest distance.
func (s *State) Leader() *PlayerState {
	var lead *PlayerState
	for _, p := range s.Players {
		if p.Eliminated {
			continue
		}
		if lead == nil || p.Distance > lead.Distance {
			lead = p
		}
	}
	return lead
}

// Trailer returns the non-eliminated player with the smallest distance.
func (s *State) Trailer() *PlayerState {
	var trail *PlayerState
	for _, p := range s.Players {
		if p.Eliminated {
			continue
		}
		if trail == nil || p.Distance < trail.Distance {
			trail = p
		}
	}
	return trail
}
