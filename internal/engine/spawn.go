package engine

import "github.com/google/uuid"

// Spawn weights for weighted random type selection.
var (
	obstacleWeights = []weighted[ObstacleKind]{
		{ObstacleBarrier, 2},
		{ObstacleOilSlick, 3},
	}
	powerUpWeights = []weighted[PowerUpKind]{
		{PowerUpBoost, 4},
		{PowerUpShield, 2},
		{PowerUpEMP, 1},
	}
)

type weighted[T any] struct {
	value  T
	weight int
}

func pickWeighted[T any](e *Engine, choices []weighted[T]) T {
	total := 0
	for _, c := range choices {
		total += c.weight
	}
	n := e.rng.Intn(total)
	for _, c := range choices {
		n -= c.weight
		if n < 0 {
			return c.value
		}
	}
	return choices[len(choices)-1].value
}

// spawnEntities probabilistically drops an obstacle and/or power-up ahead
// of the leading player, bounded by the maximum concurrent counts.
func (e *Engine) spawnEntities() {
	lead := e.state.Leader()
	if lead == nil {
		return
	}

	if len(e.state.Obstacles) < MaxObstacles && e.rng.Float64() < ObstacleSpawnChance {
		e.state.Obstacles = append(e.state.Obstacles, &Obstacle{
			ID:       uuid.New(),
			Kind:     pickWeighted(e, obstacleWeights),
			Lane:     e.rng.Intn(TrackLanes),
			Distance: lead.Distance + SpawnAheadMin + e.rng.Float64()*SpawnAheadSpread,
		})
	}

	if len(e.state.PowerUps) < MaxPowerUps && e.rng.Float64() < PowerUpSpawnChance {
		e.state.PowerUps = append(e.state.PowerUps, &PowerUp{
			ID:       uuid.New(),
			Kind:     pickWeighted(e, powerUpWeights),
			Lane:     e.rng.Intn(TrackLanes),
			Distance: lead.Distance + SpawnAheadMin + e.rng.Float64()*SpawnAheadSpread,
		})
	}
}

// evictEntities removes obstacles and power-ups that have fallen behind
// the trailing player beyond the safety margin.
func (e *Engine) evictEntities() {
	trail := e.state.Trailer()
	if trail == nil {
		return
	}
	cutoff := trail.Distance - EvictMargin

	obstacles := e.state.Obstacles[:0]
	for _, o := range e.state.Obstacles {
		if o.Distance >= cutoff {
			obstacles = append(obstacles, o)
		}
	}
	e.state.Obstacles = obstacles

	powerups := e.state.PowerUps[:0]
	for _, pu := range e.state.PowerUps {
		if pu.Distance >= cutoff {
			powerups = append(powerups, pu)
		}
	}
	e.state.PowerUps = powerups
}
