package engine

import "time"

// Simulation tuning constants. Distances are in track units, speeds in
// track units per tick. Arcade integration, deliberately simple.
const (
	TickRate     = 20
	TickInterval = time.Second / TickRate

	TrackLanes     = 3
	FinishDistance = 2000.0

	MaxDurationTicks = 120 * TickRate // hard cap per race

	// Velocity integration. Stat values scale these bases.
	BaseAccelPerTick    = 0.18
	FrictionPerTick     = 0.02
	BaseMaxSpeed        = 5.0
	MaxSpeedPerStat     = 0.05 // extra max speed per speed stat point
	AccelPerStat        = 0.002
	MinSpeedMultiplier  = 0.1

	// Spawning happens ahead of the leading player.
	ObstacleSpawnChance = 0.06
	PowerUpSpawnChance  = 0.04
	SpawnAheadMin       = 60.0
	SpawnAheadSpread    = 120.0
	MaxObstacles        = 8
	MaxPowerUps         = 4
	EvictMargin         = 150.0 // behind the trailing player

	// Collision extents (half sizes along the track axis).
	PlayerHalfLength = 4.0
	EntityHalfLength = 3.0
	LaneHalfWidth    = 0.45 // lane coordinate half width; lanes are 1.0 apart

	// Timed effects, in ticks.
	BoostDurationTicks = 3 * TickRate
	SlowDurationTicks  = 4 * TickRate
	BoostMultiplier    = 1.5
	SlowMultiplier     = 0.6

	AIDecisionTicks = 120 // ≈ 2s at 20 Hz

	InputQueueCap = 256
)
