package engine

import (
	"math/rand"
	"testing"

	"github.com/google/uuid"
)

func testEngine(addrs ...string) *Engine {
	var s []PlayerSeed
	for _, a := range addrs {
		s = append(s, PlayerSeed{Addr: a, Stats: CarStats{Speed: 50, Acceleration: 50, Handling: 50}})
	}
	return New(uuid.New(), s, rand.New(rand.NewSource(1)))
}

// ============================================================================
// Test: obstacle resolution
// ============================================================================

func TestBarrier_EliminatesUnshieldedPlayer(t *testing.T) {
	e := testEngine("alice")
	p := e.state.Players[0]
	p.Distance = 100
	p.Velocity = 5

	e.state.Obstacles = []*Obstacle{{ID: uuid.New(), Kind: ObstacleBarrier, Lane: p.Lane, Distance: 100}}
	e.resolveCollisions()

	if !p.Eliminated {
		t.Fatal("barrier hit should eliminate an unshielded player")
	}
	if p.Velocity != 0 {
		t.Errorf("eliminated player should stop, velocity=%f", p.Velocity)
	}
	if len(e.state.Obstacles) != 0 {
		t.Error("hit obstacle should be consumed")
	}
}

func TestBarrier_ShieldAbsorbsHitAndIsConsumed(t *testing.T) {
	e := testEngine("alice")
	p := e.state.Players[0]
	p.Distance = 100
	p.Effects = []Effect{{Kind: EffectShield, Multiplier: 1}}

	e.state.Obstacles = []*Obstacle{{ID: uuid.New(), Kind: ObstacleBarrier, Lane: p.Lane, Distance: 100}}
	e.resolveCollisions()

	if p.Eliminated {
		t.Fatal("shielded player must survive a barrier")
	}
	if p.HasShield() {
		t.Error("shield must be consumed by the hit")
	}
	if len(e.state.Obstacles) != 0 {
		t.Error("hit obstacle should be consumed")
	}
}

func TestOilSlick_AppliesTimedSlow(t *testing.T) {
	e := testEngine("alice")
	e.state.Tick = 10
	p := e.state.Players[0]
	p.Distance = 100

	e.state.Obstacles = []*Obstacle{{ID: uuid.New(), Kind: ObstacleOilSlick, Lane: p.Lane, Distance: 100}}
	e.resolveCollisions()

	if p.Eliminated {
		t.Fatal("oil slick must not eliminate")
	}
	if len(p.Effects) != 1 || p.Effects[0].Kind != EffectSlow {
		t.Fatalf("expected one slow effect, got %v", p.Effects)
	}
	if p.Effects[0].ExpiresAt != 10+SlowDurationTicks {
		t.Errorf("slow expiry: got %d, want %d", p.Effects[0].ExpiresAt, 10+SlowDurationTicks)
	}

	// Expired effects drop off.
	expireEffects(p, p.Effects[0].ExpiresAt+1)
	if len(p.Effects) != 0 {
		t.Error("expired slow should be removed")
	}
}

func TestCollision_DifferentLaneMisses(t *testing.T) {
	e := testEngine("alice")
	p := e.state.Players[0]
	p.Lane = 0
	p.Distance = 100

	e.state.Obstacles = []*Obstacle{{ID: uuid.New(), Kind: ObstacleBarrier, Lane: 2, Distance: 100}}
	e.resolveCollisions()

	if p.Eliminated {
		t.Error("obstacle in another lane must not hit")
	}
	if len(e.state.Obstacles) != 1 {
		t.Error("missed obstacle must persist")
	}
}

// ============================================================================
// Test: power-up resolution
// ============================================================================

func TestPowerUpEMP_SlowsEveryoneElse(t *testing.T) {
	e := testEngine("alice", "bob", "carol")
	alice := e.state.Players[0]
	alice.Distance = 100

	e.state.PowerUps = []*PowerUp{{ID: uuid.New(), Kind: PowerUpEMP, Lane: alice.Lane, Distance: 100}}
	e.resolveCollisions()

	if len(alice.Effects) != 0 {
		t.Error("EMP must not slow the collector")
	}
	for _, p := range e.state.Players[1:] {
		if len(p.Effects) != 1 || p.Effects[0].Kind != EffectSlow {
			t.Errorf("%s should carry a slow effect, got %v", p.Addr, p.Effects)
		}
	}
}

func TestPowerUpBoost_RaisesEffectiveSpeed(t *testing.T) {
	e := testEngine("alice")
	p := e.state.Players[0]
	p.Velocity = 3

	base := speedMultiplier(p)
	p.Effects = append(p.Effects, Effect{Kind: EffectBoost, Multiplier: BoostMultiplier, ExpiresAt: 100})
	boosted := speedMultiplier(p)

	if boosted <= base {
		t.Errorf("boost should raise multiplier: %f -> %f", base, boosted)
	}
}

func TestEffects_MultiplierFloor(t *testing.T) {
	p := &PlayerState{Stats: CarStats{Speed: 50, Acceleration: 50, Handling: 50}}
	for i := 0; i < 20; i++ {
		p.Effects = append(p.Effects, Effect{Kind: EffectSlow, Multiplier: SlowMultiplier, ExpiresAt: 1000})
	}
	if m := speedMultiplier(p); m < MinSpeedMultiplier {
		t.Errorf("multiplier below floor: %f", m)
	}
}

// ============================================================================
// Test: spawn and eviction bounds
// ============================================================================

func TestSpawn_RespectsConcurrentBounds(t *testing.T) {
	e := testEngine("alice")
	e.state.Players[0].Distance = 500

	for i := 0; i < 5000; i++ {
		e.spawnEntities()
		if len(e.state.Obstacles) > MaxObstacles {
			t.Fatalf("obstacle count exceeded bound: %d", len(e.state.Obstacles))
		}
		if len(e.state.PowerUps) > MaxPowerUps {
			t.Fatalf("power-up count exceeded bound: %d", len(e.state.PowerUps))
		}
	}
}

func TestSpawn_AlwaysAheadOfLeader(t *testing.T) {
	e := testEngine("alice", "bob")
	e.state.Players[0].Distance = 400
	e.state.Players[1].Distance = 100

	for i := 0; i < 2000; i++ {
		e.spawnEntities()
	}
	for _, o := range e.state.Obstacles {
		if o.Distance <= 400 {
			t.Errorf("obstacle spawned at %f, behind the leader", o.Distance)
		}
	}
}

func TestEvict_RemovesEntitiesBehindTrailer(t *testing.T) {
	e := testEngine("alice")
	e.state.Players[0].Distance = 1000

	e.state.Obstacles = []*Obstacle{
		{ID: uuid.New(), Kind: ObstacleBarrier, Distance: 1000 - EvictMargin - 1},
		{ID: uuid.New(), Kind: ObstacleBarrier, Distance: 1100},
	}
	e.evictEntities()

	if len(e.state.Obstacles) != 1 {
		t.Fatalf("expected 1 surviving obstacle, got %d", len(e.state.Obstacles))
	}
	if e.state.Obstacles[0].Distance != 1100 {
		t.Error("wrong obstacle evicted")
	}
}
