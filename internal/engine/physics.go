package engine

// speedMultiplier folds all active timed multipliers into one factor.
func speedMultiplier(p *PlayerState) float64 {
	mult := 1.0
	for _, e := range p.Effects {
		if e.Kind == EffectShield {
			continue
		}
		mult *= e.Multiplier
	}
	if mult < MinSpeedMultiplier {
		mult = MinSpeedMultiplier
	}
	return mult
}

// maxSpeed derives the velocity clamp from the player's stat snapshot.
func maxSpeed(p *PlayerState) float64 {
	return BaseMaxSpeed + float64(p.Stats.Speed)*MaxSpeedPerStat
}

// integrateVelocity applies acceleration and friction scaled by the stat
// snapshot and active multipliers, then clamps to stat-derived max speed.
func integrateVelocity(p *PlayerState) {
	accel := (BaseAccelPerTick + float64(p.Stats.Acceleration)*AccelPerStat) * speedMultiplier(p)
	p.Velocity += accel
	p.Velocity -= p.Velocity * FrictionPerTick

	limit := maxSpeed(p) * speedMultiplier(p)
	if p.Velocity > limit {
		p.Velocity = limit
	}
	if p.Velocity < 0 {
		p.Velocity = 0
	}
}

// integratePosition advances distance and stamps finishers.
func integratePosition(p *PlayerState, tick int64) {
	p.Distance += p.Velocity
	if !p.Finished && p.Distance >= FinishDistance {
		p.Finished = true
		p.FinishTick = tick
	}
}

// expireEffects drops timed effects whose ticks ran out. Shields are kept;
// they only leave via collision consumption.
func expireEffects(p *PlayerState, tick int64) {
	kept := p.Effects[:0]
	for _, e := range p.Effects {
		if e.Kind == EffectShield || e.ExpiresAt > tick {
			kept = append(kept, e)
		}
	}
	p.Effects = kept
}

// consumeShield removes exactly one shield effect. Returns false when the
// player holds none.
func consumeShield(p *PlayerState) bool {
	for i, e := range p.Effects {
		if e.Kind == EffectShield {
			p.Effects = append(p.Effects[:i], p.Effects[i+1:]...)
			return true
		}
	}
	return false
}

// clampLane keeps a lane index on the track.
func clampLane(lane int) int {
	if lane < 0 {
		return 0
	}
	if lane >= TrackLanes {
		return TrackLanes - 1
	}
	return lane
}
