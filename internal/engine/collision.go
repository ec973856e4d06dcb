package engine

// aabbOverlap tests two axis-aligned boxes given their center coordinates
// and half extents on each axis.
func aabbOverlap(x1, y1, hw1, hl1, x2, y2, hw2, hl2 float64) bool {
	if x1+hw1 < x2-hw2 || x2+hw2 < x1-hw1 {
		return false
	}
	if y1+hl1 < y2-hl2 || y2+hl2 < y1-hl1 {
		return false
	}
	return true
}

func playerHits(p *PlayerState, lane int, distance float64) bool {
	return aabbOverlap(
		float64(p.Lane), p.Distance, LaneHalfWidth, PlayerHalfLength,
		float64(lane), distance, LaneHalfWidth, EntityHalfLength,
	)
}

// resolveCollisions tests every active player against every active obstacle
// and power-up. Hit entities are consumed.
func (e *Engine) resolveCollisions() {
	s := &e.state

	obstacles := s.Obstacles[:0]
	for _, o := range s.Obstacles {
		hit := false
		for _, p := range s.Players {
			if !p.Active() || !playerHits(p, o.Lane, o.Distance) {
				continue
			}
			hit = true
			e.applyObstacle(p, o)
			break
		}
		if !hit {
			obstacles = append(obstacles, o)
		}
	}
	s.Obstacles = obstacles

	powerups := s.PowerUps[:0]
	for _, pu := range s.PowerUps {
		hit := false
		for _, p := range s.Players {
			if !p.Active() || !playerHits(p, pu.Lane, pu.Distance) {
				continue
			}
			hit = true
			e.applyPowerUp(p, pu)
			break
		}
		if !hit {
			powerups = append(powerups, pu)
		}
	}
	s.PowerUps = powerups
}

func (e *Engine) applyObstacle(p *PlayerState, o *Obstacle) {
	switch o.Kind {
	case ObstacleBarrier:
		if consumeShield(p) {
			e.log.Debug().Str("player", p.Addr).Msg("shield consumed barrier hit")
			return
		}
		p.Eliminated = true
		p.Velocity = 0
		e.log.Info().Str("player", p.Addr).Int64("tick", e.state.Tick).Msg("player eliminated")
	case ObstacleOilSlick:
		p.Effects = append(p.Effects, Effect{
			Kind:       EffectSlow,
			Multiplier: SlowMultiplier,
			ExpiresAt:  e.state.Tick + SlowDurationTicks,
		})
	}
}

func (e *Engine) applyPowerUp(p *PlayerState, pu *PowerUp) {
	switch pu.Kind {
	case PowerUpBoost:
		p.Effects = append(p.Effects, Effect{
			Kind:       EffectBoost,
			Multiplier: BoostMultiplier,
			ExpiresAt:  e.state.Tick + BoostDurationTicks,
		})
	case PowerUpShield:
		p.Effects = append(p.Effects, Effect{Kind: EffectShield, Multiplier: 1})
	case PowerUpEMP:
		for _, other := range e.state.Players {
			if other == p || !other.Active() {
				continue
			}
			other.Effects = append(other.Effects, Effect{
				Kind:       EffectSlow,
				Multiplier: SlowMultiplier,
				ExpiresAt:  e.state.Tick + SlowDurationTicks,
			})
		}
	}
}
