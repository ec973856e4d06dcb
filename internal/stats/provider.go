// Package stats resolves the car-stat snapshot taken at race start: base
// vehicle stats plus equipped-item bonuses. Read-only; the marketplace and
// inventory systems that write these tables live elsewhere.
package stats

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"RacePool/internal/engine"
)

// Provider looks up the effective stats for a player's chosen vehicle.
type Provider interface {
	VehicleStats(ctx context.Context, playerAddr, vehicleID string) (engine.CarStats, error)
}

// DefaultStats is handed out when a vehicle has no stored record, so an
// unknown vehicle never blocks a race from starting.
var DefaultStats = engine.CarStats{
	Speed:        50,
	Acceleration: 50,
	Handling:     50,
}

// PostgresProvider reads vehicle base stats and equipped bonuses.
type PostgresProvider struct {
	db *sql.DB
}

func NewPostgresProvider(db *sql.DB) *PostgresProvider {
	return &PostgresProvider{db: db}
}

func (p *PostgresProvider) VehicleStats(ctx context.Context, playerAddr, vehicleID string) (engine.CarStats, error) {
	var s engine.CarStats
	err := p.db.QueryRowContext(ctx, `
		SELECT speed, acceleration, handling
		FROM vehicles
		WHERE id = $1`, vehicleID).Scan(&s.Speed, &s.Acceleration, &s.Handling)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultStats, nil
	}
	if err != nil {
		return engine.CarStats{}, fmt.Errorf("vehicle stats %s: %w", vehicleID, err)
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT speed_bonus, acceleration_bonus, handling_bonus
		FROM equipped_items
		WHERE player_addr = $1 AND vehicle_id = $2`, playerAddr, vehicleID)
	if err != nil {
		return engine.CarStats{}, fmt.Errorf("equipped items %s/%s: %w", playerAddr, vehicleID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var sb, ab, hb int64
		if err := rows.Scan(&sb, &ab, &hb); err != nil {
			return engine.CarStats{}, fmt.Errorf("scan equipped item: %w", err)
		}
		s.Speed += sb
		s.Acceleration += ab
		s.Handling += hb
	}
	return s, rows.Err()
}

// StaticProvider serves a fixed stat table. Used in tests and local mode.
type StaticProvider struct {
	Stats map[string]engine.CarStats
}

func (p *StaticProvider) VehicleStats(_ context.Context, _, vehicleID string) (engine.CarStats, error) {
	if s, ok := p.Stats[vehicleID]; ok {
		return s, nil
	}
	return DefaultStats, nil
}
