package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"RacePool/internal/pool"
	"RacePool/internal/room"
	"RacePool/internal/settle"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const pgUniqueViolation = "23505"

// Postgres is the durable store behind the pool ledger, the room
// lifecycle, and race results. Every money-moving method is one
// transaction; the pool aggregate only ever moves through SQL-level adds
// (`total_stake = total_stake + $n`), never an application-computed total.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// --- pool.Store ---

func (s *Postgres) CreatePool(ctx context.Context, p *pool.Pool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO prediction_pools (id, room_id, total_stake, is_settled, winner, created_at)
		VALUES ($1, $2, 0, FALSE, '', $3)`,
		p.ID, p.RoomID, p.CreatedAt)
	return err
}

func (s *Postgres) GetPool(ctx context.Context, poolID uuid.UUID) (*pool.Pool, error) {
	return s.scanPool(s.db.QueryRowContext(ctx, `
		SELECT id, room_id, total_stake, is_settled, winner, created_at
		FROM prediction_pools WHERE id = $1`, poolID))
}

func (s *Postgres) GetPoolByRoom(ctx context.Context, roomID uuid.UUID) (*pool.Pool, error) {
	return s.scanPool(s.db.QueryRowContext(ctx, `
		SELECT id, room_id, total_stake, is_settled, winner, created_at
		FROM prediction_pools WHERE room_id = $1`, roomID))
}

func (s *Postgres) scanPool(row *sql.Row) (*pool.Pool, error) {
	var p pool.Pool
	err := row.Scan(&p.ID, &p.RoomID, &p.TotalStake, &p.IsSettled, &p.Winner, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pool.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan pool: %w", err)
	}
	return &p, nil
}

func (s *Postgres) ListStakes(ctx context.Context, poolID uuid.UUID) ([]pool.Stake, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pool_id, staker, predicted_winner, amount, payout, claimed, placed_at
		FROM stakes WHERE pool_id = $1 ORDER BY placed_at, id`, poolID)
	if err != nil {
		return nil, fmt.Errorf("list stakes: %w", err)
	}
	defer rows.Close()

	var stakes []pool.Stake
	for rows.Next() {
		var st pool.Stake
		if err := rows.Scan(&st.ID, &st.PoolID, &st.Staker, &st.PredictedWinner,
			&st.Amount, &st.Payout, &st.Claimed, &st.PlacedAt); err != nil {
			return nil, fmt.Errorf("scan stake: %w", err)
		}
		stakes = append(stakes, st)
	}
	return stakes, rows.Err()
}

func (s *Postgres) HasStake(ctx context.Context, poolID uuid.UUID, staker string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM stakes WHERE pool_id = $1 AND staker = $2)`,
		poolID, staker).Scan(&exists)
	return exists, err
}

// PlaceStake debits the balance, inserts the stake, and bumps the
// aggregate, all in one transaction. The guarded balance update and the
// SQL-side increment keep concurrent placements serializable without any
// read-then-write-back of the total.
func (s *Postgres) PlaceStake(ctx context.Context, st *pool.Stake) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE balances SET amount = amount - $2
			WHERE addr = $1 AND amount >= $2`,
			st.Staker, st.Amount)
		if err != nil {
			return fmt.Errorf("debit balance: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return pool.ErrInsufficientBalance
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO stakes (id, pool_id, staker, predicted_winner, amount, payout, claimed, placed_at)
			VALUES ($1, $2, $3, $4, $5, 0, FALSE, $6)`,
			st.ID, st.PoolID, st.Staker, st.PredictedWinner, st.Amount, st.PlacedAt); err != nil {
			return fmt.Errorf("insert stake: %w", err)
		}

		res, err = tx.ExecContext(ctx, `
			UPDATE prediction_pools SET total_stake = total_stake + $2
			WHERE id = $1 AND NOT is_settled`,
			st.PoolID, st.Amount)
		if err != nil {
			return fmt.Errorf("increment pool aggregate: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return pool.ErrNotFound
		}
		return nil
	})
}

func (s *Postgres) ApplySettlement(ctx context.Context, poolID uuid.UUID, plan *pool.Settlement) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var settled bool
		var total int64
		err := tx.QueryRowContext(ctx, `
			SELECT is_settled, total_stake FROM prediction_pools WHERE id = $1 FOR UPDATE`,
			poolID).Scan(&settled, &total)
		if errors.Is(err, sql.ErrNoRows) {
			return pool.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock pool: %w", err)
		}
		if settled {
			return pool.ErrAlreadySettled
		}
		// A stake that committed after the plan was computed would be
		// debited yet paid nothing. Reject the stale plan; the caller
		// recomputes from the current aggregate.
		if total != plan.TotalStake {
			return pool.ErrStaleSettlement
		}

		for _, po := range plan.Payouts {
			if _, err := tx.ExecContext(ctx, `
				UPDATE stakes SET payout = $2, claimed = TRUE WHERE id = $1`,
				po.StakeID, po.Amount); err != nil {
				return fmt.Errorf("stamp stake %s: %w", po.StakeID, err)
			}
			if po.Amount > 0 {
				if err := creditTx(ctx, tx, po.Staker, po.Amount); err != nil {
					return err
				}
			}
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE prediction_pools SET is_settled = TRUE, winner = $2 WHERE id = $1`,
			poolID, plan.Winner); err != nil {
			return fmt.Errorf("mark settled: %w", err)
		}
		return nil
	})
}

// RefundStake reverses a leaving competitor's self-directed stake: delete
// the stake row, decrement the aggregate, credit the balance, one
// transaction. The settled-flag lock keeps it from racing a settlement.
func (s *Postgres) RefundStake(ctx context.Context, poolID uuid.UUID, staker string) (int64, error) {
	var refunded int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var settled bool
		err := tx.QueryRowContext(ctx, `
			SELECT is_settled FROM prediction_pools WHERE id = $1 FOR UPDATE`,
			poolID).Scan(&settled)
		if errors.Is(err, sql.ErrNoRows) {
			return pool.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock pool: %w", err)
		}
		if settled {
			return pool.ErrAlreadySettled
		}

		var stakeID uuid.UUID
		var amount int64
		err = tx.QueryRowContext(ctx, `
			SELECT id, amount FROM stakes
			WHERE pool_id = $1 AND staker = $2 AND predicted_winner = $2`,
			poolID, staker).Scan(&stakeID, &amount)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("find entry stake: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM stakes WHERE id = $1`, stakeID); err != nil {
			return fmt.Errorf("delete stake: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE prediction_pools SET total_stake = total_stake - $2
			WHERE id = $1`, poolID, amount); err != nil {
			return fmt.Errorf("decrement pool aggregate: %w", err)
		}
		if err := creditTx(ctx, tx, staker, amount); err != nil {
			return err
		}
		refunded = amount
		return nil
	})
	return refunded, err
}

func (s *Postgres) GetBalance(ctx context.Context, addr string) (int64, error) {
	var amount int64
	err := s.db.QueryRowContext(ctx,
		`SELECT amount FROM balances WHERE addr = $1`, addr).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return amount, err
}

func (s *Postgres) CreditBalance(ctx context.Context, addr string, amount int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return creditTx(ctx, tx, addr, amount)
	})
}

func creditTx(ctx context.Context, tx *sql.Tx, addr string, amount int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO balances (addr, amount) VALUES ($1, $2)
		ON CONFLICT (addr) DO UPDATE SET amount = balances.amount + EXCLUDED.amount`,
		addr, amount)
	if err != nil {
		return fmt.Errorf("credit %s: %w", addr, err)
	}
	return nil
}

// --- room.Store ---

func (s *Postgres) CreateRoom(ctx context.Context, r *room.Room) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rooms (id, mode, status, creator, capacity, entry_stake, betting_window_sec, betting_deadline, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULL, $8)`,
		r.ID, r.Mode, r.Status, r.Creator, r.Capacity, r.EntryStake,
		int64(r.BettingWindow/time.Second), r.CreatedAt)
	return err
}

func (s *Postgres) GetRoom(ctx context.Context, roomID uuid.UUID) (*room.Room, error) {
	var r room.Room
	var deadline sql.NullTime
	var windowSec int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, mode, status, creator, capacity, entry_stake, betting_window_sec, betting_deadline, created_at
		FROM rooms WHERE id = $1`, roomID).
		Scan(&r.ID, &r.Mode, &r.Status, &r.Creator, &r.Capacity, &r.EntryStake, &windowSec, &deadline, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, room.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan room: %w", err)
	}
	r.BettingWindow = time.Duration(windowSec) * time.Second
	if deadline.Valid {
		r.BettingDeadline = deadline.Time
	}
	return &r, nil
}

// AddPlayer inserts the membership record behind a capacity check that
// holds the room row lock, so two joins racing for the last seat serialize
// and the loser gets ErrRoomFull.
func (s *Postgres) AddPlayer(ctx context.Context, p *room.Player) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var capacity int
		err := tx.QueryRowContext(ctx,
			`SELECT capacity FROM rooms WHERE id = $1 FOR UPDATE`, p.RoomID).Scan(&capacity)
		if errors.Is(err, sql.ErrNoRows) {
			return room.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock room: %w", err)
		}

		var members int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM room_players WHERE room_id = $1`, p.RoomID).Scan(&members); err != nil {
			return fmt.Errorf("count players: %w", err)
		}
		if members >= capacity {
			return room.ErrRoomFull
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO room_players (room_id, player_addr, vehicle_id, joined_at)
			VALUES ($1, $2, $3, $4)`,
			p.RoomID, p.Addr, p.VehicleID, p.JoinedAt)
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
			return room.ErrAlreadyJoined
		}
		return err
	})
}

func (s *Postgres) RemovePlayer(ctx context.Context, roomID uuid.UUID, addr string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM room_players WHERE room_id = $1 AND player_addr = $2`,
		roomID, addr)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return room.ErrNotJoined
	}
	return nil
}

func (s *Postgres) ListPlayers(ctx context.Context, roomID uuid.UUID) ([]room.Player, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT room_id, player_addr, vehicle_id, joined_at
		FROM room_players WHERE room_id = $1 ORDER BY joined_at`, roomID)
	if err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}
	defer rows.Close()

	var players []room.Player
	for rows.Next() {
		var p room.Player
		if err := rows.Scan(&p.RoomID, &p.Addr, &p.VehicleID, &p.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan player: %w", err)
		}
		players = append(players, p)
	}
	return players, rows.Err()
}

func (s *Postgres) TransitionRoom(ctx context.Context, roomID uuid.UUID, to room.Status) (bool, error) {
	var changed bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var cur room.Status
		err := tx.QueryRowContext(ctx,
			`SELECT status FROM rooms WHERE id = $1 FOR UPDATE`, roomID).Scan(&cur)
		if errors.Is(err, sql.ErrNoRows) {
			return room.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock room: %w", err)
		}
		if cur == to {
			return nil // already there, no-op
		}
		if !room.CanTransition(cur, to) {
			return room.ErrInvalidTransition
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE rooms SET status = $2 WHERE id = $1`, roomID, to); err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		changed = true
		return nil
	})
	return changed, err
}

// CancelRoom refunds every stake its exact amount, deletes the pool and
// stakes, and flips the room to CANCELLED, all inside one transaction. A
// concurrent reader either sees the room before cancellation or fully
// cancelled, never partially refunded.
func (s *Postgres) CancelRoom(ctx context.Context, roomID uuid.UUID) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var cur room.Status
		err := tx.QueryRowContext(ctx,
			`SELECT status FROM rooms WHERE id = $1 FOR UPDATE`, roomID).Scan(&cur)
		if errors.Is(err, sql.ErrNoRows) {
			return room.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock room: %w", err)
		}
		if cur == room.StatusCancelled {
			return nil
		}
		if cur != room.StatusWaiting && cur != room.StatusBetting {
			return room.ErrInvalidTransition
		}

		var poolID uuid.UUID
		err = tx.QueryRowContext(ctx,
			`SELECT id FROM prediction_pools WHERE room_id = $1 FOR UPDATE`, roomID).Scan(&poolID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("lock pool: %w", err)
		}

		if err == nil {
			rows, err := tx.QueryContext(ctx,
				`SELECT staker, amount FROM stakes WHERE pool_id = $1`, poolID)
			if err != nil {
				return fmt.Errorf("list stakes: %w", err)
			}
			type refund struct {
				staker string
				amount int64
			}
			var refunds []refund
			for rows.Next() {
				var rf refund
				if err := rows.Scan(&rf.staker, &rf.amount); err != nil {
					rows.Close()
					return fmt.Errorf("scan stake: %w", err)
				}
				refunds = append(refunds, rf)
			}
			rows.Close()
			if err := rows.Err(); err != nil {
				return err
			}

			for _, rf := range refunds {
				if err := creditTx(ctx, tx, rf.staker, rf.amount); err != nil {
					return err
				}
			}
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM stakes WHERE pool_id = $1`, poolID); err != nil {
				return fmt.Errorf("delete stakes: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM prediction_pools WHERE id = $1`, poolID); err != nil {
				return fmt.Errorf("delete pool: %w", err)
			}
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE rooms SET status = $2 WHERE id = $1`, roomID, room.StatusCancelled); err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		return nil
	})
}

func (s *Postgres) SetBettingDeadline(ctx context.Context, roomID uuid.UUID, deadline time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE rooms SET betting_deadline = $2 WHERE id = $1`, roomID, deadline)
	return err
}

// --- settle.ResultStore ---

func (s *Postgres) SaveResult(ctx context.Context, r *settle.RaceResult) error {
	standings, err := json.Marshal(r.Standings)
	if err != nil {
		return fmt.Errorf("marshal standings: %w", err)
	}
	// Results are immutable: a second save for the same room is ignored.
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO race_results (id, room_id, winner, duration_ticks, standings, attestation, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (room_id) DO NOTHING`,
		r.ID, r.RoomID, r.Winner, r.DurationTicks, standings, r.Attestation, r.FinishedAt)
	return err
}

func (s *Postgres) GetResult(ctx context.Context, roomID uuid.UUID) (*settle.RaceResult, error) {
	var r settle.RaceResult
	var standings []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, room_id, winner, duration_ticks, standings, attestation, finished_at
		FROM race_results WHERE room_id = $1`, roomID).
		Scan(&r.ID, &r.RoomID, &r.Winner, &r.DurationTicks, &standings, &r.Attestation, &r.FinishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, settle.ErrNoResult
	}
	if err != nil {
		return nil, fmt.Errorf("scan result: %w", err)
	}
	if err := json.Unmarshal(standings, &r.Standings); err != nil {
		return nil, fmt.Errorf("unmarshal standings: %w", err)
	}
	return &r, nil
}
