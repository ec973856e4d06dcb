package pool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"RacePool/internal/observability"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Ledger owns all mutation of pools and stakes. Other components only read
// pools or request ledger operations through it.
type Ledger struct {
	store   Store
	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewLedger(store Store, metrics *observability.Metrics) *Ledger {
	return &Ledger{
		store:   store,
		metrics: metrics,
		log:     observability.NewLogger("pool-ledger"),
	}
}

// OpenPool creates the pool record for a room.
func (l *Ledger) OpenPool(ctx context.Context, roomID uuid.UUID) (*Pool, error) {
	p := &Pool{
		ID:        uuid.New(),
		RoomID:    roomID,
		CreatedAt: time.Now(),
	}
	if err := l.store.CreatePool(ctx, p); err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	return p, nil
}

// GetPool returns the pool for a room.
func (l *Ledger) GetPool(ctx context.Context, roomID uuid.UUID) (*Pool, error) {
	return l.store.GetPoolByRoom(ctx, roomID)
}

// PlaceStake places a wager on a predicted winner. Balance debit, stake
// insertion, and the aggregate increment are one atomic storage unit; the
// aggregate is moved by a storage-level add, never by reading the current
// total and writing back a computed one.
func (l *Ledger) PlaceStake(ctx context.Context, poolID uuid.UUID, staker, predictedWinner string, amount int64) (*Stake, error) {
	if amount <= 0 {
		l.reject("invalid_amount")
		return nil, ErrInvalidAmount
	}

	s := &Stake{
		ID:              uuid.New(),
		PoolID:          poolID,
		Staker:          staker,
		PredictedWinner: predictedWinner,
		Amount:          amount,
		PlacedAt:        time.Now(),
	}

	if err := l.store.PlaceStake(ctx, s); err != nil {
		switch {
		case errors.Is(err, ErrInsufficientBalance):
			l.reject("insufficient_balance")
		case errors.Is(err, ErrNotFound):
			l.reject("pool_not_found")
		}
		return nil, err
	}

	if l.metrics != nil {
		l.metrics.StakesPlaced.Inc()
		l.metrics.StakeVolume.Add(float64(amount))
	}
	l.log.Info().
		Str("pool_id", poolID.String()).
		Str("staker", staker).
		Str("predicted_winner", predictedWinner).
		Int64("amount", amount).
		Msg("stake placed")

	return s, nil
}

// PlaceEntryStake places the automatic self-directed stake for a joining
// competitor. A staker who already holds a stake in the pool is not charged
// a second time; that case reports ErrDuplicateStake so callers can treat
// a retried join as idempotent.
func (l *Ledger) PlaceEntryStake(ctx context.Context, poolID uuid.UUID, staker string, amount int64) (*Stake, error) {
	exists, err := l.store.HasStake(ctx, poolID, staker)
	if err != nil {
		return nil, fmt.Errorf("check existing stake: %w", err)
	}
	if exists {
		l.log.Debug().
			Str("pool_id", poolID.String()).
			Str("staker", staker).
			Msg("entry stake already placed, skipping")
		return nil, ErrDuplicateStake
	}
	return l.PlaceStake(ctx, poolID, staker, staker, amount)
}

// RefundEntryStake returns a leaving competitor's automatic self-stake to
// their balance and removes it from the pool. Stakes they placed on other
// competitors are untouched.
func (l *Ledger) RefundEntryStake(ctx context.Context, poolID uuid.UUID, staker string) (int64, error) {
	amount, err := l.store.RefundStake(ctx, poolID, staker)
	if err != nil {
		return 0, fmt.Errorf("refund stake: %w", err)
	}
	if amount == 0 {
		return 0, nil
	}
	if l.metrics != nil {
		l.metrics.RefundsTotal.Add(float64(amount))
	}
	l.log.Info().
		Str("pool_id", poolID.String()).
		Str("staker", staker).
		Int64("amount", amount).
		Msg("entry stake refunded")
	return amount, nil
}

// settleAttempts bounds recomputation when stakes keep landing between
// planning and applying. The betting window is long closed by settle time,
// so one retry is the realistic worst case.
const settleAttempts = 5

// Settle computes and applies the proportional payout for a pool. Calling
// it twice is a no-op: the settled flag is checked inside the settlement
// transaction, so no balance is ever credited twice. The plan carries the
// aggregate it was computed from; when a stake commits between the read
// and the apply, the store rejects the stale plan and Settle recomputes,
// so every debited stake appears in exactly one payout or refund.
func (l *Ledger) Settle(ctx context.Context, poolID uuid.UUID, actualWinner string, feeBps int64) (*Settlement, error) {
	start := time.Now()

	var plan *Settlement
	for attempt := 1; ; attempt++ {
		p, err := l.store.GetPool(ctx, poolID)
		if err != nil {
			return nil, err
		}
		if p.IsSettled {
			l.settled("noop")
			return nil, nil
		}

		stakes, err := l.store.ListStakes(ctx, poolID)
		if err != nil {
			return nil, fmt.Errorf("list stakes: %w", err)
		}

		plan = ComputeSettlement(p.TotalStake, stakes, actualWinner, feeBps)

		err = l.store.ApplySettlement(ctx, poolID, plan)
		if err == nil {
			break
		}
		if errors.Is(err, ErrAlreadySettled) {
			// Lost a settle race; the other caller's outcome is identical.
			l.settled("noop")
			return nil, nil
		}
		if errors.Is(err, ErrStaleSettlement) && attempt < settleAttempts {
			l.log.Warn().
				Str("pool_id", poolID.String()).
				Int("attempt", attempt).
				Msg("pool aggregate moved during settlement, recomputing")
			continue
		}
		return nil, fmt.Errorf("apply settlement: %w", err)
	}

	if l.metrics != nil {
		l.metrics.SettleDuration.Observe(time.Since(start).Seconds())
		if plan.Refund {
			l.settled("refunded")
			for _, po := range plan.Payouts {
				l.metrics.RefundsTotal.Add(float64(po.Amount))
			}
		} else {
			l.settled("paid")
			l.metrics.FeesTotal.Add(float64(plan.Fee))
			for _, po := range plan.Payouts {
				l.metrics.PayoutsTotal.Add(float64(po.Amount))
			}
		}
	}

	l.log.Info().
		Str("pool_id", poolID.String()).
		Str("winner", actualWinner).
		Int64("total_stake", plan.TotalStake).
		Int64("fee", plan.Fee).
		Bool("refund", plan.Refund).
		Msg("pool settled")

	return plan, nil
}

// CheckAggregate recomputes the stake sum and reports drift against the
// stored aggregate. Used by operational tooling; must always return 0.
func (l *Ledger) CheckAggregate(ctx context.Context, poolID uuid.UUID) (int64, error) {
	p, err := l.store.GetPool(ctx, poolID)
	if err != nil {
		return 0, err
	}
	stakes, err := l.store.ListStakes(ctx, poolID)
	if err != nil {
		return 0, err
	}
	var sum int64
	for _, s := range stakes {
		sum += s.Amount
	}
	drift := p.TotalStake - sum
	if l.metrics != nil {
		l.metrics.AggregateDrift.Set(float64(drift))
	}
	if drift != 0 {
		l.log.Error().
			Str("pool_id", poolID.String()).
			Int64("total_stake", p.TotalStake).
			Int64("stake_sum", sum).
			Msg("pool aggregate drift detected")
	}
	return drift, nil
}

func (l *Ledger) reject(reason string) {
	if l.metrics != nil {
		l.metrics.StakesRejected.WithLabelValues(reason).Inc()
	}
}

func (l *Ledger) settled(outcome string) {
	if l.metrics != nil {
		l.metrics.PoolsSettled.WithLabelValues(outcome).Inc()
	}
}
