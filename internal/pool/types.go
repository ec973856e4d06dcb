package pool

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Pool aggregates all stakes for one race. Invariant: TotalStake always
// equals the sum of the associated stake amounts, at every observable
// instant. The aggregate is only ever moved by storage-level atomic adds.
type Pool struct {
	ID         uuid.UUID
	RoomID     uuid.UUID
	TotalStake int64
	IsSettled  bool
	Winner     string
	CreatedAt  time.Time
}

// Stake is a single wager on a predicted race winner.
// Payout and Claimed are written exactly once, at settlement.
type Stake struct {
	ID              uuid.UUID
	PoolID          uuid.UUID
	Staker          string
	PredictedWinner string
	Amount          int64
	Payout          int64
	Claimed         bool
	PlacedAt        time.Time
}

// StakePayout is one leg of a settlement plan.
type StakePayout struct {
	StakeID uuid.UUID
	Staker  string
	Amount  int64
}

// Settlement is the fully computed outcome of a pool, applied atomically
// by the store together with the is_settled flag. TotalStake is the
// aggregate the plan was computed from; the store rejects the plan with
// ErrStaleSettlement when the stored aggregate no longer matches, so a
// stake that lands between planning and applying is never stranded.
type Settlement struct {
	Winner     string
	TotalStake int64
	Fee        int64
	Refund     bool // true when no stake predicted the winner
	Payouts    []StakePayout
}

var (
	ErrNotFound            = errors.New("pool not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrAlreadySettled      = errors.New("pool already settled")
	ErrInvalidAmount       = errors.New("stake amount must be positive")
	ErrDuplicateStake      = errors.New("staker already has a stake in this pool")
	ErrStaleSettlement     = errors.New("pool aggregate changed since the settlement was computed")
)
