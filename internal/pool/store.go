package pool

import (
	"context"

	"github.com/google/uuid"
)

// Store is the durable record of pools, stakes, and balances. Every method
// that moves money is a single atomic transaction on the storage side.
type Store interface {
	CreatePool(ctx context.Context, p *Pool) error
	GetPool(ctx context.Context, poolID uuid.UUID) (*Pool, error)
	GetPoolByRoom(ctx context.Context, roomID uuid.UUID) (*Pool, error)
	ListStakes(ctx context.Context, poolID uuid.UUID) ([]Stake, error)
	HasStake(ctx context.Context, poolID uuid.UUID, staker string) (bool, error)

	// PlaceStake debits the staker's balance, inserts the stake record, and
	// increments the pool aggregate with a storage-level add, as one atomic
	// unit. It fails with ErrInsufficientBalance without any mutation when
	// the balance precondition does not hold.
	PlaceStake(ctx context.Context, s *Stake) error

	// RefundStake deletes the staker's self-directed stake, decrements the
	// pool aggregate by its amount, and credits the balance back, as one
	// atomic unit. It returns the refunded amount, 0 when the staker holds
	// no self-directed stake, and ErrAlreadySettled on a settled pool.
	RefundStake(ctx context.Context, poolID uuid.UUID, staker string) (int64, error)

	// ApplySettlement credits every payout, stamps payout/claimed on each
	// stake, and flips is_settled in one transaction. It is a no-op
	// returning ErrAlreadySettled when the settled flag is already set.
	ApplySettlement(ctx context.Context, poolID uuid.UUID, s *Settlement) error

	GetBalance(ctx context.Context, addr string) (int64, error)
	CreditBalance(ctx context.Context, addr string, amount int64) error
}
