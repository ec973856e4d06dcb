package room

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is a room's lifecycle phase. Transitions are strictly forward
// except CANCELLED, which is reachable only from WAITING and BETTING.
type Status string

const (
	StatusWaiting   Status = "WAITING"
	StatusBetting   Status = "BETTING"
	StatusCountdown Status = "COUNTDOWN"
	StatusRacing    Status = "RACING"
	StatusFinished  Status = "FINISHED"
	StatusCancelled Status = "CANCELLED"
)

// CanTransition reports whether moving from one status to another is a
// legal forward step.
func CanTransition(from, to Status) bool {
	switch to {
	case StatusBetting:
		return from == StatusWaiting
	case StatusCountdown:
		return from == StatusBetting
	case StatusRacing:
		return from == StatusCountdown
	case StatusFinished:
		return from == StatusRacing
	case StatusCancelled:
		return from == StatusWaiting || from == StatusBetting
	default:
		return false
	}
}

// Mode selects the race flavor.
type Mode string

const (
	ModeVersus Mode = "versus" // player vs player, pool settles
	ModeSolo   Mode = "solo"   // solo vs AI, no settlement
)

// Room is one race lobby. BettingWindow is how long betting stays open
// once the room fills; the absolute deadline is computed and stored at
// that moment.
type Room struct {
	ID              uuid.UUID
	Mode            Mode
	Status          Status
	Creator         string
	Capacity        int
	EntryStake      int64
	BettingWindow   time.Duration
	BettingDeadline time.Time
	CreatedAt       time.Time
}

// Player is a (room, player, vehicle) membership record, unique per
// room+player.
type Player struct {
	RoomID    uuid.UUID
	Addr      string
	VehicleID string
	JoinedAt  time.Time
}

var (
	ErrNotFound          = errors.New("room not found")
	ErrRoomFull          = errors.New("room is full")
	ErrAlreadyJoined     = errors.New("player already joined this room")
	ErrInvalidTransition = errors.New("invalid room state for requested transition")
	ErrNotCreator        = errors.New("only the room creator may cancel")
	ErrNotJoined         = errors.New("player has not joined this room")
	ErrCreatorLeave      = errors.New("the creator must cancel the room, not leave it")
	ErrNotRacing         = errors.New("room is not racing")
)

// Store is the durable room record. Transition and cancellation methods
// carry their guards into the storage transaction so concurrent requests
// serialize there.
type Store interface {
	CreateRoom(ctx context.Context, r *Room) error
	GetRoom(ctx context.Context, roomID uuid.UUID) (*Room, error)
	// AddPlayer inserts the membership record with the capacity check in
	// the same storage transaction, so concurrent joins on the last seat
	// cannot both land. It returns ErrRoomFull at capacity and
	// ErrAlreadyJoined on a duplicate.
	AddPlayer(ctx context.Context, p *Player) error

	// RemovePlayer deletes the membership record. It returns ErrNotJoined
	// when no such record exists.
	RemovePlayer(ctx context.Context, roomID uuid.UUID, addr string) error

	ListPlayers(ctx context.Context, roomID uuid.UUID) ([]Player, error)

	// TransitionRoom moves the room to the target status. It returns
	// (false, nil) when the room is already there (repeated requests are
	// no-ops) and ErrInvalidTransition when the current status does not
	// permit the move.
	TransitionRoom(ctx context.Context, roomID uuid.UUID, to Status) (bool, error)

	// CancelRoom refunds every stake its exact amount, deletes the pool
	// and its stakes, and sets CANCELLED in one atomic transaction, so no
	// partially-refunded state is ever observable.
	CancelRoom(ctx context.Context, roomID uuid.UUID) error

	SetBettingDeadline(ctx context.Context, roomID uuid.UUID, deadline time.Time) error
}
