package broadcast

import "github.com/google/uuid"

// Event names published to room subscribers.
const (
	EventBettingStart     = "BETTING_START"
	EventBettingCountdown = "BETTING_COUNTDOWN"
	EventGameStart        = "GAME_START"
	EventGameState        = "GAME_STATE"
	EventGameEnd          = "GAME_END"
	EventPlayerJoined     = "PLAYER_JOINED"
	EventPlayerLeft       = "PLAYER_LEFT"
	EventRoomCancelled    = "ROOM_CANCELLED"
)

// Broadcaster publishes room events to subscribers. Delivery is
// best-effort and non-blocking; a slow transport or subscriber must never
// stall the tick loop or ledger operations.
type Broadcaster interface {
	Publish(roomID uuid.UUID, event string, payload interface{})
}

// Message is one published room event.
type Message struct {
	RoomID  uuid.UUID   `json:"room_id"`
	Event   string      `json:"event"`
	Payload interface{} `json:"payload,omitempty"`
}

// Nop discards everything. Default when no transport is wired.
type Nop struct{}

func (Nop) Publish(uuid.UUID, string, interface{}) {}
