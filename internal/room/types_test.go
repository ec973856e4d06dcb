package room_test

import (
	"testing"

	"RacePool/internal/room"
)

func TestCanTransition_ForwardPath(t *testing.T) {
	path := []room.Status{
		room.StatusWaiting,
		room.StatusBetting,
		room.StatusCountdown,
		room.StatusRacing,
		room.StatusFinished,
	}
	for i := 0; i < len(path)-1; i++ {
		if !room.CanTransition(path[i], path[i+1]) {
			t.Errorf("%s -> %s should be legal", path[i], path[i+1])
		}
	}
}

func TestCanTransition_NoBackwardOrSkippingMoves(t *testing.T) {
	illegal := []struct{ from, to room.Status }{
		{room.StatusBetting, room.StatusWaiting},
		{room.StatusWaiting, room.StatusCountdown},
		{room.StatusWaiting, room.StatusRacing},
		{room.StatusBetting, room.StatusRacing},
		{room.StatusCountdown, room.StatusFinished},
		{room.StatusRacing, room.StatusBetting},
		{room.StatusFinished, room.StatusRacing},
		{room.StatusCancelled, room.StatusWaiting},
	}
	for _, tc := range illegal {
		if room.CanTransition(tc.from, tc.to) {
			t.Errorf("%s -> %s should be illegal", tc.from, tc.to)
		}
	}
}

func TestCanTransition_CancelOnlyBeforeCountdown(t *testing.T) {
	if !room.CanTransition(room.StatusWaiting, room.StatusCancelled) {
		t.Error("WAITING -> CANCELLED should be legal")
	}
	if !room.CanTransition(room.StatusBetting, room.StatusCancelled) {
		t.Error("BETTING -> CANCELLED should be legal")
	}
	for _, from := range []room.Status{room.StatusCountdown, room.StatusRacing, room.StatusFinished} {
		if room.CanTransition(from, room.StatusCancelled) {
			t.Errorf("%s -> CANCELLED should be illegal", from)
		}
	}
}
