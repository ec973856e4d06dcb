package engine_test

import (
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"RacePool/internal/engine"

	"github.com/google/uuid"
)

func TestRunner_TicksNeverOverlap(t *testing.T) {
	e := engine.New(uuid.New(), seeds("alice", "bob"), rand.New(rand.NewSource(5)))
	r := engine.NewRunner(e, 500*time.Microsecond, nil)

	var inTick, overlaps int32
	r.OnTick = func(engine.State) {
		if atomic.AddInt32(&inTick, 1) > 1 {
			atomic.AddInt32(&overlaps, 1)
		}
		// Deliberately outlast the tick interval.
		time.Sleep(2 * time.Millisecond)
		atomic.AddInt32(&inTick, -1)
	}

	done := make(chan struct{})
	r.OnDone = func(engine.State) { close(done) }

	r.Start()
	time.Sleep(50 * time.Millisecond)
	r.Stop()
	<-r.Done()

	if n := atomic.LoadInt32(&overlaps); n != 0 {
		t.Errorf("observed %d overlapping ticks", n)
	}
}

func TestRunner_OnDoneFiresOnceWithTerminalState(t *testing.T) {
	e := engine.New(uuid.New(), seeds("alice"), rand.New(rand.NewSource(5)))
	r := engine.NewRunner(e, 100*time.Microsecond, nil)

	var doneCalls int32
	var final engine.State
	r.OnDone = func(s engine.State) {
		atomic.AddInt32(&doneCalls, 1)
		final = s
	}

	r.Start()
	select {
	case <-r.Done():
	case <-time.After(30 * time.Second):
		t.Fatal("runner never finished")
	}

	if n := atomic.LoadInt32(&doneCalls); n != 1 {
		t.Fatalf("OnDone calls: got %d, want 1", n)
	}
	if !final.Over {
		t.Error("OnDone received a non-terminal state")
	}
}

func TestRunner_StopIsIdempotentAndInterruptsLoop(t *testing.T) {
	e := engine.New(uuid.New(), seeds("alice", "bob"), rand.New(rand.NewSource(5)))
	r := engine.NewRunner(e, 50*time.Millisecond, nil)

	r.Start()
	r.Stop()
	r.Stop()

	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatal("loop did not exit after Stop")
	}
}

func TestRunner_PanickingTickDoesNotKillLoop(t *testing.T) {
	e := engine.New(uuid.New(), seeds("alice"), rand.New(rand.NewSource(5)))
	r := engine.NewRunner(e, 200*time.Microsecond, nil)

	var calls int32
	r.OnTick = func(engine.State) {
		if atomic.AddInt32(&calls, 1) == 1 {
			panic("broadcast exploded")
		}
	}

	r.Start()
	defer func() {
		r.Stop()
		<-r.Done()
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(&calls) >= 3 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("loop stalled after panic, ticks observed: %d", atomic.LoadInt32(&calls))
}
