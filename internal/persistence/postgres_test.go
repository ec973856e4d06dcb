package persistence_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"RacePool/internal/persistence"
	"RacePool/internal/pool"
	"RacePool/internal/room"
	"RacePool/internal/settle"
	"RacePool/internal/testutil"

	"github.com/google/uuid"
)

func setupPostgres(t *testing.T) (*persistence.Postgres, func()) {
	t.Helper()
	testutil.RequireIntegration(t)

	db, cleanup := testutil.SetupTestDB(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := persistence.NewMigrator(db, "../../migrations").Up(ctx); err != nil {
		cleanup()
		t.Fatalf("migrate: %v", err)
	}
	return persistence.NewPostgres(db), cleanup
}

func createRoomWithPool(t *testing.T, pg *persistence.Postgres) (*room.Room, *pool.Pool) {
	t.Helper()
	ctx := context.Background()

	r := &room.Room{
		ID:         uuid.New(),
		Mode:       room.ModeVersus,
		Status:     room.StatusWaiting,
		Creator:    "alice",
		Capacity:   3,
		EntryStake: 100,
		CreatedAt:  time.Now(),
	}
	if err := pg.CreateRoom(ctx, r); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	p := &pool.Pool{ID: uuid.New(), RoomID: r.ID, CreatedAt: time.Now()}
	if err := pg.CreatePool(ctx, p); err != nil {
		t.Fatalf("CreatePool: %v", err)
	}
	return r, p
}

func placeStake(t *testing.T, pg *persistence.Postgres, poolID uuid.UUID, staker, predicted string, amount int64) {
	t.Helper()
	err := pg.PlaceStake(context.Background(), &pool.Stake{
		ID:              uuid.New(),
		PoolID:          poolID,
		Staker:          staker,
		PredictedWinner: predicted,
		Amount:          amount,
		PlacedAt:        time.Now(),
	})
	if err != nil {
		t.Fatalf("PlaceStake %s: %v", staker, err)
	}
}

// ============================================================================
// Test: stake placement atomicity
// ============================================================================

func TestPostgres_PlaceStake_ConcurrentAggregate(t *testing.T) {
	pg, cleanup := setupPostgres(t)
	defer cleanup()
	ctx := context.Background()

	_, p := createRoomWithPool(t, pg)

	const stakers = 20
	const amount = int64(13)
	for i := 0; i < stakers; i++ {
		if err := pg.CreditBalance(ctx, fmt.Sprintf("staker-%d", i), amount); err != nil {
			t.Fatalf("credit: %v", err)
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < stakers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			placeStake(t, pg, p.ID, fmt.Sprintf("staker-%d", i), "alice", amount)
		}(i)
	}
	wg.Wait()

	got, err := pg.GetPool(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetPool: %v", err)
	}
	if got.TotalStake != stakers*amount {
		t.Errorf("aggregate: got %d, want %d", got.TotalStake, stakers*amount)
	}

	stakes, _ := pg.ListStakes(ctx, p.ID)
	var sum int64
	for _, s := range stakes {
		sum += s.Amount
	}
	if sum != got.TotalStake {
		t.Errorf("aggregate %d diverged from stake sum %d", got.TotalStake, sum)
	}
}

func TestPostgres_PlaceStake_InsufficientBalanceLeavesNoTrace(t *testing.T) {
	pg, cleanup := setupPostgres(t)
	defer cleanup()
	ctx := context.Background()

	_, p := createRoomWithPool(t, pg)
	pg.CreditBalance(ctx, "alice", 50)

	err := pg.PlaceStake(ctx, &pool.Stake{
		ID: uuid.New(), PoolID: p.ID, Staker: "alice",
		PredictedWinner: "alice", Amount: 51, PlacedAt: time.Now(),
	})
	if !errors.Is(err, pool.ErrInsufficientBalance) {
		t.Fatalf("got %v, want ErrInsufficientBalance", err)
	}

	bal, _ := pg.GetBalance(ctx, "alice")
	if bal != 50 {
		t.Errorf("balance touched by failed stake: %d", bal)
	}
	got, _ := pg.GetPool(ctx, p.ID)
	if got.TotalStake != 0 {
		t.Errorf("aggregate touched by failed stake: %d", got.TotalStake)
	}
}

// ============================================================================
// Test: settlement
// ============================================================================

func TestPostgres_ApplySettlement_SecondApplyRejected(t *testing.T) {
	pg, cleanup := setupPostgres(t)
	defer cleanup()
	ctx := context.Background()

	_, p := createRoomWithPool(t, pg)
	pg.CreditBalance(ctx, "alice", 100)
	placeStake(t, pg, p.ID, "alice", "alice", 100)

	stakes, _ := pg.ListStakes(ctx, p.ID)
	plan := pool.ComputeSettlement(100, stakes, "alice", 0)

	if err := pg.ApplySettlement(ctx, p.ID, plan); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if err := pg.ApplySettlement(ctx, p.ID, plan); !errors.Is(err, pool.ErrAlreadySettled) {
		t.Fatalf("second apply: got %v, want ErrAlreadySettled", err)
	}

	bal, _ := pg.GetBalance(ctx, "alice")
	if bal != 100 {
		t.Errorf("double apply moved money: %d", bal)
	}

	got, _ := pg.GetPool(ctx, p.ID)
	if !got.IsSettled || got.Winner != "alice" {
		t.Errorf("pool not marked settled: %+v", got)
	}
	stakes, _ = pg.ListStakes(ctx, p.ID)
	if !stakes[0].Claimed || stakes[0].Payout != 100 {
		t.Errorf("stake payout not stamped: %+v", stakes[0])
	}
}

func TestPostgres_ApplySettlement_StalePlanRejected(t *testing.T) {
	pg, cleanup := setupPostgres(t)
	defer cleanup()
	ctx := context.Background()

	_, p := createRoomWithPool(t, pg)
	pg.CreditBalance(ctx, "alice", 200)
	pg.CreditBalance(ctx, "dave", 200)
	placeStake(t, pg, p.ID, "alice", "alice", 100)

	stakes, _ := pg.ListStakes(ctx, p.ID)
	plan := pool.ComputeSettlement(100, stakes, "alice", 500)

	// A stake commits between planning and applying.
	placeStake(t, pg, p.ID, "dave", "alice", 50)

	if err := pg.ApplySettlement(ctx, p.ID, plan); !errors.Is(err, pool.ErrStaleSettlement) {
		t.Errorf("got %v, want ErrStaleSettlement", err)
	}
	got, _ := pg.GetPool(ctx, p.ID)
	if got.IsSettled {
		t.Error("stale plan must not settle the pool")
	}
	bal, _ := pg.GetBalance(ctx, "alice")
	if bal != 100 {
		t.Errorf("alice balance after rejected apply: got %d, want 100", bal)
	}
}

// ============================================================================
// Test: room records
// ============================================================================

func TestPostgres_RoomLifecycleGuards(t *testing.T) {
	pg, cleanup := setupPostgres(t)
	defer cleanup()
	ctx := context.Background()

	r, _ := createRoomWithPool(t, pg)

	changed, err := pg.TransitionRoom(ctx, r.ID, room.StatusBetting)
	if err != nil || !changed {
		t.Fatalf("WAITING -> BETTING: changed=%v err=%v", changed, err)
	}

	// Repeat is a no-op, not an error.
	changed, err = pg.TransitionRoom(ctx, r.ID, room.StatusBetting)
	if err != nil || changed {
		t.Errorf("repeated transition: changed=%v err=%v", changed, err)
	}

	// Skipping a phase is rejected.
	if _, err := pg.TransitionRoom(ctx, r.ID, room.StatusFinished); !errors.Is(err, room.ErrInvalidTransition) {
		t.Errorf("BETTING -> FINISHED: got %v, want ErrInvalidTransition", err)
	}

	// Duplicate membership is rejected.
	player := &room.Player{RoomID: r.ID, Addr: "alice", VehicleID: "car-1", JoinedAt: time.Now()}
	if err := pg.AddPlayer(ctx, player); err != nil {
		t.Fatalf("AddPlayer: %v", err)
	}
	if err := pg.AddPlayer(ctx, player); !errors.Is(err, room.ErrAlreadyJoined) {
		t.Errorf("duplicate AddPlayer: got %v, want ErrAlreadyJoined", err)
	}
}

func TestPostgres_RefundStake_ReversesEntryStake(t *testing.T) {
	pg, cleanup := setupPostgres(t)
	defer cleanup()
	ctx := context.Background()

	_, p := createRoomWithPool(t, pg)
	pg.CreditBalance(ctx, "bob", 500)
	pg.CreditBalance(ctx, "dave", 500)
	placeStake(t, pg, p.ID, "bob", "bob", 100)
	placeStake(t, pg, p.ID, "dave", "bob", 75)

	refunded, err := pg.RefundStake(ctx, p.ID, "bob")
	if err != nil {
		t.Fatalf("RefundStake: %v", err)
	}
	if refunded != 100 {
		t.Errorf("refunded: got %d, want 100", refunded)
	}

	bal, _ := pg.GetBalance(ctx, "bob")
	if bal != 500 {
		t.Errorf("bob balance: got %d, want 500", bal)
	}
	got, _ := pg.GetPool(ctx, p.ID)
	if got.TotalStake != 75 {
		t.Errorf("aggregate after refund: got %d, want 75", got.TotalStake)
	}
	stakes, _ := pg.ListStakes(ctx, p.ID)
	if len(stakes) != 1 || stakes[0].Staker != "dave" {
		t.Errorf("remaining stakes: got %v, want only dave's", stakes)
	}

	// No self-directed stake left, second refund is a no-op.
	refunded, err = pg.RefundStake(ctx, p.ID, "bob")
	if err != nil || refunded != 0 {
		t.Errorf("second refund: got (%d, %v), want (0, nil)", refunded, err)
	}
}

func TestPostgres_AddPlayer_EnforcesCapacity(t *testing.T) {
	pg, cleanup := setupPostgres(t)
	defer cleanup()
	ctx := context.Background()

	r, _ := createRoomWithPool(t, pg) // capacity 3

	for i := 0; i < 3; i++ {
		p := &room.Player{RoomID: r.ID, Addr: fmt.Sprintf("racer-%d", i), VehicleID: "car", JoinedAt: time.Now()}
		if err := pg.AddPlayer(ctx, p); err != nil {
			t.Fatalf("AddPlayer %d: %v", i, err)
		}
	}

	overflow := &room.Player{RoomID: r.ID, Addr: "racer-3", VehicleID: "car", JoinedAt: time.Now()}
	if err := pg.AddPlayer(ctx, overflow); !errors.Is(err, room.ErrRoomFull) {
		t.Errorf("fourth join into capacity-3 room: got %v, want ErrRoomFull", err)
	}
	players, _ := pg.ListPlayers(ctx, r.ID)
	if len(players) != 3 {
		t.Errorf("players: got %d, want 3", len(players))
	}
}

func TestPostgres_RemovePlayer(t *testing.T) {
	pg, cleanup := setupPostgres(t)
	defer cleanup()
	ctx := context.Background()

	r, _ := createRoomWithPool(t, pg)
	if err := pg.AddPlayer(ctx, &room.Player{RoomID: r.ID, Addr: "bob", VehicleID: "car-2", JoinedAt: time.Now()}); err != nil {
		t.Fatalf("AddPlayer: %v", err)
	}

	if err := pg.RemovePlayer(ctx, r.ID, "bob"); err != nil {
		t.Fatalf("RemovePlayer: %v", err)
	}
	players, _ := pg.ListPlayers(ctx, r.ID)
	if len(players) != 0 {
		t.Errorf("players after remove: got %d, want 0", len(players))
	}
	if err := pg.RemovePlayer(ctx, r.ID, "bob"); !errors.Is(err, room.ErrNotJoined) {
		t.Errorf("second remove: got %v, want ErrNotJoined", err)
	}
}

func TestPostgres_CancelRoom_RefundsAndDeletesPool(t *testing.T) {
	pg, cleanup := setupPostgres(t)
	defer cleanup()
	ctx := context.Background()

	r, p := createRoomWithPool(t, pg)
	pg.CreditBalance(ctx, "alice", 100)
	pg.CreditBalance(ctx, "bob", 200)
	placeStake(t, pg, p.ID, "alice", "alice", 100)
	placeStake(t, pg, p.ID, "bob", "alice", 200)

	if err := pg.CancelRoom(ctx, r.ID); err != nil {
		t.Fatalf("CancelRoom: %v", err)
	}

	aliceBal, _ := pg.GetBalance(ctx, "alice")
	bobBal, _ := pg.GetBalance(ctx, "bob")
	if aliceBal != 100 || bobBal != 200 {
		t.Errorf("refunds wrong: alice=%d bob=%d", aliceBal, bobBal)
	}

	if _, err := pg.GetPool(ctx, p.ID); !errors.Is(err, pool.ErrNotFound) {
		t.Errorf("pool should be gone, got %v", err)
	}

	got, _ := pg.GetRoom(ctx, r.ID)
	if got.Status != room.StatusCancelled {
		t.Errorf("status: got %s, want CANCELLED", got.Status)
	}

	// Cancel again: no-op.
	if err := pg.CancelRoom(ctx, r.ID); err != nil {
		t.Errorf("repeated cancel: %v", err)
	}
}

// ============================================================================
// Test: race results
// ============================================================================

func TestPostgres_SaveResult_Immutable(t *testing.T) {
	pg, cleanup := setupPostgres(t)
	defer cleanup()
	ctx := context.Background()

	r, _ := createRoomWithPool(t, pg)

	first := &settle.RaceResult{
		ID: uuid.New(), RoomID: r.ID, Winner: "alice", DurationTicks: 300,
		Standings:   []settle.Standing{{Addr: "alice", Rank: 1, Distance: 2000, Finished: true}},
		Attestation: []byte("sig"),
		FinishedAt:  time.Now(),
	}
	if err := pg.SaveResult(ctx, first); err != nil {
		t.Fatalf("first save: %v", err)
	}

	second := *first
	second.ID = uuid.New()
	second.Winner = "bob"
	if err := pg.SaveResult(ctx, &second); err != nil {
		t.Fatalf("second save: %v", err)
	}

	got, err := pg.GetResult(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if got.Winner != "alice" {
		t.Errorf("result overwritten: %q", got.Winner)
	}
	if len(got.Standings) != 1 || got.Standings[0].Addr != "alice" {
		t.Errorf("standings not round-tripped: %+v", got.Standings)
	}
}
