package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"RacePool/internal/broadcast"
	"RacePool/internal/persistence"
	"RacePool/internal/pool"
	"RacePool/internal/room"
	"RacePool/internal/server"
	"RacePool/internal/settle"
	"RacePool/internal/stats"

	"github.com/google/uuid"
)

type env struct {
	ts    *httptest.Server
	store *persistence.MemStore
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store := persistence.NewMemStore()
	ledger := pool.NewLedger(store, nil)
	coord := settle.NewCoordinator(store, ledger, nil, 500, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := room.Config{
		BettingWindow:  time.Hour,
		CountdownDelay: time.Hour,
		TickInterval:   time.Millisecond,
		MaxCapacity:    6,
	}
	manager := room.NewManager(ctx, cfg, store, ledger, &stats.StaticProvider{}, broadcast.NewMemoryHub(), coord, nil, nil)
	t.Cleanup(manager.Shutdown)

	srv := server.New("", manager, coord, nil, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &env{ts: ts, store: store}
}

func (e *env) post(t *testing.T, path string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(e.ts.URL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	var decoded map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func (e *env) get(t *testing.T, path string) (*http.Response, map[string]interface{}) {
	t.Helper()
	resp, err := http.Get(e.ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	var decoded map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func (e *env) createRoom(t *testing.T, mode string, capacity int, entryStake int64) string {
	t.Helper()
	resp, body := e.post(t, "/v1/rooms", map[string]interface{}{
		"mode":        mode,
		"creator":     "alice",
		"capacity":    capacity,
		"entry_stake": entryStake,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create room: status %d, body %v", resp.StatusCode, body)
	}
	id, _ := body["room_id"].(string)
	if id == "" {
		t.Fatal("create room response missing room_id")
	}
	return id
}

// ============================================================================
// Test: room endpoints
// ============================================================================

func TestHTTP_CreateRoom(t *testing.T) {
	e := newEnv(t)
	id := e.createRoom(t, "versus", 2, 100)

	resp, body := e.get(t, "/v1/rooms/"+id)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get state: status %d", resp.StatusCode)
	}
	roomObj, _ := body["room"].(map[string]interface{})
	if roomObj == nil {
		t.Fatalf("state missing room object: %v", body)
	}
}

func TestHTTP_CreateRoom_Validation(t *testing.T) {
	e := newEnv(t)

	cases := []map[string]interface{}{
		{"mode": "versus", "capacity": 2},                        // missing creator
		{"mode": "rally", "creator": "alice", "capacity": 2},     // bad mode
		{"mode": "versus", "creator": "alice", "capacity": 1000}, // capacity ceiling
	}
	for i, c := range cases {
		resp, _ := e.post(t, "/v1/rooms", c)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("case %d: status %d, want 400", i, resp.StatusCode)
		}
	}
}

func TestHTTP_JoinRoom_AndDomainErrors(t *testing.T) {
	e := newEnv(t)
	e.store.CreditBalance(context.Background(), "alice", 500)
	id := e.createRoom(t, "versus", 3, 100)

	resp, _ := e.post(t, "/v1/rooms/"+id+"/join", map[string]string{"player": "alice", "vehicle_id": "car-1"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("join: status %d", resp.StatusCode)
	}

	// Duplicate join maps to 409.
	resp, _ = e.post(t, "/v1/rooms/"+id+"/join", map[string]string{"player": "alice", "vehicle_id": "car-1"})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate join: status %d, want 409", resp.StatusCode)
	}

	// Broke player maps to 409.
	resp, _ = e.post(t, "/v1/rooms/"+id+"/join", map[string]string{"player": "bob", "vehicle_id": "car-2"})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("insufficient balance join: status %d, want 409", resp.StatusCode)
	}

	// Unknown room maps to 404.
	resp, _ = e.post(t, fmt.Sprintf("/v1/rooms/%s/join", uuid.New()), map[string]string{"player": "carol"})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown room join: status %d, want 404", resp.StatusCode)
	}

	// Garbage id maps to 400.
	resp, _ = e.post(t, "/v1/rooms/not-a-uuid/join", map[string]string{"player": "carol"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad room id: status %d, want 400", resp.StatusCode)
	}
}

func TestHTTP_LeaveRoom(t *testing.T) {
	e := newEnv(t)
	e.store.CreditBalance(context.Background(), "alice", 500)
	e.store.CreditBalance(context.Background(), "bob", 500)
	id := e.createRoom(t, "versus", 3, 100)

	e.post(t, "/v1/rooms/"+id+"/join", map[string]string{"player": "alice", "vehicle_id": "car-1"})
	e.post(t, "/v1/rooms/"+id+"/join", map[string]string{"player": "bob", "vehicle_id": "car-2"})

	// Leaving without having joined maps to 404.
	resp, _ := e.post(t, "/v1/rooms/"+id+"/leave", map[string]string{"player": "ghost"})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("leave without joining: status %d, want 404", resp.StatusCode)
	}

	// The creator is told to cancel; that maps to 409.
	resp, _ = e.post(t, "/v1/rooms/"+id+"/leave", map[string]string{"player": "alice"})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("creator leave: status %d, want 409", resp.StatusCode)
	}

	resp, _ = e.post(t, "/v1/rooms/"+id+"/leave", map[string]string{"player": "bob"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("leave: status %d", resp.StatusCode)
	}
	if bal, _ := e.store.GetBalance(context.Background(), "bob"); bal != 500 {
		t.Errorf("bob balance after leave: got %d, want 500", bal)
	}
}

func TestHTTP_PlaceStake(t *testing.T) {
	e := newEnv(t)
	e.store.CreditBalance(context.Background(), "dave", 500)
	id := e.createRoom(t, "versus", 3, 100)

	resp, _ := e.post(t, "/v1/rooms/"+id+"/stakes", map[string]interface{}{
		"staker":           "dave",
		"predicted_winner": "alice",
		"amount":           50,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stake: status %d", resp.StatusCode)
	}

	resp, _ = e.post(t, "/v1/rooms/"+id+"/stakes", map[string]interface{}{
		"staker":           "dave",
		"predicted_winner": "alice",
		"amount":           -5,
	})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("negative stake: status %d, want 409", resp.StatusCode)
	}
}

func TestHTTP_SubmitInput_Validation(t *testing.T) {
	e := newEnv(t)
	id := e.createRoom(t, "versus", 3, 0)

	resp, _ := e.post(t, "/v1/rooms/"+id+"/input", map[string]string{"player": "alice", "action": "warp"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad action: status %d, want 400", resp.StatusCode)
	}

	// Room not racing maps to 409.
	resp, _ = e.post(t, "/v1/rooms/"+id+"/input", map[string]string{"player": "alice", "action": "lane_left"})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("input outside race: status %d, want 409", resp.StatusCode)
	}
}

func TestHTTP_CancelRoom(t *testing.T) {
	e := newEnv(t)
	id := e.createRoom(t, "versus", 3, 0)

	resp, _ := e.post(t, "/v1/rooms/"+id+"/cancel", map[string]string{"requester": "mallory"})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("non-creator cancel: status %d, want 409", resp.StatusCode)
	}

	resp, _ = e.post(t, "/v1/rooms/"+id+"/cancel", map[string]string{"requester": "alice"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel: status %d", resp.StatusCode)
	}
}

func TestHTTP_GetResult_NotFoundBeforeFinish(t *testing.T) {
	e := newEnv(t)
	id := e.createRoom(t, "versus", 3, 0)

	resp, _ := e.get(t, "/v1/rooms/"+id+"/result")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("result before finish: status %d, want 404", resp.StatusCode)
	}
}
