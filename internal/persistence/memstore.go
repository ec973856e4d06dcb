package persistence

import (
	"context"
	"sync"
	"time"

	"RacePool/internal/pool"
	"RacePool/internal/room"
	"RacePool/internal/settle"

	"github.com/google/uuid"
)

// MemStore is the in-memory store used by tests and local single-node
// runs. It honors the same atomicity contract as Postgres: one mutex
// covers each operation's whole critical section, so the debit, the stake
// insert, and the aggregate add of a placement are indivisible.
type MemStore struct {
	mu       sync.Mutex
	balances map[string]int64
	pools    map[uuid.UUID]*pool.Pool
	stakes   map[uuid.UUID][]pool.Stake // by pool id
	rooms    map[uuid.UUID]*room.Room
	players  map[uuid.UUID][]room.Player
	results  map[uuid.UUID]*settle.RaceResult // by room id
}

func NewMemStore() *MemStore {
	return &MemStore{
		balances: make(map[string]int64),
		pools:    make(map[uuid.UUID]*pool.Pool),
		stakes:   make(map[uuid.UUID][]pool.Stake),
		rooms:    make(map[uuid.UUID]*room.Room),
		players:  make(map[uuid.UUID][]room.Player),
		results:  make(map[uuid.UUID]*settle.RaceResult),
	}
}

// --- pool.Store ---

func (s *MemStore) CreatePool(_ context.Context, p *pool.Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.pools[p.ID] = &cp
	return nil
}

func (s *MemStore) GetPool(_ context.Context, poolID uuid.UUID) (*pool.Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pools[poolID]
	if !ok {
		return nil, pool.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemStore) GetPoolByRoom(_ context.Context, roomID uuid.UUID) (*pool.Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.pools {
		if p.RoomID == roomID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, pool.ErrNotFound
}

func (s *MemStore) ListStakes(_ context.Context, poolID uuid.UUID) ([]pool.Stake, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]pool.Stake(nil), s.stakes[poolID]...), nil
}

func (s *MemStore) HasStake(_ context.Context, poolID uuid.UUID, staker string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.stakes[poolID] {
		if st.Staker == staker {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemStore) PlaceStake(_ context.Context, st *pool.Stake) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pools[st.PoolID]
	if !ok || p.IsSettled {
		return pool.ErrNotFound
	}
	if s.balances[st.Staker] < st.Amount {
		return pool.ErrInsufficientBalance
	}

	s.balances[st.Staker] -= st.Amount
	s.stakes[st.PoolID] = append(s.stakes[st.PoolID], *st)
	p.TotalStake += st.Amount
	return nil
}

func (s *MemStore) RefundStake(_ context.Context, poolID uuid.UUID, staker string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pools[poolID]
	if !ok {
		return 0, pool.ErrNotFound
	}
	if p.IsSettled {
		return 0, pool.ErrAlreadySettled
	}

	stakes := s.stakes[poolID]
	for i, st := range stakes {
		if st.Staker == staker && st.PredictedWinner == staker {
			s.stakes[poolID] = append(stakes[:i:i], stakes[i+1:]...)
			p.TotalStake -= st.Amount
			s.balances[staker] += st.Amount
			return st.Amount, nil
		}
	}
	return 0, nil
}

func (s *MemStore) ApplySettlement(_ context.Context, poolID uuid.UUID, plan *pool.Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pools[poolID]
	if !ok {
		return pool.ErrNotFound
	}
	if p.IsSettled {
		return pool.ErrAlreadySettled
	}
	if p.TotalStake != plan.TotalStake {
		return pool.ErrStaleSettlement
	}

	stakes := s.stakes[poolID]
	for _, po := range plan.Payouts {
		for i := range stakes {
			if stakes[i].ID == po.StakeID {
				stakes[i].Payout = po.Amount
				stakes[i].Claimed = true
				break
			}
		}
		if po.Amount > 0 {
			s.balances[po.Staker] += po.Amount
		}
	}

	p.IsSettled = true
	p.Winner = plan.Winner
	return nil
}

func (s *MemStore) GetBalance(_ context.Context, addr string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[addr], nil
}

func (s *MemStore) CreditBalance(_ context.Context, addr string, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[addr] += amount
	return nil
}

// --- room.Store ---

func (s *MemStore) CreateRoom(_ context.Context, r *room.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.rooms[r.ID] = &cp
	return nil
}

func (s *MemStore) GetRoom(_ context.Context, roomID uuid.UUID) (*room.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return nil, room.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemStore) AddPlayer(_ context.Context, p *room.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[p.RoomID]
	if !ok {
		return room.ErrNotFound
	}
	for _, existing := range s.players[p.RoomID] {
		if existing.Addr == p.Addr {
			return room.ErrAlreadyJoined
		}
	}
	if len(s.players[p.RoomID]) >= r.Capacity {
		return room.ErrRoomFull
	}
	s.players[p.RoomID] = append(s.players[p.RoomID], *p)
	return nil
}

func (s *MemStore) RemovePlayer(_ context.Context, roomID uuid.UUID, addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	players := s.players[roomID]
	for i, p := range players {
		if p.Addr == addr {
			s.players[roomID] = append(players[:i:i], players[i+1:]...)
			return nil
		}
	}
	return room.ErrNotJoined
}

func (s *MemStore) ListPlayers(_ context.Context, roomID uuid.UUID) ([]room.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]room.Player(nil), s.players[roomID]...), nil
}

func (s *MemStore) TransitionRoom(_ context.Context, roomID uuid.UUID, to room.Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return false, room.ErrNotFound
	}
	if r.Status == to {
		return false, nil
	}
	if !room.CanTransition(r.Status, to) {
		return false, room.ErrInvalidTransition
	}
	r.Status = to
	return true, nil
}

func (s *MemStore) CancelRoom(_ context.Context, roomID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return room.ErrNotFound
	}
	if r.Status == room.StatusCancelled {
		return nil
	}
	if r.Status != room.StatusWaiting && r.Status != room.StatusBetting {
		return room.ErrInvalidTransition
	}

	for id, p := range s.pools {
		if p.RoomID != roomID {
			continue
		}
		for _, st := range s.stakes[id] {
			s.balances[st.Staker] += st.Amount
		}
		delete(s.stakes, id)
		delete(s.pools, id)
		break
	}

	r.Status = room.StatusCancelled
	return nil
}

func (s *MemStore) SetBettingDeadline(_ context.Context, roomID uuid.UUID, deadline time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return room.ErrNotFound
	}
	r.BettingDeadline = deadline
	return nil
}

// --- settle.ResultStore ---

func (s *MemStore) SaveResult(_ context.Context, r *settle.RaceResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.results[r.RoomID]; exists {
		return nil // results are immutable
	}
	cp := *r
	s.results[r.RoomID] = &cp
	return nil
}

func (s *MemStore) GetResult(_ context.Context, roomID uuid.UUID) (*settle.RaceResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.results[roomID]
	if !ok {
		return nil, settle.ErrNoResult
	}
	cp := *r
	return &cp, nil
}
