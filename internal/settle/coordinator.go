package settle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"RacePool/internal/engine"
	"RacePool/internal/observability"
	"RacePool/internal/pool"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Standing is one row of the immutable race result.
type Standing struct {
	Addr       string  `json:"addr"`
	Rank       int     `json:"rank"`
	Distance   float64 `json:"distance"`
	Finished   bool    `json:"finished"`
	Eliminated bool    `json:"eliminated"`
	FinishTick int64   `json:"finish_tick,omitempty"`
}

// RaceResult is persisted once at race termination and never updated.
type RaceResult struct {
	ID            uuid.UUID
	RoomID        uuid.UUID
	Winner        string
	DurationTicks int64
	Standings     []Standing
	Attestation   []byte
	FinishedAt    time.Time
}

var ErrNoResult = errors.New("race result not found")

// ResultStore persists terminal race results.
type ResultStore interface {
	SaveResult(ctx context.Context, r *RaceResult) error
	GetResult(ctx context.Context, roomID uuid.UUID) (*RaceResult, error)
}

// Coordinator consumes a terminal simulation state, persists the result,
// drives pool settlement, and requests the attestation signature.
type Coordinator struct {
	results ResultStore
	ledger  *pool.Ledger
	signer  Signer
	feeBps  int64
	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewCoordinator(results ResultStore, ledger *pool.Ledger, signer Signer, feeBps int64, metrics *observability.Metrics) *Coordinator {
	return &Coordinator{
		results: results,
		ledger:  ledger,
		signer:  signer,
		feeBps:  feeBps,
		metrics: metrics,
		log:     observability.NewLogger("settlement"),
	}
}

// Finalize turns a terminal simulation state into a persisted result and,
// for player-vs-player races, a settled pool. Attestation failure degrades
// to a placeholder and a warning; it never blocks finalization.
func (c *Coordinator) Finalize(ctx context.Context, roomID uuid.UUID, pvp bool, final engine.State) (*RaceResult, error) {
	if !final.Over {
		return nil, fmt.Errorf("room %s: simulation has not terminated", roomID)
	}

	winner := engine.WinnerOf(&final)
	winnerAddr := ""
	if winner != nil {
		winnerAddr = winner.Addr
	}

	finishedAt := time.Now()
	result := &RaceResult{
		ID:            uuid.New(),
		RoomID:        roomID,
		Winner:        winnerAddr,
		DurationTicks: final.Tick,
		FinishedAt:    finishedAt,
	}
	for _, p := range final.Players {
		result.Standings = append(result.Standings, Standing{
			Addr:       p.Addr,
			Rank:       p.Rank,
			Distance:   p.Distance,
			Finished:   p.Finished,
			Eliminated: p.Eliminated,
			FinishTick: p.FinishTick,
		})
	}

	result.Attestation = c.attest(roomID, winnerAddr, finishedAt)

	if err := c.results.SaveResult(ctx, result); err != nil {
		return nil, fmt.Errorf("save race result: %w", err)
	}

	// A race with no surviving winner settles too: the empty winner
	// matches no stake, which refunds everyone their exact amount.
	if pvp {
		p, err := c.ledger.GetPool(ctx, roomID)
		if err != nil {
			return nil, fmt.Errorf("lookup pool for room %s: %w", roomID, err)
		}
		if _, err := c.ledger.Settle(ctx, p.ID, winnerAddr, c.feeBps); err != nil {
			return nil, fmt.Errorf("settle pool %s: %w", p.ID, err)
		}
	}

	if c.metrics != nil {
		c.metrics.RaceDuration.Observe(float64(final.Tick) / engine.TickRate)
	}
	c.log.Info().
		Str("room_id", roomID.String()).
		Str("winner", winnerAddr).
		Int64("duration_ticks", final.Tick).
		Bool("settled", pvp).
		Msg("race finalized")

	return result, nil
}

// GetResult returns the persisted result for a room.
func (c *Coordinator) GetResult(ctx context.Context, roomID uuid.UUID) (*RaceResult, error) {
	return c.results.GetResult(ctx, roomID)
}

func (c *Coordinator) attest(roomID uuid.UUID, winner string, finishedAt time.Time) []byte {
	digest := AttestationDigest(roomID, winner, finishedAt)

	if c.signer == nil {
		return PlaceholderAttestation(digest)
	}
	sig, err := c.signer.Sign(digest)
	if err != nil {
		if c.metrics != nil {
			c.metrics.AttestationsFailed.Inc()
		}
		c.log.Warn().
			Str("room_id", roomID.String()).
			Err(err).
			Msg("attestation signing failed, substituting placeholder")
		return PlaceholderAttestation(digest)
	}
	if c.metrics != nil {
		c.metrics.AttestationsSigned.Inc()
	}
	return sig
}
