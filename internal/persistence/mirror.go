package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"RacePool/internal/engine"
	"RacePool/internal/observability"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sugawarayuuta/sonnet"
)

// MirrorWriter mirrors in-memory simulation state to the sim_mirror table
// after ticks, as an advisory crash-recovery aid. The mirror is not
// authoritative: resume-on-restart is unsupported, and a full channel
// drops the snapshot rather than delaying the tick loop.
type MirrorWriter struct {
	db      *sql.DB
	queue   chan mirrorEntry
	metrics *observability.Metrics
	log     zerolog.Logger
}

type mirrorEntry struct {
	roomID uuid.UUID
	state  engine.State
}

func NewMirrorWriter(db *sql.DB, bufSize int, metrics *observability.Metrics) *MirrorWriter {
	return &MirrorWriter{
		db:      db,
		queue:   make(chan mirrorEntry, bufSize),
		metrics: metrics,
		log:     observability.NewLogger("sim-mirror"),
	}
}

// Offer enqueues a snapshot. Never blocks.
func (w *MirrorWriter) Offer(roomID uuid.UUID, s engine.State) {
	select {
	case w.queue <- mirrorEntry{roomID: roomID, state: s}:
	default:
		if w.metrics != nil {
			w.metrics.MirrorDrops.Inc()
		}
	}
}

// Run drains the queue, upserting the latest snapshot per room.
func (w *MirrorWriter) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case entry, ok := <-w.queue:
			if !ok {
				return nil
			}
			if err := w.write(ctx, entry); err != nil {
				w.log.Warn().
					Str("room_id", entry.roomID.String()).
					Err(err).
					Msg("mirror write failed")
			}
		}
	}
}

func (w *MirrorWriter) write(ctx context.Context, entry mirrorEntry) error {
	data, err := sonnet.Marshal(entry.state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	_, err = w.db.ExecContext(ctx, `
		INSERT INTO sim_mirror (room_id, tick, state, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (room_id) DO UPDATE
		SET tick = EXCLUDED.tick, state = EXCLUDED.state, updated_at = EXCLUDED.updated_at`,
		entry.roomID, entry.state.Tick, data, time.Now())
	if err != nil {
		return fmt.Errorf("upsert mirror: %w", err)
	}
	if w.metrics != nil {
		w.metrics.MirrorWrites.Inc()
	}
	return nil
}
