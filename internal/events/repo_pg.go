package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ArchiveSink appends events to the call_events table.
//
// The table is INSERT-only; events are never updated or deleted. Failures are
// logged and dropped so archival never blocks call processing.
//
// Expected schema:
//
//	CREATE TABLE call_events (
//	    id          BIGSERIAL PRIMARY KEY,
//	    event_type  TEXT        NOT NULL,
//	    call_id     TEXT        NOT NULL,
//	    occurred_at TIMESTAMPTZ NOT NULL,
//	    description TEXT        NOT NULL,
//	    attributes  JSONB
//	);
type ArchiveSink struct {
	db      *pgxpool.Pool
	log     *slog.Logger
	timeout time.Duration
}

func NewArchiveSink(db *pgxpool.Pool, log *slog.Logger) *ArchiveSink {
	return &ArchiveSink{db: db, log: log, timeout: 3 * time.Second}
}

func (s *ArchiveSink) Deliver(e Event) {
	if s.db == nil {
		return
	}

	var attrs []byte
	if len(e.Attributes) > 0 {
		b, err := json.Marshal(e.Attributes)
		if err != nil {
			s.warn("event attributes marshal failed", e, err)
			return
		}
		attrs = b
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	_, err := s.db.Exec(ctx,
		`INSERT INTO call_events (event_type, call_id, occurred_at, description, attributes)
		 VALUES ($1, $2, $3, $4, $5)`,
		string(e.Type), e.CallID, e.Timestamp, e.Description, attrs,
	)
	if err != nil {
		s.warn("event archive insert failed", e, err)
	}
}

func (s *ArchiveSink) warn(msg string, e Event, err error) {
	if s.log != nil {
		s.log.Warn(msg, "event_type", string(e.Type), "call_id", e.CallID, "err", err)
	}
}
