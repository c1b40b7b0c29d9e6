package history

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlSessions = `
CREATE TABLE IF NOT EXISTS interaction_sessions (
    session_id  TEXT         PRIMARY KEY,
    lang        TEXT         NOT NULL DEFAULT '',
    started_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    ended_at    TIMESTAMPTZ,
    end_reason  TEXT         NOT NULL DEFAULT ''
);
`

const ddlTurns = `
CREATE TABLE IF NOT EXISTS interaction_turns (
    id          BIGSERIAL    PRIMARY KEY,
    session_id  TEXT         NOT NULL,
    role        TEXT         NOT NULL,
    text        TEXT         NOT NULL,
    lang        TEXT         NOT NULL DEFAULT '',
    heard_ns    BIGINT       NOT NULL DEFAULT 0,
    spoke_ns    BIGINT       NOT NULL DEFAULT 0,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_interaction_turns_session
    ON interaction_turns (session_id);

CREATE INDEX IF NOT EXISTS idx_interaction_turns_created
    ON interaction_turns (created_at);
`

const ddlWakeEvents = `
CREATE TABLE IF NOT EXISTS wake_events (
    id          BIGSERIAL        PRIMARY KEY,
    engine      TEXT             NOT NULL,
    phrase      TEXT             NOT NULL DEFAULT '',
    lang        TEXT             NOT NULL DEFAULT '',
    score       DOUBLE PRECISION NOT NULL DEFAULT 0,
    accepted    BOOLEAN          NOT NULL DEFAULT true,
    detected_at TIMESTAMPTZ      NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_wake_events_detected
    ON wake_events (detected_at);
`

// migrate ensures the interaction log tables and indexes exist.
func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, ddl := range []string{ddlSessions, ddlTurns, ddlWakeEvents} {
		if _, err := pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
