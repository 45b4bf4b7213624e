// Package audit writes append-only records of scheduling decisions. The
// sink is fire-and-forget: a recording failure is logged and never aborts
// the operation that triggered it.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Entry is one audit record.
type Entry struct {
	Action     string
	Resource   string
	ResourceID *uuid.UUID
	UserID     *uuid.UUID
	Details    map[string]any
}

// Recorder accepts audit entries.
type Recorder interface {
	Record(ctx context.Context, entry Entry)
}

type PgRecorder struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

func NewPgRecorder(pool *pgxpool.Pool, log zerolog.Logger) *PgRecorder {
	return &PgRecorder{pool: pool, log: log}
}

func (r *PgRecorder) Record(ctx context.Context, entry Entry) {
	details, err := json.Marshal(entry.Details)
	if err != nil {
		r.log.Error().Err(err).Str("action", entry.Action).Msg("marshal audit details")
		details = nil
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO audit_events (action, resource, resource_id, user_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entry.Action, entry.Resource, entry.ResourceID, entry.UserID, details, time.Now().UTC())
	if err != nil {
		r.log.Error().Err(err).
			Str("action", entry.Action).
			Str("resource", entry.Resource).
			Msg("insert audit event")
	}
}

// NopRecorder discards entries; used in tests and tooling.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, Entry) {}
