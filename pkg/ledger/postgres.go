package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema for PGLedger. data is stored as bytes, not jsonb, so the chained
// encoding is preserved exactly.
const Schema = `
CREATE TABLE IF NOT EXISTS ledger_events (
  seq          BIGSERIAL PRIMARY KEY,
  contract_id  TEXT NOT NULL,
  event_type   TEXT NOT NULL,
  content_hash TEXT NOT NULL,
  data         BYTEA,
  recorded_at  TIMESTAMPTZ NOT NULL,
  tx_ref       TEXT NOT NULL UNIQUE,
  prev_ref     TEXT NOT NULL DEFAULT '',
  anchor       JSONB
);
CREATE INDEX IF NOT EXISTS ledger_events_contract_idx ON ledger_events(contract_id, seq);
`

type PGLedger struct{ DB *pgxpool.Pool }

func NewPGLedger(db *pgxpool.Pool) *PGLedger { return &PGLedger{DB: db} }

func (l *PGLedger) Migrate(ctx context.Context) error {
	_, err := l.DB.Exec(ctx, Schema)
	return err
}

func (l *PGLedger) RecordEvent(ctx context.Context, e Event) (string, error) {
	if err := e.Validate(); err != nil {
		return "", err
	}
	tx, err := l.DB.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer tx.Rollback(ctx)

	// Serialise appends per contract so two writers cannot fork the chain.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, e.ContractID); err != nil {
		return "", err
	}
	var prev string
	err = tx.QueryRow(ctx, `SELECT tx_ref FROM ledger_events WHERE contract_id=$1 ORDER BY seq DESC LIMIT 1`, e.ContractID).Scan(&prev)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return "", err
	}
	e = seal(e, prev, time.Now())

	var anchor []byte
	if e.Anchor != nil {
		if anchor, err = json.Marshal(e.Anchor); err != nil {
			return "", err
		}
	}
	_, err = tx.Exec(ctx, `INSERT INTO ledger_events(contract_id,event_type,content_hash,data,recorded_at,tx_ref,prev_ref,anchor)
VALUES($1,$2,$3,$4,$5,$6,$7,$8::jsonb)`,
		e.ContractID, string(e.EventType), e.ContentHash, []byte(e.Data), e.Timestamp, e.TxRef, e.PrevRef, nullableJSON(anchor))
	if err != nil {
		return "", err
	}
	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	return e.TxRef, nil
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func (l *PGLedger) LastHash(ctx context.Context, contractID string) (string, error) {
	var h string
	err := l.DB.QueryRow(ctx, `SELECT content_hash FROM ledger_events WHERE contract_id=$1 ORDER BY seq DESC LIMIT 1`, contractID).Scan(&h)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNoEvents
	}
	return h, err
}

func (l *PGLedger) Events(ctx context.Context, contractID string) ([]Event, error) {
	rows, err := l.DB.Query(ctx, `SELECT seq,contract_id,event_type,content_hash,data,recorded_at,tx_ref,prev_ref,anchor
FROM ledger_events WHERE contract_id=$1 ORDER BY seq`, contractID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var (
			e         Event
			eventType string
			data      []byte
			anchor    []byte
		)
		if err := rows.Scan(&e.Seq, &e.ContractID, &eventType, &e.ContentHash, &data, &e.Timestamp, &e.TxRef, &e.PrevRef, &anchor); err != nil {
			return nil, err
		}
		e.EventType = EventType(eventType)
		e.Timestamp = e.Timestamp.UTC()
		if len(data) > 0 {
			e.Data = json.RawMessage(data)
		}
		if len(anchor) > 0 {
			var a Anchor
			if err := json.Unmarshal(anchor, &a); err != nil {
				return nil, err
			}
			e.Anchor = &a
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
