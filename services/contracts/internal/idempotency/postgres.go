package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const Schema = `
CREATE TABLE IF NOT EXISTS idempotency_records (
  record_key  TEXT PRIMARY KEY,
  fingerprint TEXT NOT NULL,
  status      INT NOT NULL,
  body        BYTEA,
  saved_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idempotency_records_saved_idx ON idempotency_records(saved_at);
`

// PG keeps records in Postgres so replays survive restarts and are shared
// between instances. Expired rows are ignored on read and overwritten on
// write; Sweep deletes them.
type PG struct {
	DB  *pgxpool.Pool
	ttl time.Duration
	now func() time.Time
}

func NewPG(db *pgxpool.Pool, ttl time.Duration) *PG {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &PG{DB: db, ttl: ttl, now: time.Now}
}

func (p *PG) Migrate(ctx context.Context) error {
	_, err := p.DB.Exec(ctx, Schema)
	return err
}

func (p *PG) cutoff() time.Time { return p.now().UTC().Add(-p.ttl) }

func (p *PG) Get(ctx context.Context, key string) (Record, bool, error) {
	var rec Record
	err := p.DB.QueryRow(ctx, `SELECT fingerprint,status,body,saved_at FROM idempotency_records
WHERE record_key=$1 AND saved_at > $2`, key, p.cutoff()).Scan(&rec.Fingerprint, &rec.Status, &rec.Body, &rec.SavedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	rec.SavedAt = rec.SavedAt.UTC()
	return rec, true, nil
}

// Put keeps the first unexpired record for a key.
func (p *PG) Put(ctx context.Context, key string, rec Record) error {
	if rec.SavedAt.IsZero() {
		rec.SavedAt = p.now().UTC()
	}
	_, err := p.DB.Exec(ctx, `INSERT INTO idempotency_records(record_key,fingerprint,status,body,saved_at)
VALUES($1,$2,$3,$4,$5)
ON CONFLICT (record_key) DO UPDATE SET fingerprint=EXCLUDED.fingerprint,status=EXCLUDED.status,body=EXCLUDED.body,saved_at=EXCLUDED.saved_at
WHERE idempotency_records.saved_at <= $6`,
		key, rec.Fingerprint, rec.Status, rec.Body, rec.SavedAt, p.cutoff())
	return err
}

func (p *PG) Sweep(ctx context.Context) (int64, error) {
	tag, err := p.DB.Exec(ctx, `DELETE FROM idempotency_records WHERE saved_at <= $1`, p.cutoff())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
