package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/accordsai/contractseal/pkg/domain"
	"github.com/accordsai/contractseal/pkg/ledger"
)

const Schema = `
CREATE TABLE IF NOT EXISTS contracts (
  contract_id  TEXT PRIMARY KEY,
  provider_did TEXT NOT NULL,
  consumer_did TEXT NOT NULL,
  title        TEXT NOT NULL DEFAULT '',
  status       TEXT NOT NULL,
  terms        BYTEA,
  content_hash TEXT NOT NULL,
  void_reason  TEXT NOT NULL DEFAULT '',
  version      BIGINT NOT NULL,
  created_at   TIMESTAMPTZ NOT NULL,
  updated_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS contracts_provider_idx ON contracts(provider_did);
CREATE INDEX IF NOT EXISTS contracts_consumer_idx ON contracts(consumer_did);
CREATE TABLE IF NOT EXISTS contract_signatures (
  signature_id        TEXT PRIMARY KEY,
  contract_id         TEXT NOT NULL REFERENCES contracts(contract_id),
  position            INT NOT NULL,
  signer_did          TEXT NOT NULL,
  signature           TEXT NOT NULL,
  verification_method TEXT NOT NULL,
  scheme              TEXT NOT NULL DEFAULT '',
  signed_at           TIMESTAMPTZ NOT NULL,
  UNIQUE (contract_id, signer_did),
  UNIQUE (contract_id, position)
);
CREATE TABLE IF NOT EXISTS ledger_outbox (
  seq         BIGSERIAL PRIMARY KEY,
  contract_id TEXT NOT NULL REFERENCES contracts(contract_id),
  event       BYTEA NOT NULL,
  parked_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS ledger_outbox_contract_idx ON ledger_outbox(contract_id, seq);
`

type PGStore struct{ DB *pgxpool.Pool }

func NewPG(db *pgxpool.Pool) *PGStore { return &PGStore{DB: db} }

func (s *PGStore) Migrate(ctx context.Context) error {
	_, err := s.DB.Exec(ctx, Schema)
	return err
}

func (s *PGStore) Create(ctx context.Context, c *domain.Contract, park ...ledger.Event) error {
	if err := checkAppend(0, c); err != nil {
		return err
	}
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `INSERT INTO contracts(contract_id,provider_did,consumer_did,title,status,terms,content_hash,void_reason,version,created_at,updated_at)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,1,$9,$10)`,
		c.ID, c.ProviderDID, c.ConsumerDID, c.Title, string(c.Status), []byte(c.Terms), c.ContentHash, c.VoidReason, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrExists
		}
		return err
	}
	if err := insertSignatures(ctx, tx, c, 0); err != nil {
		return err
	}
	if err := parkEvents(ctx, tx, c.ID, park); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	c.Version = 1
	return nil
}

func (s *PGStore) Load(ctx context.Context, id string) (*domain.Contract, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	c, err := scanContract(tx.QueryRow(ctx, selectContract+` WHERE contract_id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := loadSignatures(ctx, tx, c); err != nil {
		return nil, err
	}
	return c, tx.Commit(ctx)
}

// Save writes scalar fields and appends signatures not yet stored.
// Signatures are append-only; existing rows are never rewritten.
func (s *PGStore) Save(ctx context.Context, c *domain.Contract, park ...ledger.Event) error {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `UPDATE contracts SET title=$2,status=$3,terms=$4,content_hash=$5,void_reason=$6,updated_at=$7,version=version+1
WHERE contract_id=$1 AND version=$8`,
		c.ID, c.Title, string(c.Status), []byte(c.Terms), c.ContentHash, c.VoidReason, c.UpdatedAt, c.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM contracts WHERE contract_id=$1)`, c.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrConflict
	}
	var stored int
	if err := tx.QueryRow(ctx, `SELECT count(*) FROM contract_signatures WHERE contract_id=$1`, c.ID).Scan(&stored); err != nil {
		return err
	}
	if err := checkAppend(stored, c); err != nil {
		return err
	}
	if err := insertSignatures(ctx, tx, c, stored); err != nil {
		return err
	}
	if err := parkEvents(ctx, tx, c.ID, park); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	c.Version++
	return nil
}

func (s *PGStore) List(ctx context.Context, f ListFilter) ([]*domain.Contract, error) {
	var (
		where []string
		args  []any
	)
	if f.PartyDID != "" {
		args = append(args, f.PartyDID)
		where = append(where, fmt.Sprintf("(provider_did=$%d OR consumer_did=$%d)", len(args), len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status=$%d", len(args)))
	}
	q := selectContract
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at, contract_id"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	var out []*domain.Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, c := range out {
		if err := loadSignatures(ctx, s.DB, c); err != nil {
			return nil, err
		}
	}
	return out, nil
}

const selectContract = `SELECT contract_id,provider_did,consumer_did,title,status,terms,content_hash,void_reason,version,created_at,updated_at FROM contracts`

func scanContract(row pgx.Row) (*domain.Contract, error) {
	var (
		c      domain.Contract
		status string
		terms  []byte
	)
	if err := row.Scan(&c.ID, &c.ProviderDID, &c.ConsumerDID, &c.Title, &status, &terms, &c.ContentHash, &c.VoidReason, &c.Version, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Status = domain.Status(status)
	c.Terms = terms
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadSignatures(ctx context.Context, q querier, c *domain.Contract) error {
	rows, err := q.Query(ctx, `SELECT signature_id,signer_did,signature,verification_method,scheme,signed_at
FROM contract_signatures WHERE contract_id=$1 ORDER BY position`, c.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	c.Signatures = nil
	for rows.Next() {
		var sig domain.Signature
		if err := rows.Scan(&sig.ID, &sig.SignerDID, &sig.Signature, &sig.VerificationMethod, &sig.Scheme, &sig.SignedAt); err != nil {
			return err
		}
		sig.SignedAt = sig.SignedAt.UTC()
		c.Signatures = append(c.Signatures, sig)
	}
	return rows.Err()
}

func insertSignatures(ctx context.Context, tx pgx.Tx, c *domain.Contract, from int) error {
	for i := from; i < len(c.Signatures); i++ {
		sig := c.Signatures[i]
		_, err := tx.Exec(ctx, `INSERT INTO contract_signatures(signature_id,contract_id,position,signer_did,signature,verification_method,scheme,signed_at)
VALUES($1,$2,$3,$4,$5,$6,$7,$8)`,
			sig.ID, c.ID, i, sig.SignerDID, sig.Signature, sig.VerificationMethod, sig.Scheme, sig.SignedAt)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return fmt.Errorf("%w: %s", ErrDuplicateSigner, sig.SignerDID)
			}
			return err
		}
	}
	return nil
}

func parkEvents(ctx context.Context, tx pgx.Tx, contractID string, evs []ledger.Event) error {
	for _, e := range evs {
		e.ContractID = contractID
		raw, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("store: encode parked event: %w", err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO ledger_outbox(contract_id,event) VALUES($1,$2)`, contractID, raw); err != nil {
			return err
		}
	}
	return nil
}

func (s *PGStore) Parked(ctx context.Context, contractID string) ([]Parked, error) {
	rows, err := s.DB.Query(ctx, `SELECT seq,event FROM ledger_outbox WHERE contract_id=$1 ORDER BY seq`, contractID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Parked
	for rows.Next() {
		var (
			p   Parked
			raw []byte
		)
		if err := rows.Scan(&p.Seq, &raw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &p.Event); err != nil {
			return nil, fmt.Errorf("store: decode parked event %d: %w", p.Seq, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PGStore) Unpark(ctx context.Context, contractID string, seq int64) error {
	_, err := s.DB.Exec(ctx, `DELETE FROM ledger_outbox WHERE contract_id=$1 AND seq=$2`, contractID, seq)
	return err
}

func (s *PGStore) ParkedContracts(ctx context.Context) ([]string, error) {
	rows, err := s.DB.Query(ctx, `SELECT contract_id FROM ledger_outbox GROUP BY contract_id ORDER BY min(seq)`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
