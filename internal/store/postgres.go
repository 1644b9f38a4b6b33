package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgxQuerier is the subset of pgxpool.Pool used by the repositories.
type pgxQuerier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPostgres wires PostgreSQL repositories with a shared connection pool.
func NewPostgres(pool *pgxpool.Pool) *Store {
	return &Store{
		health:      pool,
		closer:      func() error { pool.Close(); return nil },
		Documents:   &documentRepo{pool: pool},
		Credentials: &credentialRepo{pool: pool},
	}
}

// documentRepo implements DocumentRepository.
type documentRepo struct {
	pool pgxQuerier
}

func (r *documentRepo) Get(ctx context.Context, ownerID string) (*Document, error) {
	defer observeDB(ctx, "documents.get")()
	const q = `SELECT events, ranges, updated_at FROM calendar_documents WHERE owner_id=$1`
	doc, err := scanDocument(ownerID, r.pool.QueryRow(ctx, q, ownerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return doc, err
}

func (r *documentRepo) GetOrCreate(ctx context.Context, ownerID string) (*Document, error) {
	defer observeDB(ctx, "documents.get_or_create")()
	const q = `INSERT INTO calendar_documents (owner_id) VALUES ($1)
ON CONFLICT (owner_id) DO UPDATE SET owner_id = EXCLUDED.owner_id
RETURNING events, ranges, updated_at`
	return scanDocument(ownerID, r.pool.QueryRow(ctx, q, ownerID))
}

func (r *documentRepo) Replace(ctx context.Context, doc Document) (*Document, error) {
	defer observeDB(ctx, "documents.replace")()
	eventsJSON, err := encodeEvents(doc.Events)
	if err != nil {
		return nil, fmt.Errorf("encode events: %w", err)
	}
	rangesJSON, err := encodeRanges(doc.Ranges)
	if err != nil {
		return nil, fmt.Errorf("encode ranges: %w", err)
	}

	const q = `INSERT INTO calendar_documents (owner_id, events, ranges, updated_at) VALUES ($1, $2, $3, NOW())
ON CONFLICT (owner_id) DO UPDATE SET events = EXCLUDED.events, ranges = EXCLUDED.ranges, updated_at = NOW()
RETURNING updated_at`
	var updatedAt time.Time
	if err := r.pool.QueryRow(ctx, q, doc.OwnerID, string(eventsJSON), string(rangesJSON)).Scan(&updatedAt); err != nil {
		return nil, fmt.Errorf("replace document: %w", err)
	}

	out := doc.Clone()
	out.UpdatedAt = updatedAt
	return out, nil
}

func scanDocument(ownerID string, row pgx.Row) (*Document, error) {
	var eventsRaw, rangesRaw []byte
	var updatedAt time.Time
	if err := row.Scan(&eventsRaw, &rangesRaw, &updatedAt); err != nil {
		return nil, err
	}
	events, err := decodeEvents(eventsRaw)
	if err != nil {
		return nil, fmt.Errorf("decode events for %s: %w", ownerID, err)
	}
	ranges, err := decodeRanges(rangesRaw)
	if err != nil {
		return nil, fmt.Errorf("decode ranges for %s: %w", ownerID, err)
	}
	return &Document{OwnerID: ownerID, Events: events, Ranges: ranges, UpdatedAt: updatedAt}, nil
}

// credentialRepo implements CredentialRepository.
type credentialRepo struct {
	pool pgxQuerier
}

func (r *credentialRepo) Get(ctx context.Context, ownerID string) (*RemoteCredential, error) {
	defer observeDB(ctx, "credentials.get")()
	const q = `SELECT provider, calendar_id, account_email, token, created_at, updated_at
FROM remote_credentials WHERE owner_id=$1`
	cred := RemoteCredential{OwnerID: ownerID}
	err := r.pool.QueryRow(ctx, q, ownerID).Scan(&cred.Provider, &cred.CalendarID, &cred.AccountEmail, &cred.Token, &cred.CreatedAt, &cred.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get credential: %w", err)
	}
	return &cred, nil
}

func (r *credentialRepo) Save(ctx context.Context, cred RemoteCredential) error {
	defer observeDB(ctx, "credentials.save")()
	const q = `INSERT INTO remote_credentials (owner_id, provider, calendar_id, account_email, token, updated_at)
VALUES ($1, $2, $3, $4, $5, NOW())
ON CONFLICT (owner_id) DO UPDATE SET provider = EXCLUDED.provider, calendar_id = EXCLUDED.calendar_id,
account_email = EXCLUDED.account_email, token = EXCLUDED.token, updated_at = NOW()`
	if _, err := r.pool.Exec(ctx, q, cred.OwnerID, cred.Provider, cred.CalendarID, cred.AccountEmail, cred.Token); err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	return nil
}

func (r *credentialRepo) Delete(ctx context.Context, ownerID string) error {
	defer observeDB(ctx, "credentials.delete")()
	const q = `DELETE FROM remote_credentials WHERE owner_id=$1`
	if _, err := r.pool.Exec(ctx, q, ownerID); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}

func (r *credentialRepo) ListOwners(ctx context.Context) ([]string, error) {
	defer observeDB(ctx, "credentials.list_owners")()
	const q = `SELECT COALESCE(array_agg(owner_id ORDER BY owner_id), '{}') FROM remote_credentials`
	var owners []string
	if err := r.pool.QueryRow(ctx, q).Scan(&owners); err != nil {
		return nil, fmt.Errorf("list linked owners: %w", err)
	}
	return owners, nil
}
