package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	// SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS calendar_documents (
	owner_id TEXT PRIMARY KEY,
	events TEXT NOT NULL DEFAULT '[]',
	ranges TEXT NOT NULL DEFAULT '[]',
	updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS remote_credentials (
	owner_id TEXT PRIMARY KEY,
	provider TEXT NOT NULL,
	calendar_id TEXT NOT NULL,
	account_email TEXT NOT NULL DEFAULT '',
	token BLOB NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);`

// OpenSQLite opens (or creates) a single-file database at path and ensures the schema exists.
func OpenSQLite(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer keeps full-document replaces serialized.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}
	return &Store{
		health:      pingFunc(db.PingContext),
		closer:      db.Close,
		Documents:   &sqliteDocuments{db: db},
		Credentials: &sqliteCredentials{db: db},
	}, nil
}

type sqliteDocuments struct {
	db *sql.DB
}

func (r *sqliteDocuments) Get(ctx context.Context, ownerID string) (*Document, error) {
	defer observeDB(ctx, "documents.get")()
	row := r.db.QueryRowContext(ctx, `SELECT events, ranges, updated_at FROM calendar_documents WHERE owner_id = ?`, ownerID)
	doc, err := scanSQLiteDocument(ownerID, row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return doc, err
}

func (r *sqliteDocuments) GetOrCreate(ctx context.Context, ownerID string) (*Document, error) {
	defer observeDB(ctx, "documents.get_or_create")()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO calendar_documents (owner_id, updated_at) VALUES (?, ?) ON CONFLICT(owner_id) DO NOTHING`,
		ownerID, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}
	row := r.db.QueryRowContext(ctx, `SELECT events, ranges, updated_at FROM calendar_documents WHERE owner_id = ?`, ownerID)
	return scanSQLiteDocument(ownerID, row)
}

func (r *sqliteDocuments) Replace(ctx context.Context, doc Document) (*Document, error) {
	defer observeDB(ctx, "documents.replace")()
	eventsJSON, err := encodeEvents(doc.Events)
	if err != nil {
		return nil, fmt.Errorf("encode events: %w", err)
	}
	rangesJSON, err := encodeRanges(doc.Ranges)
	if err != nil {
		return nil, fmt.Errorf("encode ranges: %w", err)
	}
	now := time.Now().UTC()
	_, err = r.db.ExecContext(ctx, `INSERT INTO calendar_documents (owner_id, events, ranges, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT(owner_id) DO UPDATE SET events = excluded.events, ranges = excluded.ranges, updated_at = excluded.updated_at`,
		doc.OwnerID, string(eventsJSON), string(rangesJSON), now)
	if err != nil {
		return nil, fmt.Errorf("replace document: %w", err)
	}
	out := doc.Clone()
	out.UpdatedAt = now
	return out, nil
}

func scanSQLiteDocument(ownerID string, row *sql.Row) (*Document, error) {
	var eventsRaw, rangesRaw string
	var updatedAt time.Time
	if err := row.Scan(&eventsRaw, &rangesRaw, &updatedAt); err != nil {
		return nil, err
	}
	events, err := decodeEvents([]byte(eventsRaw))
	if err != nil {
		return nil, fmt.Errorf("decode events for %s: %w", ownerID, err)
	}
	ranges, err := decodeRanges([]byte(rangesRaw))
	if err != nil {
		return nil, fmt.Errorf("decode ranges for %s: %w", ownerID, err)
	}
	return &Document{OwnerID: ownerID, Events: events, Ranges: ranges, UpdatedAt: updatedAt}, nil
}

type sqliteCredentials struct {
	db *sql.DB
}

func (r *sqliteCredentials) Get(ctx context.Context, ownerID string) (*RemoteCredential, error) {
	defer observeDB(ctx, "credentials.get")()
	cred := RemoteCredential{OwnerID: ownerID}
	err := r.db.QueryRowContext(ctx, `SELECT provider, calendar_id, account_email, token, created_at, updated_at
FROM remote_credentials WHERE owner_id = ?`, ownerID).
		Scan(&cred.Provider, &cred.CalendarID, &cred.AccountEmail, &cred.Token, &cred.CreatedAt, &cred.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get credential: %w", err)
	}
	return &cred, nil
}

func (r *sqliteCredentials) Save(ctx context.Context, cred RemoteCredential) error {
	defer observeDB(ctx, "credentials.save")()
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `INSERT INTO remote_credentials (owner_id, provider, calendar_id, account_email, token, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(owner_id) DO UPDATE SET provider = excluded.provider, calendar_id = excluded.calendar_id,
account_email = excluded.account_email, token = excluded.token, updated_at = excluded.updated_at`,
		cred.OwnerID, cred.Provider, cred.CalendarID, cred.AccountEmail, cred.Token, now, now)
	if err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	return nil
}

func (r *sqliteCredentials) Delete(ctx context.Context, ownerID string) error {
	defer observeDB(ctx, "credentials.delete")()
	if _, err := r.db.ExecContext(ctx, `DELETE FROM remote_credentials WHERE owner_id = ?`, ownerID); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}

func (r *sqliteCredentials) ListOwners(ctx context.Context) ([]string, error) {
	defer observeDB(ctx, "credentials.list_owners")()
	rows, err := r.db.QueryContext(ctx, `SELECT owner_id FROM remote_credentials`)
	if err != nil {
		return nil, fmt.Errorf("list linked owners: %w", err)
	}
	defer rows.Close()
	owners := []string{}
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, fmt.Errorf("scan owner: %w", err)
		}
		owners = append(owners, owner)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list linked owners: %w", err)
	}
	sort.Strings(owners)
	return owners, nil
}
