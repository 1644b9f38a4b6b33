package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
)

func TestDocumentRepoGetNotFound(t *testing.T) {
	pool := &mockPool{t: t, queries: []queryExpectation{
		{expect: regexp.MustCompile("SELECT events, ranges, updated_at FROM calendar_documents"), args: []any{"u1"}, err: pgx.ErrNoRows},
	}}
	repo := &documentRepo{pool: pool}

	_, err := repo.Get(context.Background(), "u1")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
	pool.assertDone()
}

func TestDocumentRepoGetOrCreateDecodes(t *testing.T) {
	updated := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	events := []byte(`[{"id":"a","title":"Standup","color":"blue","start":"2024-05-02T09:00:00Z","end":"2024-05-02T09:15:00Z","createdAt":"2024-05-01T00:00:00Z","remoteEventId":"g-a"}]`)
	ranges := []byte(`[{"id":"r1","start":"2024-05-10T00:00:00Z","end":"2024-05-08T00:00:00Z","colorIndex":2}]`)

	pool := &mockPool{t: t, queries: []queryExpectation{
		{
			expect: regexp.MustCompile("INSERT INTO calendar_documents \\(owner_id\\) VALUES \\(\\$1\\)\\s+ON CONFLICT"),
			args:   []any{"u1"},
			values: []any{events, ranges, updated},
		},
	}}
	repo := &documentRepo{pool: pool}

	doc, err := repo.GetOrCreate(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	pool.assertDone()

	if doc.OwnerID != "u1" || !doc.UpdatedAt.Equal(updated) {
		t.Fatalf("unexpected document header: %+v", doc)
	}
	if len(doc.Events) != 1 || doc.Events[0].RemoteEventID != "g-a" || doc.Events[0].Color != ColorBlue {
		t.Fatalf("unexpected events: %+v", doc.Events)
	}
	if len(doc.Ranges) != 1 || doc.Ranges[0].Color() != 2 || doc.Ranges[0].SpanDays() != 3 {
		t.Fatalf("unexpected ranges: %+v", doc.Ranges)
	}
}

func TestDocumentRepoGetOrCreateEmptyCollections(t *testing.T) {
	pool := &mockPool{t: t, queries: []queryExpectation{
		{expect: regexp.MustCompile("INSERT INTO calendar_documents"), values: []any{[]byte(`[]`), []byte(`[]`), time.Now()}},
	}}
	repo := &documentRepo{pool: pool}

	doc, err := repo.GetOrCreate(context.Background(), "u2")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if doc.Events == nil || doc.Ranges == nil {
		t.Fatal("expected non-nil empty collections")
	}
}

func TestDocumentRepoReplace(t *testing.T) {
	updated := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	pool := &mockPool{t: t, queries: []queryExpectation{
		{
			expect: regexp.MustCompile("ON CONFLICT \\(owner_id\\) DO UPDATE SET events = EXCLUDED.events"),
			args:   []any{"u1", `[{"id":"a","start":"0001-01-01T00:00:00Z","end":"0001-01-01T00:00:00Z","title":"Lunch","color":"default","createdAt":"0001-01-01T00:00:00Z"}]`, `[]`},
			values: []any{updated},
		},
	}}
	repo := &documentRepo{pool: pool}

	doc, err := repo.Replace(context.Background(), Document{
		OwnerID: "u1",
		Events:  []Event{{ID: "a", Title: "Lunch", Color: ColorDefault}},
	})
	if err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	pool.assertDone()
	if !doc.UpdatedAt.Equal(updated) || len(doc.Ranges) != 0 || doc.Ranges == nil {
		t.Fatalf("unexpected replaced document: %+v", doc)
	}
}

func TestCredentialRepo(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	pool := &mockPool{
		t: t,
		queries: []queryExpectation{
			{expect: regexp.MustCompile("FROM remote_credentials WHERE owner_id=\\$1"), args: []any{"missing"}, err: pgx.ErrNoRows},
			{
				expect: regexp.MustCompile("FROM remote_credentials WHERE owner_id=\\$1"),
				args:   []any{"u1"},
				values: []any{"google", "primary", "u1@example.com", []byte("sealed"), created, created},
			},
			{expect: regexp.MustCompile("array_agg\\(owner_id ORDER BY owner_id\\)"), values: []any{[]string{"u1", "u2"}}},
		},
		execs: []execExpectation{
			{expect: regexp.MustCompile("INSERT INTO remote_credentials"), args: []any{"u1", "google", "primary", "u1@example.com", nil}},
			{expect: regexp.MustCompile("DELETE FROM remote_credentials WHERE owner_id=\\$1"), args: []any{"u1"}},
		},
	}
	repo := &credentialRepo{pool: pool}
	ctx := context.Background()

	cred, err := repo.Get(ctx, "missing")
	if err != nil || cred != nil {
		t.Fatalf("Get(missing) = %v, %v; want nil, nil", cred, err)
	}

	cred, err = repo.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get(u1) error = %v", err)
	}
	if cred.Provider != "google" || string(cred.Token) != "sealed" || cred.AccountEmail != "u1@example.com" {
		t.Fatalf("unexpected credential: %+v", cred)
	}

	owners, err := repo.ListOwners(ctx)
	if err != nil || len(owners) != 2 {
		t.Fatalf("ListOwners() = %v, %v", owners, err)
	}

	if err := repo.Save(ctx, *cred); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := repo.Delete(ctx, "u1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	pool.assertDone()
}
