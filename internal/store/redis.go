package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisDocPrefix    = "planner:doc:"
	redisCredPrefix   = "planner:cred:"
	redisLinkedOwners = "planner:linked"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// NewRedis stores each owner's document as one JSON value keyed by owner.
func NewRedis(client *redis.Client) *Store {
	return &Store{
		health:      pingFunc(func(ctx context.Context) error { return client.Ping(ctx).Err() }),
		closer:      client.Close,
		Documents:   &redisDocuments{client: client},
		Credentials: &redisCredentials{client: client},
	}
}

type redisDocuments struct {
	client *redis.Client
}

func (r *redisDocuments) Get(ctx context.Context, ownerID string) (*Document, error) {
	defer observeDB(ctx, "documents.get")()
	data, err := r.client.Get(ctx, redisDocPrefix+ownerID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return decodeRedisDocument(ownerID, data)
}

func (r *redisDocuments) GetOrCreate(ctx context.Context, ownerID string) (*Document, error) {
	defer observeDB(ctx, "documents.get_or_create")()
	empty := NewDocument(ownerID)
	empty.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(empty)
	if err != nil {
		return nil, err
	}
	if err := r.client.SetNX(ctx, redisDocPrefix+ownerID, data, 0).Err(); err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}
	stored, err := r.client.Get(ctx, redisDocPrefix+ownerID).Bytes()
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return decodeRedisDocument(ownerID, stored)
}

func (r *redisDocuments) Replace(ctx context.Context, doc Document) (*Document, error) {
	defer observeDB(ctx, "documents.replace")()
	out := doc.Clone()
	out.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	if err := r.client.Set(ctx, redisDocPrefix+doc.OwnerID, data, 0).Err(); err != nil {
		return nil, fmt.Errorf("replace document: %w", err)
	}
	return out, nil
}

func decodeRedisDocument(ownerID string, data []byte) (*Document, error) {
	doc := NewDocument(ownerID)
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("decode document for %s: %w", ownerID, err)
	}
	doc.OwnerID = ownerID
	if doc.Events == nil {
		doc.Events = []Event{}
	}
	if doc.Ranges == nil {
		doc.Ranges = []Range{}
	}
	return doc, nil
}

type redisCredentials struct {
	client *redis.Client
}

type redisCredential struct {
	Provider     string    `json:"provider"`
	CalendarID   string    `json:"calendarId"`
	AccountEmail string    `json:"accountEmail"`
	Token        []byte    `json:"token"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func (r *redisCredentials) Get(ctx context.Context, ownerID string) (*RemoteCredential, error) {
	defer observeDB(ctx, "credentials.get")()
	data, err := r.client.Get(ctx, redisCredPrefix+ownerID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get credential: %w", err)
	}
	var stored redisCredential
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("decode credential: %w", err)
	}
	return &RemoteCredential{
		OwnerID:      ownerID,
		Provider:     stored.Provider,
		CalendarID:   stored.CalendarID,
		AccountEmail: stored.AccountEmail,
		Token:        stored.Token,
		CreatedAt:    stored.CreatedAt,
		UpdatedAt:    stored.UpdatedAt,
	}, nil
}

func (r *redisCredentials) Save(ctx context.Context, cred RemoteCredential) error {
	defer observeDB(ctx, "credentials.save")()
	now := time.Now().UTC()
	created := now
	if existing, err := r.Get(ctx, cred.OwnerID); err == nil && existing != nil {
		created = existing.CreatedAt
	}
	data, err := json.Marshal(redisCredential{
		Provider:     cred.Provider,
		CalendarID:   cred.CalendarID,
		AccountEmail: cred.AccountEmail,
		Token:        cred.Token,
		CreatedAt:    created,
		UpdatedAt:    now,
	})
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, redisCredPrefix+cred.OwnerID, data, 0)
		pipe.SAdd(ctx, redisLinkedOwners, cred.OwnerID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	return nil
}

func (r *redisCredentials) Delete(ctx context.Context, ownerID string) error {
	defer observeDB(ctx, "credentials.delete")()
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, redisCredPrefix+ownerID)
		pipe.SRem(ctx, redisLinkedOwners, ownerID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}

func (r *redisCredentials) ListOwners(ctx context.Context) ([]string, error) {
	defer observeDB(ctx, "credentials.list_owners")()
	owners, err := r.client.SMembers(ctx, redisLinkedOwners).Result()
	if err != nil {
		return nil, fmt.Errorf("list linked owners: %w", err)
	}
	sort.Strings(owners)
	return owners, nil
}
