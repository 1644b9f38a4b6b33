package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// NewMemory returns a process-local store, used for development and tests.
func NewMemory() *Store {
	backend := &memoryBackend{
		docs:  make(map[string]*Document),
		creds: make(map[string]RemoteCredential),
	}
	return &Store{
		Documents:   &memoryDocuments{backend},
		Credentials: &memoryCredentials{backend},
	}
}

type memoryBackend struct {
	mu    sync.Mutex
	docs  map[string]*Document
	creds map[string]RemoteCredential
}

type memoryDocuments struct{ b *memoryBackend }

func (m *memoryDocuments) Get(ctx context.Context, ownerID string) (*Document, error) {
	m.b.mu.Lock()
	defer m.b.mu.Unlock()
	doc, ok := m.b.docs[ownerID]
	if !ok {
		return nil, ErrNotFound
	}
	return doc.Clone(), nil
}

func (m *memoryDocuments) GetOrCreate(ctx context.Context, ownerID string) (*Document, error) {
	m.b.mu.Lock()
	defer m.b.mu.Unlock()
	doc, ok := m.b.docs[ownerID]
	if !ok {
		doc = NewDocument(ownerID)
		doc.UpdatedAt = time.Now().UTC()
		m.b.docs[ownerID] = doc
	}
	return doc.Clone(), nil
}

func (m *memoryDocuments) Replace(ctx context.Context, doc Document) (*Document, error) {
	m.b.mu.Lock()
	defer m.b.mu.Unlock()
	stored := doc.Clone()
	stored.UpdatedAt = time.Now().UTC()
	m.b.docs[doc.OwnerID] = stored
	return stored.Clone(), nil
}

type memoryCredentials struct{ b *memoryBackend }

func (m *memoryCredentials) Get(ctx context.Context, ownerID string) (*RemoteCredential, error) {
	m.b.mu.Lock()
	defer m.b.mu.Unlock()
	cred, ok := m.b.creds[ownerID]
	if !ok {
		return nil, nil
	}
	cred.Token = append([]byte(nil), cred.Token...)
	return &cred, nil
}

func (m *memoryCredentials) Save(ctx context.Context, cred RemoteCredential) error {
	m.b.mu.Lock()
	defer m.b.mu.Unlock()
	now := time.Now().UTC()
	if existing, ok := m.b.creds[cred.OwnerID]; ok {
		cred.CreatedAt = existing.CreatedAt
	} else {
		cred.CreatedAt = now
	}
	cred.UpdatedAt = now
	cred.Token = append([]byte(nil), cred.Token...)
	m.b.creds[cred.OwnerID] = cred
	return nil
}

func (m *memoryCredentials) Delete(ctx context.Context, ownerID string) error {
	m.b.mu.Lock()
	defer m.b.mu.Unlock()
	delete(m.b.creds, ownerID)
	return nil
}

func (m *memoryCredentials) ListOwners(ctx context.Context) ([]string, error) {
	m.b.mu.Lock()
	defer m.b.mu.Unlock()
	owners := make([]string, 0, len(m.b.creds))
	for owner := range m.b.creds {
		owners = append(owners, owner)
	}
	sort.Strings(owners)
	return owners, nil
}
