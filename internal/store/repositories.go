package store

import "context"

// DocumentRepository persists one calendar document per owner.
type DocumentRepository interface {
	// Get returns ErrNotFound when the owner has no document yet.
	Get(ctx context.Context, ownerID string) (*Document, error)
	// GetOrCreate lazily creates an empty document on first read.
	GetOrCreate(ctx context.Context, ownerID string) (*Document, error)
	// Replace overwrites the owner's events and ranges wholesale.
	Replace(ctx context.Context, doc Document) (*Document, error)
}

// CredentialRepository stores remote calendar credentials.
type CredentialRepository interface {
	// Get returns nil without error when the owner has not linked a remote calendar.
	Get(ctx context.Context, ownerID string) (*RemoteCredential, error)
	Save(ctx context.Context, cred RemoteCredential) error
	Delete(ctx context.Context, ownerID string) error
	ListOwners(ctx context.Context) ([]string, error)
}
