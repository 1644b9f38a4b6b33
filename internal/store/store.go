package store

import "context"

type healthChecker interface {
	Ping(ctx context.Context) error
}

// Store aggregates repositories sharing one backend connection.
type Store struct {
	health healthChecker
	closer func() error

	Documents   DocumentRepository
	Credentials CredentialRepository
}

// HealthCheck verifies that the underlying backend is reachable.
func (s *Store) HealthCheck(ctx context.Context) error {
	defer observeDB(ctx, "store.healthcheck")()
	if s.health == nil {
		return nil
	}
	return s.health.Ping(ctx)
}

// Close releases the backend connection.
func (s *Store) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
