// Package credential fetches and caches the short-lived authorization token
// required by the speech engines.
package credential

import (
	"context"
	"sync/atomic"
	"time"
)

// Credential is an authorization token paired with the service region.
type Credential struct {
	Token     string    `json:"token"`
	Region    string    `json:"region"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Usable reports whether the credential may still be handed out at now,
// leaving skew before expiry for the engine to connect.
func (c Credential) Usable(now time.Time, skew time.Duration) bool {
	if c.Token == "" || c.ExpiresAt.IsZero() {
		return false
	}
	return now.Before(c.ExpiresAt.Add(-skew))
}

// Expired reports whether the credential is past its expiry.
func (c Credential) Expired(now time.Time) bool {
	return c.ExpiresAt.IsZero() || !now.Before(c.ExpiresAt)
}

// Fetcher performs one outbound credential request.
// A zero ExpiresAt means the backend did not state an expiry.
type Fetcher interface {
	Fetch(ctx context.Context) (Credential, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context) (Credential, error)

func (f FetcherFunc) Fetch(ctx context.Context) (Credential, error) { return f(ctx) }

// Store holds the last successful credential.
type Store interface {
	Load(ctx context.Context) (Credential, bool, error)
	Save(ctx context.Context, cred Credential) error
	Clear(ctx context.Context) error
}

// MemoryStore is the process-local store.
type MemoryStore struct {
	cur atomic.Pointer[Credential]
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) Load(context.Context) (Credential, bool, error) {
	c := s.cur.Load()
	if c == nil {
		return Credential{}, false, nil
	}
	return *c, true, nil
}

func (s *MemoryStore) Save(_ context.Context, cred Credential) error {
	s.cur.Store(&cred)
	return nil
}

func (s *MemoryStore) Clear(context.Context) error {
	s.cur.Store(nil)
	return nil
}

var _ Store = (*MemoryStore)(nil)
