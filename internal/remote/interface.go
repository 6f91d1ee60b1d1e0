// Package remote implements the client for the remote document store that
// holds the synced copy of the calendar dataset.
//
// The client encapsulates the document store's auth and transfer semantics
// behind a minimal contract: authenticate, read the document, write the
// document, revoke. Credential acquisition itself is an external
// collaborator injected as a TokenSource; this package only manages the
// credential's lifecycle (persist, restore, expire, revoke).
//
// All remote calls are best-effort from the caller's point of view:
// reads sanitize malformed payloads instead of failing, writes are
// throttled and deduplicated, and every failure is classified as an
// AuthError, NetworkError, or GenericError so the orchestrator can decide
// between re-auth, backoff, and plain logging.
package remote

import (
	"context"
	"time"

	"github.com/mschirtzinger/prodcal/internal/task"
)

// Credential is an access credential for the remote document store.
type Credential struct {
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Expired reports whether the credential is expired at time now.
func (c Credential) Expired(now time.Time) bool {
	return c.AccessToken == "" || !c.ExpiresAt.After(now)
}

// TokenSource is the external credential-acquisition collaborator: a
// blocking call that yields a bearer credential or fails. The auth UI, the
// OAuth dance, and everything around them live behind this interface.
type TokenSource interface {
	Token(ctx context.Context) (Credential, error)
}

// AuthState is the credential state persisted alongside the local dataset.
type AuthState struct {
	SignedIn     bool       `json:"signedIn"`
	Credential   Credential `json:"credential"`
	Expiry       time.Time  `json:"expiry"`
	LastSyncTime time.Time  `json:"lastSyncTime,omitempty"`
}

// Client is the remote document store contract consumed by the sync
// orchestrator.
type Client interface {
	// Authenticate acquires a credential via the TokenSource and persists
	// the signed-in state. Blocks until the handshake completes or fails.
	Authenticate(ctx context.Context) error

	// SignedIn reports whether a non-expired credential is held.
	SignedIn() bool

	// ReadDocument fetches and sanitizes the remote dataset.
	//
	// Returns (nil, nil) both when no remote document exists yet and when
	// the call is a throttled no-op (a load requested too soon after the
	// previous one). Concurrent calls collapse into a single network
	// operation; latecomers receive the same result.
	ReadDocument(ctx context.Context) (*task.Dataset, error)

	// ForceReadDocument is ReadDocument without the minimum-spacing
	// throttle, for manual recovery paths. In-flight collapsing still
	// applies.
	ForceReadDocument(ctx context.Context) (*task.Dataset, error)

	// WriteDocument uploads the dataset, wrapped with sync metadata.
	// A write requested while another is in flight is dropped and returns
	// ErrSkipped. Writes closer together than the minimum gap are delayed,
	// not rejected.
	WriteDocument(ctx context.Context, ds *task.Dataset) error

	// Revoke invalidates the credential remotely (best effort) and clears
	// the persisted signed-in state.
	Revoke(ctx context.Context) error
}

// KV is the slice of the local store the client needs for persisting
// credential state.
type KV interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
}
