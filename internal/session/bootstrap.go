package session

import (
	"context"
	"log"
	"strings"
	"sync"

	"github.com/Cyansiiii/attendance/internal/apiclient"
)

// sessionIDMarker precedes the one-time identifier in a post-login redirect
// fragment.
const sessionIDMarker = "session_id="

// DefaultRole is assumed when the backend does not report one.
const DefaultRole = "teacher"

// Identity describes the signed-in actor for the render layer.
type Identity struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Picture string `json:"picture,omitempty"`
	Role    string `json:"role"`
}

// ExtractSessionID returns the one-time identifier embedded in a URL
// fragment: the substring between the marker and the next "&", or the end of
// the string. Empty when no marker is present.
func ExtractSessionID(fragment string) string {
	idx := strings.Index(fragment, sessionIDMarker)
	if idx < 0 {
		return ""
	}
	rest := fragment[idx+len(sessionIDMarker):]
	if amp := strings.Index(rest, "&"); amp >= 0 {
		rest = rest[:amp]
	}
	return rest
}

// Bootstrapper establishes whether a visitor is authenticated, either by
// exchanging a one-time session identifier (fresh login redirect) or by
// probing with a previously stored cookie (returning visitor).
type Bootstrapper struct {
	api *apiclient.Client

	mu         sync.Mutex
	loading    bool
	processing bool
}

// NewBootstrapper wraps a backend client.
func NewBootstrapper(api *apiclient.Client) *Bootstrapper {
	return &Bootstrapper{api: api}
}

// Loading reports whether a bootstrap is in flight.
func (b *Bootstrapper) Loading() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loading
}

// SessionProcessing reports whether a one-time exchange is in flight.
func (b *Bootstrapper) SessionProcessing() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.processing
}

// Bootstrap resolves the visitor's identity. A nil result means
// unauthenticated. The loading flag covers the whole call and the processing
// flag the exchange path only; both are cleared on every exit path.
func (b *Bootstrapper) Bootstrap(ctx context.Context, store Store, fragment string) *Identity {
	b.setLoading(true)
	defer b.setLoading(false)

	if sessionID := ExtractSessionID(fragment); sessionID != "" {
		return b.exchange(ctx, store, sessionID)
	}
	return b.probe(ctx, store)
}

// exchange trades the one-time identifier for the durable token. The call is
// made without any existing bearer credential. Failure clears whatever cookie
// is present and is not retried.
func (b *Bootstrapper) exchange(ctx context.Context, store Store, sessionID string) *Identity {
	b.setProcessing(true)
	defer b.setProcessing(false)

	data, err := b.api.WithTokenSource(apiclient.StaticToken("")).SessionData(ctx, sessionID)
	if err != nil {
		log.Printf("session exchange failed: %v", err)
		store.Clear()
		return nil
	}

	store.Set(data.SessionToken)
	return &Identity{
		Name:    data.Name,
		Email:   data.Email,
		Picture: data.Picture,
		Role:    roleOrDefault(data.Role),
	}
}

// probe validates a stored cookie with one authenticated dashboard request.
// No cookie means unauthenticated with no network call. The response only
// carries a role, so the rest of the identity is synthesized with
// placeholders; the real name and email are not recoverable on this path.
func (b *Bootstrapper) probe(ctx context.Context, store Store) *Identity {
	token, ok := store.Token()
	if !ok {
		return nil
	}

	dash, err := b.api.WithTokenSource(apiclient.StaticToken(token)).Dashboard(ctx)
	if err != nil {
		log.Printf("session probe failed: %v", err)
		store.Clear()
		return nil
	}

	return &Identity{
		Name:  "User",
		Email: "user@example.com",
		Role:  roleOrDefault(dash.UserRole),
	}
}

// Logout notifies the backend best-effort and then unconditionally clears the
// stored credential.
func (b *Bootstrapper) Logout(ctx context.Context, store Store) {
	if token, ok := store.Token(); ok {
		if err := b.api.WithTokenSource(apiclient.StaticToken(token)).Logout(ctx); err != nil {
			log.Printf("logout call failed: %v", err)
		}
	}
	store.Clear()
}

func (b *Bootstrapper) setLoading(v bool) {
	b.mu.Lock()
	b.loading = v
	b.mu.Unlock()
}

func (b *Bootstrapper) setProcessing(v bool) {
	b.mu.Lock()
	b.processing = v
	b.mu.Unlock()
}

func roleOrDefault(role string) string {
	if role == "" {
		return DefaultRole
	}
	return role
}
