// Package identity resolves the authenticated player behind an inbound
// connection.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/cory-johannsen/massgravity/internal/game/state"
)

// ErrUnauthenticated is returned when a request carries no valid identity.
var ErrUnauthenticated = errors.New("unauthenticated")

// Identity is the resolved player behind a connection.
type Identity struct {
	PlayerID int64
	Username string
	Faction  state.Faction
}

// Authenticated reports whether the identity names a real player.
func (i Identity) Authenticated() bool {
	return i.PlayerID > 0
}

// Resolver resolves the identity of an inbound connection request.
type Resolver interface {
	Resolve(r *http.Request) (Identity, error)
}

// Account is the subset of an account record identity resolution needs.
type Account struct {
	ID       int64
	Username string
	Faction  state.Faction
}

// Authenticator verifies credentials against the account store.
//
// Postcondition: Returns the matching Account or a non-nil error.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (Account, error)
}

// BasicAuthResolver resolves HTTP Basic credentials through an Authenticator.
type BasicAuthResolver struct {
	accounts Authenticator
}

// NewBasicAuthResolver creates a resolver backed by accounts.
//
// Precondition: accounts must be non-nil.
func NewBasicAuthResolver(accounts Authenticator) *BasicAuthResolver {
	return &BasicAuthResolver{accounts: accounts}
}

// Resolve authenticates the request's Basic credentials.
//
// Postcondition: Returns the Identity, or an error wrapping ErrUnauthenticated.
func (b *BasicAuthResolver) Resolve(r *http.Request) (Identity, error) {
	username, password, ok := r.BasicAuth()
	if !ok || username == "" {
		return Identity{}, fmt.Errorf("%w: missing credentials", ErrUnauthenticated)
	}
	acct, err := b.accounts.Authenticate(r.Context(), username, password)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	return Identity{PlayerID: acct.ID, Username: acct.Username, Faction: acct.Faction}, nil
}

// Headers set by a trusted upstream that has already authenticated the player.
const (
	HeaderPlayerID      = "X-Player-Id"
	HeaderPlayerName    = "X-Player-Name"
	HeaderPlayerFaction = "X-Player-Faction"
)

// HeaderResolver trusts identity headers injected by a fronting page server.
type HeaderResolver struct{}

// Resolve reads the identity headers.
//
// Postcondition: Returns the Identity, or an error wrapping ErrUnauthenticated
// when the id header is missing or not a positive integer.
func (HeaderResolver) Resolve(r *http.Request) (Identity, error) {
	raw := strings.TrimSpace(r.Header.Get(HeaderPlayerID))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return Identity{}, fmt.Errorf("%w: invalid %s %q", ErrUnauthenticated, HeaderPlayerID, raw)
	}
	faction := state.FactionBlue
	if f := r.Header.Get(HeaderPlayerFaction); f != "" {
		if faction, err = state.ParseFaction(f); err != nil {
			return Identity{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
		}
	}
	name := r.Header.Get(HeaderPlayerName)
	if name == "" {
		name = "player_" + raw
	}
	return Identity{PlayerID: id, Username: name, Faction: faction}, nil
}
