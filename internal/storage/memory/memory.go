// Package memory provides an in-process store for game state and accounts,
// used for local runs and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/cory-johannsen/massgravity/internal/game/state"
	"github.com/cory-johannsen/massgravity/internal/identity"
)

var (
	// ErrAccountExists is returned when registering a taken username.
	ErrAccountExists = errors.New("account already exists")
	// ErrInvalidCredentials is returned when authentication fails.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

type account struct {
	identity.Account
	passwordHash []byte
}

// Store keeps game-state documents and accounts in memory.
// Unknown players load as an empty document.
type Store struct {
	mu       sync.RWMutex
	states   map[int64]state.Document
	accounts map[string]account
	nextID   int64
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		states:   make(map[int64]state.Document),
		accounts: make(map[string]account),
	}
}

// LoadGameState returns a copy of the player's document.
func (s *Store) LoadGameState(ctx context.Context, playerID int64) (state.Document, error) {
	if err := ctx.Err(); err != nil {
		return state.Document{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.states[playerID].Clone(), nil
}

// SaveGameState replaces the player's document with a copy of doc.
func (s *Store) SaveGameState(ctx context.Context, playerID int64, doc state.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[playerID] = doc.Clone()
	return nil
}

// Register creates an account with a bcrypt-hashed password.
//
// Precondition: username and password must be non-empty.
// Postcondition: Returns the new Account or ErrAccountExists.
func (s *Store) Register(username, password string, faction state.Faction) (identity.Account, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return identity.Account{}, fmt.Errorf("username and password must be non-empty")
	}
	if !faction.Valid() {
		return identity.Account{}, fmt.Errorf("invalid faction %q", faction)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return identity.Account{}, fmt.Errorf("hashing password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[username]; ok {
		return identity.Account{}, ErrAccountExists
	}
	s.nextID++
	acct := identity.Account{ID: s.nextID, Username: username, Faction: faction}
	s.accounts[username] = account{Account: acct, passwordHash: hash}
	return acct, nil
}

// Authenticate verifies credentials.
func (s *Store) Authenticate(_ context.Context, username, password string) (identity.Account, error) {
	s.mu.RLock()
	acct, ok := s.accounts[username]
	s.mu.RUnlock()
	if !ok || bcrypt.CompareHashAndPassword(acct.passwordHash, []byte(password)) != nil {
		return identity.Account{}, ErrInvalidCredentials
	}
	return acct.Account, nil
}
