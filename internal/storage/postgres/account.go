package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/cory-johannsen/massgravity/internal/game/state"
	"github.com/cory-johannsen/massgravity/internal/identity"
)

// ErrAccountNotFound is returned when an account lookup yields no results.
var ErrAccountNotFound = errors.New("account not found")

// ErrAccountExists is returned when attempting to create a duplicate username.
var ErrAccountExists = errors.New("account already exists")

// ErrInvalidCredentials is returned when authentication fails.
var ErrInvalidCredentials = errors.New("invalid credentials")

// AccountRepository verifies and provisions player accounts.
type AccountRepository struct {
	db *pgxpool.Pool
}

// NewAccountRepository creates an AccountRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewAccountRepository(db *pgxpool.Pool) *AccountRepository {
	return &AccountRepository{db: db}
}

// Create inserts a new account with a bcrypt-hashed password.
//
// Precondition: username and password must be non-empty; faction must be valid.
// Postcondition: Returns the created Account or ErrAccountExists if the username is taken.
func (r *AccountRepository) Create(ctx context.Context, username, password string, faction state.Faction) (identity.Account, error) {
	if !faction.Valid() {
		return identity.Account{}, fmt.Errorf("invalid faction %q", faction)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return identity.Account{}, fmt.Errorf("hashing password: %w", err)
	}

	var acct identity.Account
	var f string
	err = r.db.QueryRow(ctx,
		`INSERT INTO accounts (username, password_hash, faction)
		 VALUES ($1, $2, $3)
		 RETURNING id, username, faction`,
		username, hash, string(faction),
	).Scan(&acct.ID, &acct.Username, &f)
	if err != nil {
		if isDuplicateKeyError(err) {
			return identity.Account{}, ErrAccountExists
		}
		return identity.Account{}, fmt.Errorf("inserting account: %w", err)
	}
	acct.Faction = state.Faction(f)
	return acct, nil
}

// Authenticate verifies credentials and returns the matching account.
//
// Postcondition: Returns the Account if credentials are valid,
// ErrAccountNotFound if the username doesn't exist,
// or ErrInvalidCredentials if the password is wrong.
func (r *AccountRepository) Authenticate(ctx context.Context, username, password string) (identity.Account, error) {
	var (
		acct identity.Account
		hash string
		f    string
	)
	err := r.db.QueryRow(ctx,
		`SELECT id, username, password_hash, faction
		 FROM accounts WHERE username = $1`,
		username,
	).Scan(&acct.ID, &acct.Username, &hash, &f)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return identity.Account{}, ErrAccountNotFound
		}
		return identity.Account{}, fmt.Errorf("querying account: %w", err)
	}

	if !CheckPassword(password, hash) {
		return identity.Account{}, ErrInvalidCredentials
	}
	faction, err := state.ParseFaction(f)
	if err != nil {
		faction = state.FactionBlue
	}
	acct.Faction = faction
	return acct, nil
}

// HashPassword creates a bcrypt hash of the given password.
//
// Precondition: password must be non-empty.
// Postcondition: Returns a bcrypt hash string.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword compares a plaintext password against a bcrypt hash.
//
// Postcondition: Returns true if password matches the hash.
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// isDuplicateKeyError checks for SQLSTATE 23505 (unique_violation).
func isDuplicateKeyError(err error) bool {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
