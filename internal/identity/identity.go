package identity

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Sentinel errors for identity operations
var (
	ErrInvalidCredential = errors.New("invalid email or password")
	ErrAccountExists     = errors.New("account already exists")
	ErrUnavailable       = errors.New("identity provider unavailable")
)

// Provider is the external identity collaborator. The engine delegates
// credential handling entirely; it only ever sees opaque user IDs.
type Provider interface {
	// Authenticate verifies the credentials and returns the user ID.
	// Returns ErrInvalidCredential on failure.
	Authenticate(ctx context.Context, email, password string) (uuid.UUID, error)

	// CreateAccount registers a new account and returns the user ID.
	// Returns ErrAccountExists if the email is taken.
	CreateAccount(ctx context.Context, email, password string) (uuid.UUID, error)
}

// MemoryProvider implements Provider with in-memory accounts. For
// development and testing; a deployment plugs in a real identity service.
type MemoryProvider struct {
	mu       sync.RWMutex
	accounts map[string]memoryAccount // email -> account
}

type memoryAccount struct {
	userID       uuid.UUID
	passwordHash []byte
}

// NewMemoryProvider creates an empty in-memory identity provider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		accounts: make(map[string]memoryAccount),
	}
}

// CreateAccount registers a new account with a bcrypt password hash.
func (p *MemoryProvider) CreateAccount(ctx context.Context, email, password string) (uuid.UUID, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return uuid.Nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.accounts[email]; exists {
		return uuid.Nil, ErrAccountExists
	}

	userID := uuid.Must(uuid.NewV7())
	p.accounts[email] = memoryAccount{
		userID:       userID,
		passwordHash: hash,
	}

	return userID, nil
}

// Authenticate verifies the credentials.
func (p *MemoryProvider) Authenticate(ctx context.Context, email, password string) (uuid.UUID, error) {
	p.mu.RLock()
	account, exists := p.accounts[email]
	p.mu.RUnlock()

	if !exists {
		return uuid.Nil, ErrInvalidCredential
	}

	if err := bcrypt.CompareHashAndPassword(account.passwordHash, []byte(password)); err != nil {
		return uuid.Nil, ErrInvalidCredential
	}

	return account.userID, nil
}
