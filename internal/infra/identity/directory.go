package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"attestd/internal/domain"
	"attestd/internal/usecase"

	"golang.org/x/crypto/bcrypt"
)

var _ usecase.IdentityProvider = (*Directory)(nil)

// Directory is a local identity provider backed by an in-memory user table
// with bcrypt password hashes. Production deployments plug a real identity
// collaborator in behind the same interface.
type Directory struct {
	mu    sync.RWMutex
	users map[string]directoryEntry
}

type directoryEntry struct {
	user         domain.User
	passwordHash string
}

// directoryFileEntry is the on-disk JSON shape for LoadDirectory.
type directoryFileEntry struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Email        string   `json:"email"`
	Title        string   `json:"title,omitempty"`
	TenantID     string   `json:"tenant_id,omitempty"`
	Roles        []string `json:"roles,omitempty"`
	PasswordHash string   `json:"password_hash"`
}

func NewDirectory() *Directory {
	return &Directory{users: make(map[string]directoryEntry)}
}

// LoadDirectory reads a JSON array of users with pre-computed bcrypt hashes.
func LoadDirectory(path string) (*Directory, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read users file: %w", err)
	}
	var entries []directoryFileEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse users file: %w", err)
	}
	dir := NewDirectory()
	for _, entry := range entries {
		if entry.ID == "" || entry.PasswordHash == "" {
			return nil, fmt.Errorf("user entry missing id or password_hash")
		}
		dir.AddWithHash(domain.User{
			ID:       entry.ID,
			Name:     entry.Name,
			Email:    entry.Email,
			Title:    entry.Title,
			TenantID: entry.TenantID,
			Roles:    entry.Roles,
		}, entry.PasswordHash)
	}
	return dir, nil
}

// Add hashes the password with bcrypt and registers the user.
func (d *Directory) Add(user domain.User, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	d.AddWithHash(user, string(hash))
	return nil
}

func (d *Directory) AddWithHash(user domain.User, passwordHash string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[user.ID] = directoryEntry{user: user, passwordHash: passwordHash}
}

func (d *Directory) GetUser(_ context.Context, userID string) (*domain.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	entry, ok := d.users[userID]
	if !ok {
		return nil, nil
	}
	user := entry.user
	user.Roles = append([]string(nil), entry.user.Roles...)
	return &user, nil
}

func (d *Directory) VerifyPassword(_ context.Context, userID, password string) (bool, error) {
	d.mu.RLock()
	entry, ok := d.users[userID]
	d.mu.RUnlock()
	if !ok {
		return false, nil
	}
	err := bcrypt.CompareHashAndPassword([]byte(entry.passwordHash), []byte(password))
	if err == bcrypt.ErrMismatchedHashAndPassword {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
