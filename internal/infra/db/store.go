package db

import (
	"context"
	"fmt"
	"log"

	"attestd/internal/config"
	"attestd/internal/usecase"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type Store struct {
	DB *gorm.DB
}

func NewStore(cfg config.Config) (*Store, error) {
	if cfg.PostgresDSN == "" {
		log.Printf("POSTGRES_DSN not set; starting in no-db mode.")
		return &Store{DB: nil}, nil
	}

	gdb, err := gorm.Open(postgres.Open(cfg.PostgresDSN), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	return &Store{DB: gdb}, nil
}

func (s *Store) Challenges() usecase.ChallengeRepository {
	return NewChallengeRepository(s.DB)
}

func (s *Store) Signatures() usecase.SignatureRepository {
	return NewSignatureRepository(s.DB)
}

func (s *Store) AuditEvents() usecase.AuditEventRepository {
	return NewAuditEventRepository(s.DB)
}

// WithTx runs fn against repositories bound to one database transaction.
// Nested calls join the ambient transaction (gorm re-enters SAVEPOINT-free).
func (s *Store) WithTx(ctx context.Context, fn func(usecase.SignatureStore) error) error {
	if s.DB == nil {
		return errDBUnavailable
	}
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{DB: tx})
	})
}

var _ usecase.SignatureStore = (*Store)(nil)
