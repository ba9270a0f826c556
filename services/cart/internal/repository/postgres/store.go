package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/syntex82/nodepress/pkg/database"
	"github.com/syntex82/nodepress/services/cart/internal/repository"
)

// Store adds transactions to CartRepository.
type Store struct {
	*CartRepository
	db database.DBTX
}

var _ repository.Store = (*Store)(nil)

// NewStore wraps a pool.
func NewStore(db database.DBTX) *Store {
	return &Store{CartRepository: NewCartRepository(db), db: db}
}

// WithinTx runs fn in one transaction and commits when it returns nil.
func (s *Store) WithinTx(ctx context.Context, fn func(repo repository.CartRepository) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(NewCartRepository(tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func newID() string {
	return uuid.NewString()
}
