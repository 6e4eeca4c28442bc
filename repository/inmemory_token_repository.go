// ABOUTME: Mutex-guarded in-memory token repository
// ABOUTME: Used by tests and secretless development runs

package repository

import (
	"context"
	"sync"

	"withings-sidecar/models"
)

// InMemoryTokenRepository stores the record behind a mutex. Copies on both
// paths so callers never share the stored struct.
type InMemoryTokenRepository struct {
	mu     sync.RWMutex
	record *models.TokenRecord
}

func NewInMemoryTokenRepository() *InMemoryTokenRepository {
	return &InMemoryTokenRepository{}
}

func (r *InMemoryTokenRepository) GetCurrentToken(_ context.Context) (*models.TokenRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.record == nil {
		return nil, ErrTokenNotFound
	}
	copied := *r.record
	return &copied, nil
}

func (r *InMemoryTokenRepository) SaveToken(_ context.Context, record *models.TokenRecord) error {
	if !record.IsConfigured() {
		return ErrInvalidToken
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *record
	r.record = &copied
	return nil
}
