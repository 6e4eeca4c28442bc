//go:generate mockgen -source=token_repository.go -destination=../mocks/token_repository_mock.go -package=mocks TokenRepository

// ABOUTME: This file defines the token repository interface and sentinel errors
// ABOUTME: Contracts for storing the single live Withings credential pair

package repository

import (
	"context"
	"fmt"

	"withings-sidecar/models"
)

// TokenRepository defines storage for the deployment's single TokenRecord.
// Save overwrites the previous record atomically with respect to
// GetCurrentToken; implementations never retain history.
type TokenRepository interface {
	// GetCurrentToken retrieves the live record, or ErrTokenNotFound
	// before the first authorization-code exchange.
	GetCurrentToken(ctx context.Context) (*models.TokenRecord, error)

	// SaveToken persists the record, replacing any previous one.
	SaveToken(ctx context.Context, record *models.TokenRecord) error
}

var (
	ErrTokenNotFound = fmt.Errorf("no token record in storage")
	ErrInvalidToken  = fmt.Errorf("token record is missing access or refresh token")
)
