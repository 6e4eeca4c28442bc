// ABOUTME: Postgres-backed token repository, single encrypted row
// ABOUTME: Upserts the live record so readers observe old or new state in full

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"

	"withings-sidecar/models"
	"withings-sidecar/security"
)

// PostgresTokenRepository keeps the TokenRecord in one row, token columns
// passed through the cipher on write and read. The `only_row` primary key
// pins the table to a single record.
type PostgresTokenRepository struct {
	db     *sql.DB
	cipher *security.TokenCipher
	logger *slog.Logger
}

const createTokenTable = `
CREATE TABLE IF NOT EXISTS withings_token (
    only_row                BOOLEAN PRIMARY KEY DEFAULT TRUE CHECK (only_row),
    access_token_encrypted  TEXT        NOT NULL,
    refresh_token_encrypted TEXT        NOT NULL,
    token_type              TEXT        NOT NULL DEFAULT 'Bearer',
    scope                   TEXT        NOT NULL DEFAULT '',
    userid                  TEXT        NOT NULL DEFAULT '',
    expires_at              TIMESTAMPTZ NOT NULL,
    last_refreshed_at       TIMESTAMPTZ NOT NULL
)`

// NewPostgresTokenRepository opens the database and ensures the token
// table exists.
func NewPostgresTokenRepository(dsn string, cipher *security.TokenCipher, logger *slog.Logger) (*PostgresTokenRepository, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open token database: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	repo := &PostgresTokenRepository{db: db, cipher: cipher, logger: logger}
	if _, err := db.Exec(createTokenTable); err != nil {
		return nil, fmt.Errorf("failed to ensure token table: %w", err)
	}
	return repo, nil
}

// NewPostgresTokenRepositoryWithDB wraps an existing handle (for tests).
func NewPostgresTokenRepositoryWithDB(db *sql.DB, cipher *security.TokenCipher, logger *slog.Logger) *PostgresTokenRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresTokenRepository{db: db, cipher: cipher, logger: logger}
}

// GetCurrentToken loads and decrypts the live record.
func (r *PostgresTokenRepository) GetCurrentToken(ctx context.Context) (*models.TokenRecord, error) {
	const query = `
SELECT access_token_encrypted, refresh_token_encrypted, token_type, scope, userid, expires_at, last_refreshed_at
FROM withings_token WHERE only_row`

	var (
		accessEnc, refreshEnc string
		rec                   models.TokenRecord
	)
	err := r.db.QueryRowContext(ctx, query).Scan(
		&accessEnc, &refreshEnc, &rec.TokenType, &rec.Scope, &rec.UserID,
		&rec.ExpiresAt, &rec.LastRefreshedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load token record: %w", err)
	}

	if rec.AccessToken, err = r.cipher.Decrypt(accessEnc); err != nil {
		return nil, fmt.Errorf("failed to decrypt access token: %w", err)
	}
	if rec.RefreshToken, err = r.cipher.Decrypt(refreshEnc); err != nil {
		return nil, fmt.Errorf("failed to decrypt refresh token: %w", err)
	}

	return &rec, nil
}

// SaveToken encrypts and upserts the record in a single statement, so a
// concurrent read sees either the old or the new row, never a mix.
func (r *PostgresTokenRepository) SaveToken(ctx context.Context, record *models.TokenRecord) error {
	if !record.IsConfigured() {
		return ErrInvalidToken
	}

	accessEnc, err := r.cipher.Encrypt(record.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}
	refreshEnc, err := r.cipher.Encrypt(record.RefreshToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	const upsert = `
INSERT INTO withings_token (only_row, access_token_encrypted, refresh_token_encrypted, token_type, scope, userid, expires_at, last_refreshed_at)
VALUES (TRUE, $1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (only_row) DO UPDATE SET
    access_token_encrypted  = EXCLUDED.access_token_encrypted,
    refresh_token_encrypted = EXCLUDED.refresh_token_encrypted,
    token_type              = EXCLUDED.token_type,
    scope                   = EXCLUDED.scope,
    userid                  = EXCLUDED.userid,
    expires_at              = EXCLUDED.expires_at,
    last_refreshed_at       = EXCLUDED.last_refreshed_at`

	if _, err := r.db.ExecContext(ctx, upsert,
		accessEnc, refreshEnc, record.TokenType, record.Scope, record.UserID,
		record.ExpiresAt, record.LastRefreshedAt); err != nil {
		return fmt.Errorf("failed to persist token record: %w", err)
	}

	r.logger.Info("token record persisted",
		"expires_at", record.ExpiresAt,
		"last_refreshed_at", record.LastRefreshedAt)
	return nil
}

// Close releases the underlying database handle.
func (r *PostgresTokenRepository) Close() error {
	return r.db.Close()
}
