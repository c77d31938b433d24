// Package apikey validates SHA-256 hashed API keys stored in PostgreSQL and
// turns a valid key into an auth.Identity. Raw keys are generated with
// crypto/rand and only ever shown once.
package apikey

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/internal/auth"
	"github.com/Adithya-Monish-Kumar-K/Library-Catalog-Platform/pkg/postgres"
)

var (
	ErrInvalidKey = errors.New("invalid api key")
	ErrExpiredKey = errors.New("api key expired")
)

// Schema creates the api_keys table.
const Schema = `CREATE TABLE IF NOT EXISTS api_keys (
	id          BIGSERIAL PRIMARY KEY,
	key_hash    TEXT NOT NULL UNIQUE,
	name        TEXT NOT NULL,
	rate_limit  INTEGER NOT NULL DEFAULT 0,
	is_active   BOOLEAN NOT NULL DEFAULT TRUE,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at  TIMESTAMPTZ
)`

// KeyInfo holds metadata about a validated API key.
type KeyInfo struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	RateLimit int        `json:"rate_limit"`
	IsActive  bool       `json:"is_active"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Identity converts the key into the caller identity it authenticates.
func (k *KeyInfo) Identity() auth.Identity {
	return auth.Identity{ID: "key:" + k.ID, Name: k.Name, RateLimit: k.RateLimit}
}

// Validator validates API keys against the api_keys table.
type Validator struct {
	db     *postgres.Client
	now    func() time.Time
	logger *slog.Logger
}

func NewValidator(db *postgres.Client) *Validator {
	return &Validator{
		db:     db,
		now:    time.Now,
		logger: slog.Default().With("component", "apikey-validator"),
	}
}

// Validate looks up rawKey. It returns ErrInvalidKey for unknown or revoked
// keys and ErrExpiredKey for expired ones.
func (v *Validator) Validate(ctx context.Context, rawKey string) (*KeyInfo, error) {
	var (
		info      KeyInfo
		expiresAt sql.NullTime
	)
	err := v.db.DB.QueryRowContext(ctx,
		`SELECT id, name, rate_limit, is_active, created_at, expires_at
		 FROM api_keys
		 WHERE key_hash = $1 AND is_active = true`,
		HashKey(rawKey),
	).Scan(&info.ID, &info.Name, &info.RateLimit, &info.IsActive, &info.CreatedAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidKey
	}
	if err != nil {
		return nil, fmt.Errorf("querying api key: %w", err)
	}
	if expiresAt.Valid {
		if expiresAt.Time.Before(v.now()) {
			return nil, ErrExpiredKey
		}
		info.ExpiresAt = &expiresAt.Time
	}
	return &info, nil
}

// CreateKey stores a new key and returns it raw. It cannot be retrieved
// again.
func (v *Validator) CreateKey(ctx context.Context, name string, rateLimit int, expiresAt *time.Time) (string, error) {
	rawKey, err := generateRawKey()
	if err != nil {
		return "", err
	}
	var expiry sql.NullTime
	if expiresAt != nil {
		expiry = sql.NullTime{Time: *expiresAt, Valid: true}
	}
	if _, err := v.db.DB.ExecContext(ctx,
		`INSERT INTO api_keys (key_hash, name, rate_limit, expires_at) VALUES ($1, $2, $3, $4)`,
		HashKey(rawKey), name, rateLimit, expiry,
	); err != nil {
		return "", fmt.Errorf("creating api key: %w", err)
	}
	v.logger.Info("api key created", "name", name, "rate_limit", rateLimit)
	return rawKey, nil
}

// RevokeKey deactivates a key.
func (v *Validator) RevokeKey(ctx context.Context, rawKey string) error {
	result, err := v.db.DB.ExecContext(ctx,
		`UPDATE api_keys SET is_active = false WHERE key_hash = $1`,
		HashKey(rawKey),
	)
	if err != nil {
		return fmt.Errorf("revoking api key: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrInvalidKey
	}
	v.logger.Info("api key revoked")
	return nil
}

// HashKey returns the SHA-256 hex digest of a raw API key.
func HashKey(raw string) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(raw)))
}

func generateRawKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating api key: %w", err)
	}
	return hex.EncodeToString(b), nil
}
