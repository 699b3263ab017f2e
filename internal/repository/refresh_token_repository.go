package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"storefront-catalog/internal/domain"

	sq "github.com/Masterminds/squirrel"
)

var (
	ErrRefreshTokenNotFound = errors.New("refresh token not found")
	ErrRefreshTokenRevoked  = errors.New("refresh token has been revoked")
)

// RefreshTokenRepository defines the interface for refresh token data access
type RefreshTokenRepository interface {
	Create(ctx context.Context, token *domain.RefreshToken) error
	FindByToken(ctx context.Context, token string) (*domain.RefreshToken, error)
	Revoke(ctx context.Context, token string) error
}

type refreshTokenRepository struct {
	db DBTX
}

// NewRefreshTokenRepository creates a new instance of RefreshTokenRepository
func NewRefreshTokenRepository(db DBTX) RefreshTokenRepository {
	return &refreshTokenRepository{db: db}
}

func (r *refreshTokenRepository) Create(ctx context.Context, token *domain.RefreshToken) error {
	_, err := exec(ctx, r.db, statementBuilder.
		Insert("refresh_tokens").
		Columns("id", "user_id", "token", "expires_at", "created_at", "revoked").
		Values(token.ID, token.UserID, token.Token, token.ExpiresAt, token.CreatedAt, token.Revoked),
		"create refresh token")
	return err
}

// FindByToken returns an unrevoked refresh token
func (r *refreshTokenRepository) FindByToken(ctx context.Context, token string) (*domain.RefreshToken, error) {
	row, err := queryRow(ctx, r.db, statementBuilder.
		Select("id", "user_id", "token", "expires_at", "created_at", "revoked").
		From("refresh_tokens").
		Where(sq.Eq{"token": token}))
	if err != nil {
		return nil, err
	}

	rt := &domain.RefreshToken{}
	if err := row.Scan(&rt.ID, &rt.UserID, &rt.Token, &rt.ExpiresAt, &rt.CreatedAt, &rt.Revoked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRefreshTokenNotFound
		}
		return nil, fmt.Errorf("failed to find refresh token: %w", err)
	}

	if rt.Revoked {
		return nil, ErrRefreshTokenRevoked
	}
	return rt, nil
}

func (r *refreshTokenRepository) Revoke(ctx context.Context, token string) error {
	result, err := exec(ctx, r.db, statementBuilder.
		Update("refresh_tokens").
		Set("revoked", true).
		Where(sq.Eq{"token": token}), "revoke refresh token")
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrRefreshTokenNotFound
	}
	return nil
}
