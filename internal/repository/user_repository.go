package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"storefront-catalog/internal/domain"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrUserAlreadyExists = errors.New("user with this email already exists")
)

// UserRepository defines the interface for user data access
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	FindByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	SetAccess(ctx context.Context, id uuid.UUID, role domain.Role, permissions []domain.Permission) error
}

type userRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new instance of UserRepository
func NewUserRepository(db *sql.DB) UserRepository {
	return &userRepository{db: db}
}

var userColumns = []string{"id", "email", "password_hash", "first_name", "last_name", "role", "created_at", "updated_at"}

// Create inserts a new user together with any granted permissions
func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = exec(ctx, tx, statementBuilder.
		Insert("users").
		Columns(userColumns...).
		Values(
			user.ID,
			user.Email,
			user.PasswordHash,
			user.FirstName,
			user.LastName,
			string(user.Role),
			user.CreatedAt,
			user.UpdatedAt,
		), "create user")
	if err != nil {
		if hasPgCode(err, pgUniqueViolation) {
			return ErrUserAlreadyExists
		}
		return err
	}

	if err := insertPermissions(ctx, tx, user.ID, user.Permissions); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit user: %w", err)
	}
	return nil
}

// FindByEmail retrieves a user by email
func (r *userRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.findOne(ctx, sq.Eq{"email": email}, "email")
}

// FindByID retrieves a user by ID
func (r *userRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return r.findOne(ctx, sq.Eq{"id": id}, "ID")
}

// SetAccess replaces the role and the permission set of a user
func (r *userRepository) SetAccess(ctx context.Context, id uuid.UUID, role domain.Role, permissions []domain.Permission) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := exec(ctx, tx, statementBuilder.
		Update("users").
		Set("role", string(role)).
		Where(sq.Eq{"id": id}), "update user role")
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrUserNotFound
	}

	if _, err := exec(ctx, tx, statementBuilder.
		Delete("user_permissions").
		Where(sq.Eq{"user_id": id}), "clear user permissions"); err != nil {
		return err
	}

	if err := insertPermissions(ctx, tx, id, permissions); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit user access: %w", err)
	}
	return nil
}

func (r *userRepository) findOne(ctx context.Context, where sq.Eq, by string) (*domain.User, error) {
	row, err := queryRow(ctx, r.db, statementBuilder.
		Select(userColumns...).
		From("users").
		Where(where))
	if err != nil {
		return nil, err
	}

	user := &domain.User{}
	var role string
	err = row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.FirstName,
		&user.LastName,
		&role,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to find user by %s: %w", by, err)
	}
	user.Role = domain.Role(role)

	rows, err := query(ctx, r.db, statementBuilder.
		Select("permission").
		From("user_permissions").
		Where(sq.Eq{"user_id": user.ID}).
		OrderBy("permission"), "list user permissions")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	user.Permissions = []domain.Permission{}
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		user.Permissions = append(user.Permissions, domain.Permission(p))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating permissions: %w", err)
	}

	return user, nil
}

func insertPermissions(ctx context.Context, db DBTX, userID uuid.UUID, permissions []domain.Permission) error {
	if len(permissions) == 0 {
		return nil
	}

	b := statementBuilder.
		Insert("user_permissions").
		Columns("user_id", "permission").
		Suffix("ON CONFLICT DO NOTHING")
	for _, p := range permissions {
		b = b.Values(userID, string(p))
	}

	_, err := exec(ctx, db, b, "grant user permissions")
	return err
}
