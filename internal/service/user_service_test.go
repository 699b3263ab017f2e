package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"storefront-catalog/internal/domain"
	"storefront-catalog/internal/repository"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type mockUserRepository struct {
	users map[string]*domain.User
}

func newMockUserRepository() *mockUserRepository {
	return &mockUserRepository{
		users: make(map[string]*domain.User),
	}
}

func (m *mockUserRepository) Create(ctx context.Context, user *domain.User) error {
	if _, exists := m.users[user.Email]; exists {
		return repository.ErrUserAlreadyExists
	}
	m.users[user.Email] = user
	return nil
}

func (m *mockUserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	user, exists := m.users[email]
	if !exists {
		return nil, repository.ErrUserNotFound
	}
	return user, nil
}

func (m *mockUserRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	for _, user := range m.users {
		if user.ID == id {
			return user, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (m *mockUserRepository) SetAccess(ctx context.Context, id uuid.UUID, role domain.Role, permissions []domain.Permission) error {
	user, err := m.FindByID(ctx, id)
	if err != nil {
		return err
	}
	user.Role = role
	user.Permissions = permissions
	return nil
}

type mockRefreshTokenRepository struct {
	tokens map[string]*domain.RefreshToken
}

func newMockRefreshTokenRepository() *mockRefreshTokenRepository {
	return &mockRefreshTokenRepository{
		tokens: make(map[string]*domain.RefreshToken),
	}
}

func (m *mockRefreshTokenRepository) Create(ctx context.Context, token *domain.RefreshToken) error {
	m.tokens[token.Token] = token
	return nil
}

func (m *mockRefreshTokenRepository) FindByToken(ctx context.Context, token string) (*domain.RefreshToken, error) {
	refreshToken, exists := m.tokens[token]
	if !exists {
		return nil, repository.ErrRefreshTokenNotFound
	}
	if refreshToken.Revoked {
		return nil, repository.ErrRefreshTokenRevoked
	}
	return refreshToken, nil
}

func (m *mockRefreshTokenRepository) Revoke(ctx context.Context, token string) error {
	refreshToken, exists := m.tokens[token]
	if !exists {
		return repository.ErrRefreshTokenNotFound
	}
	refreshToken.Revoked = true
	return nil
}

var (
	genEmail    = gen.RegexMatch(`[a-z]{3,10}@[a-z]{3,8}\.(com|org|net)`)
	genPassword = gen.RegexMatch(`[A-Za-z0-9!@#$%]{8,20}`)
	genName     = gen.RegexMatch(`[A-Z][a-z]{2,15}`)
)

func TestProperty_RegistrationCreatesHashedPasswords(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("passwords are hashed with bcrypt and not stored as plaintext", prop.ForAll(
		func(email string, password string, firstName string, lastName string) bool {
			userRepo := newMockUserRepository()
			service := NewUserService(userRepo, newMockRefreshTokenRepository(), "test-secret")
			ctx := context.Background()

			user, err := service.Register(ctx, email, password, firstName, lastName)
			if err != nil {
				t.Logf("FAIL: registration failed: %v", err)
				return false
			}

			if user.PasswordHash == password {
				t.Logf("FAIL: password stored as plaintext for %s", email)
				return false
			}
			if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
				t.Logf("FAIL: password hash does not match: %v", err)
				return false
			}

			stored, err := userRepo.FindByEmail(ctx, email)
			return err == nil && stored.PasswordHash == user.PasswordHash
		},
		genEmail, genPassword, genName, genName,
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestRegister_NewAccountsAreCustomers(t *testing.T) {
	service := NewUserService(newMockUserRepository(), newMockRefreshTokenRepository(), "test-secret")

	user, err := service.Register(context.Background(), "ann@example.com", "password123", "Ann", "Lee")
	require.NoError(t, err)

	assert.Equal(t, domain.RoleCustomer, user.Role)
	assert.Empty(t, user.Permissions)
}

func TestRegister_DuplicateEmail(t *testing.T) {
	service := NewUserService(newMockUserRepository(), newMockRefreshTokenRepository(), "test-secret")
	ctx := context.Background()

	_, err := service.Register(ctx, "ann@example.com", "password123", "Ann", "Lee")
	require.NoError(t, err)

	_, err = service.Register(ctx, "ann@example.com", "password456", "Ann", "Other")
	assert.ErrorIs(t, err, repository.ErrUserAlreadyExists)
}

func TestProperty_JWTTokensContainRequiredClaims(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("access tokens carry user ID, role and permissions", prop.ForAll(
		func(email string, password string, role string, grantProducts bool) bool {
			userRepo := newMockUserRepository()
			service := NewUserService(userRepo, newMockRefreshTokenRepository(), "test-secret-key")
			ctx := context.Background()

			user, err := service.Register(ctx, email, password, "Ann", "Lee")
			if err != nil {
				return false
			}

			user.Role = domain.Role(role)
			if grantProducts && user.Role != domain.RoleCustomer {
				user.Permissions = []domain.Permission{domain.PermissionManageProducts}
			}

			accessToken, _, _, err := service.Login(ctx, email, password)
			if err != nil {
				t.Logf("FAIL: login failed: %v", err)
				return false
			}

			claims, err := service.ValidateToken(accessToken)
			if err != nil {
				t.Logf("FAIL: token validation failed: %v", err)
				return false
			}

			if claims.UserID != user.ID || claims.Role != user.Role {
				return false
			}
			if len(claims.Permissions) != len(user.Permissions) {
				return false
			}
			return claims.ExpiresAt != nil && claims.IssuedAt != nil
		},
		genEmail, genPassword,
		gen.OneConstOf("customer", "employee", "admin"),
		gen.Bool(),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestClaims_Principal(t *testing.T) {
	id := uuid.New()
	claims := &Claims{
		UserID:      id,
		Role:        domain.RoleEmployee,
		Permissions: []domain.Permission{domain.PermissionManageCategories},
	}

	p := claims.Principal()
	assert.Equal(t, id.String(), p.UserID)
	assert.True(t, domain.RolePolicy{}.Allows(p, domain.PermissionManageCategories))
	assert.False(t, domain.RolePolicy{}.Allows(p, domain.PermissionManageUsers))
}

func TestProperty_TokenRefreshRoundTrip(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("valid refresh token returns new valid access token", prop.ForAll(
		func(email string, password string) bool {
			service := NewUserService(newMockUserRepository(), newMockRefreshTokenRepository(), "test-secret-key")
			ctx := context.Background()

			if _, err := service.Register(ctx, email, password, "Ann", "Lee"); err != nil {
				return false
			}

			_, refreshToken, user, err := service.Login(ctx, email, password)
			if err != nil {
				return false
			}

			newAccessToken, err := service.RefreshToken(ctx, refreshToken)
			if err != nil {
				t.Logf("FAIL: token refresh failed: %v", err)
				return false
			}

			claims, err := service.ValidateToken(newAccessToken)
			if err != nil {
				return false
			}

			return claims.UserID == user.ID &&
				claims.Role == user.Role &&
				claims.ExpiresAt != nil && time.Now().Before(claims.ExpiresAt.Time)
		},
		genEmail, genPassword,
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestRefreshToken_PicksUpNewGrants(t *testing.T) {
	userRepo := newMockUserRepository()
	service := NewUserService(userRepo, newMockRefreshTokenRepository(), "test-secret")
	ctx := context.Background()

	user, err := service.Register(ctx, "emp@example.com", "password123", "Emp", "Loyee")
	require.NoError(t, err)
	_, refreshToken, _, err := service.Login(ctx, "emp@example.com", "password123")
	require.NoError(t, err)

	_, err = service.SetPermissions(ctx, user.ID, domain.RoleEmployee, []domain.Permission{domain.PermissionManageCategories})
	require.NoError(t, err)

	accessToken, err := service.RefreshToken(ctx, refreshToken)
	require.NoError(t, err)
	claims, err := service.ValidateToken(accessToken)
	require.NoError(t, err)

	assert.Equal(t, domain.RoleEmployee, claims.Role)
	assert.Equal(t, []domain.Permission{domain.PermissionManageCategories}, claims.Permissions)
}

func TestProperty_LogoutInvalidatesRefreshToken(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("logout marks refresh token as revoked", prop.ForAll(
		func(email string, password string) bool {
			refreshTokenRepo := newMockRefreshTokenRepository()
			service := NewUserService(newMockUserRepository(), refreshTokenRepo, "test-secret-key")
			ctx := context.Background()

			if _, err := service.Register(ctx, email, password, "Ann", "Lee"); err != nil {
				return false
			}

			_, refreshToken, _, err := service.Login(ctx, email, password)
			if err != nil {
				return false
			}

			if err := service.Logout(ctx, refreshToken); err != nil {
				return false
			}

			if _, err := service.RefreshToken(ctx, refreshToken); !errors.Is(err, ErrInvalidToken) {
				t.Logf("FAIL: expected ErrInvalidToken, got: %v", err)
				return false
			}

			_, err = refreshTokenRepo.FindByToken(ctx, refreshToken)
			return errors.Is(err, repository.ErrRefreshTokenRevoked)
		},
		genEmail, genPassword,
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestValidateToken_Expired(t *testing.T) {
	service := NewUserService(newMockUserRepository(), newMockRefreshTokenRepository(), "test-secret",
		WithTokenExpiry(time.Nanosecond, 0))
	ctx := context.Background()

	_, err := service.Register(ctx, "ann@example.com", "password123", "Ann", "Lee")
	require.NoError(t, err)
	accessToken, _, _, err := service.Login(ctx, "ann@example.com", "password123")
	require.NoError(t, err)

	time.Sleep(1100 * time.Millisecond)
	_, err = service.ValidateToken(accessToken)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestSetPermissions(t *testing.T) {
	userRepo := newMockUserRepository()
	service := NewUserService(userRepo, newMockRefreshTokenRepository(), "test-secret")
	ctx := context.Background()

	user, err := service.Register(ctx, "ann@example.com", "password123", "Ann", "Lee")
	require.NoError(t, err)

	tests := []struct {
		name        string
		id          uuid.UUID
		role        domain.Role
		permissions []domain.Permission
		wantErr     error
	}{
		{"unknown role", user.ID, domain.Role("owner"), nil, domain.ErrValidation},
		{"unknown permission", user.ID, domain.RoleEmployee, []domain.Permission{"fly"}, domain.ErrValidation},
		{"customer with permissions", user.ID, domain.RoleCustomer, []domain.Permission{domain.PermissionManageProducts}, domain.ErrValidation},
		{"unknown user", uuid.New(), domain.RoleEmployee, nil, repository.ErrUserNotFound},
		{"employee grant", user.ID, domain.RoleEmployee, []domain.Permission{domain.PermissionManageProducts}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := service.SetPermissions(ctx, tt.id, tt.role, tt.permissions)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.role, got.Role)
			assert.Equal(t, tt.permissions, got.Permissions)
		})
	}
}
