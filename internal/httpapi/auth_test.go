package httpapi

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Davemuriu/tac-shop/internal/domain"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
}

func (s *userStoreStub) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = make(map[string]domain.UserAccount)
	}
	s.users[user.Username] = user
	return nil
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Password = password
	s.users[username] = user
	s.updates++
	return nil
}

func (s *userStoreStub) find(username string) (domain.UserAccount, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[username]
	return user, ok
}

const testSecret = "unit-test-secret-unit-test-secret"

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	ctx := context.Background()
	store := &userStoreStub{
		users: map[string]domain.UserAccount{
			"quartermaster": {
				Username:  "quartermaster",
				Password:  "legacy-plain-1",
				Role:      domain.RoleAdmin,
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}

	manager := NewAuthManager(testSecret, time.Hour, "7391", store)
	resp, err := manager.Login(ctx, domain.LoginRequest{Username: "Quartermaster ", Password: "legacy-plain-1"})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, resp.Role)

	user, ok := store.find("quartermaster")
	require.True(t, ok)
	assert.NotEqual(t, "legacy-plain-1", user.Password)
	assert.True(t, strings.HasPrefix(user.Password, "$2"), "expected bcrypt hash, got %s", user.Password)
	assert.Positive(t, store.updates)
}

func TestCreateCashierStoresPasswordHash(t *testing.T) {
	ctx := context.Background()
	store := &userStoreStub{}
	manager := NewAuthManager(testSecret, time.Hour, "7391", store)

	cashier, err := manager.CreateCashier(ctx, domain.CashierCreateRequest{Username: "till-two", Password: "range-day-88"})
	require.NoError(t, err)
	assert.Equal(t, "till-two", cashier.Username)
	assert.Equal(t, domain.RoleCashier, cashier.Role)

	saved, ok := store.find("till-two")
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(saved.Password, "$2"))

	_, err = manager.Login(ctx, domain.LoginRequest{Username: "till-two", Password: "range-day-88"})
	require.NoError(t, err)

	cashiers := manager.ListCashiers(ctx)
	require.Len(t, cashiers, 1)
	assert.Equal(t, "till-two", cashiers[0].Username)
}

func TestCreateCashierValidation(t *testing.T) {
	ctx := context.Background()
	manager := NewAuthManager(testSecret, time.Hour, "7391", &userStoreStub{})

	cases := map[string]domain.CashierCreateRequest{
		"short username": {Username: "abc", Password: "long-enough-1"},
		"spaces":         {Username: "till one", Password: "long-enough-1"},
		"short password": {Username: "till-one", Password: "short"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := manager.CreateCashier(ctx, req)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}

	_, err := manager.CreateCashier(ctx, domain.CashierCreateRequest{Username: "till-one", Password: "long-enough-1"})
	require.NoError(t, err)
	_, err = manager.CreateCashier(ctx, domain.CashierCreateRequest{Username: "TILL-ONE", Password: "long-enough-2"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestEnsureUserSkipsEmptyPasswordAndExistingUsers(t *testing.T) {
	ctx := context.Background()
	store := &userStoreStub{}
	manager := NewAuthManager(testSecret, time.Hour, "7391", store)

	created, err := manager.EnsureUser(ctx, "admin", "", domain.RoleAdmin)
	require.NoError(t, err)
	assert.False(t, created)
	_, ok := store.find("admin")
	assert.False(t, ok, "no account may be created without a password")

	created, err = manager.EnsureUser(ctx, "admin", "first-password", domain.RoleAdmin)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = manager.EnsureUser(ctx, "admin", "second-password", domain.RoleAdmin)
	require.NoError(t, err)
	assert.False(t, created)

	_, err = manager.Login(ctx, domain.LoginRequest{Username: "admin", Password: "first-password"})
	require.NoError(t, err)

	_, err = manager.EnsureUser(ctx, "ghost", "whatever-pass", "owner")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestLoginRejectsInactiveAccount(t *testing.T) {
	ctx := context.Background()
	hashed, err := hashPassword("benched-pass-1")
	require.NoError(t, err)
	store := &userStoreStub{users: map[string]domain.UserAccount{
		"benched": {Username: "benched", Password: hashed, Role: domain.RoleCashier, Active: false},
	}}
	manager := NewAuthManager(testSecret, time.Hour, "7391", store)

	_, err = manager.Login(ctx, domain.LoginRequest{Username: "benched", Password: "benched-pass-1"})
	assert.True(t, errors.Is(err, errInactiveAccount))

	_, err = manager.Login(ctx, domain.LoginRequest{Username: "benched", Password: "wrong"})
	assert.True(t, errors.Is(err, errInvalidCredentials))
}

func TestTokenRoundTripAndExpiry(t *testing.T) {
	ctx := context.Background()
	manager := NewAuthManager(testSecret, time.Minute, "7391", &userStoreStub{})
	_, err := manager.EnsureUser(ctx, "sergeant", "ops-manager-1", domain.RoleManager)
	require.NoError(t, err)

	resp, err := manager.Login(ctx, domain.LoginRequest{Username: "sergeant", Password: "ops-manager-1"})
	require.NoError(t, err)

	actor, err := manager.ParseToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, domain.Actor{Username: "sergeant", Role: domain.RoleManager}, actor)

	other := NewAuthManager("another-secret-another-secret-xx", time.Minute, "7391", nil)
	_, err = other.ParseToken(resp.AccessToken)
	assert.Error(t, err, "token signed with a different secret must be rejected")

	manager.now = func() time.Time { return time.Now().UTC().Add(-2 * time.Hour) }
	stale, err := manager.Login(ctx, domain.LoginRequest{Username: "sergeant", Password: "ops-manager-1"})
	require.NoError(t, err)
	_, err = manager.ParseToken(stale.AccessToken)
	assert.Error(t, err)
}

func TestManagerPINIsHashedAndStillValidates(t *testing.T) {
	manager := NewAuthManager(testSecret, time.Hour, "654321", &userStoreStub{})

	assert.NotEqual(t, "654321", manager.managerPIN)
	assert.True(t, manager.ValidateManagerPIN("654321"))
	assert.True(t, manager.ValidateManagerPIN(" 654321 "))
	assert.False(t, manager.ValidateManagerPIN("111111"))
	assert.False(t, manager.ValidateManagerPIN(""))
}

func TestUnconfiguredManagerPINNeverValidates(t *testing.T) {
	manager := NewAuthManager(testSecret, time.Hour, "", nil)
	assert.False(t, manager.ValidateManagerPIN(""))
	assert.False(t, manager.ValidateManagerPIN("0000"))
}
