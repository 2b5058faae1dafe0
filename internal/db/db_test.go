package db

import (
	"context"
	"errors"
	"testing"

	"github.com/geocoder89/userauth/internal/domain/user"
	"github.com/geocoder89/userauth/internal/repo/memory"
	"github.com/geocoder89/userauth/internal/security"
	"github.com/golang-migrate/migrate/v4"
	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockMigrate struct {
	upErr      error
	downErr    error
	versionVal uint
	dirty      bool
	versionErr error
	srcErr     error
	dbErr      error
}

func (m *mockMigrate) Up() error                    { return m.upErr }
func (m *mockMigrate) Down() error                  { return m.downErr }
func (m *mockMigrate) Version() (uint, bool, error) { return m.versionVal, m.dirty, m.versionErr }
func (m *mockMigrate) Close() (error, error)        { return m.srcErr, m.dbErr }

func errorCode(t *testing.T, err error) string {
	t.Helper()
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok, "expected an oops error, got %T", err)
	code, _ := oopsErr.Code().(string)
	return code
}

func TestMigrator_NoChangeIsSuccess(t *testing.T) {
	m := &Migrator{m: &mockMigrate{upErr: migrate.ErrNoChange, downErr: migrate.ErrNoChange}}

	require.NoError(t, m.Up())
	require.NoError(t, m.Down())
}

func TestMigrator_WrapsFailures(t *testing.T) {
	boom := errors.New("boom")
	m := &Migrator{m: &mockMigrate{upErr: boom, downErr: boom, versionErr: boom, srcErr: boom}}

	err := m.Up()
	require.ErrorIs(t, err, boom)
	assert.Equal(t, "MIGRATION_UP_FAILED", errorCode(t, err))

	err = m.Down()
	assert.Equal(t, "MIGRATION_DOWN_FAILED", errorCode(t, err))

	_, _, err = m.Version()
	assert.Equal(t, "MIGRATION_VERSION_FAILED", errorCode(t, err))

	err = m.Close()
	assert.Equal(t, "MIGRATION_CLOSE_FAILED", errorCode(t, err))
}

func TestMigrator_VersionBeforeFirstMigration(t *testing.T) {
	m := &Migrator{m: &mockMigrate{versionErr: migrate.ErrNilVersion}}

	v, dirty, err := m.Version()
	require.NoError(t, err)
	assert.Zero(t, v)
	assert.False(t, dirty)
}

func TestMigrateURL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@h:5432/d", migrateURL("postgres://u:p@h:5432/d"))
	assert.Equal(t, "pgx5://u:p@h:5432/d", migrateURL("postgresql://u:p@h:5432/d"))
	assert.Equal(t, "pgx5://h/d", migrateURL("pgx5://h/d"))
}

func TestNewMigrator_BadScheme(t *testing.T) {
	_, err := NewMigrator("badscheme://localhost:5432/testdb")
	require.Error(t, err)
	assert.Equal(t, "MIGRATION_INIT_FAILED", errorCode(t, err))
}

func TestMigrationsEmbedded(t *testing.T) {
	up, err := migrationsFS.ReadFile("migrations/000001_create_users.up.sql")
	require.NoError(t, err)
	assert.Contains(t, string(up), "users_email_lower_uniq")

	_, err = migrationsFS.ReadFile("migrations/000001_create_users.down.sql")
	require.NoError(t, err)
}

func TestEnsureAdminUser(t *testing.T) {
	ctx := context.Background()
	store := memory.NewUsersRepo()

	require.NoError(t, EnsureAdminUser(ctx, store, AdminSeed{}))

	seed := AdminSeed{Email: "Root@Example.com", Password: "hunter22", Name: "Root"}
	require.NoError(t, EnsureAdminUser(ctx, store, seed))

	admin, err := store.GetByEmail(ctx, "root@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.RoleAdmin, admin.Role)
	assert.True(t, admin.IsVerified)
	assert.NoError(t, security.CheckPassword(admin.PasswordHash, "hunter22"))

	// second run leaves the existing account alone
	require.NoError(t, EnsureAdminUser(ctx, store, AdminSeed{Email: seed.Email, Password: "different1", Name: "Root"}))
	again, err := store.GetByEmail(ctx, "root@example.com")
	require.NoError(t, err)
	assert.Equal(t, admin.ID, again.ID)
	assert.Equal(t, admin.PasswordHash, again.PasswordHash)
}
