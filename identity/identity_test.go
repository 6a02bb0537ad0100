package identity

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/converge-vcs/converge/repo"
)

func TestBootstrapMintsAdminOnce(t *testing.T) {
	s, err := Load(t.TempDir(), "super-secret")
	require.NoError(t, err)

	user, secret, err := s.Bootstrap("super-secret", "alice", "Alice")
	require.NoError(t, err)
	require.True(t, user.Admin)
	require.NotEmpty(t, secret)

	subject, err := s.Authenticate(secret)
	require.NoError(t, err)
	require.Equal(t, "alice", subject.Handle)
	require.True(t, subject.Admin)

	// Second bootstrap is a conflict even with the right token.
	_, _, err = s.Bootstrap("super-secret", "mallory", "")
	require.Error(t, err)
}

func TestBootstrapRejectsWrongToken(t *testing.T) {
	s, err := Load(t.TempDir(), "super-secret")
	require.NoError(t, err)

	_, _, err = s.Bootstrap("guess", "alice", "")
	require.Error(t, err)
}

func TestBootstrapDisabledWithoutToken(t *testing.T) {
	s, err := Load(t.TempDir(), "")
	require.NoError(t, err)

	_, _, err = s.Bootstrap("", "alice", "")
	require.Error(t, err)
}

func TestTokenLifecycle(t *testing.T) {
	dir := t.TempDir()
	s, err := Load(dir, "boot")
	require.NoError(t, err)
	admin, _, err := s.Bootstrap("boot", "alice", "")
	require.NoError(t, err)

	tok, secret, err := s.MintToken(admin.ID, "laptop")
	require.NoError(t, err)
	require.Equal(t, admin.ID, tok.UserID)

	subject, err := s.Authenticate(secret)
	require.NoError(t, err)
	require.Equal(t, admin.ID, subject.UserID)

	require.NoError(t, s.RevokeToken(tok.ID, repo.Subject{UserID: admin.ID, Admin: true}))
	_, err = s.Authenticate(secret)
	require.Error(t, err)

	// Reload from disk: revocation survives.
	s2, err := Load(dir, "")
	require.NoError(t, err)
	_, err = s2.Authenticate(secret)
	require.Error(t, err)
}

func TestRevokeOtherUsersTokenForbidden(t *testing.T) {
	s, err := Load(t.TempDir(), "boot")
	require.NoError(t, err)
	admin, _, err := s.Bootstrap("boot", "alice", "")
	require.NoError(t, err)

	bob, err := s.CreateUser("bob", "")
	require.NoError(t, err)
	tok, _, err := s.MintToken(admin.ID, "")
	require.NoError(t, err)

	err = s.RevokeToken(tok.ID, repo.Subject{UserID: bob.ID})
	require.Error(t, err)
}

func TestCreateUserDuplicateHandle(t *testing.T) {
	s, err := Load(t.TempDir(), "")
	require.NoError(t, err)

	_, err = s.CreateUser("bob", "")
	require.NoError(t, err)
	_, err = s.CreateUser("bob", "")
	require.Error(t, err)
}

func TestSeedDevIdentityIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	s, err := Load(dir, "")
	require.NoError(t, err)

	require.NoError(t, s.SeedDevIdentity("dev", "dev-token"))
	subject, err := s.Authenticate("dev-token")
	require.NoError(t, err)
	require.Equal(t, "dev", subject.Handle)

	// A second seed against a populated store changes nothing.
	require.NoError(t, s.SeedDevIdentity("other", "other-token"))
	_, err = s.Authenticate("other-token")
	require.Error(t, err)
}
