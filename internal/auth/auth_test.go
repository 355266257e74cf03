package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	s := New(t.TempDir(), time.Hour)
	require.NoError(t, s.Bootstrap("admin", "secret123", "Admin"))
	return s
}

func TestBootstrapIsIdempotent(t *testing.T) {
	s := newTestService(t)

	// A second bootstrap must not replace the existing admin.
	require.NoError(t, s.Bootstrap("other", "hunter22", "Other"))

	_, err := s.Login("other", "hunter22")
	assert.ErrorIs(t, err, ErrBadCredentials)

	sess, err := s.Login("admin", "secret123")
	require.NoError(t, err)
	assert.True(t, sess.IsAdmin)
}

func TestLoginAndLookup(t *testing.T) {
	s := newTestService(t)

	sess, err := s.Login("admin", "secret123")
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, "Admin", sess.FullName)

	got, ok := s.Lookup(sess.ID)
	require.True(t, ok)
	assert.Equal(t, "admin", got.Username)

	s.Logout(sess.ID)
	_, ok = s.Lookup(sess.ID)
	assert.False(t, ok)
}

func TestLoginBadCredentials(t *testing.T) {
	s := newTestService(t)

	_, err := s.Login("admin", "wrong")
	assert.ErrorIs(t, err, ErrBadCredentials)

	_, err = s.Login("nobody", "secret123")
	assert.ErrorIs(t, err, ErrBadCredentials)
}

func TestSessionExpiry(t *testing.T) {
	s := New(t.TempDir(), time.Nanosecond)
	require.NoError(t, s.Bootstrap("admin", "secret123", "Admin"))

	sess, err := s.Login("admin", "secret123")
	require.NoError(t, err)

	time.Sleep(time.Millisecond)
	_, ok := s.Lookup(sess.ID)
	assert.False(t, ok)
}

func TestAddUser(t *testing.T) {
	s := newTestService(t)

	require.NoError(t, s.AddUser("alice", "hunter22", "Alice", false, "admin"))

	sess, err := s.Login("alice", "hunter22")
	require.NoError(t, err)
	assert.False(t, sess.IsAdmin)

	users, err := s.ListUsers()
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "admin", users[0].Username)
	assert.Equal(t, "alice", users[1].Username)
}

func TestAddUserValidation(t *testing.T) {
	s := newTestService(t)

	assert.ErrorIs(t, s.AddUser("ab", "hunter22", "", false, "admin"), ErrInvalidUsername)
	assert.ErrorIs(t, s.AddUser("bad name!", "hunter22", "", false, "admin"), ErrInvalidUsername)
	assert.ErrorIs(t, s.AddUser("alice", "short", "", false, "admin"), ErrWeakPassword)
	assert.ErrorIs(t, s.AddUser("admin", "hunter22", "", false, "admin"), ErrUserExists)
}

func TestDeleteUser(t *testing.T) {
	s := newTestService(t)
	require.NoError(t, s.AddUser("alice", "hunter22", "Alice", false, "admin"))

	// Deleting invalidates the victim's live sessions.
	sess, err := s.Login("alice", "hunter22")
	require.NoError(t, err)

	require.NoError(t, s.DeleteUser("alice", "admin"))
	_, ok := s.Lookup(sess.ID)
	assert.False(t, ok)

	assert.ErrorIs(t, s.DeleteUser("alice", "admin"), ErrUserNotFound)
}

func TestDeleteUserGuards(t *testing.T) {
	s := newTestService(t)

	assert.ErrorIs(t, s.DeleteUser("admin", "admin"), ErrSelfDelete)

	// admin is the only admin, so another admin could not remove it either.
	require.NoError(t, s.AddUser("alice", "hunter22", "Alice", true, "admin"))
	require.NoError(t, s.AddUser("bob", "hunter22", "Bob", false, "admin"))
	require.NoError(t, s.DeleteUser("admin", "alice"))
	assert.ErrorIs(t, s.DeleteUser("alice", "bob"), ErrLastAdminRemoval)
}

func TestChangePasswordSelf(t *testing.T) {
	s := newTestService(t)
	require.NoError(t, s.AddUser("alice", "hunter22", "Alice", false, "admin"))

	alice, err := s.Login("alice", "hunter22")
	require.NoError(t, err)

	assert.ErrorIs(t, s.ChangePassword(alice, "", "wrong", "newsecret"), ErrWrongPassword)
	assert.ErrorIs(t, s.ChangePassword(alice, "", "hunter22", "tiny"), ErrWeakPassword)
	assert.ErrorIs(t, s.ChangePassword(alice, "admin", "", "newsecret"), ErrNotOwnPassword)

	require.NoError(t, s.ChangePassword(alice, "", "hunter22", "newsecret"))
	_, err = s.Login("alice", "newsecret")
	assert.NoError(t, err)
}

func TestChangePasswordAdmin(t *testing.T) {
	s := newTestService(t)
	require.NoError(t, s.AddUser("alice", "hunter22", "Alice", false, "admin"))

	admin, err := s.Login("admin", "secret123")
	require.NoError(t, err)

	// Admins reset anyone's password without knowing the current one.
	require.NoError(t, s.ChangePassword(admin, "alice", "", "resetpass"))
	_, err = s.Login("alice", "resetpass")
	assert.NoError(t, err)
}

func TestGeneratePassword(t *testing.T) {
	a, err := GeneratePassword()
	require.NoError(t, err)
	b, err := GeneratePassword()
	require.NoError(t, err)

	assert.Len(t, a, 12)
	assert.NotEqual(t, a, b)
}
