package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"masar/queue-service/internal/clock"
	"masar/queue-service/internal/models"
	"masar/queue-service/internal/store"
)

var testNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func fixedClock(now time.Time) *clock.Clock {
	return &clock.Clock{Location: time.UTC, Now: func() time.Time { return now }}
}

func hash(t *testing.T, password string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func testData(t *testing.T) *store.Data {
	t.Helper()
	fixed := 2
	return &store.Data{
		Counters: []models.Counter{
			{ID: 1, Name: "C1", IsActive: true, PriorityOrder: 1},
			{ID: 2, Name: "C2", IsActive: true, PriorityOrder: 2},
			{ID: 3, Name: "C3", IsActive: false, PriorityOrder: 3},
		},
		Users: []models.User{
			{ID: 1, Username: "emp01", PasswordHash: hash(t, "1234"), Role: models.RoleCounter, IsActive: true},
			{ID: 2, Username: "emp02", PasswordHash: hash(t, "1234"), Role: models.RoleCounter, IsActive: true, FixedCounterID: &fixed},
			{ID: 3, Username: "boss", PasswordHash: hash(t, "admin123"), Role: models.RoleAdmin, IsActive: true},
		},
	}
}

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(store.NewMemory(testData(t)), fixedClock(testNow))
}

func TestLoginReservesLowestPriorityCounter(t *testing.T) {
	r := newRegistry(t)

	sess, user, err := r.Login("emp01", "1234")
	require.NoError(t, err)
	assert.Equal(t, 1, user.ID)
	require.NotNil(t, sess.CounterID)
	assert.Equal(t, 1, *sess.CounterID)
	assert.NotEmpty(t, sess.Token)
}

func TestLoginPrefersFixedCounter(t *testing.T) {
	r := newRegistry(t)

	sess, _, err := r.Login("emp02", "1234")
	require.NoError(t, err)
	require.NotNil(t, sess.CounterID)
	assert.Equal(t, 2, *sess.CounterID)
}

func TestLoginStandbyWhenNoCounterFree(t *testing.T) {
	data := testData(t)
	data.Counters = data.Counters[:1]
	r := NewRegistry(store.NewMemory(data), fixedClock(testNow))

	first, _, err := r.Login("emp01", "1234")
	require.NoError(t, err)
	require.NotNil(t, first.CounterID)

	second, _, err := r.Login("emp02", "1234")
	require.NoError(t, err)
	assert.Nil(t, second.CounterID)
}

func TestLoginRejectsWrongPasswordAndRole(t *testing.T) {
	r := newRegistry(t)

	_, _, err := r.Login("emp01", "wrong")
	assert.ErrorIs(t, err, store.ErrInvalidCredentials)

	_, _, err = r.Login("boss", "admin123")
	assert.ErrorIs(t, err, store.ErrInvalidCredentials)

	_, _, err = r.AdminLogin("boss", "admin123")
	assert.NoError(t, err)

	_, _, err = r.AdminLogin("emp01", "1234")
	assert.ErrorIs(t, err, store.ErrInvalidCredentials)
}

func TestReloginEndsPriorSessionAndFreesCounter(t *testing.T) {
	r := newRegistry(t)

	first, _, err := r.Login("emp01", "1234")
	require.NoError(t, err)
	require.NotNil(t, first.CounterID)
	assert.Equal(t, 1, *first.CounterID)

	second, _, err := r.Login("emp01", "1234")
	require.NoError(t, err)
	require.NotNil(t, second.CounterID)
	assert.Equal(t, 1, *second.CounterID)

	_, _, err = r.Authenticate(first.Token)
	assert.ErrorIs(t, err, store.ErrSessionInvalid)
}

func TestStaleHeartbeatReleasesCounter(t *testing.T) {
	now := testNow
	ck := &clock.Clock{Location: time.UTC, Now: func() time.Time { return now }}
	r := NewRegistry(store.NewMemory(testData(t)), ck)

	sess, _, err := r.Login("emp01", "1234")
	require.NoError(t, err)
	require.NotNil(t, sess.CounterID)

	now = now.Add(HeartbeatTimeout + time.Second)
	r.Store.View(func(d *store.Data) {
		assert.Nil(t, ForCounter(d, *sess.CounterID, ck.Now()))
		assert.Empty(t, LiveSessions(d, ck.Now()))
	})

	require.NoError(t, r.Heartbeat(sess.Token))
	r.Store.View(func(d *store.Data) {
		assert.NotNil(t, ForCounter(d, *sess.CounterID, ck.Now()))
	})
}

func TestLogout(t *testing.T) {
	r := newRegistry(t)

	sess, _, err := r.Login("emp01", "1234")
	require.NoError(t, err)
	require.NoError(t, r.Logout(sess.Token))

	assert.ErrorIs(t, r.Logout(sess.Token), store.ErrSessionInvalid)
	_, _, err = r.Authenticate(sess.Token)
	assert.ErrorIs(t, err, store.ErrSessionInvalid)
}

func TestAfterLoginHookRunsInSameUpdate(t *testing.T) {
	r := newRegistry(t)
	ran := false
	r.AfterLogin = func(d *store.Data) { ran = true }

	_, _, err := r.Login("emp01", "1234")
	require.NoError(t, err)
	assert.True(t, ran)
}
