package accounts

import (
	"context"
	"testing"
	"time"

	"attendbot-backend/lib/testutil"
	"attendbot-backend/services/accounts/db"

	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) (Store, context.Context) {
	setup, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name:     "services/accounts",
		DbSchema: db.Schema,
	})
	t.Cleanup(cleanup)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	t.Cleanup(cancel)

	return NewStore(setup.DB), ctx
}

func TestUpsert(t *testing.T) {
	store, ctx := setupStore(t)

	err := store.Upsert(ctx, User{
		CollegeID:     "0221001@niet.co.in",
		EncryptedPass: "sealed-1",
		TargetEmail:   "a@example.com",
	})
	require.NoError(t, err)

	user, err := store.Get(ctx, "0221001@niet.co.in")
	require.NoError(t, err)
	require.True(t, user.Active)
	require.Equal(t, 0, user.FailCount)

	// strike twice, then re-register: the counter must reset and the
	// account come back
	_, _, err = store.RecordFailure(ctx, user.CollegeID)
	require.NoError(t, err)
	_, _, err = store.RecordFailure(ctx, user.CollegeID)
	require.NoError(t, err)

	err = store.Upsert(ctx, User{
		CollegeID:     "0221001@niet.co.in",
		EncryptedPass: "sealed-2",
		TargetEmail:   "b@example.com",
	})
	require.NoError(t, err)

	user, err = store.Get(ctx, "0221001@niet.co.in")
	require.NoError(t, err)
	require.True(t, user.Active)
	require.Equal(t, 0, user.FailCount)
	require.Equal(t, "sealed-2", user.EncryptedPass)
	require.Equal(t, "b@example.com", user.TargetEmail)
}

func TestStrikesPolicy(t *testing.T) {
	store, ctx := setupStore(t)

	err := store.Upsert(ctx, User{
		CollegeID:     "0221002@niet.co.in",
		EncryptedPass: "sealed",
		TargetEmail:   "c@example.com",
	})
	require.NoError(t, err)

	// exactly three failures flip the account, not two
	count, deactivated, err := store.RecordFailure(ctx, "0221002@niet.co.in")
	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.False(t, deactivated)

	count, deactivated, err = store.RecordFailure(ctx, "0221002@niet.co.in")
	require.NoError(t, err)
	require.Equal(t, 2, count)
	require.False(t, deactivated)

	count, deactivated, err = store.RecordFailure(ctx, "0221002@niet.co.in")
	require.NoError(t, err)
	require.Equal(t, 3, count)
	require.True(t, deactivated)

	user, err := store.Get(ctx, "0221002@niet.co.in")
	require.NoError(t, err)
	require.False(t, user.Active)

	active, err := store.ListActive(ctx)
	require.NoError(t, err)
	require.Empty(t, active)

	// a fourth failure must not report a second deactivation
	_, deactivated, err = store.RecordFailure(ctx, "0221002@niet.co.in")
	require.NoError(t, err)
	require.False(t, deactivated)
}

func TestFailureThenSuccessResets(t *testing.T) {
	store, ctx := setupStore(t)

	err := store.Upsert(ctx, User{
		CollegeID:     "0221003@niet.co.in",
		EncryptedPass: "sealed",
		TargetEmail:   "d@example.com",
	})
	require.NoError(t, err)

	_, _, err = store.RecordFailure(ctx, "0221003@niet.co.in")
	require.NoError(t, err)
	_, _, err = store.RecordFailure(ctx, "0221003@niet.co.in")
	require.NoError(t, err)

	err = store.RecordSuccess(ctx, "0221003@niet.co.in")
	require.NoError(t, err)

	user, err := store.Get(ctx, "0221003@niet.co.in")
	require.NoError(t, err)
	require.Equal(t, 0, user.FailCount)
	require.True(t, user.Active)
}

func TestListActiveOrdering(t *testing.T) {
	store, ctx := setupStore(t)

	for _, id := range []string{"c@niet.co.in", "a@niet.co.in", "b@niet.co.in"} {
		err := store.Upsert(ctx, User{CollegeID: id, EncryptedPass: "x", TargetEmail: id})
		require.NoError(t, err)
	}

	users, err := store.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, users, 3)
	require.Equal(t, "a@niet.co.in", users[0].CollegeID)
	require.Equal(t, "b@niet.co.in", users[1].CollegeID)
	require.Equal(t, "c@niet.co.in", users[2].CollegeID)

	_, err = store.Get(ctx, "missing@niet.co.in")
	require.ErrorIs(t, err, ErrNotFound)
}
