// Package operationtest is a contract test shared by every operation.Repository backend
package operationtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openidx/hrsync/internal/operation"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// RepositoryTest exercises upsert, get, update, due and delete against an
// empty repository.
func RepositoryTest(t *testing.T, repo operation.Repository) {
	ctx := context.Background()

	t.Run("get missing", func(t *testing.T) {
		op, err := repo.Get(ctx, operation.Key{UserID: "nobody", Type: operation.Creation})
		require.NoError(t, err)
		assert.Nil(t, op)
	})

	t.Run("upsert replaces on key", func(t *testing.T) {
		first := operation.PendingOperation{
			UserID:        "C1@domain.com",
			Type:          operation.Creation,
			ScheduledDate: date(2024, 3, 1),
			FirstName:     "Foo",
			LastName:      "Bar",
			Email:         "fbar@domain.com",
		}
		require.NoError(t, repo.Upsert(ctx, first))
		require.NoError(t, repo.Upsert(ctx, first))

		second := first
		second.ScheduledDate = date(2024, 3, 4)
		second.Email = "foo.bar@domain.com"
		require.NoError(t, repo.Upsert(ctx, second))

		got, err := repo.Get(ctx, first.Key())
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, second, *got)

		due, err := repo.Due(ctx, operation.Creation, date(2030, 1, 1))
		require.NoError(t, err)
		assert.Len(t, due, 1)
	})

	t.Run("creation and deletion coexist", func(t *testing.T) {
		del := operation.PendingOperation{
			UserID:        "C1@domain.com",
			Type:          operation.Deletion,
			ScheduledDate: date(2024, 9, 30),
		}
		require.NoError(t, repo.Upsert(ctx, del))

		c, err := repo.Get(ctx, operation.Key{UserID: "C1@domain.com", Type: operation.Creation})
		require.NoError(t, err)
		d, err := repo.Get(ctx, operation.Key{UserID: "C1@domain.com", Type: operation.Deletion})
		require.NoError(t, err)
		require.NotNil(t, c)
		require.NotNil(t, d)
		assert.Equal(t, date(2024, 9, 30), d.ScheduledDate)
	})

	t.Run("update existing and missing", func(t *testing.T) {
		key := operation.Key{UserID: "C1@domain.com", Type: operation.Creation}
		found, err := repo.Update(ctx, key, func(op *operation.PendingOperation) {
			op.FirstName = "Foo2"
			op.ScheduledDate = date(2024, 3, 2)
		})
		require.NoError(t, err)
		assert.True(t, found)

		got, err := repo.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, "Foo2", got.FirstName)
		assert.Equal(t, "Bar", got.LastName)
		assert.Equal(t, date(2024, 3, 2), got.ScheduledDate)

		called := false
		found, err = repo.Update(ctx, operation.Key{UserID: "C9@domain.com", Type: operation.Creation},
			func(op *operation.PendingOperation) { called = true })
		require.NoError(t, err)
		assert.False(t, found)
		assert.False(t, called)

		missing, err := repo.Get(ctx, operation.Key{UserID: "C9@domain.com", Type: operation.Creation})
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run("due boundaries", func(t *testing.T) {
		for i, d := range []time.Time{date(2024, 5, 9), date(2024, 5, 10), date(2024, 5, 11), date(2024, 5, 12)} {
			require.NoError(t, repo.Upsert(ctx, operation.PendingOperation{
				UserID:        "D" + string(rune('0'+i)),
				Type:          operation.Deletion,
				ScheduledDate: d,
			}))
		}

		due, err := repo.Due(ctx, operation.Deletion, date(2024, 5, 10))
		require.NoError(t, err)
		var ids []string
		for _, op := range due {
			ids = append(ids, op.UserID)
		}
		assert.Equal(t, []string{"D0", "D1"}, ids)

		// a cutoff carrying a time of day still compares by calendar date
		due, err = repo.Due(ctx, operation.Deletion, time.Date(2024, 5, 11, 23, 59, 0, 0, time.UTC))
		require.NoError(t, err)
		assert.Len(t, due, 3)

		none, err := repo.Due(ctx, operation.Creation, date(2000, 1, 1))
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("delete by keys", func(t *testing.T) {
		n, err := repo.Delete(ctx,
			operation.Key{UserID: "D0", Type: operation.Deletion},
			operation.Key{UserID: "D1", Type: operation.Deletion},
			operation.Key{UserID: "D1", Type: operation.Creation},
		)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		due, err := repo.Due(ctx, operation.Deletion, date(2024, 5, 12))
		require.NoError(t, err)
		assert.Len(t, due, 2)

		n, err = repo.Delete(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}
