package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueries(t *testing.T) {
	var (
		newDb = func(t *testing.T) *Queries {
			var db = SetupTestDatabase(t)
			err := Migrate(db, "test_flakeid")
			require.NoError(t, err)
			return NewQueries(db, "test_flakeid")
		}
		newCtx = func() context.Context {
			return context.Background()
		}
		newInstance = func(nodeID int, owner string, lastHeartbeat time.Time) *InstanceRecord {
			return &InstanceRecord{
				NodeID:        nodeID,
				Owner:         owner,
				LastHeartbeat: lastHeartbeat,
				CreatedAt:     lastHeartbeat,
				UpdatedAt:     lastHeartbeat,
			}
		}
	)

	t.Run("should insert and get instance", func(t *testing.T) {
		// Arrange
		var (
			sut      = newDb(t)
			ctx      = newCtx()
			instance = newInstance(3, "owner-1", time.Now())
		)

		// Act
		err := sut.InsertInstance(ctx, instance)
		require.NoError(t, err)

		var retrieved, getErr = sut.GetInstance(ctx, 3)

		// Assert
		require.NoError(t, getErr)
		require.NotNil(t, retrieved)
		assert.Equal(t, 3, retrieved.NodeID)
		assert.Equal(t, "owner-1", retrieved.Owner)
		assert.WithinDuration(t, instance.LastHeartbeat, retrieved.LastHeartbeat, time.Second)
	})

	t.Run("should return nil for non-existent instance", func(t *testing.T) {
		// Arrange
		var (
			sut = newDb(t)
			ctx = newCtx()
		)

		// Act
		var retrieved, err = sut.GetInstance(ctx, 999)

		// Assert
		require.NoError(t, err)
		assert.Nil(t, retrieved)
	})

	t.Run("should reject duplicate node id on insert", func(t *testing.T) {
		// Arrange
		var (
			sut = newDb(t)
			ctx = newCtx()
		)
		require.NoError(t, sut.InsertInstance(ctx, newInstance(0, "owner-1", time.Now())))

		// Act
		err := sut.InsertInstance(ctx, newInstance(0, "owner-2", time.Now()))

		// Assert
		assert.Error(t, err)
	})

	t.Run("should list instances ordered by node id", func(t *testing.T) {
		// Arrange
		var (
			sut       = newDb(t)
			ctx       = newCtx()
			instances = []*InstanceRecord{
				newInstance(5, "owner-5", time.Now()),
				newInstance(1, "owner-1", time.Now()),
				newInstance(9, "owner-9", time.Now()),
			}
		)

		// Act - insert out of order
		for _, instance := range instances {
			err := sut.InsertInstance(ctx, instance)
			require.NoError(t, err)
		}

		var retrieved, listErr = sut.ListInstances(ctx)

		// Assert
		require.NoError(t, listErr)
		require.Len(t, retrieved, 3)
		assert.Equal(t, 1, retrieved[0].NodeID)
		assert.Equal(t, 5, retrieved[1].NodeID)
		assert.Equal(t, 9, retrieved[2].NodeID)
	})

	t.Run("should reassign instance and preserve created_at", func(t *testing.T) {
		// Arrange
		var (
			sut      = newDb(t)
			ctx      = newCtx()
			created  = time.Now().Add(-time.Hour)
			instance = newInstance(2, "owner-old", created)
			now      = time.Now()
		)
		require.NoError(t, sut.InsertInstance(ctx, instance))

		// Act
		err := sut.ReassignInstance(ctx, 2, "owner-new", now)
		require.NoError(t, err)

		var retrieved, getErr = sut.GetInstance(ctx, 2)

		// Assert
		require.NoError(t, getErr)
		require.NotNil(t, retrieved)
		assert.Equal(t, "owner-new", retrieved.Owner)
		assert.WithinDuration(t, created, retrieved.CreatedAt, time.Second)
		assert.WithinDuration(t, now, retrieved.LastHeartbeat, time.Second)
		assert.WithinDuration(t, now, retrieved.UpdatedAt, time.Second)
	})

	t.Run("should fail to reassign missing instance", func(t *testing.T) {
		// Arrange
		var (
			sut = newDb(t)
			ctx = newCtx()
		)

		// Act
		err := sut.ReassignInstance(ctx, 7, "owner", time.Now())

		// Assert
		assert.Error(t, err)
	})

	t.Run("should touch heartbeat only for owner and fresh record", func(t *testing.T) {
		// Arrange
		var (
			sut         = newDb(t)
			ctx         = newCtx()
			now         = time.Now()
			staleBefore = now.Add(-30 * time.Second)
		)
		require.NoError(t, sut.InsertInstance(ctx, newInstance(0, "fresh", now.Add(-2*time.Second))))
		require.NoError(t, sut.InsertInstance(ctx, newInstance(1, "stale", now.Add(-time.Minute))))

		// Act
		freshOK, err1 := sut.TouchHeartbeat(ctx, 0, "fresh", now, staleBefore)
		wrongOwnerOK, err2 := sut.TouchHeartbeat(ctx, 0, "intruder", now, staleBefore)
		staleOK, err3 := sut.TouchHeartbeat(ctx, 1, "stale", now, staleBefore)
		missingOK, err4 := sut.TouchHeartbeat(ctx, 42, "fresh", now, staleBefore)

		// Assert
		require.NoError(t, err1)
		require.NoError(t, err2)
		require.NoError(t, err3)
		require.NoError(t, err4)
		assert.True(t, freshOK)
		assert.False(t, wrongOwnerOK, "a different owner must not refresh the record")
		assert.False(t, staleOK, "a stale record must not be revived")
		assert.False(t, missingOK)
	})

	t.Run("should delete stale instances and return their node ids", func(t *testing.T) {
		// Arrange
		var (
			sut = newDb(t)
			ctx = newCtx()
			now = time.Now()
		)
		require.NoError(t, sut.InsertInstance(ctx, newInstance(0, "fresh", now.Add(-2*time.Second))))
		require.NoError(t, sut.InsertInstance(ctx, newInstance(1, "stale", now.Add(-300*time.Second))))

		// Act
		freed, err := sut.DeleteStaleInstances(ctx, now.Add(-30*time.Second))
		require.NoError(t, err)

		var remaining, listErr = sut.ListInstances(ctx)

		// Assert
		require.NoError(t, listErr)
		assert.Equal(t, []int{1}, freed)
		require.Len(t, remaining, 1)
		assert.Equal(t, 0, remaining[0].NodeID)
	})

	t.Run("should delete instance only for its owner", func(t *testing.T) {
		// Arrange
		var (
			sut = newDb(t)
			ctx = newCtx()
		)
		require.NoError(t, sut.InsertInstance(ctx, newInstance(4, "owner", time.Now())))

		// Act
		require.NoError(t, sut.DeleteInstance(ctx, 4, "someone-else"))
		var afterWrongOwner, _ = sut.GetInstance(ctx, 4)

		require.NoError(t, sut.DeleteInstance(ctx, 4, "owner"))
		var afterOwner, _ = sut.GetInstance(ctx, 4)

		// Assert
		assert.NotNil(t, afterWrongOwner)
		assert.Nil(t, afterOwner)
	})

	t.Run("should list instances for update inside a locked transaction", func(t *testing.T) {
		// Arrange
		var (
			db  = SetupTestDatabase(t)
			ctx = newCtx()
		)
		require.NoError(t, Migrate(db, "test_flakeid"))
		require.NoError(t, NewQueries(db, "test_flakeid").InsertInstance(ctx, newInstance(0, "owner", time.Now())))

		tx, err := db.BeginTx(ctx, nil)
		require.NoError(t, err)
		defer tx.Rollback()

		var sut = NewQueries(db, "test_flakeid").WithTx(tx)

		// Act
		lockErr := sut.LockInstances(ctx)
		var retrieved, listErr = sut.ListInstancesForUpdate(ctx)

		// Assert
		require.NoError(t, lockErr)
		require.NoError(t, listErr)
		require.Len(t, retrieved, 1)
		assert.Equal(t, 0, retrieved[0].NodeID)
	})
}
