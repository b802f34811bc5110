package flakeid

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	clocktesting "k8s.io/utils/clock/testing"
)

func TestHeartbeater(t *testing.T) {
	var (
		now       = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
		tolerance = 30 * time.Second
		claimed   = &Instance{NodeID: 4, Owner: "owner-a"}
		newSut    = func(db *sql.DB) *heartbeater {
			var options = defaultOptions()
			options.clock = clocktesting.NewFakeClock(now)
			return newHeartbeater(newNodeRegistry(db, testRegistryID), claimed, options)
		}
		touchSQL = `UPDATE test_registry_instances SET last_heartbeat = \$3, updated_at = \$3 WHERE node_id = \$1 AND owner = \$2 AND last_heartbeat > \$4`
	)

	t.Run("should refresh a record it still holds", func(t *testing.T) {
		// Arrange
		var (
			db, mock = newMockDB(t)
			sut      = newSut(db)
		)
		mock.ExpectExec(touchSQL).
			WithArgs(4, "owner-a", now, now.Add(-tolerance)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		// Act
		var err = sut.Beat(context.Background())

		// Assert
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("should report a lost claim when no row matches", func(t *testing.T) {
		// Arrange
		var (
			db, mock = newMockDB(t)
			sut      = newSut(db)
		)
		mock.ExpectExec(touchSQL).
			WithArgs(4, "owner-a", now, now.Add(-tolerance)).
			WillReturnResult(sqlmock.NewResult(0, 0))

		// Act
		var err = sut.Beat(context.Background())

		// Assert
		assert.ErrorIs(t, err, ErrHeartbeatLost)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("should treat a storage error as a lost claim", func(t *testing.T) {
		// Arrange
		var (
			db, mock = newMockDB(t)
			sut      = newSut(db)
			dbErr    = errors.New("connection reset")
		)
		mock.ExpectExec(touchSQL).WillReturnError(dbErr)

		// Act
		var err = sut.Beat(context.Background())

		// Assert
		assert.ErrorIs(t, err, ErrHeartbeatLost)
		assert.ErrorIs(t, err, dbErr)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
