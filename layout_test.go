package flakeid

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayout(t *testing.T) {
	t.Run("should derive maxima from default layout", func(t *testing.T) {
		// Arrange
		var sut = DefaultLayout()

		// Act & Assert
		require.NoError(t, sut.Validate())
		assert.Equal(t, 1023, sut.MaxNodeID())
		assert.Equal(t, int64(4095), sut.MaxSequence())
		assert.Equal(t, int64(1<<41-1), sut.MaxTimestamp())
	})

	t.Run("should reject layouts that do not fit or leave a field empty", func(t *testing.T) {
		var invalid = []Layout{
			{TimestampBits: 42, NodeBits: 10, SequenceBits: 12},
			{TimestampBits: 41, NodeBits: 0, SequenceBits: 12},
			{TimestampBits: 0, NodeBits: 10, SequenceBits: 12},
			{TimestampBits: 41, NodeBits: 10, SequenceBits: -1},
		}

		for _, layout := range invalid {
			// Act
			var err = layout.Validate()

			// Assert
			assert.ErrorIs(t, err, ErrInvalidLayout, "layout %+v", layout)
		}
	})

	t.Run("should accept a narrower custom layout", func(t *testing.T) {
		// Arrange
		var sut = Layout{TimestampBits: 41, NodeBits: 3, SequenceBits: 4}

		// Act & Assert
		require.NoError(t, sut.Validate())
		assert.Equal(t, 7, sut.MaxNodeID())
		assert.Equal(t, int64(15), sut.MaxSequence())
	})

	t.Run("should place fields timestamp then node then sequence", func(t *testing.T) {
		// Arrange
		var sut = DefaultLayout()

		// Act
		var id = sut.Compose(1, 1, 1)

		// Assert
		assert.Equal(t, ID(1<<22|1<<12|1), id)
	})

	t.Run("should decompose what it composes", func(t *testing.T) {
		// Arrange
		var (
			sut       = DefaultLayout()
			timestamp = int64(123_456_789)
			nodeID    = 1023
			sequence  = int64(4095)
		)

		// Act
		var gotTimestamp, gotNode, gotSequence = sut.Decompose(sut.Compose(timestamp, nodeID, sequence))

		// Assert
		assert.Equal(t, timestamp, gotTimestamp)
		assert.Equal(t, nodeID, gotNode)
		assert.Equal(t, sequence, gotSequence)
	})

	t.Run("should keep the sign bit clear at the largest timestamp", func(t *testing.T) {
		// Arrange
		var sut = DefaultLayout()

		// Act
		var id = sut.Compose(sut.MaxTimestamp(), sut.MaxNodeID(), sut.MaxSequence())

		// Assert
		assert.Positive(t, int64(id))
	})

	t.Run("should recover mint time from the epoch", func(t *testing.T) {
		// Arrange
		var (
			sut    = DefaultLayout()
			minted = DefaultEpoch.Add(90 * time.Minute)
			id     = sut.Compose(minted.Sub(DefaultEpoch).Milliseconds(), 5, 0)
		)

		// Act
		var got = sut.Time(id, DefaultEpoch)

		// Assert
		assert.True(t, minted.Equal(got), "expected %s, got %s", minted, got)
	})

	t.Run("should use the documented default epoch", func(t *testing.T) {
		assert.Equal(t, int64(1705247483000), DefaultEpoch.UnixMilli())
	})
}
