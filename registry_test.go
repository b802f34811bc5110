package flakeid

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateRegistryID(t *testing.T) {
	t.Run("should accept postgres safe identifiers", func(t *testing.T) {
		for _, id := range []string{"orders", "a", "svc_ids_2", strings.Repeat("a", maxRegistryIDLength)} {
			assert.NoError(t, ValidateRegistryID(id), "registryID %q", id)
		}
	})

	t.Run("should reject unsafe identifiers", func(t *testing.T) {
		for _, id := range []string{"Orders", "1orders", "_orders", "orders-ids", "orders; DROP TABLE x", "ids.instances"} {
			assert.ErrorIs(t, ValidateRegistryID(id), ErrInvalidRegistryID, "registryID %q", id)
		}
	})

	t.Run("should reject empty and overlong identifiers", func(t *testing.T) {
		assert.Error(t, ValidateRegistryID(""))
		assert.Error(t, ValidateRegistryID(strings.Repeat("a", maxRegistryIDLength+1)))
	})
}
