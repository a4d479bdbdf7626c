package catalog

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestCatalog(t *testing.T) {
	c, err := Open(t.TempDir(), nil)
	require.NoError(t, err)
	defer c.Close()
	metadata := map[string]string{"storageBasePath": "null"}

	first := c.NewRecord("a/b/persistent/c", 7, uuid.New(), "filesystem", metadata)
	first.State = StateComplete
	second := c.NewRecord("a/b/persistent/c", 7, uuid.New(), "filesystem", metadata)
	second.State = StateComplete
	failed := c.NewRecord("a/b/persistent/c", 7, uuid.New(), "filesystem", metadata)
	failed.State = StateFailed
	other := c.NewRecord("a/b/persistent/d", 70, uuid.New(), "filesystem", metadata)

	for _, r := range []Record{first, second, failed, other} {
		require.NoError(t, c.Put(r))
	}

	t.Run("should issue increasing record ids", func(t *testing.T) {
		require.True(t, first.ID < second.ID)
		require.True(t, second.ID < failed.ID)
	})
	t.Run("should get records", func(t *testing.T) {
		r, err := c.Get(first.ManagedLedgerName, 7, first.UUID)
		require.NoError(t, err)
		require.Equal(t, first.ID, r.ID)
		require.Equal(t, StateComplete, r.State)
		require.Equal(t, metadata, r.DriverMetadata)
		_, err = c.Get(first.ManagedLedgerName, 7, uuid.New())
		require.Equal(t, ErrRecordNotFound, err)
	})
	t.Run("should return the latest complete attempt", func(t *testing.T) {
		r, err := c.Latest("a/b/persistent/c", 7)
		require.NoError(t, err)
		require.Equal(t, second.UUID, r.UUID)
		_, err = c.Latest("a/b/persistent/c", 8)
		require.Equal(t, ErrRecordNotFound, err)
		_, err = c.Latest("a/b/persistent/d", 70)
		require.Equal(t, ErrRecordNotFound, err)
	})
	t.Run("should list records by prefix", func(t *testing.T) {
		records, err := c.List(Prefix(""))
		require.NoError(t, err)
		require.Equal(t, 4, len(records))
		records, err = c.List(Prefix("a/b/persistent/d"))
		require.NoError(t, err)
		require.Equal(t, 1, len(records))
		require.Equal(t, other.UUID, records[0].UUID)
		records, err = c.Attempts("a/b/persistent/c", 7)
		require.NoError(t, err)
		require.Equal(t, 3, len(records))
	})
	t.Run("should update records in place", func(t *testing.T) {
		failed.State = StateComplete
		failed.Entries = 12
		require.NoError(t, c.Put(failed))
		r, err := c.Latest("a/b/persistent/c", 7)
		require.NoError(t, err)
		require.Equal(t, failed.UUID, r.UUID)
		require.Equal(t, int64(12), r.Entries)
	})
	t.Run("should delete records", func(t *testing.T) {
		require.NoError(t, c.Delete(other.ManagedLedgerName, 70, other.UUID))
		require.NoError(t, c.Delete(other.ManagedLedgerName, 70, other.UUID))
		_, err := c.Get(other.ManagedLedgerName, 70, other.UUID)
		require.Equal(t, ErrRecordNotFound, err)
	})
}
