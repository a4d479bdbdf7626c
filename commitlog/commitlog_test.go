package commitlog

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vx-labs/tiered/ledger"
)

func TestStore(t *testing.T) {
	datadir := t.TempDir()
	store, err := Open(datadir)
	require.NoError(t, err)
	ctx := context.Background()

	l, err := store.Create(1, CreateOptions{Ensemble: []string{"local:3181"}})
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		entryID, err := l.AddEntry([]byte(fmt.Sprintf("entry-%02d", i)))
		require.NoError(t, err)
		require.Equal(t, int64(i), entryID)
	}
	t.Run("should not allow creating an existing ledger", func(t *testing.T) {
		_, err := store.Create(1, CreateOptions{})
		require.Equal(t, ErrLedgerAlreadyExists, err)
	})
	t.Run("should open an unsealed ledger as open", func(t *testing.T) {
		h, err := store.OpenLedger(1)
		require.NoError(t, err)
		defer h.Close()
		require.False(t, h.IsClosed())
		require.Equal(t, int64(49), h.LastAddConfirmed())
	})
	require.NoError(t, l.Close())
	t.Run("should refuse writes once sealed", func(t *testing.T) {
		_, err := l.AddEntry([]byte("late"))
		require.Equal(t, ledger.ErrLedgerClosed, err)
	})
	t.Run("should expose sealed ledger metadata", func(t *testing.T) {
		h, err := store.OpenLedger(1)
		require.NoError(t, err)
		defer h.Close()
		require.True(t, h.IsClosed())
		require.Equal(t, int64(49), h.LastAddConfirmed())
		require.Equal(t, int64(50*8), h.Length())
		meta := h.Metadata()
		require.Equal(t, ledger.StateClosed, meta.State)
		require.Equal(t, ledger.DigestCRC32, meta.DigestType)
		require.Equal(t, []string{"local:3181"}, meta.Segments[0].Ensemble)
	})
	t.Run("should read entry ranges", func(t *testing.T) {
		h, err := store.OpenLedger(1)
		require.NoError(t, err)
		defer h.Close()
		entries, err := h.Read(ctx, 10, 19)
		require.NoError(t, err)
		list := entries.Entries()
		require.Equal(t, 10, len(list))
		for idx, e := range list {
			require.Equal(t, int64(10+idx), e.EntryID())
			require.Equal(t, int64(1), e.LedgerID())
			require.Equal(t, fmt.Sprintf("entry-%02d", 10+idx), string(e.Bytes()))
		}
		require.NoError(t, entries.Close())
	})
	t.Run("should refuse reading beyond last add confirmed", func(t *testing.T) {
		h, err := store.OpenLedger(1)
		require.NoError(t, err)
		defer h.Close()
		_, err = h.Read(ctx, 45, 50)
		require.Equal(t, ledger.ErrReadBeyondLastAddConfirmed, err)
		_, err = h.Read(ctx, 5, 4)
		require.Equal(t, ledger.ErrInvalidRange, err)
	})
	t.Run("should list and delete ledgers", func(t *testing.T) {
		require.Equal(t, []int64{1}, store.List())
		stats := store.GetStatistics()
		require.Equal(t, uint64(1), stats.LedgerCount)
		require.Equal(t, uint64(50*(8+EntryHeaderSize)), stats.StoredBytes)
		require.NoError(t, store.Delete(1))
		require.NoError(t, store.Delete(1))
		require.Empty(t, store.List())
		_, err := store.OpenLedger(1)
		require.Equal(t, ErrLedgerDoesNotExist, err)
	})
}

func BenchmarkLedger(b *testing.B) {
	store, err := Open(b.TempDir())
	require.NoError(b, err)
	l, err := store.Create(0, CreateOptions{})
	require.NoError(b, err)
	defer l.Close()
	value := []byte("test")
	b.Run("write", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			_, err = l.AddEntry(value)
			if err != nil {
				b.Fatalf("ledger write failed: %v", err)
			}
		}
	})
}
