package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/vx-labs/tiered/commitlog"
	"github.com/vx-labs/tiered/indexfile"
	"github.com/vx-labs/tiered/ledger"
	"github.com/vx-labs/tiered/offload"
	"github.com/vx-labs/tiered/scheduler"
	"gocloud.dev/blob"
	"gocloud.dev/blob/memblob"
)

const managedLedgerName = "public/default/persistent/orders"

var (
	errSource  = errors.New("source unavailable")
	errStorage = errors.New("storage unavailable")
)

type recordingStats struct {
	mtx            sync.Mutex
	offloadErrors  int
	offloadBytes   int64
	ledgerReads    int
	writeErrors    int
	readErrors     int
	readBytes      int64
	indexReads     int
	dataReads      int
	deletes        map[bool]int
	lastTopicLabel string
}

func newRecordingStats() *recordingStats {
	return &recordingStats{deletes: map[bool]int{}}
}

func (s *recordingStats) record(topic string, f func()) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.lastTopicLabel = topic
	f()
}
func (s *recordingStats) RecordOffloadError(topic string) {
	s.record(topic, func() { s.offloadErrors++ })
}
func (s *recordingStats) RecordOffloadBytes(topic string, size int64) {
	s.record(topic, func() { s.offloadBytes += size })
}
func (s *recordingStats) RecordReadLedgerLatency(topic string, _ time.Duration) {
	s.record(topic, func() { s.ledgerReads++ })
}
func (s *recordingStats) RecordWriteToStorageError(topic string) {
	s.record(topic, func() { s.writeErrors++ })
}
func (s *recordingStats) RecordReadOffloadError(topic string) {
	s.record(topic, func() { s.readErrors++ })
}
func (s *recordingStats) RecordReadOffloadBytes(topic string, size int64) {
	s.record(topic, func() { s.readBytes += size })
}
func (s *recordingStats) RecordReadOffloadIndexLatency(topic string, _ time.Duration) {
	s.record(topic, func() { s.indexReads++ })
}
func (s *recordingStats) RecordReadOffloadDataLatency(topic string, _ time.Duration) {
	s.record(topic, func() { s.dataReads++ })
}
func (s *recordingStats) RecordDeleteOffloadOps(topic string, succeed bool) {
	s.record(topic, func() { s.deletes[succeed]++ })
}

// faultyHandle fails the source read starting at failAt. When cancel is set,
// it cancels the offload context instead.
type faultyHandle struct {
	ledger.ReadHandle
	failAt int64
	cancel context.CancelFunc
}

func (h faultyHandle) Read(ctx context.Context, first, last int64) (ledger.Entries, error) {
	if first == h.failAt {
		if h.cancel != nil {
			h.cancel()
			return nil, ctx.Err()
		}
		return nil, errSource
	}
	return h.ReadHandle.Read(ctx, first, last)
}

type faultyWriter struct {
	segmentWriter
	failAt int64
}

func (w faultyWriter) Append(key int64, value []byte) error {
	if key == w.failAt {
		return errStorage
	}
	return w.segmentWriter.Append(key, value)
}

// gatedWriter blocks entry appends until gate is closed.
type gatedWriter struct {
	segmentWriter
	gate chan struct{}
}

func (w gatedWriter) Append(key int64, value []byte) error {
	if key >= 0 {
		<-w.gate
	}
	return w.segmentWriter.Append(key, value)
}

type countingHandle struct {
	ledger.ReadHandle
	reads *atomic.Int64
}

func (h countingHandle) Read(ctx context.Context, first, last int64) (ledger.Entries, error) {
	h.reads.Add(1)
	return h.ReadHandle.Read(ctx, first, last)
}

func payload(entryID int) []byte {
	return []byte(fmt.Sprintf("entry-%04d", entryID))
}

func sealedLedger(t *testing.T, store *commitlog.Store, id int64, count int) ledger.ReadHandle {
	l, err := store.Create(id, commitlog.CreateOptions{Ensemble: []string{"bookie-1:3181"}})
	require.NoError(t, err)
	for i := 0; i < count; i++ {
		_, err := l.AddEntry(payload(i))
		require.NoError(t, err)
	}
	require.NoError(t, l.Close())
	h, err := store.OpenLedger(id)
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

func newTestOffloader(t *testing.T, st *recordingStats) (*Offloader, *blob.Bucket) {
	policies := offload.DefaultPolicies()
	policies.Codec = "s2"
	policies.PrefetchRounds = 2
	bucket := memblob.OpenBucket(nil)
	o, err := New(policies, bucket, "offload", nil, st)
	require.NoError(t, err)
	t.Cleanup(func() { o.Close() })
	return o, bucket
}

func listKeys(t *testing.T, bucket *blob.Bucket) []string {
	out := []string{}
	iter := bucket.List(nil)
	for {
		obj, err := iter.Next(context.Background())
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, obj.Key)
	}
}

func readAll(t *testing.T, h ledger.ReadHandle, first, last int64) []ledger.Entry {
	entries, err := h.Read(context.Background(), first, last)
	require.NoError(t, err)
	defer entries.Close()
	return entries.Entries()
}

func TestOffloader(t *testing.T) {
	ctx := context.Background()
	store, err := commitlog.Open(t.TempDir())
	require.NoError(t, err)
	extra := map[string]string{offload.ManagedLedgerNameKey: managedLedgerName}

	t.Run("should offload and read back a sealed ledger", func(t *testing.T) {
		st := newRecordingStats()
		o, bucket := newTestOffloader(t, st)
		source := sealedLedger(t, store, 42, 250)
		id := uuid.New()

		_, err := o.Offload(ctx, source, id, extra).Get(ctx)
		require.NoError(t, err)
		require.Equal(t, []string{"offload/" + managedLedgerName + "/42-" + id.String()}, listKeys(t, bucket))
		require.Equal(t, int64(2500), st.offloadBytes)
		require.Equal(t, 3, st.ledgerReads)
		require.Equal(t, "persistent://public/default/orders", st.lastTopicLabel)

		h, err := o.ReadOffloaded(ctx, 42, id, extra).Get(ctx)
		require.NoError(t, err)
		defer h.Close()
		require.Equal(t, int64(42), h.ID())
		require.True(t, h.IsClosed())
		require.Equal(t, int64(249), h.LastAddConfirmed())
		require.Equal(t, int64(2500), h.Length())
		lac, err := h.ReadLastAddConfirmed(ctx)
		require.NoError(t, err)
		require.Equal(t, int64(249), lac)
		require.Equal(t, source.Metadata(), h.Metadata())

		entries := readAll(t, h, 0, 249)
		require.Equal(t, 250, len(entries))
		for idx, e := range entries {
			require.Equal(t, int64(idx), e.EntryID())
			require.Equal(t, int64(42), e.LedgerID())
			require.Equal(t, payload(idx), e.Bytes())
		}
		entries = readAll(t, h, 95, 105)
		require.Equal(t, int64(95), entries[0].EntryID())
		require.Equal(t, payload(105), entries[10].Bytes())
		require.Equal(t, 1, st.indexReads)
		require.Equal(t, int64(2500+110), st.readBytes)

		_, err = h.Read(ctx, 249, 250)
		require.Equal(t, ledger.ErrReadBeyondLastAddConfirmed, err)
		_, err = h.Read(ctx, -1, 3)
		require.Equal(t, ledger.ErrInvalidRange, err)
		_, err = h.Read(ctx, 4, 3)
		require.Equal(t, ledger.ErrInvalidRange, err)

		_, err = o.DeleteOffloaded(ctx, 42, id, extra).Get(ctx)
		require.NoError(t, err)
		require.Empty(t, listKeys(t, bucket))
		require.Equal(t, 1, st.deletes[true])
	})
	t.Run("should offload ledgers sized on a batch boundary", func(t *testing.T) {
		st := newRecordingStats()
		o, _ := newTestOffloader(t, st)
		source := sealedLedger(t, store, 43, 200)
		id := uuid.New()
		_, err := o.Offload(ctx, source, id, extra).Get(ctx)
		require.NoError(t, err)
		require.Equal(t, 2, st.ledgerReads)
		h, err := o.ReadOffloaded(ctx, 43, id, extra).Get(ctx)
		require.NoError(t, err)
		defer h.Close()
		require.Equal(t, int64(199), h.LastAddConfirmed())
		require.Equal(t, payload(199), readAll(t, h, 199, 199)[0].Bytes())
	})
	t.Run("should offload a single entry ledger", func(t *testing.T) {
		o, _ := newTestOffloader(t, newRecordingStats())
		source := sealedLedger(t, store, 44, 1)
		id := uuid.New()
		_, err := o.Offload(ctx, source, id, extra).Get(ctx)
		require.NoError(t, err)
		h, err := o.ReadOffloaded(ctx, 44, id, extra).Get(ctx)
		require.NoError(t, err)
		defer h.Close()
		require.Equal(t, payload(0), readAll(t, h, 0, 0)[0].Bytes())
	})
	t.Run("should refuse open or empty ledgers", func(t *testing.T) {
		o, bucket := newTestOffloader(t, newRecordingStats())
		l, err := store.Create(45, commitlog.CreateOptions{})
		require.NoError(t, err)
		_, err = l.AddEntry(payload(0))
		require.NoError(t, err)
		open, err := store.OpenLedger(45)
		require.NoError(t, err)
		defer open.Close()
		_, err = o.Offload(ctx, open, uuid.New(), extra).Get(ctx)
		require.True(t, errors.Is(err, offload.ErrInvalidLedger))
		require.NoError(t, l.Close())

		empty := sealedLedger(t, store, 46, 0)
		_, err = o.Offload(ctx, empty, uuid.New(), extra).Get(ctx)
		require.True(t, errors.Is(err, offload.ErrInvalidLedger))
		require.Empty(t, listKeys(t, bucket))
	})
	t.Run("should refuse invalid ledgers without waiting for a busy lane", func(t *testing.T) {
		sched := scheduler.New("busy", 1)
		t.Cleanup(func() { sched.Close() })
		release := make(chan struct{})
		defer close(release)
		require.NoError(t, sched.Execute(0, func() { <-release }))

		o, err := New(offload.DefaultPolicies(), memblob.OpenBucket(nil), "offload", sched, nil)
		require.NoError(t, err)
		defer o.Close()
		empty := sealedLedger(t, store, 52, 0)
		p := o.Offload(ctx, empty, uuid.New(), extra)
		select {
		case <-p.Done():
		default:
			t.Fatal("offload of an empty ledger is still pending")
		}
		_, err = p.Get(ctx)
		require.True(t, errors.Is(err, offload.ErrInvalidLedger))
	})
	t.Run("should bound prefetched batches while the writer stalls", func(t *testing.T) {
		o, _ := newTestOffloader(t, newRecordingStats())
		gate := make(chan struct{})
		release := sync.OnceFunc(func() { close(gate) })
		t.Cleanup(release)
		o.createWriter = func(ctx context.Context, key string) (segmentWriter, error) {
			w, err := o.createIndexFile(ctx, key)
			if err != nil {
				return nil, err
			}
			return gatedWriter{segmentWriter: w, gate: gate}, nil
		}
		reads := &atomic.Int64{}
		source := countingHandle{ReadHandle: sealedLedger(t, store, 53, 600), reads: reads}
		bound := int64(o.Policies().PrefetchRounds + 1)

		p := o.Offload(ctx, source, uuid.New(), extra)
		require.Eventually(t, func() bool { return reads.Load() == bound }, time.Second, 5*time.Millisecond)
		time.Sleep(50 * time.Millisecond)
		require.Equal(t, bound, reads.Load())
		select {
		case <-p.Done():
			t.Fatal("offload completed while the writer was stalled")
		default:
		}

		release()
		_, err := p.Get(ctx)
		require.NoError(t, err)
		require.Equal(t, int64(6), reads.Load())
	})
	t.Run("should offload different ledgers concurrently", func(t *testing.T) {
		o, bucket := newTestOffloader(t, newRecordingStats())
		sources := map[int64]ledger.ReadHandle{}
		for ledgerID := int64(60); ledgerID < 68; ledgerID++ {
			sources[ledgerID] = sealedLedger(t, store, ledgerID, 333)
		}
		ids := map[int64]uuid.UUID{}
		promises := map[int64]*offload.Promise[struct{}]{}
		expected := []string{}
		for ledgerID, source := range sources {
			ids[ledgerID] = uuid.New()
			promises[ledgerID] = o.Offload(ctx, source, ids[ledgerID], extra)
			expected = append(expected, fmt.Sprintf("offload/%s/%d-%s", managedLedgerName, ledgerID, ids[ledgerID]))
		}
		for _, p := range promises {
			_, err := p.Get(ctx)
			require.NoError(t, err)
		}
		require.ElementsMatch(t, expected, listKeys(t, bucket))

		handles := map[int64]*offload.Promise[ledger.ReadHandle]{}
		for ledgerID, id := range ids {
			handles[ledgerID] = o.ReadOffloaded(ctx, ledgerID, id, extra)
		}
		for ledgerID, p := range handles {
			h, err := p.Get(ctx)
			require.NoError(t, err)
			entries := readAll(t, h, 0, 332)
			require.Equal(t, 333, len(entries))
			for idx, e := range entries {
				require.Equal(t, ledgerID, e.LedgerID())
				require.Equal(t, payload(idx), e.Bytes())
			}
			require.NoError(t, h.Close())
		}
	})
	t.Run("should fail on storage errors and leave a readable partial artifact", func(t *testing.T) {
		st := newRecordingStats()
		o, _ := newTestOffloader(t, st)
		o.createWriter = func(ctx context.Context, key string) (segmentWriter, error) {
			w, err := o.createIndexFile(ctx, key)
			if err != nil {
				return nil, err
			}
			return faultyWriter{segmentWriter: w, failAt: 150}, nil
		}
		source := sealedLedger(t, store, 47, 250)
		id := uuid.New()
		_, err := o.Offload(ctx, source, id, extra).Get(ctx)
		require.True(t, errors.Is(err, errStorage))
		require.Contains(t, err.Error(), "failed to write entry 150")
		require.Equal(t, 1, st.writeErrors)
		require.Equal(t, 1, st.offloadErrors)
		require.Equal(t, int64(1500), st.offloadBytes)

		h, err := o.ReadOffloaded(ctx, 47, id, extra).Get(ctx)
		require.NoError(t, err)
		defer h.Close()
		require.Equal(t, int64(249), h.LastAddConfirmed())
		require.Equal(t, 150, len(readAll(t, h, 0, 149)))
		_, err = h.Read(ctx, 140, 160)
		require.True(t, errors.Is(err, indexfile.ErrKeyNotFound))
		require.Contains(t, err.Error(), "key 150")
		require.Equal(t, 1, st.readErrors)
	})
	t.Run("should fail on source read errors", func(t *testing.T) {
		st := newRecordingStats()
		o, _ := newTestOffloader(t, st)
		source := faultyHandle{ReadHandle: sealedLedger(t, store, 48, 250), failAt: 100}
		id := uuid.New()
		_, err := o.Offload(ctx, source, id, extra).Get(ctx)
		require.True(t, errors.Is(err, errSource))
		require.Contains(t, err.Error(), "failed to read entries")
		require.Equal(t, 1, st.offloadErrors)
		require.Equal(t, int64(1000), st.offloadBytes)

		h, err := o.ReadOffloaded(ctx, 48, id, extra).Get(ctx)
		require.NoError(t, err)
		defer h.Close()
		require.Equal(t, 100, len(readAll(t, h, 0, 99)))
		_, err = h.Read(ctx, 100, 100)
		require.True(t, errors.Is(err, indexfile.ErrKeyNotFound))
	})
	t.Run("should report interruptions", func(t *testing.T) {
		st := newRecordingStats()
		o, _ := newTestOffloader(t, st)
		offloadCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		source := faultyHandle{ReadHandle: sealedLedger(t, store, 49, 250), failAt: 200, cancel: cancel}
		_, err := o.Offload(offloadCtx, source, uuid.New(), extra).Get(ctx)
		require.True(t, errors.Is(err, offload.ErrInterrupted))
		require.True(t, errors.Is(err, context.Canceled))
		require.Equal(t, 1, st.offloadErrors)
	})
	t.Run("should write attempts to distinct paths", func(t *testing.T) {
		o, bucket := newTestOffloader(t, newRecordingStats())
		source := sealedLedger(t, store, 50, 10)
		first, second := uuid.New(), uuid.New()
		_, err := o.Offload(ctx, source, first, extra).Get(ctx)
		require.NoError(t, err)
		_, err = o.Offload(ctx, source, second, extra).Get(ctx)
		require.NoError(t, err)
		require.ElementsMatch(t, []string{
			"offload/" + managedLedgerName + "/50-" + first.String(),
			"offload/" + managedLedgerName + "/50-" + second.String(),
		}, listKeys(t, bucket))
	})
	t.Run("should delete offloaded ledgers idempotently", func(t *testing.T) {
		st := newRecordingStats()
		o, bucket := newTestOffloader(t, st)
		source := sealedLedger(t, store, 51, 10)
		id := uuid.New()
		_, err := o.Offload(ctx, source, id, extra).Get(ctx)
		require.NoError(t, err)
		key := "offload/" + managedLedgerName + "/51-" + id.String()
		require.NoError(t, bucket.WriteAll(ctx, key+"/data", []byte("x"), nil))
		require.NoError(t, bucket.WriteAll(ctx, key+"/index", []byte("x"), nil))

		_, err = o.DeleteOffloaded(ctx, 51, id, extra).Get(ctx)
		require.NoError(t, err)
		require.Empty(t, listKeys(t, bucket))
		_, err = o.DeleteOffloaded(ctx, 51, id, extra).Get(ctx)
		require.NoError(t, err)
		require.Equal(t, 2, st.deletes[true])

		_, err = o.ReadOffloaded(ctx, 51, id, extra).Get(ctx)
		require.True(t, errors.Is(err, indexfile.ErrNotFound))
		require.Equal(t, 1, st.readErrors)
	})
}

func TestOffloaderCreate(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	profile := filepath.Join(dir, "profile.yaml")
	override := filepath.Join(dir, "override.yaml")
	require.NoError(t, os.WriteFile(profile, []byte("fs-uri: mem://\nstorage-base-path: tiered\n"), 0600))
	require.NoError(t, os.WriteFile(override, []byte("storage-base-path: cold/\n"), 0600))

	t.Run("should merge filesystem profiles", func(t *testing.T) {
		policies := offload.DefaultPolicies()
		policies.FileSystemURI = ""
		policies.FileSystemProfilePath = profile + "," + override
		o, err := Create(ctx, policies, nil, nil)
		require.NoError(t, err)
		defer o.Close()
		require.Equal(t, DriverName, o.DriverName())
		require.Equal(t, map[string]string{StorageBasePathKey: "cold"}, o.DriverMetadata())
	})
	t.Run("should report a null base path", func(t *testing.T) {
		policies := offload.DefaultPolicies()
		o, err := Create(ctx, policies, nil, nil)
		require.NoError(t, err)
		defer o.Close()
		require.Equal(t, map[string]string{StorageBasePathKey: "null"}, o.DriverMetadata())
		require.Equal(t, policies, o.Policies())
	})
	t.Run("should refuse unknown codecs", func(t *testing.T) {
		policies := offload.DefaultPolicies()
		policies.Codec = "lz4"
		_, err := Create(ctx, policies, nil, nil)
		require.True(t, errors.Is(err, indexfile.ErrUnsupportedCodec))
	})
	t.Run("should refuse missing profiles", func(t *testing.T) {
		policies := offload.DefaultPolicies()
		policies.FileSystemProfilePath = filepath.Join(dir, "missing.yaml")
		_, err := Create(ctx, policies, nil, nil)
		require.Error(t, err)
	})
}

func TestPaths(t *testing.T) {
	id := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	require.Equal(t, "base/ml/", storagePath("base", "ml"))
	require.Equal(t, "ml/", storagePath("", "ml"))
	require.Equal(t, "ml/7-6ba7b810-9dad-11d1-80b4-00c04fd430c8", dataFilePath(storagePath("", "ml"), 7, id))
}
