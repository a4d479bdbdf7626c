package filesystem

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/vx-labs/tiered/ledger"
	"github.com/vx-labs/tiered/offload"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// offloadTask copies one ledger into one index file. Entry batches are read
// on the caller lane and appended by writer tasks running on the assignment
// lane of the ledger, so appends happen one batch at a time, in read order.
type offloadTask struct {
	o                 *Offloader
	handle            ledger.ReadHandle
	id                uuid.UUID
	managedLedgerName string
	topic             string
	promise           *offload.Promise[struct{}]

	writer  segmentWriter
	err     atomic.Pointer[error]
	written atomic.Int64
	permits *semaphore.Weighted
	latch   sync.WaitGroup
}

func newOffloadTask(o *Offloader, handle ledger.ReadHandle, id uuid.UUID, managedLedgerName string, promise *offload.Promise[struct{}]) *offloadTask {
	return &offloadTask{
		o:                 o,
		handle:            handle,
		id:                id,
		managedLedgerName: managedLedgerName,
		topic:             offload.TopicName(managedLedgerName),
		promise:           promise,
		permits:           semaphore.NewWeighted(int64(o.policies.PrefetchRounds)),
	}
}

// setError records err unless an error was already recorded.
func (t *offloadTask) setError(err error) {
	t.err.CompareAndSwap(nil, &err)
}

func (t *offloadTask) failure() error {
	if err := t.err.Load(); err != nil {
		return *err
	}
	return nil
}

// interrupted wraps both offload.ErrInterrupted and the context error.
func interrupted(err error) error {
	return fmt.Errorf("%w: %w", offload.ErrInterrupted, err)
}

func (t *offloadTask) fail(ctx context.Context, err error) {
	offload.L(ctx).Error("failed to offload ledger", zap.Error(err))
	t.o.stats.RecordOffloadError(t.topic)
	t.promise.Fail(err)
}

func (t *offloadTask) run(ctx context.Context) {
	handle := t.handle
	ledgerID := handle.ID()
	ctx = offload.AddFields(ctx,
		zap.Int64("ledger_id", ledgerID),
		zap.String("managed_ledger_name", t.managedLedgerName),
		zap.String("uuid", t.id.String()))
	lac := handle.LastAddConfirmed()
	if handle.Length() <= 0 {
		offload.L(ctx).Warn("ledger has zero length but holds entries, offloading it anyway",
			zap.Int64("entry_count", lac+1))
	}
	started := time.Now()
	key := dataFilePath(storagePath(t.o.storageBasePath, t.managedLedgerName), ledgerID, t.id)

	// The artifact outlives ctx: an interrupted offload still closes what was written.
	writer, err := t.o.createWriter(context.WithoutCancel(ctx), key)
	if err != nil {
		t.fail(ctx, errors.Wrap(err, "failed to create offload file"))
		return
	}
	t.writer = writer
	if err := writer.Append(offload.MetadataKey, ledger.EncodeMetadata(handle.Metadata())); err != nil {
		writer.Close()
		t.o.stats.RecordWriteToStorageError(t.topic)
		t.fail(ctx, errors.Wrap(err, "failed to write ledger metadata"))
		return
	}

	var first int64
	for {
		last := first + offload.EntriesPerRead - 1
		if last > lac {
			last = lac
		}
		readStarted := time.Now()
		entries, err := handle.Read(ctx, first, last)
		if err != nil {
			if ctx.Err() != nil {
				t.setError(interrupted(ctx.Err()))
			} else {
				t.setError(errors.Wrap(err, "failed to read entries"))
			}
			break
		}
		t.o.stats.RecordReadLedgerLatency(t.topic, time.Since(readStarted))
		if err := t.permits.Acquire(ctx, 1); err != nil {
			entries.Close()
			t.setError(interrupted(err))
			break
		}
		t.latch.Add(1)
		task := newWriterTask(t, entries)
		if err := t.o.assignment.Execute(ledgerID, task.run); err != nil {
			task.recycle()
			t.setError(err)
			break
		}
		first = last + 1
		if first-1 == lac || t.failure() != nil {
			break
		}
	}

	done := make(chan struct{})
	go func() {
		t.latch.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		t.setError(interrupted(ctx.Err()))
		<-done
	}

	if err := t.failure(); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			offload.L(ctx).Warn("failed to close partial offload file", zap.Error(closeErr))
		}
		t.fail(ctx, err)
		return
	}
	if err := writer.Close(); err != nil {
		t.o.stats.RecordWriteToStorageError(t.topic)
		t.fail(ctx, errors.Wrap(err, "failed to close offload file"))
		return
	}
	offload.L(ctx).Info("ledger offloaded",
		zap.Int64("entry_count", t.written.Load()),
		zap.Duration("elapsed_time", time.Since(started)))
	t.promise.Complete(struct{}{})
}

type writerTask struct {
	task    *offloadTask
	entries ledger.Entries
}

var writerTaskPool = sync.Pool{
	New: func() interface{} {
		return &writerTask{}
	},
}

func newWriterTask(task *offloadTask, entries ledger.Entries) *writerTask {
	w := writerTaskPool.Get().(*writerTask)
	w.task = task
	w.entries = entries
	return w
}

// recycle releases the batch, its prefetch permit and its latch slot, then
// returns w to the pool.
func (w *writerTask) recycle() {
	task := w.task
	w.entries.Close()
	w.task = nil
	w.entries = nil
	writerTaskPool.Put(w)
	task.permits.Release(1)
	task.latch.Done()
}

func (w *writerTask) run() {
	t := w.task
	defer w.recycle()
	if t.failure() != nil {
		return
	}
	for _, entry := range w.entries.Entries() {
		if err := t.writer.Append(entry.EntryID(), entry.Bytes()); err != nil {
			t.setError(errors.Wrapf(err, "failed to write entry %d", entry.EntryID()))
			t.o.stats.RecordWriteToStorageError(t.topic)
			return
		}
		t.written.Add(1)
		t.o.stats.RecordOffloadBytes(t.topic, entry.Length())
	}
}
