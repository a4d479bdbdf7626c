package filesystem

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/vx-labs/tiered/indexfile"
	"github.com/vx-labs/tiered/ledger"
	"github.com/vx-labs/tiered/offload"
	"github.com/vx-labs/tiered/stats"
	"go.uber.org/zap"
	"gocloud.dev/blob"
)

// readHandle reads an offloaded ledger back from its index file.
type readHandle struct {
	mtx    sync.Mutex
	id     int64
	reader *indexfile.Reader
	meta   ledger.Metadata
	topic  string
	stats  stats.OffloaderStats
	closed bool
}

func openReadHandle(ctx context.Context, bucket *blob.Bucket, key string, ledgerID int64, topic string, st stats.OffloaderStats) (*readHandle, error) {
	started := time.Now()
	reader, err := indexfile.Open(ctx, bucket, key)
	if err != nil {
		st.RecordReadOffloadError(topic)
		return nil, err
	}
	raw, err := reader.Get(ctx, offload.MetadataKey)
	if err != nil {
		st.RecordReadOffloadError(topic)
		reader.Close()
		return nil, errors.Wrap(err, "failed to read ledger metadata")
	}
	meta, err := ledger.DecodeMetadata(raw)
	if err != nil {
		st.RecordReadOffloadError(topic)
		reader.Close()
		return nil, errors.Wrap(err, "failed to decode ledger metadata")
	}
	st.RecordReadOffloadIndexLatency(topic, time.Since(started))
	offload.L(ctx).Debug("offloaded ledger opened",
		zap.Int64("ledger_id", ledgerID),
		zap.String("key", key),
		zap.Int64("size", reader.Size()),
		zap.Int("record_count", reader.Len()))
	return &readHandle{
		id:     ledgerID,
		reader: reader,
		meta:   meta,
		topic:  topic,
		stats:  st,
	}, nil
}

func (h *readHandle) ID() int64                 { return h.id }
func (h *readHandle) Metadata() ledger.Metadata { return h.meta }
func (h *readHandle) IsClosed() bool            { return h.meta.IsClosed() }
func (h *readHandle) LastAddConfirmed() int64   { return h.meta.LastEntryID }
func (h *readHandle) Length() int64             { return h.meta.Length }

func (h *readHandle) ReadLastAddConfirmed(ctx context.Context) (int64, error) {
	return h.meta.LastEntryID, nil
}

// Read returns entries first to last, fetched by chunks of contiguous records.
func (h *readHandle) Read(ctx context.Context, first, last int64) (ledger.Entries, error) {
	if err := ledger.CheckRange(first, last, h.LastAddConfirmed()); err != nil {
		return nil, err
	}
	h.mtx.Lock()
	defer h.mtx.Unlock()
	if h.closed {
		return nil, ledger.ErrLedgerClosed
	}
	started := time.Now()
	out := make([]ledger.Entry, 0, last-first+1)
	var size int64
	for from := first; from <= last; from += offload.EntriesPerRead {
		to := from + offload.EntriesPerRead - 1
		if to > last {
			to = last
		}
		values, err := h.reader.GetRange(ctx, from, to)
		if err != nil {
			h.stats.RecordReadOffloadError(h.topic)
			return nil, err
		}
		for idx, value := range values {
			out = append(out, ledger.NewEntry(h.id, from+int64(idx), value))
			size += int64(len(value))
		}
	}
	h.stats.RecordReadOffloadDataLatency(h.topic, time.Since(started))
	h.stats.RecordReadOffloadBytes(h.topic, size)
	return ledger.NewEntries(out, nil), nil
}

func (h *readHandle) Close() error {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	return h.reader.Close()
}
