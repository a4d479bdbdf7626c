package commitlog

import (
	"context"
	"sync"

	"github.com/vx-labs/tiered/ledger"
)

var bufferPool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, 0, 4096)
		return &b
	},
}

type readHandle struct {
	mtx     sync.Mutex
	id      int64
	meta    metadataFile
	segment *segment
	header  []byte
	lac     int64
	closed  bool
}

func newReadHandle(id int64, meta metadataFile, seg *segment) *readHandle {
	lac := meta.LastEntryID
	if meta.State != ledger.StateClosed {
		lac = seg.EntryCount() - 1
	}
	return &readHandle{
		id:      id,
		meta:    meta,
		segment: seg,
		header:  make([]byte, EntryHeaderSize),
		lac:     lac,
	}
}

func (h *readHandle) ID() int64 { return h.id }
func (h *readHandle) Metadata() ledger.Metadata {
	m := h.meta.toLedgerMetadata()
	if !h.IsClosed() {
		m.Length = h.Length()
	}
	return m
}
func (h *readHandle) IsClosed() bool          { return h.meta.State == ledger.StateClosed }
func (h *readHandle) LastAddConfirmed() int64 { return h.lac }
func (h *readHandle) Length() int64 {
	if h.IsClosed() {
		return h.meta.Length
	}
	return int64(h.segment.Size()) - h.segment.EntryCount()*int64(EntryHeaderSize)
}

func (h *readHandle) ReadLastAddConfirmed(ctx context.Context) (int64, error) {
	return h.lac, nil
}

// Read returns entries first to last. Returned payloads are backed by pooled
// buffers, released when the batch is closed.
func (h *readHandle) Read(ctx context.Context, first, last int64) (ledger.Entries, error) {
	if err := ledger.CheckRange(first, last, h.lac); err != nil {
		return nil, err
	}
	h.mtx.Lock()
	defer h.mtx.Unlock()
	if h.closed {
		return nil, ledger.ErrLedgerClosed
	}
	buffers := make([]*[]byte, 0, last-first+1)
	release := func() {
		for _, b := range buffers {
			*b = (*b)[:0]
			bufferPool.Put(b)
		}
	}
	out := make([]ledger.Entry, 0, last-first+1)
	for entryID := first; entryID <= last; entryID++ {
		if err := ctx.Err(); err != nil {
			release()
			return nil, err
		}
		body := bufferPool.Get().(*[]byte)
		buffers = append(buffers, body)
		e, err := h.segment.ReadEntryAt(h.header, body, entryID)
		if err != nil {
			release()
			return nil, err
		}
		out = append(out, ledger.NewEntry(h.id, entryID, e.Payload()))
	}
	return ledger.NewEntries(out, release), nil
}

func (h *readHandle) Close() error {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	return h.segment.Close()
}
