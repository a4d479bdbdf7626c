package indexfile

import (
	"context"
	"hash/crc32"
	"math"
	"sync"

	"github.com/pkg/errors"
	"gocloud.dev/blob"
)

// Options configures a Writer.
type Options struct {
	Codec Codec
	// BufferSize is passed down to the blob writer. Zero selects the driver default.
	BufferSize int
}

// Writer appends records to a new index file. It is safe for concurrent use,
// but keys must still be appended in strictly increasing order.
type Writer struct {
	mtx     sync.Mutex
	key     string
	w       *blob.Writer
	cancel  context.CancelFunc
	codec   Codec
	offset  uint64
	keys    []int64
	offsets []uint64
	closed  bool
	err     error
	header  []byte
}

// Create starts writing a new index file at key. The object only becomes
// visible once Close succeeds.
func Create(ctx context.Context, bucket *blob.Bucket, key string, opts Options) (*Writer, error) {
	if opts.Codec > CodecZstd {
		return nil, ErrUnsupportedCodec
	}
	ctx, cancel := context.WithCancel(ctx)
	w, err := bucket.NewWriter(ctx, key, &blob.WriterOptions{
		BufferSize:  opts.BufferSize,
		ContentType: "application/octet-stream",
	})
	if err != nil {
		cancel()
		return nil, errors.Wrapf(err, "failed to create index file %s", key)
	}
	_, err = w.Write(encodeHeader(opts.Codec))
	if err != nil {
		cancel()
		w.Close()
		return nil, errors.Wrapf(err, "failed to write index file header %s", key)
	}
	return &Writer{
		key:    key,
		w:      w,
		cancel: cancel,
		codec:  opts.Codec,
		offset: headerSize,
		header: make([]byte, recordHeaderSize),
	}, nil
}

// Count returns the number of records appended so far.
func (w *Writer) Count() int {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	return len(w.keys)
}

// Append adds a record. key must be greater than every key appended before.
func (w *Writer) Append(key int64, value []byte) error {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	if w.closed {
		return ErrWriterClosed
	}
	if w.err != nil {
		return w.err
	}
	if len(w.keys) > 0 && key <= w.keys[len(w.keys)-1] {
		return errors.Wrapf(ErrKeyOutOfOrder, "key %d after %d", key, w.keys[len(w.keys)-1])
	}
	if len(w.keys) == math.MaxUint32 {
		return ErrValueTooBig
	}
	stored, err := w.codec.encode(value)
	if err != nil {
		return err
	}
	if len(stored) > MaxValueSize {
		return ErrValueTooBig
	}
	encoding.PutUint64(w.header[0:8], uint64(key))
	encoding.PutUint32(w.header[8:12], uint32(len(stored)))
	encoding.PutUint32(w.header[12:16], crc32.ChecksumIEEE(stored))
	if _, err := w.w.Write(w.header); err != nil {
		w.err = errors.Wrapf(err, "failed to write record %d", key)
		return w.err
	}
	if _, err := w.w.Write(stored); err != nil {
		w.err = errors.Wrapf(err, "failed to write record %d", key)
		return w.err
	}
	w.keys = append(w.keys, key)
	w.offsets = append(w.offsets, w.offset)
	w.offset += uint64(recordHeaderSize + len(stored))
	return nil
}

// Close writes the index and the trailer, and flushes the file durably.
func (w *Writer) Close() error {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	defer w.cancel()
	if w.err != nil {
		w.cancel()
		w.w.Close()
		return w.err
	}
	index, err := w.codec.encode(encodeIndex(w.keys, w.offsets))
	if err != nil {
		w.cancel()
		w.w.Close()
		return err
	}
	t := trailer{
		indexOffset: w.offset,
		indexLength: uint32(len(index)),
		count:       uint32(len(w.keys)),
		checksum:    crc32.ChecksumIEEE(index),
	}
	if _, err := w.w.Write(index); err != nil {
		w.cancel()
		w.w.Close()
		return errors.Wrapf(err, "failed to write index of %s", w.key)
	}
	if _, err := w.w.Write(t.encode()); err != nil {
		w.cancel()
		w.w.Close()
		return errors.Wrapf(err, "failed to write trailer of %s", w.key)
	}
	if err := w.w.Close(); err != nil {
		return errors.Wrapf(err, "failed to close index file %s", w.key)
	}
	return nil
}

// Abort discards everything written so far. The object is not created.
func (w *Writer) Abort() error {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	if w.closed {
		return ErrWriterClosed
	}
	w.closed = true
	w.cancel()
	w.w.Close()
	return nil
}
