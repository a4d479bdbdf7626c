package indexfile

import (
	"context"
	"hash/crc32"
	"io"
	"sort"

	"github.com/pkg/errors"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// Reader looks records up in an index file. The index is loaded once at Open.
type Reader struct {
	bucket  *blob.Bucket
	key     string
	codec   Codec
	size    int64
	dataEnd uint64
	keys    []int64
	offsets []uint64
}

// Open loads the header, trailer and index of the index file stored at key.
func Open(ctx context.Context, bucket *blob.Bucket, key string) (*Reader, error) {
	attrs, err := bucket.Attributes(ctx, key)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, errors.Wrap(ErrNotFound, key)
		}
		return nil, errors.Wrapf(err, "failed to stat index file %s", key)
	}
	if attrs.Size < headerSize+trailerSize {
		return nil, errors.Wrapf(ErrCorrupted, "%s: file too short", key)
	}
	r := &Reader{bucket: bucket, key: key, size: attrs.Size}

	buf, err := r.readAt(ctx, 0, headerSize)
	if err != nil {
		return nil, err
	}
	r.codec, err = decodeHeader(buf)
	if err != nil {
		return nil, errors.Wrap(err, key)
	}
	buf, err = r.readAt(ctx, attrs.Size-trailerSize, trailerSize)
	if err != nil {
		return nil, err
	}
	t, err := decodeTrailer(buf)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: invalid trailer", key)
	}
	if t.indexOffset < headerSize || t.indexOffset+uint64(t.indexLength) != uint64(attrs.Size-trailerSize) {
		return nil, errors.Wrapf(ErrCorrupted, "%s: invalid index position", key)
	}
	index, err := r.readAt(ctx, int64(t.indexOffset), int64(t.indexLength))
	if err != nil {
		return nil, err
	}
	if crc32.ChecksumIEEE(index) != t.checksum {
		return nil, errors.Wrapf(ErrCorrupted, "%s: index checksum mismatch", key)
	}
	index, err = r.codec.decode(index)
	if err != nil {
		return nil, errors.Wrap(err, key)
	}
	r.keys, r.offsets, err = decodeIndex(index, t.count, t.indexOffset)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: invalid index", key)
	}
	r.dataEnd = t.indexOffset
	return r, nil
}

func (r *Reader) readAt(ctx context.Context, offset, length int64) ([]byte, error) {
	rd, err := r.bucket.NewRangeReader(ctx, r.key, offset, length, nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, errors.Wrap(ErrNotFound, r.key)
		}
		return nil, errors.Wrapf(err, "failed to read %s", r.key)
	}
	defer rd.Close()
	buf := make([]byte, length)
	_, err = io.ReadFull(rd, buf)
	if err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return nil, errors.Wrapf(ErrCorrupted, "%s: short read", r.key)
		}
		return nil, errors.Wrapf(err, "failed to read %s", r.key)
	}
	return buf, nil
}

func (r *Reader) find(key int64) (int, bool) {
	idx := sort.Search(len(r.keys), func(i int) bool { return r.keys[i] >= key })
	return idx, idx < len(r.keys) && r.keys[idx] == key
}

// end returns the offset right after the record at position idx.
func (r *Reader) end(idx int) uint64 {
	if idx+1 < len(r.offsets) {
		return r.offsets[idx+1]
	}
	return r.dataEnd
}

func (r *Reader) decodeRecord(key int64, buf []byte) ([]byte, error) {
	if len(buf) < recordHeaderSize || int64(encoding.Uint64(buf[0:8])) != key {
		return nil, errors.Wrapf(ErrCorrupted, "%s: invalid record header for key %d", r.key, key)
	}
	length := encoding.Uint32(buf[8:12])
	checksum := encoding.Uint32(buf[12:16])
	stored := buf[recordHeaderSize:]
	if uint32(len(stored)) != length {
		return nil, errors.Wrapf(ErrCorrupted, "%s: invalid record length for key %d", r.key, key)
	}
	if crc32.ChecksumIEEE(stored) != checksum {
		return nil, errors.Wrapf(ErrCorrupted, "%s: checksum mismatch for key %d", r.key, key)
	}
	value, err := r.codec.decode(stored)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: key %d", r.key, key)
	}
	return value, nil
}

// Get returns the value stored under key.
func (r *Reader) Get(ctx context.Context, key int64) ([]byte, error) {
	idx, ok := r.find(key)
	if !ok {
		return nil, errors.Wrapf(ErrKeyNotFound, "key %d", key)
	}
	start := r.offsets[idx]
	buf, err := r.readAt(ctx, int64(start), int64(r.end(idx)-start))
	if err != nil {
		return nil, err
	}
	return r.decodeRecord(key, buf)
}

// GetRange returns the values stored under first..last, with a single ranged
// read. Every key of the range must be present.
func (r *Reader) GetRange(ctx context.Context, first, last int64) ([][]byte, error) {
	if first > last {
		return nil, nil
	}
	from, ok := r.find(first)
	if !ok {
		return nil, errors.Wrapf(ErrKeyNotFound, "key %d", first)
	}
	to := from + int(last-first)
	if to >= len(r.keys) || r.keys[to] != last {
		for idx := from; idx < len(r.keys) && idx <= to; idx++ {
			if r.keys[idx] != first+int64(idx-from) {
				return nil, errors.Wrapf(ErrKeyNotFound, "key %d", first+int64(idx-from))
			}
		}
		return nil, errors.Wrapf(ErrKeyNotFound, "key %d", first+int64(len(r.keys)-from))
	}
	start := r.offsets[from]
	buf, err := r.readAt(ctx, int64(start), int64(r.end(to)-start))
	if err != nil {
		return nil, err
	}
	out := make([][]byte, 0, to-from+1)
	for idx := from; idx <= to; idx++ {
		rel := r.offsets[idx] - start
		value, err := r.decodeRecord(r.keys[idx], buf[rel:r.end(idx)-start])
		if err != nil {
			return nil, err
		}
		out = append(out, value)
	}
	return out, nil
}

// Keys returns the stored keys, in increasing order.
func (r *Reader) Keys() []int64 {
	out := make([]int64, len(r.keys))
	copy(out, r.keys)
	return out
}

func (r *Reader) Len() int { return len(r.keys) }

// FirstKey returns the smallest key, and false if the file is empty.
func (r *Reader) FirstKey() (int64, bool) {
	if len(r.keys) == 0 {
		return 0, false
	}
	return r.keys[0], true
}

// LastKey returns the largest key, and false if the file is empty.
func (r *Reader) LastKey() (int64, bool) {
	if len(r.keys) == 0 {
		return 0, false
	}
	return r.keys[len(r.keys)-1], true
}

func (r *Reader) Size() int64 { return r.size }

func (r *Reader) Close() error {
	r.keys = nil
	r.offsets = nil
	return nil
}
