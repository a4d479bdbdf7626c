// Package indexfile implements an append-only, sorted-key, indexed file
// stored as a single blob. Records are appended in strictly increasing key
// order; the index and a fixed-size trailer are written on Close, so readers
// can look keys up with ranged reads and no sequential scan.
//
// Layout:
//
//	header   magic(4) version(1) codec(1) reserved(2)
//	record   key(8) length(4) crc32(4) value(length)   (repeated)
//	index    count, then (key delta, offset delta) varints, compressed with the file codec
//	trailer  index offset(8) index length(4) record count(4) index crc32(4) magic(4)
package indexfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
)

const (
	magic            = "TIDX"
	formatVersion    = 1
	headerSize       = 8
	recordHeaderSize = 8 + 4 + 4
	trailerSize      = 8 + 4 + 4 + 4 + 4
	// MaxValueSize bounds a single stored value.
	MaxValueSize = 64 << 20
)

var encoding = binary.BigEndian

var (
	ErrKeyOutOfOrder    = errors.New("key appended out of order")
	ErrWriterClosed     = errors.New("writer is closed")
	ErrValueTooBig      = errors.New("value is too big")
	ErrNotFound         = errors.New("index file not found")
	ErrKeyNotFound      = errors.New("key not found")
	ErrCorrupted        = errors.New("index file corrupted")
	ErrUnsupportedCodec = errors.New("unsupported codec")
)

// Codec is the compression applied to values and to the index block.
type Codec uint8

const (
	CodecNone Codec = iota
	CodecS2
	CodecZstd
)

func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecS2:
		return "s2"
	case CodecZstd:
		return "zstd"
	default:
		return fmt.Sprintf("codec(%d)", uint8(c))
	}
}

// ParseCodec returns the codec named s. An empty name selects CodecNone.
func ParseCodec(s string) (Codec, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return CodecNone, nil
	case "s2":
		return CodecS2, nil
	case "zstd":
		return CodecZstd, nil
	default:
		return CodecNone, fmt.Errorf("%w: %q", ErrUnsupportedCodec, s)
	}
}

var (
	zstdEnc *zstd.Encoder
	zstdDec *zstd.Decoder
)

func init() {
	var err error
	zstdEnc, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("zstd: init encoder: " + err.Error())
	}
	zstdDec, err = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		panic("zstd: init decoder: " + err.Error())
	}
}

func (c Codec) encode(src []byte) ([]byte, error) {
	switch c {
	case CodecNone:
		return src, nil
	case CodecS2:
		return s2.Encode(nil, src), nil
	case CodecZstd:
		return zstdEnc.EncodeAll(src, nil), nil
	default:
		return nil, ErrUnsupportedCodec
	}
}

func (c Codec) decode(src []byte) ([]byte, error) {
	switch c {
	case CodecNone:
		return src, nil
	case CodecS2:
		out, err := s2.Decode(nil, src)
		if err != nil {
			return nil, ErrCorrupted
		}
		return out, nil
	case CodecZstd:
		out, err := zstdDec.DecodeAll(src, nil)
		if err != nil {
			return nil, ErrCorrupted
		}
		return out, nil
	default:
		return nil, ErrUnsupportedCodec
	}
}

func encodeHeader(codec Codec) []byte {
	buf := make([]byte, headerSize)
	copy(buf[0:4], magic)
	buf[4] = formatVersion
	buf[5] = byte(codec)
	return buf
}

func decodeHeader(buf []byte) (Codec, error) {
	if len(buf) != headerSize || string(buf[0:4]) != magic {
		return CodecNone, ErrCorrupted
	}
	if buf[4] != formatVersion {
		return CodecNone, fmt.Errorf("%w: unknown version %d", ErrCorrupted, buf[4])
	}
	codec := Codec(buf[5])
	if codec > CodecZstd {
		return CodecNone, ErrUnsupportedCodec
	}
	return codec, nil
}

type trailer struct {
	indexOffset uint64
	indexLength uint32
	count       uint32
	checksum    uint32
}

func (t trailer) encode() []byte {
	buf := make([]byte, trailerSize)
	encoding.PutUint64(buf[0:8], t.indexOffset)
	encoding.PutUint32(buf[8:12], t.indexLength)
	encoding.PutUint32(buf[12:16], t.count)
	encoding.PutUint32(buf[16:20], t.checksum)
	copy(buf[20:24], magic)
	return buf
}

func decodeTrailer(buf []byte) (trailer, error) {
	if len(buf) != trailerSize || string(buf[20:24]) != magic {
		return trailer{}, ErrCorrupted
	}
	return trailer{
		indexOffset: encoding.Uint64(buf[0:8]),
		indexLength: encoding.Uint32(buf[8:12]),
		count:       encoding.Uint32(buf[12:16]),
		checksum:    encoding.Uint32(buf[16:20]),
	}, nil
}

func encodeIndex(keys []int64, offsets []uint64) []byte {
	buf := make([]byte, 0, binary.MaxVarintLen64*(1+2*len(keys)))
	buf = binary.AppendUvarint(buf, uint64(len(keys)))
	var prevKey int64
	var prevOffset uint64 = headerSize
	for idx := range keys {
		buf = binary.AppendVarint(buf, keys[idx]-prevKey)
		buf = binary.AppendUvarint(buf, offsets[idx]-prevOffset)
		prevKey = keys[idx]
		prevOffset = offsets[idx]
	}
	return buf
}

func decodeIndex(buf []byte, count uint32, dataEnd uint64) ([]int64, []uint64, error) {
	n, read := binary.Uvarint(buf)
	if read <= 0 || n != uint64(count) {
		return nil, nil, ErrCorrupted
	}
	buf = buf[read:]
	// Each record takes at least one byte per delta.
	if n > uint64(len(buf))/2 {
		return nil, nil, ErrCorrupted
	}
	keys := make([]int64, 0, n)
	offsets := make([]uint64, 0, n)
	var prevKey int64
	var prevOffset uint64 = headerSize
	for i := uint64(0); i < n; i++ {
		keyDelta, read := binary.Varint(buf)
		if read <= 0 {
			return nil, nil, ErrCorrupted
		}
		buf = buf[read:]
		offsetDelta, read := binary.Uvarint(buf)
		if read <= 0 {
			return nil, nil, ErrCorrupted
		}
		buf = buf[read:]
		key := prevKey + keyDelta
		offset := prevOffset + offsetDelta
		if i > 0 && (key <= prevKey || offset <= prevOffset) {
			return nil, nil, ErrCorrupted
		}
		if offset+recordHeaderSize > dataEnd {
			return nil, nil, ErrCorrupted
		}
		keys = append(keys, key)
		offsets = append(offsets, offset)
		prevKey, prevOffset = key, offset
	}
	if len(buf) != 0 {
		return nil, nil, ErrCorrupted
	}
	return keys, offsets, nil
}
