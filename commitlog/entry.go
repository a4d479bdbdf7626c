package commitlog

import (
	"bytes"
	"errors"
	"hash/crc32"
	"io"
)

var (
	ErrInvalidBufferSize        = errors.New("invalid buffer size")
	ErrEntryTooBig              = errors.New("entry is too big")
	ErrCorruptedEntry           = errors.New("entry corrupted")
	MaxEntrySize         uint64 = 20000000
)

const (
	checksumSize    int = 4
	EntryHeaderSize int = 8 + 8 + checksumSize
)

type Entry interface {
	Size() uint64
	EntryID() int64
	Checksum() []byte
	Payload() []byte
	IsValid() bool
}

type entry struct {
	payloadSize uint64
	entryID     int64
	checksum    []byte
	payload     []byte
}

func hash(b []byte) []byte {
	crc := crc32.NewIEEE()
	crc.Write(b)
	return crc.Sum(nil)
}

func (e entry) Size() uint64     { return e.payloadSize }
func (e entry) EntryID() int64   { return e.entryID }
func (e entry) Payload() []byte  { return e.payload }
func (e entry) Checksum() []byte { return e.checksum }
func (e entry) IsValid() bool    { return bytes.Equal(hash(e.payload), e.checksum) }

func newEntry(entryID int64, payload []byte) Entry {
	return entry{
		payloadSize: uint64(len(payload)),
		entryID:     entryID,
		checksum:    hash(payload),
		payload:     payload,
	}
}

// readEntry reads one framed entry from r. body is reused when large enough,
// and grown otherwise.
func readEntry(r io.Reader, header []byte, body *[]byte) (Entry, error) {
	if len(header) != EntryHeaderSize {
		return nil, ErrInvalidBufferSize
	}
	_, err := io.ReadFull(r, header)
	if err != nil {
		return nil, err
	}
	payloadSize := encoding.Uint64(header[0:8])
	if payloadSize > MaxEntrySize {
		return nil, ErrEntryTooBig
	}
	total := int(payloadSize) + EntryHeaderSize
	if cap(*body) < total {
		*body = make([]byte, total)
	}
	buf := (*body)[:total]
	copy(buf[0:EntryHeaderSize], header)
	_, err = io.ReadFull(r, buf[EntryHeaderSize:])
	if err != nil {
		return nil, err
	}
	*body = buf
	return decodeEntry(buf), nil
}

func decodeEntry(buf []byte) Entry {
	return &entry{
		payloadSize: encoding.Uint64(buf[0:8]),
		entryID:     int64(encoding.Uint64(buf[8:16])),
		checksum:    buf[16 : 16+checksumSize],
		payload:     buf[16+checksumSize:],
	}
}

func writeEntry(e Entry, w io.Writer) (int, error) {
	if e.Size() > MaxEntrySize {
		return 0, ErrEntryTooBig
	}
	buf := make([]byte, EntryHeaderSize+int(e.Size()))
	encoding.PutUint64(buf[0:8], e.Size())
	encoding.PutUint64(buf[8:16], uint64(e.EntryID()))
	copy(buf[16:20], e.Checksum())
	copy(buf[20:], e.Payload())
	return w.Write(buf)
}
