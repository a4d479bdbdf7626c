// Package ledger describes closed, immutable sequences of entries as they are
// consumed by the offload pipeline, regardless of the tier they are stored in.
package ledger

import (
	"context"
	"errors"
	"io"
)

var (
	ErrInvalidRange               = errors.New("invalid entry range")
	ErrReadBeyondLastAddConfirmed = errors.New("trying to read beyond last add confirmed")
	ErrLedgerClosed               = errors.New("ledger is closed")
)

// State is the lifecycle state of a ledger.
type State int32

const (
	StateOpen       State = 1
	StateInRecovery State = 2
	StateClosed     State = 3
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateInRecovery:
		return "in_recovery"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// DigestType is the checksum algorithm protecting ledger entries.
type DigestType int32

const (
	DigestCRC32  DigestType = 1
	DigestHMAC   DigestType = 2
	DigestCRC32C DigestType = 3
	DigestDummy  DigestType = 4
)

// Segment lists the storage nodes holding entries starting at FirstEntryID.
type Segment struct {
	FirstEntryID int64
	Ensemble     []string
}

// Metadata is the descriptive part of a ledger.
type Metadata struct {
	QuorumSize     int32
	EnsembleSize   int32
	AckQuorumSize  int32
	Length         int64
	LastEntryID    int64
	State          State
	Segments       []Segment
	DigestType     DigestType
	Password       []byte
	CreationTime   int64
	CustomMetadata map[string][]byte
}

func (m Metadata) IsClosed() bool {
	return m.State == StateClosed
}

type Entry interface {
	LedgerID() int64
	EntryID() int64
	Length() int64
	Bytes() []byte
}

// Entries is a batch of entries returned by a range read. It must be closed
// once the entries are no longer used, so their buffers can be recycled.
type Entries interface {
	io.Closer
	Entries() []Entry
}

// ReadHandle gives read access to a single ledger.
type ReadHandle interface {
	io.Closer
	ID() int64
	Metadata() Metadata
	IsClosed() bool
	LastAddConfirmed() int64
	Length() int64
	// Read returns entries first to last, both inclusive.
	Read(ctx context.Context, first, last int64) (Entries, error)
	ReadLastAddConfirmed(ctx context.Context) (int64, error)
}

// CheckRange validates a read request against the ledger last add confirmed.
func CheckRange(first, last, lastAddConfirmed int64) error {
	if first < 0 || first > last {
		return ErrInvalidRange
	}
	if last > lastAddConfirmed {
		return ErrReadBeyondLastAddConfirmed
	}
	return nil
}

type entry struct {
	ledgerID int64
	entryID  int64
	payload  []byte
}

func (e entry) LedgerID() int64 { return e.ledgerID }
func (e entry) EntryID() int64  { return e.entryID }
func (e entry) Length() int64   { return int64(len(e.payload)) }
func (e entry) Bytes() []byte   { return e.payload }

// NewEntry returns an Entry holding payload.
func NewEntry(ledgerID, entryID int64, payload []byte) Entry {
	return entry{ledgerID: ledgerID, entryID: entryID, payload: payload}
}

type entries struct {
	list    []Entry
	release func()
}

func (e *entries) Entries() []Entry { return e.list }
func (e *entries) Close() error {
	if e.release != nil {
		e.release()
		e.release = nil
	}
	e.list = nil
	return nil
}

// NewEntries wraps a list of entries. release is called once, on Close, and may be nil.
func NewEntries(list []Entry, release func()) Entries {
	return &entries{list: list, release: release}
}
