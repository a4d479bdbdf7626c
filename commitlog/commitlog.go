// Package commitlog is the primary storage tier: each ledger is an append-only
// segment file with a position index, sealed once closed.
package commitlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/vx-labs/tiered/ledger"
)

var (
	ErrLedgerAlreadyExists = errors.New("ledger already exists")
	ErrLedgerDoesNotExist  = errors.New("ledger does not exist")
)

// Store holds every ledger of a data directory.
type Store struct {
	datadir string
	mtx     sync.Mutex
}

// CreateOptions describes a new ledger.
type CreateOptions struct {
	Ensemble       []string
	Password       []byte
	CustomMetadata map[string][]byte
}

func logFiles(datadir string) []int64 {
	matches, err := filepath.Glob(fmt.Sprintf("%s/*.log", datadir))
	if err != nil {
		return nil
	}
	out := make([]int64, 0)
	for idx := range matches {
		idStr := strings.TrimSuffix(filepath.Base(matches[idx]), ".log")
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err == nil {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Open opens the store located in datadir, creating the directory if needed.
func Open(datadir string) (*Store, error) {
	err := os.MkdirAll(datadir, 0750)
	if err != nil {
		return nil, err
	}
	return &Store{datadir: datadir}, nil
}

// List returns the ids of all stored ledgers, in ascending order.
func (s *Store) List() []int64 {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return logFiles(s.datadir)
}

// Create starts a new, open, ledger.
func (s *Store) Create(id int64, opts CreateOptions) (*Ledger, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if fileExists(metadataName(s.datadir, id)) || fileExists(segmentName(s.datadir, id)) {
		return nil, ErrLedgerAlreadyExists
	}
	ensemble := opts.Ensemble
	if len(ensemble) == 0 {
		hostname, _ := os.Hostname()
		ensemble = []string{hostname}
	}
	meta := metadataFile{
		LedgerID:       id,
		State:          ledger.StateOpen,
		LastEntryID:    -1,
		Ensemble:       ensemble,
		DigestType:     ledger.DigestCRC32,
		Password:       opts.Password,
		CreationTime:   time.Now().UnixNano() / int64(time.Millisecond),
		CustomMetadata: opts.CustomMetadata,
	}
	seg, err := createSegment(s.datadir, id)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create ledger segment")
	}
	err = writeMetadata(s.datadir, meta)
	if err != nil {
		seg.Delete()
		return nil, errors.Wrap(err, "failed to write ledger metadata")
	}
	return &Ledger{datadir: s.datadir, segment: seg, meta: meta}, nil
}

// OpenLedger returns a read handle on ledger id. Open ledgers may be read up
// to the entries written when the handle was opened.
func (s *Store) OpenLedger(id int64) (ledger.ReadHandle, error) {
	meta, err := readMetadata(s.datadir, id)
	if err != nil {
		if os.IsNotExist(errors.Cause(err)) {
			return nil, ErrLedgerDoesNotExist
		}
		return nil, err
	}
	seg, err := openSegment(s.datadir, id, false)
	if err != nil {
		if err == ErrSegmentDoesNotExist {
			return nil, ErrLedgerDoesNotExist
		}
		return nil, errors.Wrap(err, "failed to open ledger segment")
	}
	return newReadHandle(id, meta, seg), nil
}

// Delete removes ledger id from the store. Deleting a missing ledger is not an error.
func (s *Store) Delete(id int64) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	for _, filename := range []string{segmentName(s.datadir, id), indexName(s.datadir, id), metadataName(s.datadir, id)} {
		err := os.Remove(filename)
		if err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// Ledger is a ledger open for writing.
type Ledger struct {
	mtx     sync.Mutex
	datadir string
	segment *segment
	meta    metadataFile
	closed  bool
}

func (l *Ledger) ID() int64 {
	return l.meta.LedgerID
}

// LastAddConfirmed returns the id of the last written entry, or -1.
func (l *Ledger) LastAddConfirmed() int64 {
	return l.segment.EntryCount() - 1
}

// AddEntry appends payload to the ledger and returns its entry id.
func (l *Ledger) AddEntry(payload []byte) (int64, error) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	if l.closed {
		return 0, ledger.ErrLedgerClosed
	}
	return l.segment.WriteEntry(payload)
}

// Close seals the ledger. It cannot be written anymore, and becomes eligible for offload.
func (l *Ledger) Close() error {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	if l.closed {
		return nil
	}
	err := l.segment.Sync()
	if err != nil {
		return err
	}
	l.meta.State = ledger.StateClosed
	l.meta.LastEntryID = l.segment.EntryCount() - 1
	l.meta.Length = int64(l.segment.Size()) - l.segment.EntryCount()*int64(EntryHeaderSize)
	err = writeMetadata(l.datadir, l.meta)
	if err != nil {
		return errors.Wrap(err, "failed to seal ledger")
	}
	l.closed = true
	return l.segment.Close()
}
