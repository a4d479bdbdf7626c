package commitlog

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sync"
)

var (
	ErrSegmentAlreadyExists = errors.New("segment already exists")
	ErrSegmentDoesNotExist  = errors.New("segment does not exist")
	ErrSegmentCorrupt       = errors.New("segment corrupted")
	ErrSegmentReadOnly      = errors.New("segment is read-only")
)

// segment stores the entries of one ledger, framed and appended one after the
// other, along with an index of their positions.
type segment struct {
	mtx             sync.Mutex
	ledgerID        int64
	currentPosition uint64
	fd              *os.File
	index           *index
	path            string
	writable        bool
}

func segmentName(datadir string, id int64) string {
	return path.Join(datadir, fmt.Sprintf("%d.log", id))
}

func createSegment(datadir string, id int64) (*segment, error) {
	filename := segmentName(datadir, id)
	if fileExists(filename) {
		return nil, ErrSegmentAlreadyExists
	}
	idx, err := createIndex(datadir, id)
	if err != nil {
		return nil, err
	}
	fd, err := os.OpenFile(filename, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0650)
	if err != nil {
		idx.Close()
		os.Remove(idx.FilePath())
		return nil, err
	}
	return &segment{
		path:     filename,
		ledgerID: id,
		index:    idx,
		fd:       fd,
		writable: true,
	}, nil
}

func openSegment(datadir string, id int64, write bool) (*segment, error) {
	filename := segmentName(datadir, id)
	if !fileExists(filename) {
		return nil, ErrSegmentDoesNotExist
	}
	idx, err := openIndex(datadir, id, write)
	if err != nil {
		return nil, err
	}
	perm := os.O_RDONLY
	if write {
		perm = os.O_RDWR
	}
	fd, err := os.OpenFile(filename, perm, 0650)
	if err != nil {
		idx.Close()
		return nil, err
	}
	position, err := fd.Seek(0, io.SeekEnd)
	if err != nil {
		idx.Close()
		fd.Close()
		return nil, err
	}
	s := &segment{
		path:            filename,
		ledgerID:        id,
		currentPosition: uint64(position),
		index:           idx,
		fd:              fd,
		writable:        write,
	}
	if err := s.checkIntegrity(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// checkIntegrity verifies the last indexed entry is fully present in the segment file.
func (s *segment) checkIntegrity() error {
	count := s.index.Count()
	if count == 0 {
		return nil
	}
	position, err := s.index.readPosition(count - 1)
	if err != nil {
		return ErrSegmentCorrupt
	}
	header := make([]byte, EntryHeaderSize)
	if _, err := s.fd.ReadAt(header, int64(position)); err != nil {
		return ErrSegmentCorrupt
	}
	end := position + uint64(EntryHeaderSize) + encoding.Uint64(header[0:8])
	if end > s.currentPosition {
		return ErrSegmentCorrupt
	}
	return nil
}

func (s *segment) FilePath() string {
	return s.path
}

// EntryCount returns the number of entries stored in the segment.
func (s *segment) EntryCount() int64 {
	return s.index.Count()
}

// Size returns the segment file size, in bytes.
func (s *segment) Size() uint64 {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.currentPosition
}

func (s *segment) Sync() error {
	if err := s.fd.Sync(); err != nil {
		return ErrFSyncFailed
	}
	return s.index.Sync()
}

func (s *segment) Close() error {
	err := s.index.Close()
	if err != nil {
		return err
	}
	return s.fd.Close()
}

func (s *segment) Delete() error {
	s.Close()
	err := os.Remove(s.index.FilePath())
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	err = os.Remove(s.FilePath())
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// WriteEntry appends value and returns its entry id.
func (s *segment) WriteEntry(value []byte) (int64, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if !s.writable {
		return 0, ErrSegmentReadOnly
	}
	entryID := s.index.Count()
	n, err := writeEntry(newEntry(entryID, value), &writerAt{pos: s.currentPosition, w: s.fd})
	if err != nil {
		return 0, err
	}
	err = s.index.writePosition(entryID, s.currentPosition)
	if err != nil {
		// Index update failed: return an error and do not update write cursor
		return 0, err
	}
	s.currentPosition += uint64(n)
	return entryID, nil
}

// ReadEntryAt reads the entry entryID, reusing body as its buffer when possible.
func (s *segment) ReadEntryAt(header []byte, body *[]byte, entryID int64) (Entry, error) {
	position, err := s.index.readPosition(entryID)
	if err != nil {
		return nil, err
	}
	e, err := readEntry(&readerAt{pos: position, r: s.fd}, header, body)
	if err != nil {
		return nil, err
	}
	if e.EntryID() != entryID || !e.IsValid() {
		return nil, ErrCorruptedEntry
	}
	return e, nil
}
