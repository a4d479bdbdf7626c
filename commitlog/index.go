package commitlog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path"
	"sync"
)

const (
	indexValueSize = 8
)

var encoding = binary.BigEndian

var (
	ErrIndexAlreadyExists = errors.New("index already exists")
	ErrIndexDoesNotExist  = errors.New("index does not exist")
	ErrIndexCorrupt       = errors.New("index corrupt")
	ErrFSyncFailed        = errors.New("file sync failed")
	ErrEntryNotIndexed    = errors.New("entry is not indexed")
)

// index maps entry ids to their position in the segment file. Entries are
// indexed in id order, one fixed-width slot each.
type index struct {
	mtx   sync.Mutex
	path  string
	fd    *os.File
	count int64
}

func indexName(datadir string, id int64) string {
	return path.Join(datadir, fmt.Sprintf("%d.index", id))
}

func createIndex(datadir string, id int64) (*index, error) {
	filename := indexName(datadir, id)
	if fileExists(filename) {
		return nil, ErrIndexAlreadyExists
	}
	fd, err := os.OpenFile(filename, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0650)
	if err != nil {
		return nil, err
	}
	return &index{fd: fd, path: filename}, nil
}

func openIndex(datadir string, id int64, write bool) (*index, error) {
	filename := indexName(datadir, id)
	if !fileExists(filename) {
		return nil, ErrIndexDoesNotExist
	}
	perm := os.O_RDONLY
	if write {
		perm = os.O_RDWR
	}
	fd, err := os.OpenFile(filename, perm, 0650)
	if err != nil {
		return nil, err
	}
	info, err := fd.Stat()
	if err != nil {
		fd.Close()
		return nil, err
	}
	if info.Size()%indexValueSize != 0 {
		fd.Close()
		return nil, ErrIndexCorrupt
	}
	return &index{fd: fd, path: filename, count: info.Size() / indexValueSize}, nil
}

func (i *index) FilePath() string {
	return i.path
}

func (i *index) Count() int64 {
	i.mtx.Lock()
	defer i.mtx.Unlock()
	return i.count
}

func (i *index) Sync() error {
	if err := i.fd.Sync(); err != nil {
		return ErrFSyncFailed
	}
	return nil
}

func (i *index) Close() error {
	return i.fd.Close()
}

// writePosition appends the position of the next entry.
func (i *index) writePosition(entryID int64, position uint64) error {
	i.mtx.Lock()
	defer i.mtx.Unlock()
	if entryID != i.count {
		return ErrIndexCorrupt
	}
	buf := make([]byte, indexValueSize)
	encoding.PutUint64(buf, position)
	_, err := (&writerAt{pos: uint64(entryID * indexValueSize), w: i.fd}).Write(buf)
	if err != nil {
		return err
	}
	i.count++
	return nil
}

func (i *index) readPosition(entryID int64) (uint64, error) {
	if entryID < 0 || entryID >= i.Count() {
		return 0, ErrEntryNotIndexed
	}
	buf := make([]byte, indexValueSize)
	_, err := i.fd.ReadAt(buf, entryID*indexValueSize)
	if err != nil {
		return 0, err
	}
	return encoding.Uint64(buf), nil
}
