// Package catalog records offload attempts, so offloaded ledgers can be found,
// read back and deleted after a restart.
package catalog

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger"
	"github.com/google/uuid"
	ulid "github.com/oklog/ulid/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	ErrRecordNotFound = errors.New("offload record not found")
)

// State is the progress of an offload attempt.
type State string

const (
	StatePending  State = "pending"
	StateComplete State = "complete"
	StateFailed   State = "failed"
)

// Record describes one offload attempt of a ledger.
type Record struct {
	ID                string            `json:"id"`
	ManagedLedgerName string            `json:"managed_ledger_name"`
	LedgerID          int64             `json:"ledger_id"`
	UUID              uuid.UUID         `json:"uuid"`
	DriverName        string            `json:"driver_name"`
	DriverMetadata    map[string]string `json:"driver_metadata"`
	State             State             `json:"state"`
	Bytes             int64             `json:"bytes"`
	Entries           int64             `json:"entries"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// Key returns the storage key of r.
func (r Record) Key() []byte {
	return recordKey(r.ManagedLedgerName, r.LedgerID, r.UUID)
}

func ledgerPrefix(name string, ledgerID int64) []byte {
	return []byte(fmt.Sprintf("offload/%s/%020d/", name, ledgerID))
}

func recordKey(name string, ledgerID int64, id uuid.UUID) []byte {
	return append(ledgerPrefix(name, ledgerID), id.String()...)
}

// Prefix returns the key prefix of the records of a managed ledger. An empty
// name selects every record.
func Prefix(name string) []byte {
	if name == "" {
		return []byte("offload/")
	}
	return []byte("offload/" + name + "/")
}

type badgerLogger struct {
	l *zap.SugaredLogger
}

func (b badgerLogger) Errorf(f string, v ...interface{})   { b.l.Errorf(f, v...) }
func (b badgerLogger) Warningf(f string, v ...interface{}) { b.l.Warnf(f, v...) }
func (b badgerLogger) Infof(f string, v ...interface{})    { b.l.Debugf(f, v...) }
func (b badgerLogger) Debugf(f string, v ...interface{})   { b.l.Debugf(f, v...) }

// Catalog stores offload records in a badger database.
type Catalog struct {
	db      *badger.DB
	mtx     sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// Open opens, or creates, the catalog stored in datadir.
func Open(datadir string, logger *zap.Logger) (*Catalog, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := badger.DefaultOptions(datadir).
		WithLogger(badgerLogger{l: logger.With(zap.String("emitter", "badger")).Sugar()}).
		WithSyncWrites(true)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open offload catalog")
	}
	return &Catalog{db: db, entropy: ulid.Monotonic(rand.Reader, 0)}, nil
}

// NewRecord returns a pending record with a fresh time-ordered id.
func (c *Catalog) NewRecord(name string, ledgerID int64, id uuid.UUID, driverName string, driverMetadata map[string]string) Record {
	now := time.Now()
	c.mtx.Lock()
	recordID := ulid.MustNew(ulid.Timestamp(now), c.entropy)
	c.mtx.Unlock()
	return Record{
		ID:                recordID.String(),
		ManagedLedgerName: name,
		LedgerID:          ledgerID,
		UUID:              id,
		DriverName:        driverName,
		DriverMetadata:    driverMetadata,
		State:             StatePending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// Put inserts or replaces r.
func (c *Catalog) Put(r Record) error {
	buf, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(r.Key(), buf)
	})
}

func decodeRecord(item *badger.Item) (Record, error) {
	r := Record{}
	buf, err := item.ValueCopy(nil)
	if err != nil {
		return r, err
	}
	err = json.Unmarshal(buf, &r)
	if err != nil {
		return r, errors.Wrapf(err, "failed to decode offload record %s", item.Key())
	}
	return r, nil
}

func (c *Catalog) Get(name string, ledgerID int64, id uuid.UUID) (Record, error) {
	var r Record
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(name, ledgerID, id))
		if err == badger.ErrKeyNotFound {
			return ErrRecordNotFound
		}
		if err != nil {
			return err
		}
		r, err = decodeRecord(item)
		return err
	})
	return r, err
}

// List returns the records whose key starts with prefix, in key order.
func (c *Catalog) List(prefix []byte) ([]Record, error) {
	out := []Record{}
	err := c.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			r, err := decodeRecord(it.Item())
			if err != nil {
				return err
			}
			out = append(out, r)
		}
		return nil
	})
	return out, err
}

// Attempts returns every recorded attempt of a ledger.
func (c *Catalog) Attempts(name string, ledgerID int64) ([]Record, error) {
	return c.List(ledgerPrefix(name, ledgerID))
}

// Latest returns the most recently created complete attempt of a ledger.
func (c *Catalog) Latest(name string, ledgerID int64) (Record, error) {
	records, err := c.Attempts(name, ledgerID)
	if err != nil {
		return Record{}, err
	}
	var latest *Record
	for idx := range records {
		r := &records[idx]
		if r.State != StateComplete {
			continue
		}
		if latest == nil || r.ID > latest.ID {
			latest = r
		}
	}
	if latest == nil {
		return Record{}, ErrRecordNotFound
	}
	return *latest, nil
}

// Delete removes a record. Missing records are not an error.
func (c *Catalog) Delete(name string, ledgerID int64, id uuid.UUID) error {
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(recordKey(name, ledgerID, id))
	})
}

func (c *Catalog) Close() error {
	return c.db.Close()
}
