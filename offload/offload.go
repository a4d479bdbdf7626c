// Package offload defines the contract of ledger offloaders, which copy sealed
// ledgers from the primary storage tier into a bulk storage tier, and read
// them back.
package offload

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/vx-labs/tiered/ledger"
)

const (
	// ManagedLedgerNameKey is the extra metadata key carrying the managed ledger name.
	ManagedLedgerNameKey = "ManagedLedgerName"
	// MetadataKey is the index file key holding the encoded ledger metadata.
	MetadataKey int64 = -1
	// EntriesPerRead is the size of the entry batches read from the source ledger.
	EntriesPerRead = 100
)

var (
	ErrInvalidLedger     = errors.New("ledger must be closed and hold at least one entry")
	ErrInterrupted       = errors.New("offload interrupted")
	ErrOffloadDisabled   = errors.New("offload is disabled")
	ErrUnsupportedDriver = errors.New("unsupported offload driver")
)

// Offloader copies ledgers to a storage tier, reads them back and deletes them.
// Every operation reports its result through the returned promise.
type Offloader interface {
	DriverName() string
	DriverMetadata() map[string]string
	Offload(ctx context.Context, handle ledger.ReadHandle, id uuid.UUID, extraMetadata map[string]string) *Promise[struct{}]
	ReadOffloaded(ctx context.Context, ledgerID int64, id uuid.UUID, driverMetadata map[string]string) *Promise[ledger.ReadHandle]
	DeleteOffloaded(ctx context.Context, ledgerID int64, id uuid.UUID, driverMetadata map[string]string) *Promise[struct{}]
	Policies() Policies
	Close() error
}
