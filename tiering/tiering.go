// Package tiering moves ledgers of a managed ledger between storage tiers, and
// keeps track of every offload attempt in the catalog.
package tiering

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/vx-labs/tiered/catalog"
	"github.com/vx-labs/tiered/ledger"
	"github.com/vx-labs/tiered/offload"
	"go.uber.org/zap"
)

var ErrDriverMismatch = errors.New("ledger was offloaded by another driver")

// Source is the primary storage tier.
type Source interface {
	OpenLedger(id int64) (ledger.ReadHandle, error)
}

type Manager struct {
	source    Source
	offloader offload.Offloader
	catalog   *catalog.Catalog
}

func NewManager(source Source, offloader offload.Offloader, c *catalog.Catalog) *Manager {
	return &Manager{source: source, offloader: offloader, catalog: c}
}

func (m *Manager) driverMetadata(name string) map[string]string {
	out := map[string]string{}
	for k, v := range m.offloader.DriverMetadata() {
		out[k] = v
	}
	out[offload.ManagedLedgerNameKey] = name
	return out
}

// Offload copies a sealed ledger to the offload tier. A failed attempt is
// removed from the offload tier and recorded as failed.
func (m *Manager) Offload(ctx context.Context, name string, ledgerID int64) (catalog.Record, error) {
	handle, err := m.source.OpenLedger(ledgerID)
	if err != nil {
		return catalog.Record{}, errors.Wrapf(err, "failed to open ledger %d", ledgerID)
	}
	defer handle.Close()

	record := m.catalog.NewRecord(name, ledgerID, uuid.New(), m.offloader.DriverName(), m.driverMetadata(name))
	if err := m.catalog.Put(record); err != nil {
		return record, err
	}
	ctx = offload.AddFields(ctx, zap.String("record_id", record.ID))
	// Wait for the offload to settle even once ctx is done: cleanup must not race the writer.
	_, err = m.offloader.Offload(ctx, handle, record.UUID, map[string]string{
		offload.ManagedLedgerNameKey: name,
	}).Get(context.WithoutCancel(ctx))
	record.UpdatedAt = time.Now()
	if err != nil {
		_, deleteErr := m.offloader.DeleteOffloaded(context.WithoutCancel(ctx), ledgerID, record.UUID, record.DriverMetadata).Get(context.WithoutCancel(ctx))
		if deleteErr != nil {
			offload.L(ctx).Warn("failed to clean up failed offload attempt", zap.Error(deleteErr))
		}
		record.State = catalog.StateFailed
		if putErr := m.catalog.Put(record); putErr != nil {
			offload.L(ctx).Warn("failed to record failed offload attempt", zap.Error(putErr))
		}
		return record, err
	}
	record.State = catalog.StateComplete
	record.Entries = handle.LastAddConfirmed() + 1
	record.Bytes = handle.Length()
	if err := m.catalog.Put(record); err != nil {
		return record, err
	}
	return record, nil
}

// Open returns a handle reading the ledger from the offload tier when it was
// offloaded, and from the primary tier otherwise.
func (m *Manager) Open(ctx context.Context, name string, ledgerID int64) (ledger.ReadHandle, error) {
	record, err := m.catalog.Latest(name, ledgerID)
	if err == catalog.ErrRecordNotFound {
		return m.source.OpenLedger(ledgerID)
	}
	if err != nil {
		return nil, err
	}
	if record.DriverName != m.offloader.DriverName() {
		return nil, errors.Wrapf(ErrDriverMismatch, "offloaded with %q, configured %q", record.DriverName, m.offloader.DriverName())
	}
	return m.offloader.ReadOffloaded(ctx, ledgerID, record.UUID, record.DriverMetadata).Get(ctx)
}

// Delete removes every offload attempt of a ledger, and their records.
func (m *Manager) Delete(ctx context.Context, name string, ledgerID int64) (int, error) {
	records, err := m.catalog.Attempts(name, ledgerID)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, record := range records {
		if record.DriverName != m.offloader.DriverName() {
			return deleted, errors.Wrapf(ErrDriverMismatch, "attempt %s", record.UUID)
		}
		_, err := m.offloader.DeleteOffloaded(ctx, ledgerID, record.UUID, record.DriverMetadata).Get(ctx)
		if err != nil {
			return deleted, err
		}
		if err := m.catalog.Delete(name, ledgerID, record.UUID); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

// Records lists the offload attempts of a managed ledger, or of every
// managed ledger when name is empty.
func (m *Manager) Records(name string) ([]catalog.Record, error) {
	return m.catalog.List(catalog.Prefix(name))
}
