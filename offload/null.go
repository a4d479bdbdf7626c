package offload

import (
	"context"

	"github.com/google/uuid"
	"github.com/vx-labs/tiered/ledger"
)

// NullLedgerOffloader is used when offloading is not configured. Offload and
// read-back fail with ErrOffloadDisabled; deletion succeeds.
type NullLedgerOffloader struct {
	policies Policies
}

func NewNullLedgerOffloader(policies Policies) *NullLedgerOffloader {
	return &NullLedgerOffloader{policies: policies}
}

func (NullLedgerOffloader) DriverName() string { return DriverNone }
func (NullLedgerOffloader) DriverMetadata() map[string]string {
	return map[string]string{}
}
func (NullLedgerOffloader) Offload(context.Context, ledger.ReadHandle, uuid.UUID, map[string]string) *Promise[struct{}] {
	return Failed[struct{}](ErrOffloadDisabled)
}
func (NullLedgerOffloader) ReadOffloaded(context.Context, int64, uuid.UUID, map[string]string) *Promise[ledger.ReadHandle] {
	return Failed[ledger.ReadHandle](ErrOffloadDisabled)
}
func (NullLedgerOffloader) DeleteOffloaded(context.Context, int64, uuid.UUID, map[string]string) *Promise[struct{}] {
	p := NewPromise[struct{}]()
	p.Complete(struct{}{})
	return p
}
func (o NullLedgerOffloader) Policies() Policies { return o.policies }
func (NullLedgerOffloader) Close() error         { return nil }
