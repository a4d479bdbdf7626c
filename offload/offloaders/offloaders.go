// Package offloaders builds the offloader selected by configuration.
package offloaders

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/vx-labs/tiered/offload"
	"github.com/vx-labs/tiered/offload/filesystem"
	"github.com/vx-labs/tiered/scheduler"
	"github.com/vx-labs/tiered/stats"
)

// Create returns the offloader implementing policies.Driver. An empty driver
// name disables offloading.
func Create(ctx context.Context, policies offload.Policies, sched *scheduler.Ordered, st stats.OffloaderStats) (offload.Offloader, error) {
	switch strings.ToLower(policies.Driver) {
	case offload.DriverFilesystem:
		o, err := filesystem.Create(ctx, policies, sched, st)
		if err != nil {
			return nil, err
		}
		return o, nil
	case "", offload.DriverNone:
		return offload.NewNullLedgerOffloader(policies), nil
	default:
		return nil, errors.Wrap(offload.ErrUnsupportedDriver, policies.Driver)
	}
}

// Supported reports whether driver names a known offloader.
func Supported(driver string) bool {
	switch strings.ToLower(driver) {
	case offload.DriverFilesystem, offload.DriverNone, "":
		return true
	}
	return false
}
