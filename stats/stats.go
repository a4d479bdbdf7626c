// Package stats collects offloader telemetry.
package stats

import "time"

// OffloaderStats receives per-topic offload and read-back measurements.
type OffloaderStats interface {
	RecordOffloadError(topic string)
	RecordOffloadBytes(topic string, size int64)
	RecordReadLedgerLatency(topic string, latency time.Duration)
	RecordWriteToStorageError(topic string)
	RecordReadOffloadError(topic string)
	RecordReadOffloadBytes(topic string, size int64)
	RecordReadOffloadIndexLatency(topic string, latency time.Duration)
	RecordReadOffloadDataLatency(topic string, latency time.Duration)
	RecordDeleteOffloadOps(topic string, succeed bool)
}

type noop struct{}

// Noop discards every measurement.
var Noop OffloaderStats = noop{}

func (noop) RecordOffloadError(string)                           {}
func (noop) RecordOffloadBytes(string, int64)                    {}
func (noop) RecordReadLedgerLatency(string, time.Duration)       {}
func (noop) RecordWriteToStorageError(string)                    {}
func (noop) RecordReadOffloadError(string)                       {}
func (noop) RecordReadOffloadBytes(string, int64)                {}
func (noop) RecordReadOffloadIndexLatency(string, time.Duration) {}
func (noop) RecordReadOffloadDataLatency(string, time.Duration)  {}
func (noop) RecordDeleteOffloadOps(string, bool)                 {}
