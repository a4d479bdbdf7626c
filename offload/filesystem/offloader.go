// Package filesystem offloads ledgers to a blob bucket, one index file per
// offload attempt.
package filesystem

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"github.com/vx-labs/tiered/indexfile"
	"github.com/vx-labs/tiered/ledger"
	"github.com/vx-labs/tiered/offload"
	"github.com/vx-labs/tiered/scheduler"
	"github.com/vx-labs/tiered/stats"
	"go.uber.org/zap"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
)

const (
	DriverName = offload.DriverFilesystem
	// StorageBasePathKey is the driver metadata key holding the storage base path.
	StorageBasePathKey = "storageBasePath"

	profileURIKey      = "fs-uri"
	profileBasePathKey = "storage-base-path"
)

type segmentWriter interface {
	Append(key int64, value []byte) error
	Close() error
}

// Offloader stores ledgers in a blob bucket.
type Offloader struct {
	policies        offload.Policies
	bucket          *blob.Bucket
	storageBasePath string
	codec           indexfile.Codec
	scheduler       *scheduler.Ordered
	ownScheduler    bool
	assignment      *scheduler.Ordered
	stats           stats.OffloaderStats
	createWriter    func(ctx context.Context, key string) (segmentWriter, error)
}

// loadProfiles merges the comma separated list of YAML profile files.
func loadProfiles(paths string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	for _, path := range strings.Split(paths, ",") {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to load filesystem profile %s", path)
		}
	}
	return v, nil
}

// Create opens the bucket described by the policies and returns an offloader
// writing into it. When sched is nil, the offloader runs its own scheduler.
func Create(ctx context.Context, policies offload.Policies, sched *scheduler.Ordered, st stats.OffloaderStats) (*Offloader, error) {
	profile, err := loadProfiles(policies.FileSystemProfilePath)
	if err != nil {
		return nil, err
	}
	uri := policies.FileSystemURI
	if uri == "" {
		uri = profile.GetString(profileURIKey)
	}
	if uri == "" {
		return nil, errors.New("no filesystem URI configured")
	}
	bucket, err := blob.OpenBucket(ctx, uri)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open bucket %s", uri)
	}
	o, err := New(policies, bucket, profile.GetString(profileBasePathKey), sched, st)
	if err != nil {
		bucket.Close()
		return nil, err
	}
	offload.L(ctx).Info("filesystem offloader started",
		zap.String("fs_uri", uri), zap.String("storage_base_path", o.storageBasePath),
		zap.String("codec", o.codec.String()))
	return o, nil
}

// New returns an offloader writing into bucket, under basePath. The offloader
// owns bucket and closes it on Close.
func New(policies offload.Policies, bucket *blob.Bucket, basePath string, sched *scheduler.Ordered, st stats.OffloaderStats) (*Offloader, error) {
	codec, err := indexfile.ParseCodec(policies.Codec)
	if err != nil {
		return nil, err
	}
	if st == nil {
		st = stats.Noop
	}
	if policies.PrefetchRounds < 1 {
		policies.PrefetchRounds = 1
	}
	o := &Offloader{
		policies:        policies,
		bucket:          bucket,
		storageBasePath: strings.TrimSuffix(basePath, "/"),
		codec:           codec,
		scheduler:       sched,
		assignment:      scheduler.New("offload-assignment", policies.MaxThreads),
		stats:           st,
	}
	if o.scheduler == nil {
		o.scheduler = scheduler.New("offload", policies.SchedulerThreads)
		o.ownScheduler = true
	}
	o.createWriter = o.createIndexFile
	return o, nil
}

func (o *Offloader) createIndexFile(ctx context.Context, key string) (segmentWriter, error) {
	w, err := indexfile.Create(ctx, o.bucket, key, indexfile.Options{Codec: o.codec})
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (o *Offloader) DriverName() string { return DriverName }

func (o *Offloader) DriverMetadata() map[string]string {
	path := o.storageBasePath
	if path == "" {
		path = "null"
	}
	return map[string]string{StorageBasePathKey: path}
}

func (o *Offloader) Policies() offload.Policies { return o.policies }

func (o *Offloader) Offload(ctx context.Context, handle ledger.ReadHandle, id uuid.UUID, extraMetadata map[string]string) *offload.Promise[struct{}] {
	if !handle.IsClosed() || handle.LastAddConfirmed() < 0 {
		return offload.Failed[struct{}](errors.Wrapf(offload.ErrInvalidLedger, "ledger %d", handle.ID()))
	}
	promise := offload.NewPromise[struct{}]()
	task := newOffloadTask(o, handle, id, extraMetadata[offload.ManagedLedgerNameKey], promise)
	err := o.scheduler.Execute(handle.ID(), func() { task.run(ctx) })
	if err != nil {
		promise.Fail(err)
	}
	return promise
}

func (o *Offloader) ReadOffloaded(ctx context.Context, ledgerID int64, id uuid.UUID, driverMetadata map[string]string) *offload.Promise[ledger.ReadHandle] {
	promise := offload.NewPromise[ledger.ReadHandle]()
	name := driverMetadata[offload.ManagedLedgerNameKey]
	key := dataFilePath(storagePath(o.storageBasePath, name), ledgerID, id)
	err := o.scheduler.Execute(ledgerID, func() {
		handle, err := openReadHandle(ctx, o.bucket, key, ledgerID, offload.TopicName(name), o.stats)
		if err != nil {
			offload.L(ctx).Error("failed to open offloaded ledger",
				zap.String("managed_ledger_name", name), zap.Int64("ledger_id", ledgerID),
				zap.String("uuid", id.String()), zap.Error(err))
			promise.Fail(err)
			return
		}
		promise.Complete(handle)
	})
	if err != nil {
		promise.Fail(err)
	}
	return promise
}

func (o *Offloader) DeleteOffloaded(ctx context.Context, ledgerID int64, id uuid.UUID, driverMetadata map[string]string) *offload.Promise[struct{}] {
	promise := offload.NewPromise[struct{}]()
	name := driverMetadata[offload.ManagedLedgerNameKey]
	key := dataFilePath(storagePath(o.storageBasePath, name), ledgerID, id)
	err := o.deleteAll(ctx, key)
	o.stats.RecordDeleteOffloadOps(offload.TopicName(name), err == nil)
	if err != nil {
		offload.L(ctx).Error("failed to delete offloaded ledger",
			zap.String("managed_ledger_name", name), zap.Int64("ledger_id", ledgerID),
			zap.String("uuid", id.String()), zap.Error(err))
		promise.Fail(err)
		return promise
	}
	promise.Complete(struct{}{})
	return promise
}

// Close stops the schedulers, letting queued tasks finish, and closes the bucket.
func (o *Offloader) Close() error {
	if o.ownScheduler {
		o.scheduler.Close()
	}
	o.assignment.Close()
	return o.bucket.Close()
}
