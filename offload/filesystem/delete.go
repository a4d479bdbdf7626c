package filesystem

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// deleteAll removes key and every object stored under key + "/". Missing
// objects are not an error.
func (o *Offloader) deleteAll(ctx context.Context, key string) error {
	err := o.bucket.Delete(ctx, key)
	if err != nil && gcerrors.Code(err) != gcerrors.NotFound {
		return errors.Wrapf(err, "failed to delete %s", key)
	}
	iter := o.bucket.List(&blob.ListOptions{Prefix: key + "/"})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "failed to list %s", key)
		}
		if obj.IsDir {
			continue
		}
		err = o.bucket.Delete(ctx, obj.Key)
		if err != nil && gcerrors.Code(err) != gcerrors.NotFound {
			return errors.Wrapf(err, "failed to delete %s", obj.Key)
		}
	}
}
