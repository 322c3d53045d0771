package flatdb

import (
	"context"

	"github.com/hupe1980/flatdb/backup"
	"github.com/hupe1980/flatdb/blobstore"
)

var _ backup.Source = (*Store[int64])(nil)

// Backup writes the store file up to its extent into bs as the backup
// name and makes it the current backup. The store's logger and resource
// controller are used unless opts override them.
//
// Take a backup before Merge when the destination must be recoverable:
// a failed merge leaves the records copied so far in place.
func (s *Store[K]) Backup(ctx context.Context, bs blobstore.BlobStore, name string, opts ...backup.Option) (*backup.Manifest, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if err := s.acc.Flush(); err != nil {
		return nil, translateError(err)
	}
	defer s.sequential()()

	optFns := append([]backup.Option{
		backup.WithLogger(s.logger.Logger),
		backup.WithResourceController(s.resources),
	}, opts...)
	return backup.Write(ctx, s, bs, name, optFns...)
}
