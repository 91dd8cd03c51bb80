package storage

import (
	"context"
	"errors"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	apperrors "github.com/charlesng35/ledgercat/pkg/errors"
)

// DualWriteStore writes every upload to a primary and a backup store. The
// primary result is authoritative; a backup failure is only logged.
type DualWriteStore struct {
	primary ContentStore
	backup  ContentStore
	log     *zap.Logger
}

// NewDualWriteStore wraps primary and backup.
func NewDualWriteStore(primary, backup ContentStore, log *zap.Logger) *DualWriteStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &DualWriteStore{primary: primary, backup: backup, log: log}
}

func (s *DualWriteStore) Provider() string { return s.primary.Provider() }

// Unwrap returns the primary store.
func (s *DualWriteStore) Unwrap() ContentStore { return s.primary }

// Backup returns the secondary store.
func (s *DualWriteStore) Backup() ContentStore { return s.backup }

func (s *DualWriteStore) Upload(ctx context.Context, doc *Document) (*UploadResult, error) {
	result, primaryErr := s.primary.Upload(ctx, doc)
	backupResult, backupErr := s.backup.Upload(ctx, doc)

	if primaryErr != nil {
		if backupErr == nil {
			s.log.Warn("backup upload succeeded but primary failed",
				zap.String("primary", s.primary.Provider()),
				zap.String("backup_hash", backupResult.Hash),
				zap.Error(primaryErr),
			)
			return nil, primaryErr
		}
		return nil, apperrors.ErrUploadFailed.WithInternal(multierr.Combine(primaryErr, backupErr))
	}

	if backupErr != nil {
		s.log.Warn("backup upload failed",
			zap.String("primary", s.primary.Provider()),
			zap.String("backup", s.backup.Provider()),
			zap.String("hash", result.Hash),
			zap.Error(backupErr),
		)
		return result, nil
	}

	result.Backup = backupResult
	return result, nil
}

// Fetch reads the primary and falls back to the backup only when every
// primary gateway failed.
func (s *DualWriteStore) Fetch(ctx context.Context, hash string) (*Document, error) {
	doc, err := s.primary.Fetch(ctx, hash)
	if err == nil || !errors.Is(err, apperrors.ErrStorageUnavailable) {
		return doc, err
	}

	s.log.Warn("primary storage unavailable, reading backup",
		zap.String("primary", s.primary.Provider()),
		zap.String("backup", s.backup.Provider()),
		zap.String("hash", hash),
	)
	doc, backupErr := s.backup.Fetch(ctx, hash)
	if backupErr != nil {
		return nil, apperrors.ErrStorageUnavailable.WithInternal(multierr.Combine(err, backupErr))
	}
	return doc, nil
}

func (s *DualWriteStore) IsAvailable(ctx context.Context, hash string) bool {
	return s.primary.IsAvailable(ctx, hash) || s.backup.IsAvailable(ctx, hash)
}

func (s *DualWriteStore) ContentURL(hash string) string {
	return s.primary.ContentURL(hash)
}
