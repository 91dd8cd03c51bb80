package storage

import (
	"context"

	apperrors "github.com/charlesng35/ledgercat/pkg/errors"
)

// UnimplementedStore stands in for a backend that is not live yet. Every
// operation fails with ErrProviderNotImplemented.
type UnimplementedStore struct {
	provider string
}

// NewUnimplementedStore returns a stub for provider.
func NewUnimplementedStore(provider string) *UnimplementedStore {
	return &UnimplementedStore{provider: provider}
}

func (s *UnimplementedStore) Provider() string { return s.provider }

func (s *UnimplementedStore) err() error {
	return apperrors.ErrProviderNotImplemented.WithMessage("storage provider %q is not implemented", s.provider)
}

func (s *UnimplementedStore) Upload(context.Context, *Document) (*UploadResult, error) {
	return nil, s.err()
}

func (s *UnimplementedStore) Fetch(context.Context, string) (*Document, error) {
	return nil, s.err()
}

// IsAvailable never errors, so it reports false.
func (s *UnimplementedStore) IsAvailable(context.Context, string) bool { return false }

func (s *UnimplementedStore) ContentURL(string) string { return "" }
