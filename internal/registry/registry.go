// Package registry reads the on-ledger product registry, the source of truth
// for catalog ids, prices, sellers and content hashes.
package registry

import (
	"context"
	"fmt"
)

// Record is the canonical on-ledger view of a product.
type Record struct {
	ID       string `json:"id"`
	Price    string `json:"price"`
	Seller   string `json:"seller"`
	Active   bool   `json:"active"`
	Category string `json:"category"`
	// ContentHash points at the product's rich metadata in content storage.
	ContentHash string `json:"content_hash"`
}

// Registry is the read-only ledger view. Implementations return
// ErrNotFound for unknown ids and ErrSourceOfTruthUnreachable when the
// ledger cannot be reached.
type Registry interface {
	GetProduct(ctx context.Context, id string) (*Record, error)
	ListPage(ctx context.Context, offset, limit int) ([]Record, error)
	TotalCount(ctx context.Context) (int, error)
}

const (
	defaultPageSize = 100
	maxPrealloc     = 1024
)

// ListAll enumerates the registry page by page, bounded by its reported
// total so a registry that keeps growing mid-walk cannot loop forever.
func ListAll(ctx context.Context, reg Registry, pageSize int) ([]Record, error) {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	total, err := reg.TotalCount(ctx)
	if err != nil {
		return nil, err
	}

	// The reported total only bounds the walk; append grows the slice as pages arrive.
	records := make([]Record, 0, max(0, min(total, maxPrealloc)))
	for offset := 0; offset < total; {
		limit := min(pageSize, total-offset)
		page, err := reg.ListPage(ctx, offset, limit)
		if err != nil {
			return nil, fmt.Errorf("list registry page at %d: %w", offset, err)
		}
		if len(page) == 0 {
			break
		}
		if len(page) > limit {
			page = page[:limit]
		}
		records = append(records, page...)
		offset += len(page)
	}
	return records, nil
}
