package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/ledgercat/internal/catalog"
	apperrors "github.com/charlesng35/ledgercat/pkg/errors"
	"github.com/charlesng35/ledgercat/pkg/response"
)

// ProductHandler serves catalog reads through the cache.
type ProductHandler struct {
	cache *catalog.Cache
}

// NewProductHandler constructs a product handler.
func NewProductHandler(cache *catalog.Cache) (*ProductHandler, error) {
	if cache == nil {
		return nil, apperrors.ErrInternalServer.WithMessage("catalog cache is required")
	}
	return &ProductHandler{cache: cache}, nil
}

// Get returns a product. Degraded reads are still 200 with meta.stale set.
//
// GET /api/products/:id?refresh=true
func (h *ProductHandler) Get(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		response.Error(c, apperrors.NewBadRequest("product id is required"))
		return
	}

	product, err := h.cache.GetProduct(c.Request.Context(), id, catalog.GetOptions{
		ForceRefresh: parseBoolQuery(c, "refresh", false),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	cachedAt, expiresAt := product.CachedAt, product.ExpiresAt
	response.SuccessWithMeta(c, http.StatusOK, product, &response.Meta{
		Stale:     product.Stale(),
		CachedAt:  &cachedAt,
		ExpiresAt: &expiresAt,
	})
}

// Delete removes the cached entry for an id.
//
// DELETE /api/products/:id
func (h *ProductHandler) Delete(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		response.Error(c, apperrors.NewBadRequest("product id is required"))
		return
	}

	if err := h.cache.Remove(c.Request.Context(), id); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"removed": id})
}
