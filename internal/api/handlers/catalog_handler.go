package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

// CatalogInvalidator drops the cached catalog snapshot.
type CatalogInvalidator interface {
	Invalidate(ctx context.Context) error
}

type CatalogHandler struct {
	catalog CatalogInvalidator
}

func NewCatalogHandler(catalog CatalogInvalidator) *CatalogHandler {
	return &CatalogHandler{catalog: catalog}
}

// Invalidate is called by the catalog sync job after it writes products, so
// the next model context sees fresh data.
func (h *CatalogHandler) Invalidate(c *gin.Context) {
	if err := h.catalog.Invalidate(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "invalidated"})
}
