package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Utilization handles GET /api/v1/providers/:provider_id/utilization
func (h *ProviderHandler) Utilization(c *gin.Context) {
	u, err := h.providers.Utilization(c.Request.Context(), c.Param("provider_id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

// Products handles GET /api/v1/providers/:provider_id/products
func (h *ProviderHandler) Products(c *gin.Context) {
	manifest, err := h.providers.Manifest(c.Request.Context(), c.Param("provider_id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, manifest.Products)
}
