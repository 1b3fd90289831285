package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Aidin1998/assetex/pkg/models"
)

// PUT /api/v1/admin/market/fee
func (s *Server) setFeePercent(c *gin.Context) {
	var req models.SetFeeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.market.SetFeePercent(c.Request.Context(), s.principal(c), *req.Percent); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"fee_percent": *req.Percent})
}

// PUT /api/v1/admin/market/registry
func (s *Server) setRegistry(c *gin.Context) {
	var req models.SetRegistryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.market.SetRegistry(c.Request.Context(), s.principal(c), req.Address); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"registry_address": req.Address})
}
