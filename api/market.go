package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Aidin1998/assetex/internal/admin"
	"github.com/Aidin1998/assetex/internal/fees"
	"github.com/Aidin1998/assetex/internal/funds"
	"github.com/Aidin1998/assetex/internal/listing"
	"github.com/Aidin1998/assetex/internal/marketplace"
	"github.com/Aidin1998/assetex/internal/registry"
	"github.com/Aidin1998/assetex/internal/settlement"
	"github.com/Aidin1998/assetex/pkg/models"
)

// writeError maps service errors onto HTTP statuses
func (s *Server) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, admin.ErrUnauthorized),
		errors.Is(err, listing.ErrNotSeller),
		errors.Is(err, listing.ErrNotOwner):
		status = http.StatusForbidden
	case errors.Is(err, listing.ErrNotListed),
		errors.Is(err, registry.ErrUnknownItem):
		status = http.StatusNotFound
	case errors.Is(err, listing.ErrAlreadyListed),
		errors.Is(err, marketplace.ErrRegistryFixed):
		status = http.StatusConflict
	case errors.Is(err, listing.ErrInvalidPrice),
		errors.Is(err, fees.ErrInvalidPercentage),
		errors.Is(err, funds.ErrInvalidAmount),
		errors.Is(err, settlement.ErrInsufficientPayment),
		errors.Is(err, settlement.ErrSelfPurchase):
		status = http.StatusBadRequest
	case errors.Is(err, funds.ErrInsufficientFunds):
		status = http.StatusPaymentRequired
	case errors.Is(err, settlement.ErrTransferFailed),
		errors.Is(err, settlement.ErrPayoutFailed):
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("handler error", zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// itemIDParam parses the item_id path parameter
func (s *Server) itemIDParam(c *gin.Context) (uint64, bool) {
	itemID, err := strconv.ParseUint(c.Param("item_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid item id"})
		return 0, false
	}
	return itemID, true
}

// pageParams parses limit/offset query parameters
func pageParams(c *gin.Context) (int, int) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil {
		limit = 50
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil {
		offset = 0
	}
	return limit, offset
}

// createListing lists an item for sale, sold by the authenticated principal
func (s *Server) createListing(c *gin.Context) {
	var req models.ListRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	created, err := s.market.List(c.Request.Context(), req.ItemID, req.Price, s.principal(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"listing": created})
}

// buyListing purchases a listed item for the authenticated principal
func (s *Server) buyListing(c *gin.Context) {
	itemID, ok := s.itemIDParam(c)
	if !ok {
		return
	}
	var req models.BuyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sale, err := s.market.Buy(c.Request.Context(), itemID, s.principal(c), req.Payment)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sale": sale})
}

// changeListingPrice reprices an open listing owned by the principal
func (s *Server) changeListingPrice(c *gin.Context) {
	itemID, ok := s.itemIDParam(c)
	if !ok {
		return
	}
	var req models.ChangePriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updated, err := s.market.ChangePrice(c.Request.Context(), itemID, req.NewPrice, s.principal(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"listing": updated})
}

// cancelListing closes an open listing owned by the principal
func (s *Server) cancelListing(c *gin.Context) {
	itemID, ok := s.itemIDParam(c)
	if !ok {
		return
	}

	if err := s.market.Unlist(c.Request.Context(), itemID, s.principal(c)); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"item_id": itemID, "status": "unlisted"})
}

// getListing returns the listing record for an item, open or retired
func (s *Server) getListing(c *gin.Context) {
	itemID, ok := s.itemIDParam(c)
	if !ok {
		return
	}

	found, err := s.market.GetListing(c.Request.Context(), itemID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"listing": found})
}

// getListingsBySeller returns the open listings of one seller
func (s *Server) getListingsBySeller(c *gin.Context) {
	seller := c.Query("seller")
	if seller == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "seller query parameter required"})
		return
	}

	listings, err := s.market.ListingsBySeller(c.Request.Context(), seller)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"seller": seller, "listings": listings})
}

// getIsListed reports whether the item has an open listing
func (s *Server) getIsListed(c *gin.Context) {
	itemID, ok := s.itemIDParam(c)
	if !ok {
		return
	}

	listed, err := s.market.IsListed(c.Request.Context(), itemID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"item_id": itemID, "listed": listed})
}

// getOwnership reports whether a principal owns the item in the registry
func (s *Server) getOwnership(c *gin.Context) {
	itemID, ok := s.itemIDParam(c)
	if !ok {
		return
	}
	principal := c.Query("principal")
	if principal == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "principal query parameter required"})
		return
	}

	owns, err := s.market.OwnsItem(c.Request.Context(), itemID, principal)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"item_id": itemID, "principal": principal, "owns": owns})
}

// getItemSales returns the sale history of one item
func (s *Server) getItemSales(c *gin.Context) {
	itemID, ok := s.itemIDParam(c)
	if !ok {
		return
	}

	sales, err := s.market.SalesOf(c.Request.Context(), itemID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"item_id": itemID, "sales": sales})
}

// getItemSaleCount returns how many times the item has been sold
func (s *Server) getItemSaleCount(c *gin.Context) {
	itemID, ok := s.itemIDParam(c)
	if !ok {
		return
	}

	count, err := s.market.SaleCountOf(c.Request.Context(), itemID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"item_id": itemID, "sale_count": count})
}

// getSalesHistory returns settled sales across all items
func (s *Server) getSalesHistory(c *gin.Context) {
	limit, offset := pageParams(c)

	sales, total, err := s.market.SalesHistory(c.Request.Context(), limit, offset)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sales": sales, "total": total})
}

// getStats returns the aggregate marketplace counters
func (s *Server) getStats(c *gin.Context) {
	totalListings, err := s.market.TotalListings(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	totalSales, err := s.market.TotalSales(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total_active_listings": totalListings,
		"total_sales":           totalSales,
		"fee_percent":           s.market.FeePercent(),
	})
}

// getFeePercent returns the current marketplace fee percentage
func (s *Server) getFeePercent(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"fee_percent": s.market.FeePercent()})
}

// getRecentEvents returns the latest market events, newest first
func (s *Server) getRecentEvents(c *gin.Context) {
	limit, _ := pageParams(c)

	recent, err := s.recorder.Recent(c.Request.Context(), limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": recent})
}

// serveMarketFeed upgrades to a websocket streaming market events. The
// optional since parameter replays buffered events after that sequence.
func (s *Server) serveMarketFeed(c *gin.Context) {
	if s.feed == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event feed disabled"})
		return
	}

	since, err := strconv.ParseUint(c.DefaultQuery("since", "0"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since parameter"})
		return
	}

	s.feed.ServeWS(c.Writer, c.Request, since)
}
