package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Aidin1998/assetex/pkg/models"
)

// POST /api/v1/funds/deposit
func (s *Server) depositFunds(c *gin.Context) {
	var req models.FundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	record, err := s.funds.Deposit(c.Request.Context(), s.principal(c), req.Amount)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": record})
}

// POST /api/v1/funds/withdraw
func (s *Server) withdrawFunds(c *gin.Context) {
	var req models.FundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	record, err := s.funds.Withdraw(c.Request.Context(), s.principal(c), req.Amount)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": record})
}

// GET /api/v1/funds/balance
func (s *Server) getFundBalance(c *gin.Context) {
	balance, err := s.funds.BalanceOf(c.Request.Context(), s.principal(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"principal": s.principal(c), "balance": balance})
}

// GET /api/v1/funds/transactions
func (s *Server) listFundTransactions(c *gin.Context) {
	limit, offset := pageParams(c)

	records, total, err := s.funds.History(c.Request.Context(), s.principal(c), limit, offset)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": records, "total": total})
}
