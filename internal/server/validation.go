package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	invoicedomain "github.com/nordbooks/varekost/internal/invoices/domain"
	pricedomain "github.com/nordbooks/varekost/internal/priceledger/domain"
	"github.com/shopspring/decimal"
)

type acceptPriceRequest struct {
	InvoiceLineID string          `json:"invoice_line_id"`
	NewPrice      decimal.Decimal `json:"new_price"`
	ValidFrom     string          `json:"valid_from"`
	Reason        string          `json:"reason"`
}

func (s *Server) AcceptPrice(c *gin.Context) {
	var req acceptPriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	lineID, err := parseOptionalSnowflakeID(req.InvoiceLineID)
	if err != nil || lineID == nil {
		AbortWithError(c, newValidationError("invoice_line_id", "invalid_invoice_line_id", "invalid invoice line id"))
		return
	}
	validFrom, err := parseOptionalTime(req.ValidFrom, false)
	if err != nil {
		AbortWithError(c, newValidationError("valid_from", "invalid_valid_from", "invalid valid_from"))
		return
	}

	report, err := s.invoiceSvc.AcceptPrice(c.Request.Context(), invoicedomain.AcceptPriceRequest{
		LineID:    *lineID,
		NewPrice:  req.NewPrice,
		ValidFrom: validFrom,
		Reason:    req.Reason,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": report})
}

type runCascadeRequest struct {
	SupplierName string `json:"supplier_name"`
	SKU          string `json:"sku"`
	ProductName  string `json:"product_name"`
}

// RunCascade re-runs the reconciliation cascade for a key. Used to recover
// from dropped events or partially completed cascades.
func (s *Server) RunCascade(c *gin.Context) {
	var req runCascadeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	key := pricedomain.Key{
		SupplierName: req.SupplierName,
		SKU:          req.SKU,
		ProductName:  req.ProductName,
	}
	if key.SupplierName == "" || key.Incomplete() {
		AbortWithError(c, newValidationError("supplier_name", "incomplete_key", "supplier and sku or product_name required"))
		return
	}

	updated, err := s.reconciler.RunCascade(c.Request.Context(), key)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"lines_updated": updated}})
}
