package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	pricedomain "github.com/nordbooks/varekost/internal/priceledger/domain"
	"github.com/shopspring/decimal"
)

type createPriceRecordRequest struct {
	SupplierName string          `json:"supplier_name"`
	SKU          string          `json:"sku"`
	ProductName  string          `json:"product_name"`
	Currency     string          `json:"currency"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	Activate     bool            `json:"activate"`
	ValidFrom    string          `json:"valid_from"`
	Note         string          `json:"note"`
	CreatedBy    string          `json:"created_by"`
}

func (s *Server) CreatePriceRecord(c *gin.Context) {
	var req createPriceRecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	validFrom, err := parseOptionalTime(req.ValidFrom, false)
	if err != nil {
		AbortWithError(c, newValidationError("valid_from", "invalid_valid_from", "invalid valid_from"))
		return
	}

	currency := req.Currency
	if strings.TrimSpace(currency) == "" {
		currency = s.cfg.DefaultCurrency
	}

	record, err := s.ledgerSvc.Create(c.Request.Context(), pricedomain.CreateRequest{
		SupplierName: req.SupplierName,
		SKU:          req.SKU,
		ProductName:  req.ProductName,
		Currency:     currency,
		UnitPrice:    req.UnitPrice,
		Activate:     req.Activate,
		ValidFrom:    validFrom,
		Note:         req.Note,
		CreatedBy:    req.CreatedBy,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": record})
}

func (s *Server) ListPriceRecords(c *gin.Context) {
	limit, offset := parsePagination(c)
	records, err := s.ledgerSvc.List(c.Request.Context(), pricedomain.ListFilter{
		SupplierName: strings.TrimSpace(c.Query("supplier_name")),
		SKU:          strings.TrimSpace(c.Query("sku")),
		ProductName:  strings.TrimSpace(c.Query("product_name")),
		Status:       pricedomain.Status(strings.TrimSpace(c.Query("status"))),
		Limit:        limit,
		Offset:       offset,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": records})
}

func (s *Server) GetPriceRecord(c *gin.Context) {
	id, err := parsePathID(c)
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	record, err := s.ledgerSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": record})
}

type activatePriceRecordRequest struct {
	ValidFrom string `json:"valid_from"`
}

func (s *Server) ActivatePriceRecord(c *gin.Context) {
	id, err := parsePathID(c)
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}
	var req activatePriceRecordRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		AbortWithError(c, invalidRequestError())
		return
	}
	validFrom, err := parseOptionalTime(req.ValidFrom, false)
	if err != nil {
		AbortWithError(c, newValidationError("valid_from", "invalid_valid_from", "invalid valid_from"))
		return
	}

	record, err := s.ledgerSvc.Activate(c.Request.Context(), id, validFrom)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": record})
}

type updatePriceRequest struct {
	UnitPrice decimal.Decimal `json:"unit_price"`
}

func (s *Server) UpdatePriceRecordPrice(c *gin.Context) {
	id, err := parsePathID(c)
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}
	var req updatePriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	record, err := s.ledgerSvc.UpdatePrice(c.Request.Context(), id, req.UnitPrice)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": record})
}

func (s *Server) RetirePriceRecord(c *gin.Context) {
	id, err := parsePathID(c)
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	record, err := s.ledgerSvc.Retire(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": record})
}
