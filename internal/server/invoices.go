package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	invoicedomain "github.com/nordbooks/varekost/internal/invoices/domain"
	"github.com/shopspring/decimal"
)

type invoiceLineRequest struct {
	LineNo      int             `json:"line_no"`
	SKU         string          `json:"sku"`
	ProductName string          `json:"product_name"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Currency    string          `json:"currency"`
}

type createInvoiceRequest struct {
	SupplierName    string               `json:"supplier_name"`
	InvoiceNumber   string               `json:"invoice_number"`
	InvoiceDate     string               `json:"invoice_date"`
	Currency        string               `json:"currency"`
	SubtotalAmount  decimal.Decimal      `json:"subtotal_amount"`
	TaxAmount       decimal.Decimal      `json:"tax_amount"`
	FreightAmount   decimal.Decimal      `json:"freight_amount"`
	TotalAmount     decimal.Decimal      `json:"total_amount"`
	Scanned         bool                 `json:"scanned"`
	SourceMessageID string               `json:"source_message_id"`
	Lines           []invoiceLineRequest `json:"lines"`
}

func (s *Server) CreateInvoice(c *gin.Context) {
	var req createInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	invoiceDate, err := parseOptionalTime(req.InvoiceDate, false)
	if err != nil {
		AbortWithError(c, newValidationError("invoice_date", "invalid_invoice_date", "invalid invoice_date"))
		return
	}

	currency := req.Currency
	if strings.TrimSpace(currency) == "" {
		currency = s.cfg.DefaultCurrency
	}

	invoice, err := s.invoiceSvc.Create(c.Request.Context(), invoicedomain.CreateRequest{
		SupplierName:    req.SupplierName,
		InvoiceNumber:   req.InvoiceNumber,
		InvoiceDate:     invoiceDate,
		Currency:        currency,
		SubtotalAmount:  req.SubtotalAmount,
		TaxAmount:       req.TaxAmount,
		FreightAmount:   req.FreightAmount,
		TotalAmount:     req.TotalAmount,
		Scanned:         req.Scanned,
		SourceMessageID: req.SourceMessageID,
		Lines:           toLineInputs(req.Lines),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": invoice})
}

func (s *Server) ListInvoices(c *gin.Context) {
	limit, offset := parsePagination(c)
	items, err := s.invoiceSvc.List(c.Request.Context(), invoicedomain.ListFilter{
		SupplierName: strings.TrimSpace(c.Query("supplier_name")),
		Status:       invoicedomain.Status(strings.TrimSpace(c.Query("status"))),
		Limit:        limit,
		Offset:       offset,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (s *Server) GetInvoice(c *gin.Context) {
	id, err := parsePathID(c)
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	invoice, err := s.invoiceSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": invoice})
}

type replaceLinesRequest struct {
	Lines []invoiceLineRequest `json:"lines"`
}

func (s *Server) ReplaceInvoiceLines(c *gin.Context) {
	id, err := parsePathID(c)
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}
	var req replaceLinesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	invoice, err := s.invoiceSvc.ReplaceLines(c.Request.Context(), id, toLineInputs(req.Lines))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": invoice})
}

func (s *Server) ValidateInvoice(c *gin.Context) {
	id, err := parsePathID(c)
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	report, err := s.invoiceSvc.Validate(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": report})
}

func (s *Server) GetValidationStatus(c *gin.Context) {
	id, err := parsePathID(c)
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	report, err := s.invoiceSvc.ValidationStatus(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": report})
}

func (s *Server) ApproveInvoice(c *gin.Context) {
	id, err := parsePathID(c)
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	invoice, err := s.invoiceSvc.Approve(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": invoice})
}

func (s *Server) CloseInvoice(c *gin.Context) {
	id, err := parsePathID(c)
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	invoice, err := s.invoiceSvc.Close(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": invoice})
}

type disputeInvoiceRequest struct {
	Reason  string   `json:"reason"`
	LineIDs []string `json:"line_ids"`
}

func (s *Server) DisputeInvoice(c *gin.Context) {
	id, err := parsePathID(c)
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}
	var req disputeInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	lineIDs := make([]snowflake.ID, 0, len(req.LineIDs))
	for _, raw := range req.LineIDs {
		parsed, err := parseOptionalSnowflakeID(raw)
		if err != nil || parsed == nil {
			AbortWithError(c, newValidationError("line_ids", "invalid_line_id", "invalid line id"))
			return
		}
		lineIDs = append(lineIDs, *parsed)
	}

	invoice, err := s.invoiceSvc.Dispute(c.Request.Context(), invoicedomain.DisputeRequest{
		InvoiceID: id,
		LineIDs:   lineIDs,
		Reason:    req.Reason,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": invoice})
}

func toLineInputs(lines []invoiceLineRequest) []invoicedomain.LineInput {
	inputs := make([]invoicedomain.LineInput, 0, len(lines))
	for _, line := range lines {
		inputs = append(inputs, invoicedomain.LineInput{
			LineNo:      line.LineNo,
			SKU:         line.SKU,
			ProductName: line.ProductName,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			Currency:    line.Currency,
		})
	}
	return inputs
}
