package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/nordbooks/varekost/internal/audit/domain"
)

type listAuditLogsQuery struct {
	EntityType string `form:"entity_type"`
	EntityID   string `form:"entity_id"`
	Action     string `form:"action"`
	Limit      int    `form:"limit"`
	Offset     int    `form:"offset"`
}

func (s *Server) ListAuditLogs(c *gin.Context) {
	var query listAuditLogsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.auditSvc.List(c.Request.Context(), auditdomain.ListRequest{
		EntityType: strings.TrimSpace(query.EntityType),
		EntityID:   strings.TrimSpace(query.EntityID),
		Action:     strings.TrimSpace(query.Action),
		Limit:      query.Limit,
		Offset:     query.Offset,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.AuditLogs})
}
