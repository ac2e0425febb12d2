package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/nordbooks/varekost/internal/audit"
	auditdomain "github.com/nordbooks/varekost/internal/audit/domain"
	"github.com/nordbooks/varekost/internal/config"
	"github.com/nordbooks/varekost/internal/events"
	"github.com/nordbooks/varekost/internal/invoices"
	invoicedomain "github.com/nordbooks/varekost/internal/invoices/domain"
	"github.com/nordbooks/varekost/internal/matcher"
	"github.com/nordbooks/varekost/internal/observability"
	obsmiddleware "github.com/nordbooks/varekost/internal/observability/logger"
	obsmetrics "github.com/nordbooks/varekost/internal/observability/metrics"
	obstracing "github.com/nordbooks/varekost/internal/observability/tracing"
	"github.com/nordbooks/varekost/internal/priceledger"
	pricedomain "github.com/nordbooks/varekost/internal/priceledger/domain"
	"github.com/nordbooks/varekost/internal/reconcile"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	audit.Module,
	events.Module,
	matcher.Module,
	priceledger.Module,
	invoices.Module,
	reconcile.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine     *gin.Engine
	cfg        config.Config
	db         *gorm.DB
	genID      *snowflake.Node
	ledgerSvc  pricedomain.Service
	invoiceSvc invoicedomain.Service
	auditSvc   auditdomain.Service
	reconciler *reconcile.Reconciler
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	DB         *gorm.DB
	GenID      *snowflake.Node
	LedgerSvc  pricedomain.Service
	InvoiceSvc invoicedomain.Service
	AuditSvc   auditdomain.Service
	Reconciler *reconcile.Reconciler
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		db:         p.DB,
		genID:      p.GenID,
		ledgerSvc:  p.LedgerSvc,
		invoiceSvc: p.InvoiceSvc,
		auditSvc:   p.AuditSvc,
		reconciler: p.Reconciler,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api/v1")

	api.POST("/price-records", s.CreatePriceRecord)
	api.GET("/price-records", s.ListPriceRecords)
	api.GET("/price-records/:id", s.GetPriceRecord)
	api.POST("/price-records/:id/activate", s.ActivatePriceRecord)
	api.POST("/price-records/:id/price", s.UpdatePriceRecordPrice)
	api.POST("/price-records/:id/retire", s.RetirePriceRecord)

	api.POST("/invoices", s.CreateInvoice)
	api.GET("/invoices", s.ListInvoices)
	api.GET("/invoices/:id", s.GetInvoice)
	api.PUT("/invoices/:id/lines", s.ReplaceInvoiceLines)
	api.POST("/invoices/:id/validate", s.ValidateInvoice)
	api.GET("/invoices/:id/validation", s.GetValidationStatus)
	api.POST("/invoices/:id/approve", s.ApproveInvoice)
	api.POST("/invoices/:id/close", s.CloseInvoice)
	api.POST("/invoices/:id/dispute", s.DisputeInvoice)

	api.POST("/validation/accept-price", s.AcceptPrice)
	api.POST("/reconcile/cascade", s.RunCascade)

	api.GET("/audit-logs", s.ListAuditLogs)
}
