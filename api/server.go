// Package api exposes the wallet over HTTP.
package api

import (
	"context"
	"html"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Bop4yH/wallet/api/responses"
	"github.com/Bop4yH/wallet/internal/accounts"
	"github.com/Bop4yH/wallet/internal/transfer"
	"github.com/Bop4yH/wallet/pkg/errors"
	"github.com/Bop4yH/wallet/pkg/models"
)

// AccountService is the account surface the API needs
type AccountService interface {
	Create(ctx context.Context, ownerName, currency string) (*models.Account, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Account, error)
	GetByName(ctx context.Context, ownerName, currency string) (*models.Account, error)
	List(ctx context.Context) ([]models.Account, error)
	Deposit(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (*models.Account, error)
	Withdraw(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (*models.Account, error)
	AddBonus(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (*models.Account, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Statistics(ctx context.Context, id uuid.UUID) (*accounts.Statistics, error)
}

// HealthCheck reports whether a dependency is usable
type HealthCheck func(ctx context.Context) error

// Server represents the API server
type Server struct {
	router    *gin.Engine
	logger    *zap.Logger
	accounts  AccountService
	transfers transfer.TransferService
	validator *validator.Validate
	sanitizer *bluemonday.Policy
	checks    map[string]HealthCheck
}

// NewServer creates a new API server with injected service interfaces
func NewServer(
	logger *zap.Logger,
	accountSvc AccountService,
	transferSvc transfer.TransferService,
	checks map[string]HealthCheck,
) *Server {
	logger = logger.Named("api")
	server := &Server{
		logger:    logger,
		accounts:  accountSvc,
		transfers: transferSvc,
		validator: validator.New(),
		sanitizer: bluemonday.StrictPolicy(),
		checks:    checks,
	}

	router := gin.New()

	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))
	router.Use(traceID(), limitBody())

	router.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Idempotency-Key", traceHeader},
		ExposeHeaders: []string{"Content-Length", traceHeader},
		MaxAge:        12 * time.Hour,
	}))

	server.router = router
	server.registerRoutes()
	return server
}

// Router returns the internal Gin engine for testing purposes
func (s *Server) Router() *gin.Engine {
	return s.router
}

// HTTPServer wraps the router for graceful shutdown
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (s *Server) registerRoutes() {
	v1 := s.router.Group("/api/v1")

	v1.GET("/metrics", gin.WrapH(promhttp.Handler()))
	v1.GET("/health", s.healthCheck)

	acc := v1.Group("/accounts")
	{
		acc.POST("", s.createAccount)
		acc.GET("", s.listAccounts)
		acc.GET("/by-name/:owner", s.getAccountByName)
		acc.GET("/:id", s.getAccount)
		acc.DELETE("/:id", s.deleteAccount)
		acc.POST("/:id/deposit", s.deposit)
		acc.POST("/:id/withdraw", s.withdraw)
		acc.POST("/:id/bonus", s.addBonus)
		acc.GET("/:id/statistics", s.statistics)
	}

	tr := v1.Group("/transfers")
	{
		tr.POST("", s.createTransfer)
		tr.POST("/by-name", s.transferByNames)
		tr.GET("/count", s.countTransfers)
		tr.GET("/:id", s.getTransfer)
		tr.POST("/:id/cancel", s.cancelTransfer)
	}
}

// healthCheck runs every registered dependency check
func (s *Server) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			s.logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	c.JSON(status, gin.H{
		"status": overall,
		"checks": results,
		"time":   time.Now().UTC(),
	})
}

// bind decodes the JSON body and runs struct validation
func (s *Server) bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		responses.BindingError(c, err)
		return false
	}
	if err := s.validator.Struct(req); err != nil {
		responses.BindingError(c, err)
		return false
	}
	return true
}

func (s *Server) pathID(c *gin.Context, what string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		responses.Error(c, errors.InvalidArgument.Explain("invalid %s id: %q", what, c.Param("id")))
		return uuid.Nil, false
	}
	return id, true
}

// clean strips markup from free-text input
func (s *Server) clean(text string) string {
	return html.UnescapeString(s.sanitizer.Sanitize(text))
}
