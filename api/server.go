package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	limiter "github.com/ulule/limiter/v3"
	ginlimiter "github.com/ulule/limiter/v3/drivers/middleware/gin"
	memory "github.com/ulule/limiter/v3/drivers/store/memory"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/Aidin1998/assetex/internal/auth"
	"github.com/Aidin1998/assetex/internal/config"
	"github.com/Aidin1998/assetex/internal/events"
	"github.com/Aidin1998/assetex/internal/funds"
	"github.com/Aidin1998/assetex/internal/marketplace"
)

// Server represents the API server
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	logger      *zap.Logger
	market      marketplace.MarketService
	funds       funds.FundService
	recorder    events.Recorder
	feed        *events.Hub
	tokens      *auth.Service
	validator   *validator.Validate
	rateLimiter gin.HandlerFunc
}

// NewServer creates a new API server with injected service interfaces
func NewServer(
	logger *zap.Logger,
	cfg config.ServerConfig,
	market marketplace.MarketService,
	fundsSvc funds.FundService,
	recorder events.Recorder,
	feed *events.Hub,
	tokens *auth.Service,
) *Server {
	// Create server
	server := &Server{
		logger:   logger,
		market:   market,
		funds:    fundsSvc,
		recorder: recorder,
		feed:     feed,
		tokens:   tokens,
	}

	// Create router
	router := gin.New()

	// Add middleware
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))
	router.Use(otelgin.Middleware("assetex-api"))

	// Configure CORS
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// Rate limiter (100 req/min per IP)
	store := memory.NewStore()
	rate, _ := limiter.NewRateFromFormatted("100-M")
	server.rateLimiter = ginlimiter.NewMiddleware(limiter.New(store, rate))

	server.validator = validator.New()
	server.router = router
	server.registerRoutes()
	return server
}

// Start starts the API server
func (s *Server) Start(addr string) error {
	s.logger.Info("Starting API server", zap.String("addr", addr))
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Router returns the internal Gin engine for testing purposes
func (s *Server) Router() *gin.Engine {
	return s.router
}

// registerRoutes registers all API routes
func (s *Server) registerRoutes() {
	// Public routes
	public := s.router.Group("/api/v1")
	{
		// Metrics endpoint
		public.GET("/metrics", gin.WrapH(promhttp.Handler()))

		// Health check
		public.GET("/health", s.healthCheck)

		// Market reads
		market := public.Group("/market")
		{
			market.GET("/listings", s.getListingsBySeller)
			market.GET("/listings/:item_id", s.getListing)
			market.GET("/items/:item_id/listed", s.getIsListed)
			market.GET("/items/:item_id/ownership", s.getOwnership)
			market.GET("/items/:item_id/sales", s.getItemSales)
			market.GET("/items/:item_id/sale-count", s.getItemSaleCount)
			market.GET("/sales", s.getSalesHistory)
			market.GET("/stats", s.getStats)
			market.GET("/fee", s.getFeePercent)
			market.GET("/events", s.getRecentEvents)
		}

		// Market event feed WebSocket endpoint
		public.GET("/ws/market", s.serveMarketFeed)
	}

	// Protected routes (require authentication)
	protected := s.router.Group("/api/v1")
	protected.Use(s.authMiddleware(), s.rateLimiter)
	{
		market := protected.Group("/market")
		{
			market.POST("/listings", s.createListing)
			market.POST("/listings/:item_id/buy", s.buyListing)
			market.PUT("/listings/:item_id/price", s.changeListingPrice)
			market.DELETE("/listings/:item_id", s.cancelListing)
		}

		wallet := protected.Group("/funds")
		{
			wallet.POST("/deposit", s.depositFunds)
			wallet.POST("/withdraw", s.withdrawFunds)
			wallet.GET("/balance", s.getFundBalance)
			wallet.GET("/transactions", s.listFundTransactions)
		}
	}

	// Admin routes. The marketplace service checks the principal against
	// the admin principal, so these only need authentication.
	admin := s.router.Group("/api/v1/admin")
	admin.Use(s.authMiddleware())
	{
		admin.PUT("/market/fee", s.setFeePercent)
		admin.PUT("/market/registry", s.setRegistry)
	}
}

// healthCheck handles the health check endpoint
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now(),
	})
}

// authMiddleware validates the bearer token and stores its principal
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			c.Abort()
			return
		}

		var tokenString string
		if len(authHeader) > 7 && authHeader[:7] == "Bearer " {
			tokenString = authHeader[7:]
		} else {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization format"})
			c.Abort()
			return
		}

		principal, err := s.tokens.ValidateToken(tokenString)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			c.Abort()
			return
		}

		c.Set("principal", principal)
		c.Next()
	}
}

// principal returns the authenticated principal set by authMiddleware
func (s *Server) principal(c *gin.Context) string {
	return c.GetString("principal")
}
