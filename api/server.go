package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/Aidin1998/tradecore/api/responses"
	"github.com/Aidin1998/tradecore/internal/trading"
	"github.com/Aidin1998/tradecore/internal/trading/repository"
	"github.com/Aidin1998/tradecore/pkg/errors"
	"github.com/Aidin1998/tradecore/pkg/models"
)

// UserIDHeader carries the caller identity set by the upstream gateway.
const UserIDHeader = "X-User-ID"

const userIDKey = "userID"

// TradingService is the order lifecycle used by the handlers
type TradingService interface {
	PlaceOrder(ctx context.Context, userID uuid.UUID, req trading.PlaceOrderRequest) (*models.Order, error)
	CancelOrder(ctx context.Context, userID, orderID uuid.UUID) (*models.Order, error)
	GetOrder(ctx context.Context, userID, orderID uuid.UUID) (*models.Order, error)
	ListOrders(ctx context.Context, filter repository.OrderFilter) ([]models.Order, error)
	OrderAudit(ctx context.Context, userID, orderID uuid.UUID) ([]models.AuditLog, error)
	ListTrades(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Trade, error)
	ListPositions(ctx context.Context, userID uuid.UUID) ([]models.Position, error)
	GetBalance(ctx context.Context, userID uuid.UUID) (*trading.Balance, error)
}

// MarketDataService serves cached prices and tick history
type MarketDataService interface {
	Assets(ctx context.Context) ([]models.Asset, error)
	History(ctx context.Context, symbol string, since time.Time, limit int) ([]models.MarketData, error)
}

// WebSocketHub upgrades a request into a hub connection bound to userID
type WebSocketHub interface {
	ServeWS(w http.ResponseWriter, r *http.Request, userID string)
}

// Options tunes the server
type Options struct {
	ServiceName  string
	AllowOrigins []string
	HistoryLimit int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server represents the API server
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	logger     *zap.Logger
	trading    TradingService
	market     MarketDataService
	hub        WebSocketHub
	opts       Options
}

// NewServer creates a new API server with injected services
func NewServer(logger *zap.Logger, tradingSvc TradingService, market MarketDataService, hub WebSocketHub, opts Options) *Server {
	if opts.ServiceName == "" {
		opts.ServiceName = "tradecore"
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 500
	}
	if len(opts.AllowOrigins) == 0 {
		opts.AllowOrigins = []string{"*"}
	}

	s := &Server{
		logger:  logger,
		trading: tradingSvc,
		market:  market,
		hub:     hub,
		opts:    opts,
	}

	router := gin.New()
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))
	router.Use(otelgin.Middleware(opts.ServiceName))
	router.Use(cors.New(cors.Config{
		AllowOrigins:  opts.AllowOrigins,
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", UserIDHeader},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))
	router.NoRoute(func(c *gin.Context) {
		responses.Error(c, errors.NotFound.Explain("no route for %s %s", c.Request.Method, c.Request.URL.Path))
	})

	s.router = router
	s.registerRoutes()
	return s
}

// Router returns the internal Gin engine for testing purposes
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start serves HTTP on addr until Shutdown is called
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.opts.ReadTimeout,
		WriteTimeout:      s.opts.WriteTimeout,
	}
	s.logger.Info("Starting API server", zap.String("addr", addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}

// registerRoutes registers all API routes
func (s *Server) registerRoutes() {
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	public := s.router.Group("/api/v1")
	{
		public.GET("/health", s.healthCheck)

		market := public.Group("/market")
		{
			market.GET("/assets", s.listAssets)
			market.GET("/history/:symbol", s.marketHistory)
		}
		public.GET("/ws", s.serveWS)
	}

	protected := s.router.Group("/api/v1")
	protected.Use(s.identityMiddleware())
	{
		orders := protected.Group("/orders")
		{
			orders.POST("", s.placeOrder)
			orders.GET("", s.listOrders)
			orders.GET("/:id", s.getOrder)
			orders.DELETE("/:id", s.cancelOrder)
			orders.GET("/:id/audit", s.orderAudit)
		}
		protected.GET("/trades", s.listTrades)
		protected.GET("/positions", s.listPositions)
		protected.GET("/balance", s.getBalance)
	}
}

// identityMiddleware requires a caller identity on the request.
func (s *Server) identityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok, err := requestIdentity(c)
		if err != nil {
			responses.Error(c, err)
			return
		}
		if !ok {
			responses.Error(c, errors.Forbidden.Explain("caller identity required"))
			return
		}
		c.Set(userIDKey, id)
		c.Next()
	}
}

// requestIdentity reads the caller from the gateway header. Browsers cannot
// set headers on a WebSocket upgrade, so the userId query parameter is
// accepted as well. ok is false when neither is present.
func requestIdentity(c *gin.Context) (id uuid.UUID, ok bool, err error) {
	raw := c.GetHeader(UserIDHeader)
	if raw == "" {
		raw = c.Query("userId")
	}
	if raw == "" {
		return uuid.Nil, false, nil
	}
	id, err = uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false, errors.Validation.Explain("invalid caller identity").
			WithField(UserIDHeader, "must be a UUID")
	}
	return id, true, nil
}

func callerID(c *gin.Context) uuid.UUID {
	id, _ := c.Get(userIDKey)
	uid, _ := id.(uuid.UUID)
	return uid
}

// healthCheck handles the health check endpoint
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}

// serveWS upgrades to the streaming connection. Without an identity the
// client only receives market data; with one it is also bound to its
// private channel.
func (s *Server) serveWS(c *gin.Context) {
	id, ok, err := requestIdentity(c)
	if err != nil {
		s.writeError(c, err)
		return
	}
	userID := ""
	if ok {
		userID = id.String()
	}
	s.hub.ServeWS(c.Writer, c.Request, userID)
}

// writeError logs server-side failures and renders the problem document
func (s *Server) writeError(c *gin.Context, err error, extras ...gin.H) {
	if errors.KindOf(err) == errors.KindInternal {
		s.logger.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	responses.Error(c, err, extras...)
}
