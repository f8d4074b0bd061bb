package api

import (
	"log/slog"

	"github.com/IBM/sarama"
	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	jwtware "github.com/gofiber/jwt/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pridato/reelforge/internal/billing"
	"github.com/pridato/reelforge/internal/config"
	"github.com/pridato/reelforge/internal/gate"
	"github.com/pridato/reelforge/internal/ledger"
	"github.com/pridato/reelforge/pkg/database"
)

// Server owns the HTTP surface. The ledger, gate and synchronizer are
// explicit dependencies built at bootstrap; nothing here is package-level
// state.
type Server struct {
	app      *fiber.App
	cfg      *config.Config
	db       *database.Clients
	producer sarama.SyncProducer
	ledger   *ledger.Ledger
	gate     *gate.Gate
	sync     *billing.Synchronizer
	checkout *billing.Checkout
	logger   *slog.Logger
}

func NewServer(cfg *config.Config, db *database.Clients, producer sarama.SyncProducer) *Server {
	app := fiber.New()

	// Middleware
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${ip} ${method} ${path} ${status}\n",
	}))
	app.Use(limiter.New(limiter.Config{
		Max:        cfg.Server.MaxRequests,
		Expiration: cfg.Server.RequestTimeout,
	}))

	lg := ledger.New(db.DB)
	server := &Server{
		app:      app,
		cfg:      cfg,
		db:       db,
		producer: producer,
		ledger:   lg,
		gate:     gate.New(lg, db.DB, db.Redis, producer, cfg.Kafka.Topic, slog.Default()),
		sync:     billing.NewSynchronizer(db.DB, db.Redis, lg, cfg.Stripe, slog.Default()),
		checkout: billing.NewCheckout(cfg.Stripe),
		logger:   slog.Default(),
	}

	server.setupRoutes()

	return server
}

func (s *Server) setupRoutes() {
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := s.app.Group("/api")

	// Public routes
	api.Post("/login", s.handleLogin)
	api.Post("/webhooks/stripe", s.handleStripeWebhook)

	// Protected routes
	protected := api.Use(jwtware.New(jwtware.Config{
		SigningKey: []byte(s.cfg.JWT.Secret),
	}))
	protected.Get("/balance", s.handleGetBalance)
	protected.Get("/credits/transactions", s.handleListTransactions)
	protected.Post("/credits/grant", s.handleGrant)
	protected.Post("/videos", s.handleCreateVideo)
	protected.Get("/videos", s.handleListVideos)
	protected.Get("/videos/:id", s.handleGetVideo)
	protected.Post("/billing/checkout", s.handleCreateCheckout)
	protected.Post("/billing/portal", s.handleCreatePortal)
}

func (s *Server) Start() error {
	return s.app.Listen(s.cfg.Server.Port)
}
