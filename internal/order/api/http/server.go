package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"kitchen-ledger/internal/order/adapter/cache"
	"kitchen-ledger/internal/order/adapter/memory"
	"kitchen-ledger/internal/order/api/http/handle"
	"kitchen-ledger/internal/order/app/core"
	"kitchen-ledger/internal/order/app/services"
	"kitchen-ledger/internal/order/domain/models"
	"kitchen-ledger/internal/xpkg/config"
	"kitchen-ledger/internal/xpkg/db"
	"kitchen-ledger/internal/xpkg/logger"

	brokermessage "kitchen-ledger/internal/order/adapter/broker_message"
	database "kitchen-ledger/internal/order/adapter/db"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

var ErrServerClosed = errors.New("Server closed")

type Server struct {
	mux         *http.ServeMux
	cfg         *config.Config
	srv         *http.Server
	orderParams *core.OrderParams
	mylog       logger.Logger

	store   core.IStore
	catalog core.IProductCatalog
	mb      core.IPublisher
	rdb     *redis.Client
	relay   *services.OutboxRelay

	ctx    context.Context
	appCtx context.Context
	mu     sync.Mutex
}

func NewServer(ctx, appCtx context.Context, cfg *config.Config, orderParams *core.OrderParams, mylog logger.Logger) *Server {
	return &Server{
		ctx:         ctx,
		appCtx:      appCtx,
		cfg:         cfg,
		orderParams: orderParams,
		mylog:       mylog,
		mux:         http.NewServeMux(),
	}
}

// Run connects every dependency, registers routes and serves until ctx is
// done. The outbox relay runs next to the HTTP server.
func (s *Server) Run() error {
	mylog := s.mylog.Action("server_started")
	if err := s.initialize(); err != nil {
		return err
	}
	if err := s.Configure(); err != nil {
		return err
	}

	s.mu.Lock()
	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.orderParams.Port),
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Unlock()

	mylog = mylog.WithGroup("details").With("port", s.orderParams.Port, "max-concurrent", s.orderParams.MaxConcurrent, "store", s.orderParams.Store)
	mylog.Info("server is running")

	g, gctx := errgroup.WithContext(s.ctx)
	g.Go(func() error {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return s.relay.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(s.appCtx, core.WaitTime*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Stop releases the store, broker and redis connections.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mylog.Action("graceful_shutdown_started").Info("Shutting down...")

	if s.srv != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, core.WaitTime*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			s.mylog.Action("graceful_shutdown_failed").Error("Failed to shut down HTTP server gracefully", err)
			return fmt.Errorf("http server shutdown: %w", err)
		}
	}

	var errs []error
	if s.mb != nil {
		if err := s.mb.Close(); err != nil {
			s.mylog.Action("mb_close_failed").Error("Failed to close message broker", err)
			errs = append(errs, fmt.Errorf("mb close: %w", err))
		}
	}
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.mylog.Action("db_close_failed").Error("Failed to close store", err)
			errs = append(errs, fmt.Errorf("store close: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	s.mylog.Action("graceful_shutdown_completed").Info("Order service shut down gracefully")
	return nil
}

func (s *Server) initialize() error {
	if err := s.initializeStore(); err != nil {
		s.mylog.Action("db_connection_failed").Error("Failed to open store", err)
		return err
	}
	if err := s.initializeBroker(); err != nil {
		s.mylog.Action("mb_connection_failed").Error("Failed to connect to message broker", err)
		return err
	}
	if s.cfg.Redis.Enabled() {
		rdb, err := cache.Connect(s.appCtx, s.cfg.Redis, s.mylog)
		if err != nil {
			// caching and rate limiting are optional
			s.mylog.Action("redis_connection_failed").Warn("Redis unavailable, running without cache", "error", err.Error())
		} else {
			s.rdb = rdb
		}
	}
	return nil
}

func (s *Server) initializeStore() error {
	switch s.orderParams.Store {
	case config.StoreMemory:
		catalog, err := menuCatalog(s.cfg.Menu)
		if err != nil {
			return err
		}
		s.store = memory.New()
		s.catalog = catalog
		s.mylog.Action("store_ready").Info("Using in-memory store", "products", len(s.cfg.Menu))
	default:
		d, err := db.Start(s.appCtx, s.cfg.DB, s.mylog)
		if err != nil {
			return fmt.Errorf("%w: %v", core.ErrDBConn, err)
		}
		s.store = database.NewStore(d, s.mylog)
		s.catalog = database.NewProductCatalog(d)
		s.mylog.Action("db_connected").Info("Successful database connection")
	}
	return nil
}

func (s *Server) initializeBroker() error {
	switch s.cfg.Broker {
	case config.BrokerKafka:
		k, err := brokermessage.NewKafka(s.cfg.Kafka, s.mylog)
		if err != nil {
			return err
		}
		s.mb = k
	case config.BrokerNone:
		s.mb = brokermessage.NewLog(s.mylog)
	default:
		mb, err := brokermessage.NewRabbitMQ(s.appCtx, s.cfg.RMQ, s.mylog)
		if err != nil {
			return err
		}
		s.mb = mb
	}
	s.mylog.Action("mb_connected").Info("Message broker ready", "broker", s.cfg.Broker)
	return nil
}

// Configure builds the services over the initialized adapters and
// registers the HTTP routes.
func (s *Server) Configure() error {
	loc, err := s.cfg.Location()
	if err != nil {
		return err
	}
	clock := core.SystemClock{}

	var orderCache core.IOrderCache
	if s.rdb != nil {
		orderCache = cache.NewOrders(s.rdb, s.cfg.Redis.CacheTTL(), s.mylog)
	}

	rollup := services.NewRollupService(loc, s.mylog)
	orderService := services.NewOrderService(s.store, s.catalog, orderCache, rollup, clock, services.OrderOptions{
		RequireFulfilled: *s.cfg.Invoice.RequireFulfilled,
		RetryAttempts:    s.cfg.Server.RetryAttempts,
		StoreTimeout:     s.cfg.StoreTimeout(),
	}, s.mylog)
	analyticsService := services.NewAnalyticsService(s.store, clock, loc, s.cfg.StoreTimeout(), s.mylog)
	s.relay = services.NewOutboxRelay(s.store, s.mb, clock, s.cfg.OutboxInterval(), s.mylog)

	orderHandler := handle.NewOrderHandler(orderService, s.mylog)
	analyticsHandler := handle.NewAnalyticsHandler(analyticsService, s.mylog)

	var create http.Handler = handle.MaxConcurrent(s.orderParams.MaxConcurrent, orderHandler.Create())
	if s.rdb != nil {
		limiter := cache.NewLimiter(s.rdb, s.cfg.Redis.RateLimit, s.cfg.Redis.RateWindow(), s.mylog)
		create = handle.RateLimit(limiter, create)
	}

	// Register routes
	s.mux.Handle("POST /orders", create)
	s.mux.Handle("GET /orders", orderHandler.List())
	s.mux.Handle("GET /orders/{id}", orderHandler.Get())
	s.mux.Handle("POST /orders/{id}/status", orderHandler.Transition())
	s.mux.Handle("POST /orders/{id}/invoice", orderHandler.Invoice())
	s.mux.Handle("GET /orders/{id}/history", orderHandler.History())

	s.mux.Handle("GET /analytics/today", analyticsHandler.Today())
	s.mux.Handle("GET /analytics/products", analyticsHandler.Products())
	s.mux.Handle("GET /analytics/revenue", analyticsHandler.Revenue())
	s.mux.Handle("GET /analytics/days/{date}", analyticsHandler.Day())
	s.mux.Handle("GET /analytics/days/{date}/reconciliation", analyticsHandler.Reconcile())

	s.mux.Handle("GET /health", handle.Health(s.store))
	return nil
}

func menuCatalog(menu []config.MenuItem) (*memory.Catalog, error) {
	products := make([]models.Product, 0, len(menu))
	for _, m := range menu {
		price, err := decimal.NewFromString(m.Price)
		if err != nil {
			return nil, fmt.Errorf("menu item %s: price %q: %w", m.Ref, m.Price, err)
		}
		products = append(products, models.Product{Ref: m.Ref, Name: m.Name, Price: price, Active: !m.Inactive})
	}
	return memory.NewCatalog(products...), nil
}
