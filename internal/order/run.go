package order

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os/signal"
	"syscall"

	"kitchen-ledger/internal/order/api/http"
	"kitchen-ledger/internal/order/app/core"
	"kitchen-ledger/internal/xpkg/config"
	"kitchen-ledger/internal/xpkg/logger"
)

type params struct {
	orderParams *core.OrderParams
	configPath  string
	logLevel    string
	cfg         *config.Config
}

// Execute starts order service
func Execute(ctx context.Context, mylog logger.Logger, args []string) error {
	newCtx, cancel := signal.NotifyContext(ctx, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	params, err := parseParams(args)
	if err != nil {
		mylog.Action("command_parse_failed").Error("Invalid command received", err)
		return err
	}
	if err = validateParams(params); err != nil {
		mylog.Action("command_validation_failed").Error("Invalid command received", err)
		return err
	}
	mylog.Action("command_validation_completed").Info("Successfully validate params")

	if lvl := params.cfg.Log.Level; lvl != "" {
		l, err := logger.New(lvl)
		if err != nil {
			return err
		}
		mylog = l.With("service", "order-service")
	}

	server := http.NewServer(newCtx, context.Background(), params.cfg, params.orderParams, mylog)

	// Run server in goroutine
	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- server.Run()
	}()

	// Wait for signal or server crash
	select {
	case <-newCtx.Done():
		mylog.Action("shutdown_signal_received").Info("Shutdown signal received")
		if err := <-runErrCh; err != nil {
			mylog.Action("order_service_failed").Error("Server failed while stopping", err)
		}
		return server.Stop(context.Background())
	case err := <-runErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			mylog.Action("order_service_failed").Error("Server failed unexpectedly", err)
			_ = server.Stop(context.Background())
			return err
		}
		mylog.Action("server_stopped").Info("Server exited normally")
		return server.Stop(context.Background())
	}
}

// Helper functions to validate cli params

// parseParams parse params from terminal
func parseParams(args []string) (*params, error) {
	fs := flag.NewFlagSet("order-service", flag.ContinueOnError)
	showHelp := fs.Bool("help", false, "Show help")
	configPath := fs.String("config-path", "config.yaml", "path for config yaml")
	logLevel := fs.String("log-level", "", "DEBUG | INFO | WARN | ERROR, overrides config")

	port := fs.Int("port", 3000, "Port to run the order service")
	maxConcurrent := fs.Int("max-concurrent", 50, "Max concurrent order submissions")
	store := fs.String("store", "", "postgres | memory, overrides config")

	if err := fs.Parse(args); err != nil {
		// User message
		return nil, core.ErrParseCmd
	}

	if *showHelp {
		fs.Usage()
		return nil, core.ErrHelp
	}

	return &params{
		orderParams: &core.OrderParams{
			Port:          *port,
			MaxConcurrent: *maxConcurrent,
			Store:         *store,
		},
		configPath: *configPath,
		logLevel:   *logLevel,
	}, nil
}

// validateParams loads the config and checks flag values against it
func validateParams(params *params) error {
	cfg, err := config.LoadConfig(params.configPath)
	if err != nil {
		return err
	}
	params.cfg = cfg
	if params.logLevel != "" {
		cfg.Log.Level = params.logLevel
	}

	orderParams := params.orderParams
	if orderParams.Port <= 0 || orderParams.Port >= 65536 {
		return fmt.Errorf("port must be in [1: 65,535]: %d", orderParams.Port)
	}

	if orderParams.MaxConcurrent <= 0 {
		return fmt.Errorf("max number of concurrent tasks must be positive: %d", orderParams.MaxConcurrent)
	}

	switch orderParams.Store {
	case "":
		orderParams.Store = cfg.Store
	case config.StorePostgres, config.StoreMemory:
	default:
		return fmt.Errorf("unknown store: %q", orderParams.Store)
	}
	return nil
}
