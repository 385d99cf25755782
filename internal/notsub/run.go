package notsub

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"kitchen-ledger/internal/notsub/adapter/consumer"
	"kitchen-ledger/internal/order/app/core"
	"kitchen-ledger/internal/xpkg/config"
	"kitchen-ledger/internal/xpkg/logger"

	brokermessage "kitchen-ledger/internal/notsub/adapter/broker_message"
)

type params struct {
	configPath string
	cfg        *config.Config
}

// Execute starts the notification subscriber
func Execute(ctx context.Context, mylog logger.Logger, args []string) error {
	newCtx, cancel := signal.NotifyContext(ctx, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	params, err := parseParams(args)
	if err != nil {
		mylog.Action("command_parse_failed").Error("Invalid command received", err)
		return err
	}
	mylog.Action("command_parse_completed").Debug("Received params", "config_path", params.configPath)

	if err = validateParams(params); err != nil {
		mylog.Action("command_validation_failed").Error("Invalid command received", err)
		return err
	}

	mb, err := brokermessage.New(params.cfg.RMQ, mylog)
	if err != nil {
		mylog.Action("mb_connection_failed").Error("Failed to connect to message broker", err)
		return err
	}

	notsub := consumer.NewNotification(newCtx, mb, os.Stdout, mylog)
	if err := notsub.Run(); err != nil {
		mylog.Action("notsub_run_failed").Error("Notification subscriber stopped with error", err)
		_ = notsub.Stop()
		return err
	}
	return notsub.Stop()
}

// parseParams parse params from terminal
func parseParams(args []string) (*params, error) {
	fs := flag.NewFlagSet("notification-subscriber", flag.ContinueOnError)
	showHelp := fs.Bool("help", false, "Show help")
	configPath := fs.String("config-path", "config.yaml", "path for config yaml")

	if err := fs.Parse(args); err != nil {
		return nil, core.ErrParseCmd
	}
	if *showHelp {
		fs.Usage()
		return nil, core.ErrHelp
	}
	return &params{configPath: *configPath}, nil
}

// validateParams loads the config the subscriber needs
func validateParams(params *params) error {
	cfg, err := config.LoadConfig(params.configPath)
	if err != nil {
		return err
	}
	params.cfg = cfg
	return nil
}
