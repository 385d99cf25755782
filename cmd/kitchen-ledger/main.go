package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"kitchen-ledger/internal/notsub"
	"kitchen-ledger/internal/order"
	"kitchen-ledger/internal/order/app/core"
	"kitchen-ledger/internal/report"
	"kitchen-ledger/internal/xpkg/logger"
)

func main() {
	mylogger, err := logger.New("DEBUG")
	if err != nil {
		log.Fatalf("log error: %v", err)
	}

	// Global flags for selecting the service mode
	fs := flag.NewFlagSet("main", flag.ExitOnError)
	mode := fs.String("mode", "", "service to run: order-service | notification-subscriber | report")

	// Only parse the first few args for `--mode`, the rest go to the service
	args := os.Args[1:]
	modeArgs := []string{}
	for i, arg := range args {
		if strings.HasPrefix(arg, "--mode") || strings.HasPrefix(arg, "-mode") {
			modeArgs = args[:i+1]
			if !strings.Contains(arg, "=") && i+1 < len(args) {
				modeArgs = args[:i+2]
			}
			break
		}
	}
	if err := fs.Parse(modeArgs); err != nil {
		mylogger.Action("kitchen_ledger_failed").Error("Failed to parse flags", err)
		help(fs)
		return
	}

	if *mode == "" {
		mylogger.Action("kitchen_ledger_failed").Error("Failed to start kitchen ledger", core.ErrModeFlag)
		help(fs)
		os.Exit(2)
	}

	// Remaining args after parsing --mode
	remainingArgs := args[len(modeArgs):]

	ctx := context.Background()
	switch *mode {
	case "order-service", "os":
		l := mylogger.With("service", "order-service")
		l.Action("order_service_started").Info("Successfully started")
		if err := order.Execute(ctx, l, remainingArgs); err != nil {
			l.Action("order_service_failed").Error("Error in order-service", err)
			if !errors.Is(err, core.ErrHelp) {
				log.Fatalf("failed to execute order-service: %s", err)
			}
		}
		l.Action("order_service_completed").Info("Successfully completed")

	case "notification-subscriber", "ns":
		l := mylogger.With("service", "notification-subscriber")
		l.Action("notification_subscriber_started").Info("Successfully started")
		if err := notsub.Execute(ctx, l, remainingArgs); err != nil {
			l.Action("notification_subscriber_failed").Error("Error in notification-subscriber", err)
			if !errors.Is(err, core.ErrHelp) {
				log.Fatalf("failed to execute notification-subscriber: %s", err)
			}
		}
		l.Action("notification_subscriber_completed").Info("Successfully completed")

	case "report", "rp":
		l := mylogger.With("service", "report")
		if err := report.Execute(ctx, l, remainingArgs); err != nil {
			if !errors.Is(err, core.ErrHelp) {
				log.Fatalf("failed to build report: %s", err)
			}
		}

	default:
		mylogger.Action("kitchen_ledger_failed").Error("Failed to start kitchen ledger", core.ErrUnknownService)
		help(fs)
		os.Exit(2)
	}
}

func help(fs *flag.FlagSet) {
	fmt.Println("\nUsage:")
	fs.PrintDefaults()
	fmt.Println("\nExample:")
	fmt.Println("  ./kitchen-ledger --mode=order-service --port=3000 --max-concurrent=10 --store=memory")
	fmt.Println("  ./kitchen-ledger --mode=report --days=14 --reconcile")
}
