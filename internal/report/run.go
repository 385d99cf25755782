package report

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"kitchen-ledger/internal/order/adapter/memory"
	"kitchen-ledger/internal/order/app/core"
	"kitchen-ledger/internal/order/app/services"
	"kitchen-ledger/internal/order/domain/models"
	"kitchen-ledger/internal/xpkg/config"
	"kitchen-ledger/internal/xpkg/db"
	"kitchen-ledger/internal/xpkg/logger"

	database "kitchen-ledger/internal/order/adapter/db"
)

type params struct {
	configPath string
	days       int
	from, to   string
	reconcile  bool
	opts       Options
	cfg        *config.Config
}

// Execute prints an analytics report read from the configured store.
func Execute(ctx context.Context, mylog logger.Logger, args []string) error {
	return execute(ctx, mylog, args, os.Stdout)
}

func execute(ctx context.Context, mylog logger.Logger, args []string, out io.Writer) error {
	params, err := parseParams(args)
	if err != nil {
		mylog.Action("command_parse_failed").Error("Invalid command received", err)
		return err
	}
	if err := validateParams(params); err != nil {
		mylog.Action("command_validation_failed").Error("Invalid command received", err)
		return err
	}

	store, err := openStore(ctx, params.cfg, mylog)
	if err != nil {
		return err
	}
	defer store.Close()

	loc, err := params.cfg.Location()
	if err != nil {
		return err
	}
	as := services.NewAnalyticsService(store, core.SystemClock{}, loc, params.cfg.StoreTimeout(), mylog)

	r, err := Build(ctx, as, params.opts)
	if err != nil {
		mylog.Action("report_failed").Error("Failed to build report", err)
		return err
	}
	return Render(out, r)
}

func openStore(ctx context.Context, cfg *config.Config, mylog logger.Logger) (core.IStore, error) {
	if cfg.Store == config.StoreMemory {
		// nothing persists between runs; useful only to check the wiring
		mylog.Action("store_ready").Warn("Report over an empty in-memory store")
		return memory.New(), nil
	}
	d, err := db.Start(ctx, cfg.DB, mylog)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrDBConn, err)
	}
	return database.NewStore(d, mylog), nil
}

func parseParams(args []string) (*params, error) {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	showHelp := fs.Bool("help", false, "Show help")
	configPath := fs.String("config-path", "config.yaml", "path for config yaml, empty for environment only")
	days := fs.Int("days", 7, "number of days ending today")
	from := fs.String("from", "", "first day, YYYY-MM-DD")
	to := fs.String("to", "", "last day, YYYY-MM-DD")
	reconcile := fs.Bool("reconcile", false, "recount the last day from order records")

	if err := fs.Parse(args); err != nil {
		return nil, core.ErrParseCmd
	}
	if *showHelp {
		fs.Usage()
		return nil, core.ErrHelp
	}
	return &params{
		configPath: *configPath,
		days:       *days,
		from:       *from,
		to:         *to,
		reconcile:  *reconcile,
	}, nil
}

func validateParams(p *params) error {
	cfg, err := loadConfig(p.configPath)
	if err != nil {
		return err
	}
	p.cfg = cfg

	if p.days < 1 || p.days > core.MaxSeriesDays {
		return fmt.Errorf("days must be in [1, %d]: %d", core.MaxSeriesDays, p.days)
	}
	p.opts = Options{Days: p.days, Reconcile: p.reconcile}

	if (p.from == "") != (p.to == "") {
		return fmt.Errorf("--from and --to go together")
	}
	if p.from != "" {
		if p.opts.From, err = parseDay(p.from); err != nil {
			return err
		}
		if p.opts.To, err = parseDay(p.to); err != nil {
			return err
		}
	}
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadConfig(path)
	}
	cfg := config.LoadDotEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseDay(v string) (time.Time, error) {
	d, err := models.ParseDay(v)
	if err != nil {
		return time.Time{}, fmt.Errorf("date must be YYYY-MM-DD: %q", v)
	}
	return d, nil
}
