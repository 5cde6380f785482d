package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"eom_fund/internal/calendar"
	"eom_fund/internal/config"
	"eom_fund/internal/fund"
	"eom_fund/internal/logger"
	"eom_fund/internal/market"
	"eom_fund/internal/market/alpaca"
	"eom_fund/internal/market/csvfile"
	"eom_fund/internal/market/eodhd"
	"eom_fund/internal/market/rediscache"
	"eom_fund/internal/models"
	"eom_fund/internal/notify"
	"eom_fund/internal/portfolio"
	"eom_fund/internal/publish"
	"eom_fund/internal/report"

	"github.com/google/subcommands"
)

const VersionFile = "version.latest"

// common holds the flags every subcommand shares.
type common struct {
	configPath string
	date       string
}

func (c *common) setFlags(f *flag.FlagSet) {
	f.StringVar(&c.configPath, "config", config.DefaultPath, "Path to the TOML configuration")
	f.StringVar(&c.date, "date", "", "Run date YYYY-MM-DD (defaults to today in the fund timezone)")
}

// load reads and validates the configuration and starts file logging.
func (c *common) load() (*config.Config, func() error, error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	closeLog := logger.Setup(cfg.LogFile, int64(cfg.LogMaxSizeMB), cfg.LogMaxBackups)
	logger.SetLevel(cfg.LogLevel)
	return cfg, closeLog, nil
}

func (c *common) today(cfg *config.Config) (models.Date, error) {
	if c.date == "" {
		return models.Today(cfg.Location()), nil
	}
	return models.ParseDate(c.date)
}

// newFund builds the fund from cfg. The returned function releases the
// connections it opened.
func newFund(ctx context.Context, cfg *config.Config) (*fund.Fund, func(), error) {
	engine, err := portfolio.NewEngine(cfg.Rules())
	if err != nil {
		return nil, nil, err
	}

	var closers []func() error
	cleanup := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				log.Printf("WARN: cleanup: %v", err)
			}
		}
	}

	var src market.PriceSource
	switch strings.ToLower(cfg.Market.Provider) {
	case "eodhd":
		src = eodhd.New(cfg.Market.EODHDAPIKey, cfg.Market.EODHDAdjusted)
	case "alpaca":
		src = alpaca.NewProvider()
	case "csv":
		src = csvfile.New(cfg.Market.CSVPath)
	}
	if cfg.Redis.Addr != "" {
		cache, closeRedis, err := rediscache.Dial(ctx, rediscache.Options{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			TLSEnabled: cfg.Redis.TLSEnabled,
		}, src)
		if err != nil {
			log.Printf("WARN: Price cache disabled: %v", err)
		} else {
			cache.Zone = cfg.Location()
			closers = append(closers, closeRedis)
			src = cache
		}
	}

	sinks := publish.Multi{publish.DirSink{Dir: cfg.OutputDir}}
	if cfg.S3.Bucket != "" {
		s3Sink, err := publish.NewS3Sink(ctx, publish.S3Config{
			Bucket:         cfg.S3.Bucket,
			Prefix:         cfg.S3.Prefix,
			Region:         cfg.S3.Region,
			Endpoint:       cfg.S3.Endpoint,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		sinks = append(sinks, s3Sink)
	}

	f := fund.New(engine, calendar.NewOracle(cfg.Fund.SignalOffset, cfg.Fund.HoldDays), src, cfg.DataDir)
	f.Scan = cfg.ScannerParams()
	f.Lookback = cfg.Fund.LookbackDays
	f.Sink = sinks
	f.Notifier = notify.New(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID)
	return f, cleanup, nil
}

// books opens the stored books only, for commands that fetch no prices.
func books(cfg *config.Config) (*fund.Fund, error) {
	engine, err := portfolio.NewEngine(cfg.Rules())
	if err != nil {
		return nil, err
	}
	return fund.New(engine, calendar.NewOracle(cfg.Fund.SignalOffset, cfg.Fund.HoldDays), nil, cfg.DataDir), nil
}

type runCmd struct {
	common
}

func (*runCmd) Name() string     { return "run" }
func (*runCmd) Synopsis() string { return "process one day: exits, entries, NAV and publishing" }
func (*runCmd) Usage() string {
	return `fund run [-config <file>] [-date <YYYY-MM-DD>]

  Fetches closes, applies the day to the books and publishes the artifacts.
  Running the same date again changes nothing.
`
}

func (c *runCmd) SetFlags(f *flag.FlagSet) { c.setFlags(f) }

func (c *runCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, closeLog, err := c.load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}
	defer closeLog()

	today, err := c.today(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}

	log.Printf("EOM fund %s starting", readVersion())
	cfg.Log()

	fd, cleanup, err := newFund(ctx, cfg)
	if err != nil {
		log.Printf("ERROR: %v", err)
		return subcommands.ExitFailure
	}
	defer cleanup()

	out, err := fd.RunOnce(ctx, today)
	if err != nil {
		log.Printf("ERROR: %v", err)
		return subcommands.ExitFailure
	}
	s := out.Result.Summary
	fmt.Printf("%s %s NAV %s (%s)\n", today, out.Result.Snapshot.Status, report.Money(s.NAV), report.Percent(s.PLPct))
	return subcommands.ExitSuccess
}

type statusCmd struct {
	common
	width int
	raw   bool
}

func (*statusCmd) Name() string     { return "status" }
func (*statusCmd) Synopsis() string { return "display the books as of the last run" }
func (*statusCmd) Usage() string {
	return `fund status [-config <file>] [-width n] [-raw]

  Displays NAV, open positions and recent trades. No prices are fetched.
`
}

func (c *statusCmd) SetFlags(f *flag.FlagSet) {
	c.setFlags(f)
	f.IntVar(&c.width, "width", 100, "Word wrap width")
	f.BoolVar(&c.raw, "raw", false, "Print markdown without rendering")
}

func (c *statusCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, closeLog, err := c.load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}
	defer closeLog()

	today, err := c.today(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}
	fd, err := books(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}

	md, err := fd.Status(today)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	if c.raw {
		fmt.Print(md)
		return subcommands.ExitSuccess
	}
	out, err := report.Render(md, c.width)
	if err != nil {
		// fall back to plain markdown
		fmt.Print(md)
		return subcommands.ExitSuccess
	}
	fmt.Print(out)
	return subcommands.ExitSuccess
}

type plotCmd struct {
	common
	output string
}

func (*plotCmd) Name() string     { return "plot" }
func (*plotCmd) Synopsis() string { return "render the NAV history as a PNG" }
func (*plotCmd) Usage() string {
	return `fund plot [-config <file>] [-o <file>]

  Writes the NAV chart of the stored history.
`
}

func (c *plotCmd) SetFlags(f *flag.FlagSet) {
	c.setFlags(f)
	f.StringVar(&c.output, "o", publish.ChartFile, "Output file")
}

func (c *plotCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, closeLog, err := c.load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}
	defer closeLog()

	fd, err := books(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}

	png, err := fd.Plot()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	if err := os.WriteFile(c.output, png, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	fmt.Printf("NAV chart written to %s\n", c.output)
	return subcommands.ExitSuccess
}

func readVersion() string {
	version, err := os.ReadFile(VersionFile)
	if err != nil {
		return "v0.0.0-dev"
	}
	return strings.TrimSpace(string(version))
}
