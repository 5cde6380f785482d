package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"strings"
	"time"
	_ "time/tzdata" // Europe/Oslo on hosts without a zoneinfo database

	"eom_fund/internal/logger"
	"eom_fund/internal/portfolio"
	"eom_fund/internal/scanner"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// DefaultPath is read when no -config flag is given. A missing file is fine.
const DefaultPath = "fund.toml"

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	DataDir   string `toml:"data_dir"`   // state, ledger and NAV history
	OutputDir string `toml:"output_dir"` // files published for the front end
	Timezone  string `toml:"timezone"`   // decides what "today" is

	LogFile       string `toml:"log_file"`
	LogMaxSizeMB  int    `toml:"log_max_size_mb"`
	LogMaxBackups int    `toml:"log_max_backups"`
	LogLevel      string `toml:"log_level"`

	Fund    FundConfig    `toml:"fund"`
	Scanner ScannerConfig `toml:"scanner"`
	Market  MarketConfig  `toml:"market"`
	Redis   RedisConfig   `toml:"redis"`
	S3      S3Config      `toml:"s3"`
	Notify  NotifyConfig  `toml:"notify"`
}

type FundConfig struct {
	Tickers            []string        `toml:"tickers"`
	InitialNAV         decimal.Decimal `toml:"initial_nav"`
	FeePerLeg          decimal.Decimal `toml:"fee_per_leg"`
	Sizing             string          `toml:"sizing"`
	AllocationFraction decimal.Decimal `toml:"allocation_fraction"`
	HoldDays           int             `toml:"hold_days"`
	SignalOffset       int             `toml:"signal_offset"` // trading days before month end
	LookbackDays       int             `toml:"lookback_days"` // history fetched per run
}

type ScannerConfig struct {
	BandLow  decimal.Decimal `toml:"band_low"`
	BandHigh decimal.Decimal `toml:"band_high"`
	Target   decimal.Decimal `toml:"target"`
}

type MarketConfig struct {
	Provider      string `toml:"provider"` // eodhd, alpaca or csv
	EODHDAPIKey   string `toml:"eodhd_api_key"`
	EODHDAdjusted bool   `toml:"eodhd_adjusted"`
	CSVPath       string `toml:"csv_path"`
}

// RedisConfig enables the price cache when Addr is set.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config enables publishing to a bucket when Bucket is set.
type S3Config struct {
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	Region         string `toml:"region"`
	Endpoint       string `toml:"endpoint"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

type NotifyConfig struct {
	TelegramToken  string `toml:"telegram_token"`
	TelegramChatID string `toml:"telegram_chat_id"`
}

// Defaults is the fund as it has traded since launch: the Oslo top six, equal
// weight, 29 NOK per leg.
func Defaults() Config {
	return Config{
		DataDir:       "data",
		OutputDir:     "public/data",
		Timezone:      "Europe/Oslo",
		LogFile:       "fund.log",
		LogMaxSizeMB:  5,
		LogMaxBackups: 3,
		LogLevel:      "INFO",
		Fund: FundConfig{
			Tickers:            []string{"DNO.OL", "CADLR.OL", "SOMA.OL", "AUTO.OL", "BWE.OL", "VAR.OL"},
			InitialNAV:         decimal.NewFromInt(50000),
			FeePerLeg:          decimal.NewFromInt(29),
			Sizing:             string(portfolio.EqualWeight),
			AllocationFraction: decimal.RequireFromString("0.25"),
			HoldDays:           7,
			SignalOffset:       0,
			LookbackDays:       400,
		},
		Scanner: ScannerConfig{
			BandLow:  decimal.RequireFromString("-0.04"),
			BandHigh: decimal.RequireFromString("-0.03"),
			Target:   decimal.RequireFromString("0.05"),
		},
		Market: MarketConfig{
			Provider: "eodhd",
		},
		S3: S3Config{
			Region: "eu-north-1",
		},
	}
}

// Load builds the configuration: defaults, then the TOML file at path, then
// .env and FUND_* environment variables. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config: %s: %w", path, err)
			}
			log.Printf("INFO: No config file %s, using defaults", path)
		}
	}

	// Load .env variables into the process environment
	if err := godotenv.Load(); err != nil {
		logger.Debugf("no .env file found, using system environment variables")
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.DataDir, "FUND_DATA_DIR")
	setStr(&cfg.OutputDir, "FUND_OUTPUT_DIR")
	setStr(&cfg.Timezone, "FUND_TIMEZONE")
	setStr(&cfg.LogFile, "FUND_LOG_FILE")
	setInt(&cfg.LogMaxSizeMB, "FUND_LOG_MAX_SIZE_MB")
	setInt(&cfg.LogMaxBackups, "FUND_LOG_MAX_BACKUPS")
	setStr(&cfg.LogLevel, "FUND_LOG_LEVEL")

	setStringSlice(&cfg.Fund.Tickers, "FUND_TICKERS")
	setDecimal(&cfg.Fund.InitialNAV, "FUND_INITIAL_NAV")
	setDecimal(&cfg.Fund.FeePerLeg, "FUND_FEE_PER_LEG")
	setStr(&cfg.Fund.Sizing, "FUND_SIZING")
	setDecimal(&cfg.Fund.AllocationFraction, "FUND_ALLOCATION_FRACTION")
	setInt(&cfg.Fund.HoldDays, "FUND_HOLD_DAYS")
	setInt(&cfg.Fund.SignalOffset, "FUND_SIGNAL_OFFSET")
	setInt(&cfg.Fund.LookbackDays, "FUND_LOOKBACK_DAYS")

	setStr(&cfg.Market.Provider, "FUND_MARKET_PROVIDER")
	setStr(&cfg.Market.EODHDAPIKey, "FUND_EODHD_API_KEY")
	setBool(&cfg.Market.EODHDAdjusted, "FUND_EODHD_ADJUSTED")
	setStr(&cfg.Market.CSVPath, "FUND_CSV_PATH")

	setStr(&cfg.Redis.Addr, "FUND_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "FUND_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "FUND_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "FUND_REDIS_TLS_ENABLED")

	setStr(&cfg.S3.Bucket, "FUND_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "FUND_S3_PREFIX")
	setStr(&cfg.S3.Region, "FUND_S3_REGION")
	setStr(&cfg.S3.Endpoint, "FUND_S3_ENDPOINT")
	setStr(&cfg.S3.AccessKey, "FUND_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "FUND_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "FUND_S3_FORCE_PATH_STYLE")

	setStr(&cfg.Notify.TelegramToken, "TELEGRAM_BOT_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TELEGRAM_CHAT_ID")
}

// Validate collects every problem instead of stopping at the first.
func (c *Config) Validate() error {
	var errs []string

	if _, err := portfolio.NewEngine(c.Rules()); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Fund.HoldDays < 1 {
		errs = append(errs, fmt.Sprintf("fund: hold_days must be at least 1, got %d", c.Fund.HoldDays))
	}
	if c.Fund.SignalOffset < 0 {
		errs = append(errs, fmt.Sprintf("fund: signal_offset must not be negative, got %d", c.Fund.SignalOffset))
	}
	if c.Fund.LookbackDays < 31 {
		errs = append(errs, fmt.Sprintf("fund: lookback_days must cover a month, got %d", c.Fund.LookbackDays))
	}
	if !c.Scanner.BandLow.LessThanOrEqual(c.Scanner.BandHigh) {
		errs = append(errs, "scanner: band_low must not exceed band_high")
	}
	if !c.Scanner.Target.IsPositive() {
		errs = append(errs, "scanner: target must be positive")
	}

	switch strings.ToLower(c.Market.Provider) {
	case "eodhd":
		if c.Market.EODHDAPIKey == "" {
			errs = append(errs, "market: eodhd_api_key is required for provider eodhd")
		}
	case "alpaca":
	case "csv":
		if c.Market.CSVPath == "" {
			errs = append(errs, "market: csv_path is required for provider csv")
		}
	default:
		errs = append(errs, fmt.Sprintf("market: unknown provider %q (valid: eodhd, alpaca, csv)", c.Market.Provider))
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("timezone: %v", err))
	}
	if c.S3.Bucket != "" && (c.S3.AccessKey == "") != (c.S3.SecretKey == "") {
		errs = append(errs, "s3: access_key and secret_key must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrInvalid, strings.Join(errs, "\n  - "))
	}
	return nil
}

// Rules derives the engine configuration.
func (c *Config) Rules() portfolio.Rules {
	return portfolio.Rules{
		Tickers:            append([]string(nil), c.Fund.Tickers...),
		InitialNAV:         c.Fund.InitialNAV,
		FeePerLeg:          c.Fund.FeePerLeg,
		Sizing:             portfolio.Sizing(strings.ToLower(c.Fund.Sizing)),
		AllocationFraction: c.Fund.AllocationFraction,
	}
}

func (c *Config) ScannerParams() scanner.Params {
	p := scanner.DefaultParams()
	p.BandLow = c.Scanner.BandLow
	p.BandHigh = c.Scanner.BandHigh
	p.Target = c.Scanner.Target
	return p
}

// Location returns the configured zone, or UTC when it cannot be loaded.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Log prints the active configuration with secrets masked.
func (c *Config) Log() {
	log.Println("--- Configuration ---")
	log.Printf("data_dir=%s output_dir=%s timezone=%s", c.DataDir, c.OutputDir, c.Timezone)
	log.Printf("tickers=%s", strings.Join(c.Fund.Tickers, ","))
	log.Printf("initial_nav=%s fee_per_leg=%s sizing=%s allocation_fraction=%s hold_days=%d",
		c.Fund.InitialNAV, c.Fund.FeePerLeg, c.Fund.Sizing, c.Fund.AllocationFraction, c.Fund.HoldDays)
	log.Printf("provider=%s eodhd_api_key=%s", c.Market.Provider, mask(c.Market.EODHDAPIKey))
	if c.Redis.Addr != "" {
		log.Printf("redis=%s password=%s", c.Redis.Addr, mask(c.Redis.Password))
	}
	if c.S3.Bucket != "" {
		log.Printf("s3=%s/%s secret_key=%s", c.S3.Bucket, c.S3.Prefix, mask(c.S3.SecretKey))
	}
	log.Printf("telegram_token=%s telegram_chat_id=%s", mask(c.Notify.TelegramToken), c.Notify.TelegramChatID)
	log.Println("---------------------")
}

// mask shows only the last 4 chars of a secret.
func mask(val string) string {
	if val == "" {
		return ""
	}
	if len(val) > 4 {
		return "***" + val[len(val)-4:]
	}
	return "***"
}
