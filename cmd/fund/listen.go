package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"eom_fund/internal/notify"

	"github.com/google/subcommands"
)

type listenCmd struct {
	common
}

func (*listenCmd) Name() string     { return "listen" }
func (*listenCmd) Synopsis() string { return "answer Telegram commands about the books" }
func (*listenCmd) Usage() string {
	return `fund listen [-config <file>]

  Long-polls the configured Telegram chat and answers /status, /trades and
  /help until interrupted. It never trades.
`
}

func (c *listenCmd) SetFlags(f *flag.FlagSet) { c.setFlags(f) }

func (c *listenCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, closeLog, err := c.load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}
	defer closeLog()

	tg, ok := notify.New(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID).(*notify.Telegram)
	if !ok {
		fmt.Fprintln(os.Stderr, "Error: telegram_token and telegram_chat_id are required")
		return subcommands.ExitUsageError
	}
	fd, err := books(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	fd.Zone = cfg.Location()

	if err := tg.Listen(ctx, fd.HandleCommand); err != nil {
		log.Printf("ERROR: %v", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
