package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"ibgw/internal/config"
	"ibgw/internal/gateway"
	"ibgw/internal/observ"
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: ibgw [-config path] <command> [args]

commands:
  status                   check gateway session state
  accounts                 list portfolio accounts
  summary [accountId]      portfolio summary statistics
  positions [accountId]    list positions
  chain <symbol>           options chain (first expirations)
  quote <symbol>           market data snapshot
  orders [accountId]       list live orders
`)
	os.Exit(2)
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	var logger *zap.Logger
	if cfg.Logging.FilePath != "" {
		logger, err = observ.NewLoggerWithFile(cfg.Logging.Level, cfg.Logging.FilePath)
	} else {
		logger, err = observ.NewLogger(cfg.Logging.Level)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	client := gateway.New(gateway.Config{
		Host:            cfg.Gateway.Host,
		Port:            cfg.Gateway.Port,
		Timeout:         time.Duration(cfg.Gateway.TimeoutMs) * time.Millisecond,
		TickleTimeout:   time.Duration(cfg.Gateway.TickleTimeoutMs) * time.Millisecond,
		TickleInterval:  time.Duration(cfg.Gateway.TickleIntervalMs) * time.Millisecond,
		MaxAuthAttempts: cfg.Gateway.MaxAuthAttempts,
		Logger:          logger,
	})
	defer client.Destroy()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	args := flag.Args()
	account := cfg.AccountID

	var result any
	switch args[0] {
	case "status":
		result = map[string]bool{"authenticated": client.CheckStatus(ctx)}
	case "accounts":
		result, err = client.Accounts(ctx)
	case "summary":
		if len(args) > 1 {
			account = args[1]
		}
		result, err = client.PortfolioSummary(ctx, account)
	case "positions":
		if len(args) > 1 {
			account = args[1]
		}
		result, err = client.Positions(ctx, account)
	case "chain":
		if len(args) < 2 {
			usage()
		}
		result, err = client.BuildOptionsChain(ctx, args[1], 0)
	case "quote":
		if len(args) < 2 {
			usage()
		}
		result, err = client.MarketData(ctx, args[1], 0)
	case "orders":
		if len(args) > 1 {
			account = args[1]
		}
		result, err = client.Orders(ctx, account)
	default:
		usage()
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", args[0], err)
		os.Exit(1)
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "encode result: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}
