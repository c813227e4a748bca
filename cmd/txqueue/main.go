package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"
)

var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		slog.Error("txqueue failed", "err", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "txqueue",
		Usage: "Sequential blockchain transaction queue over a pool of RPC endpoints",
		Description: `Runs a queue of transactions through prepare, sign, broadcast and
confirm, one at a time, and answers one-shot chain queries.

Configuration comes from the environment (CHAIN_ID, RPC_ENDPOINTS, DB_DSN, ...).`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime),
		Commands: []*cli.Command{
			runCommand(),
			serveCommand(),
			consumeCommand(),
			balanceCommand(),
			tokenBalanceCommand(),
			txCommand(),
			receiptCommand(),
			blockCommand(),
			nonceCommand(),
		},
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "single",
				Usage:   "Use only the selected endpoint instead of a quorum",
				EnvVars: []string{"SINGLE_ENDPOINT"},
			},
			&cli.StringFlag{
				Name:    "node",
				Usage:   "Endpoint name used in single-endpoint mode",
				EnvVars: []string{"SELECTED_NODE"},
			},
		},
	}
}
