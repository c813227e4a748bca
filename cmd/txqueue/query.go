package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/urfave/cli/v2"

	"txqueue/internal/domain"
)

func printJSON(c *cli.Context, payload any) error {
	encoder := json.NewEncoder(c.App.Writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(payload)
}

// query wraps a one-shot provider call: it bootstraps with logs on
// stderr, runs fn and prints its result as JSON.
func query(fn func(c *cli.Context, rt *runtime) (any, error)) cli.ActionFunc {
	return func(c *cli.Context) error {
		rt, err := bootstrap(c, "cli", os.Stderr)
		if err != nil {
			return err
		}
		defer rt.close()
		result, err := fn(c, rt)
		if err != nil {
			return err
		}
		return printJSON(c, result)
	}
}

func firstArg(c *cli.Context, name string) (string, error) {
	if c.NArg() < 1 {
		return "", fmt.Errorf("%s is required", name)
	}
	return c.Args().Get(0), nil
}

func balanceCommand() *cli.Command {
	return &cli.Command{
		Name:      "balance",
		Usage:     "Print the native balance of an address",
		ArgsUsage: "ADDRESS",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "raw", Usage: "Print the balance in base units"},
		},
		Action: query(func(c *cli.Context, rt *runtime) (any, error) {
			address, err := firstArg(c, "address")
			if err != nil {
				return nil, err
			}
			if c.Bool("raw") {
				raw, err := rt.client.GetRawBalance(c.Context, address)
				if err != nil {
					return nil, err
				}
				return map[string]string{"address": address, "balance": raw.String()}, nil
			}
			balance, err := rt.client.GetBalance(c.Context, address)
			if err != nil {
				return nil, err
			}
			return map[string]string{"address": address, "balance": balance, "symbol": rt.cfg.BaseSymbol}, nil
		}),
	}
}

func tokenBalanceCommand() *cli.Command {
	return &cli.Command{
		Name:      "token-balance",
		Usage:     "Print an ERC-20 balance",
		ArgsUsage: "ADDRESS",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "token", Usage: "Token contract address", Required: true},
			&cli.UintFlag{Name: "decimals", Usage: "Token decimals", Value: 18},
			&cli.StringFlag{Name: "symbol", Usage: "Token symbol for display"},
		},
		Action: query(func(c *cli.Context, rt *runtime) (any, error) {
			address, err := firstArg(c, "address")
			if err != nil {
				return nil, err
			}
			asset := domain.Asset{Symbol: c.String("symbol"), Contract: c.String("token"), Decimals: c.Uint("decimals")}
			balance, err := rt.client.GetTokenBalance(c.Context, address, asset)
			if err != nil {
				return nil, err
			}
			return map[string]string{"address": address, "token": asset.Contract, "balance": balance, "symbol": asset.Symbol}, nil
		}),
	}
}

func txCommand() *cli.Command {
	return &cli.Command{
		Name:      "tx",
		Usage:     "Look up a transaction by hash",
		ArgsUsage: "HASH",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "race", Usage: "Take the first endpoint that knows the transaction"},
		},
		Action: query(func(c *cli.Context, rt *runtime) (any, error) {
			hash, err := firstArg(c, "hash")
			if err != nil {
				return nil, err
			}
			return rt.client.GetTransactionByHash(c.Context, hash, c.Bool("race"))
		}),
	}
}

func receiptCommand() *cli.Command {
	return &cli.Command{
		Name:      "receipt",
		Usage:     "Look up a transaction receipt, optionally waiting for it",
		ArgsUsage: "HASH",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "wait", Usage: "Poll until the receipt has enough confirmations"},
			&cli.Uint64Flag{Name: "confirmations", Value: 1},
		},
		Action: query(func(c *cli.Context, rt *runtime) (any, error) {
			hash, err := firstArg(c, "hash")
			if err != nil {
				return nil, err
			}
			if c.Bool("wait") {
				return rt.client.WaitForTransaction(c.Context, hash, c.Uint64("confirmations"), rt.cfg.ConfirmationTimeout)
			}
			receipt, err := rt.client.GetTransactionReceipt(c.Context, hash)
			if err != nil {
				return nil, err
			}
			if receipt == nil {
				return nil, errors.New("receipt not found")
			}
			return receipt, nil
		}),
	}
}

func blockCommand() *cli.Command {
	return &cli.Command{
		Name:      "block",
		Usage:     "Print the current block, or a block by number or hash",
		ArgsUsage: "[NUMBER|HASH]",
		Action: query(func(c *cli.Context, rt *runtime) (any, error) {
			if c.NArg() == 0 {
				current, err := rt.client.GetCurrentBlock(c.Context)
				if err != nil {
					return nil, err
				}
				return map[string]string{"number": current}, nil
			}
			arg := c.Args().Get(0)
			var (
				block *domain.Block
				err   error
			)
			if number, perr := strconv.ParseUint(arg, 10, 64); perr == nil {
				block, err = rt.client.GetBlockByNumber(c.Context, number)
			} else {
				block, err = rt.client.GetBlockByHash(c.Context, arg)
			}
			if err != nil {
				return nil, err
			}
			if block == nil {
				return nil, fmt.Errorf("block %s not found", arg)
			}
			return block, nil
		}),
	}
}

func nonceCommand() *cli.Command {
	return &cli.Command{
		Name:      "nonce",
		Usage:     "Print the pending transaction count of an address",
		ArgsUsage: "ADDRESS",
		Action: query(func(c *cli.Context, rt *runtime) (any, error) {
			address, err := firstArg(c, "address")
			if err != nil {
				return nil, err
			}
			nonce, err := rt.client.GetTransactionCount(c.Context, address)
			if err != nil {
				return nil, err
			}
			return map[string]any{"address": address, "nonce": nonce}, nil
		}),
	}
}
