package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"txqueue/internal/application"
	"txqueue/internal/domain"
	"txqueue/internal/infrastructure/signer"
	"txqueue/internal/interfaces/httpapi"
	"txqueue/internal/txqueue"
)

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Seed a queue from an intents file and drive it to completion",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "file",
				Aliases:  []string{"f"},
				Usage:    "JSON file with an array of {\"kind\", \"tx\"} intents",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "account",
				Usage: "Sender address; defaults to the signer's address",
			},
			&cli.StringFlag{
				Name:  "label",
				Usage: "Human readable account label",
			},
			&cli.BoolFlag{
				Name:  "serve",
				Usage: "Serve the HTTP operator API while the queue runs",
				Value: true,
			},
			&cli.BoolFlag{
				Name:  "keep-running",
				Usage: "Keep serving after the queue completes or fails",
			},
		},
		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
	intents, err := readIntents(c.String("file"))
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rt, err := bootstrap(c, "run", os.Stdout)
	if err != nil {
		return err
	}
	defer rt.close()
	cfg := rt.cfg

	if cfg.SignerKey == "" {
		return errors.New("run needs SIGNER_KEY")
	}
	keySigner, err := signer.NewKeySigner(cfg.SignerKey, cfg.ChainID)
	if err != nil {
		return err
	}
	account, err := resolveAccount(c.String("account"), c.String("label"), cfg.ChainID, keySigner)
	if err != nil {
		return err
	}

	rdb := rt.redis(ctx)
	store, err := rt.openStore(ctx, rdb)
	if err != nil {
		return err
	}
	sinks := application.ReceiptSinks{store}
	producer, err := rt.producer()
	if err != nil {
		return err
	}
	var publisher application.TransitionPublisher
	if producer != nil {
		sinks = append(sinks, producer)
		publisher = producer
	}

	queue := txqueue.New(rt.client,
		txqueue.WithLogger(rt.logger),
		txqueue.WithClock(func() time.Time { return time.Now().UTC() }),
	)
	coordinator, err := application.NewCoordinator(application.CoordinatorDeps{
		Queue:     queue,
		Chain:     rt.client,
		Signer:    keySigner,
		Sink:      sinks,
		Publisher: publisher,
		Observer:  rt.metrics,
		Logger:    rt.logger,
	}, application.CoordinatorConfig{
		Confirmations:   cfg.Confirmations,
		ConfirmTimeout:  cfg.ConfirmationTimeout,
		ManualBroadcast: cfg.ManualBroadcast,
	})
	if err != nil {
		return err
	}
	watch := queue.Subscribe()
	defer watch.Close()

	var wg sync.WaitGroup
	runCtx, stop := context.WithCancel(ctx)
	defer func() {
		stop()
		wg.Wait()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := coordinator.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			rt.logger.Error("coordinator stopped", "err", err)
		}
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-runCtx.Done():
				return
			case err := <-coordinator.Errors():
				rt.logger.Warn("coordinator error", "err", err)
			}
		}
	}()

	if c.Bool("serve") {
		server, err := rt.server(rt.chain(rdb), httpapiDeps(queue, coordinator, store))
		if err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			rt.logger.Info("http server listening", "addr", cfg.HTTPAddr)
			if err := server.ListenAndServe(runCtx, cfg.HTTPAddr); err != nil {
				rt.logger.Error("http server error", "err", err)
			}
		}()
	}

	if err := queue.Seed(intents, account, cfg.Network()); err != nil {
		return err
	}
	rt.logger.Info("queue seeded", "account", account.Address, "parcels", len(intents), "chain_id", cfg.ChainID)

	outcome := awaitOutcome(runCtx, queue, watch)
	if errors.Is(outcome, context.Canceled) {
		rt.logger.Info("interrupted", "phase", queue.Snapshot().Phase)
		return nil
	}
	if outcome == nil {
		if err := printJSON(c, queue.Snapshot()); err != nil {
			return err
		}
	}
	if c.Bool("keep-running") {
		<-ctx.Done()
	}
	return outcome
}

func httpapiDeps(queue *txqueue.Queue, coordinator *application.Coordinator, store application.ReceiptRepository) httpapi.Deps {
	return httpapi.Deps{Queue: queue, Watcher: coordinator, Store: store}
}

// awaitOutcome blocks until the queue completes, a parcel fails, or ctx ends.
func awaitOutcome(ctx context.Context, queue *txqueue.Queue, watch *txqueue.Subscription) error {
	for {
		if _, err := watch.Next(ctx); err != nil {
			return err
		}
		state := queue.Snapshot()
		switch state.Phase {
		case txqueue.PhaseComplete:
			return nil
		case txqueue.PhaseFailed:
			if current, ok := queue.Current(); ok {
				return fmt.Errorf("parcel %d (%s) failed: %s", state.Cursor, current.Kind, current.Error)
			}
			return errors.New("queue failed")
		}
	}
}

func readIntents(path string) ([]txqueue.Intent, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read intents: %w", err)
	}
	var intents []txqueue.Intent
	if err := json.Unmarshal(raw, &intents); err != nil {
		return nil, fmt.Errorf("parse intents %s: %w", path, err)
	}
	if len(intents) == 0 {
		return nil, fmt.Errorf("intents file %s is empty", path)
	}
	for i := range intents {
		if strings.TrimSpace(intents[i].Kind) == "" {
			intents[i].Kind = "transfer"
		}
	}
	return intents, nil
}

func resolveAccount(address, label string, chainID uint64, keySigner application.Signer) (domain.Account, error) {
	address = strings.ToLower(strings.TrimSpace(address))
	if address == "" {
		address = keySigner.Address()
	}
	if address != keySigner.Address() {
		return domain.Account{}, fmt.Errorf("account %s does not match signer %s", address, keySigner.Address())
	}
	return domain.Account{Address: address, Label: label, ChainID: chainID}, nil
}
