package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/urfave/cli/v2"

	"txqueue/internal/application"
	"txqueue/internal/infrastructure/kafka"
	"txqueue/internal/infrastructure/telemetry"
	"txqueue/internal/interfaces/httpapi"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve chain lookups, stored receipts and metrics over HTTP",
		Action: func(c *cli.Context) error {
			ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer cancel()

			rt, err := bootstrap(c, "serve", os.Stdout)
			if err != nil {
				return err
			}
			defer rt.close()

			rdb := rt.redis(ctx)
			store, err := rt.openStore(ctx, rdb)
			if err != nil {
				return err
			}
			server, err := rt.server(rt.chain(rdb), httpapi.Deps{Store: store})
			if err != nil {
				return err
			}
			rt.logger.Info("http server listening", "addr", rt.cfg.HTTPAddr, "mode", rt.client.Mode())
			return server.ListenAndServe(ctx, rt.cfg.HTTPAddr)
		},
	}
}

func consumeCommand() *cli.Command {
	return &cli.Command{
		Name:  "consume",
		Usage: "Fold published queue activity from Kafka into the receipt store",
		Action: func(c *cli.Context) error {
			ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer cancel()

			rt, err := bootstrap(c, "ledger", os.Stdout)
			if err != nil {
				return err
			}
			defer rt.close()

			store, err := rt.openStore(ctx, rt.redis(ctx))
			if err != nil {
				return err
			}
			consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
				Brokers: rt.cfg.KafkaBrokers,
				GroupID: rt.cfg.KafkaGroupID,
				Topic:   rt.topic(),
			})
			if err != nil {
				return err
			}
			defer consumer.Close()

			ledger, err := application.NewLedger(consumer, store, rt.metrics, rt.logger, application.LedgerConfig{
				BatchSize:     rt.cfg.BatchSize,
				FlushInterval: rt.cfg.FlushInterval,
				MessageContext: func(ctx context.Context, msg kafkago.Message, traceID string) context.Context {
					return telemetry.ConsumerContext(ctx, msg.Headers, traceID)
				},
			})
			if err != nil {
				return err
			}

			server, err := rt.server(rt.client, httpapi.Deps{Store: store})
			if err != nil {
				return err
			}
			go func() {
				if err := server.ListenAndServe(ctx, rt.cfg.HTTPAddr); err != nil {
					rt.logger.Error("http server error", "err", err)
				}
			}()

			rt.logger.Info("ledger consuming", "topic", rt.topic(), "group", rt.cfg.KafkaGroupID)
			return ledger.Run(ctx)
		},
	}
}
