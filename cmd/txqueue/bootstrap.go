package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"

	"txqueue/internal/application"
	"txqueue/internal/config"
	"txqueue/internal/domain"
	"txqueue/internal/infrastructure/cache"
	"txqueue/internal/infrastructure/kafka"
	"txqueue/internal/infrastructure/logging"
	"txqueue/internal/infrastructure/storage"
	"txqueue/internal/infrastructure/telemetry"
	"txqueue/internal/interfaces/httpapi"
	"txqueue/internal/provider"
)

// runtime is the process-wide wiring shared by every command.
type runtime struct {
	cfg     config.Config
	logger  *slog.Logger
	metrics *httpapi.Metrics
	client  *provider.Client
	closers []func() error
}

// bootstrap loads configuration and builds the logger, tracer and
// provider client. logOut is stdout for services and stderr for one-shot
// queries so their JSON output stays clean.
func bootstrap(c *cli.Context, service string, logOut io.Writer) (*runtime, error) {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if c.IsSet("single") {
		cfg.SingleEndpoint = c.Bool("single")
	}
	if c.IsSet("node") {
		cfg.SelectedNode = c.String("node")
	}

	logger, rotating, err := logging.Init(logging.Config{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		Output:     logOut,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	rt := &runtime{cfg: cfg, logger: logger, metrics: httpapi.NewMetrics(nil)}
	if rotating != nil {
		rt.closers = append(rt.closers, rotating.Close)
	}

	shutdownTracing, err := telemetry.InitTracer(c.Context, telemetry.TracingConfig{
		ServiceName:    "txqueue-" + service,
		ServiceVersion: version,
		Endpoint:       cfg.OtelEndpoint,
		SampleRatio:    cfg.OtelSampleRatio,
	})
	if err != nil {
		logger.Warn("tracing init error", "err", err)
	} else {
		rt.closers = append(rt.closers, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return shutdownTracing(ctx)
		})
	}

	opts := []provider.Option{
		provider.WithDialer(provider.HTTPDialer(cfg.RPCCallTimeout)),
		provider.WithPollInterval(cfg.PollInterval),
		provider.WithLogger(logger),
		provider.WithObserver(rt.metrics),
	}
	if cfg.SingleEndpoint {
		opts = append(opts, provider.WithSingleEndpoint())
	}
	client, err := provider.NewClient(cfg.Network(), opts...)
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("provider: %w", err)
	}
	rt.client = client
	logger.Debug("provider ready",
		"chain_id", cfg.ChainID,
		"mode", client.Mode(),
		"endpoints", len(cfg.Endpoints),
		"quorum", cfg.Network().QuorumWeight(),
	)
	return rt, nil
}

// close runs the registered closers in reverse order.
func (r *runtime) close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			r.logger.Warn("shutdown error", "err", err)
		}
	}
	r.closers = nil
}

func (r *runtime) redis(ctx context.Context) *redis.Client {
	rdb, err := cache.Dial(ctx, cache.Config{
		Addr:     r.cfg.RedisAddr,
		Password: r.cfg.RedisPassword,
		DB:       r.cfg.RedisDB,
		TTL:      r.cfg.CacheTTL,
	})
	if err != nil {
		r.logger.Warn("redis unavailable, caching disabled", "addr", r.cfg.RedisAddr, "err", err)
		return nil
	}
	return rdb
}

func (r *runtime) openStore(ctx context.Context, rdb *redis.Client) (application.ReceiptRepository, error) {
	repo, err := storage.Open(ctx, r.cfg.DBDSN, storage.Options{Redis: rdb, CacheTTL: r.cfg.CacheTTL})
	if err != nil {
		return nil, fmt.Errorf("%s store: %w", storage.Backend(r.cfg.DBDSN), err)
	}
	r.closers = append(r.closers, repo.Close)
	return repo, nil
}

// producer returns nil when no brokers are configured.
func (r *runtime) producer() (*kafka.Producer, error) {
	if len(r.cfg.KafkaBrokers) == 0 {
		return nil, nil
	}
	producer, err := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:     r.cfg.KafkaBrokers,
		TopicPrefix: r.cfg.KafkaTopicPrefix,
	})
	if err != nil {
		return nil, err
	}
	r.closers = append(r.closers, producer.Close)
	return producer, nil
}

func (r *runtime) topic() string {
	return fmt.Sprintf("%s-%d", r.cfg.KafkaTopicPrefix, r.cfg.ChainID)
}

// chain serves receipt lookups through the redis cache when one is up.
func (r *runtime) chain(rdb *redis.Client) httpapi.Chain {
	return cachedChain{
		Client:   r.client,
		receipts: cache.NewReceiptCache(r.client, rdb, r.cfg.ChainID, r.cfg.CacheTTL),
	}
}

type cachedChain struct {
	*provider.Client
	receipts *cache.ReceiptCache
}

func (c cachedChain) GetTransactionReceipt(ctx context.Context, hash string) (*domain.Receipt, error) {
	return c.receipts.GetTransactionReceipt(ctx, hash)
}

func (r *runtime) server(chain httpapi.Chain, deps httpapi.Deps) (*httpapi.Server, error) {
	deps.Chain = chain
	deps.Metrics = r.metrics
	return httpapi.NewServer(deps, httpapi.BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	})
}
