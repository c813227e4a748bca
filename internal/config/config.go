package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"txqueue/internal/domain"
)

type Config struct {
	ChainID             uint64
	NetworkName         string
	BaseSymbol          string
	BaseDecimals        uint
	Endpoints           []domain.Endpoint
	SelectedNode        string
	Quorum              int
	SingleEndpoint      bool
	RPCCallTimeout      time.Duration
	Confirmations       uint64
	ConfirmationTimeout time.Duration
	PollInterval        time.Duration
	ManualBroadcast     bool
	SignerKey           string
	DBDSN               string
	HTTPAddr            string
	RedisAddr           string
	RedisPassword       string
	RedisDB             int
	CacheTTL            time.Duration
	OtelEndpoint        string
	OtelSampleRatio     float64
	KafkaBrokers        []string
	KafkaTopicPrefix    string
	KafkaGroupID        string
	BatchSize           int
	FlushInterval       time.Duration
	LogLevel            string
	LogFormat           string
	LogFile             string
	LogMaxSizeMB        int
	LogMaxBackups       int
}

// Network assembles the endpoint pool the provider is built from.
func (c Config) Network() domain.Network {
	return domain.Network{
		ChainID:      c.ChainID,
		Name:         c.NetworkName,
		BaseSymbol:   c.BaseSymbol,
		BaseDecimals: c.BaseDecimals,
		Endpoints:    append([]domain.Endpoint(nil), c.Endpoints...),
		SelectedNode: c.SelectedNode,
		Quorum:       c.Quorum,
	}
}

type EnvSource interface {
	Lookup(key string) (string, bool)
}

type EnvMap map[string]string

func (e EnvMap) Lookup(key string) (string, bool) {
	value, ok := e[key]
	return value, ok
}

func FromEnviron() EnvSource {
	env := make(EnvMap)
	for _, entry := range os.Environ() {
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		env[parts[0]] = parts[1]
	}
	return env
}

func Load(source EnvSource) (Config, error) {
	if source == nil {
		return Config{}, errors.New("env source is required")
	}

	chainID, err := parseUintEnv(source, "CHAIN_ID", 0)
	if err != nil {
		return Config{}, err
	}
	if chainID == 0 {
		return Config{}, errors.New("CHAIN_ID is required")
	}

	endpoints, err := parseEndpoints(source)
	if err != nil {
		return Config{}, err
	}

	quorum, err := parseUintEnv(source, "RPC_QUORUM", 0)
	if err != nil {
		return Config{}, err
	}
	baseDecimals, err := parseUintEnv(source, "BASE_DECIMALS", domain.DefaultBaseDecimals)
	if err != nil {
		return Config{}, err
	}
	confirmations, err := parseUintEnv(source, "CONFIRMATIONS", 1)
	if err != nil {
		return Config{}, err
	}
	single, err := parseBoolEnv(source, "SINGLE_ENDPOINT", false)
	if err != nil {
		return Config{}, err
	}
	manual, err := parseBoolEnv(source, "MANUAL_BROADCAST", false)
	if err != nil {
		return Config{}, err
	}
	callTimeout, err := parseDurationEnv(source, "RPC_CALL_TIMEOUT", 15*time.Second)
	if err != nil {
		return Config{}, err
	}
	confirmTimeout, err := parseDurationEnv(source, "CONFIRMATION_TIMEOUT", 5*time.Minute)
	if err != nil {
		return Config{}, err
	}
	pollInterval, err := parseDurationEnv(source, "POLL_INTERVAL", 4*time.Second)
	if err != nil {
		return Config{}, err
	}
	cacheTTL, err := parseDurationEnv(source, "CACHE_TTL", time.Hour)
	if err != nil {
		return Config{}, err
	}
	flushInterval, err := parseDurationEnv(source, "LEDGER_FLUSH_INTERVAL", 500*time.Millisecond)
	if err != nil {
		return Config{}, err
	}
	batchSize, err := parseUintEnv(source, "LEDGER_BATCH_SIZE", 100)
	if err != nil {
		return Config{}, err
	}
	redisDB, err := parseUintEnv(source, "REDIS_DB", 0)
	if err != nil {
		return Config{}, err
	}
	logMaxSize, err := parseUintEnv(source, "LOG_MAX_SIZE_MB", 100)
	if err != nil {
		return Config{}, err
	}
	logMaxBackups, err := parseUintEnv(source, "LOG_MAX_BACKUPS", 3)
	if err != nil {
		return Config{}, err
	}

	sampleRatio := 1.0
	if raw, ok := source.Lookup("OTEL_SAMPLE_RATIO"); ok && strings.TrimSpace(raw) != "" {
		sampleRatio, err = strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid OTEL_SAMPLE_RATIO: %w", err)
		}
	}

	dbDSN := lookupDefault(source, "DB_DSN", "sqlite://txqueue.db")
	httpAddr := lookupDefault(source, "HTTP_ADDR", ":8080")
	networkName := lookupDefault(source, "NETWORK_NAME", fmt.Sprintf("chain-%d", chainID))
	baseSymbol := lookupDefault(source, "BASE_SYMBOL", "ETH")

	// Redis and Kafka are opt-in: unset means disabled.
	redisAddr, _ := source.Lookup("REDIS_ADDR")
	redisPassword, _ := source.Lookup("REDIS_PASSWORD")
	kafkaBrokers, err := parseList(source, "KAFKA_BROKERS", "")
	if err != nil {
		return Config{}, err
	}

	otelEndpoint, _ := source.Lookup("OTEL_EXPORTER_OTLP_ENDPOINT")
	selectedNode, _ := source.Lookup("SELECTED_NODE")
	signerKey, _ := source.Lookup("SIGNER_KEY")

	cfg := Config{
		ChainID:             chainID,
		NetworkName:         networkName,
		BaseSymbol:          baseSymbol,
		BaseDecimals:        uint(baseDecimals),
		Endpoints:           endpoints,
		SelectedNode:        strings.TrimSpace(selectedNode),
		Quorum:              int(quorum),
		SingleEndpoint:      single,
		RPCCallTimeout:      callTimeout,
		Confirmations:       confirmations,
		ConfirmationTimeout: confirmTimeout,
		PollInterval:        pollInterval,
		ManualBroadcast:     manual,
		SignerKey:           strings.TrimSpace(signerKey),
		DBDSN:               dbDSN,
		HTTPAddr:            httpAddr,
		RedisAddr:           strings.TrimSpace(redisAddr),
		RedisPassword:       redisPassword,
		RedisDB:             int(redisDB),
		CacheTTL:            cacheTTL,
		OtelEndpoint:        strings.TrimSpace(otelEndpoint),
		OtelSampleRatio:     sampleRatio,
		KafkaBrokers:        kafkaBrokers,
		KafkaTopicPrefix:    lookupDefault(source, "KAFKA_TOPIC_PREFIX", "txqueue"),
		KafkaGroupID:        lookupDefault(source, "KAFKA_GROUP_ID", "txqueue-ledger"),
		BatchSize:           int(batchSize),
		FlushInterval:       flushInterval,
		LogLevel:            lookupDefault(source, "LOG_LEVEL", "info"),
		LogFormat:           lookupDefault(source, "LOG_FORMAT", "text"),
		LogFile:             strings.TrimSpace(lookupDefault(source, "LOG_FILE", "")),
		LogMaxSizeMB:        int(logMaxSize),
		LogMaxBackups:       int(logMaxBackups),
	}
	if err := cfg.Network().Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid RPC_ENDPOINTS: %w", err)
	}
	if cfg.SelectedNode != "" {
		if _, err := cfg.Network().Selected(); err != nil {
			return Config{}, fmt.Errorf("invalid SELECTED_NODE: %w", err)
		}
	}
	return cfg, nil
}

// parseEndpoints reads RPC_ENDPOINTS as a comma list of name=url or
// name=url|weight|priority, falling back to a lone RPC_URL.
func parseEndpoints(source EnvSource) ([]domain.Endpoint, error) {
	raw, ok := source.Lookup("RPC_ENDPOINTS")
	if !ok || strings.TrimSpace(raw) == "" {
		url, ok := source.Lookup("RPC_URL")
		if !ok || strings.TrimSpace(url) == "" {
			return nil, errors.New("RPC_ENDPOINTS or RPC_URL is required")
		}
		return []domain.Endpoint{{Name: "default", URL: strings.TrimSpace(url), Weight: 1}}, nil
	}

	var endpoints []domain.Endpoint
	for i, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		name, rest, found := strings.Cut(item, "=")
		if !found || strings.Contains(name, "://") {
			rest = item
			name = fmt.Sprintf("node-%d", i)
		}
		fields := strings.Split(rest, "|")
		ep := domain.Endpoint{Name: strings.TrimSpace(name), URL: strings.TrimSpace(fields[0]), Weight: 1, Priority: i}
		if len(fields) > 1 && strings.TrimSpace(fields[1]) != "" {
			weight, err := strconv.Atoi(strings.TrimSpace(fields[1]))
			if err != nil || weight <= 0 {
				return nil, fmt.Errorf("invalid RPC_ENDPOINTS weight for %q", ep.Name)
			}
			ep.Weight = weight
		}
		if len(fields) > 2 && strings.TrimSpace(fields[2]) != "" {
			priority, err := strconv.Atoi(strings.TrimSpace(fields[2]))
			if err != nil {
				return nil, fmt.Errorf("invalid RPC_ENDPOINTS priority for %q", ep.Name)
			}
			ep.Priority = priority
		}
		if len(fields) > 3 {
			return nil, fmt.Errorf("invalid RPC_ENDPOINTS entry %q", item)
		}
		endpoints = append(endpoints, ep)
	}
	if len(endpoints) == 0 {
		return nil, errors.New("RPC_ENDPOINTS is empty")
	}
	return endpoints, nil
}

func lookupDefault(source EnvSource, key, defaultValue string) string {
	raw, ok := source.Lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return defaultValue
	}
	return raw
}

func parseUintEnv(source EnvSource, key string, defaultValue uint64) (uint64, error) {
	raw, ok := source.Lookup(key)
	if !ok || raw == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

func parseBoolEnv(source EnvSource, key string, defaultValue bool) (bool, error) {
	raw, ok := source.Lookup(key)
	if !ok || raw == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

func parseDurationEnv(source EnvSource, key string, defaultValue time.Duration) (time.Duration, error) {
	raw, ok := source.Lookup(key)
	if !ok || raw == "" {
		return defaultValue, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

// parseList splits a comma list. An empty default makes the key optional.
func parseList(source EnvSource, key string, defaultValue string) ([]string, error) {
	raw, ok := source.Lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		raw = defaultValue
	}
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	items := strings.Split(raw, ",")
	var values []string
	for _, item := range items {
		value := strings.TrimSpace(item)
		if value == "" {
			continue
		}
		values = append(values, value)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%s is required", key)
	}
	return values, nil
}
