package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Service roles.
const (
	RoleOrchestrator = "orchestrator"
	RolePayment      = "payment"
	RoleOrders       = "orders"
	RoleFanout       = "fanout"
	// RoleAll runs every role in one process over the in-memory transport.
	RoleAll = "all"
)

// Transports.
const (
	TransportKafka  = "kafka"
	TransportMemory = "memory"
)

// AppConfig selects what this process runs.
type AppConfig struct {
	Role      string
	Env       string
	Transport string
}

// LoggingConfig holds log settings.
type LoggingConfig struct {
	Level string
}

// TracingConfig holds OpenTelemetry exporter settings.
type TracingConfig struct {
	Endpoint    string
	ServiceName string
}

// KafkaConfig holds broker settings.
type KafkaConfig struct {
	Brokers      []string
	GroupID      string
	TopicPrefix  string
	DialTimeout  time.Duration
	BatchTimeout time.Duration
	Partitions   int
}

// RedisConfig holds Redis connection and behavior settings.
type RedisConfig struct {
	URL                string
	DialTimeout        *time.Duration
	ReadTimeout        *time.Duration
	WriteTimeout       *time.Duration
	PoolSize           *int
	MinIdleConns       *int
	MaxRetries         *int
	HealthcheckTimeout time.Duration
	EnableOTel         bool
	TLSConfig          *tls.Config
}

// DatabaseConfig holds the optional Postgres DSN.
type DatabaseConfig struct {
	URL          string
	SetupTimeout time.Duration
}

// GRPCConfig holds the health server address and ingress rate limiting.
type GRPCConfig struct {
	Addr              string
	RateLimitInterval time.Duration
	RateLimitBurst    int
}

// HTTPConfig holds a role's public HTTP listener and its rate limiting.
type HTTPConfig struct {
	Addr              string
	RateLimitInterval time.Duration
	RateLimitBurst    int
}

// ObservabilityConfig holds the HTTP address for the metrics endpoint.
type ObservabilityConfig struct {
	Addr string
}

// SagaConfig selects the transaction store (memory, redis or postgres) and dedup guard.
type SagaConfig struct {
	Store    string
	Dedup    bool
	DedupTTL time.Duration
	TxTTL    time.Duration
}

// PaymentConfig configures the payment gateway.
type PaymentConfig struct {
	SuccessRate         float64
	BreakerMaxFailures  int
	BreakerResetTimeout time.Duration
	Ledger              bool
}

// StartupConfig controls retries of startup dependency steps.
type StartupConfig struct {
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
}

// LoadEnvFile loads ENV_FILE (default .env) into the environment without
// overriding variables that are already set. A missing file is ignored.
func LoadEnvFile() error {
	path := stringOr("ENV_FILE", ".env")
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// LoadApp reads the process role and transport.
func LoadApp() (AppConfig, error) {
	role, err := requiredString("SERVICE_ROLE")
	if err != nil {
		return AppConfig{}, err
	}
	role = strings.ToLower(role)
	switch role {
	case RoleOrchestrator, RolePayment, RoleOrders, RoleFanout, RoleAll:
	default:
		return AppConfig{}, fmt.Errorf("SERVICE_ROLE: unknown role %q", role)
	}

	transport := strings.ToLower(stringOr("TRANSPORT", TransportKafka))
	switch transport {
	case TransportKafka, TransportMemory:
	default:
		return AppConfig{}, fmt.Errorf("TRANSPORT: unknown transport %q", transport)
	}
	if role == RoleAll && transport != TransportMemory {
		return AppConfig{}, errors.New("SERVICE_ROLE=all requires TRANSPORT=memory")
	}

	return AppConfig{
		Role:      role,
		Env:       stringOr("APP_ENV", "development"),
		Transport: transport,
	}, nil
}

// LoadLogging reads LOG_LEVEL.
func LoadLogging() LoggingConfig {
	return LoggingConfig{Level: stringOr("LOG_LEVEL", "info")}
}

// LoadTracing reads the OTLP endpoint. An empty endpoint disables export.
func LoadTracing(defaultService string) TracingConfig {
	return TracingConfig{
		Endpoint:    strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
		ServiceName: stringOr("OTEL_SERVICE_NAME", defaultService),
	}
}

// LoadKafka reads broker settings. defaultGroup is used when KAFKA_GROUP_ID is unset.
func LoadKafka(defaultGroup string) (KafkaConfig, error) {
	raw, err := requiredString("KAFKA_BROKERS")
	if err != nil {
		return KafkaConfig{}, err
	}
	cfg := KafkaConfig{
		GroupID:     stringOr("KAFKA_GROUP_ID", defaultGroup),
		TopicPrefix: strings.TrimSpace(os.Getenv("KAFKA_TOPIC_PREFIX")),
	}
	for _, broker := range strings.Split(raw, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			cfg.Brokers = append(cfg.Brokers, broker)
		}
	}
	if len(cfg.Brokers) == 0 {
		return cfg, errors.New("KAFKA_BROKERS has no brokers")
	}

	if cfg.DialTimeout, err = durationOr("KAFKA_DIAL_TIMEOUT", 10*time.Second); err != nil {
		return cfg, err
	}
	if cfg.BatchTimeout, err = durationOr("KAFKA_BATCH_TIMEOUT", 10*time.Millisecond); err != nil {
		return cfg, err
	}
	if cfg.Partitions, err = intOr("KAFKA_TOPIC_PARTITIONS", 1); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadRedis reads Redis config from env.
func LoadRedis() (RedisConfig, error) {
	cfg := RedisConfig{}

	url, err := requiredString("REDIS_URL")
	if err != nil {
		return cfg, err
	}
	cfg.URL = url

	if cfg.DialTimeout, err = optionalDuration("REDIS_DIAL_TIMEOUT"); err != nil {
		return cfg, err
	}
	if cfg.ReadTimeout, err = optionalDuration("REDIS_READ_TIMEOUT"); err != nil {
		return cfg, err
	}
	if cfg.WriteTimeout, err = optionalDuration("REDIS_WRITE_TIMEOUT"); err != nil {
		return cfg, err
	}
	if cfg.PoolSize, err = optionalInt("REDIS_POOL_SIZE"); err != nil {
		return cfg, err
	}
	if cfg.MinIdleConns, err = optionalInt("REDIS_MIN_IDLE_CONNS"); err != nil {
		return cfg, err
	}
	if cfg.MaxRetries, err = optionalInt("REDIS_MAX_RETRIES"); err != nil {
		return cfg, err
	}
	if cfg.HealthcheckTimeout, err = durationOr("REDIS_HEALTHCHECK_TIMEOUT", 2*time.Second); err != nil {
		return cfg, err
	}
	if cfg.EnableOTel, err = optionalBool("REDIS_OTEL"); err != nil {
		return cfg, err
	}
	if cfg.TLSConfig, err = loadRedisTLSFromEnv(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// LoadDatabase reads DATABASE_URL. An empty URL selects in-memory stores.
func LoadDatabase() (DatabaseConfig, error) {
	timeout, err := durationOr("DATABASE_SETUP_TIMEOUT", 5*time.Second)
	if err != nil {
		return DatabaseConfig{}, err
	}
	return DatabaseConfig{
		URL:          strings.TrimSpace(os.Getenv("DATABASE_URL")),
		SetupTimeout: timeout,
	}, nil
}

// LoadGRPC reads the health server address and rate limit settings.
func LoadGRPC() (GRPCConfig, error) {
	cfg := GRPCConfig{Addr: stringOr("GRPC_ADDR", ":50051")}
	var err error
	if cfg.RateLimitInterval, err = durationOr("GRPC_RATE_LIMIT_INTERVAL", 0); err != nil {
		return cfg, err
	}
	if cfg.RateLimitBurst, err = intOr("GRPC_RATE_LIMIT_BURST", 0); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadHTTP reads a role's HTTP listener from addrVar, falling back to defaultAddr.
func LoadHTTP(addrVar, defaultAddr string) (HTTPConfig, error) {
	cfg := HTTPConfig{Addr: stringOr(addrVar, defaultAddr)}
	var err error
	if cfg.RateLimitInterval, err = durationOr("HTTP_RATE_LIMIT_INTERVAL", 0); err != nil {
		return cfg, err
	}
	if cfg.RateLimitBurst, err = intOr("HTTP_RATE_LIMIT_BURST", 0); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadObservability reads metrics HTTP server address from env.
func LoadObservability() (ObservabilityConfig, error) {
	addr, err := requiredString("OBS_ADDR")
	if err != nil {
		return ObservabilityConfig{}, err
	}
	return ObservabilityConfig{Addr: addr}, nil
}

// LoadSaga reads the orchestrator store and dedup settings.
func LoadSaga() (SagaConfig, error) {
	cfg := SagaConfig{Store: strings.ToLower(stringOr("SAGA_STORE", "memory"))}
	switch cfg.Store {
	case "memory", "redis", "postgres":
	default:
		return cfg, fmt.Errorf("SAGA_STORE: unknown store %q", cfg.Store)
	}

	var err error
	if cfg.Dedup, err = boolOr("SAGA_DEDUP", true); err != nil {
		return cfg, err
	}
	if cfg.DedupTTL, err = durationOr("SAGA_DEDUP_TTL", 24*time.Hour); err != nil {
		return cfg, err
	}
	if cfg.TxTTL, err = durationOr("SAGA_TX_TTL", 0); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadPayment reads gateway settings.
func LoadPayment() (PaymentConfig, error) {
	cfg := PaymentConfig{}
	var err error
	if cfg.SuccessRate, err = floatOr("PAYMENT_SUCCESS_RATE", 0.8); err != nil {
		return cfg, err
	}
	if cfg.SuccessRate > 1 {
		return cfg, errors.New("PAYMENT_SUCCESS_RATE must be <= 1")
	}
	if cfg.BreakerMaxFailures, err = intOr("PAYMENT_BREAKER_MAX_FAILURES", 5); err != nil {
		return cfg, err
	}
	if cfg.BreakerResetTimeout, err = durationOr("PAYMENT_BREAKER_RESET_TIMEOUT", 30*time.Second); err != nil {
		return cfg, err
	}
	if cfg.Ledger, err = optionalBool("PAYMENT_LEDGER"); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadStartup reads the retry policy for startup dependency steps.
func LoadStartup() (StartupConfig, error) {
	cfg := StartupConfig{}
	var err error
	if cfg.RetryMaxAttempts, err = intOr("STARTUP_RETRY_MAX_ATTEMPTS", 5); err != nil {
		return cfg, err
	}
	if cfg.RetryBaseDelay, err = durationOr("STARTUP_RETRY_BASE_DELAY", 500*time.Millisecond); err != nil {
		return cfg, err
	}
	if cfg.RetryMaxDelay, err = durationOr("STARTUP_RETRY_MAX_DELAY", 10*time.Second); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadRedisTLSFromEnv() (*tls.Config, error) {
	caFile := strings.TrimSpace(os.Getenv("REDIS_TLS_CA_FILE"))
	certFile := strings.TrimSpace(os.Getenv("REDIS_TLS_CERT_FILE"))
	keyFile := strings.TrimSpace(os.Getenv("REDIS_TLS_KEY_FILE"))
	serverName := strings.TrimSpace(os.Getenv("REDIS_TLS_SERVER_NAME"))
	insecureStr := strings.TrimSpace(os.Getenv("REDIS_TLS_INSECURE_SKIP_VERIFY"))

	if caFile == "" && certFile == "" && keyFile == "" && serverName == "" && insecureStr == "" {
		return nil, nil
	}
	if (certFile == "") != (keyFile == "") {
		return nil, errors.New("REDIS_TLS_CERT_FILE and REDIS_TLS_KEY_FILE must be set together")
	}

	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: serverName,
	}

	if insecureStr != "" {
		insecure, err := strconv.ParseBool(insecureStr)
		if err != nil {
			return nil, fmt.Errorf("REDIS_TLS_INSECURE_SKIP_VERIFY: %w", err)
		}
		tlsConfig.InsecureSkipVerify = insecure
	}

	if caFile != "" {
		pemData, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("read REDIS_TLS_CA_FILE: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, errors.New("REDIS_TLS_CA_FILE contains no valid certificates")
		}
		tlsConfig.RootCAs = pool
	}

	if certFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("load redis TLS keypair: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}
