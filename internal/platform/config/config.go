package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	platformstrings "mobility-bap/pkg/platform/strings"
)

// Server captures process level configuration.
type Server struct {
	Addr         string
	LogLevel     string
	LogFormat    string
	ClientSecret string // HMAC key for rider bearer tokens; empty disables auth
	JWTIssuer    string
	JWTAudience  string
	AdminToken   string // guards operator routes; empty leaves them open

	Network  Network
	Registry Registry
	Mock     Mock
	Worker   Worker
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig

	// TransactionTTL moves in-flight transactions to EXPIRED once they have
	// not been updated for this long. Zero disables expiry.
	TransactionTTL time.Duration
}

// Network describes this participant's identity on the network.
type Network struct {
	SubscriberID      string
	SubscriberURI     string
	KeyID             string
	SigningPrivateKey string // base64
	SigningPublicKey  string // base64
	Domain            string
	City              string
	Country           string
	CoreVersion       string
	SignatureValidity time.Duration

	// Breaker settings apply per counterparty URI. A zero threshold
	// disables the breaker.
	BreakerFailures int
	BreakerCooldown time.Duration
}

// Registry configures gateway and public key resolution.
type Registry struct {
	URL            string
	GatewayURL     string
	LookupDisabled bool
	CacheTTL       time.Duration
}

// Mock configures offline mode where callbacks are synthesized locally.
type Mock struct {
	Enabled       bool
	CallbackDelay time.Duration
}

// Worker sizes the fire-and-forget task pool.
type Worker struct {
	Count     int
	QueueSize int
}

// DatabaseConfig selects Postgres persistence; empty URL keeps stores in memory.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig enables the Redis notification channel and key cache.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig enables audit export.
type KafkaConfig struct {
	Brokers    []string
	AuditTopic string
}

// RegistryCacheTTL is the default lifetime of cached registry keys.
var RegistryCacheTTL = 5 * time.Minute

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	return Server{
		Addr:         getEnv("BAP_ADDR", ":8080"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		LogFormat:    getEnv("LOG_FORMAT", "json"),
		ClientSecret: os.Getenv("CLIENT_JWT_SECRET"),
		JWTIssuer:    getEnv("CLIENT_JWT_ISSUER", "mobility-bap"),
		JWTAudience:  getEnv("CLIENT_JWT_AUDIENCE", "mobility-bap-clients"),
		AdminToken:   os.Getenv("ADMIN_API_TOKEN"),
		Network: Network{
			SubscriberID:      getEnv("BAP_SUBSCRIBER_ID", "bap.example.com"),
			SubscriberURI:     getEnv("BAP_SUBSCRIBER_URI", "http://localhost:8080"),
			KeyID:             getEnv("BAP_KEY_ID", "bap-key-1"),
			SigningPrivateKey: os.Getenv("BAP_SIGNING_PRIVATE_KEY"),
			SigningPublicKey:  os.Getenv("BAP_SIGNING_PUBLIC_KEY"),
			Domain:            getEnv("NETWORK_DOMAIN", "ONDC:TRV10"),
			City:              getEnv("NETWORK_CITY", "std:022"),
			Country:           getEnv("NETWORK_COUNTRY", "IND"),
			CoreVersion:       getEnv("NETWORK_CORE_VERSION", "2.0.1"),
			SignatureValidity: getDuration("SIGNATURE_VALIDITY", 30*time.Second),
			BreakerFailures:   getNonNegativeInt("COUNTERPARTY_BREAKER_FAILURES", 5),
			BreakerCooldown:   getDuration("COUNTERPARTY_BREAKER_COOLDOWN", 30*time.Second),
		},
		Registry: Registry{
			URL:            os.Getenv("REGISTRY_URL"),
			GatewayURL:     os.Getenv("GATEWAY_URL"),
			LookupDisabled: getBool("REGISTRY_LOOKUP_DISABLED", false),
			CacheTTL:       getDuration("REGISTRY_CACHE_TTL", RegistryCacheTTL),
		},
		Mock: Mock{
			Enabled:       getBool("MOCK_MODE", false),
			CallbackDelay: getDuration("MOCK_CALLBACK_DELAY", 500*time.Millisecond),
		},
		Worker: Worker{
			Count:     getInt("WORKER_COUNT", 4),
			QueueSize: getInt("WORKER_QUEUE_SIZE", 1024),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    getInt("DATABASE_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    getInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getDuration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     getInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:    platformstrings.SplitList(os.Getenv("KAFKA_BROKERS")),
			AuditTopic: getEnv("AUDIT_TOPIC", "bap.audit"),
		},
		TransactionTTL: getDuration("TRANSACTION_TTL", 0),
	}
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func getInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

// getNonNegativeInt accepts an explicit zero, used for "disabled".
func getNonNegativeInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
