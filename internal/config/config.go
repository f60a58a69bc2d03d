package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Gateway drivers understood by the server.
const (
	GatewayDriverStripe  = "stripe"
	GatewayDriverSandbox = "sandbox"
)

// Config is the typed view over the process environment.
type Config struct {
	Env     string
	Port    string
	LogFile string

	DBHost            string
	DBPort            string
	DBUser            string
	DBPassword        string
	DBName            string
	DBMaxIdleConns    int
	DBMaxOpenConns    int
	DBConnMaxLifetime time.Duration
	DBConnMaxIdleTime time.Duration

	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration

	JWTSecret   string
	CORSOrigins string

	GatewayDriver        string
	GatewayRPS           int
	StripeSecretKey      string
	StripeWebhookSecret  string
	SandboxAutoAuthorize bool
	SandboxPayees        []string
	PlatformFeeBps       int64
	Currency             string

	KafkaBrokers []string
	KafkaTopic   string

	PayoutHold          time.Duration
	PayoutSweepInterval time.Duration
	ReconcileInterval   time.Duration
	ReconcileStaleAfter time.Duration
}

// LoadEnv loads variables from a .env file if present.
func LoadEnv() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file found: %v", err)
	}
}

// Load reads the .env file (if any) and builds the Config.
func Load() *Config {
	LoadEnv()

	return &Config{
		Env:     GetEnv("ENV", "development"),
		Port:    GetEnv("PORT", "3000"),
		LogFile: GetEnv("LOG_FILE", ""),

		DBHost:            GetEnv("DB_HOST", "localhost"),
		DBPort:            GetEnv("DB_PORT", "5432"),
		DBUser:            GetEnv("DB_USER", "postgres"),
		DBPassword:        GetEnv("DB_PASSWORD", "postgres"),
		DBName:            GetEnv("DB_NAME", "tradepost"),
		DBMaxIdleConns:    GetIntEnv("DB_MAX_IDLE_CONNS", 10),
		DBMaxOpenConns:    GetIntEnv("DB_MAX_OPEN_CONNS", 100),
		DBConnMaxLifetime: GetDurationEnv("DB_CONN_MAX_LIFETIME", time.Hour),
		DBConnMaxIdleTime: GetDurationEnv("DB_CONN_MAX_IDLE_TIME", 30*time.Minute),

		RedisHost:     GetEnv("REDIS_HOST", "localhost"),
		RedisPort:     GetEnv("REDIS_PORT", "6379"),
		RedisPassword: GetEnv("REDIS_PASSWORD", ""),
		RedisDB:       GetIntEnv("REDIS_DB", 0),
		CacheTTL:      GetDurationEnv("CACHE_TTL", 5*time.Minute),

		JWTSecret:   GetEnv("JWT_SECRET", "your-secret-key"),
		CORSOrigins: GetEnv("CORS_ORIGINS", "http://localhost:5173"),

		GatewayDriver:        GetEnv("GATEWAY_DRIVER", GatewayDriverStripe),
		GatewayRPS:           GetIntEnv("GATEWAY_RPS", 25),
		StripeSecretKey:      GetEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret:  GetEnv("STRIPE_WEBHOOK_SECRET", ""),
		SandboxAutoAuthorize: GetBoolEnv("SANDBOX_AUTO_AUTHORIZE", false),
		SandboxPayees:        GetListEnv("SANDBOX_PAYEES"),
		PlatformFeeBps:       int64(GetIntEnv("PLATFORM_FEE_BPS", 250)),
		Currency:             strings.ToLower(GetEnv("CURRENCY", "usd")),

		KafkaBrokers: GetListEnv("KAFKA_BROKERS"),
		KafkaTopic:   GetEnv("KAFKA_TOPIC", "escrow.transactions"),

		PayoutHold:          GetDurationEnv("PAYOUT_HOLD", 24*time.Hour),
		PayoutSweepInterval: GetDurationEnv("PAYOUT_SWEEP_INTERVAL", 10*time.Minute),
		ReconcileInterval:   GetDurationEnv("RECONCILE_INTERVAL", 5*time.Minute),
		ReconcileStaleAfter: GetDurationEnv("RECONCILE_STALE_AFTER", time.Hour),
	}
}

// GetEnv returns an environment variable or a default value.
func GetEnv(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return defaultVal
}

// GetIntEnv returns an int environment variable or a default value.
func GetIntEnv(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// GetBoolEnv returns a bool environment variable or a default value.
func GetBoolEnv(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

// GetDurationEnv returns a duration environment variable or a default value.
func GetDurationEnv(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

// GetListEnv splits a comma separated variable, dropping empty entries.
func GetListEnv(key string) []string {
	raw := GetEnv(key, "")
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// IsProduction checks if the app runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
