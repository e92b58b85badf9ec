package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies LMSR_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known LMSR_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Store ──
	setStr(&cfg.Store.Driver, "LMSR_STORE_DRIVER")
	setStr(&cfg.SQLite.Path, "LMSR_SQLITE_PATH")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "LMSR_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // platform alias
	setStr(&cfg.Postgres.Host, "LMSR_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "LMSR_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "LMSR_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "LMSR_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "LMSR_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "LMSR_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "LMSR_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "LMSR_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "LMSR_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "LMSR_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "LMSR_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "LMSR_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "LMSR_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "LMSR_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "LMSR_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "LMSR_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.PriceTTL, "LMSR_REDIS_PRICE_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "LMSR_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "LMSR_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "LMSR_S3_REGION")
	setStr(&cfg.S3.Bucket, "LMSR_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "LMSR_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "LMSR_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "LMSR_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "LMSR_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "LMSR_S3_FORCE_PATH_STYLE")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "LMSR_CHAIN_RPC_URL")
	setDuration(&cfg.Chain.Timeout, "LMSR_CHAIN_TIMEOUT")

	// ── Market ──
	setDuration(&cfg.Market.MinDuration, "LMSR_MARKET_MIN_DURATION")
	setDuration(&cfg.Market.MaxDuration, "LMSR_MARKET_MAX_DURATION")
	setInt(&cfg.Market.MaxOutcomes, "LMSR_MARKET_MAX_OUTCOMES")
	setInt(&cfg.Market.MaxQuestionLen, "LMSR_MARKET_MAX_QUESTION_LEN")

	// ── Access ──
	setStr(&cfg.Access.Owner, "LMSR_ACCESS_OWNER")
	setStr(&cfg.Access.ProtocolRecipient, "LMSR_ACCESS_PROTOCOL_RECIPIENT")
	setBool(&cfg.Access.PublicCreation, "LMSR_ACCESS_PUBLIC_CREATION")
	setStr(&cfg.Access.GatingToken, "LMSR_ACCESS_GATING_TOKEN")
	setStr(&cfg.Access.MinBalance, "LMSR_ACCESS_MIN_BALANCE")
	setUint32(&cfg.Access.ProtocolFeeBps, "LMSR_ACCESS_PROTOCOL_FEE_BPS")
	setUint32(&cfg.Access.MaxCreatorFeeBps, "LMSR_ACCESS_MAX_CREATOR_FEE_BPS")
	setUint32(&cfg.Access.MaxTotalFeeBps, "LMSR_ACCESS_MAX_TOTAL_FEE_BPS")

	// ── Resolution ──
	setDuration(&cfg.Resolution.DisputeWindow, "LMSR_RESOLUTION_DISPUTE_WINDOW")
	setStr(&cfg.Resolution.MinBond, "LMSR_RESOLUTION_MIN_BOND")
	setStr(&cfg.Resolution.BondPolicy, "LMSR_RESOLUTION_BOND_POLICY")
	setDuration(&cfg.Resolution.SettleInterval, "LMSR_RESOLUTION_SETTLE_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "LMSR_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "LMSR_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "LMSR_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "LMSR_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "LMSR_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "LMSR_SERVER_RATE_WINDOW")
	setDuration(&cfg.Server.SignatureMaxSkew, "LMSR_SERVER_SIGNATURE_MAX_SKEW")

	// ── Archive ──
	setDuration(&cfg.Archive.Interval, "LMSR_ARCHIVE_INTERVAL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "LMSR_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "LMSR_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "LMSR_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "LMSR_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "LMSR_MODE")
	setStr(&cfg.LogLevel, "LMSR_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint32(dst *uint32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			*dst = uint32(n)
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
