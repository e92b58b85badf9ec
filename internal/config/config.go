// Package config defines the top-level configuration for the market service
// and provides validation helpers.
package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/lmsrmarket/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by LMSR_* environment variables.
type Config struct {
	Store      StoreConfig      `toml:"store"`
	Postgres   PostgresConfig   `toml:"postgres"`
	SQLite     SQLiteConfig     `toml:"sqlite"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Chain      ChainConfig      `toml:"chain"`
	Market     MarketConfig     `toml:"market"`
	Access     AccessConfig     `toml:"access"`
	Resolution ResolutionConfig `toml:"resolution"`
	Server     ServerConfig     `toml:"server"`
	Archive    ArchiveConfig    `toml:"archive"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// StoreConfig selects the persistence backend: "postgres", "sqlite" or
// "memory" (state is lost on restart).
type StoreConfig struct {
	Driver string `toml:"driver"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// SQLiteConfig holds the single-node database file.
type SQLiteConfig struct {
	Path string `toml:"path"`
}

// RedisConfig holds Redis connection parameters. With Enabled false the
// service runs with an in-process event bus, no read cache and a local rate
// limiter.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	PriceTTL   duration `toml:"price_ttl"`
}

// S3Config holds S3-compatible object storage parameters for the archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ChainConfig points the creation gate at an EVM JSON-RPC endpoint for
// gating-token balance lookups. An empty RPCURL disables token gating.
type ChainConfig struct {
	RPCURL  string   `toml:"rpc_url"`
	Timeout duration `toml:"timeout"`
}

// MarketConfig bounds the parameters of new markets.
type MarketConfig struct {
	MinDuration    duration `toml:"min_duration"`
	MaxDuration    duration `toml:"max_duration"`
	MaxOutcomes    int      `toml:"max_outcomes"`
	MaxQuestionLen int      `toml:"max_question_len"`
}

// AccessConfig holds the operator identity, the initial creation gate and
// the initial fee schedule. MinBalance is in the gating token's base units.
type AccessConfig struct {
	Owner             string `toml:"owner"`
	ProtocolRecipient string `toml:"protocol_recipient"`
	PublicCreation    bool   `toml:"public_creation"`
	GatingToken       string `toml:"gating_token"`
	MinBalance        string `toml:"min_balance"`
	ProtocolFeeBps    uint32 `toml:"protocol_fee_bps"`
	MaxCreatorFeeBps  uint32 `toml:"max_creator_fee_bps"`
	MaxTotalFeeBps    uint32 `toml:"max_total_fee_bps"`
}

// ResolutionConfig holds the assertion parameters. MinBond is a decimal
// amount in whole currency units.
type ResolutionConfig struct {
	DisputeWindow  duration `toml:"dispute_window"`
	MinBond        string   `toml:"min_bond"`
	BondPolicy     string   `toml:"bond_policy"`
	SettleInterval duration `toml:"settle_interval"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled          bool     `toml:"enabled"`
	Port             int      `toml:"port"`
	CORSOrigins      []string `toml:"cors_origins"`
	APIKey           string   `toml:"api_key"`
	RateLimit        int      `toml:"rate_limit"`
	RateWindow       duration `toml:"rate_window"`
	SignatureMaxSkew duration `toml:"signature_max_skew"`
}

// ArchiveConfig controls the trade-event archive worker.
type ArchiveConfig struct {
	Interval duration `toml:"interval"`
}

// NotifyConfig configures operator alerts. Events lists event kinds
// (e.g. "MarketResolved"); empty means the lifecycle defaults.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Store: StoreConfig{Driver: "postgres"},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "lmsr",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		SQLite: SQLiteConfig{Path: "lmsr.db"},
		Redis: RedisConfig{
			Enabled:    true,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			PriceTTL:   duration{10 * time.Minute},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "lmsr-archive",
			ForcePathStyle: true,
		},
		Chain: ChainConfig{Timeout: duration{5 * time.Second}},
		Market: MarketConfig{
			MinDuration:    duration{time.Minute},
			MaxDuration:    duration{365 * 24 * time.Hour},
			MaxOutcomes:    100,
			MaxQuestionLen: 1000,
		},
		Access: AccessConfig{
			PublicCreation:   true,
			MinBalance:       "0",
			ProtocolFeeBps:   100,
			MaxCreatorFeeBps: 200,
			MaxTotalFeeBps:   1000,
		},
		Resolution: ResolutionConfig{
			DisputeWindow:  duration{2 * time.Hour},
			MinBond:        "0",
			BondPolicy:     "forfeit_disputer",
			SettleInterval: duration{30 * time.Second},
		},
		Server: ServerConfig{
			Enabled:          true,
			Port:             8000,
			CORSOrigins:      []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:        120,
			RateWindow:       duration{time.Minute},
			SignatureMaxSkew: duration{5 * time.Minute},
		},
		Archive:  ArchiveConfig{Interval: duration{time.Hour}},
		Mode:     "server",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":  true,
	"archive": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validDrivers = map[string]bool{
	"postgres": true,
	"sqlite":   true,
	"memory":   true,
}

var validBondPolicies = map[string]bool{
	"return":           true,
	"forfeit_protocol": true,
	"forfeit_disputer": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	mode := strings.ToLower(c.Mode)

	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, archive, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Store
	switch driver := strings.ToLower(c.Store.Driver); {
	case !validDrivers[driver]:
		errs = append(errs, fmt.Sprintf("store: unknown driver %q (valid: postgres, sqlite, memory)", c.Store.Driver))
	case driver == "postgres" && strings.TrimSpace(c.Postgres.DSN) == "":
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	case driver == "sqlite" && c.SQLite.Path == "":
		errs = append(errs, "sqlite: path must not be empty")
	}
	if strings.EqualFold(c.Store.Driver, "postgres") {
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	} else if mode == "archive" {
		errs = append(errs, "s3: must be enabled for mode archive")
	}

	// Market
	if c.Market.MinDuration.Duration <= 0 || c.Market.MaxDuration.Duration < c.Market.MinDuration.Duration {
		errs = append(errs, "market: need 0 < min_duration <= max_duration")
	}
	if c.Market.MaxOutcomes < 2 {
		errs = append(errs, "market: max_outcomes must be >= 2")
	}

	// Access
	if !common.IsHexAddress(c.Access.Owner) {
		errs = append(errs, fmt.Sprintf("access: owner %q is not a hex address", c.Access.Owner))
	}
	if c.Access.ProtocolRecipient != "" && !common.IsHexAddress(c.Access.ProtocolRecipient) {
		errs = append(errs, fmt.Sprintf("access: protocol_recipient %q is not a hex address", c.Access.ProtocolRecipient))
	}
	if c.Access.GatingToken != "" && !common.IsHexAddress(c.Access.GatingToken) {
		errs = append(errs, fmt.Sprintf("access: gating_token %q is not a hex address", c.Access.GatingToken))
	}
	if _, err := c.Access.MinBalanceInt(); err != nil {
		errs = append(errs, "access: "+err.Error())
	}
	if c.Access.ProtocolFeeBps+c.Access.MaxCreatorFeeBps > c.Access.MaxTotalFeeBps {
		errs = append(errs, "access: protocol_fee_bps + max_creator_fee_bps exceeds max_total_fee_bps")
	}
	if c.Access.MaxTotalFeeBps >= domain.BpsDenominator {
		errs = append(errs, fmt.Sprintf("access: max_total_fee_bps must be < %d", domain.BpsDenominator))
	}
	if !c.Access.PublicCreation && c.Access.GatingToken != "" && c.Chain.RPCURL == "" {
		errs = append(errs, "chain: rpc_url is required when access.gating_token is set")
	}

	// Resolution
	if c.Resolution.DisputeWindow.Duration <= 0 {
		errs = append(errs, "resolution: dispute_window must be > 0")
	}
	if _, err := c.Resolution.MinBondAmount(); err != nil {
		errs = append(errs, "resolution: "+err.Error())
	}
	if !validBondPolicies[c.Resolution.BondPolicy] {
		errs = append(errs, fmt.Sprintf("resolution: unknown bond_policy %q (valid: return, forfeit_protocol, forfeit_disputer)", c.Resolution.BondPolicy))
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// MinBalanceInt parses MinBalance; empty means zero.
func (a AccessConfig) MinBalanceInt() (*big.Int, error) {
	if a.MinBalance == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(a.MinBalance, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("min_balance %q is not a non-negative integer", a.MinBalance)
	}
	return v, nil
}

// MinBondAmount parses MinBond; empty means zero.
func (r ResolutionConfig) MinBondAmount() (domain.Amount, error) {
	if r.MinBond == "" {
		return 0, nil
	}
	a, err := domain.ParseAmount(r.MinBond)
	if err != nil {
		return 0, err
	}
	if a < 0 {
		return 0, fmt.Errorf("min_bond must not be negative")
	}
	return a, nil
}
