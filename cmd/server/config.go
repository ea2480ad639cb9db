package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	backendPostgres = "postgres"
	backendSQLite   = "sqlite"
	backendChain    = "chain"
	backendMemory   = "memory"

	lockLocal = "local"
	lockRedis = "redis"
)

type Config struct {
	App struct {
		Env string `mapstructure:"env"`
	} `mapstructure:"app"`
	Server struct {
		Host            string        `mapstructure:"host"`
		Port            int           `mapstructure:"port"`
		ReadTimeout     time.Duration `mapstructure:"read_timeout"`
		WriteTimeout    time.Duration `mapstructure:"write_timeout"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"server"`
	Database struct {
		URL         string        `mapstructure:"url"`
		MaxConns    int           `mapstructure:"max_conns"`
		PingTimeout time.Duration `mapstructure:"ping_timeout"`
	} `mapstructure:"database"`
	SQLite struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"sqlite"`
	Chain struct {
		RPCURL          string        `mapstructure:"rpc_url"`
		ContractAddress string        `mapstructure:"contract_address"`
		PrivateKey      string        `mapstructure:"private_key"`
		PrivateKeyFile  string        `mapstructure:"private_key_file"`
		ChainID         int64         `mapstructure:"chain_id"`
		CallTimeout     time.Duration `mapstructure:"call_timeout"`
		ReceiptTimeout  time.Duration `mapstructure:"receipt_timeout"`
	} `mapstructure:"chain"`
	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`
	Ledger struct {
		Backend                  string        `mapstructure:"backend"`
		Lock                     string        `mapstructure:"lock"`
		CouponPrefix             string        `mapstructure:"coupon_prefix"`
		TicketPrefix             string        `mapstructure:"ticket_prefix"`
		IssueAttempts            int           `mapstructure:"issue_attempts"`
		LockWait                 time.Duration `mapstructure:"lock_wait"`
		LockTTL                  time.Duration `mapstructure:"lock_ttl"`
		RequireBeneficiaryOnBurn bool          `mapstructure:"require_beneficiary_on_burn"`
	} `mapstructure:"ledger"`
	Log struct {
		Level      string `mapstructure:"level"`
		Encoding   string `mapstructure:"encoding"`
		File       string `mapstructure:"file"`
		MaxSizeMB  int    `mapstructure:"max_size_mb"`
		MaxBackups int    `mapstructure:"max_backups"`
		MaxAgeDays int    `mapstructure:"max_age_days"`
	} `mapstructure:"log"`
	Security struct {
		InternalToken     string `mapstructure:"internal_token"`
		InternalTokenFile string `mapstructure:"internal_token_file"`
	} `mapstructure:"security"`
	CORS struct {
		AllowOrigins []string `mapstructure:"allow_origins"`
	} `mapstructure:"cors"`
	RateLimit struct {
		VerifyPerMinute int `mapstructure:"verify_per_minute"`
		BurnPerMinute   int `mapstructure:"burn_per_minute"`
	} `mapstructure:"ratelimit"`
	Debug struct {
		PprofEnabled bool `mapstructure:"pprof_enabled"`
	} `mapstructure:"debug"`
}

func loadConfig() (Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/dcard-ledger")

	v.SetEnvPrefix("DCARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("database.url", "DCARD_DATABASE_URL", "DATABASE_URL")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if !errors.As(err, &notFoundErr) {
			return Config{}, fmt.Errorf("read config file failed: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config failed: %w", err)
	}

	if strings.TrimSpace(cfg.Security.InternalToken) == "" && strings.TrimSpace(cfg.Security.InternalTokenFile) != "" {
		// #nosec G304 -- path is provided by operator config.
		raw, err := os.ReadFile(strings.TrimSpace(cfg.Security.InternalTokenFile))
		if err != nil {
			return Config{}, fmt.Errorf("read security.internal_token_file failed: %w", err)
		}
		cfg.Security.InternalToken = strings.TrimSpace(string(raw))
	}

	cfg.Ledger.Backend = strings.ToLower(strings.TrimSpace(cfg.Ledger.Backend))
	cfg.Ledger.Lock = strings.ToLower(strings.TrimSpace(cfg.Ledger.Lock))

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "10s")
	// Zero keeps event streams open; handlers bound their own work.
	v.SetDefault("server.write_timeout", "0s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.ping_timeout", "3s")
	v.SetDefault("sqlite.path", "dcard-ledger.db")
	v.SetDefault("chain.rpc_url", "")
	v.SetDefault("chain.contract_address", "")
	v.SetDefault("chain.private_key", "")
	v.SetDefault("chain.private_key_file", "")
	v.SetDefault("chain.chain_id", 0)
	v.SetDefault("chain.call_timeout", "10s")
	v.SetDefault("chain.receipt_timeout", "2m")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("ledger.backend", backendPostgres)
	v.SetDefault("ledger.lock", lockLocal)
	v.SetDefault("ledger.coupon_prefix", "CPN")
	v.SetDefault("ledger.ticket_prefix", "TKT")
	v.SetDefault("ledger.issue_attempts", 5)
	v.SetDefault("ledger.lock_wait", "3s")
	v.SetDefault("ledger.lock_ttl", "30s")
	v.SetDefault("ledger.require_beneficiary_on_burn", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "json")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 14)
	v.SetDefault("security.internal_token", "")
	v.SetDefault("security.internal_token_file", "")
	v.SetDefault("cors.allow_origins", []string{"http://localhost:5173"})
	v.SetDefault("ratelimit.verify_per_minute", 30)
	v.SetDefault("ratelimit.burn_per_minute", 5)
	v.SetDefault("debug.pprof_enabled", false)
}

func validateConfig(cfg Config) error {
	switch cfg.Ledger.Backend {
	case backendPostgres:
		if strings.TrimSpace(cfg.Database.URL) == "" {
			return errors.New("database.url is required for the postgres backend")
		}
		if cfg.Database.MaxConns <= 0 {
			return errors.New("database.max_conns must be greater than 0")
		}
		if cfg.Database.PingTimeout <= 0 {
			return errors.New("database.ping_timeout must be greater than 0")
		}
	case backendSQLite:
		if strings.TrimSpace(cfg.SQLite.Path) == "" {
			return errors.New("sqlite.path is required for the sqlite backend")
		}
	case backendChain:
		if strings.TrimSpace(cfg.Chain.RPCURL) == "" {
			return errors.New("chain.rpc_url is required for the chain backend")
		}
		if strings.TrimSpace(cfg.Chain.ContractAddress) == "" {
			return errors.New("chain.contract_address is required for the chain backend")
		}
		if strings.TrimSpace(cfg.Chain.PrivateKey) == "" && strings.TrimSpace(cfg.Chain.PrivateKeyFile) == "" {
			return errors.New("chain.private_key or chain.private_key_file is required for the chain backend")
		}
	case backendMemory:
	default:
		return fmt.Errorf("ledger.backend %q is not one of postgres, sqlite, chain, memory", cfg.Ledger.Backend)
	}

	switch cfg.Ledger.Lock {
	case lockLocal:
	case lockRedis:
		if strings.TrimSpace(cfg.Redis.Addr) == "" {
			return errors.New("redis.addr is required for the redis lock")
		}
		if cfg.Ledger.LockTTL <= 0 {
			return errors.New("ledger.lock_ttl must be greater than 0")
		}
	default:
		return fmt.Errorf("ledger.lock %q is not one of local, redis", cfg.Ledger.Lock)
	}

	if cfg.Ledger.IssueAttempts <= 0 {
		return errors.New("ledger.issue_attempts must be greater than 0")
	}
	if cfg.Ledger.LockWait <= 0 {
		return errors.New("ledger.lock_wait must be greater than 0")
	}
	if cfg.RateLimit.VerifyPerMinute <= 0 || cfg.RateLimit.BurnPerMinute <= 0 {
		return errors.New("ratelimit values must be greater than 0")
	}

	if len(cfg.CORS.AllowOrigins) == 0 {
		return errors.New("cors.allow_origins must not be empty")
	}
	for _, origin := range cfg.CORS.AllowOrigins {
		if strings.TrimSpace(origin) == "*" {
			return errors.New("cors.allow_origins must not contain wildcard *")
		}
	}
	return nil
}
