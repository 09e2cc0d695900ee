package configs

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "MARKET_"

type Config struct {
	App struct {
		Name     string `koanf:"name"`
		Env      string `koanf:"env"`
		HTTPAddr string `koanf:"http_addr"`
		LogLevel string `koanf:"log_level"`
		LogFile  string `koanf:"log_file"`
	} `koanf:"app"`

	HTTP struct {
		ReadTimeout    time.Duration `koanf:"read_timeout"`
		WriteTimeout   time.Duration `koanf:"write_timeout"`
		IdleTimeout    time.Duration `koanf:"idle_timeout"`
		RequestTimeout time.Duration `koanf:"request_timeout"`
	} `koanf:"http"`

	Database struct {
		Driver          string        `koanf:"driver"` // mysql | postgres | memory
		DSN             string        `koanf:"dsn"`
		MaxOpenConns    int           `koanf:"max_open_conns"`
		MaxIdleConns    int           `koanf:"max_idle_conns"`
		ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
		Migrate         bool          `koanf:"migrate"`
	} `koanf:"database"`

	Redis struct {
		Addr     string `koanf:"addr"`
		Password string `koanf:"password"`
		DB       int    `koanf:"db"`
	} `koanf:"redis"`

	Idempotency struct {
		TTL time.Duration `koanf:"ttl"`
	} `koanf:"idempotency"`

	Cache struct {
		TTL time.Duration `koanf:"ttl"`
	} `koanf:"cache"`

	Rabbit struct {
		URL      string `koanf:"url"`
		Exchange string `koanf:"exchange"`
		Queue    string `koanf:"queue"`
		Prefetch int    `koanf:"prefetch"`
	} `koanf:"rabbitmq"`

	Kafka struct {
		Brokers            []string `koanf:"brokers"`
		GroupID            string   `koanf:"group_id"`
		TopicOrderEvents   string   `koanf:"topic_order_events"`
		TopicPaymentEvents string   `koanf:"topic_payment_events"`
	} `koanf:"kafka"`

	Security struct {
		JWTSecret string        `koanf:"jwt_secret"`
		Issuer    string        `koanf:"issuer"`
		Audience  string        `koanf:"audience"`
		TTL       time.Duration `koanf:"ttl"`
	} `koanf:"security"`

	Payment struct {
		Provider      string        `koanf:"provider"` // paystack | sandbox
		BaseURL       string        `koanf:"base_url"`
		SecretKey     string        `koanf:"secret_key"`
		CallbackURL   string        `koanf:"callback_url"`
		Timeout       time.Duration `koanf:"timeout"`
		RatePerSecond float64       `koanf:"rate_per_second"`
	} `koanf:"payment"`

	Workflow struct {
		MaxAttempts  int           `koanf:"max_attempts"`
		RetryBackoff time.Duration `koanf:"retry_backoff"`
	} `koanf:"workflow"`
}

func (c Config) IsDev() bool { return c.App.Env == "dev" }

func Load(pathDir, envName string) (Config, error) {
	k := koanf.New(".")
	// 1) base
	if err := k.Load(file.Provider(fmt.Sprintf("%s/base.yaml", pathDir)), yaml.Parser()); err != nil {
		return Config{}, fmt.Errorf("load base: %w", err)
	}

	// 2) env override (dev/staging/prod). Optional: allow missing for local runs.
	if envName != "" {
		_ = k.Load(file.Provider(fmt.Sprintf("%s/%s.yaml", pathDir, envName)), yaml.Parser())
		_ = k.Set("app.env", envName)
	}

	// 3) environment variables override (prefix MARKET_, nested with __)
	// e.g. MARKET_DATABASE__DSN, MARKET_PAYMENT__SECRET_KEY
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, envPrefix)
		s = strings.ReplaceAll(s, "__", ".")
		return strings.ToLower(s)
	}), nil); err != nil {
		return Config{}, fmt.Errorf("env overlay: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}
	// a comma separated MARKET_KAFKA__BROKERS arrives as one element
	if len(cfg.Kafka.Brokers) == 1 && strings.Contains(cfg.Kafka.Brokers[0], ",") {
		cfg.Kafka.Brokers = strings.Split(cfg.Kafka.Brokers[0], ",")
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.HTTP.RequestTimeout <= 0 {
		c.HTTP.RequestTimeout = 10 * time.Second
	}
	if c.Workflow.MaxAttempts <= 0 {
		c.Workflow.MaxAttempts = 3
	}
	if c.Workflow.RetryBackoff <= 0 {
		c.Workflow.RetryBackoff = 100 * time.Millisecond
	}
	if c.Payment.Provider == "" {
		c.Payment.Provider = "sandbox"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "memory"
	}
}

func (c Config) Validate() error {
	if c.App.HTTPAddr == "" {
		return fmt.Errorf("app.http_addr required")
	}
	switch c.Database.Driver {
	case "mysql", "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn required for driver %s", c.Database.Driver)
		}
	case "memory":
	default:
		return fmt.Errorf("database.driver must be mysql, postgres or memory, got %q", c.Database.Driver)
	}
	if c.Security.JWTSecret == "" {
		return fmt.Errorf("security.jwt_secret required")
	}
	switch c.Payment.Provider {
	case "paystack":
		if c.Payment.SecretKey == "" {
			return fmt.Errorf("payment.secret_key required for paystack")
		}
	case "sandbox":
		if !c.IsDev() {
			return fmt.Errorf("payment.provider sandbox is only allowed in dev")
		}
	default:
		return fmt.Errorf("payment.provider must be paystack or sandbox, got %q", c.Payment.Provider)
	}
	if len(c.Kafka.Brokers) > 0 && (c.Kafka.TopicOrderEvents == "" || c.Kafka.TopicPaymentEvents == "") {
		return fmt.Errorf("kafka topics required when kafka.brokers is set")
	}
	return nil
}
