package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "SENSOR"

// Config holds all runtime configuration.
type Config struct {
	Port     string `mapstructure:"port" validate:"required"`
	LogLevel string `mapstructure:"log_level" validate:"oneof=debug info warn error"`

	DB        DBConfig        `mapstructure:"db"`
	Accounts  AccountsConfig  `mapstructure:"accounts"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Mail      MailConfig      `mapstructure:"mail"`
	Transport TransportConfig `mapstructure:"transport"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	History   HistoryConfig   `mapstructure:"history"`
	Simulator SimulatorConfig `mapstructure:"simulator"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type DBConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// AccountsConfig selects the TokenStore backend.
type AccountsConfig struct {
	Driver string         `mapstructure:"driver" validate:"oneof=sqlite dynamodb"`
	Dynamo DynamoDBConfig `mapstructure:"dynamodb"`
}

type DynamoDBConfig struct {
	Region      string `mapstructure:"region"`
	EndpointURL string `mapstructure:"endpoint_url"` // LocalStack in dev
	AccessKeyID string `mapstructure:"access_key_id"`
	SecretKey   string `mapstructure:"secret_access_key"`
	Table       string `mapstructure:"table"`
}

type AuthConfig struct {
	SigningKey    string        `mapstructure:"signing_key" validate:"required,min=16"`
	SessionTTL    time.Duration `mapstructure:"session_ttl" validate:"gt=0"`
	TokenTTL      time.Duration `mapstructure:"token_ttl" validate:"gt=0"`
	PublicBaseURL string        `mapstructure:"public_base_url" validate:"required,url"`
}

type MailConfig struct {
	Driver       string `mapstructure:"driver" validate:"oneof=smtp log"`
	Host         string `mapstructure:"host"`
	Port         string `mapstructure:"port"`
	From         string `mapstructure:"from" validate:"required"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	SendAttempts int    `mapstructure:"send_attempts" validate:"gte=1,lte=10"`
}

type TransportConfig struct {
	Kind           string        `mapstructure:"kind" validate:"oneof=mqtt kafka"`
	TelemetryTopic string        `mapstructure:"telemetry_topic" validate:"required"`
	CommandTopic   string        `mapstructure:"command_topic" validate:"required"`
	MQTT           MQTTConfig    `mapstructure:"mqtt"`
	Kafka          KafkaConfig   `mapstructure:"kafka"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff" validate:"gt=0"`
}

type MQTTConfig struct {
	Host           string `mapstructure:"host" validate:"required"`
	Port           int    `mapstructure:"port" validate:"gt=0,lt=65536"`
	TLS            bool   `mapstructure:"tls"`
	Username       string `mapstructure:"username"`
	Password       string `mapstructure:"password"`
	ClientID       string `mapstructure:"client_id"`
	KeepAlive      uint16 `mapstructure:"keep_alive"`
	EmbeddedBroker bool   `mapstructure:"embedded_broker"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	GroupID string   `mapstructure:"group_id"`
}

type PipelineConfig struct {
	InboundQueue int           `mapstructure:"inbound_queue" validate:"gt=0"`
	Persist      bool          `mapstructure:"persist"`
	IngestQueue  int           `mapstructure:"ingest_queue" validate:"gt=0"`
	PushInterval time.Duration `mapstructure:"push_interval" validate:"gt=0"`
}

type HistoryConfig struct {
	MaxRange time.Duration `mapstructure:"max_range" validate:"gte=0"`
}

type SimulatorConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Tick    time.Duration `mapstructure:"tick" validate:"gt=0"`
}

type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps" validate:"gt=0"`
	Burst int     `mapstructure:"burst" validate:"gt=0"`
}

var validate = validator.New()

// setDefaults mirrors configs/config.yml so the service starts without a file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("db.path", "app.db")
	v.SetDefault("accounts.driver", "sqlite")
	v.SetDefault("accounts.dynamodb.region", "us-east-1")
	v.SetDefault("accounts.dynamodb.table", "sensor_accounts")
	v.SetDefault("accounts.dynamodb.endpoint_url", "")
	v.SetDefault("accounts.dynamodb.access_key_id", "")
	v.SetDefault("accounts.dynamodb.secret_access_key", "")
	v.SetDefault("auth.signing_key", "")
	v.SetDefault("auth.session_ttl", 24*time.Hour)
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("auth.public_base_url", "http://localhost:8080")
	v.SetDefault("mail.driver", "log")
	v.SetDefault("mail.host", "localhost")
	v.SetDefault("mail.port", "1025")
	v.SetDefault("mail.from", "noreply@localhost")
	v.SetDefault("mail.username", "")
	v.SetDefault("mail.password", "")
	v.SetDefault("mail.send_attempts", 3)
	v.SetDefault("transport.kind", "mqtt")
	v.SetDefault("transport.telemetry_topic", "sensor/data")
	v.SetDefault("transport.command_topic", "command/topic")
	v.SetDefault("transport.max_backoff", 30*time.Second)
	v.SetDefault("transport.mqtt.host", "localhost")
	v.SetDefault("transport.mqtt.port", 1883)
	v.SetDefault("transport.mqtt.keep_alive", 30)
	v.SetDefault("transport.mqtt.tls", false)
	v.SetDefault("transport.mqtt.username", "")
	v.SetDefault("transport.mqtt.password", "")
	v.SetDefault("transport.mqtt.client_id", "")
	v.SetDefault("transport.mqtt.embedded_broker", false)
	v.SetDefault("transport.kafka.brokers", []string{})
	v.SetDefault("transport.kafka.group_id", "sensor-monitor")
	v.SetDefault("pipeline.inbound_queue", 256)
	v.SetDefault("pipeline.persist", true)
	v.SetDefault("pipeline.ingest_queue", 1024)
	v.SetDefault("pipeline.push_interval", time.Second)
	v.SetDefault("history.max_range", 31*24*time.Hour)
	v.SetDefault("simulator.enabled", false)
	v.SetDefault("simulator.tick", time.Second)
	v.SetDefault("rate_limit.rps", 5)
	v.SetDefault("rate_limit.burst", 10)
}

// Load reads .env (if present), the YAML file selected by --config (default
// configs/config.yml) and SENSOR_* environment overrides, then validates.
func Load(args []string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	flags := pflag.NewFlagSet("sensor_monitor", pflag.ContinueOnError)
	cfgFile := flags.String("config", "configs/config.yml", "path to the YAML config file")
	flags.String("port", "", "HTTP listen port")
	flags.String("log_level", "", "log level: debug|info|warn|error")
	if err := flags.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(*cfgFile)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, name := range []string{"port", "log_level"} {
		if f := flags.Lookup(name); f != nil && f.Changed {
			if err := v.BindPFlag(name, f); err != nil {
				return nil, fmt.Errorf("bind flag %q: %w", name, err)
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config %q: %w", *cfgFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct tags and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var ve validator.ValidationErrors
		if !errors.As(err, &ve) {
			return err
		}
		msgs := make([]string, 0, len(ve))
		for _, fe := range ve {
			msgs = append(msgs, fmt.Sprintf("field '%s' failed '%s'", fe.Namespace(), fe.Tag()))
		}
		return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
	}
	if c.Transport.Kind == "kafka" && len(c.Transport.Kafka.Brokers) == 0 {
		return errors.New("invalid config: transport.kafka.brokers is required for kind=kafka")
	}
	if c.Accounts.Driver == "dynamodb" && c.Accounts.Dynamo.Table == "" {
		return errors.New("invalid config: accounts.dynamodb.table is required for driver=dynamodb")
	}
	if c.Mail.Driver == "smtp" && (c.Mail.Host == "" || c.Mail.Port == "") {
		return errors.New("invalid config: mail.host and mail.port are required for driver=smtp")
	}
	return nil
}
