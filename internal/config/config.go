package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides: postgres.pwd -> PLANTCHECK_POSTGRES_PWD.
const EnvPrefix = "PLANTCHECK"

// Config is the full runtime configuration.
type Config struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	API      APIConfig      `mapstructure:"api"`
	Model    ModelConfig    `mapstructure:"model"`
	Loop     LoopConfig     `mapstructure:"loop"`
	Redis    RedisConfig    `mapstructure:"redis"`
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	GRPC     GRPCConfig     `mapstructure:"grpc"`
}

type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"pwd"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN renders a postgres:// connection URL with every component escaped.
func (p PostgresConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(p.User, p.Password),
		Host:   net.JoinHostPort(p.URL, strconv.Itoa(p.Port)),
		Path:   "/" + p.Name,
	}
	if p.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {p.SSLMode}}.Encode()
	}
	return u.String()
}

type APIConfig struct {
	URL     string        `mapstructure:"url"`
	Port    int           `mapstructure:"port"`
	Base    string        `mapstructure:"base"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type ModelConfig struct {
	Path    string `mapstructure:"path"`
	Input   string `mapstructure:"input"`
	Output  string `mapstructure:"output"`
	Library string `mapstructure:"library"`
}

type LoopConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// RedisConfig enables the cycle report cache when Addr is set.
type RedisConfig struct {
	Addr string `mapstructure:"addr"`
}

// RabbitMQConfig enables status change events when URL is set.
type RabbitMQConfig struct {
	URL        string `mapstructure:"url"`
	Exchange   string `mapstructure:"exchange"`
	RoutingKey string `mapstructure:"routing_key"`
}

type HTTPConfig struct {
	Addr        string `mapstructure:"addr"`
	JWTSecret   string `mapstructure:"jwt_secret"`
	JWTAudience string `mapstructure:"jwt_audience"`
}

// GRPCConfig enables the health server when Addr is set.
type GRPCConfig struct {
	Addr string `mapstructure:"addr"`
}

var defaults = map[string]interface{}{
	"postgres.url":         "localhost",
	"postgres.port":        5432,
	"postgres.name":        "plants",
	"postgres.user":        "postgres",
	"postgres.pwd":         "",
	"postgres.sslmode":     "disable",
	"api.url":              "localhost",
	"api.port":             8080,
	"api.base":             "api/plants",
	"api.timeout":          10 * time.Second,
	"model.path":           "cnn_no_aug.onnx",
	"model.input":          "input",
	"model.output":         "output",
	"model.library":        "",
	"loop.interval":        time.Hour,
	"redis.addr":           "",
	"rabbitmq.url":         "",
	"rabbitmq.exchange":    "plants.events",
	"rabbitmq.routing_key": "plant.status.changed",
	"http.addr":            ":8090",
	"http.jwt_secret":      "",
	"http.jwt_audience":    "",
	"grpc.addr":            "",
}

// Load reads the INI file at path, applying defaults and PLANTCHECK_* overrides.
// A missing file is not an error when path is empty; .env in the working
// directory is loaded first when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("ini")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
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

// Validate rejects configurations the daemon cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Loop.Interval <= 0 {
		errs = append(errs, fmt.Errorf("loop.interval must be positive, got %s", c.Loop.Interval))
	}
	if c.Model.Path == "" {
		errs = append(errs, errors.New("model.path is required"))
	}
	if c.API.URL == "" {
		errs = append(errs, errors.New("api.url is required"))
	}
	if c.API.Port <= 0 || c.API.Port > 65535 {
		errs = append(errs, fmt.Errorf("api.port out of range: %d", c.API.Port))
	}
	if c.API.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("api.timeout must be positive, got %s", c.API.Timeout))
	}
	return errors.Join(errs...)
}
