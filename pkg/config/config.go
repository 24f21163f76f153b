package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	Otel       struct {
		Enabled  bool   `mapstructure:"ENABLED"`
		Protocol string `mapstructure:"PROTOCOL"` // grpc|http
		Addr     string `mapstructure:"ADDR"`
	} `mapstructure:"OTEL"`
	Pyroscope struct {
		Enabled bool   `mapstructure:"ENABLED"`
		Addr    string `mapstructure:"ADDR"`
	} `mapstructure:"PYROSCOPE"`
	Database struct {
		Type           string `mapstructure:"TYPE"`
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBNAME         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		Metrics        bool   `mapstructure:"METRICS"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Kafka struct {
		Addrs string `mapstructure:"ADDR"`
		Topic string `mapstructure:"TOPIC"`
	} `mapstructure:"KAFKA"`
	Engine Engine `mapstructure:"ENGINE"`
}

// Engine holds tracking defaults applied when a user has no stored preference.
type Engine struct {
	NodeID           int64         `mapstructure:"NODE_ID"`
	DefaultTimezone  string        `mapstructure:"DEFAULT_TIMEZONE"`
	DefaultWeekStart int           `mapstructure:"DEFAULT_WEEK_START"`
	StreakThreshold  float64       `mapstructure:"STREAK_THRESHOLD"`
	GapFillLookback  int           `mapstructure:"GAP_FILL_LOOKBACK_DAYS"`
	Notifier         string        `mapstructure:"NOTIFIER"` // asynq|kafka|log
	DebounceTTL      time.Duration `mapstructure:"DEBOUNCE_TTL"`
	MaintenanceHour  int           `mapstructure:"MAINTENANCE_HOUR"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_NAME", "habitcore")
	v.SetDefault("DATABASE.TYPE", "postgres")
	v.SetDefault("DATABASE.SSLMODE", "disable")
	v.SetDefault("DATABASE.TIMEZONE", "UTC")
	v.SetDefault("REDIS.ADDR", "127.0.0.1:6379")
	v.SetDefault("REDIS.POOL_SIZE", 10)
	v.SetDefault("REDIS.POOL_TIMEOUT", 5*time.Second)
	v.SetDefault("KAFKA.TOPIC", "habitcore.events")
	v.SetDefault("OTEL.PROTOCOL", "grpc")
	v.SetDefault("ENGINE.NODE_ID", 1)
	v.SetDefault("ENGINE.DEFAULT_TIMEZONE", "UTC")
	v.SetDefault("ENGINE.DEFAULT_WEEK_START", 1)
	v.SetDefault("ENGINE.STREAK_THRESHOLD", 80)
	v.SetDefault("ENGINE.GAP_FILL_LOOKBACK_DAYS", 7)
	v.SetDefault("ENGINE.NOTIFIER", "asynq")
	v.SetDefault("ENGINE.DEBOUNCE_TTL", 24*time.Hour)
	v.SetDefault("ENGINE.MAINTENANCE_HOUR", 1)
}

// Load reads config.yaml from the given paths, overlaid with environment
// variables (ENGINE.NODE_ID -> ENGINE_NODE_ID).
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func LoadConfig() *Config {
	cfg, err := Load(".")
	if err != nil {
		zap.L().Error("failed to load config", zap.Error(err))
		os.Exit(1)
	}
	return cfg
}
