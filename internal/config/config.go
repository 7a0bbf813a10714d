package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Log      LogConfig      `yaml:"log"`
	ML       MLConfig       `yaml:"ml"`
	Cache    CacheConfig    `yaml:"cache"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`
	Mode string `yaml:"mode"` // debug, release, test
	// Per-IP limit on the public API.
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite, mysql, postgres
	DSN    string `yaml:"dsn"`
}

// RedisConfig for the optional async retrain queue, shared lock and cache
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// MLConfig controls the classifier and the retraining pipeline.
type MLConfig struct {
	ModelDir         string        `yaml:"model_dir"`
	MinSamples       int           `yaml:"min_samples"`
	MinTextLength    int           `yaml:"min_text_length"`
	TestSize         float64       `yaml:"test_size"`
	MaxFeatures      int           `yaml:"max_features"`
	Alpha            float64       `yaml:"alpha"`
	KeepBackups      int           `yaml:"keep_backups"`
	LockBackend      string        `yaml:"lock_backend"` // memory, redis, database
	LockTimeout      time.Duration `yaml:"lock_timeout"`
	RetrainInterval  time.Duration `yaml:"retrain_interval"`
	RetrainThreshold int           `yaml:"retrain_threshold"`
	CheckSchedule    string        `yaml:"check_schedule"` // cron expression, empty disables
	AdminKey         string        `yaml:"admin_key"`

	HeuristicWeight   float64 `yaml:"heuristic_weight"`
	TrainedWeight     float64 `yaml:"trained_weight"`
	DecisionThreshold float64 `yaml:"decision_threshold"`
}

type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`
}

var GlobalConfig *Config

func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, err
		}
		// Unmarshal over the defaults so omitted keys keep their value.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	cfg.overrideFromEnv()
	GlobalConfig = cfg
	return cfg, nil
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           "8080",
			Mode:           "debug",
			RateLimitRPS:   20,
			RateLimitBurst: 40,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "spamguard.db",
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
			DB:      0,
		},
		Log: LogConfig{
			Level: "info",
		},
		ML: MLConfig{
			ModelDir:          "models",
			MinSamples:        100,
			MinTextLength:     10,
			TestSize:          0.2,
			MaxFeatures:       5000,
			Alpha:             0.1,
			KeepBackups:       5,
			LockBackend:       "memory",
			LockTimeout:       30 * time.Minute,
			RetrainInterval:   time.Hour,
			RetrainThreshold:  100,
			CheckSchedule:     "0 */6 * * *",
			HeuristicWeight:   0.4,
			TrainedWeight:     0.6,
			DecisionThreshold: 0.5,
		},
		Cache: CacheConfig{
			Enabled: true,
			TTL:     5 * time.Minute,
		},
	}
}

func (c *Config) overrideFromEnv() {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		c.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		c.Server.Port = port
	}
	if mode := os.Getenv("SERVER_MODE"); mode != "" {
		c.Server.Mode = mode
	}
	if driver := os.Getenv("DB_DRIVER"); driver != "" {
		c.Database.Driver = driver
	}
	if dsn := os.Getenv("DB_DSN"); dsn != "" {
		c.Database.DSN = dsn
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if dir := os.Getenv("ML_MODEL_DIR"); dir != "" {
		c.ML.ModelDir = dir
	}
	if key := os.Getenv("ML_ADMIN_KEY"); key != "" {
		c.ML.AdminKey = key
	}
	if backend := os.Getenv("ML_LOCK_BACKEND"); backend != "" {
		c.ML.LockBackend = backend
	}
	if v := os.Getenv("ML_MIN_SAMPLES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.ML.MinSamples = n
		}
	}
	if v := os.Getenv("ML_RETRAIN_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.ML.RetrainThreshold = n
		}
	}
	if v := os.Getenv("CACHE_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Cache.Enabled = b
		}
	}
	// Redis URL override (format: redis://:password@host:port/db)
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		c.Redis.Enabled = true
		c.parseRedisURL(redisURL)
	}
}

// parseRedisURL parses a Redis URL and sets config values
// Format: redis://:password@host:port/db
func (c *Config) parseRedisURL(redisURL string) {
	url := strings.TrimPrefix(redisURL, "redis://")

	// Password format: :password or user:password
	if atIdx := strings.LastIndex(url, "@"); atIdx != -1 {
		authPart := url[:atIdx]
		url = url[atIdx+1:]
		if colonIdx := strings.Index(authPart, ":"); colonIdx != -1 {
			c.Redis.Password = authPart[colonIdx+1:]
		}
	}

	if slashIdx := strings.LastIndex(url, "/"); slashIdx != -1 {
		dbStr := url[slashIdx+1:]
		url = url[:slashIdx]
		if db, err := strconv.Atoi(dbStr); err == nil {
			c.Redis.DB = db
		}
	}

	c.Redis.Addr = url
}
