package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"Server"`
	Storage  StorageConfig  `mapstructure:"Storage"`
	Database DatabaseConfig `mapstructure:"Database"`
	Cleanup  CleanupConfig  `mapstructure:"Cleanup"`
}

type ServerConfig struct {
	Port       string        `mapstructure:"Port"`
	PartURLTTL time.Duration `mapstructure:"PartURLTTL"`
}

// StorageConfig выбирает бэкенд леджера: postgres, dynamodb или memory.
type StorageConfig struct {
	Backend      string `mapstructure:"Backend"`
	QueueBackend string `mapstructure:"QueueBackend"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"Host"`
	Port     string `mapstructure:"Port"`
	User     string `mapstructure:"User"`
	Password string `mapstructure:"Password"`
	Name     string `mapstructure:"Name"`
	SSLMode  string `mapstructure:"SSLMode"`
}

type CleanupConfig struct {
	Interval time.Duration `mapstructure:"Interval"`
	Prefix   string        `mapstructure:"Prefix"`
	PageSize int32         `mapstructure:"PageSize"`
	MaxKeys  int           `mapstructure:"MaxKeys"`
}

func NewConfig(path string) (*Config, error) {
	v := viper.New()

	// Устанавливаем файл конфигурации
	v.SetConfigFile(path)

	// Привязываем переменные окружения
	v.BindEnv("Server.Port", "HTTP_PORT")
	v.BindEnv("Server.PartURLTTL", "PART_URL_TTL")
	v.BindEnv("Storage.Backend", "STORAGE_BACKEND")
	v.BindEnv("Storage.QueueBackend", "QUEUE_BACKEND")
	v.BindEnv("Database.Host", "DATABASE_HOST")
	v.BindEnv("Database.Port", "DATABASE_PORT")
	v.BindEnv("Database.User", "DATABASE_USER")
	v.BindEnv("Database.Password", "DATABASE_PASSWORD")
	v.BindEnv("Database.Name", "DATABASE_NAME")
	v.BindEnv("Database.SSLMode", "DATABASE_SSLMODE")
	v.BindEnv("Cleanup.Interval", "CLEANUP_INTERVAL")
	v.BindEnv("Cleanup.Prefix", "CLEANUP_PREFIX")

	// Читаем конфигурацию из файла
	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("Warning: using only environment variables: %v\n", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Проверяем переменные окружения напрямую если конфигурация неполная
	if cfg.Server.Port == "" {
		cfg.Server.Port = v.GetString("HTTP_PORT")
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = v.GetString("STORAGE_BACKEND")
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = v.GetString("DATABASE_HOST")
	}
	if cfg.Database.Port == "" {
		cfg.Database.Port = v.GetString("DATABASE_PORT")
	}
	if cfg.Database.User == "" {
		cfg.Database.User = v.GetString("DATABASE_USER")
	}
	if cfg.Database.Password == "" {
		cfg.Database.Password = v.GetString("DATABASE_PASSWORD")
	}
	if cfg.Database.Name == "" {
		cfg.Database.Name = v.GetString("DATABASE_NAME")
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = v.GetString("DATABASE_SSLMODE")
	}

	// Установка значений по умолчанию
	if cfg.Server.Port == "" {
		cfg.Server.Port = "2525"
	}
	if cfg.Server.PartURLTTL <= 0 {
		cfg.Server.PartURLTTL = 15 * time.Minute
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "postgres"
	}
	if cfg.Storage.QueueBackend == "" {
		cfg.Storage.QueueBackend = "sqs"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Cleanup.Interval <= 0 {
		cfg.Cleanup.Interval = time.Hour
	}
	if cfg.Cleanup.PageSize <= 0 {
		cfg.Cleanup.PageSize = 250
	}
	if cfg.Cleanup.MaxKeys <= 0 {
		cfg.Cleanup.MaxKeys = 1000
	}

	if cfg.Storage.Backend == "postgres" {
		if cfg.Database.Host == "" ||
			cfg.Database.Port == "" ||
			cfg.Database.User == "" ||
			cfg.Database.Name == "" {
			return nil, fmt.Errorf("database configuration is incomplete: host=%s, port=%s, user=%s, name=%s",
				cfg.Database.Host, cfg.Database.Port, cfg.Database.User, cfg.Database.Name)
		}
	}

	return &cfg, nil
}

func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.Name,
		c.SSLMode,
	)
}

// MigrateURL — DSN в форме URL для мигратора.
func (c *DatabaseConfig) MigrateURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Name,
		c.SSLMode,
	)
}
