// Package config предоставляет загрузку конфигурации из переменных окружения.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config содержит полную конфигурацию приложения.
type Config struct {
	App          AppConfig
	MySQL        MySQLConfig
	Redis        RedisConfig
	Kafka        KafkaConfig
	Outbox       OutboxConfig
	BalanceCache BalanceCacheConfig
	Jaeger       JaegerConfig
	Metrics      MetricsConfig
}

// AppConfig содержит общие настройки приложения.
type AppConfig struct {
	Name      string `env:"APP_NAME" envDefault:"wallet-system"`
	Env       string `env:"APP_ENV" envDefault:"development"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`
}

// MySQLConfig содержит настройки подключения к MySQL.
type MySQLConfig struct {
	Host            string        `env:"MYSQL_HOST" envDefault:"localhost"`
	Port            int           `env:"MYSQL_PORT" envDefault:"3306"`
	User            string        `env:"MYSQL_USER" envDefault:"root"`
	Password        string        `env:"MYSQL_PASSWORD" envDefault:"root"`
	Database        string        `env:"MYSQL_DATABASE" envDefault:"wallet_system"`
	MaxOpenConns    int           `env:"MYSQL_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns    int           `env:"MYSQL_MAX_IDLE_CONNS" envDefault:"10"`
	ConnMaxLifetime time.Duration `env:"MYSQL_CONN_MAX_LIFETIME" envDefault:"5m"`
}

// DSN возвращает строку подключения к MySQL.
func (c MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// RedisConfig содержит настройки подключения к Redis.
type RedisConfig struct {
	Host     string `env:"REDIS_HOST" envDefault:"localhost"`
	Port     int    `env:"REDIS_PORT" envDefault:"6379"`
	Password string `env:"REDIS_PASSWORD" envDefault:""`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

// Addr возвращает адрес Redis сервера.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// KafkaConfig содержит настройки подключения к Kafka.
type KafkaConfig struct {
	Brokers       []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	ConsumerGroup string   `env:"KAFKA_CONSUMER_GROUP" envDefault:"wallet-system"`
}

// OutboxConfig содержит настройки Outbox Relay.
type OutboxConfig struct {
	// PollInterval — интервал опроса таблицы outbox.
	PollInterval time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"5s"`

	// BatchSize — максимум записей, забираемых за один цикл.
	BatchSize int `env:"OUTBOX_BATCH_SIZE" envDefault:"100"`

	// MaxRetries — количество попыток отправки, после которых
	// запись переводится в статус failed и уходит в DLQ.
	MaxRetries int `env:"OUTBOX_MAX_RETRIES" envDefault:"5"`

	// ClaimTimeout — время, после которого зависшая запись в статусе
	// processing (упавший relay) снова доступна для захвата.
	ClaimTimeout time.Duration `env:"OUTBOX_CLAIM_TIMEOUT" envDefault:"5m"`

	// Retention — срок хранения обработанных записей до очистки.
	Retention time.Duration `env:"OUTBOX_RETENTION" envDefault:"168h"`
}

// BalanceCacheConfig содержит настройки кэша балансов (cache-aside).
type BalanceCacheConfig struct {
	// Prefix — префикс ключей в Redis.
	Prefix string `env:"BALANCE_CACHE_PREFIX" envDefault:"balance:"`

	// TTL — время жизни записи кэша. 0 = без истечения.
	TTL time.Duration `env:"BALANCE_CACHE_TTL" envDefault:"0"`

	// RequestDebounce — окно, в течение которого повторный cache miss
	// по тому же пользователю не порождает новый запрос баланса.
	RequestDebounce time.Duration `env:"BALANCE_REQUEST_DEBOUNCE" envDefault:"2s"`

	// ReplyTopic — топик, в который wallet-сервис отвечает на запросы
	// баланса этого инстанса (reply-to).
	ReplyTopic string `env:"BALANCE_REPLY_TOPIC" envDefault:"balance.reply.transaction-service"`
}

// JaegerConfig содержит настройки трассировки Jaeger.
type JaegerConfig struct {
	Enabled  bool   `env:"JAEGER_ENABLED" envDefault:"true"`
	Host     string `env:"JAEGER_HOST" envDefault:"localhost"`
	OTLPPort int    `env:"JAEGER_OTLP_PORT" envDefault:"4317"` // OTLP gRPC порт
}

// OTLPEndpoint возвращает OTLP gRPC endpoint для Jaeger.
func (c JaegerConfig) OTLPEndpoint() string {
	return fmt.Sprintf("%s:%d", c.Host, c.OTLPPort)
}

// MetricsConfig содержит настройки Prometheus метрик.
// Локально каждый сервис переопределяет METRICS_PORT.
type MetricsConfig struct {
	Enabled bool `env:"METRICS_ENABLED" envDefault:"true"`
	Port    int  `env:"METRICS_PORT" envDefault:"9090"`
}

// Addr возвращает адрес для Metrics HTTP сервера.
func (c MetricsConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Load загружает конфигурацию из переменных окружения.
// Опционально подхватывает .env файл, если он существует.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("ошибка парсинга конфигурации: %w", err)
	}

	return cfg, nil
}

// LoadFromFile загружает конфигурацию из указанного .env файла.
func LoadFromFile(path string) (*Config, error) {
	if err := godotenv.Load(path); err != nil {
		return nil, fmt.Errorf("ошибка загрузки .env файла %s: %w", path, err)
	}

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("ошибка парсинга конфигурации: %w", err)
	}

	return cfg, nil
}

// IsDevelopment возвращает true в development режиме.
func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}

// IsProduction возвращает true в production режиме.
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}
