// Package config предоставляет структуры и функцию для парсинга и загрузки конфига
package config

import (
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config общая структура для хранения настроек
type Config struct {
	Env                     string `yaml:"env" env-default:"local"`
	StorageConnectionString string `yaml:"storage_connection_string" env:"STORAGE_CONNECTION_STRING"`
	MigrationsPath          string `yaml:"migrations_path" env-default:"./migrations"`
	RedisConnection         `yaml:"redis_connection"`
	RabbitMQ                `yaml:"rabbitmq"`
	HTTPServer              `yaml:"http_server"`
	Telegram                `yaml:"telegram"`
	Paystack                `yaml:"paystack"`
	Sweeper                 `yaml:"sweeper"`
}

// Sweeper структура для настройки периодического прохода по подпискам
type Sweeper struct {
	SweepInterval time.Duration `yaml:"interval" env-default:"1h"`
	RemindBefore  time.Duration `yaml:"remind_before" env-default:"48h"`
}

// HTTPServer структура для настройки сервера
type HTTPServer struct {
	AddressHTTP string        `yaml:"addresshttp" env-default:":8080"`
	TimeoutHTTP time.Duration `yaml:"timeouthttp" env-default:"5s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
}

// RedisConnection структура для настройки подключения к redis
type RedisConnection struct {
	AddressRedis string        `yaml:"addressredis"`
	Password     string        `yaml:"password" env:"REDIS_PASSWORD"`
	User         string        `yaml:"user"`
	DB           int           `yaml:"db"`
	MaxRetries   int           `yaml:"max_retries" env-default:"3"`
	DialTimeout  time.Duration `yaml:"dial_timeout" env-default:"5s"`
	TimeoutRedis time.Duration `yaml:"timeoutredis" env-default:"3s"`
}

// RabbitMQ структура для настройки подключения к брокеру уведомлений
type RabbitMQ struct {
	RabbitMQURL        string        `yaml:"url" env:"RABBITMQ_URL"`
	RabbitMQMaxRetries int           `yaml:"max_retries" env-default:"10"`
	RabbitMQRetryDelay time.Duration `yaml:"retry_delay" env-default:"3s"`
}

// Telegram структура для работы с Bot API
type Telegram struct {
	Token       string        `yaml:"token" env:"TELEGRAM_BOT_TOKEN"`
	PollTimeout time.Duration `yaml:"poll_timeout" env-default:"30s"`
	AdminChatID int64         `yaml:"admin_chat_id"`
}

// Paystack структура для работы с платежным шлюзом.
// Цена указывается в кобо, период действия premium — после каждой оплаты.
type Paystack struct {
	SecretKey     string        `yaml:"secret_key" env:"PAYSTACK_SECRET_KEY"`
	MonthlyPrice  int           `yaml:"monthly_price" env-default:"700000"`
	Currency      string        `yaml:"currency" env-default:"NGN"`
	PremiumPeriod time.Duration `yaml:"premium_period" env-default:"720h"`
}

// MustLoad функция для загрузки конфига, путь берется из CONFIG_PATH
func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		log.Fatal("CONFIG_PATH is not set")
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Fatalf("file: %s - does not exist", configPath)
	}
	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		log.Fatalf("cannot read config: %s", err)
	}
	return &cfg
}
