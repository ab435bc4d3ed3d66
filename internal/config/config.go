// Package config предоставляет структуры и функцию для парсинга и загрузки
// конфига. Вся конфигурация (узлы доступа, тарифы, бонусы) собирается один
// раз при старте процесса и передаётся в конструкторы сервисов явно.
package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config общая структура для хранения настроек.
type Config struct {
	Env                     string `yaml:"env" env-default:"local"`
	StorageConnectionString string `yaml:"storage_connection_string"`
	MigrationsPath          string `yaml:"migrations_path" env-default:"./migrations"`
	RabbitURL               string `yaml:"rabbit_url"`
	RedisConnection         `yaml:"redis_connection"`
	HTTPServer              `yaml:"http_server"`
	Gateway                 `yaml:"gateway"`
	Provisioning            `yaml:"provisioning"`
	Sweep                   `yaml:"sweep"`
	Referral                `yaml:"referral"`
	AccessNodes             []AccessNode `yaml:"access_nodes"`
	Tariffs                 []Tariff     `yaml:"tariffs"`
}

// HTTPServer структура для настройки сервера.
type HTTPServer struct {
	AddressHTTP string        `yaml:"addresshttp" env-default:":8080"`
	TimeoutHTTP time.Duration `yaml:"timeouthttp" env-default:"10s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
}

// RedisConnection структура для настройки подключения к redis.
type RedisConnection struct {
	AddressRedis string        `yaml:"addressredis"`
	Password     string        `yaml:"password"`
	User         string        `yaml:"user"`
	DB           int           `yaml:"db"`
	MaxRetries   int           `yaml:"max_retries" env-default:"3"`
	DialTimeout  time.Duration `yaml:"dial_timeout" env-default:"5s"`
	TimeoutRedis time.Duration `yaml:"timeoutredis" env-default:"3s"`
}

// Gateway структура с реквизитами платёжного шлюза ЮKassa.
type Gateway struct {
	ShopID        string        `yaml:"shop_id" env:"SHOP_ID"`
	SecretKey     string        `yaml:"secret_key" env:"API_KEY"`
	WebhookSecret string        `yaml:"webhook_secret" env:"WEBHOOK_SECRET"`
	APIURL        string        `yaml:"api_url" env-default:"https://api.yookassa.ru/v3"`
	ReturnURL     string        `yaml:"return_url" env-default:"https://t.me/vaaaac_bot"`
	Timeout       time.Duration `yaml:"timeout" env-default:"30s"`
	TopUpMin      float64       `yaml:"topup_min" env-default:"10"`
	TopUpMax      float64       `yaml:"topup_max" env-default:"50000"`
}

// Provisioning структура с настройками рассылки на узлы доступа.
type Provisioning struct {
	NodeTimeout  time.Duration `yaml:"node_timeout" env-default:"5s"`
	PollInterval time.Duration `yaml:"poll_interval" env-default:"5s"`
	MaxAttempts  int           `yaml:"max_attempts" env-default:"5"`
	Backoff      time.Duration `yaml:"backoff" env-default:"30s"`
	BatchSize    int           `yaml:"batch_size" env-default:"64"`
}

// Sweep структура с настройками периодического обхода подписок.
type Sweep struct {
	Interval time.Duration `yaml:"interval" env-default:"6h"`
}

// Referral структура с размерами реферальных бонусов.
type Referral struct {
	ReferrerBonus float64 `yaml:"referrer_bonus" env-default:"50"`
	ReferredBonus float64 `yaml:"referred_bonus" env-default:"100"`
	LinkBase      string  `yaml:"link_base" env-default:"https://t.me/vaaaac_bot?startapp=ref_"`
}

// AccessNode описывает один удалённый узел доступа и его админ-API.
type AccessNode struct {
	ID          string `yaml:"id"`
	DisplayName string `yaml:"display_name"`
	BaseURL     string `yaml:"base_url"`
	APIKey      string `yaml:"api_key"`
	Address     string `yaml:"address"`
	Port        int    `yaml:"port"`
	PublicKey   string `yaml:"public_key"`
	ShortID     string `yaml:"short_id"`
	SNI         string `yaml:"sni" env-default:"www.google.com"`
}

// Tariff описывает покупаемый тариф: цену и количество дней подписки.
type Tariff struct {
	ID    string  `yaml:"id"`
	Name  string  `yaml:"name"`
	Price float64 `yaml:"price"`
	Days  int     `yaml:"days"`
}

// MustLoad загружает конфиг по пути из CONFIG_PATH; при ошибке завершает
// процесс.
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

// TariffByID возвращает тариф по идентификатору.
func (c *Config) TariffByID(id string) (Tariff, bool) {
	for _, t := range c.Tariffs {
		if t.ID == id {
			return t, true
		}
	}
	return Tariff{}, false
}

// NodeByID возвращает узел доступа по идентификатору.
func (c *Config) NodeByID(id string) (AccessNode, bool) {
	for _, n := range c.AccessNodes {
		if n.ID == id {
			return n, true
		}
	}
	return AccessNode{}, false
}

// NodeIDs возвращает идентификаторы всех настроенных узлов доступа.
func (c *Config) NodeIDs() []string {
	ids := make([]string, 0, len(c.AccessNodes))
	for _, n := range c.AccessNodes {
		ids = append(ids, n.ID)
	}
	return ids
}

func (c *Config) String() string {
	return fmt.Sprintf(
		"Env: %s\n"+
			"StorageConnectionString: %s\n"+
			"HTTPServer:\n"+
			"  Address: %s\n"+
			"  Timeout: %s\n"+
			"  IdleTimeout: %s\n"+
			"AccessNodes: %d\n"+
			"Tariffs: %d\n"+
			"SweepInterval: %s\n",
		c.Env,
		c.StorageConnectionString,
		c.AddressHTTP,
		c.TimeoutHTTP,
		c.IdleTimeout,
		len(c.AccessNodes),
		len(c.Tariffs),
		c.Sweep.Interval,
	)
}
