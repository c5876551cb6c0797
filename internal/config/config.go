package config

import (
	"fmt"
	"github.com/ilyakaznacheev/cleanenv"
	"log"
	"sync"
)

type Listen struct {
	BindIp string `yaml:"bind_ip" env-default:"0.0.0.0"`
	Port   string `yaml:"port" env-default:"8080"`
}

type MongoConfig struct {
	Enabled  bool   `yaml:"enabled" env-default:"false"`
	Host     string `yaml:"host" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env-default:"27017"`
	User     string `yaml:"user" env-default:""`
	Password string `yaml:"password" env-default:""`
	Database string `yaml:"database" env-default:"aprendecomigo"`
}

// LedgerConfig points at the relational store holding purchase transactions.
type LedgerConfig struct {
	Enabled  bool   `yaml:"enabled" env-default:"false"`
	HostName string `yaml:"hostname" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env-default:"3306"`
	UserName string `yaml:"username" env-default:""`
	Password string `yaml:"password" env-default:""`
	Database string `yaml:"database" env-default:"aprendecomigo"`
	Prefix   string `yaml:"prefix" env-default:""`
}

type StripeConfig struct {
	Enabled       bool   `yaml:"enabled" env-default:"false"`
	APIKey        string `yaml:"api_key" env-default:""`
	WebhookSecret string `yaml:"webhook_secret" env-default:""`
	SuccessURL    string `yaml:"success_url" env-default:""`
	Currency      string `yaml:"currency" env-default:"eur"`
}

type MailConfig struct {
	Enabled     bool   `yaml:"enabled" env-default:"false"`
	APIKey      string `yaml:"api_key" env:"RESEND_API_KEY" env-default:""`
	BaseURL     string `yaml:"base_url" env-default:"https://api.resend.com"`
	From        string `yaml:"from" env-default:"Aprende Comigo <noreply@aprendecomigo.com>"`
	FrontendURL string `yaml:"frontend_url" env-default:"http://localhost:3000"`
}

type TelegramConfig struct {
	Enabled  bool    `yaml:"enabled" env-default:"false"`
	ApiKey   string  `yaml:"api_key" env-default:""`
	ChatIDs  []int64 `yaml:"chat_ids"`
	LogLevel int     `yaml:"log_level" env-default:"8"`
}

type InvitationConfig struct {
	ExpiryDays      int `yaml:"expiry_days" env-default:"7"`
	MaxRetries      int `yaml:"max_retries" env-default:"3"`
	BackoffMillis   int `yaml:"backoff_millis" env-default:"500"`
	BulkConcurrency int `yaml:"bulk_concurrency" env-default:"4"`
}

type ApprovalConfig struct {
	ExpiryHours int    `yaml:"expiry_hours" env-default:"24"`
	Currency    string `yaml:"currency" env-default:"EUR"`
}

type NotificationConfig struct {
	DedupHours int `yaml:"dedup_hours" env-default:"24"`
}

type SweeperConfig struct {
	Enabled     bool `yaml:"enabled" env-default:"true"`
	IntervalMin int  `yaml:"interval_min" env-default:"15"`
}

type Config struct {
	Env          string             `yaml:"env" env-default:"local"`
	Location     string             `yaml:"location" env-default:"Europe/Lisbon"`
	Listen       Listen             `yaml:"listen"`
	Mongo        MongoConfig        `yaml:"mongo"`
	Ledger       LedgerConfig       `yaml:"ledger"`
	Stripe       StripeConfig       `yaml:"stripe"`
	Mail         MailConfig         `yaml:"mail"`
	Telegram     TelegramConfig     `yaml:"telegram"`
	Invitation   InvitationConfig   `yaml:"invitation"`
	Approval     ApprovalConfig     `yaml:"approval"`
	Notification NotificationConfig `yaml:"notification"`
	Sweeper      SweeperConfig      `yaml:"sweeper"`
}

var instance *Config
var once sync.Once

func MustLoad(path string) *Config {
	var err error
	once.Do(func() {
		instance = &Config{}
		if err = cleanenv.ReadConfig(path, instance); err != nil {
			desc, _ := cleanenv.GetDescription(instance, nil)
			err = fmt.Errorf("config: %s; %s", err, desc)
			instance = nil
			log.Fatal(err)
		}
	})
	return instance
}

// Load reads the config without the process-wide singleton.
func Load(path string) (*Config, error) {
	conf := &Config{}
	if err := cleanenv.ReadConfig(path, conf); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return conf, nil
}
