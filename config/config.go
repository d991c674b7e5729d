package config

import (
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	mu sync.RWMutex `yaml:"-"`

	Store     StoreConfig     `yaml:"store"`
	Inventory InventoryConfig `yaml:"inventory"`
	Web       WebConfig       `yaml:"web"`
	Messaging MessagingConfig `yaml:"messaging"`
	Log       LogConfig       `yaml:"log"`
}

type StoreConfig struct {
	Driver       string         `yaml:"driver"`
	SQLite       SQLiteConfig   `yaml:"sqlite"`
	Postgres     PostgresConfig `yaml:"postgres"`
	Redis        RedisConfig    `yaml:"redis"`
	VerifyWrites bool           `yaml:"verify_writes"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type InventoryConfig struct {
	MaxTotalWidth int    `yaml:"max_total_width"`
	LabelBaseURL  string `yaml:"label_base_url"`
	PresetWidths  []int  `yaml:"preset_widths"`
}

type WebConfig struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	SessionSecret string `yaml:"session_secret"`
	Metrics       bool   `yaml:"metrics"`
}

type MessagingConfig struct {
	Enabled             bool          `yaml:"enabled"`
	Backend             string        `yaml:"backend"`
	MQTT                MQTTConfig    `yaml:"mqtt"`
	Kafka               KafkaConfig   `yaml:"kafka"`
	EventsTopic         string        `yaml:"events_topic"`
	CommandsTopic       string        `yaml:"commands_topic"` // empty disables inbound scanner commands
	OutboxDrainInterval time.Duration `yaml:"outbox_drain_interval"`
	OutboxMaxRetries    int           `yaml:"outbox_max_retries"`
	StationID           string        `yaml:"station_id"`
}

type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Port     int    `yaml:"port"`
	ClientID string `yaml:"client_id"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	GroupID string   `yaml:"group_id"`
}

type LogConfig struct {
	Mode string `yaml:"mode"`
}

func Defaults() *Config {
	return &Config{
		Store: StoreConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{Path: "rolltrack.db"},
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				Database: "rolltrack",
				User:     "rolltrack",
				Password: "",
				SSLMode:  "disable",
			},
			Redis: RedisConfig{
				Address: "localhost:6379",
				DB:      0,
				Prefix:  "rolltrack",
			},
			VerifyWrites: true,
		},
		Inventory: InventoryConfig{
			MaxTotalWidth: 1300,
			LabelBaseURL:  "https://rbd-weld.vercel.app",
			PresetWidths:  []int{225, 241, 325},
		},
		Web: WebConfig{
			Host:          "0.0.0.0",
			Port:          8085,
			SessionSecret: "change-me-in-production",
			Metrics:       true,
		},
		Messaging: MessagingConfig{
			Enabled: false,
			Backend: "mqtt",
			MQTT: MQTTConfig{
				Broker:   "localhost",
				Port:     1883,
				ClientID: "rolltrack",
			},
			Kafka: KafkaConfig{
				Brokers: []string{"localhost:9092"},
				GroupID: "rolltrack",
			},
			EventsTopic:         "rolltrack.events",
			CommandsTopic:       "rolltrack.commands",
			OutboxDrainInterval: 5 * time.Second,
			OutboxMaxRetries:    20,
			StationID:           "slitter-1",
		},
		Log: LogConfig{Mode: "dev"},
	}
}

func Load(path string) (*Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Save(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) Lock()   { c.mu.Lock() }
func (c *Config) Unlock() { c.mu.Unlock() }
