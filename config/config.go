package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vzale/apptbooking/internal/domain"
)

type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Booking  BookingConfig  `yaml:"booking"`
	Worker   WorkerConfig   `yaml:"worker"`
}

type HTTPConfig struct {
	Address     string `yaml:"address"`
	OpenAPIFile string `yaml:"openapi_file"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s", d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers            []string `yaml:"brokers"`
	BookingTopic       string   `yaml:"booking_topic"`
	NotificationsTopic string   `yaml:"notifications_topic"`
	GroupID            string   `yaml:"group_id"`
}

type BookingConfig struct {
	OpenTime             string   `yaml:"open_time"`
	CloseTime            string   `yaml:"close_time"`
	SlotIntervalMinutes  int      `yaml:"slot_interval_minutes"`
	WorkingDays          []int    `yaml:"working_days"`
	BlackoutDates        []string `yaml:"blackout_dates"`
	AdvanceDays          int      `yaml:"advance_days"`
	PastBufferSeconds    int      `yaml:"past_buffer_seconds"`
	DedupWindowMinutes   int      `yaml:"dedup_window_minutes"`
	AttemptLimit         int      `yaml:"attempt_limit"`
	AttemptWindowMinutes int      `yaml:"attempt_window_minutes"`
	LockAttemptsPerMin   int      `yaml:"lock_attempts_per_minute"`
	SelectionTTLSeconds  int      `yaml:"selection_ttl_seconds"`
	SoftLockTTLSeconds   int      `yaml:"soft_lock_ttl_seconds"`
	HardLockTTLSeconds   int      `yaml:"hard_lock_ttl_seconds"`
	DayCacheTTLSeconds   int      `yaml:"day_cache_ttl_seconds"`
	WebhookURL           string   `yaml:"webhook_url"`
}

// Hours builds the typed schedule passed into the services.
func (b BookingConfig) Hours() domain.BusinessHours {
	blackouts := make(map[string]bool, len(b.BlackoutDates))
	for _, d := range b.BlackoutDates {
		blackouts[d] = true
	}
	return domain.BusinessHours{
		Open:         b.OpenTime,
		Close:        b.CloseTime,
		SlotInterval: time.Duration(b.SlotIntervalMinutes) * time.Minute,
		WorkingDays:  b.WorkingDays,
		Blackouts:    blackouts,
		AdvanceDays:  b.AdvanceDays,
		PastBuffer:   time.Duration(b.PastBufferSeconds) * time.Second,
	}
}

func (b BookingConfig) DedupWindow() time.Duration {
	return time.Duration(b.DedupWindowMinutes) * time.Minute
}

func (b BookingConfig) AttemptWindow() time.Duration {
	return time.Duration(b.AttemptWindowMinutes) * time.Minute
}

func (b BookingConfig) SelectionTTL() time.Duration {
	return time.Duration(b.SelectionTTLSeconds) * time.Second
}

func (b BookingConfig) SoftLockTTL() time.Duration {
	return time.Duration(b.SoftLockTTLSeconds) * time.Second
}

func (b BookingConfig) HardLockTTL() time.Duration {
	return time.Duration(b.HardLockTTLSeconds) * time.Second
}

func (b BookingConfig) DayCacheTTL() time.Duration {
	return time.Duration(b.DayCacheTTLSeconds) * time.Second
}

type WorkerConfig struct {
	HealthProbeSeconds    int `yaml:"health_probe_seconds"`
	TransientSweepMinutes int `yaml:"transient_sweep_minutes"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	b := &c.Booking
	if b.OpenTime == "" {
		b.OpenTime = "09:00"
	}
	if b.CloseTime == "" {
		b.CloseTime = "18:00"
	}
	if b.SlotIntervalMinutes == 0 {
		b.SlotIntervalMinutes = 30
	}
	if len(b.WorkingDays) == 0 {
		b.WorkingDays = []int{1, 2, 3, 4, 5}
	}
	if b.AdvanceDays == 0 {
		b.AdvanceDays = 30
	}
	if b.PastBufferSeconds == 0 {
		b.PastBufferSeconds = 60
	}
	if b.DedupWindowMinutes == 0 {
		b.DedupWindowMinutes = 60
	}
	if b.AttemptLimit == 0 {
		b.AttemptLimit = 3
	}
	if b.AttemptWindowMinutes == 0 {
		b.AttemptWindowMinutes = 5
	}
	if b.LockAttemptsPerMin == 0 {
		b.LockAttemptsPerMin = 5
	}
	if b.SelectionTTLSeconds == 0 {
		b.SelectionTTLSeconds = 10
	}
	if b.SoftLockTTLSeconds == 0 {
		b.SoftLockTTLSeconds = 30
	}
	if b.HardLockTTLSeconds == 0 {
		b.HardLockTTLSeconds = 600
	}
	if b.DayCacheTTLSeconds == 0 {
		b.DayCacheTTLSeconds = 30
	}
	if c.Worker.HealthProbeSeconds == 0 {
		c.Worker.HealthProbeSeconds = 5
	}
	if c.Worker.TransientSweepMinutes == 0 {
		c.Worker.TransientSweepMinutes = 1
	}
}
