package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"meetdesk/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Backup     BackupConfig     `yaml:"backup"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	API        APIConfig        `yaml:"api"`
	Scheduling SchedulingConfig `yaml:"scheduling"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	RabbitMQ   RabbitMQConfig   `yaml:"rabbitmq"`
	Google     GoogleConfig     `yaml:"google"`
	Worker     WorkerConfig     `yaml:"worker"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type APIConfig struct {
	HTTP      APIHTTPConfig      `yaml:"http"`
	GRPC      APIGRPCConfig      `yaml:"grpc"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIGRPCConfig struct {
	Enabled    bool         `yaml:"enabled"`
	Port       int          `yaml:"port"`
	Reflection bool         `yaml:"reflection"`
	TLS        APITLSConfig `yaml:"tls"`
}

type APITLSConfig struct {
	Enabled           bool   `yaml:"enabled"`
	CertFile          string `yaml:"cert_file"`
	KeyFile           string `yaml:"key_file"`
	ClientCAFile      string `yaml:"client_ca_file"`
	RequireClientCert bool   `yaml:"require_client_cert"`
}

type APIAuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type DatabaseConfig struct {
	Driver   string         `yaml:"driver"` // sqlite | postgres
	Path     string         `yaml:"path"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type PostgresConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	User           string `yaml:"user"`
	Password       string `yaml:"password"`
	DBName         string `yaml:"dbname"`
	SSLMode        string `yaml:"sslmode"`
	MaxConnections int    `yaml:"max_connections"`
}

// DSN builds a lib/pq connection string.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

// SchedulingConfig carries the booking rules.
type SchedulingConfig struct {
	Timezone                string        `yaml:"timezone"`
	Slots                   []string      `yaml:"slots"`
	MaxReschedules          int           `yaml:"max_reschedules"`
	MaxMonthlyCancellations int           `yaml:"max_monthly_cancellations"`
	DuplicateWindow         time.Duration `yaml:"duplicate_window"`
	MaxBookingDays          int           `yaml:"max_booking_days"`
	ReadTimeout             time.Duration `yaml:"read_timeout"`
	WriteTimeout            time.Duration `yaml:"write_timeout"`
	SlotCacheTTL            time.Duration `yaml:"slot_cache_ttl"`
}

// Location resolves Timezone, falling back to UTC.
func (c SchedulingConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type TelegramConfig struct {
	BotToken     string  `yaml:"bot_token"`
	AdminChatIDs []int64 `yaml:"admin_chat_ids"`
	Debug        bool    `yaml:"debug"`

	// BookingBot turns on the user facing booking dialog.
	BookingBot        bool          `yaml:"booking_bot"`
	ManagerIDs        []int64       `yaml:"manager_ids"`
	StateTTL          time.Duration `yaml:"state_ttl"`
	DatePickerDays    int           `yaml:"date_picker_days"`
	RateLimitMessages int           `yaml:"rate_limit_messages"`
	RateLimitWindow   time.Duration `yaml:"rate_limit_window"`
}

type RabbitMQConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

type GoogleConfig struct {
	CredentialsFile    string `yaml:"credentials_file"`
	MeetingsSpreadID   string `yaml:"meetings_spreadsheet_id"`
	MeetingsSheetTitle string `yaml:"meetings_sheet_title"`
}

type WorkerConfig struct {
	MaxRetries   int           `yaml:"max_retries"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional; a missing file is not an error.
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	return Parse(data)
}

// Parse expands environment variables in raw YAML and builds a validated config.
func Parse(data []byte) (*Config, error) {
	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return errors.New("database path is required")
		}
	case "postgres":
		if c.Database.Postgres.Host == "" || c.Database.Postgres.DBName == "" {
			return errors.New("postgres host and dbname are required")
		}
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}

	if c.Telegram.BookingBot && c.Telegram.BotToken == "" {
		return errors.New("telegram.booking_bot requires telegram.bot_token")
	}

	if c.API.Auth.JWTSecret == "" {
		return errors.New("api.auth.jwt_secret is required")
	}

	if c.Scheduling.Timezone != "" {
		if _, err := time.LoadLocation(c.Scheduling.Timezone); err != nil {
			return fmt.Errorf("invalid scheduling timezone: %w", err)
		}
	}

	return ValidateSlots(c.Scheduling.Slots)
}

// ValidateSlots checks labels are HH:MM, unique and ascending.
func ValidateSlots(slots []string) error {
	if len(slots) == 0 {
		return errors.New("at least one slot is required")
	}
	prev := ""
	for _, slot := range slots {
		if _, err := time.Parse("15:04", slot); err != nil {
			return fmt.Errorf("slot %q is not HH:MM", slot)
		}
		if prev != "" && strings.Compare(slot, prev) <= 0 {
			return fmt.Errorf("slots must be unique and ascending, got %q after %q", slot, prev)
		}
		prev = slot
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Postgres.Port == 0 {
		c.Database.Postgres.Port = 5432
	}
	if c.Database.Postgres.SSLMode == "" {
		c.Database.Postgres.SSLMode = "disable"
	}
	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 8081
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.API.Auth.Issuer == "" {
		c.API.Auth.Issuer = "meetdesk"
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.RabbitMQ.Exchange == "" {
		c.RabbitMQ.Exchange = "meetings"
	}
	if c.Telegram.StateTTL == 0 {
		c.Telegram.StateTTL = 24 * time.Hour
	}
	if c.Telegram.DatePickerDays == 0 {
		c.Telegram.DatePickerDays = 14
	}
	if c.Telegram.RateLimitMessages == 0 {
		c.Telegram.RateLimitMessages = 20
	}
	if c.Telegram.RateLimitWindow == 0 {
		c.Telegram.RateLimitWindow = time.Minute
	}
	if c.Google.MeetingsSheetTitle == "" {
		c.Google.MeetingsSheetTitle = "Meetings"
	}

	s := &c.Scheduling
	if len(s.Slots) == 0 {
		s.Slots = append([]string(nil), models.DefaultSlots...)
	}
	if s.MaxReschedules == 0 {
		s.MaxReschedules = models.MaxReschedules
	}
	if s.MaxMonthlyCancellations == 0 {
		s.MaxMonthlyCancellations = models.MaxMonthlyCancellations
	}
	if s.DuplicateWindow == 0 {
		s.DuplicateWindow = models.DuplicateWindow
	}
	if s.MaxBookingDays == 0 {
		s.MaxBookingDays = models.DefaultMaxBookingDays
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = models.DefaultReadTimeout
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = models.DefaultWriteTimeout
	}
	if s.SlotCacheTTL == 0 {
		s.SlotCacheTTL = models.SlotCacheTTL
	}

	if c.Worker.MaxRetries == 0 {
		c.Worker.MaxRetries = 5
	}
	if c.Worker.InitialDelay == 0 {
		c.Worker.InitialDelay = 2 * time.Second
	}
	if c.Worker.MaxDelay == 0 {
		c.Worker.MaxDelay = time.Minute
	}
	if c.Worker.PollInterval == 0 {
		c.Worker.PollInterval = 2 * time.Second
	}
}
