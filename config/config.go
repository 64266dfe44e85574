package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	JWT           JWTConfig
	AWS           AWSConfig
	BotVendor     BotVendorConfig
	Calendar      CalendarConfig
	Transcription TranscriptionConfig
	LLM           LLMConfig
	Scheduler     SchedulerConfig
	Webhook       WebhookConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
	// EmbedWorker runs the task consumer and cron jobs inside the API process.
	EmbedWorker bool
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/meetbot?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int32
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds settings for validating meeting API tokens.
type JWTConfig struct {
	Secret      string
	Issuer      string
	ExpireHours int
}

// AWSConfig holds AWS credentials and the recordings bucket.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	RecordingsBucket     string
	PresignExpireMinutes int
	// ArchiveEnabled copies vendor recordings to RecordingsBucket when a meeting ends.
	ArchiveEnabled bool
}

// BotVendorConfig holds the meeting bot vendor API settings.
type BotVendorConfig struct {
	BaseURL            string
	APIKey             string
	WebhookBaseURL     string // public base URL the vendor posts status and artifact events to
	WaitingRoomTimeout time.Duration
}

// WebhookURL returns the endpoint handed to the vendor on deployment, or "" if no public
// base URL is configured.
func (c BotVendorConfig) WebhookURL() string {
	if c.WebhookBaseURL == "" {
		return ""
	}
	return strings.TrimRight(c.WebhookBaseURL, "/") + "/webhooks/meeting-bot"
}

// CalendarConfig holds the calendar provider settings.
type CalendarConfig struct {
	BaseURL string
}

// TranscriptionConfig holds the speech-to-text service settings.
type TranscriptionConfig struct {
	BaseURL string
	APIKey  string
}

// Enabled reports whether a speech-to-text service is configured.
func (c TranscriptionConfig) Enabled() bool { return c.BaseURL != "" }

// LLMConfig holds the insight model settings.
type LLMConfig struct {
	BaseURL            string
	APIKey             string
	Model              string
	MaxTranscriptChars int
}

// SchedulerConfig holds cron specs and timing for the periodic jobs.
type SchedulerConfig struct {
	SyncSpec    string
	PollSpec    string
	WakeupSpec  string
	PromoteSpec string
	JoinLead    time.Duration
	SyncHorizon time.Duration
}

// WebhookConfig holds the inbound webhook settings. An empty Secret disables signature checks.
type WebhookConfig struct {
	Secret string
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:3001"),
			EmbedWorker:        getEnvBool("EMBED_WORKER", true),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "meetbot"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 0)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			Issuer:      getEnv("JWT_ISSUER", ""),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			RecordingsBucket:     getEnv("AWS_S3_RECORDINGS_BUCKET", ""),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
			ArchiveEnabled:       getEnvBool("RECORDING_ARCHIVE_ENABLED", false),
		},
		BotVendor: BotVendorConfig{
			BaseURL:            getEnv("BOT_VENDOR_BASE_URL", "https://api.meetingbaas.com"),
			APIKey:             getEnv("BOT_VENDOR_API_KEY", ""),
			WebhookBaseURL:     getEnv("BOT_WEBHOOK_BASE_URL", ""),
			WaitingRoomTimeout: getEnvDuration("BOT_WAITING_ROOM_TIMEOUT", 10*time.Minute),
		},
		Calendar: CalendarConfig{
			BaseURL: getEnv("CALENDAR_BASE_URL", ""),
		},
		Transcription: TranscriptionConfig{
			BaseURL: getEnv("TRANSCRIPTION_BASE_URL", ""),
			APIKey:  getEnv("TRANSCRIPTION_API_KEY", ""),
		},
		LLM: LLMConfig{
			BaseURL:            getEnv("LLM_BASE_URL", ""),
			APIKey:             getEnv("LLM_API_KEY", ""),
			Model:              getEnv("LLM_MODEL", ""),
			MaxTranscriptChars: getEnvInt("LLM_MAX_TRANSCRIPT_CHARS", 100000),
		},
		Scheduler: SchedulerConfig{
			SyncSpec:    getEnv("SYNC_CRON", "@every 5m"),
			PollSpec:    getEnv("POLL_CRON", "@every 2m"),
			WakeupSpec:  getEnv("WAKEUP_CRON", "@every 15s"),
			PromoteSpec: getEnv("RETRY_PROMOTE_CRON", "@every 5s"),
			JoinLead:    getEnvDuration("BOT_JOIN_LEAD", 60*time.Second),
			SyncHorizon: getEnvDuration("SYNC_HORIZON", 24*time.Hour),
		},
		Webhook: WebhookConfig{
			Secret: getEnv("WEBHOOK_SECRET", ""),
		},
	}
	if cfg.AWS.ArchiveEnabled && cfg.AWS.RecordingsBucket == "" {
		return nil, fmt.Errorf("RECORDING_ARCHIVE_ENABLED requires AWS_S3_RECORDINGS_BUCKET")
	}
	return cfg, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("90s") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
