package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Mode   string `yaml:"mode"`
	Server struct {
		Host         string   `yaml:"host"`
		Port         int      `yaml:"port"`
		ReadTimeout  string   `yaml:"read_timeout"`
		WriteTimeout string   `yaml:"write_timeout"`
		CORSOrigins  []string `yaml:"cors_origins"`
		RatePerMin   int      `yaml:"rate_per_minute"`
		RateBurst    int      `yaml:"rate_burst"`
	} `yaml:"server"`
	MCP struct {
		Enabled bool `yaml:"enabled"`
		HTTP    struct {
			Enabled bool   `yaml:"enabled"`
			Path    string `yaml:"path"`
		} `yaml:"http"`
	} `yaml:"mcp"`
	Database struct {
		Path           string `yaml:"path"`
		WALMode        bool   `yaml:"wal_mode"`
		MaxConnections int    `yaml:"max_connections"`
	} `yaml:"database"`
	Retry struct {
		MaxAttempts int    `yaml:"max_attempts"`
		BaseDelay   string `yaml:"base_delay"`
	} `yaml:"retry"`
	Auth struct {
		Enabled  bool   `yaml:"enabled"`
		AdminKey string `yaml:"admin_key"`
	} `yaml:"auth"`
	Broker struct {
		ChannelBufferSize int `yaml:"channel_buffer_size"`
	} `yaml:"broker"`
	Reminder struct {
		Enabled     bool   `yaml:"enabled"`
		Schedule    string `yaml:"schedule"`
		LeadTime    string `yaml:"lead_time"`
		Window      string `yaml:"window"`
		SendTimeout string `yaml:"send_timeout"`
	} `yaml:"reminder"`
	Outbox struct {
		Enabled     bool   `yaml:"enabled"`
		Schedule    string `yaml:"schedule"`
		BatchSize   int    `yaml:"batch_size"`
		Concurrency int    `yaml:"concurrency"`
		MaxAttempts int    `yaml:"max_attempts"`
		RetryDelay  string `yaml:"retry_delay"`
		LeaseFor    string `yaml:"lease"`
	} `yaml:"outbox"`
	Mailer struct {
		Driver       string `yaml:"driver"`
		FromEmail    string `yaml:"from_email"`
		FromName     string `yaml:"from_name"`
		ResendAPIKey string `yaml:"resend_api_key"`
		ResendURL    string `yaml:"resend_url"`
		SMTPHost     string `yaml:"smtp_host"`
		SMTPPort     string `yaml:"smtp_port"`
		SMTPUser     string `yaml:"smtp_user"`
		SMTPPass     string `yaml:"smtp_pass"`
		AppURL       string `yaml:"app_url"`
	} `yaml:"mailer"`
	Directory struct {
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
	} `yaml:"directory"`
	LLM struct {
		Driver      string  `yaml:"driver"`
		APIKey      string  `yaml:"api_key"`
		BaseURL     string  `yaml:"base_url"`
		Model       string  `yaml:"model"`
		MaxTokens   int     `yaml:"max_tokens"`
		Temperature float64 `yaml:"temperature"`
		Timeout     string  `yaml:"timeout"`
	} `yaml:"llm"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

func Default() Config {
	cfg := Config{
		Mode: "server",
	}
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = 8080
	cfg.Server.ReadTimeout = "30s"
	cfg.Server.WriteTimeout = "30s"
	cfg.Server.CORSOrigins = []string{"http://localhost:3000"}
	cfg.Server.RatePerMin = 1000
	cfg.Server.RateBurst = 200
	cfg.MCP.Enabled = true
	cfg.MCP.HTTP.Enabled = true
	cfg.MCP.HTTP.Path = "/mcp"
	cfg.Database.Path = "./campusdesk.db"
	cfg.Database.WALMode = true
	cfg.Database.MaxConnections = 10
	cfg.Retry.MaxAttempts = 3
	cfg.Retry.BaseDelay = "500ms"
	cfg.Auth.Enabled = true
	cfg.Broker.ChannelBufferSize = 256
	cfg.Reminder.Enabled = true
	cfg.Reminder.Schedule = "* * * * *"
	cfg.Reminder.LeadTime = "24h"
	cfg.Reminder.Window = "1m"
	cfg.Reminder.SendTimeout = "30s"
	cfg.Outbox.Enabled = true
	cfg.Outbox.Schedule = "@every 30s"
	cfg.Outbox.BatchSize = 20
	cfg.Outbox.Concurrency = 4
	cfg.Outbox.MaxAttempts = 5
	cfg.Outbox.RetryDelay = "1m"
	cfg.Outbox.LeaseFor = "2m"
	cfg.Mailer.Driver = "log"
	cfg.Mailer.FromEmail = "no-reply@campusdesk.local"
	cfg.Mailer.FromName = "Sistema de Gestión Académica"
	cfg.Mailer.ResendURL = "https://api.resend.com/emails"
	cfg.Mailer.SMTPHost = "smtp.gmail.com"
	cfg.Mailer.SMTPPort = "587"
	cfg.Mailer.AppURL = "http://localhost:3000"
	cfg.Directory.Driver = "local"
	cfg.LLM.Driver = "static"
	cfg.LLM.Model = "gpt-4o-mini"
	cfg.LLM.MaxTokens = 500
	cfg.LLM.Temperature = 0.7
	cfg.LLM.Timeout = "30s"
	cfg.Metrics.Enabled = true
	cfg.Metrics.Path = "/metrics"
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	return cfg
}

func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	overrideFromEnv(&cfg)
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Addr(cfg Config) string {
	return cfg.Server.Host + ":" + strconv.Itoa(cfg.Server.Port)
}

func ReadTimeout(cfg Config) time.Duration {
	return Duration(cfg.Server.ReadTimeout, 30*time.Second)
}

func WriteTimeout(cfg Config) time.Duration {
	return Duration(cfg.Server.WriteTimeout, 30*time.Second)
}

// Duration parses v, returning def when v is empty or not a positive duration.
func Duration(v string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// overrideFromEnv applies CAMPUSDESK_* variables, e.g. CAMPUSDESK_SERVER_PORT
// or CAMPUSDESK_MAILER_RESEND_API_KEY.
func overrideFromEnv(cfg *Config) {
	v := viper.New()
	v.SetEnvPrefix("CAMPUSDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	str := func(key string, dst *string) {
		if s := strings.TrimSpace(v.GetString(key)); s != "" {
			*dst = s
		}
	}
	boolean := func(key string, dst *bool) {
		if s := v.GetString(key); s != "" {
			*dst = v.GetBool(key)
		}
	}
	integer := func(key string, dst *int) {
		if s := v.GetString(key); s != "" {
			if i, err := strconv.Atoi(s); err == nil {
				*dst = i
			}
		}
	}

	str("mode", &cfg.Mode)
	str("server.host", &cfg.Server.Host)
	integer("server.port", &cfg.Server.Port)
	boolean("mcp.enabled", &cfg.MCP.Enabled)
	boolean("mcp.http.enabled", &cfg.MCP.HTTP.Enabled)
	str("mcp.http.path", &cfg.MCP.HTTP.Path)
	str("database.path", &cfg.Database.Path)
	boolean("auth.enabled", &cfg.Auth.Enabled)
	str("auth.admin_key", &cfg.Auth.AdminKey)
	boolean("reminder.enabled", &cfg.Reminder.Enabled)
	str("reminder.schedule", &cfg.Reminder.Schedule)
	str("reminder.lead_time", &cfg.Reminder.LeadTime)
	str("reminder.window", &cfg.Reminder.Window)
	boolean("outbox.enabled", &cfg.Outbox.Enabled)
	str("mailer.driver", &cfg.Mailer.Driver)
	str("mailer.from_email", &cfg.Mailer.FromEmail)
	str("mailer.resend_api_key", &cfg.Mailer.ResendAPIKey)
	str("mailer.smtp_host", &cfg.Mailer.SMTPHost)
	str("mailer.smtp_port", &cfg.Mailer.SMTPPort)
	str("mailer.smtp_user", &cfg.Mailer.SMTPUser)
	str("mailer.smtp_pass", &cfg.Mailer.SMTPPass)
	str("directory.driver", &cfg.Directory.Driver)
	str("directory.dsn", &cfg.Directory.DSN)
	str("llm.driver", &cfg.LLM.Driver)
	str("llm.api_key", &cfg.LLM.APIKey)
	str("llm.base_url", &cfg.LLM.BaseURL)
	str("llm.model", &cfg.LLM.Model)
	str("logging.level", &cfg.Logging.Level)
	str("logging.format", &cfg.Logging.Format)

	// Conventional names used by hosting providers.
	if s := os.Getenv("OPENAI_API_KEY"); s != "" && cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = s
	}
	if s := os.Getenv("DATABASE_URL"); s != "" && cfg.Directory.DSN == "" {
		cfg.Directory.DSN = s
	}
}

// cadenceSamples is how many consecutive ticks checkCadence compares.
const cadenceSamples = 6

// checkCadence rejects a reminder window that does not equal the gap
// between ticks. Windows must tile: a narrower one leaves start times no
// tick ever covers, a wider one makes ticks overlap.
func checkCadence(sched cron.Schedule, window time.Duration) error {
	t := time.Date(2030, time.January, 7, 0, 0, 0, 0, time.UTC)
	for i := 0; i < cadenceSamples; i++ {
		next := sched.Next(t)
		if next.IsZero() {
			return errors.New("reminder.schedule never fires")
		}
		if i > 0 && next.Sub(t) != window {
			return fmt.Errorf("reminder.window %s does not match the reminder.schedule cadence %s", window, next.Sub(t))
		}
		t = next
	}
	return nil
}

func validate(cfg Config) error {
	switch cfg.Mode {
	case "server", "worker", "local":
	default:
		return fmt.Errorf("invalid mode: %s", cfg.Mode)
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return errors.New("invalid server.port")
	}
	if strings.TrimSpace(cfg.MCP.HTTP.Path) == "" || cfg.MCP.HTTP.Path[0] != '/' {
		return errors.New("mcp.http.path must start with '/'")
	}
	if cfg.Database.Path == "" {
		return errors.New("database.path is required")
	}
	if cfg.Retry.MaxAttempts <= 0 {
		return errors.New("retry.max_attempts must be > 0")
	}
	if cfg.Broker.ChannelBufferSize <= 0 {
		return errors.New("broker.channel_buffer_size must be > 0")
	}
	if cfg.Reminder.Enabled {
		sched, err := cron.ParseStandard(cfg.Reminder.Schedule)
		if err != nil {
			return fmt.Errorf("reminder.schedule: %w", err)
		}
		for key, v := range map[string]string{
			"reminder.lead_time":    cfg.Reminder.LeadTime,
			"reminder.window":       cfg.Reminder.Window,
			"reminder.send_timeout": cfg.Reminder.SendTimeout,
		} {
			if d, err := time.ParseDuration(v); err != nil || d <= 0 {
				return fmt.Errorf("%s must be a positive duration", key)
			}
		}
		window, _ := time.ParseDuration(cfg.Reminder.Window)
		if err := checkCadence(sched, window); err != nil {
			return err
		}
	}
	if cfg.Outbox.Enabled {
		if _, err := cron.ParseStandard(cfg.Outbox.Schedule); err != nil {
			return fmt.Errorf("outbox.schedule: %w", err)
		}
		if cfg.Outbox.MaxAttempts <= 0 || cfg.Outbox.BatchSize <= 0 {
			return errors.New("outbox.max_attempts and outbox.batch_size must be > 0")
		}
	}
	switch cfg.Mailer.Driver {
	case "log":
	case "resend":
		if cfg.Mailer.ResendAPIKey == "" {
			return errors.New("mailer.resend_api_key is required for the resend driver")
		}
	case "smtp":
		if cfg.Mailer.SMTPHost == "" || cfg.Mailer.SMTPPort == "" {
			return errors.New("mailer.smtp_host and mailer.smtp_port are required for the smtp driver")
		}
	default:
		return fmt.Errorf("invalid mailer.driver: %s", cfg.Mailer.Driver)
	}
	switch cfg.Directory.Driver {
	case "local":
	case "postgres":
		if cfg.Directory.DSN == "" {
			return errors.New("directory.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("invalid directory.driver: %s", cfg.Directory.Driver)
	}
	switch cfg.LLM.Driver {
	case "static":
	case "openai":
		if cfg.LLM.APIKey == "" {
			return errors.New("llm.api_key is required for the openai driver")
		}
	default:
		return fmt.Errorf("invalid llm.driver: %s", cfg.LLM.Driver)
	}
	switch cfg.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid logging.format: %s", cfg.Logging.Format)
	}
	return nil
}
