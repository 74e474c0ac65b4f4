package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the tutoring engine
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Memory    MemoryConfig    `mapstructure:"memory"`
	Consent   ConsentConfig   `mapstructure:"consent"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// LLMConfig contains the chat-completions provider settings
type LLMConfig struct {
	Type        string        `mapstructure:"type"` // openai-compatible
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN builds a lib/pq connection string from the configured fields.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Addr returns host:port for the go-redis client.
func (r RedisConfig) Addr() string {
	port := r.Port
	if port == "" {
		port = "6379"
	}
	return fmt.Sprintf("%s:%s", r.Host, port)
}

// MemoryConfig controls the STM/MTM/LTM tiers and the memory pack budgets.
type MemoryConfig struct {
	STM           STMConfig           `mapstructure:"stm"`
	Pack          PackConfig          `mapstructure:"pack"`
	Consolidation ConsolidationConfig `mapstructure:"consolidation"`
}

// STMConfig defines the short-term buffer behaviour.
type STMConfig struct {
	Backend     string        `mapstructure:"backend"` // inmemory | redis
	TTL         time.Duration `mapstructure:"ttl"`
	StateLimit  int           `mapstructure:"state_limit"`
	GlobalLimit int           `mapstructure:"global_limit"`
}

func (s STMConfig) Validate() error {
	switch s.Backend {
	case "", "inmemory", "redis":
	default:
		return fmt.Errorf("memory.stm.backend must be inmemory or redis, got %q", s.Backend)
	}
	return nil
}

// PackConfig holds the per-section character budgets for the memory pack.
type PackConfig struct {
	PrefsBudget    int `mapstructure:"prefs_budget"`
	SkillsBudget   int `mapstructure:"skills_budget"`
	PatternsBudget int `mapstructure:"patterns_budget"`
	GoalsBudget    int `mapstructure:"goals_budget"`
	MTMBudget      int `mapstructure:"mtm_budget"`
}

// ConsolidationConfig controls the attempts -> skills batch process.
type ConsolidationConfig struct {
	MinNewAttempts int    `mapstructure:"min_new_attempts"`
	MaxScan        int    `mapstructure:"max_scan"`
	MinSample      int    `mapstructure:"min_sample"`
	Cron           string `mapstructure:"cron"`
}

// ConsentConfig selects the personal-memory consent preset.
type ConsentConfig struct {
	Preset         string `mapstructure:"preset"` // strict | soft
	MaxFactsPerDay int    `mapstructure:"max_facts_per_day"`
	StoryMinChars  int    `mapstructure:"story_min_chars"`
}

func (c ConsentConfig) Validate() error {
	switch strings.ToLower(c.Preset) {
	case "", "strict", "soft":
		return nil
	}
	return fmt.Errorf("consent.preset must be strict or soft, got %q", c.Preset)
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	MetricsPort int  `mapstructure:"metrics_port"`
}

func (t TelemetryConfig) Validate() error {
	if t.Enabled && t.MetricsPort <= 0 {
		return fmt.Errorf("telemetry.metrics_port must be > 0 when telemetry is enabled")
	}
	return nil
}

// SchedulerConfig drives background consolidation sweeps.
type SchedulerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Cron    string `mapstructure:"cron"`
}

// LoadConfig loads config from file
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")

	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("general.default_timeout", "30s")
	viper.SetDefault("server.address", ":8090")
	viper.SetDefault("llm.type", "openai")
	viper.SetDefault("llm.base_url", "https://api.groq.com/openai/v1")
	viper.SetDefault("llm.model", "llama-3.3-70b-versatile")
	viper.SetDefault("llm.temperature", 0.25)
	viper.SetDefault("llm.timeout", "30s")
	viper.SetDefault("memory.stm.backend", "inmemory")
	viper.SetDefault("memory.stm.ttl", "10m")
	viper.SetDefault("memory.stm.state_limit", 10)
	viper.SetDefault("memory.stm.global_limit", 6)
	viper.SetDefault("memory.pack.prefs_budget", 450)
	viper.SetDefault("memory.pack.skills_budget", 450)
	viper.SetDefault("memory.pack.patterns_budget", 350)
	viper.SetDefault("memory.pack.goals_budget", 250)
	viper.SetDefault("memory.pack.mtm_budget", 900)
	viper.SetDefault("memory.consolidation.min_new_attempts", 5)
	viper.SetDefault("memory.consolidation.max_scan", 80)
	viper.SetDefault("memory.consolidation.min_sample", 4)
	viper.SetDefault("consent.preset", "strict")
	viper.SetDefault("consent.max_facts_per_day", 12)
	viper.SetDefault("consent.story_min_chars", 240)
	viper.SetDefault("scheduler.cron", "@daily")

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
		viper.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("MENTORA")
	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	if err := config.Storage.Postgres.Validate(); err != nil {
		panic(err)
	}
	if err := config.Memory.STM.Validate(); err != nil {
		panic(err)
	}
	if err := config.Consent.Validate(); err != nil {
		panic(err)
	}
	if err := config.Telemetry.Validate(); err != nil {
		panic(err)
	}
	return &config
}
