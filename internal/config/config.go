package config

import (
	"log"
	"os"
	"strconv"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultTimezone    = "UTC"
	configPathEnv      = "PLEA_PIPELINE_CONFIG"
	logLevelEnv        = "LOG_LEVEL"
	logFormatEnv       = "LOG_FORMAT"
	databaseDSNEnv     = "DATABASE_DSN"
	openAIAPIKeyEnv    = "OPENAI_API_KEY"
	openAIModelEnv     = "OPENAI_MODEL"
	scriptureAPIKeyEnv = "ESV_API_KEY"
	pushTokenEnv       = "EXPO_ACCESS_TOKEN"
	opsAddrEnv         = "OPS_ADDR"
	opsTokenEnv        = "OPS_TOKEN"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging    LoggingConfig    `yaml:"logging"`
	Database   DatabaseConfig   `yaml:"database"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	OpenAI     OpenAIConfig     `yaml:"openai"`
	Moderation ModerationConfig `yaml:"moderation"`
	Scripture  ScriptureConfig  `yaml:"scripture"`
	Push       PushConfig       `yaml:"push"`
	Daily      DailyConfig      `yaml:"daily"`
	Events     EventsConfig     `yaml:"events"`
	Ops        OpsConfig        `yaml:"ops"`
}

// LoggingConfig selects the slog level (error, warn, info, debug) and the
// output format (text or json).
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DatabaseConfig describes Postgres connection details. An empty DSN runs
// the pipeline on the in-memory store.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
	// NotifyChannel is the LISTEN channel fed by the schema triggers.
	NotifyChannel string `yaml:"notifyChannel"`
}

// SchedulerConfig defines when daily content is generated.
type SchedulerConfig struct {
	CronExpression string         `yaml:"cronExpression"`
	Timezone       string         `yaml:"timezone"`
	DaysAhead      int            `yaml:"daysAhead"`
	location       *time.Location `yaml:"-"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	loc, _ := time.LoadLocation(defaultTimezone)
	return loc
}

// OpenAIConfig defines how to contact the moderation and chat APIs.
type OpenAIConfig struct {
	BaseURL           string        `yaml:"baseUrl"`
	APIKey            string        `yaml:"apiKey"`
	ChatModel         string        `yaml:"chatModel"`
	FilterModel       string        `yaml:"filterModel"`
	ModerationModel   string        `yaml:"moderationModel"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond"`
	MaxRetries        int           `yaml:"maxRetries"`
	Timeout           time.Duration `yaml:"timeout"`
}

// ModerationConfig bounds each moderation stage.
type ModerationConfig struct {
	ClassifierTimeout time.Duration `yaml:"classifierTimeout"`
	FilterTimeout     time.Duration `yaml:"filterTimeout"`
}

// ScriptureConfig describes the chapter-text service.
type ScriptureConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"apiKey"`
	Version  string `yaml:"version"`
	// ReaderURL is the deep-link template used in placeholder chapters.
	ReaderURL string `yaml:"readerUrl"`
	// Source picks the one chapter source used per generation: esv or html.
	Source string `yaml:"source"`
	// HTMLURL is the reader page template scraped by the html source.
	HTMLURL      string        `yaml:"htmlUrl"`
	HTMLSelector string        `yaml:"htmlSelector"`
	Timeout      time.Duration `yaml:"timeout"`
}

// PushConfig describes the push-delivery service.
type PushConfig struct {
	Endpoint    string        `yaml:"endpoint"`
	AccessToken string        `yaml:"accessToken"`
	ChunkSize   int           `yaml:"chunkSize"`
	Timeout     time.Duration `yaml:"timeout"`
}

// DailyConfig tunes devotional generation.
type DailyConfig struct {
	HistorySize       int           `yaml:"historySize"`
	CompletionTimeout time.Duration `yaml:"completionTimeout"`
}

// EventsConfig sizes the event bus.
type EventsConfig struct {
	Workers     int `yaml:"workers"`
	QueueSize   int `yaml:"queueSize"`
	MaxAttempts int `yaml:"maxAttempts"`
}

// OpsConfig exposes health, metrics and the admin routes. Admin routes
// require Token as a bearer token and stay closed while it is empty.
type OpsConfig struct {
	Addr  string `yaml:"addr"`
	Token string `yaml:"token"`
}

// Load reads .env, YAML configuration (if present) and applies environment overrides.
func Load() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("config: cannot read .env: %v", err)
	}

	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			parsed, err := Parse(raw)
			if err != nil {
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			} else {
				cfg = parsed
			}
		}
	}

	cfg.applyEnvOverrides()
	cfg.bindTimezone()

	return cfg
}

// Parse decodes YAML and merges it over the defaults.
func Parse(raw []byte) (Config, error) {
	var fileCfg Config
	if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
		return Config{}, err
	}
	cfg := mergeConfig(defaultConfig(), fileCfg)
	cfg.bindTimezone()
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}

	if v := os.Getenv(logFormatEnv); v != "" {
		c.Logging.Format = v
	}

	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Database.DSN = v
	}

	if v := os.Getenv(openAIAPIKeyEnv); v != "" {
		c.OpenAI.APIKey = v
	}

	if v := os.Getenv(openAIModelEnv); v != "" {
		c.OpenAI.ChatModel = v
	}

	if v := os.Getenv(scriptureAPIKeyEnv); v != "" {
		c.Scripture.APIKey = v
	}

	if v := os.Getenv(pushTokenEnv); v != "" {
		c.Push.AccessToken = v
	}

	if v := os.Getenv(opsAddrEnv); v != "" {
		c.Ops.Addr = v
	}

	if v := os.Getenv(opsTokenEnv); v != "" {
		c.Ops.Token = v
	}

	if v := os.Getenv("EVENT_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Events.Workers = n
		}
	}
}

func (c *Config) bindTimezone() {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Printf("config: unknown timezone %s, reverting to %s", tz, defaultTimezone)
		loc, _ = time.LoadLocation(defaultTimezone)
	}
	c.Scheduler.location = loc
}

func mergeConfig(base, override Config) Config {
	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}
	if override.Logging.Format != "" {
		base.Logging.Format = override.Logging.Format
	}

	if override.Database.DSN != "" {
		base.Database.DSN = override.Database.DSN
	}
	if override.Database.NotifyChannel != "" {
		base.Database.NotifyChannel = override.Database.NotifyChannel
	}

	if override.Scheduler.CronExpression != "" {
		base.Scheduler.CronExpression = override.Scheduler.CronExpression
	}
	if override.Scheduler.Timezone != "" {
		base.Scheduler.Timezone = override.Scheduler.Timezone
	}
	if override.Scheduler.DaysAhead > 0 {
		base.Scheduler.DaysAhead = override.Scheduler.DaysAhead
	}

	if override.OpenAI.BaseURL != "" {
		base.OpenAI.BaseURL = override.OpenAI.BaseURL
	}
	if override.OpenAI.APIKey != "" {
		base.OpenAI.APIKey = override.OpenAI.APIKey
	}
	if override.OpenAI.ChatModel != "" {
		base.OpenAI.ChatModel = override.OpenAI.ChatModel
	}
	if override.OpenAI.FilterModel != "" {
		base.OpenAI.FilterModel = override.OpenAI.FilterModel
	}
	if override.OpenAI.ModerationModel != "" {
		base.OpenAI.ModerationModel = override.OpenAI.ModerationModel
	}
	if override.OpenAI.RequestsPerSecond > 0 {
		base.OpenAI.RequestsPerSecond = override.OpenAI.RequestsPerSecond
	}
	if override.OpenAI.MaxRetries > 0 {
		base.OpenAI.MaxRetries = override.OpenAI.MaxRetries
	}
	if override.OpenAI.Timeout > 0 {
		base.OpenAI.Timeout = override.OpenAI.Timeout
	}

	if override.Moderation.ClassifierTimeout > 0 {
		base.Moderation.ClassifierTimeout = override.Moderation.ClassifierTimeout
	}
	if override.Moderation.FilterTimeout > 0 {
		base.Moderation.FilterTimeout = override.Moderation.FilterTimeout
	}

	if override.Scripture.Endpoint != "" {
		base.Scripture.Endpoint = override.Scripture.Endpoint
	}
	if override.Scripture.APIKey != "" {
		base.Scripture.APIKey = override.Scripture.APIKey
	}
	if override.Scripture.Version != "" {
		base.Scripture.Version = override.Scripture.Version
	}
	if override.Scripture.ReaderURL != "" {
		base.Scripture.ReaderURL = override.Scripture.ReaderURL
	}
	if override.Scripture.Source != "" {
		base.Scripture.Source = override.Scripture.Source
	}
	if override.Scripture.HTMLURL != "" {
		base.Scripture.HTMLURL = override.Scripture.HTMLURL
	}
	if override.Scripture.HTMLSelector != "" {
		base.Scripture.HTMLSelector = override.Scripture.HTMLSelector
	}
	if override.Scripture.Timeout > 0 {
		base.Scripture.Timeout = override.Scripture.Timeout
	}

	if override.Push.Endpoint != "" {
		base.Push.Endpoint = override.Push.Endpoint
	}
	if override.Push.AccessToken != "" {
		base.Push.AccessToken = override.Push.AccessToken
	}
	if override.Push.ChunkSize > 0 {
		base.Push.ChunkSize = override.Push.ChunkSize
	}
	if override.Push.Timeout > 0 {
		base.Push.Timeout = override.Push.Timeout
	}

	if override.Daily.HistorySize > 0 {
		base.Daily.HistorySize = override.Daily.HistorySize
	}
	if override.Daily.CompletionTimeout > 0 {
		base.Daily.CompletionTimeout = override.Daily.CompletionTimeout
	}

	if override.Events.Workers > 0 {
		base.Events.Workers = override.Events.Workers
	}
	if override.Events.QueueSize > 0 {
		base.Events.QueueSize = override.Events.QueueSize
	}
	if override.Events.MaxAttempts > 0 {
		base.Events.MaxAttempts = override.Events.MaxAttempts
	}

	if override.Ops.Addr != "" {
		base.Ops.Addr = override.Ops.Addr
	}
	if override.Ops.Token != "" {
		base.Ops.Token = override.Ops.Token
	}

	return base
}

func defaultConfig() Config {
	tz, _ := time.LoadLocation(defaultTimezone)
	return Config{
		Logging:  LoggingConfig{Level: "info", Format: "text"},
		Database: DatabaseConfig{DSN: "", NotifyChannel: "plea_pipeline_events"},
		Scheduler: SchedulerConfig{
			CronExpression: "0 5 * * *",
			Timezone:       defaultTimezone,
			DaysAhead:      2,
			location:       tz,
		},
		OpenAI: OpenAIConfig{
			BaseURL:           "https://api.openai.com/v1",
			ChatModel:         "gpt-4o-mini",
			FilterModel:       "gpt-4o-mini",
			ModerationModel:   "omni-moderation-latest",
			RequestsPerSecond: 5,
			MaxRetries:        2,
			Timeout:           30 * time.Second,
		},
		Moderation: ModerationConfig{
			ClassifierTimeout: 10 * time.Second,
			FilterTimeout:     20 * time.Second,
		},
		Scripture: ScriptureConfig{
			Source:       "esv",
			Endpoint:     "https://api.esv.org/v3/passage/text/",
			Version:      "ESV",
			ReaderURL:    "https://www.esv.org/{query}/",
			HTMLSelector: ".passage-text p",
			Timeout:      15 * time.Second,
		},
		Push: PushConfig{
			Endpoint:  "https://exp.host/--/api/v2/push/send",
			ChunkSize: 100,
			Timeout:   15 * time.Second,
		},
		Daily: DailyConfig{
			HistorySize:       7,
			CompletionTimeout: 60 * time.Second,
		},
		Events: EventsConfig{
			Workers:     8,
			QueueSize:   1024,
			MaxAttempts: 5,
		},
		Ops: OpsConfig{Addr: "127.0.0.1:9090"},
	}
}
