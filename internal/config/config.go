package config

import (
	"time"

	"outreach_engine/internal/model"
)

const fallbackBatchSize = 5

type ServerConfig struct {
	Addr string     `yaml:"addr"`
	Cors CorsConfig `yaml:"cors"`
}

type CorsConfig struct {
	AllowOrigins     []string `yaml:"allowOrigins"`
	AllowCredentials bool     `yaml:"allowCredentials"`
}

type StorageConfig struct {
	SQLitePath string `yaml:"sqlitePath"`
}

type GlobalConfig struct {
	ProcessingIntervalMs int  `yaml:"processingIntervalMs"`
	ErrorCooldownMs      int  `yaml:"errorCooldownMs"`
	MaxConcurrentTasks   int  `yaml:"maxConcurrentTasks"`
	MaxRetries           int  `yaml:"maxRetries"`
	ParallelCategories   bool `yaml:"parallelCategories"`
	Simulate             bool `yaml:"simulate"`
	MirrorBuffer         int  `yaml:"mirrorBuffer"`
}

func (c GlobalConfig) ProcessingInterval() time.Duration {
	if c.ProcessingIntervalMs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.ProcessingIntervalMs) * time.Millisecond
}

func (c GlobalConfig) ErrorCooldown() time.Duration {
	if c.ErrorCooldownMs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.ErrorCooldownMs) * time.Millisecond
}

type LimitConfig struct {
	ActionsPerHour int `yaml:"actionsPerHour"`
	ActionsPerDay  int `yaml:"actionsPerDay"`
}

type SafetyConfig struct {
	Global            LimitConfig `yaml:"global"`
	Identity          LimitConfig `yaml:"identity"`
	Site              LimitConfig `yaml:"site"`
	Engine            LimitConfig `yaml:"engine"`
	MinSiteGapSeconds int         `yaml:"minSiteGapSeconds"`
	Blacklist         []string    `yaml:"blacklist"`
	RedFlags          []string    `yaml:"redFlags"`
}

func (c SafetyConfig) MinSiteGap() time.Duration {
	if c.MinSiteGapSeconds < 0 {
		return 0
	}
	return time.Duration(c.MinSiteGapSeconds) * time.Second
}

type EngineConfig struct {
	Enabled         bool            `yaml:"enabled"`
	BatchSize       int             `yaml:"batchSize"`
	PerTargetCap    int             `yaml:"perTargetCap"`
	MinDelaySeconds int             `yaml:"minDelaySeconds"`
	MaxDelaySeconds int             `yaml:"maxDelaySeconds"`
	MaxRetries      int             `yaml:"maxRetries,omitempty"`
	Features        map[string]bool `yaml:"features,omitempty"`
}

// EngineSettings is an engine block merged with the global block.
type EngineSettings struct {
	Category model.Category
	EngineConfig
	Global GlobalConfig
}

func (s EngineSettings) Feature(name string) bool {
	return s.Features[name]
}

type RetryConfig struct {
	Count     int `yaml:"count"`
	WaitMs    int `yaml:"waitMs"`
	MaxWaitMs int `yaml:"maxWaitMs"`
}

func (c RetryConfig) Wait() time.Duration {
	if c.WaitMs <= 0 {
		return 200 * time.Millisecond
	}
	return time.Duration(c.WaitMs) * time.Millisecond
}

func (c RetryConfig) MaxWait() time.Duration {
	if c.MaxWaitMs <= 0 {
		return 1200 * time.Millisecond
	}
	return time.Duration(c.MaxWaitMs) * time.Millisecond
}

type PublisherConfig struct {
	BaseURL   string      `yaml:"baseURL"`
	TimeoutMs int         `yaml:"timeoutMs"`
	UserAgent string      `yaml:"userAgent"`
	QPS       float64     `yaml:"qps"`
	Burst     int         `yaml:"burst"`
	Retry     RetryConfig `yaml:"retry"`
}

func (c PublisherConfig) Timeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return 20 * time.Second
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

type GeneratorConfig struct {
	BaseURL   string      `yaml:"baseURL"`
	APIKey    string      `yaml:"apiKey,omitempty"`
	Model     string      `yaml:"model"`
	TimeoutMs int         `yaml:"timeoutMs"`
	QPS       float64     `yaml:"qps"`
	Burst     int         `yaml:"burst"`
	Retry     RetryConfig `yaml:"retry"`
}

func (c GeneratorConfig) Timeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

type NotifyConfig struct {
	SummaryWindowSeconds int `yaml:"summaryWindowSeconds"`
	MaxBatch             int `yaml:"maxBatch"`
}

func (c NotifyConfig) SummaryWindow() time.Duration {
	if c.SummaryWindowSeconds <= 0 {
		return 0
	}
	return time.Duration(c.SummaryWindowSeconds) * time.Second
}

// Config is the full typed shape of the configuration tree.
type Config struct {
	Server    ServerConfig                    `yaml:"server"`
	Storage   StorageConfig                   `yaml:"storage"`
	Global    GlobalConfig                    `yaml:"global"`
	Safety    SafetyConfig                    `yaml:"safety"`
	Engines   map[model.Category]EngineConfig `yaml:"engines"`
	Publisher PublisherConfig                 `yaml:"publisher"`
	Generator GeneratorConfig                 `yaml:"generator"`
	Notify    NotifyConfig                    `yaml:"notify"`
}

func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Addr: ":8090",
			Cors: CorsConfig{AllowOrigins: []string{"http://localhost:5173"}},
		},
		Storage: StorageConfig{SQLitePath: "./data/outreach_engine.db"},
		Global: GlobalConfig{
			ProcessingIntervalMs: 5000,
			ErrorCooldownMs:      5000,
			MaxConcurrentTasks:   1,
			MaxRetries:           model.DefaultMaxRetries,
			MirrorBuffer:         256,
		},
		Safety: SafetyConfig{
			Global:            LimitConfig{ActionsPerHour: 200, ActionsPerDay: 2000},
			Identity:          LimitConfig{ActionsPerHour: 50, ActionsPerDay: 500},
			Site:              LimitConfig{ActionsPerHour: 5, ActionsPerDay: 20},
			MinSiteGapSeconds: 30,
			Blacklist:         []string{},
			RedFlags: []string{
				"wp-login.php",
				"/login",
				"/signin",
				"captcha",
				"/404",
				"page-not-found",
				"access-denied",
				"viagra",
				"casino",
				"payday loan",
			},
		},
		Engines: map[model.Category]EngineConfig{
			model.CategoryBlogComment: {Enabled: true, BatchSize: 5, PerTargetCap: 3, MinDelaySeconds: 30, MaxDelaySeconds: 120,
				Features: map[string]bool{"spamCheck": true, "duplicateCheck": true}},
			model.CategoryArticlePost: {Enabled: true, BatchSize: 2, PerTargetCap: 1, MinDelaySeconds: 60, MaxDelaySeconds: 300,
				Features: map[string]bool{"spamCheck": true}},
			model.CategoryProfile: {Enabled: true, BatchSize: 3, PerTargetCap: 1, MinDelaySeconds: 30, MaxDelaySeconds: 90},
			model.CategorySocialMedia: {Enabled: true, BatchSize: 5, PerTargetCap: 5, MinDelaySeconds: 20, MaxDelaySeconds: 60,
				Features: map[string]bool{"duplicateCheck": true}},
			model.CategoryForum: {Enabled: true, BatchSize: 3, PerTargetCap: 2, MinDelaySeconds: 45, MaxDelaySeconds: 180,
				Features: map[string]bool{"spamCheck": true, "duplicateCheck": true}},
		},
		Publisher: PublisherConfig{
			BaseURL:   "http://127.0.0.1:8080/mock",
			TimeoutMs: 20000,
			QPS:       2,
			Burst:     4,
			Retry:     RetryConfig{Count: 1, WaitMs: 200, MaxWaitMs: 1200},
		},
		Generator: GeneratorConfig{
			BaseURL:   "http://127.0.0.1:8080/mock",
			Model:     "default",
			TimeoutMs: 30000,
			QPS:       1,
			Burst:     2,
			Retry:     RetryConfig{Count: 2, WaitMs: 500, MaxWaitMs: 3000},
		},
		Notify: NotifyConfig{SummaryWindowSeconds: 60, MaxBatch: 80},
	}
}
