// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig               `mapstructure:"app"`
	Camunda       CamundaConfig           `mapstructure:"camunda"`
	Database      DatabaseConfig          `mapstructure:"database"`
	Storage       StorageConfig           `mapstructure:"storage"`
	Templates     TemplatesConfig         `mapstructure:"templates"`
	Export        ExportConfig            `mapstructure:"export"`
	Upload        UploadConfig            `mapstructure:"upload"`
	Notifications NotificationConfig      `mapstructure:"notifications"`
	Audit         AuditConfig             `mapstructure:"audit"`
	Workers       map[string]WorkerConfig `mapstructure:"workers"`
	Logging       LoggingConfig           `mapstructure:"logging"`
	Metrics       MetricsConfig           `mapstructure:"metrics"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type CamundaConfig struct {
	BrokerAddress  string `mapstructure:"broker_address"`
	MaxJobsActive  int    `mapstructure:"max_jobs_active"`
	Timeout        int    `mapstructure:"timeout"`         // milliseconds
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	URL       string   `mapstructure:"url"` // Single URL for backwards compatibility
}

// GetURL returns the first address or the URL field
func (e ElasticsearchConfig) GetURL() string {
	if e.URL != "" {
		return e.URL
	}
	if len(e.Addresses) > 0 {
		return e.Addresses[0]
	}
	return ""
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// WorkerConfig holds the core settings applicable to every worker.
type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"`     // milliseconds
	MaxRetries    int  `mapstructure:"max_retries"` // For error handling
}

// --- Export Pipeline Configuration ---

// StorageConfig points at the file service holding photos and artifacts.
type StorageConfig struct {
	UploadURL string `mapstructure:"upload_url"`
	FilesURL  string `mapstructure:"files_url"`
	Timeout   int    `mapstructure:"timeout"` // milliseconds
	MaxBytes  int64  `mapstructure:"max_bytes"`
}

// TemplatesConfig lists where template containers come from, in order.
type TemplatesConfig struct {
	RegistryPath string `mapstructure:"registry_path"`
	BaseURL      string `mapstructure:"base_url"`
	Dir          string `mapstructure:"dir"`
	CacheTTL     int    `mapstructure:"cache_ttl"` // seconds
	Timeout      int    `mapstructure:"timeout"`   // milliseconds
}

type ExportConfig struct {
	Component     string `mapstructure:"component"`
	PartPattern   string `mapstructure:"part_pattern"`
	ImagesEnabled bool   `mapstructure:"images_enabled"`
	ImageRate     int    `mapstructure:"image_rate"` // fetches per second
	ImageBurst    int    `mapstructure:"image_burst"`
	ImageTimeout  int    `mapstructure:"image_timeout"` // milliseconds
	ImageMaxSize  int64  `mapstructure:"image_max_bytes"`
}

type UploadConfig struct {
	StagingDir     string `mapstructure:"staging_dir"`
	LedgerPrefix   string `mapstructure:"ledger_prefix"`
	LedgerTTL      int    `mapstructure:"ledger_ttl"` // seconds
	GenerationsTTL int    `mapstructure:"generations_ttl"`
}

// NotificationConfig holds settings for export outcome notifications.
type NotificationConfig struct {
	Email struct {
		Enabled   bool   `mapstructure:"enabled"`
		FromEmail string `mapstructure:"from_email"`
	} `mapstructure:"email"`
	Topic struct {
		Enabled bool   `mapstructure:"enabled"`
		ARN     string `mapstructure:"arn"`
	} `mapstructure:"topic"`
	AWS struct {
		Region string `mapstructure:"region"`
	} `mapstructure:"aws"`
}

type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Index   string `mapstructure:"index"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

type MetricsConfig struct {
	Address string `mapstructure:"address"`
}
