package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	NATS       NATSConfig       `yaml:"nats"`
	MinIO      MinIOConfig      `yaml:"minio"`
	Provider   ProviderConfig   `yaml:"provider"`
	Detection  DetectionConfig  `yaml:"detection"`
	Clustering ClusteringConfig `yaml:"clustering"`
	Scan       ScanConfig       `yaml:"scan"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// ProviderConfig describes the external photo-library provider and the
// OAuth endpoint used for credential renewal.
type ProviderConfig struct {
	BaseURL        string        `yaml:"base_url"`
	TokenURL       string        `yaml:"token_url"`
	ClientID       string        `yaml:"client_id"`
	ClientSecret   string        `yaml:"client_secret"`
	AlbumPageSize  int           `yaml:"album_page_size"`
	MediaPageSize  int           `yaml:"media_page_size"`
	CallTimeout    time.Duration `yaml:"call_timeout"`
	RetryAttempts  int           `yaml:"retry_attempts"`
	RetryBackoff   time.Duration `yaml:"retry_backoff"`
	DownloadSuffix string        `yaml:"download_suffix"`
}

type DetectionConfig struct {
	ModelsDir          string  `yaml:"models_dir"`
	DetectionThreshold float64 `yaml:"detection_threshold"`
	// Tier cut-offs map raw detector confidence onto high/medium/low.
	HighCutoff   float64 `yaml:"high_cutoff"`
	MediumCutoff float64 `yaml:"medium_cutoff"`
}

// ClusteringConfig tunes identity assignment. Metric and threshold are
// provider- and model-specific, so both are overridable.
type ClusteringConfig struct {
	Metric    string  `yaml:"metric"`    // cosine or euclidean
	Threshold float64 `yaml:"threshold"` // cosine: min similarity; euclidean: max distance
}

type ScanConfig struct {
	WorkerCount  int           `yaml:"worker_count"`
	ItemTimeout  time.Duration `yaml:"item_timeout"`
	StaleMaxAge  time.Duration `yaml:"stale_max_age"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = "https://photoslibrary.googleapis.com/v1"
	}
	if cfg.Provider.TokenURL == "" {
		cfg.Provider.TokenURL = "https://oauth2.googleapis.com/token"
	}
	if cfg.Provider.AlbumPageSize == 0 {
		cfg.Provider.AlbumPageSize = 50
	}
	if cfg.Provider.MediaPageSize == 0 {
		cfg.Provider.MediaPageSize = 100
	}
	if cfg.Provider.CallTimeout == 0 {
		cfg.Provider.CallTimeout = 30 * time.Second
	}
	if cfg.Provider.RetryAttempts == 0 {
		cfg.Provider.RetryAttempts = 3
	}
	if cfg.Provider.RetryBackoff == 0 {
		cfg.Provider.RetryBackoff = 500 * time.Millisecond
	}
	if cfg.Provider.DownloadSuffix == "" {
		cfg.Provider.DownloadSuffix = "=w800-h800"
	}
	if cfg.Detection.DetectionThreshold == 0 {
		cfg.Detection.DetectionThreshold = 0.5
	}
	if cfg.Detection.HighCutoff == 0 {
		cfg.Detection.HighCutoff = 0.85
	}
	if cfg.Detection.MediumCutoff == 0 {
		cfg.Detection.MediumCutoff = 0.65
	}
	if cfg.Clustering.Metric == "" {
		cfg.Clustering.Metric = "cosine"
	}
	if cfg.Clustering.Threshold == 0 {
		cfg.Clustering.Threshold = 0.60
	}
	if cfg.Scan.WorkerCount == 0 {
		cfg.Scan.WorkerCount = 4
	}
	if cfg.Scan.ItemTimeout == 0 {
		cfg.Scan.ItemTimeout = 60 * time.Second
	}
	if cfg.Scan.StaleMaxAge == 0 {
		cfg.Scan.StaleMaxAge = 2 * time.Hour
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FACESORT_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("FACESORT_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("FACESORT_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("FACESORT_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("FACESORT_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("FACESORT_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("FACESORT_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("FACESORT_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("FACESORT_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("FACESORT_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("FACESORT_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("FACESORT_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("FACESORT_PROVIDER_BASE_URL"); v != "" {
		cfg.Provider.BaseURL = v
	}
	if v := os.Getenv("FACESORT_PROVIDER_TOKEN_URL"); v != "" {
		cfg.Provider.TokenURL = v
	}
	if v := os.Getenv("FACESORT_PROVIDER_CLIENT_ID"); v != "" {
		cfg.Provider.ClientID = v
	}
	if v := os.Getenv("FACESORT_PROVIDER_CLIENT_SECRET"); v != "" {
		cfg.Provider.ClientSecret = v
	}
	if v := os.Getenv("FACESORT_MODELS_DIR"); v != "" {
		cfg.Detection.ModelsDir = v
	}
	if v := os.Getenv("FACESORT_CLUSTER_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Clustering.Threshold = f
		}
	}
	if v := os.Getenv("FACESORT_CLUSTER_METRIC"); v != "" {
		cfg.Clustering.Metric = v
	}
	if v := os.Getenv("FACESORT_SCAN_WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scan.WorkerCount = n
		}
	}
}
