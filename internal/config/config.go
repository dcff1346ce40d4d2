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
	Vision     VisionConfig     `yaml:"vision"`
	Capture    CaptureConfig    `yaml:"capture"`
	Events     EventsConfig     `yaml:"events"`
	Manager    ManagerConfig    `yaml:"manager"`
	Encryption EncryptionConfig `yaml:"encryption"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
	// APIKey protects the /v1 endpoints; empty disables authentication.
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
	// FrameBuffer is the per-camera publish buffer depth; when full the
	// oldest frame is dropped so a slow transport never stalls a worker.
	FrameBuffer int `yaml:"frame_buffer"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type VisionConfig struct {
	WeightsPath   string  `yaml:"weights_path"`
	InputSize     int     `yaml:"input_size"`
	DefaultConf   float64 `yaml:"default_confidence"`
	DefaultFPS    float64 `yaml:"default_fps"`     // output rate fallback when the source rate is unknown
	MaxInferWidth int     `yaml:"max_infer_width"` // clamp for per-camera inference resolution
	JPEGQuality   int     `yaml:"jpeg_quality"`
}

type CaptureConfig struct {
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	MaxRetries  int           `yaml:"max_retries"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

type EventsConfig struct {
	Cooldown         time.Duration `yaml:"cooldown"`
	GridCell         int           `yaml:"grid_cell"`
	SaveRetries      int           `yaml:"save_retries"`
	SaveRetryDelay   time.Duration `yaml:"save_retry_delay"`
	ThumbnailQuality int           `yaml:"thumbnail_quality"`
	ThumbnailPad     int           `yaml:"thumbnail_pad"`
}

type ManagerConfig struct {
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	RestartDelay    time.Duration `yaml:"restart_delay"`
	StopGrace       time.Duration `yaml:"stop_grace"`
}

type EncryptionConfig struct {
	// Key is the hex-encoded AES-256 key used to decrypt camera credentials.
	Key string `yaml:"key"`
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
		cfg.Server.Port = 8082
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.NATS.FrameBuffer == 0 {
		cfg.NATS.FrameBuffer = 8
	}
	if cfg.Vision.InputSize == 0 {
		cfg.Vision.InputSize = 640
	}
	if cfg.Vision.DefaultConf == 0 {
		cfg.Vision.DefaultConf = 0.25
	}
	if cfg.Vision.DefaultFPS == 0 {
		cfg.Vision.DefaultFPS = 15
	}
	if cfg.Vision.MaxInferWidth == 0 {
		cfg.Vision.MaxInferWidth = 640
	}
	if cfg.Vision.JPEGQuality == 0 {
		cfg.Vision.JPEGQuality = 80
	}
	if cfg.Capture.BaseDelay == 0 {
		cfg.Capture.BaseDelay = 1 * time.Second
	}
	if cfg.Capture.MaxDelay == 0 {
		cfg.Capture.MaxDelay = 30 * time.Second
	}
	if cfg.Capture.MaxRetries == 0 {
		cfg.Capture.MaxRetries = 5
	}
	if cfg.Capture.ReadTimeout == 0 {
		cfg.Capture.ReadTimeout = 10 * time.Second
	}
	if cfg.Events.Cooldown == 0 {
		cfg.Events.Cooldown = 10 * time.Second
	}
	if cfg.Events.GridCell == 0 {
		cfg.Events.GridCell = 50
	}
	if cfg.Events.SaveRetries == 0 {
		cfg.Events.SaveRetries = 3
	}
	if cfg.Events.SaveRetryDelay == 0 {
		cfg.Events.SaveRetryDelay = 1 * time.Second
	}
	if cfg.Events.ThumbnailQuality == 0 {
		cfg.Events.ThumbnailQuality = 85
	}
	if cfg.Events.ThumbnailPad == 0 {
		cfg.Events.ThumbnailPad = 20
	}
	if cfg.Manager.RefreshInterval == 0 {
		cfg.Manager.RefreshInterval = 60 * time.Second
	}
	if cfg.Manager.RestartDelay == 0 {
		cfg.Manager.RestartDelay = 5 * time.Second
	}
	if cfg.Manager.StopGrace == 0 {
		cfg.Manager.StopGrace = 5 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SW_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SW_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("SW_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("SW_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("SW_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("SW_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("SW_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("SW_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("SW_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("SW_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("SW_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("SW_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("SW_WEIGHTS_PATH"); v != "" {
		cfg.Vision.WeightsPath = v
	}
	if v := os.Getenv("SW_ENCRYPTION_KEY"); v != "" {
		cfg.Encryption.Key = v
	}
	if v := os.Getenv("SW_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SW_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
