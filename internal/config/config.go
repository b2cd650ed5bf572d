// Package config holds the runtime configuration. It is built once at
// startup and passed into each component constructor.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// SupportedExtensions lists the audio containers the pipeline accepts.
var SupportedExtensions = []string{".mp3", ".wav", ".m4a", ".flac", ".ogg"}

type Config struct {
	Environment string `envconfig:"ENVIRONMENT"`

	TranscribeProvider string `envconfig:"TRANSCRIBE_PROVIDER" default:"deepgram" validate:"oneof=deepgram assemblyai"`
	DeepgramAPIKey     string `envconfig:"DEEPGRAM_API_KEY"`
	DeepgramURL        string `envconfig:"DEEPGRAM_URL" default:"https://api.deepgram.com/v1/listen" validate:"url"`
	AssemblyAIAPIKey   string `envconfig:"ASSEMBLYAI_API_KEY"`

	OpenAIAPIKey     string `envconfig:"OPENAI_API_KEY"`
	OpenAIModel      string `envconfig:"OPENAI_MODEL" default:"gpt-3.5-turbo" validate:"required"`
	DispositionModel string `envconfig:"DISPOSITION_MODEL" default:"gpt-3.5-turbo" validate:"required"`
	LLMGatewayURL    string `envconfig:"LLM_GATEWAY_URL" default:"https://api.openai.com/v1/chat/completions" validate:"url"`
	ClassifyMaxChars int    `envconfig:"CLASSIFY_MAX_CHARS" default:"15000" validate:"min=1000"`
	TaxonomyFile     string `envconfig:"TAXONOMY_FILE"`

	AudioFolder     string `envconfig:"AUDIO_FOLDER" default:"data/audio" validate:"required"`
	ProcessedFolder string `envconfig:"PROCESSED_FOLDER" default:"data/processed" validate:"required"`
	StoreBackend    string `envconfig:"STORE_BACKEND" default:"csv" validate:"oneof=csv sqlite"`
	CSVFile         string `envconfig:"CSV_FILE" default:"data/transcriptions.csv" validate:"required"`
	SQLitePath      string `envconfig:"SQLITE_PATH" default:"data/transcriptions.db"`

	MaxFileSizeMB int `envconfig:"MAX_FILE_SIZE_MB" default:"100" validate:"min=1"`
	APITimeout    int `envconfig:"API_TIMEOUT" default:"60" validate:"min=1"`
	MaxRetries    int `envconfig:"MAX_RETRIES" default:"3" validate:"min=1,max=10"`
	RetryDelay    int `envconfig:"RETRY_DELAY" default:"5" validate:"min=0"`

	EnableS3Sync       bool   `envconfig:"ENABLE_S3_SYNC" default:"true"`
	LookbackDays       int    `envconfig:"PROCESSING_DAYS_LOOKBACK" default:"7" validate:"min=1"`
	S3SyncInterval     int    `envconfig:"S3_SYNC_INTERVAL" default:"300" validate:"min=1"`
	S3ListLimit        int    `envconfig:"S3_LIST_LIMIT" default:"1000" validate:"min=1"`
	AWSAccessKeyID     string `envconfig:"AWS_ACCESS_KEY_ID"`
	AWSSecretAccessKey string `envconfig:"AWS_SECRET_ACCESS_KEY"`
	AWSBucketName      string `envconfig:"AWS_BUCKET_NAME" default:"combined-client-data"`
	AWSPrefix          string `envconfig:"AWS_PREFIX" default:"c_30214/XC_Recordings/"`
	AWSRegion          string `envconfig:"AWS_REGION" default:"us-east-1"`
	S3Endpoint         string `envconfig:"S3_ENDPOINT" default:"s3.amazonaws.com"`
	S3UseSSL           bool   `envconfig:"S3_USE_SSL" default:"true"`

	StableSeconds  int `envconfig:"STABLE_SECONDS" default:"2" validate:"min=1"`
	StableTimeout  int `envconfig:"STABLE_TIMEOUT" default:"30" validate:"min=1"`
	StartupStagger int `envconfig:"STARTUP_STAGGER" default:"2" validate:"min=0"`
	WorkerCount    int `envconfig:"WORKER_COUNT" default:"4" validate:"min=1"`
	QueueSize      int `envconfig:"QUEUE_SIZE" default:"128" validate:"min=1"`

	Port            string `envconfig:"PORT" default:"8080"`
	ShutdownTimeout int    `envconfig:"SHUTDOWN_TIMEOUT" default:"10" validate:"min=1"`
}

// Load reads optional .env files and decodes the environment. It does not
// validate; call Validate once the caller knows which components it runs.
func Load(envFiles ...string) (Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("decode environment: %w", err)
	}
	return cfg, nil
}

// Validate checks value ranges and enumerations.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// RequireProviders reports missing credentials for the external services
// the caller intends to use.
func (c Config) RequireProviders(transcription, classification bool) error {
	var missing []string
	if transcription {
		switch c.TranscribeProvider {
		case "assemblyai":
			if c.AssemblyAIAPIKey == "" {
				missing = append(missing, "ASSEMBLYAI_API_KEY is required")
			}
		default:
			if c.DeepgramAPIKey == "" {
				missing = append(missing, "DEEPGRAM_API_KEY is required")
			}
		}
	}
	if classification && c.OpenAIAPIKey == "" {
		missing = append(missing, "OPENAI_API_KEY is required")
	}
	if len(missing) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(missing, "; "))
	}
	return nil
}

// SyncConfigured reports whether cloud sync is enabled and has credentials.
func (c Config) SyncConfigured() bool {
	return c.EnableS3Sync && c.AWSAccessKeyID != "" && c.AWSSecretAccessKey != "" && c.AWSBucketName != ""
}

func (c Config) APITimeoutDuration() time.Duration { return time.Duration(c.APITimeout) * time.Second }
func (c Config) RetryDelayDuration() time.Duration { return time.Duration(c.RetryDelay) * time.Second }
func (c Config) SyncInterval() time.Duration       { return time.Duration(c.S3SyncInterval) * time.Second }
func (c Config) Lookback() time.Duration           { return time.Duration(c.LookbackDays) * 24 * time.Hour }
func (c Config) StableTimeoutDuration() time.Duration {
	return time.Duration(c.StableTimeout) * time.Second
}
func (c Config) StartupStaggerDuration() time.Duration {
	return time.Duration(c.StartupStagger) * time.Second
}
func (c Config) ShutdownTimeoutDuration() time.Duration {
	return time.Duration(c.ShutdownTimeout) * time.Second
}
func (c Config) MaxFileSizeBytes() int64 { return int64(c.MaxFileSizeMB) * 1024 * 1024 }

// IsSupportedAudio reports whether name has one of SupportedExtensions.
func IsSupportedAudio(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range SupportedExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// EnsureDirectories creates the inbound, processed and store directories.
func (c Config) EnsureDirectories() error {
	dirs := []string{c.AudioFolder, c.ProcessedFolder, filepath.Dir(c.CSVFile)}
	if c.StoreBackend == "sqlite" {
		dirs = append(dirs, filepath.Dir(c.SQLitePath))
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", d, err)
		}
	}
	return nil
}
