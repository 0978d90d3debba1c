package common

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Database   DatabaseConfig
	Server     ServerConfig
	Storage    StorageConfig
	OCR        OCRConfig
	LLM        LLMConfig
	Conversion ConversionConfig
	Log        LogConfig
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Driver           string // "postgres" | "sqlite"
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	HTTPAddr       string
	GRPCHealthAddr string // empty disables the gRPC health server
	AdminToken     string
	RequestTimeout time.Duration
	MaxUploadMB    int
}

// StorageConfig holds artifact and markdown locations
type StorageConfig struct {
	UploadDir   string
	MarkdownDir string
}

// OCRConfig holds rasterizer configuration
type OCRConfig struct {
	PDFEngine string // "fitz" | "pdftoppm"
	Pdftoppm  string
	Scale     float64
	MaxPages  int
}

// LLMConfig holds transcription model configuration
type LLMConfig struct {
	Provider    string // "openai" | "ollama"
	Model       string
	APIKey      string
	BaseURL     string
	OllamaHost  string
	Temperature float32
	Timeout     time.Duration
	MaxRetries  int
}

// ConversionConfig holds worker and timeout configuration
type ConversionConfig struct {
	Workers         int
	QueueSize       int
	PageConcurrency int
	PageTimeout     time.Duration
	Timeout         time.Duration
}

// LogConfig selects the slog handler
type LogConfig struct {
	Format string // "text" | "json"
	Level  string
}

// LoadConfig loads configuration from a .env file (if present) and environment variables.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, NewAppError("CONFIG_ERROR", "failed to read .env", err)
	}

	return &Config{
		Database: DatabaseConfig{
			Driver:           getEnv("DB_DRIVER", "postgres"),
			DSN:              getEnv("DB_URL", ""),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 5),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
		},
		Server: ServerConfig{
			HTTPAddr:       getEnv("HTTP_ADDR", ":8080"),
			GRPCHealthAddr: getEnv("GRPC_HEALTH_ADDR", ""),
			AdminToken:     getEnv("ADMIN_TOKEN", ""),
			RequestTimeout: getEnvAsDuration("HTTP_REQUEST_TIMEOUT", 60*time.Second),
			MaxUploadMB:    getEnvAsInt("MAX_UPLOAD_MB", 25),
		},
		Storage: StorageConfig{
			UploadDir:   getEnv("UPLOAD_DIR", "uploads/notes"),
			MarkdownDir: getEnv("MARKDOWN_DIR", "uploads/markdown"),
		},
		OCR: OCRConfig{
			PDFEngine: getEnv("OCR_PDF_ENGINE", "fitz"),
			Pdftoppm:  getEnv("OCR_PDFTOPPM", "pdftoppm"),
			Scale:     getEnvAsFloat64("OCR_SCALE", 2.0),
			MaxPages:  getEnvAsInt("OCR_MAX_PAGES", 0),
		},
		LLM: LLMConfig{
			Provider:    strings.ToLower(getEnv("LLM_PROVIDER", "openai")),
			Model:       getEnv("LLM_MODEL", "gpt-4o-mini"),
			APIKey:      getEnv("LLM_API_KEY", os.Getenv("OPENAI_API_KEY")),
			BaseURL:     getEnv("LLM_BASE_URL", "https://api.openai.com/v1"),
			OllamaHost:  getEnv("OLLAMA_HOST", "http://127.0.0.1:11434"),
			Temperature: getEnvAsFloat32("LLM_TEMPERATURE", 0.0),
			Timeout:     getEnvAsDuration("LLM_TIMEOUT", 90*time.Second),
			MaxRetries:  getEnvAsInt("LLM_MAX_RETRIES", 3),
		},
		Conversion: ConversionConfig{
			Workers:         getEnvAsInt("CONVERT_WORKERS", 2),
			QueueSize:       getEnvAsInt("CONVERT_QUEUE_SIZE", 256),
			PageConcurrency: getEnvAsInt("CONVERT_PAGE_CONCURRENCY", 1),
			PageTimeout:     getEnvAsDuration("CONVERT_PAGE_TIMEOUT", 2*time.Minute),
			Timeout:         getEnvAsDuration("CONVERT_TIMEOUT", 15*time.Minute),
		},
		Log: LogConfig{
			Format: getEnv("LOG_FORMAT", "text"),
			Level:  getEnv("LOG_LEVEL", "info"),
		},
	}, nil
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate validates the loaded configuration. A missing model credential is
// not an error here: conversions fail with ModelUnavailable instead.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return NewAppError("CONFIG_ERROR", "DB_DRIVER must be postgres or sqlite", ErrInvalidInput)
	}
	if c.Database.DSN == "" {
		return NewAppError("CONFIG_ERROR", "DB_URL is required", ErrInvalidInput)
	}
	if c.Server.HTTPAddr == "" {
		return NewAppError("CONFIG_ERROR", "HTTP_ADDR is required", ErrInvalidInput)
	}
	if c.Storage.UploadDir == "" || c.Storage.MarkdownDir == "" {
		return NewAppError("CONFIG_ERROR", "UPLOAD_DIR and MARKDOWN_DIR are required", ErrInvalidInput)
	}
	switch c.OCR.PDFEngine {
	case "fitz", "pdftoppm":
	default:
		return NewAppError("CONFIG_ERROR", "OCR_PDF_ENGINE must be fitz or pdftoppm", ErrInvalidInput)
	}
	switch c.LLM.Provider {
	case "openai", "ollama":
	default:
		return NewAppError("CONFIG_ERROR", "LLM_PROVIDER must be openai or ollama", ErrInvalidInput)
	}
	if c.Conversion.PageTimeout <= 0 || c.Conversion.Timeout <= 0 {
		return NewAppError("CONFIG_ERROR", "conversion timeouts must be positive", ErrInvalidInput)
	}
	if c.Conversion.Workers <= 0 || c.Conversion.PageConcurrency <= 0 {
		return NewAppError("CONFIG_ERROR", "CONVERT_WORKERS and CONVERT_PAGE_CONCURRENCY must be positive", ErrInvalidInput)
	}
	return nil
}
