package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port            int
	MaxUploadBytes  int64
	ShutdownTimeout time.Duration

	ModelPath         string
	MetadataPath      string
	OnnxRuntimeLib    string
	ModelName         string
	ModelArchitecture string

	LogLevel       string
	LogDevelopment bool
}

type configFile struct {
	Server struct {
		Port                   int   `yaml:"port"`
		MaxUploadBytes         int64 `yaml:"max_upload_bytes"`
		ShutdownTimeoutSeconds int   `yaml:"shutdown_timeout_seconds"`
	} `yaml:"server"`
	Model struct {
		Path           string `yaml:"path"`
		MetadataPath   string `yaml:"metadata_path"`
		OnnxRuntimeLib string `yaml:"onnxruntime_lib"`
		Name           string `yaml:"name"`
		Architecture   string `yaml:"architecture"`
	} `yaml:"model"`
	Log struct {
		Level       string `yaml:"level"`
		Development *bool  `yaml:"development"`
	} `yaml:"log"`
}

func Default() Config {
	return Config{
		Port:              5000,
		MaxUploadBytes:    32 << 20,
		ShutdownTimeout:   10 * time.Second,
		ModelPath:         "models/best_model.onnx",
		MetadataPath:      "models/model_metadata.json",
		ModelName:         "Hurricane Harvey Building Damage Classifier",
		ModelArchitecture: "Best performing model from training",
		LogLevel:          "info",
	}
}

// LoadConfig applies the YAML file at path (if it exists) and then the
// environment on top of the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := cfg.apply(raw); err != nil {
				return Config{}, err
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg.Port = envInt("PORT", cfg.Port)
	cfg.MaxUploadBytes = int64(envInt("MAX_UPLOAD_BYTES", int(cfg.MaxUploadBytes)))
	cfg.ShutdownTimeout = time.Duration(envInt("SHUTDOWN_TIMEOUT_SECONDS", int(cfg.ShutdownTimeout/time.Second))) * time.Second
	cfg.ModelPath = envOrDefault("MODEL_PATH", cfg.ModelPath)
	cfg.MetadataPath = envOrDefault("MODEL_METADATA_PATH", cfg.MetadataPath)
	cfg.OnnxRuntimeLib = envOrDefault("ONNXRUNTIME_LIB", cfg.OnnxRuntimeLib)
	cfg.ModelName = envOrDefault("MODEL_NAME", cfg.ModelName)
	cfg.ModelArchitecture = envOrDefault("MODEL_ARCHITECTURE", cfg.ModelArchitecture)
	cfg.LogLevel = envOrDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.LogDevelopment = envBool("LOG_DEVELOPMENT", cfg.LogDevelopment)

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return Config{}, fmt.Errorf("invalid port %d", cfg.Port)
	}
	if cfg.MaxUploadBytes <= 0 {
		return Config{}, fmt.Errorf("invalid max upload bytes %d", cfg.MaxUploadBytes)
	}
	return cfg, nil
}

func (c *Config) apply(raw []byte) error {
	var f configFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	if f.Server.Port > 0 {
		c.Port = f.Server.Port
	}
	if f.Server.MaxUploadBytes > 0 {
		c.MaxUploadBytes = f.Server.MaxUploadBytes
	}
	if f.Server.ShutdownTimeoutSeconds > 0 {
		c.ShutdownTimeout = time.Duration(f.Server.ShutdownTimeoutSeconds) * time.Second
	}
	if f.Model.Path != "" {
		c.ModelPath = f.Model.Path
	}
	if f.Model.MetadataPath != "" {
		c.MetadataPath = f.Model.MetadataPath
	}
	if f.Model.OnnxRuntimeLib != "" {
		c.OnnxRuntimeLib = f.Model.OnnxRuntimeLib
	}
	if f.Model.Name != "" {
		c.ModelName = f.Model.Name
	}
	if f.Model.Architecture != "" {
		c.ModelArchitecture = f.Model.Architecture
	}
	if f.Log.Level != "" {
		c.LogLevel = f.Log.Level
	}
	if f.Log.Development != nil {
		c.LogDevelopment = *f.Log.Development
	}
	return nil
}

func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func envOrDefault(name, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(name)); value != "" {
		return value
	}
	return fallback
}

func envInt(name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func envBool(name string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}
