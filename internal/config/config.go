// Package config loads the PodCleaner configuration from YAML and the
// environment.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// LLM configures the ad-detection classifier.
type LLM struct {
	ModelName   string  `yaml:"model_name"`
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	ChunkSize   int     `yaml:"chunk_size"`
	MaxAttempts int     `yaml:"max_attempts"`
	Temperature float64 `yaml:"temperature"`

	// Heuristic coalescing cues. The defaults are the German phrase sets
	// the detector was originally tuned on.
	TransitionPhrases     []string `yaml:"transition_phrases"`
	PromotionalIndicators []string `yaml:"promotional_indicators"`
}

// Audio configures interval merging and the download directory.
type Audio struct {
	MinDuration float64 `yaml:"min_duration"`
	MaxGap      float64 `yaml:"max_gap"`
	DownloadDir string  `yaml:"download_dir"`
}

// Transcriber configures the speech recognition backend.
type Transcriber struct {
	WhisperURL string `yaml:"whisper_url"`
}

// MQTT configures the external broker transport.
type MQTT struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	ClientID string `yaml:"client_id"`
}

// MessageBroker selects and configures the bus implementation.
type MessageBroker struct {
	Type string `yaml:"type"` // "in_memory" or "mqtt"
	MQTT MQTT   `yaml:"mqtt"`
}

// WebServer configures the HTTP front-end.
type WebServer struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	UseHTTPS bool   `yaml:"use_https"`
}

// ObjectStorage configures the blob store backend.
type ObjectStorage struct {
	Provider         string `yaml:"provider"` // "local", "s3" or "minio"
	BucketName       string `yaml:"bucket_name"`
	Region           string `yaml:"region"`
	EndpointURL      string `yaml:"endpoint_url"`
	AccessKey        string `yaml:"access_key"`
	SecretKey        string `yaml:"secret_key"`
	LocalStoragePath string `yaml:"local_storage_path"`
	ConnectTimeout   int    `yaml:"connect_timeout"`
	ReadTimeout      int    `yaml:"read_timeout"`
	MaxRetries       int    `yaml:"max_retries"`
}

// Config is the root configuration document.
type Config struct {
	LLM           LLM           `yaml:"llm"`
	Audio         Audio         `yaml:"audio"`
	Transcriber   Transcriber   `yaml:"transcriber"`
	MessageBroker MessageBroker `yaml:"message_broker"`
	WebServer     WebServer     `yaml:"web_server"`
	ObjectStorage ObjectStorage `yaml:"object_storage"`
	LogLevel      string        `yaml:"log_level"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LLM: LLM{
			ModelName:   "gpt-4o-mini",
			ChunkSize:   600,
			MaxAttempts: 3,
			Temperature: 0.1,
			TransitionPhrases: []string{
				"nach einer kurzen unterbrechung",
				"bleiben sie dran",
				"wir sind gleich wieder da",
				"gleich geht es weiter",
			},
			PromotionalIndicators: []string{
				"tickets",
				"infos",
				"anmeldung",
				"weitere informationen",
				"sparen sie",
				"rabatt",
				"vorteilscode",
				"jetzt buchen",
				"besuchen sie",
				"mehr erfahren",
			},
		},
		Audio: Audio{
			MinDuration: 5.0,
			MaxGap:      20.0,
			DownloadDir: "podcasts",
		},
		Transcriber: Transcriber{WhisperURL: "http://localhost:9000"},
		MessageBroker: MessageBroker{
			Type: "in_memory",
			MQTT: MQTT{Host: "localhost", Port: 1883},
		},
		WebServer: WebServer{Host: "localhost", Port: 8080},
		ObjectStorage: ObjectStorage{
			Provider:         "local",
			LocalStoragePath: "storage",
			ConnectTimeout:   5,
			ReadTimeout:      30,
			MaxRetries:       3,
		},
		LogLevel: "INFO",
	}
}

// Load reads the configuration file at path (when it exists) on top of the
// defaults, then applies environment overrides. A missing file is not an
// error; the defaults apply.
func Load(path string) (Config, error) {
	// .env files are a convenience for local runs; absence is fine.
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the enumerated option fields.
func (c Config) Validate() error {
	switch c.MessageBroker.Type {
	case "in_memory", "mqtt":
	default:
		return fmt.Errorf("unknown message broker type %q", c.MessageBroker.Type)
	}
	switch c.ObjectStorage.Provider {
	case "local", "s3", "minio":
	default:
		return fmt.Errorf("unknown object storage provider %q", c.ObjectStorage.Provider)
	}
	if c.ObjectStorage.Provider != "local" && c.ObjectStorage.BucketName == "" {
		return fmt.Errorf("object storage provider %q requires a bucket name", c.ObjectStorage.Provider)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.LLM.APIKey = envWithDefault("OPENAI_API_KEY", cfg.LLM.APIKey)
	cfg.LLM.BaseURL = envWithDefault("OPENAI_BASE_URL", cfg.LLM.BaseURL)
	cfg.Transcriber.WhisperURL = envWithDefault("WHISPER_URL", cfg.Transcriber.WhisperURL)
	cfg.ObjectStorage.AccessKey = envWithDefault("AWS_ACCESS_KEY_ID", cfg.ObjectStorage.AccessKey)
	cfg.ObjectStorage.SecretKey = envWithDefault("AWS_SECRET_ACCESS_KEY", cfg.ObjectStorage.SecretKey)
	cfg.MessageBroker.MQTT.Host = envWithDefault("MQTT_HOST", cfg.MessageBroker.MQTT.Host)
	cfg.MessageBroker.MQTT.Port = envIntWithDefault("MQTT_PORT", cfg.MessageBroker.MQTT.Port)
	cfg.LogLevel = envWithDefault("PODCLEANER_LOG_LEVEL", cfg.LogLevel)
}

func envWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func envIntWithDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
