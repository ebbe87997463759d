package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/trainchimp/finetune-orchestrator/internal/datasets"
)

// Config holds the application configuration for the fine-tune
// orchestrator service: its own HTTP server, Consul and NATS, the
// artifact store, the GPU provider, and the optional dataset storage.
type Config struct {
	Port           string        `yaml:"port"`
	LogLevel       string        `yaml:"log_level"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// Consul Configuration
	ConsulAddress       string        `yaml:"consul_address"`
	ServiceName         string        `yaml:"service_name"`
	ServiceIDPrefix     string        `yaml:"service_id_prefix"`
	ServiceTags         []string      `yaml:"service_tags"`
	HealthCheckPath     string        `yaml:"health_check_path"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
	HealthCheckTimeout  time.Duration `yaml:"health_check_timeout"`

	// NATS Configuration
	NatsAddress             string `yaml:"nats_address"`
	NatsStatusSubjectPrefix string `yaml:"nats_status_subject_prefix"`

	// Artifact store Configuration
	HubBaseURL        string        `yaml:"hub_base_url"`
	HubToken          string        `yaml:"hub_token"`
	HubNamespace      string        `yaml:"hub_namespace"`
	HubRequestTimeout time.Duration `yaml:"hub_request_timeout"`
	HubPrivateRepos   bool          `yaml:"hub_private_repos"`

	// GPU provider Configuration. PollInterval and MaxPollAttempts bound
	// the provisioning handshake (defaults: 10s x 30, a 5 minute ceiling).
	RunpodBaseURL   string        `yaml:"runpod_base_url"`
	RunpodAPIKey    string        `yaml:"runpod_api_key"`
	TrainerImage    string        `yaml:"trainer_image"`
	TrainerStartCmd string        `yaml:"trainer_start_cmd"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	MaxPollAttempts int           `yaml:"max_poll_attempts"`

	// TrainerEnv is passed opaquely to the remote training process.
	TrainerEnv map[string]string `yaml:"trainer_env"`

	// Dataset storage (optional; verification is skipped when the
	// endpoint is empty).
	DatasetStorage datasets.StorageConfig `yaml:"dataset_storage"`
}

// LoadConfig reads configuration from the given YAML file path.
// It creates a default config file if it doesn't exist.
func LoadConfig(path string) (*Config, error) {
	defaultConfig := &Config{
		Port:                ":8090",
		LogLevel:            "info",
		RequestTimeout:      30 * time.Second,
		ConsulAddress:       "localhost:8500",
		ServiceName:         "finetune-orchestrator",
		ServiceIDPrefix:     "finetune-orchestrator-",
		ServiceTags:         []string{"trainchimp", "finetune"},
		HealthCheckPath:     "/health",
		HealthCheckInterval: 10 * time.Second,
		HealthCheckTimeout:  2 * time.Second,

		NatsAddress:             "nats://localhost:4222",
		NatsStatusSubjectPrefix: "finetune.jobs.status",

		HubBaseURL:        "https://huggingface.co",
		HubRequestTimeout: 30 * time.Second,
		HubPrivateRepos:   true,

		RunpodBaseURL:   "https://rest.runpod.io/v1",
		TrainerImage:    "trainchimp/lora-trainer:latest",
		PollInterval:    10 * time.Second,
		MaxPollAttempts: 30,
	}

	_, err := os.Stat(path)
	if os.IsNotExist(err) {
		data, marshalErr := yaml.Marshal(defaultConfig)
		if marshalErr != nil {
			return nil, fmt.Errorf("failed to marshal default config: %w", marshalErr)
		}
		if mkdirErr := os.MkdirAll(filepath.Dir(path), 0755); mkdirErr != nil {
			return nil, fmt.Errorf("failed to create config directory: %w", mkdirErr)
		}
		if writeErr := os.WriteFile(path, data, 0644); writeErr != nil {
			return nil, fmt.Errorf("failed to write default config file: %w", writeErr)
		}
		return defaultConfig, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to check config file: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config data: %w", err)
	}

	applyDefaultsIfNotSet(&cfg, defaultConfig)

	return &cfg, nil
}

func applyDefaultsIfNotSet(cfg *Config, defaults *Config) {
	if cfg.Port == "" {
		cfg.Port = defaults.Port
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaults.LogLevel
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = defaults.RequestTimeout
	}
	if cfg.ConsulAddress == "" {
		cfg.ConsulAddress = defaults.ConsulAddress
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = defaults.ServiceName
	}
	if cfg.ServiceIDPrefix == "" {
		cfg.ServiceIDPrefix = defaults.ServiceIDPrefix
	}
	if len(cfg.ServiceTags) == 0 {
		cfg.ServiceTags = defaults.ServiceTags
	}
	if cfg.HealthCheckPath == "" {
		cfg.HealthCheckPath = defaults.HealthCheckPath
	}
	if cfg.HealthCheckInterval == 0 {
		cfg.HealthCheckInterval = defaults.HealthCheckInterval
	}
	if cfg.HealthCheckTimeout == 0 {
		cfg.HealthCheckTimeout = defaults.HealthCheckTimeout
	}
	if cfg.NatsAddress == "" {
		cfg.NatsAddress = defaults.NatsAddress
	}
	if cfg.NatsStatusSubjectPrefix == "" {
		cfg.NatsStatusSubjectPrefix = defaults.NatsStatusSubjectPrefix
	}
	if cfg.HubBaseURL == "" {
		cfg.HubBaseURL = defaults.HubBaseURL
	}
	if cfg.HubRequestTimeout == 0 {
		cfg.HubRequestTimeout = defaults.HubRequestTimeout
	}
	if cfg.RunpodBaseURL == "" {
		cfg.RunpodBaseURL = defaults.RunpodBaseURL
	}
	if cfg.TrainerImage == "" {
		cfg.TrainerImage = defaults.TrainerImage
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if cfg.MaxPollAttempts == 0 {
		cfg.MaxPollAttempts = defaults.MaxPollAttempts
	}
}

func GenerateServiceID(prefix string) string {
	return prefix + uuid.New().String()
}
