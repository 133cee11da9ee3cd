package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Detector struct {
		ModelPath    string `yaml:"model_path"`
		MetadataPath string `yaml:"metadata_path"`
	} `yaml:"detector"`

	Classifier struct {
		ModelPath    string `yaml:"model_path"`
		MetadataPath string `yaml:"metadata_path"`
	} `yaml:"classifier"`

	Artifacts struct {
		ScratchDir        string `yaml:"scratch_dir"`
		OutputDir         string `yaml:"output_dir"`
		MaxUploadMB       int64  `yaml:"max_upload_mb"`
		RetentionMinutes  int64  `yaml:"retention_minutes"`
		SweepIntervalMins int64  `yaml:"sweep_interval_minutes"`
	} `yaml:"artifacts"`

	Video struct {
		TimeoutSeconds int64 `yaml:"timeout_seconds"`
		MaxConcurrent  int64 `yaml:"max_concurrent"`
	} `yaml:"video"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
}

// LoadConfig loads configuration from YAML file
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}

	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	// Set defaults
	if config.Server.Port == "" {
		config.Server.Port = "8502"
	}

	if config.Detector.ModelPath == "" {
		config.Detector.ModelPath = "./models/best.onnx"
	}
	if config.Detector.MetadataPath == "" {
		config.Detector.MetadataPath = "./models/best_metadata.json"
	}

	if config.Classifier.ModelPath == "" {
		config.Classifier.ModelPath = "./models/decision_tree.onnx"
	}
	if config.Classifier.MetadataPath == "" {
		config.Classifier.MetadataPath = "./models/decision_tree_metadata.json"
	}

	if config.Artifacts.ScratchDir == "" {
		config.Artifacts.ScratchDir = "./data/scratch"
	}
	if config.Artifacts.OutputDir == "" {
		config.Artifacts.OutputDir = "./data/outputs"
	}
	if config.Artifacts.MaxUploadMB == 0 {
		config.Artifacts.MaxUploadMB = 200
	}
	if config.Artifacts.RetentionMinutes == 0 {
		config.Artifacts.RetentionMinutes = 60
	}
	if config.Artifacts.SweepIntervalMins == 0 {
		config.Artifacts.SweepIntervalMins = 10
	}

	if config.Video.TimeoutSeconds == 0 {
		config.Video.TimeoutSeconds = 300
	}
	if config.Video.MaxConcurrent == 0 {
		config.Video.MaxConcurrent = 2
	}

	if config.Database.Path == "" {
		config.Database.Path = "./data/jobs.db"
	}

	// Expand environment variables in path-like values
	config.Detector.ModelPath = os.ExpandEnv(config.Detector.ModelPath)
	config.Detector.MetadataPath = os.ExpandEnv(config.Detector.MetadataPath)
	config.Classifier.ModelPath = os.ExpandEnv(config.Classifier.ModelPath)
	config.Classifier.MetadataPath = os.ExpandEnv(config.Classifier.MetadataPath)
	config.Artifacts.ScratchDir = os.ExpandEnv(config.Artifacts.ScratchDir)
	config.Artifacts.OutputDir = os.ExpandEnv(config.Artifacts.OutputDir)
	config.Database.Path = os.ExpandEnv(config.Database.Path)

	return config, nil
}
