package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	configDirName    = ".crmsync"
	configFileName   = "config.yaml"
	databaseFileName = "crmsync.db"
	localDriver      = "sqlite3"
	tokenFileName    = "token"
)

// LocalConfig holds configuration loaded from a local file.
type LocalConfig struct {
	Database   Database
	Salesforce Salesforce
	Sync       Sync
}

// localConfig represents the local configuration file structure.
type localConfig struct {
	Database   localDatabase   `yaml:"database"`
	Salesforce localSalesforce `yaml:"salesforce"`
	Sync       localSync       `yaml:"sync"`
}

// localDatabase represents the database section of the config file.
type localDatabase struct {
	Driver string `yaml:"driver"`
	URL    string `yaml:"url"`
}

// localSalesforce represents the salesforce section of the config file.
type localSalesforce struct {
	APIVersion   string `yaml:"api_version"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	InstanceURL  string `yaml:"instance_url"`
	TokenURL     string `yaml:"token_url"`
}

// localSync represents the sync section of the config file.
type localSync struct {
	BatchSize int      `yaml:"batch_size"`
	Entities  []string `yaml:"entities"`
	Mode      string   `yaml:"mode"`
}

// ConfigDir returns the crmsync configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, configDirName), nil
}

// ConfigFilePath returns the path to the local config file.
func ConfigFilePath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFileName), nil
}

// DefaultDatabasePath returns the path of the local SQLite database used when none is configured.
func DefaultDatabasePath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, databaseFileName), nil
}

// LoadLocal loads configuration from the local config file.
func LoadLocal() (*LocalConfig, error) {
	configPath, err := ConfigFilePath()
	if err != nil {
		return nil, err
	}
	return LoadLocalFrom(configPath)
}

// LoadLocalFrom loads configuration from the config file at configPath.
// A missing database section falls back to a SQLite file in the config directory.
func LoadLocalFrom(configPath string) (*LocalConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s (run 'crmsync init' to create)", configPath)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var local localConfig
	if err := yaml.Unmarshal(data, &local); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg := &LocalConfig{
		Database: Database{
			Driver: local.Database.Driver,
			URL:    local.Database.URL,
		},
		Salesforce: Salesforce{
			APIVersion:   local.Salesforce.APIVersion,
			ClientID:     local.Salesforce.ClientID,
			ClientSecret: local.Salesforce.ClientSecret,
			InstanceURL:  local.Salesforce.InstanceURL,
			TokenURL:     local.Salesforce.TokenURL,
		},
		Sync: Sync{
			BatchSize:        local.Sync.BatchSize,
			Entities:         local.Sync.Entities,
			Mode:             local.Sync.Mode,
			WatermarkBackend: BackendSQL,
		},
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = localDriver
	}
	if cfg.Database.URL == "" {
		cfg.Database.URL = filepath.Join(filepath.Dir(configPath), databaseFileName)
	}
	if cfg.Salesforce.APIVersion == "" {
		cfg.Salesforce.APIVersion = defaultAPIVersion
	}
	if cfg.Salesforce.TokenURL == "" {
		cfg.Salesforce.TokenURL = defaultTokenURL
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// LocalConfigExists checks if a local config file exists.
func LocalConfigExists() bool {
	configPath, err := ConfigFilePath()
	if err != nil {
		return false
	}
	_, err = os.Stat(configPath)
	return err == nil
}

// TokenFilePath returns the path to the local token file.
func TokenFilePath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, tokenFileName), nil
}

// validate checks that required fields are set.
func (c *LocalConfig) validate() error {
	var errs []error

	if c.Salesforce.ClientID == "" {
		errs = append(errs, errors.New("salesforce.client_id is required"))
	}
	if c.Salesforce.ClientSecret == "" {
		errs = append(errs, errors.New("salesforce.client_secret is required"))
	}
	if c.Salesforce.InstanceURL == "" {
		errs = append(errs, errors.New("salesforce.instance_url is required"))
	}
	if c.Sync.BatchSize < 0 {
		errs = append(errs, errors.New("sync.batch_size must not be negative"))
	}

	return errors.Join(errs...)
}
