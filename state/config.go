package state

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Path         string `yaml:"-"`
	TimeZone     string `yaml:"time_zone"`
	DebugMode    bool   `yaml:"debug_mode"`
	SilentDbLogs bool   `yaml:"silent_db_logs"`

	Provider struct {
		BaseURL               string   `yaml:"base_url"`
		APIKey                string   `yaml:"api_key"`
		RequestTimeoutSeconds int      `yaml:"request_timeout_seconds"`
		PollIntervalSeconds   int      `yaml:"poll_interval_seconds"`
		PairingTimeoutSeconds int      `yaml:"pairing_timeout_seconds"`
		ConnectedStatuses     []string `yaml:"connected_statuses"`
	} `yaml:"provider"`

	Connections struct {
		DefaultDepartmentName   string `yaml:"default_department_name"`
		WaitingPhonePlaceholder string `yaml:"waiting_phone_placeholder"`
	} `yaml:"connections"`

	Database map[string]string `yaml:"database"`
}

func (cfg *Config) LoadConfig() error {
	configFilePath := cfg.Path

	if _, err := os.Stat(configFilePath); err != nil {
		return fmt.Errorf("error with config file path : %s", err)
	}

	configFile, err := os.Open(configFilePath)
	if err != nil {
		return fmt.Errorf("could not open config file : %s", err)
	}
	defer configFile.Close()

	configBody, err := io.ReadAll(configFile)
	if err != nil {
		return fmt.Errorf("could not read config file : %s", err)
	}

	err = yaml.Unmarshal(configBody, cfg)
	if err != nil {
		return fmt.Errorf("could not parse config file : %s", err)
	}

	return nil
}

func (cfg *Config) SaveConfig() error {
	configBody, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("could not serialize config : %s", err)
	}

	err = os.WriteFile(cfg.Path, configBody, 0o644)
	if err != nil {
		return fmt.Errorf("could not write config file : %s", err)
	}

	return nil
}

func (cfg *Config) SetDefaults() {
	cfg.TimeZone = "UTC"

	cfg.Provider.RequestTimeoutSeconds = 15
	cfg.Provider.PollIntervalSeconds = 5
	cfg.Provider.PairingTimeoutSeconds = 180
	cfg.Provider.ConnectedStatuses = []string{"open", "connected", "inChat"}

	cfg.Connections.DefaultDepartmentName = "Atendimento Geral"
	cfg.Connections.WaitingPhonePlaceholder = "Aguardando..."

	cfg.Database = map[string]string{
		"type": "sqlite3",
		"url":  "file:waconsole.db?_foreign_keys=on",
	}
}
