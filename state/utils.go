package state

import (
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type state struct {
	Config        *Config
	Logger        *zap.Logger
	Database      *gorm.DB
	LocalLocation *time.Location
	StartTime     time.Time
}

var State = &state{
	Config: &Config{Path: "config.yaml"},
}

// PollInterval returns the configured poll cadence for pairing sessions.
func (s *state) PollInterval() time.Duration {
	return time.Duration(s.Config.Provider.PollIntervalSeconds) * time.Second
}

// PairingTimeout returns the configured deadline for one pairing attempt.
func (s *state) PairingTimeout() time.Duration {
	return time.Duration(s.Config.Provider.PairingTimeoutSeconds) * time.Second
}
