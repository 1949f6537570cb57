package bootstrap

import (
	"signal_trader/pkg/logging"
)

// InitLogger builds the process logger from configuration and installs it globally
func InitLogger(cfg *Config) (*logging.ZapLogger, error) {
	logger, err := logging.NewZapLoggerWithOptions(logging.Options{
		Level:       cfg.System.LogLevel,
		ServiceName: cfg.Telemetry.ServiceName,
		File:        cfg.System.LogFile,
		MaxSizeMB:   cfg.System.LogMaxSizeMB,
	})
	if err != nil {
		return nil, err
	}
	logging.SetGlobalLogger(logger)
	return logger, nil
}
