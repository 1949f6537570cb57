package telemetry

import (
	"fmt"

	"signal_trader/internal/core"

	pyroscope "github.com/grafana/pyroscope-go"
)

// ProfilingConfig configures continuous profiling
type ProfilingConfig struct {
	ApplicationName string
	ServerAddress   string
	Tags            map[string]string
}

// StartProfiling starts a pyroscope profiler. Callers must Stop it on shutdown.
func StartProfiling(cfg ProfilingConfig, logger core.ILogger) (*pyroscope.Profiler, error) {
	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: cfg.ApplicationName,
		ServerAddress:   cfg.ServerAddress,
		Tags:            cfg.Tags,
		Logger:          pyroscopeLogger{logger: logger},
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("pyroscope start failed: %w", err)
	}
	return profiler, nil
}

type pyroscopeLogger struct {
	logger core.ILogger
}

func (l pyroscopeLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l pyroscopeLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l pyroscopeLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}
