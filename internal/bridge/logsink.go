package bridge

import (
	"go.uber.org/zap"

	"github.com/chaz8081/ecotherm/internal/thermostat"
)

// LogSink writes device output to a zap logger.
type LogSink struct {
	log *zap.Logger
}

// NewLogSink logs through log, or the global logger when log is nil.
func NewLogSink(log *zap.Logger) *LogSink {
	if log == nil {
		log = zap.L()
	}
	return &LogSink{log: log.Named("telemetry")}
}

func (s *LogSink) OnTelemetry(device string, t thermostat.Telemetry) {
	fields := []zap.Field{zap.String("device", device)}
	for _, e := range entities {
		if t.Has(e.Field) {
			fields = append(fields, zap.Any(e.Key, e.Value(t)))
		}
	}
	s.log.Info("telemetry", fields...)
}

func (s *LogSink) OnHealth(device string, problem bool) {
	if problem {
		s.log.Warn("device unhealthy", zap.String("device", device))
		return
	}
	s.log.Info("device healthy", zap.String("device", device))
}

func (s *LogSink) OnCommand(device string, cmd thermostat.Command, err error) {
	if err != nil {
		s.log.Error("command failed", zap.String("device", device), zap.Stringer("command", cmd), zap.Error(err))
		return
	}
	s.log.Info("command applied", zap.String("device", device), zap.Stringer("command", cmd))
}
