package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapAdapter is a zapcore.Core that forwards entries to a Logger, so the
// docking engines log through the service logger.
type ZapAdapter struct {
	logger *Logger
}

// NewZapAdapter creates a new zapcore.Core that forwards logs to logger.
func NewZapAdapter(logger *Logger) *ZapAdapter {
	return &ZapAdapter{logger: logger}
}

func levelOf(level zapcore.Level) LogLevel {
	switch level {
	case zapcore.DebugLevel:
		return DebugLevel
	case zapcore.InfoLevel:
		return InfoLevel
	case zapcore.WarnLevel:
		return WarnLevel
	case zapcore.FatalLevel:
		return FatalLevel
	default:
		return ErrorLevel
	}
}

// Enabled implements zapcore.Core.
func (a *ZapAdapter) Enabled(level zapcore.Level) bool {
	return a.logger.shouldLog(levelOf(level))
}

// fieldMap encodes fields with zap's own encoder so every field type keeps
// its value.
func fieldMap(fields []zapcore.Field) map[string]interface{} {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range fields {
		f.AddTo(enc)
	}
	return enc.Fields
}

// With implements zapcore.Core.
func (a *ZapAdapter) With(fields []zapcore.Field) zapcore.Core {
	return &ZapAdapter{logger: a.logger.WithFields(fieldMap(fields))}
}

// Check implements zapcore.Core.
func (a *ZapAdapter) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if a.Enabled(ent.Level) {
		return ce.AddCore(ent, a)
	}
	return ce
}

// Write implements zapcore.Core. Fatal entries exit through the Logger.
func (a *ZapAdapter) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	f := fieldMap(fields)
	if ent.LoggerName != "" {
		f["logger"] = ent.LoggerName
	}
	caller := ""
	if ent.Caller.Defined {
		caller = ent.Caller.TrimmedPath()
	}
	a.logger.log(levelOf(ent.Level), ent.Message, f, caller)
	return nil
}

// Sync implements zapcore.Core.
func (a *ZapAdapter) Sync() error {
	return nil
}

// NewZapLogger creates a *zap.Logger that forwards logs to logger.
func NewZapLogger(logger *Logger) *zap.Logger {
	return zap.New(NewZapAdapter(logger), zap.AddCaller())
}
