package rtc

import (
	"fmt"

	"github.com/pion/logging"
	"go.uber.org/zap/zapcore"

	"github.com/livekit/protocol/logger"
)

// implements logging.LoggerFactory
type loggerFactory struct {
	logger logger.Logger
	level  zapcore.Level
}

// NewLoggerFactory routes pion's internal logging into l. Messages below
// level are dropped; an unparsable level keeps pion at warn.
func NewLoggerFactory(l logger.Logger, level string) logging.LoggerFactory {
	lvl := zapcore.WarnLevel
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			lvl = zapcore.WarnLevel
		}
	}
	return &loggerFactory{
		logger: l.WithName("pion"),
		level:  lvl,
	}
}

func (f *loggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &logAdapter{
		logger: f.logger.WithValues("scope", scope),
		level:  f.level,
	}
}

// implements logging.LeveledLogger
type logAdapter struct {
	logger logger.Logger
	level  zapcore.Level
}

func (l *logAdapter) Trace(msg string) {
	// ignore trace
}

func (l *logAdapter) Tracef(format string, args ...interface{}) {
	// ignore trace
}

func (l *logAdapter) Debug(msg string) {
	if l.level > zapcore.DebugLevel {
		return
	}
	l.logger.Debugw(msg)
}

func (l *logAdapter) Debugf(format string, args ...interface{}) {
	l.Debug(fmt.Sprintf(format, args...))
}

func (l *logAdapter) Info(msg string) {
	if l.level > zapcore.InfoLevel {
		return
	}
	l.logger.Infow(msg)
}

func (l *logAdapter) Infof(format string, args ...interface{}) {
	l.Info(fmt.Sprintf(format, args...))
}

func (l *logAdapter) Warn(msg string) {
	if l.level > zapcore.WarnLevel {
		return
	}
	l.logger.Warnw(msg, nil)
}

func (l *logAdapter) Warnf(format string, args ...interface{}) {
	l.Warn(fmt.Sprintf(format, args...))
}

func (l *logAdapter) Error(msg string) {
	if l.level > zapcore.ErrorLevel {
		return
	}
	l.logger.Errorw(msg, nil)
}

func (l *logAdapter) Errorf(format string, args ...interface{}) {
	l.Error(fmt.Sprintf(format, args...))
}
